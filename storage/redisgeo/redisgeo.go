// Package redisgeo is a location index backed by Redis GEO sets, one
// sorted set per role.
package redisgeo

import (
	"context"
	"sort"

	"github.com/go-redis/redis/v8"

	"roadassist/config"
	"roadassist/pkg/errs"
	"roadassist/pkg/logger"
	"roadassist/pkg/models"
	"roadassist/storage"
)

const keyPrefix = "geo:"

type Index struct {
	client *redis.Client
	log    logger.ILogger
}

var _ storage.ILocationIndex = (*Index)(nil)

func New(ctx context.Context, cfg config.Config, log logger.ILogger) (*Index, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		log.Error("failed to connect Redis", logger.String("addr", cfg.RedisAddr()), logger.Error(err))
		return nil, err
	}
	log.Info("Redis geo index connected", logger.String("addr", cfg.RedisAddr()))
	return &Index{client: client, log: log}, nil
}

func key(role string) string {
	return keyPrefix + role
}

func (i *Index) UpsertLocation(ctx context.Context, principalID, role string, p models.Point) error {
	err := i.client.GeoAdd(ctx, key(role), &redis.GeoLocation{
		Name:      principalID,
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
	if err != nil {
		i.log.Error("geoadd failed", logger.String("principal_id", principalID), logger.Error(err))
		return errs.Persistence("geoadd", err)
	}
	return nil
}

func (i *Index) RemoveLocation(ctx context.Context, principalID, role string) error {
	if err := i.client.ZRem(ctx, key(role), principalID).Err(); err != nil {
		return errs.Persistence("zrem", err)
	}
	return nil
}

func (i *Index) Nearby(ctx context.Context, role string, p models.Point, maxMeters float64, limit int) ([]models.Candidate, error) {
	q := &redis.GeoRadiusQuery{
		Radius:   maxMeters,
		Unit:     "m",
		WithDist: true,
		Sort:     "ASC",
	}
	if limit > 0 {
		q.Count = limit
	}
	locs, err := i.client.GeoRadius(ctx, key(role), p.Lng, p.Lat, q).Result()
	if err != nil {
		i.log.Error("georadius failed", logger.String("role", role), logger.Error(err))
		return nil, errs.Persistence("georadius", err)
	}
	return toCandidates(locs), nil
}

// toCandidates breaks distance ties by principal id so results match the
// SQL index ordering.
func toCandidates(locs []redis.GeoLocation) []models.Candidate {
	out := make([]models.Candidate, 0, len(locs))
	for _, l := range locs {
		out = append(out, models.Candidate{PrincipalID: l.Name, DistanceMeters: l.Dist})
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].DistanceMeters != out[b].DistanceMeters {
			return out[a].DistanceMeters < out[b].DistanceMeters
		}
		return out[a].PrincipalID < out[b].PrincipalID
	})
	return out
}

func (i *Index) Close() error {
	return i.client.Close()
}
