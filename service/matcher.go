package service

import (
	"context"
	"math"
	"sort"

	"roadassist/pkg/errs"
	"roadassist/pkg/logger"
	"roadassist/pkg/models"
)

type NearbyQuery struct {
	Point             models.Point
	Role              string
	MaxDistanceMeters float64
	Limit             int
	// Filter is the approval/active predicate; nil accepts every principal of Role.
	Filter func(*models.Principal) bool
}

type MatcherService interface {
	FindNearby(ctx context.Context, q NearbyQuery) ([]models.Match, error)
}

type matcherService struct {
	*deps
}

func newMatcherService(d *deps) MatcherService {
	return &matcherService{deps: d}
}

// FindNearby returns principals of q.Role within q.MaxDistanceMeters,
// nearest first with ties broken by id. The limit applies after filtering.
func (s *matcherService) FindNearby(ctx context.Context, q NearbyQuery) ([]models.Match, error) {
	if err := q.Point.Validate(); err != nil {
		return nil, err
	}
	if q.Role == "" {
		return nil, errs.Invalid("role filter is required")
	}
	if math.IsNaN(q.MaxDistanceMeters) || q.MaxDistanceMeters <= 0 {
		return nil, errs.Invalid("max distance must be positive")
	}

	candidates, err := s.index.Nearby(ctx, q.Role, q.Point, q.MaxDistanceMeters, 0)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []models.Match{}, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.PrincipalID
	}
	principals, err := s.stg.User().GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Principal, len(principals))
	for _, p := range principals {
		byID[p.ID] = p
	}

	matches := make([]models.Match, 0, len(candidates))
	for _, c := range candidates {
		p, ok := byID[c.PrincipalID]
		if !ok {
			s.log.Debug("index entry without principal", logger.String("principal_id", c.PrincipalID))
			continue
		}
		if p.Role != q.Role || c.DistanceMeters > q.MaxDistanceMeters {
			continue
		}
		if q.Filter != nil && !q.Filter(p) {
			continue
		}
		matches = append(matches, models.Match{Principal: p, DistanceMeters: c.DistanceMeters})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].DistanceMeters != matches[j].DistanceMeters {
			return matches[i].DistanceMeters < matches[j].DistanceMeters
		}
		return matches[i].Principal.ID < matches[j].Principal.ID
	})
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches, nil
}
