package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"roadassist/pkg/errs"
	"roadassist/pkg/logger"
	"roadassist/pkg/models"
	"roadassist/storage"
)

// locationRepo is the fallback location index: it keeps coordinates on the
// users row and answers radius queries with a haversine expression.
type locationRepo struct {
	db  *pgxpool.Pool
	log logger.ILogger
}

func NewLocationRepo(db *pgxpool.Pool, log logger.ILogger) storage.ILocationIndex {
	return &locationRepo{db: db, log: log}
}

func (r *locationRepo) UpsertLocation(ctx context.Context, principalID, role string, p models.Point) error {
	res, err := r.db.Exec(ctx, "UPDATE users SET lng = $3, lat = $4 WHERE id = $1 AND role = $2", principalID, role, p.Lng, p.Lat)
	if err != nil {
		return errs.Persistence("upsert location", err)
	}
	if res.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *locationRepo) RemoveLocation(ctx context.Context, principalID, role string) error {
	_, err := r.db.Exec(ctx, "UPDATE users SET lng = NULL, lat = NULL WHERE id = $1 AND role = $2", principalID, role)
	if err != nil {
		return errs.Persistence("remove location", err)
	}
	return nil
}

func (r *locationRepo) Nearby(ctx context.Context, role string, p models.Point, maxMeters float64, limit int) ([]models.Candidate, error) {
	query := `
		SELECT id, dist FROM (
			SELECT id, 2 * 6371000 * asin(LEAST(1, sqrt(
				power(sin(radians(lat - $3) / 2), 2) +
				cos(radians($3)) * cos(radians(lat)) * power(sin(radians(lng - $2) / 2), 2)
			))) AS dist
			FROM users
			WHERE role = $1 AND lng IS NOT NULL AND lat IS NOT NULL
		) t
		WHERE dist <= $4
		ORDER BY dist ASC, id ASC
		LIMIT $5
	`
	rows, err := r.db.Query(ctx, query, role, p.Lng, p.Lat, maxMeters, limitArg(limit))
	if err != nil {
		r.log.Error("nearby query failed", logger.String("role", role), logger.Error(err))
		return nil, errs.Persistence("nearby", err)
	}
	defer rows.Close()

	candidates := []models.Candidate{}
	for rows.Next() {
		var c models.Candidate
		if err := rows.Scan(&c.PrincipalID, &c.DistanceMeters); err != nil {
			return nil, errs.Persistence("nearby", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Persistence("nearby", err)
	}
	return candidates, nil
}
