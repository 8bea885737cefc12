package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"roadassist/pkg/errs"
	"roadassist/pkg/logger"
	"roadassist/pkg/models"
	"roadassist/storage"
)

const userColumns = `id, role, full_name, approved, active, lng, lat, rating, review_count, bookings_used, entitlement, updated_at`

type userRepo struct {
	db  *pgxpool.Pool
	log logger.ILogger
}

func NewUserRepo(db *pgxpool.Pool, log logger.ILogger) storage.IUserStorage {
	return &userRepo{db: db, log: log}
}

func scanUser(row pgx.Row) (*models.Principal, error) {
	var u models.Principal
	var lng, lat *float64
	var entitlement []byte
	err := row.Scan(
		&u.ID, &u.Role, &u.FullName, &u.Approved, &u.Active, &lng, &lat,
		&u.Rating, &u.ReviewCount, &u.BookingsUsed, &entitlement, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lng != nil && lat != nil {
		u.Location = &models.Point{Lng: *lng, Lat: *lat}
	}
	if err := decodeJSON(entitlement, &u.Entitlement); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) Upsert(ctx context.Context, p *models.Principal) error {
	entitlement, err := jsonArg(p.Entitlement, false)
	if err != nil {
		return errs.Persistence("encode entitlement", err)
	}
	var lng, lat *float64
	if p.Location != nil {
		lng, lat = &p.Location.Lng, &p.Location.Lat
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO users (id, role, full_name, approved, active, lng, lat, entitlement, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET role = EXCLUDED.role,
			full_name = EXCLUDED.full_name,
			approved = EXCLUDED.approved,
			active = EXCLUDED.active,
			lng = COALESCE(EXCLUDED.lng, users.lng),
			lat = COALESCE(EXCLUDED.lat, users.lat),
			entitlement = EXCLUDED.entitlement,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.db.Exec(ctx, query, p.ID, p.Role, p.FullName, p.Approved, p.Active, lng, lat, entitlement, updatedAt)
	if err != nil {
		r.log.Error("failed to upsert user", logger.String("principal_id", p.ID), logger.Error(err))
		return errs.Persistence("upsert user", err)
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*models.Principal, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, errs.ErrNotFound
		}
		r.log.Error("failed to get user by id", logger.String("principal_id", id), logger.Error(err))
		return nil, errs.Persistence("get user", err)
	}
	return u, nil
}

func (r *userRepo) GetByIDs(ctx context.Context, ids []string) ([]*models.Principal, error) {
	if len(ids) == 0 {
		return []*models.Principal{}, nil
	}
	return r.scanUsers(ctx, "get users by ids", `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, ids)
}

func (r *userRepo) GetByRole(ctx context.Context, role string) ([]*models.Principal, error) {
	return r.scanUsers(ctx, "get users by role", `SELECT `+userColumns+` FROM users WHERE role = $1 ORDER BY id`, role)
}

func (r *userRepo) scanUsers(ctx context.Context, op, query string, args ...interface{}) ([]*models.Principal, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errs.Persistence(op, err)
	}
	defer rows.Close()

	users := []*models.Principal{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, errs.Persistence(op, err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Persistence(op, err)
	}
	return users, nil
}

func (r *userRepo) ReserveBookingSlot(ctx context.Context, id string, limit int) error {
	res, err := r.db.Exec(ctx, "UPDATE users SET bookings_used = bookings_used + 1 WHERE id = $1 AND bookings_used < $2", id, limit)
	if err != nil {
		return errs.Persistence("reserve booking slot", err)
	}
	if res.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return errs.ErrQuotaExceeded
	}
	return nil
}

func (r *userRepo) ReleaseBookingSlot(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, "UPDATE users SET bookings_used = bookings_used - 1 WHERE id = $1 AND bookings_used > 0", id)
	if err != nil {
		return errs.Persistence("release booking slot", err)
	}
	return nil
}

func (r *userRepo) RefreshRating(ctx context.Context, providerID string) (float64, int, error) {
	query := `
		UPDATE users u
		SET rating = agg.avg, review_count = agg.cnt
		FROM (
			SELECT COALESCE(AVG((rating->>'value')::numeric), 0)::double precision AS avg, COUNT(*)::int AS cnt
			FROM bookings
			WHERE provider_id = $1 AND rating IS NOT NULL
		) agg
		WHERE u.id = $1
		RETURNING u.rating, u.review_count
	`
	var avg float64
	var count int
	if err := r.db.QueryRow(ctx, query, providerID).Scan(&avg, &count); err != nil {
		if isNoRows(err) {
			return 0, 0, errs.ErrNotFound
		}
		r.log.Error("failed to refresh rating", logger.String("principal_id", providerID), logger.Error(err))
		return 0, 0, errs.Persistence("refresh rating", err)
	}
	return avg, count, nil
}
