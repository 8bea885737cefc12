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

const bookingColumns = `id, requester_id, provider_id, status, priority, category, description, is_emergency,
	attachments, lng, lat, address, requires_towing, towing,
	payment_amount, payment_status, payment_discount, payment_ref, payment_refund,
	dispute, rating, quota_counted, cancelled_by, cancel_reason, created_at, updated_at`

type bookingRepo struct {
	db  *pgxpool.Pool
	log logger.ILogger
}

func NewBookingRepo(db *pgxpool.Pool, log logger.ILogger) storage.IBookingStorage {
	return &bookingRepo{db: db, log: log}
}

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var b models.Booking
	var attachments, towing, dispute, rating []byte
	err := row.Scan(
		&b.ID, &b.RequesterID, &b.ProviderID, &b.Status, &b.Priority, &b.Category, &b.Description, &b.IsEmergency,
		&attachments, &b.Location.Point.Lng, &b.Location.Point.Lat, &b.Location.Address, &b.RequiresTowing, &towing,
		&b.Payment.Amount, &b.Payment.Status, &b.Payment.DiscountPercent, &b.Payment.TransactionRef, &b.Payment.RefundAmount,
		&dispute, &rating, &b.QuotaCounted, &b.CancelledBy, &b.CancelReason, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(attachments, &b.Attachments); err != nil {
		return nil, err
	}
	if len(towing) > 0 {
		b.Towing = &models.Towing{}
		if err := decodeJSON(towing, b.Towing); err != nil {
			return nil, err
		}
	}
	if len(dispute) > 0 {
		b.Dispute = &models.Dispute{}
		if err := decodeJSON(dispute, b.Dispute); err != nil {
			return nil, err
		}
	}
	if len(rating) > 0 {
		b.Rating = &models.Rating{}
		if err := decodeJSON(rating, b.Rating); err != nil {
			return nil, err
		}
	}
	return &b, nil
}

func (r *bookingRepo) Create(ctx context.Context, b *models.Booking) error {
	attachments, err := jsonArg(b.Attachments, false)
	if err != nil {
		return errs.Persistence("encode attachments", err)
	}
	if b.Attachments == nil {
		attachments = "[]"
	}
	towing, err := jsonArg(b.Towing, b.Towing == nil)
	if err != nil {
		return errs.Persistence("encode towing", err)
	}

	query := `
		INSERT INTO bookings (id, requester_id, provider_id, status, priority, category, description, is_emergency,
			attachments, lng, lat, address, requires_towing, towing,
			payment_amount, payment_status, payment_discount, quota_counted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err = r.db.Exec(ctx, query,
		b.ID,
		b.RequesterID,
		b.ProviderID,
		b.Status,
		b.Priority,
		b.Category,
		b.Description,
		b.IsEmergency,
		attachments,
		b.Location.Point.Lng,
		b.Location.Point.Lat,
		b.Location.Address,
		b.RequiresTowing,
		towing,
		b.Payment.Amount,
		b.Payment.Status,
		b.Payment.DiscountPercent,
		b.QuotaCounted,
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		r.log.Error("failed to create booking", logger.String("booking_id", b.ID), logger.Error(err))
		return errs.Persistence("create booking", err)
	}
	return nil
}

func (r *bookingRepo) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	b, err := scanBooking(r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, errs.ErrNotFound
		}
		r.log.Error("failed to get booking by id", logger.String("booking_id", id), logger.Error(err))
		return nil, errs.Persistence("get booking", err)
	}
	return b, nil
}

func (r *bookingRepo) ListByRequester(ctx context.Context, requesterID string, limit, offset int) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE requester_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return r.scanBookings(ctx, "list requester bookings", query, requesterID, limitArg(limit), offset)
}

func (r *bookingRepo) ListByProvider(ctx context.Context, providerID string, limit, offset int) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE provider_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return r.scanBookings(ctx, "list provider bookings", query, providerID, limitArg(limit), offset)
}

func (r *bookingRepo) ListPending(ctx context.Context, limit int) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1`
	return r.scanBookings(ctx, "list pending bookings", query, limitArg(limit))
}

func (r *bookingRepo) scanBookings(ctx context.Context, op, query string, args ...interface{}) ([]*models.Booking, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errs.Persistence(op, err)
	}
	defer rows.Close()

	bookings := []*models.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, errs.Persistence(op, err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Persistence(op, err)
	}
	return bookings, nil
}

// apply runs a guarded UPDATE ... RETURNING. No returned row means either
// the booking is gone or its guard no longer holds.
func (r *bookingRepo) apply(ctx context.Context, op, id, query string, args ...interface{}) (*models.Booking, error) {
	b, err := scanBooking(r.db.QueryRow(ctx, query, args...))
	if err == nil {
		return b, nil
	}
	if !isNoRows(err) {
		r.log.Error("booking update failed", logger.String("op", op), logger.String("booking_id", id), logger.Error(err))
		return nil, errs.Persistence(op, err)
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, errs.Persistence(op, err)
	}
	if !exists {
		return nil, errs.ErrNotFound
	}
	return nil, errs.ErrInvalidState
}

func (r *bookingRepo) AssignProvider(ctx context.Context, id, requesterID, providerID string, at time.Time) (*models.Booking, error) {
	query := `
		UPDATE bookings SET provider_id = $3, updated_at = $4
		WHERE id = $1 AND requester_id = $2 AND status = 'pending' AND provider_id IS NULL
		RETURNING ` + bookingColumns
	return r.apply(ctx, "assign provider", id, query, id, requesterID, providerID, at)
}

func (r *bookingRepo) Accept(ctx context.Context, id, providerID string, at time.Time) (*models.Booking, error) {
	query := `
		UPDATE bookings SET status = 'accepted', provider_id = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending' AND (provider_id IS NULL OR provider_id = $2)
		RETURNING ` + bookingColumns
	return r.apply(ctx, "accept booking", id, query, id, providerID, at)
}

func (r *bookingRepo) Start(ctx context.Context, id, providerID string, at time.Time) (*models.Booking, error) {
	query := `
		UPDATE bookings SET status = 'in-progress', updated_at = $3,
			towing = CASE WHEN towing IS NULL THEN NULL ELSE jsonb_set(towing, '{status}', '"en-route"') END
		WHERE id = $1 AND provider_id = $2 AND status = 'accepted'
		RETURNING ` + bookingColumns
	return r.apply(ctx, "start booking", id, query, id, providerID, at)
}

func (r *bookingRepo) Complete(ctx context.Context, id, providerID string, amount float64, at time.Time) (*models.Booking, error) {
	query := `
		UPDATE bookings SET status = 'completed', payment_amount = $3, updated_at = $4,
			towing = CASE WHEN towing IS NULL THEN NULL ELSE jsonb_set(towing, '{status}', '"completed"') END
		WHERE id = $1 AND provider_id = $2 AND status = 'in-progress'
		RETURNING ` + bookingColumns
	return r.apply(ctx, "complete booking", id, query, id, providerID, amount, at)
}

func (r *bookingRepo) Cancel(ctx context.Context, id string, from []models.BookingStatus, by, reason string, at time.Time) (*models.Booking, error) {
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}
	query := `
		UPDATE bookings SET status = 'cancelled', cancelled_by = $3, cancel_reason = $4, updated_at = $5
		WHERE id = $1 AND status = ANY($2)
		RETURNING ` + bookingColumns
	return r.apply(ctx, "cancel booking", id, query, id, statuses, by, reason, at)
}

func (r *bookingRepo) ConfirmPayment(ctx context.Context, id, transactionRef string, at time.Time) (*models.Booking, error) {
	query := `
		UPDATE bookings SET payment_status = 'completed', payment_ref = $2, updated_at = $3
		WHERE id = $1 AND status = 'completed' AND payment_status = 'pending'
		RETURNING ` + bookingColumns
	return r.apply(ctx, "confirm payment", id, query, id, transactionRef, at)
}

func (r *bookingRepo) Rate(ctx context.Context, id, requesterID string, rating models.Rating, at time.Time) (*models.Booking, error) {
	raw, err := jsonArg(rating, false)
	if err != nil {
		return nil, errs.Persistence("encode rating", err)
	}
	query := `
		UPDATE bookings SET rating = $3, updated_at = $4
		WHERE id = $1 AND requester_id = $2 AND status = 'completed'
			AND payment_status = 'completed' AND rating IS NULL
		RETURNING ` + bookingColumns
	return r.apply(ctx, "rate booking", id, query, id, requesterID, raw, at)
}

func (r *bookingRepo) FlagDispute(ctx context.Context, id string, d models.Dispute, at time.Time) (*models.Booking, error) {
	raw, err := jsonArg(d, false)
	if err != nil {
		return nil, errs.Persistence("encode dispute", err)
	}
	query := `
		UPDATE bookings SET dispute = $2, updated_at = $3
		WHERE id = $1 AND (dispute IS NULL OR dispute->>'status' = 'resolved')
		RETURNING ` + bookingColumns
	return r.apply(ctx, "flag dispute", id, query, id, raw, at)
}

func (r *bookingRepo) UpdateDispute(ctx context.Context, id string, from []models.DisputeStatus, d models.Dispute, refund float64, at time.Time) (*models.Booking, error) {
	raw, err := jsonArg(d, false)
	if err != nil {
		return nil, errs.Persistence("encode dispute", err)
	}
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}
	query := `
		UPDATE bookings SET dispute = $3, updated_at = $5,
			payment_refund = CASE WHEN $4::double precision > 0 THEN $4::double precision ELSE payment_refund END,
			payment_status = CASE WHEN $4::double precision > 0 THEN 'refunded' ELSE payment_status END
		WHERE id = $1 AND dispute->>'status' = ANY($2)
		RETURNING ` + bookingColumns
	return r.apply(ctx, "update dispute", id, query, id, statuses, raw, refund, at)
}

func (r *bookingRepo) Purge(ctx context.Context, id string) error {
	res, err := r.db.Exec(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		r.log.Error("failed to purge booking", logger.String("booking_id", id), logger.Error(err))
		return errs.Persistence("purge booking", err)
	}
	if res.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
