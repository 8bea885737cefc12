package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"roadassist/pkg/errs"
	"roadassist/pkg/logger"
	"roadassist/pkg/models"
	"roadassist/storage"
)

const notificationColumns = `id, recipient_id, type, title, message, booking_id, link, payload, priority, read, read_at, created_at, expires_at`

type notificationRepo struct {
	db  *pgxpool.Pool
	log logger.ILogger
}

func NewNotificationRepo(db *pgxpool.Pool, log logger.ILogger) storage.INotificationStorage {
	return &notificationRepo{db: db, log: log}
}

func scanNotification(row pgx.Row) (*models.Notification, error) {
	var n models.Notification
	var payload []byte
	err := row.Scan(
		&n.ID, &n.RecipientID, &n.Type, &n.Title, &n.Message, &n.BookingID, &n.Link,
		&payload, &n.Priority, &n.Read, &n.ReadAt, &n.CreatedAt, &n.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	n.Payload, err = models.DecodePayload(n.Type, payload)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *notificationRepo) Create(ctx context.Context, n *models.Notification) error {
	payload := []byte("{}")
	if n.Payload != nil {
		raw, err := json.Marshal(n.Payload)
		if err != nil {
			return errs.Persistence("encode notification payload", err)
		}
		payload = raw
	}
	query := `
		INSERT INTO notifications (id, recipient_id, type, title, message, booking_id, link, payload, priority, read, read_at, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.Exec(ctx, query,
		n.ID, n.RecipientID, n.Type, n.Title, n.Message, n.BookingID, n.Link,
		string(payload), n.Priority, n.Read, n.ReadAt, n.CreatedAt, n.ExpiresAt,
	)
	if err != nil {
		r.log.Error("failed to create notification", logger.String("recipient_id", n.RecipientID), logger.Error(err))
		return errs.Persistence("create notification", err)
	}
	return nil
}

func (r *notificationRepo) GetByID(ctx context.Context, id, recipientID string) (*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1 AND recipient_id = $2`
	n, err := scanNotification(r.db.QueryRow(ctx, query, id, recipientID))
	if err != nil {
		if isNoRows(err) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Persistence("get notification", err)
	}
	return n, nil
}

func (r *notificationRepo) List(ctx context.Context, recipientID string, f storage.NotificationFilter, now time.Time) ([]*models.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient_id = $1 AND expires_at > $2 AND (NOT $3 OR read = FALSE)
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.db.Query(ctx, query, recipientID, now, f.UnreadOnly, limitArg(f.Limit), f.Offset)
	if err != nil {
		return nil, errs.Persistence("list notifications", err)
	}
	defer rows.Close()

	list := []*models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, errs.Persistence("list notifications", err)
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Persistence("list notifications", err)
	}
	return list, nil
}

func (r *notificationRepo) MarkRead(ctx context.Context, id, recipientID string, at time.Time) (*models.Notification, error) {
	query := `
		UPDATE notifications SET read = TRUE, read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND recipient_id = $2
		RETURNING ` + notificationColumns
	n, err := scanNotification(r.db.QueryRow(ctx, query, id, recipientID, at))
	if err != nil {
		if isNoRows(err) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Persistence("mark notification read", err)
	}
	return n, nil
}

func (r *notificationRepo) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	res, err := r.db.Exec(ctx, "UPDATE notifications SET read = TRUE, read_at = $2 WHERE recipient_id = $1 AND read = FALSE", recipientID, at)
	if err != nil {
		return 0, errs.Persistence("mark all notifications read", err)
	}
	return res.RowsAffected(), nil
}

func (r *notificationRepo) Delete(ctx context.Context, id, recipientID string) error {
	res, err := r.db.Exec(ctx, "DELETE FROM notifications WHERE id = $1 AND recipient_id = $2", id, recipientID)
	if err != nil {
		return errs.Persistence("delete notification", err)
	}
	if res.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *notificationRepo) DeleteAllRead(ctx context.Context, recipientID string) (int64, error) {
	res, err := r.db.Exec(ctx, "DELETE FROM notifications WHERE recipient_id = $1 AND read = TRUE", recipientID)
	if err != nil {
		return 0, errs.Persistence("delete read notifications", err)
	}
	return res.RowsAffected(), nil
}

func (r *notificationRepo) UnreadCount(ctx context.Context, recipientID string, now time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, "SELECT count(*) FROM notifications WHERE recipient_id = $1 AND read = FALSE AND expires_at > $2", recipientID, now).Scan(&count)
	if err != nil {
		return 0, errs.Persistence("count unread notifications", err)
	}
	return count, nil
}

func (r *notificationRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.Exec(ctx, "DELETE FROM notifications WHERE expires_at <= $1", now)
	if err != nil {
		r.log.Error("failed to purge expired notifications", logger.Error(err))
		return 0, errs.Persistence("purge expired notifications", err)
	}
	return res.RowsAffected(), nil
}
