package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"roadassist/pkg/errs"
	"roadassist/pkg/logger"
	"roadassist/pkg/models"
	"roadassist/storage"
)

const (
	channelColumns = `id, booking_id, COALESCE(pair_key, ''), participants, last_activity, created_at`
	messageColumns = `id, channel_id, seq, sender_id, content, attachments, sent_at, read, read_at`

	foreignKeyViolation = "23503"
)

type chatRepo struct {
	db  *pgxpool.Pool
	log logger.ILogger
}

func NewChatRepo(db *pgxpool.Pool, log logger.ILogger) storage.IChatStorage {
	return &chatRepo{db: db, log: log}
}

func scanChannel(row pgx.Row) (*models.Channel, error) {
	var c models.Channel
	if err := row.Scan(&c.ID, &c.BookingID, &c.PairKey, &c.Participants, &c.LastActivity, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	var attachments []byte
	if err := row.Scan(&m.ID, &m.ChannelID, &m.Seq, &m.SenderID, &m.Content, &attachments, &m.SentAt, &m.Read, &m.ReadAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(attachments, &m.Attachments); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *chatRepo) CreateChannel(ctx context.Context, c *models.Channel) (*models.Channel, error) {
	query := `
		INSERT INTO chat_channels (id, booking_id, pair_key, participants, last_activity, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
		ON CONFLICT DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, c.ID, c.BookingID, c.PairKey, c.Participants, c.LastActivity, c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return nil, errs.ErrNotFound
		}
		r.log.Error("failed to create channel", logger.Error(err))
		return nil, errs.Persistence("create channel", err)
	}
	// a concurrent creator may have won; return whichever row is stored
	if c.BookingID != nil {
		return r.GetByBooking(ctx, *c.BookingID)
	}
	return r.GetByPair(ctx, c.PairKey)
}

func (r *chatRepo) getChannel(ctx context.Context, op, where string, arg interface{}) (*models.Channel, error) {
	c, err := scanChannel(r.db.QueryRow(ctx, `SELECT `+channelColumns+` FROM chat_channels WHERE `+where, arg))
	if err != nil {
		if isNoRows(err) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Persistence(op, err)
	}
	return c, nil
}

func (r *chatRepo) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	return r.getChannel(ctx, "get channel", "id = $1", id)
}

func (r *chatRepo) GetByBooking(ctx context.Context, bookingID string) (*models.Channel, error) {
	return r.getChannel(ctx, "get booking channel", "booking_id = $1", bookingID)
}

func (r *chatRepo) GetByPair(ctx context.Context, pairKey string) (*models.Channel, error) {
	return r.getChannel(ctx, "get pair channel", "pair_key = $1", pairKey)
}

func (r *chatRepo) ListChannels(ctx context.Context, principalID string) ([]*models.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM chat_channels WHERE $1 = ANY(participants) ORDER BY last_activity DESC, id`
	rows, err := r.db.Query(ctx, query, principalID)
	if err != nil {
		return nil, errs.Persistence("list channels", err)
	}
	defer rows.Close()

	channels := []*models.Channel{}
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, errs.Persistence("list channels", err)
		}
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Persistence("list channels", err)
	}
	return channels, nil
}

func (r *chatRepo) AppendMessage(ctx context.Context, m *models.Message) error {
	attachments, err := jsonArg(m.Attachments, false)
	if err != nil {
		return errs.Persistence("encode attachments", err)
	}
	if m.Attachments == nil {
		attachments = "[]"
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return errs.Persistence("append message", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO chat_messages (id, channel_id, sender_id, content, attachments, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq
	`
	if err := tx.QueryRow(ctx, query, m.ID, m.ChannelID, m.SenderID, m.Content, attachments, m.SentAt).Scan(&m.Seq); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return errs.ErrNotFound
		}
		r.log.Error("failed to append message", logger.String("channel_id", m.ChannelID), logger.Error(err))
		return errs.Persistence("append message", err)
	}
	if _, err := tx.Exec(ctx, "UPDATE chat_channels SET last_activity = $2 WHERE id = $1", m.ChannelID, m.SentAt); err != nil {
		return errs.Persistence("touch channel", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return errs.Persistence("append message", err)
	}
	return nil
}

func (r *chatRepo) ListMessages(ctx context.Context, channelID string, afterSeq int64, limit int) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM chat_messages WHERE channel_id = $1 AND seq > $2 ORDER BY seq ASC LIMIT $3`
	rows, err := r.db.Query(ctx, query, channelID, afterSeq, limitArg(limit))
	if err != nil {
		return nil, errs.Persistence("list messages", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, errs.Persistence("list messages", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Persistence("list messages", err)
	}
	return messages, nil
}

func (r *chatRepo) MarkRead(ctx context.Context, channelID, readerID string, at time.Time) ([]string, error) {
	query := `
		UPDATE chat_messages SET read = TRUE, read_at = $3
		WHERE channel_id = $1 AND sender_id <> $2 AND read = FALSE
		RETURNING id
	`
	rows, err := r.db.Query(ctx, query, channelID, readerID, at)
	if err != nil {
		return nil, errs.Persistence("mark messages read", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errs.Persistence("mark messages read", err)
	}
	return ids, nil
}

func (r *chatRepo) UnreadCount(ctx context.Context, principalID string) (int, error) {
	query := `
		SELECT count(*)
		FROM chat_messages m
		JOIN chat_channels c ON c.id = m.channel_id
		WHERE $1 = ANY(c.participants) AND m.sender_id <> $1 AND m.read = FALSE
	`
	var count int
	if err := r.db.QueryRow(ctx, query, principalID).Scan(&count); err != nil {
		return 0, errs.Persistence("count unread messages", err)
	}
	return count, nil
}
