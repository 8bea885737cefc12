package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"roadassist/pkg/errs"
	"roadassist/pkg/logger"
	"roadassist/pkg/models"
	"roadassist/pkg/presence"
	"roadassist/storage"
)

// NotifyInput describes a notification; its type is the payload's variant.
type NotifyInput struct {
	Title     string
	Message   string
	BookingID string
	Link      string
	Payload   models.NotificationPayload
	Priority  models.NotificationPriority
	// ExpiresAt defaults to now + the configured TTL.
	ExpiresAt time.Time
}

type NotificationService interface {
	Notify(ctx context.Context, recipientID string, in NotifyInput) (*models.Notification, error)
	NotifyMany(ctx context.Context, recipientIDs []string, in NotifyInput) ([]*models.Notification, error)
	List(ctx context.Context, recipientID string, f storage.NotificationFilter) ([]*models.Notification, error)
	Get(ctx context.Context, recipientID, id string) (*models.Notification, error)
	MarkRead(ctx context.Context, recipientID, id string) (*models.Notification, error)
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
	Delete(ctx context.Context, recipientID, id string) error
	DeleteAllRead(ctx context.Context, recipientID string) (int64, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
	PurgeExpired(ctx context.Context) (int64, error)
}

type notificationService struct {
	*deps
	repo storage.INotificationStorage
}

func newNotificationService(d *deps) NotificationService {
	return &notificationService{deps: d, repo: d.stg.Notification()}
}

func (s *notificationService) build(recipientID string, in NotifyInput) (*models.Notification, error) {
	if recipientID == "" {
		return nil, errs.Invalid("recipient is required")
	}
	if in.Payload == nil {
		return nil, errs.Invalid("notification payload is required")
	}
	priority := in.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	if !priority.Valid() {
		return nil, errs.Invalid("unknown notification priority %q", priority)
	}
	now := s.now()
	expires := in.ExpiresAt
	if expires.IsZero() {
		expires = now.Add(s.cfg.NotificationTTL)
	}
	return &models.Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Type:        in.Payload.NotificationType(),
		Title:       in.Title,
		Message:     in.Message,
		BookingID:   in.BookingID,
		Link:        in.Link,
		Payload:     in.Payload,
		Priority:    priority,
		CreatedAt:   now,
		ExpiresAt:   expires,
	}, nil
}

// Notify persists first; the live push and the bus event only happen
// after the record exists and never fail the call.
func (s *notificationService) Notify(ctx context.Context, recipientID string, in NotifyInput) (*models.Notification, error) {
	n, err := s.build(recipientID, in)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}

	s.pusher.Push(recipientID, presence.Event{Name: presence.EventNotification, Payload: n})
	s.publish(ctx, "notification.created", n)
	return n, nil
}

// NotifyMany attempts every recipient independently. It returns the
// notifications that were stored and the joined per-recipient failures.
func (s *notificationService) NotifyMany(ctx context.Context, recipientIDs []string, in NotifyInput) ([]*models.Notification, error) {
	if in.Payload == nil {
		return nil, errs.Invalid("notification payload is required")
	}
	var (
		sent []*models.Notification
		errl []error
	)
	for _, id := range recipientIDs {
		n, err := s.Notify(ctx, id, in)
		if err != nil {
			s.log.Warning("notify recipient failed", logger.String("recipient_id", id), logger.String("type", string(in.Payload.NotificationType())), logger.Error(err))
			errl = append(errl, fmt.Errorf("recipient %s: %w", id, err))
			continue
		}
		sent = append(sent, n)
	}
	return sent, errors.Join(errl...)
}

func (s *notificationService) List(ctx context.Context, recipientID string, f storage.NotificationFilter) ([]*models.Notification, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.List(ctx, recipientID, f, s.now())
}

func (s *notificationService) Get(ctx context.Context, recipientID, id string) (*models.Notification, error) {
	return s.repo.GetByID(ctx, id, recipientID)
}

func (s *notificationService) MarkRead(ctx context.Context, recipientID, id string) (*models.Notification, error) {
	return s.repo.MarkRead(ctx, id, recipientID, s.now())
}

func (s *notificationService) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	return s.repo.MarkAllRead(ctx, recipientID, s.now())
}

func (s *notificationService) Delete(ctx context.Context, recipientID, id string) error {
	return s.repo.Delete(ctx, id, recipientID)
}

func (s *notificationService) DeleteAllRead(ctx context.Context, recipientID string) (int64, error) {
	return s.repo.DeleteAllRead(ctx, recipientID)
}

func (s *notificationService) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	return s.repo.UnreadCount(ctx, recipientID, s.now())
}

func (s *notificationService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("expired notifications purged", logger.Int64("count", n))
	}
	return n, nil
}
