package storage

import (
	"context"
	"time"

	"roadassist/pkg/models"
)

// Repositories report a missing row as errs.ErrNotFound, a failed
// conditional update as errs.ErrInvalidState, and driver failures wrapped
// with errs.Persistence.
type IStorage interface {
	User() IUserStorage
	Booking() IBookingStorage
	Notification() INotificationStorage
	Chat() IChatStorage
	Location() ILocationIndex
	Close()
}

type IUserStorage interface {
	// Upsert replicates identity-owned fields; derived counters are left untouched.
	Upsert(ctx context.Context, p *models.Principal) error
	GetByID(ctx context.Context, id string) (*models.Principal, error)
	GetByIDs(ctx context.Context, ids []string) ([]*models.Principal, error)
	GetByRole(ctx context.Context, role string) ([]*models.Principal, error)
	// ReserveBookingSlot increments bookings_used only while it is below limit.
	ReserveBookingSlot(ctx context.Context, id string, limit int) error
	ReleaseBookingSlot(ctx context.Context, id string) error
	// RefreshRating recomputes the provider aggregate from all rated bookings.
	RefreshRating(ctx context.Context, providerID string) (avg float64, count int, err error)
}

// ILocationIndex answers radius queries over principal locations.
type ILocationIndex interface {
	UpsertLocation(ctx context.Context, principalID, role string, p models.Point) error
	RemoveLocation(ctx context.Context, principalID, role string) error
	// Nearby returns candidates within maxMeters, nearest first; limit <= 0 means no limit.
	Nearby(ctx context.Context, role string, p models.Point, maxMeters float64, limit int) ([]models.Candidate, error)
}

type IBookingStorage interface {
	Create(ctx context.Context, b *models.Booking) error
	GetByID(ctx context.Context, id string) (*models.Booking, error)
	ListByRequester(ctx context.Context, requesterID string, limit, offset int) ([]*models.Booking, error)
	ListByProvider(ctx context.Context, providerID string, limit, offset int) ([]*models.Booking, error)
	ListPending(ctx context.Context, limit int) ([]*models.Booking, error)

	AssignProvider(ctx context.Context, id, requesterID, providerID string, at time.Time) (*models.Booking, error)
	Accept(ctx context.Context, id, providerID string, at time.Time) (*models.Booking, error)
	Start(ctx context.Context, id, providerID string, at time.Time) (*models.Booking, error)
	Complete(ctx context.Context, id, providerID string, amount float64, at time.Time) (*models.Booking, error)
	Cancel(ctx context.Context, id string, from []models.BookingStatus, by, reason string, at time.Time) (*models.Booking, error)
	ConfirmPayment(ctx context.Context, id, transactionRef string, at time.Time) (*models.Booking, error)
	Rate(ctx context.Context, id, requesterID string, rating models.Rating, at time.Time) (*models.Booking, error)
	FlagDispute(ctx context.Context, id string, d models.Dispute, at time.Time) (*models.Booking, error)
	UpdateDispute(ctx context.Context, id string, from []models.DisputeStatus, d models.Dispute, refund float64, at time.Time) (*models.Booking, error)
	Purge(ctx context.Context, id string) error
}

type NotificationFilter struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}

type INotificationStorage interface {
	Create(ctx context.Context, n *models.Notification) error
	GetByID(ctx context.Context, id, recipientID string) (*models.Notification, error)
	List(ctx context.Context, recipientID string, f NotificationFilter, now time.Time) ([]*models.Notification, error)
	MarkRead(ctx context.Context, id, recipientID string, at time.Time) (*models.Notification, error)
	MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error)
	Delete(ctx context.Context, id, recipientID string) error
	DeleteAllRead(ctx context.Context, recipientID string) (int64, error)
	UnreadCount(ctx context.Context, recipientID string, now time.Time) (int, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type IChatStorage interface {
	// CreateChannel is idempotent on booking id / pair key and returns the stored channel.
	CreateChannel(ctx context.Context, c *models.Channel) (*models.Channel, error)
	GetChannel(ctx context.Context, id string) (*models.Channel, error)
	GetByBooking(ctx context.Context, bookingID string) (*models.Channel, error)
	GetByPair(ctx context.Context, pairKey string) (*models.Channel, error)
	ListChannels(ctx context.Context, principalID string) ([]*models.Channel, error)
	// AppendMessage assigns Seq and bumps the channel's last activity.
	AppendMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, channelID string, afterSeq int64, limit int) ([]*models.Message, error)
	// MarkRead flips unread messages not sent by readerID and returns their ids.
	MarkRead(ctx context.Context, channelID, readerID string, at time.Time) ([]string, error)
	UnreadCount(ctx context.Context, principalID string) (int, error)
}
