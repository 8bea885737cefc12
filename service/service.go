package service

import (
	"context"
	"time"

	"roadassist/config"
	"roadassist/pkg/logger"
	"roadassist/pkg/mq"
	"roadassist/pkg/models"
	"roadassist/pkg/presence"
	"roadassist/storage"
)

type IServiceManager interface {
	Matcher() MatcherService
	Notification() NotificationService
	Chat() ChatService
	Booking() BookingService
	Directory() DirectoryService
	// Handlers are the message bus consumers, keyed by routing key.
	Handlers() map[string]mq.Handler
}

// Pusher is the best-effort live channel. It returns nothing, so callers
// cannot wait on delivery.
type Pusher interface {
	Push(principalID string, ev presence.Event)
	PushRoom(room string, ev presence.Event, alsoTo ...string)
}

// EventPublisher emits domain events to the message bus.
type EventPublisher interface {
	PublishJSON(ctx context.Context, key string, v interface{}) error
}

// Alerter forwards operator-facing alerts.
type Alerter interface {
	EmergencyAlert(ctx context.Context, b *models.Booking) error
	DisputeAlert(ctx context.Context, b *models.Booking) error
}

// PresenceChecker reports whether a principal has a live connection.
type PresenceChecker interface {
	IsPresent(principalID string) bool
}

// RoomMembership is the live room list, used to drop members who lose
// access to a booking.
type RoomMembership interface {
	Members(room string) []string
	Leave(principalID, room string)
}

type nopPusher struct{}

func (nopPusher) Push(string, presence.Event)               {}
func (nopPusher) PushRoom(string, presence.Event, ...string) {}

type nopPublisher struct{}

func (nopPublisher) PublishJSON(context.Context, string, interface{}) error { return nil }

type nopAlerter struct{}

func (nopAlerter) EmergencyAlert(context.Context, *models.Booking) error { return nil }
func (nopAlerter) DisputeAlert(context.Context, *models.Booking) error   { return nil }

type noRooms struct{}

func (noRooms) Members(string) []string { return nil }
func (noRooms) Leave(string, string)     {}

type nobodyPresent struct{}

func (nobodyPresent) IsPresent(string) bool { return false }

type deps struct {
	stg      storage.IStorage
	index    storage.ILocationIndex
	external bool
	cfg      config.Config
	log      logger.ILogger
	pusher   Pusher
	events   EventPublisher
	alerter  Alerter
	presence PresenceChecker
	rooms    RoomMembership
	now      func() time.Time
}

type Option func(*deps)

// WithIndex overrides the location index; the storage's own index is used otherwise.
func WithIndex(index storage.ILocationIndex) Option {
	return func(d *deps) {
		d.index = index
		d.external = true
	}
}

func WithPusher(p Pusher) Option {
	return func(d *deps) { d.pusher = p }
}

func WithPublisher(p EventPublisher) Option {
	return func(d *deps) { d.events = p }
}

func WithAlerter(a Alerter) Option {
	return func(d *deps) { d.alerter = a }
}

func WithPresence(p PresenceChecker) Option {
	return func(d *deps) { d.presence = p }
}

func WithRooms(r RoomMembership) Option {
	return func(d *deps) { d.rooms = r }
}

func WithClock(now func() time.Time) Option {
	return func(d *deps) { d.now = now }
}

type service struct {
	matcherService      MatcherService
	notificationService NotificationService
	chatService         ChatService
	bookingService      BookingService
	directoryService    DirectoryService
}

func New(stg storage.IStorage, cfg config.Config, log logger.ILogger, opts ...Option) IServiceManager {
	d := &deps{
		stg:      stg,
		index:    stg.Location(),
		cfg:      cfg,
		log:      log,
		pusher:   nopPusher{},
		events:   nopPublisher{},
		alerter:  nopAlerter{},
		presence: nobodyPresent{},
		rooms:    noRooms{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}

	matcher := newMatcherService(d)
	notifications := newNotificationService(d)
	chat := newChatService(d, notifications)
	return &service{
		matcherService:      matcher,
		notificationService: notifications,
		chatService:         chat,
		bookingService:      newBookingService(d, matcher, notifications, chat),
		directoryService:    newDirectoryService(d),
	}
}

func (s *service) Matcher() MatcherService {
	return s.matcherService
}

func (s *service) Notification() NotificationService {
	return s.notificationService
}

func (s *service) Chat() ChatService {
	return s.chatService
}

func (s *service) Booking() BookingService {
	return s.bookingService
}

func (s *service) Directory() DirectoryService {
	return s.directoryService
}

func (s *service) Handlers() map[string]mq.Handler {
	return map[string]mq.Handler{
		RoutingPrincipalUpserted: s.directoryService.HandlePrincipalUpserted,
		RoutingPaymentPaid:       paymentPaidHandler(s.bookingService),
	}
}

// locationIndexes lists every index a location write must reach: the
// store's own columns, plus the external index when one is configured.
func (d *deps) locationIndexes() []storage.ILocationIndex {
	if d.external {
		return []storage.ILocationIndex{d.stg.Location(), d.index}
	}
	return []storage.ILocationIndex{d.index}
}

// publish is fire-and-forget: bus failures are logged, never returned.
func (d *deps) publish(ctx context.Context, key string, v interface{}) {
	if err := d.events.PublishJSON(ctx, key, v); err != nil {
		d.log.Warning("event publish failed", logger.String("key", key), logger.Error(err))
	}
}
