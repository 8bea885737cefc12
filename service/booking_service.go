package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"roadassist/pkg/errs"
	"roadassist/pkg/lifecycle"
	"roadassist/pkg/logger"
	"roadassist/pkg/models"
	"roadassist/pkg/mq"
	"roadassist/pkg/presence"
	"roadassist/storage"
)

const (
	defaultBookingPage = 20
	maxBookingPage     = 100
	openBookingScan    = 500
)

// SystemActor drives transitions on behalf of trusted collaborators, such
// as the payment gateway confirming a charge.
var SystemActor = &models.Principal{ID: "system", Role: models.RoleAdmin, Active: true}

type RateInput struct {
	Value     int
	Comment   string
	Recommend bool
}

type ResolveInput struct {
	Resolution   string
	RefundAmount float64
}

// OpenBooking is a pending booking seen from a provider's position.
type OpenBooking struct {
	Booking        *models.Booking `json:"booking"`
	DistanceMeters float64         `json:"distance_m"`
}

type BookingService interface {
	Create(ctx context.Context, actor *models.Principal, in lifecycle.NewBooking) (*models.Booking, error)
	Get(ctx context.Context, actor *models.Principal, id string) (*models.Booking, error)
	List(ctx context.Context, actor *models.Principal, limit, offset int) ([]*models.Booking, error)
	Candidates(ctx context.Context, actor *models.Principal, id string, maxMeters float64, limit int) ([]models.Match, error)
	OpenNearby(ctx context.Context, actor *models.Principal, maxMeters float64, limit int) ([]OpenBooking, error)

	SelectProvider(ctx context.Context, actor *models.Principal, id, providerID string) (*models.Booking, error)
	Accept(ctx context.Context, actor *models.Principal, id string) (*models.Booking, error)
	Start(ctx context.Context, actor *models.Principal, id string) (*models.Booking, error)
	Complete(ctx context.Context, actor *models.Principal, id string, amount float64) (*models.Booking, error)
	Cancel(ctx context.Context, actor *models.Principal, id, reason string) (*models.Booking, error)
	ConfirmPayment(ctx context.Context, actor *models.Principal, id, transactionRef string) (*models.Booking, error)
	Rate(ctx context.Context, actor *models.Principal, id string, in RateInput) (*models.Booking, error)
	FlagDispute(ctx context.Context, actor *models.Principal, id, reason string) (*models.Booking, error)
	ReviewDispute(ctx context.Context, actor *models.Principal, id string) (*models.Booking, error)
	ResolveDispute(ctx context.Context, actor *models.Principal, id string, in ResolveInput) (*models.Booking, error)
	Purge(ctx context.Context, actor *models.Principal, id string) error
}

type bookingService struct {
	*deps
	repo          storage.IBookingStorage
	matcher       MatcherService
	notifications NotificationService
	chat          ChatService
}

func newBookingService(d *deps, matcher MatcherService, notifications NotificationService, chat ChatService) BookingService {
	return &bookingService{
		deps:          d,
		repo:          d.stg.Booking(),
		matcher:       matcher,
		notifications: notifications,
		chat:          chat,
	}
}

func (s *bookingService) Create(ctx context.Context, actor *models.Principal, in lifecycle.NewBooking) (*models.Booking, error) {
	if err := lifecycle.ValidateNew(actor, in); err != nil {
		return nil, err
	}
	ent := actor.Entitlement

	counted := lifecycle.NeedsQuota(ent)
	if counted {
		if err := s.stg.User().ReserveBookingSlot(ctx, actor.ID, s.cfg.BookingQuota); err != nil {
			return nil, err
		}
	}

	now := s.now()
	b := &models.Booking{
		ID:             uuid.NewString(),
		RequesterID:    actor.ID,
		Status:         models.StatusPending,
		Priority:       lifecycle.PriorityFor(ent, in.IsEmergency),
		Category:       strings.TrimSpace(in.Category),
		Description:    in.Description,
		IsEmergency:    in.IsEmergency,
		Attachments:    in.Attachments,
		Location:       in.Location,
		RequiresTowing: in.RequiresTowing,
		Payment:        models.Payment{Status: models.PaymentPending},
		QuotaCounted:   counted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if ent.Active {
		b.Payment.DiscountPercent = ent.DiscountPercent
	}
	if in.Towing != nil {
		t := *in.Towing
		t.Status = models.TowingPending
		t.Free = ent.Active && ent.FreeTowingQuota > 0
		b.Towing = &t
	}

	if err := s.repo.Create(ctx, b); err != nil {
		if counted {
			if rerr := s.stg.User().ReleaseBookingSlot(ctx, actor.ID); rerr != nil {
				s.log.Error("release booking slot after failed insert", logger.String("principal_id", actor.ID), logger.Error(rerr))
			}
		}
		return nil, err
	}
	s.log.Info("booking created", logger.String("booking_id", b.ID), logger.String("priority", string(b.Priority)))

	s.dispatch(ctx, b)
	if b.IsEmergency {
		s.escalate(ctx, b)
	}
	s.publish(ctx, "booking.created", b)
	return b, nil
}

// dispatch broadcasts a new booking to nearby approved providers. Every
// failure here is logged only; the booking already exists.
func (s *bookingService) dispatch(ctx context.Context, b *models.Booking) {
	matches, err := s.matcher.FindNearby(ctx, NearbyQuery{
		Point:             b.Location.Point,
		Role:              models.RoleProvider,
		MaxDistanceMeters: s.cfg.DispatchRadiusMeters,
		Limit:             s.cfg.DispatchLimit,
		Filter:            models.ApprovedActiveProviders,
	})
	if err != nil {
		s.log.Warning("dispatch: matcher failed", logger.String("booking_id", b.ID), logger.Error(err))
		return
	}
	if len(matches) == 0 {
		s.log.Info("dispatch: no providers in range", logger.String("booking_id", b.ID))
		return
	}

	priority := models.PriorityHigh
	if b.IsEmergency {
		priority = models.PriorityUrgent
	}
	// one notify per provider: each payload carries that provider's distance
	for _, m := range matches {
		s.notify(ctx, m.Principal.ID, NotifyInput{
			Title:     "New service request",
			Message:   b.Category + " near " + b.Location.Address,
			BookingID: b.ID,
			Payload: models.ServiceRequestPayload{
				BookingID:      b.ID,
				Category:       b.Category,
				Address:        b.Location.Address,
				DistanceMeters: m.DistanceMeters,
				Priority:       b.Priority,
				IsEmergency:    b.IsEmergency,
			},
			Priority: priority,
		})
		if !s.presence.IsPresent(m.Principal.ID) {
			continue
		}
		s.pusher.Push(m.Principal.ID, presence.Event{
			Name:    presence.EventServiceRequestPopup,
			Payload: models.ServiceRequestPopup{Booking: b, DistanceMeters: m.DistanceMeters},
		})
	}
}

func (s *bookingService) escalate(ctx context.Context, b *models.Booking) {
	admins, err := s.stg.User().GetByRole(ctx, models.RoleAdmin)
	if err != nil {
		s.log.Warning("emergency: load admins", logger.String("booking_id", b.ID), logger.Error(err))
	} else {
		ids := make([]string, 0, len(admins))
		for _, a := range admins {
			if a.Active {
				ids = append(ids, a.ID)
			}
		}
		if _, err := s.notifications.NotifyMany(ctx, ids, NotifyInput{
			Title:     "Emergency request",
			Message:   b.Category + " at " + b.Location.Address,
			BookingID: b.ID,
			Payload: models.EmergencyRequestPayload{
				BookingID:   b.ID,
				RequesterID: b.RequesterID,
				Category:    b.Category,
				Address:     b.Location.Address,
				Point:       b.Location.Point,
			},
			Priority: models.PriorityUrgent,
		}); err != nil {
			s.log.Warning("emergency: admin fan-out", logger.String("booking_id", b.ID), logger.Error(err))
		}
	}
	if err := s.alerter.EmergencyAlert(ctx, b); err != nil {
		s.log.Warning("emergency: alert failed", logger.String("booking_id", b.ID), logger.Error(err))
	}
}

// canView: parties, staff, and providers looking at an unassigned pending booking.
func canView(actor *models.Principal, b *models.Booking) bool {
	switch {
	case actor == nil || !actor.Active:
		return false
	case b.IsParty(actor.ID), actor.IsStaff():
		return true
	case actor.Role == models.RoleProvider && b.Status == models.StatusPending && b.ProviderID == nil:
		return true
	}
	return false
}

func (s *bookingService) Get(ctx context.Context, actor *models.Principal, id string) (*models.Booking, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, b) {
		return nil, errs.ErrNotAuthorized
	}
	return b, nil
}

func (s *bookingService) List(ctx context.Context, actor *models.Principal, limit, offset int) ([]*models.Booking, error) {
	if actor == nil || !actor.Active {
		return nil, errs.ErrNotAuthorized
	}
	if limit <= 0 || limit > maxBookingPage {
		limit = defaultBookingPage
	}
	if offset < 0 {
		offset = 0
	}
	switch actor.Role {
	case models.RoleRequester:
		return s.repo.ListByRequester(ctx, actor.ID, limit, offset)
	case models.RoleProvider:
		return s.repo.ListByProvider(ctx, actor.ID, limit, offset)
	default:
		return s.repo.ListPending(ctx, limit)
	}
}

// Candidates lets the owner browse providers for a pending booking.
func (s *bookingService) Candidates(ctx context.Context, actor *models.Principal, id string, maxMeters float64, limit int) ([]models.Match, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor == nil || !actor.Active || (b.RequesterID != actor.ID && !actor.IsStaff()) {
		return nil, errs.ErrNotAuthorized
	}
	if b.Status != models.StatusPending {
		return nil, errs.ErrInvalidState
	}
	if maxMeters <= 0 {
		maxMeters = s.cfg.DispatchRadiusMeters
	}
	if limit <= 0 {
		limit = s.cfg.DispatchLimit
	}
	return s.matcher.FindNearby(ctx, NearbyQuery{
		Point:             b.Location.Point,
		Role:              models.RoleProvider,
		MaxDistanceMeters: maxMeters,
		Limit:             limit,
		Filter:            models.ApprovedActiveProviders,
	})
}

// OpenNearby lists unassigned pending bookings around the provider,
// highest priority tier first, then nearest, then oldest.
func (s *bookingService) OpenNearby(ctx context.Context, actor *models.Principal, maxMeters float64, limit int) ([]OpenBooking, error) {
	if actor == nil || !models.ApprovedActiveProviders(actor) {
		return nil, errs.ErrNotAuthorized
	}
	if actor.Location == nil {
		return nil, errs.ErrInvalidLocation
	}
	origin := *actor.Location
	if err := origin.Validate(); err != nil {
		return nil, err
	}
	if maxMeters <= 0 {
		maxMeters = s.cfg.DispatchRadiusMeters
	}
	if limit <= 0 || limit > maxBookingPage {
		limit = defaultBookingPage
	}

	pending, err := s.repo.ListPending(ctx, openBookingScan)
	if err != nil {
		return nil, err
	}
	open := make([]OpenBooking, 0, len(pending))
	for _, b := range pending {
		if b.ProviderID != nil {
			continue
		}
		d := origin.DistanceTo(b.Location.Point)
		if d > maxMeters {
			continue
		}
		open = append(open, OpenBooking{Booking: b, DistanceMeters: d})
	}
	sort.SliceStable(open, func(i, j int) bool {
		a, b := open[i], open[j]
		if wa, wb := a.Booking.Priority.Weight(), b.Booking.Priority.Weight(); wa != wb {
			return wa > wb
		}
		if a.DistanceMeters != b.DistanceMeters {
			return a.DistanceMeters < b.DistanceMeters
		}
		return a.Booking.CreatedAt.Before(b.Booking.CreatedAt)
	})
	if len(open) > limit {
		open = open[:limit]
	}
	return open, nil
}

// transition loads the booking, checks the action against it and runs the
// guarded store update. The booking returned is the stored result.
func (s *bookingService) transition(ctx context.Context, action lifecycle.Action, actor *models.Principal, id string, apply func(b *models.Booking) (*models.Booking, error)) (*models.Booking, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := lifecycle.Check(action, actor, b); err != nil {
		return nil, err
	}
	updated, err := apply(b)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidState) {
			s.log.Debug("conditional update lost", logger.String("action", string(action)), logger.String("booking_id", id))
		}
		return nil, err
	}
	s.log.Info("booking transition", logger.String("action", string(action)), logger.String("booking_id", id), logger.String("status", string(updated.Status)))
	s.publish(ctx, "booking."+string(action), updated)
	return updated, nil
}

// statusChanged is the live-refresh push, separate from the durable record.
func (s *bookingService) statusChanged(b *models.Booking, action lifecycle.Action) {
	s.pusher.PushRoom(b.Room(), presence.Event{
		Name: presence.EventBookingStatusChanged,
		Payload: models.BookingStatusEvent{
			BookingID:  b.ID,
			Status:     b.Status,
			ProviderID: b.Provider(),
			Action:     string(action),
			UpdatedAt:  b.UpdatedAt,
		},
	}, b.RequesterID, b.Provider())
}

// closeRoom drops room members who may no longer read b once a provider
// is assigned. Staff keep their seat.
func (s *bookingService) closeRoom(ctx context.Context, b *models.Booking) {
	var outsiders []string
	for _, id := range s.rooms.Members(b.Room()) {
		if !b.IsParty(id) {
			outsiders = append(outsiders, id)
		}
	}
	if len(outsiders) == 0 {
		return
	}
	staff := map[string]bool{}
	principals, err := s.stg.User().GetByIDs(ctx, outsiders)
	if err != nil {
		s.log.Warning("close booking room: load members", logger.String("booking_id", b.ID), logger.Error(err))
	}
	for _, p := range principals {
		if p.Active && p.IsStaff() {
			staff[p.ID] = true
		}
	}
	for _, id := range outsiders {
		if !staff[id] {
			s.rooms.Leave(id, b.Room())
		}
	}
}

func (s *bookingService) notify(ctx context.Context, recipientID string, in NotifyInput) {
	if recipientID == "" {
		return
	}
	if _, err := s.notifications.Notify(ctx, recipientID, in); err != nil {
		s.log.Warning("notify failed", logger.String("recipient_id", recipientID), logger.String("booking_id", in.BookingID), logger.Error(err))
	}
}

func (s *bookingService) SelectProvider(ctx context.Context, actor *models.Principal, id, providerID string) (*models.Booking, error) {
	if providerID == "" {
		return nil, errs.Invalid("provider id is required")
	}
	provider, err := s.stg.User().GetByID(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if !models.ApprovedActiveProviders(provider) {
		return nil, errs.Invalid("principal %s is not an approved active provider", providerID)
	}

	b, err := s.transition(ctx, lifecycle.ActionSelectProvider, actor, id, func(b *models.Booking) (*models.Booking, error) {
		return s.repo.AssignProvider(ctx, b.ID, actor.ID, providerID, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.closeRoom(ctx, b)

	channelID := ""
	if ch, err := s.chat.GetOrCreateChannel(ctx, actor, b.ID); err != nil {
		s.log.Warning("open booking chat", logger.String("booking_id", b.ID), logger.Error(err))
	} else {
		channelID = ch.ID
	}
	s.notify(ctx, providerID, NotifyInput{
		Title:     "You were selected",
		Message:   "A requester selected you for " + b.Category,
		BookingID: b.ID,
		Payload:   models.ProviderSelectedPayload{BookingID: b.ID, RequesterID: b.RequesterID, ChannelID: channelID},
		Priority:  models.PriorityHigh,
	})
	return b, nil
}

func (s *bookingService) Accept(ctx context.Context, actor *models.Principal, id string) (*models.Booking, error) {
	b, err := s.transition(ctx, lifecycle.ActionAccept, actor, id, func(b *models.Booking) (*models.Booking, error) {
		return s.repo.Accept(ctx, b.ID, actor.ID, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.closeRoom(ctx, b)
	s.notify(ctx, b.RequesterID, NotifyInput{
		Title:     "Booking accepted",
		Message:   "A provider accepted your " + b.Category + " request",
		BookingID: b.ID,
		Payload:   models.BookingAcceptedPayload{BookingID: b.ID, ProviderID: actor.ID},
		Priority:  models.PriorityHigh,
	})
	s.statusChanged(b, lifecycle.ActionAccept)
	return b, nil
}

func (s *bookingService) Start(ctx context.Context, actor *models.Principal, id string) (*models.Booking, error) {
	b, err := s.transition(ctx, lifecycle.ActionStart, actor, id, func(b *models.Booking) (*models.Booking, error) {
		return s.repo.Start(ctx, b.ID, actor.ID, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, b.RequesterID, NotifyInput{
		Title:     "Work started",
		Message:   "Your provider started working on " + b.Category,
		BookingID: b.ID,
		Payload:   models.BookingStartedPayload{BookingID: b.ID, ProviderID: actor.ID},
	})
	s.statusChanged(b, lifecycle.ActionStart)
	return b, nil
}

func (s *bookingService) Complete(ctx context.Context, actor *models.Principal, id string, amount float64) (*models.Booking, error) {
	if err := lifecycle.ValidateAmount(amount); err != nil {
		return nil, err
	}
	b, err := s.transition(ctx, lifecycle.ActionComplete, actor, id, func(b *models.Booking) (*models.Booking, error) {
		return s.repo.Complete(ctx, b.ID, actor.ID, amount, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, b.RequesterID, NotifyInput{
		Title:     "Booking completed",
		Message:   "Your " + b.Category + " service is complete",
		BookingID: b.ID,
		Payload:   models.BookingCompletedPayload{BookingID: b.ID, Amount: b.Payment.Amount},
		Priority:  models.PriorityHigh,
	})
	s.statusChanged(b, lifecycle.ActionComplete)
	return b, nil
}

func (s *bookingService) Cancel(ctx context.Context, actor *models.Principal, id, reason string) (*models.Booking, error) {
	b, err := s.transition(ctx, lifecycle.ActionCancel, actor, id, func(b *models.Booking) (*models.Booking, error) {
		return s.repo.Cancel(ctx, b.ID, lifecycle.AllowedFrom(lifecycle.ActionCancel), actor.ID, strings.TrimSpace(reason), s.now())
	})
	if err != nil {
		return nil, err
	}
	if b.QuotaCounted {
		if err := s.stg.User().ReleaseBookingSlot(ctx, b.RequesterID); err != nil {
			s.log.Error("release booking slot", logger.String("booking_id", b.ID), logger.Error(err))
		}
	}

	payload := models.BookingCancelledPayload{BookingID: b.ID, CancelledBy: actor.ID, Reason: b.CancelReason}
	for _, recipient := range []string{b.RequesterID, b.Provider()} {
		if recipient == actor.ID {
			continue
		}
		s.notify(ctx, recipient, NotifyInput{
			Title:     "Booking cancelled",
			Message:   "Booking for " + b.Category + " was cancelled",
			BookingID: b.ID,
			Payload:   payload,
		})
	}
	s.statusChanged(b, lifecycle.ActionCancel)
	return b, nil
}

func (s *bookingService) ConfirmPayment(ctx context.Context, actor *models.Principal, id, transactionRef string) (*models.Booking, error) {
	transactionRef = strings.TrimSpace(transactionRef)
	if transactionRef == "" {
		return nil, errs.Invalid("transaction reference is required")
	}
	b, err := s.transition(ctx, lifecycle.ActionConfirmPayment, actor, id, func(b *models.Booking) (*models.Booking, error) {
		return s.repo.ConfirmPayment(ctx, b.ID, transactionRef, s.now())
	})
	if err != nil {
		return nil, err
	}
	payload := models.PaymentConfirmedPayload{BookingID: b.ID, Amount: b.Payment.Amount, TransactionRef: transactionRef}
	for _, recipient := range []string{b.RequesterID, b.Provider()} {
		s.notify(ctx, recipient, NotifyInput{
			Title:     "Payment confirmed",
			Message:   "Payment for " + b.Category + " was confirmed",
			BookingID: b.ID,
			Payload:   payload,
		})
	}
	return b, nil
}

func (s *bookingService) Rate(ctx context.Context, actor *models.Principal, id string, in RateInput) (*models.Booking, error) {
	if err := lifecycle.ValidateRating(in.Value); err != nil {
		return nil, err
	}
	b, err := s.transition(ctx, lifecycle.ActionRate, actor, id, func(b *models.Booking) (*models.Booking, error) {
		return s.repo.Rate(ctx, b.ID, actor.ID, models.Rating{
			Value:     in.Value,
			Comment:   strings.TrimSpace(in.Comment),
			Recommend: in.Recommend,
			CreatedAt: s.now(),
		}, s.now())
	})
	if err != nil {
		return nil, err
	}

	providerID := b.Provider()
	if avg, count, err := s.stg.User().RefreshRating(ctx, providerID); err != nil {
		s.log.Error("refresh provider rating", logger.String("provider_id", providerID), logger.Error(err))
	} else {
		s.log.Debug("provider rating refreshed", logger.String("provider_id", providerID), logger.Float64("rating", avg), logger.Int("reviews", count))
	}
	s.notify(ctx, providerID, NotifyInput{
		Title:     "New rating",
		Message:   "You received a rating for " + b.Category,
		BookingID: b.ID,
		Payload:   models.RatingReceivedPayload{BookingID: b.ID, Value: in.Value, Recommend: in.Recommend},
		Priority:  models.PriorityLow,
	})
	return b, nil
}

func (s *bookingService) disputeUpdated(ctx context.Context, b *models.Booking) {
	payload := models.DisputeUpdatePayload{
		BookingID:    b.ID,
		Status:       b.Dispute.Status,
		Resolution:   b.Dispute.Resolution,
		RefundAmount: b.Payment.RefundAmount,
	}
	for _, recipient := range []string{b.RequesterID, b.Provider()} {
		s.notify(ctx, recipient, NotifyInput{
			Title:     "Dispute " + string(b.Dispute.Status),
			Message:   "The dispute on your " + b.Category + " booking is " + string(b.Dispute.Status),
			BookingID: b.ID,
			Payload:   payload,
			Priority:  models.PriorityHigh,
		})
	}
}

func (s *bookingService) FlagDispute(ctx context.Context, actor *models.Principal, id, reason string) (*models.Booking, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errs.Invalid("dispute reason is required")
	}
	b, err := s.transition(ctx, lifecycle.ActionFlagDispute, actor, id, func(b *models.Booking) (*models.Booking, error) {
		now := s.now()
		return s.repo.FlagDispute(ctx, b.ID, models.Dispute{
			Status:    models.DisputePending,
			Reason:    reason,
			FlaggedBy: actor.ID,
			FlaggedAt: now,
		}, now)
	})
	if err != nil {
		return nil, err
	}
	s.disputeUpdated(ctx, b)
	if err := s.alerter.DisputeAlert(ctx, b); err != nil {
		s.log.Warning("dispute alert failed", logger.String("booking_id", b.ID), logger.Error(err))
	}
	return b, nil
}

func (s *bookingService) ReviewDispute(ctx context.Context, actor *models.Principal, id string) (*models.Booking, error) {
	b, err := s.transition(ctx, lifecycle.ActionReviewDispute, actor, id, func(b *models.Booking) (*models.Booking, error) {
		d := *b.Dispute
		d.Status = models.DisputeUnderReview
		return s.repo.UpdateDispute(ctx, b.ID, []models.DisputeStatus{models.DisputePending}, d, 0, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.disputeUpdated(ctx, b)
	return b, nil
}

func (s *bookingService) ResolveDispute(ctx context.Context, actor *models.Principal, id string, in ResolveInput) (*models.Booking, error) {
	if err := lifecycle.ValidateAmount(in.RefundAmount); err != nil {
		return nil, err
	}
	b, err := s.transition(ctx, lifecycle.ActionResolveDispute, actor, id, func(b *models.Booking) (*models.Booking, error) {
		if in.RefundAmount > b.Payment.Amount {
			return nil, errs.Invalid("refund %.2f exceeds the charged amount %.2f", in.RefundAmount, b.Payment.Amount)
		}
		now := s.now()
		d := *b.Dispute
		d.Status = models.DisputeResolved
		d.Resolution = strings.TrimSpace(in.Resolution)
		d.ResolvedBy = actor.ID
		d.ResolvedAt = &now
		return s.repo.UpdateDispute(ctx, b.ID, lifecycle.OpenDisputeStatuses(), d, in.RefundAmount, now)
	})
	if err != nil {
		return nil, err
	}
	s.disputeUpdated(ctx, b)
	return b, nil
}

func (s *bookingService) Purge(ctx context.Context, actor *models.Principal, id string) error {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := lifecycle.Check(lifecycle.ActionPurge, actor, b); err != nil {
		return err
	}
	if err := s.repo.Purge(ctx, id); err != nil {
		return err
	}
	if b.QuotaCounted && b.Status != models.StatusCancelled {
		if err := s.stg.User().ReleaseBookingSlot(ctx, b.RequesterID); err != nil {
			s.log.Error("release booking slot on purge", logger.String("booking_id", id), logger.Error(err))
		}
	}
	s.log.Info("booking purged", logger.String("booking_id", id), logger.String("by", actor.ID))
	s.publish(ctx, "booking.purge", map[string]string{"booking_id": id, "by": actor.ID})
	return nil
}

type paymentPaid struct {
	BookingID      string `json:"booking_id"`
	TransactionRef string `json:"transaction_ref"`
}

// paymentPaidHandler confirms payment when the gateway reports a charge.
// Replays of an already confirmed booking are dropped, not requeued.
func paymentPaidHandler(bookings BookingService) mq.Handler {
	return func(ctx context.Context, data json.RawMessage) error {
		var msg paymentPaid
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("%w: decode payment.paid: %v", mq.ErrPermanent, err)
		}
		_, err := bookings.ConfirmPayment(ctx, SystemActor, msg.BookingID, msg.TransactionRef)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, errs.ErrInvalidState), errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrInvalidInput):
			return fmt.Errorf("%w: %v", mq.ErrPermanent, err)
		default:
			return err
		}
	}
}
