// Package lifecycle is the booking state machine: which action may move
// a booking from which status, and which principal may perform it.
// It holds no state and performs no I/O; storage applies the resulting
// transition with a conditional update guarded by the same from-status.
package lifecycle

import (
	"math"
	"strings"

	"roadassist/pkg/errs"
	"roadassist/pkg/models"
)

type Action string

const (
	ActionCreate         Action = "create"
	ActionSelectProvider Action = "select-provider"
	ActionAccept         Action = "accept"
	ActionStart          Action = "start"
	ActionComplete       Action = "complete"
	ActionCancel         Action = "cancel"
	ActionConfirmPayment Action = "confirm-payment"
	ActionRate           Action = "rate"
	ActionFlagDispute    Action = "flag-dispute"
	ActionReviewDispute  Action = "review-dispute"
	ActionResolveDispute Action = "resolve-dispute"
	ActionPurge          Action = "purge"
)

var transitionMap = map[Action][]models.BookingStatus{
	ActionSelectProvider: {models.StatusPending},
	ActionAccept:         {models.StatusPending},
	ActionStart:          {models.StatusAccepted},
	ActionComplete:       {models.StatusInProgress},
	ActionCancel:         {models.StatusPending, models.StatusAccepted},
	ActionConfirmPayment: {models.StatusCompleted},
	ActionRate:           {models.StatusCompleted},
}

// dispute and purge actions are orthogonal to the main status
var anyStatus = map[Action]bool{
	ActionFlagDispute:    true,
	ActionReviewDispute:  true,
	ActionResolveDispute: true,
	ActionPurge:          true,
}

var targetMap = map[Action]models.BookingStatus{
	ActionAccept:   models.StatusAccepted,
	ActionStart:    models.StatusInProgress,
	ActionComplete: models.StatusCompleted,
	ActionCancel:   models.StatusCancelled,
}

func ValidTransition(action Action, from models.BookingStatus) bool {
	if anyStatus[action] {
		return true
	}
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == from {
			return true
		}
	}
	return false
}

// AllowedFrom lists the statuses an action may start from; storage uses
// it as the guard of the conditional update.
func AllowedFrom(action Action) []models.BookingStatus {
	return append([]models.BookingStatus(nil), transitionMap[action]...)
}

// Target is the status a booking ends in after action; actions that do
// not move the main status return from unchanged.
func Target(action Action, from models.BookingStatus) models.BookingStatus {
	if to, ok := targetMap[action]; ok {
		return to
	}
	return from
}

// Check validates action against the booking and the acting principal.
// Role-level authorization runs first, then the status table, then the
// party checks, so a second provider racing for an already accepted
// booking sees ErrInvalidState rather than ErrNotAuthorized.
func Check(action Action, actor *models.Principal, b *models.Booking) (models.BookingStatus, error) {
	if actor == nil || b == nil {
		return "", errs.ErrNotAuthorized
	}
	if err := authorizeRole(action, actor); err != nil {
		return "", err
	}
	if !ValidTransition(action, b.Status) {
		return "", errs.ErrInvalidState
	}
	if err := authorizeParty(action, actor, b); err != nil {
		return "", err
	}
	if err := checkSubRecords(action, b); err != nil {
		return "", err
	}
	return Target(action, b.Status), nil
}

func authorizeRole(action Action, actor *models.Principal) error {
	if !actor.Active {
		return errs.ErrNotAuthorized
	}
	ok := false
	switch action {
	case ActionCreate, ActionSelectProvider, ActionRate:
		ok = actor.Role == models.RoleRequester
	case ActionAccept:
		ok = actor.Role == models.RoleProvider && actor.Approved
	case ActionStart, ActionComplete:
		ok = actor.Role == models.RoleProvider
	case ActionCancel:
		ok = actor.Role == models.RoleRequester || actor.Role == models.RoleProvider || actor.IsAdmin()
	case ActionConfirmPayment:
		ok = actor.Role == models.RoleRequester || actor.IsAdmin()
	case ActionFlagDispute:
		ok = actor.IsStaff()
	case ActionReviewDispute, ActionResolveDispute, ActionPurge:
		ok = actor.IsAdmin()
	}
	if !ok {
		return errs.ErrNotAuthorized
	}
	return nil
}

func authorizeParty(action Action, actor *models.Principal, b *models.Booking) error {
	switch action {
	case ActionSelectProvider, ActionRate:
		if b.RequesterID != actor.ID {
			return errs.ErrNotAuthorized
		}
	case ActionAccept:
		if b.ProviderID != nil && *b.ProviderID != actor.ID {
			return errs.ErrNotAuthorized
		}
	case ActionStart, ActionComplete:
		if !b.HasProvider(actor.ID) {
			return errs.ErrNotAuthorized
		}
	case ActionCancel:
		if actor.IsAdmin() {
			return nil
		}
		if actor.Role == models.RoleRequester && b.RequesterID != actor.ID {
			return errs.ErrNotAuthorized
		}
		if actor.Role == models.RoleProvider && !b.HasProvider(actor.ID) {
			return errs.ErrNotAuthorized
		}
	case ActionConfirmPayment:
		if !actor.IsAdmin() && b.RequesterID != actor.ID {
			return errs.ErrNotAuthorized
		}
	}
	return nil
}

func checkSubRecords(action Action, b *models.Booking) error {
	switch action {
	case ActionSelectProvider:
		if b.ProviderID != nil {
			return errs.ErrInvalidState
		}
	case ActionConfirmPayment:
		if b.Payment.Status != models.PaymentPending {
			return errs.ErrInvalidState
		}
	case ActionRate:
		if b.Rating != nil {
			return errs.ErrAlreadyRated
		}
		if b.Payment.Status != models.PaymentCompleted {
			return errs.ErrInvalidState
		}
	case ActionFlagDispute:
		if b.Dispute != nil && b.Dispute.Status != models.DisputeResolved {
			return errs.ErrInvalidState
		}
	case ActionReviewDispute:
		if b.Dispute == nil || b.Dispute.Status != models.DisputePending {
			return errs.ErrInvalidState
		}
	case ActionResolveDispute:
		if b.Dispute == nil || (b.Dispute.Status != models.DisputePending && b.Dispute.Status != models.DisputeUnderReview) {
			return errs.ErrInvalidState
		}
	}
	return nil
}

// OpenDisputeStatuses guard the conditional update of resolve-dispute.
func OpenDisputeStatuses() []models.DisputeStatus {
	return []models.DisputeStatus{models.DisputePending, models.DisputeUnderReview}
}

type NewBooking struct {
	Category       string
	Description    string
	IsEmergency    bool
	Attachments    []models.Attachment
	Location       models.GeoLocation
	RequiresTowing bool
	Towing         *models.Towing
}

// ValidateNew checks a creation request before any quota or storage work.
func ValidateNew(actor *models.Principal, in NewBooking) error {
	if actor == nil || !actor.Active || actor.Role != models.RoleRequester {
		return errs.ErrNotAuthorized
	}
	if err := in.Location.Point.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(in.Category) == "" {
		return errs.Invalid("category is required")
	}
	if in.RequiresTowing != (in.Towing != nil) {
		return errs.Invalid("towing details are required exactly when towing is requested")
	}
	if in.Towing != nil {
		if err := in.Towing.Pickup.Validate(); err != nil {
			return err
		}
		if err := in.Towing.Dropoff.Validate(); err != nil {
			return err
		}
	}
	for _, a := range in.Attachments {
		if strings.TrimSpace(a.URL) == "" {
			return errs.Invalid("attachment url is required")
		}
	}
	if in.IsEmergency && !actor.Entitlement.EmergencyAssistance {
		return errs.ErrNotAuthorized
	}
	return nil
}

// PriorityFor snapshots the tier at creation; it is never re-derived.
func PriorityFor(ent models.Entitlement, emergency bool) models.PriorityTier {
	switch {
	case emergency:
		return models.PriorityEmergency
	case ent.Active && ent.PriorityService:
		return models.PriorityPriority
	default:
		return models.PriorityStandard
	}
}

// NeedsQuota reports whether the requester is subject to the booking cap.
func NeedsQuota(ent models.Entitlement) bool {
	return !ent.Active
}

func ValidateRating(value int) error {
	if value < 1 || value > 5 {
		return errs.Invalid("rating must be between 1 and 5, got %d", value)
	}
	return nil
}

func ValidateAmount(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return errs.Invalid("amount must be a non-negative number")
	}
	return nil
}
