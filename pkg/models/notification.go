package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type NotificationType string

const (
	NotifServiceRequest   NotificationType = "service_request"
	NotifEmergencyRequest NotificationType = "emergency_request"
	NotifProviderSelected NotificationType = "provider_selected"
	NotifBookingAccepted  NotificationType = "booking_accepted"
	NotifBookingStarted   NotificationType = "booking_started"
	NotifBookingCompleted NotificationType = "booking_completed"
	NotifBookingCancelled NotificationType = "booking_cancelled"
	NotifPaymentConfirmed NotificationType = "payment_confirmed"
	NotifRatingReceived   NotificationType = "rating_received"
	NotifDisputeUpdate    NotificationType = "dispute_update"
	NotifNewMessage       NotificationType = "new_message"
)

type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

func (p NotificationPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// NotificationPayload is a closed union: one struct per NotificationType.
// The unexported marker keeps other packages from adding variants.
type NotificationPayload interface {
	NotificationType() NotificationType
	isNotificationPayload()
}

type ServiceRequestPayload struct {
	BookingID      string       `json:"booking_id"`
	Category       string       `json:"category"`
	Address        string       `json:"address"`
	DistanceMeters float64      `json:"distance_m,omitempty"`
	Priority       PriorityTier `json:"priority"`
	IsEmergency    bool         `json:"is_emergency"`
}

type EmergencyRequestPayload struct {
	BookingID   string `json:"booking_id"`
	RequesterID string `json:"requester_id"`
	Category    string `json:"category"`
	Address     string `json:"address"`
	Point       Point  `json:"point"`
}

type ProviderSelectedPayload struct {
	BookingID   string `json:"booking_id"`
	RequesterID string `json:"requester_id"`
	ChannelID   string `json:"channel_id,omitempty"`
}

type BookingAcceptedPayload struct {
	BookingID  string `json:"booking_id"`
	ProviderID string `json:"provider_id"`
}

type BookingStartedPayload struct {
	BookingID  string `json:"booking_id"`
	ProviderID string `json:"provider_id"`
}

type BookingCompletedPayload struct {
	BookingID string  `json:"booking_id"`
	Amount    float64 `json:"amount"`
}

type BookingCancelledPayload struct {
	BookingID   string `json:"booking_id"`
	CancelledBy string `json:"cancelled_by"`
	Reason      string `json:"reason,omitempty"`
}

type PaymentConfirmedPayload struct {
	BookingID      string  `json:"booking_id"`
	Amount         float64 `json:"amount"`
	TransactionRef string  `json:"transaction_ref"`
}

type RatingReceivedPayload struct {
	BookingID string `json:"booking_id"`
	Value     int    `json:"value"`
	Recommend bool   `json:"recommend"`
}

type DisputeUpdatePayload struct {
	BookingID    string        `json:"booking_id"`
	Status       DisputeStatus `json:"status"`
	Resolution   string        `json:"resolution,omitempty"`
	RefundAmount float64       `json:"refund_amount,omitempty"`
}

type NewMessagePayload struct {
	BookingID string `json:"booking_id,omitempty"`
	ChannelID string `json:"channel_id"`
	SenderID  string `json:"sender_id"`
	Preview   string `json:"preview"`
}

func (ServiceRequestPayload) NotificationType() NotificationType   { return NotifServiceRequest }
func (EmergencyRequestPayload) NotificationType() NotificationType { return NotifEmergencyRequest }
func (ProviderSelectedPayload) NotificationType() NotificationType { return NotifProviderSelected }
func (BookingAcceptedPayload) NotificationType() NotificationType  { return NotifBookingAccepted }
func (BookingStartedPayload) NotificationType() NotificationType   { return NotifBookingStarted }
func (BookingCompletedPayload) NotificationType() NotificationType { return NotifBookingCompleted }
func (BookingCancelledPayload) NotificationType() NotificationType { return NotifBookingCancelled }
func (PaymentConfirmedPayload) NotificationType() NotificationType { return NotifPaymentConfirmed }
func (RatingReceivedPayload) NotificationType() NotificationType   { return NotifRatingReceived }
func (DisputeUpdatePayload) NotificationType() NotificationType    { return NotifDisputeUpdate }
func (NewMessagePayload) NotificationType() NotificationType       { return NotifNewMessage }

func (ServiceRequestPayload) isNotificationPayload()   {}
func (EmergencyRequestPayload) isNotificationPayload() {}
func (ProviderSelectedPayload) isNotificationPayload() {}
func (BookingAcceptedPayload) isNotificationPayload()  {}
func (BookingStartedPayload) isNotificationPayload()   {}
func (BookingCompletedPayload) isNotificationPayload() {}
func (BookingCancelledPayload) isNotificationPayload() {}
func (PaymentConfirmedPayload) isNotificationPayload() {}
func (RatingReceivedPayload) isNotificationPayload()   {}
func (DisputeUpdatePayload) isNotificationPayload()    {}
func (NewMessagePayload) isNotificationPayload()       {}

// DecodePayload turns stored JSON back into the variant for t.
func DecodePayload(t NotificationType, raw []byte) (NotificationPayload, error) {
	var p NotificationPayload
	switch t {
	case NotifServiceRequest:
		p = &ServiceRequestPayload{}
	case NotifEmergencyRequest:
		p = &EmergencyRequestPayload{}
	case NotifProviderSelected:
		p = &ProviderSelectedPayload{}
	case NotifBookingAccepted:
		p = &BookingAcceptedPayload{}
	case NotifBookingStarted:
		p = &BookingStartedPayload{}
	case NotifBookingCompleted:
		p = &BookingCompletedPayload{}
	case NotifBookingCancelled:
		p = &BookingCancelledPayload{}
	case NotifPaymentConfirmed:
		p = &PaymentConfirmedPayload{}
	case NotifRatingReceived:
		p = &RatingReceivedPayload{}
	case NotifDisputeUpdate:
		p = &DisputeUpdatePayload{}
	case NotifNewMessage:
		p = &NewMessagePayload{}
	default:
		return nil, fmt.Errorf("unknown notification type %q", t)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
	}
	return derefPayload(p), nil
}

func derefPayload(p NotificationPayload) NotificationPayload {
	switch v := p.(type) {
	case *ServiceRequestPayload:
		return *v
	case *EmergencyRequestPayload:
		return *v
	case *ProviderSelectedPayload:
		return *v
	case *BookingAcceptedPayload:
		return *v
	case *BookingStartedPayload:
		return *v
	case *BookingCompletedPayload:
		return *v
	case *BookingCancelledPayload:
		return *v
	case *PaymentConfirmedPayload:
		return *v
	case *RatingReceivedPayload:
		return *v
	case *DisputeUpdatePayload:
		return *v
	case *NewMessagePayload:
		return *v
	}
	return p
}

type Notification struct {
	ID          string               `json:"id"`
	RecipientID string               `json:"recipient_id"`
	Type        NotificationType     `json:"type"`
	Title       string               `json:"title"`
	Message     string               `json:"message"`
	BookingID   string               `json:"booking_id,omitempty"`
	Link        string               `json:"link,omitempty"`
	Payload     NotificationPayload  `json:"payload"`
	Priority    NotificationPriority `json:"priority"`
	Read        bool                 `json:"read"`
	ReadAt      *time.Time           `json:"read_at,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	ExpiresAt   time.Time            `json:"expires_at"`
}

func (n *Notification) UnmarshalJSON(data []byte) error {
	type alias Notification
	aux := struct {
		*alias
		Payload json.RawMessage `json:"payload"`
	}{alias: (*alias)(n)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p, err := DecodePayload(n.Type, aux.Payload)
	if err != nil {
		return err
	}
	n.Payload = p
	return nil
}
