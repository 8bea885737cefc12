package models

import "time"

type BookingStatus string

const (
	StatusPending    BookingStatus = "pending"
	StatusAccepted   BookingStatus = "accepted"
	StatusInProgress BookingStatus = "in-progress"
	StatusCompleted  BookingStatus = "completed"
	StatusCancelled  BookingStatus = "cancelled"
)

// rank orders the main lifecycle; cancelled sits outside it.
func (s BookingStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusAccepted:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether s is at or beyond other on the main lifecycle.
func (s BookingStatus) AtLeast(other BookingStatus) bool {
	return s.rank() >= 0 && s.rank() >= other.rank()
}

type PriorityTier string

const (
	PriorityStandard  PriorityTier = "standard"
	PriorityPriority  PriorityTier = "priority"
	PriorityEmergency PriorityTier = "emergency"
)

// Weight is used to order open bookings for providers, higher first.
func (t PriorityTier) Weight() int {
	switch t {
	case PriorityEmergency:
		return 2
	case PriorityPriority:
		return 1
	default:
		return 0
	}
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type DisputeStatus string

const (
	DisputePending     DisputeStatus = "pending"
	DisputeUnderReview DisputeStatus = "under-review"
	DisputeResolved    DisputeStatus = "resolved"
)

type TowingStatus string

const (
	TowingPending   TowingStatus = "pending"
	TowingEnRoute   TowingStatus = "en-route"
	TowingCompleted TowingStatus = "completed"
)

type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
}

type Towing struct {
	Pickup  Point        `json:"pickup"`
	Dropoff Point        `json:"dropoff"`
	Status  TowingStatus `json:"status"`
	Free    bool         `json:"free"`
}

type Payment struct {
	Amount          float64       `json:"amount"`
	Status          PaymentStatus `json:"status"`
	DiscountPercent float64       `json:"discount_percent"`
	TransactionRef  string        `json:"transaction_ref,omitempty"`
	RefundAmount    float64       `json:"refund_amount,omitempty"`
}

type Dispute struct {
	Status     DisputeStatus `json:"status"`
	Reason     string        `json:"reason"`
	Resolution string        `json:"resolution,omitempty"`
	FlaggedBy  string        `json:"flagged_by"`
	ResolvedBy string        `json:"resolved_by,omitempty"`
	FlaggedAt  time.Time     `json:"flagged_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

type Rating struct {
	Value     int       `json:"value"`
	Comment   string    `json:"comment,omitempty"`
	Recommend bool      `json:"recommend"`
	CreatedAt time.Time `json:"created_at"`
}

type Booking struct {
	ID             string        `json:"id"`
	RequesterID    string        `json:"requester_id"`
	ProviderID     *string       `json:"provider_id"`
	Status         BookingStatus `json:"status"`
	Priority       PriorityTier  `json:"priority"`
	Category       string        `json:"category"`
	Description    string        `json:"description"`
	IsEmergency    bool          `json:"is_emergency"`
	Attachments    []Attachment  `json:"attachments"`
	Location       GeoLocation   `json:"location"`
	RequiresTowing bool          `json:"requires_towing"`
	Towing         *Towing       `json:"towing,omitempty"`
	Payment        Payment       `json:"payment"`
	Dispute        *Dispute      `json:"dispute,omitempty"`
	Rating         *Rating       `json:"rating,omitempty"`
	QuotaCounted   bool          `json:"quota_counted"`
	CancelledBy    string        `json:"cancelled_by,omitempty"`
	CancelReason   string        `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func (b *Booking) Provider() string {
	if b.ProviderID == nil {
		return ""
	}
	return *b.ProviderID
}

func (b *Booking) HasProvider(id string) bool {
	return b.ProviderID != nil && *b.ProviderID == id
}

// IsParty reports whether the principal is the requester or the assigned provider.
func (b *Booking) IsParty(id string) bool {
	return b.RequesterID == id || b.HasProvider(id)
}

// Counterpart returns the other party of the booking relative to id.
func (b *Booking) Counterpart(id string) string {
	if b.RequesterID == id {
		return b.Provider()
	}
	return b.RequesterID
}

// Room is the realtime room that both parties join for live refresh.
func (b *Booking) Room() string {
	return BookingRoom(b.ID)
}

func BookingRoom(bookingID string) string {
	return "booking:" + bookingID
}

func (b *Booking) Clone() *Booking {
	c := *b
	if b.ProviderID != nil {
		p := *b.ProviderID
		c.ProviderID = &p
	}
	c.Attachments = append([]Attachment(nil), b.Attachments...)
	if b.Towing != nil {
		t := *b.Towing
		c.Towing = &t
	}
	if b.Dispute != nil {
		d := *b.Dispute
		c.Dispute = &d
	}
	if b.Rating != nil {
		r := *b.Rating
		c.Rating = &r
	}
	return &c
}
