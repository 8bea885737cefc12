package models

import "time"

// Payloads of live push events. These are not persisted.

type MessageReadEvent struct {
	ChannelID  string    `json:"channel_id"`
	ReaderID   string    `json:"reader_id"`
	MessageIDs []string  `json:"message_ids"`
	ReadAt     time.Time `json:"read_at"`
}

type BookingStatusEvent struct {
	BookingID  string        `json:"booking_id"`
	Status     BookingStatus `json:"status"`
	ProviderID string        `json:"provider_id,omitempty"`
	Action     string        `json:"action"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

type ServiceRequestPopup struct {
	Booking        *Booking `json:"booking"`
	DistanceMeters float64  `json:"distance_m"`
}
