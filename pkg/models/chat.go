package models

import (
	"sort"
	"time"
)

type Channel struct {
	ID           string    `json:"id"`
	BookingID    *string   `json:"booking_id"`
	PairKey      string    `json:"pair_key,omitempty"`
	Participants []string  `json:"participants"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
}

func (c *Channel) HasParticipant(id string) bool {
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// Others returns every participant except id.
func (c *Channel) Others(id string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != id {
			out = append(out, p)
		}
	}
	return out
}

// PairKey is the order-independent key of a non-booking channel.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + ":" + ids[1]
}

type Message struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	Seq         int64        `json:"seq"`
	SenderID    string       `json:"sender_id"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
	SentAt      time.Time    `json:"sent_at"`
	Read        bool         `json:"read"`
	ReadAt      *time.Time   `json:"read_at,omitempty"`
}
