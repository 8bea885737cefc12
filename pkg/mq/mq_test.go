package mq

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("UZT", 5*3600))
	env, err := NewEnvelope("booking.created", map[string]string{"booking_id": "b1"}, at)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.Version != 1 || env.OccurredAt.Location() != time.UTC {
		t.Fatalf("unexpected envelope header: %+v", env)
	}

	raw, _ := json.Marshal(env)
	var back Envelope
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var data struct {
		BookingID string `json:"booking_id"`
	}
	if err := json.Unmarshal(back.Data, &data); err != nil || data.BookingID != "b1" {
		t.Fatalf("data lost in transit: %s (%v)", back.Data, err)
	}
}
