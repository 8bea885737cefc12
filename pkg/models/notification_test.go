package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"roadassist/pkg/errs"
)

func TestPointValidate(t *testing.T) {
	cases := []struct {
		p     Point
		valid bool
	}{
		{Point{Lng: 77.209, Lat: 28.6139}, true},
		{Point{Lng: 0, Lat: 0}, false},
		{Point{Lng: 0, Lat: 10}, true},
		{Point{Lng: 181, Lat: 10}, false},
		{Point{Lng: -180, Lat: -90}, true},
		{Point{Lng: 10, Lat: 90.5}, false},
	}
	for _, tt := range cases {
		err := tt.p.Validate()
		if tt.valid && err != nil {
			t.Fatalf("Validate(%v) unexpected error %v", tt.p, err)
		}
		if !tt.valid && !errors.Is(err, errs.ErrInvalidLocation) {
			t.Fatalf("Validate(%v)=%v, want ErrInvalidLocation", tt.p, err)
		}
	}
}

func TestDistanceTo(t *testing.T) {
	delhi := Point{Lng: 77.209, Lat: 28.6139}
	if d := delhi.DistanceTo(delhi); d != 0 {
		t.Fatalf("distance to self = %f", d)
	}
	// one hundredth of a degree of latitude is roughly 1.1 km
	north := Point{Lng: 77.209, Lat: 28.6239}
	d := delhi.DistanceTo(north)
	if d < 1100 || d > 1125 {
		t.Fatalf("unexpected distance %f", d)
	}
}

func TestNotificationJSONKeepsVariant(t *testing.T) {
	in := Notification{
		ID:          "n1",
		RecipientID: "p1",
		Type:        NotifServiceRequest,
		Title:       "New request",
		Payload: ServiceRequestPayload{
			BookingID:      "b1",
			Category:       "flat-tyre",
			DistanceMeters: 850,
			Priority:       PriorityEmergency,
		},
		Priority:  PriorityHigh,
		CreatedAt: time.Unix(100, 0).UTC(),
	}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Notification
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	p, ok := out.Payload.(ServiceRequestPayload)
	if !ok {
		t.Fatalf("payload type %T", out.Payload)
	}
	if p.BookingID != "b1" || p.Priority != PriorityEmergency || p.DistanceMeters != 850 {
		t.Fatalf("payload mismatch: %+v", p)
	}
}

func TestDecodePayloadRejectsUnknownType(t *testing.T) {
	if _, err := DecodePayload("bogus", []byte(`{}`)); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestStatusAtLeast(t *testing.T) {
	if !StatusCompleted.AtLeast(StatusAccepted) {
		t.Fatalf("completed should be >= accepted")
	}
	if StatusPending.AtLeast(StatusAccepted) {
		t.Fatalf("pending should be < accepted")
	}
	if StatusCancelled.AtLeast(StatusPending) {
		t.Fatalf("cancelled is off the main lifecycle")
	}
}

func TestEveryTypeHasOneVariant(t *testing.T) {
	types := []NotificationType{
		NotifServiceRequest, NotifEmergencyRequest, NotifProviderSelected,
		NotifBookingAccepted, NotifBookingStarted, NotifBookingCompleted,
		NotifBookingCancelled, NotifPaymentConfirmed, NotifRatingReceived,
		NotifDisputeUpdate, NotifNewMessage,
	}
	for _, typ := range types {
		p, err := DecodePayload(typ, nil)
		if err != nil {
			t.Fatalf("DecodePayload(%s): %v", typ, err)
		}
		if p.NotificationType() != typ {
			t.Fatalf("%s decoded to %T", typ, p)
		}
	}
}
