package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"roadassist/pkg/errs"
	"roadassist/pkg/models"
	"roadassist/storage"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func seedBooking(t *testing.T, s *Store, id string) {
	t.Helper()
	b := &models.Booking{
		ID:          id,
		RequesterID: "req",
		Status:      models.StatusPending,
		Priority:    models.PriorityStandard,
		Category:    "battery",
		Location:    models.GeoLocation{Point: models.Point{Lng: 69.24, Lat: 41.31}},
		Payment:     models.Payment{Status: models.PaymentPending},
		CreatedAt:   t0,
		UpdatedAt:   t0,
	}
	if err := s.Booking().Create(context.Background(), b); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestConcurrentAcceptHasOneWinner(t *testing.T) {
	s := New()
	seedBooking(t, s, "b1")

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.Booking().Accept(context.Background(), "b1", string(rune('a'+i)), t0)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, errs.ErrInvalidState):
			t.Fatalf("loser got %v, want ErrInvalidState", err)
		}
	}
	if wins != 1 {
		t.Fatalf("%d providers accepted the same booking", wins)
	}
}

func TestGuardedUpdates(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedBooking(t, s, "b1")
	repo := s.Booking()

	if _, err := repo.Start(ctx, "b1", "p1", t0); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("start before accept = %v", err)
	}
	if _, err := repo.Accept(ctx, "missing", "p1", t0); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("accept missing = %v", err)
	}
	if _, err := repo.AssignProvider(ctx, "b1", "req", "p1", t0); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := repo.AssignProvider(ctx, "b1", "req", "p2", t0); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("reassign = %v", err)
	}
	if _, err := repo.Accept(ctx, "b1", "p2", t0); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("accept by unselected provider = %v", err)
	}
	if _, err := repo.Accept(ctx, "b1", "p1", t0); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := repo.Start(ctx, "b1", "p1", t0); err != nil {
		t.Fatalf("start: %v", err)
	}
	b, err := repo.Complete(ctx, "b1", "p1", 120, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if b.Payment.Amount != 120 || !b.UpdatedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("complete did not persist amount/updated_at: %+v", b)
	}
	if _, err := repo.Rate(ctx, "b1", "req", models.Rating{Value: 5}, t0); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("rate before payment = %v", err)
	}
	if _, err := repo.ConfirmPayment(ctx, "b1", "tx-1", t0); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := repo.Rate(ctx, "b1", "req", models.Rating{Value: 5}, t0); err != nil {
		t.Fatalf("rate: %v", err)
	}
	if _, err := repo.Rate(ctx, "b1", "req", models.Rating{Value: 1}, t0); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("second rate = %v", err)
	}

	// returned bookings are copies
	b.Status = models.StatusCancelled
	got, _ := repo.GetByID(ctx, "b1")
	if got.Status != models.StatusCompleted {
		t.Fatalf("caller mutation leaked into the store")
	}
}

func TestDisputeRefund(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedBooking(t, s, "b1")
	repo := s.Booking()

	if _, err := repo.FlagDispute(ctx, "b1", models.Dispute{Status: models.DisputePending, Reason: "late"}, t0); err != nil {
		t.Fatalf("flag: %v", err)
	}
	if _, err := repo.FlagDispute(ctx, "b1", models.Dispute{Status: models.DisputePending}, t0); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("second open dispute = %v", err)
	}
	open := []models.DisputeStatus{models.DisputePending, models.DisputeUnderReview}
	b, err := repo.UpdateDispute(ctx, "b1", open, models.Dispute{Status: models.DisputeResolved, Resolution: "refund"}, 40, t0)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if b.Payment.Status != models.PaymentRefunded || b.Payment.RefundAmount != 40 {
		t.Fatalf("refund not applied: %+v", b.Payment)
	}
	if _, err := repo.UpdateDispute(ctx, "b1", open, models.Dispute{Status: models.DisputeResolved}, 0, t0); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("double resolve = %v", err)
	}
}

func TestBookingSlots(t *testing.T) {
	s := New()
	ctx := context.Background()
	users := s.User()
	if err := users.ReserveBookingSlot(ctx, "ghost", 2); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("reserve for unknown principal = %v", err)
	}
	_ = users.Upsert(ctx, &models.Principal{ID: "req", Role: models.RoleRequester, Active: true})
	for i := 0; i < 2; i++ {
		if err := users.ReserveBookingSlot(ctx, "req", 2); err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
	}
	if err := users.ReserveBookingSlot(ctx, "req", 2); !errors.Is(err, errs.ErrQuotaExceeded) {
		t.Fatalf("third reserve = %v", err)
	}
	_ = users.ReleaseBookingSlot(ctx, "req")
	if err := users.ReserveBookingSlot(ctx, "req", 2); err != nil {
		t.Fatalf("reserve after release: %v", err)
	}

	// identity sync must not reset the counter
	_ = users.Upsert(ctx, &models.Principal{ID: "req", Role: models.RoleRequester, Active: true, FullName: "Renamed"})
	p, _ := users.GetByID(ctx, "req")
	if p.BookingsUsed != 2 || p.FullName != "Renamed" {
		t.Fatalf("upsert clobbered derived fields: %+v", p)
	}
}

func TestNearbyOrdering(t *testing.T) {
	s := New()
	ctx := context.Background()
	origin := models.Point{Lng: 69.2401, Lat: 41.2995}
	for _, p := range []struct {
		id  string
		lat float64
	}{{"far", 41.3895}, {"b", 41.3005}, {"a", 41.3005}, {"near", 41.2996}} {
		_ = s.User().Upsert(ctx, &models.Principal{ID: p.id, Role: models.RoleProvider, Active: true, Approved: true})
		if err := s.Location().UpsertLocation(ctx, p.id, models.RoleProvider, models.Point{Lng: 69.2401, Lat: p.lat}); err != nil {
			t.Fatalf("UpsertLocation: %v", err)
		}
	}
	got, err := s.Location().Nearby(ctx, models.RoleProvider, origin, 5000, 0)
	if err != nil {
		t.Fatalf("Nearby: %v", err)
	}
	want := []string{"near", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d: %+v", len(got), len(want), got)
	}
	for i, id := range want {
		if got[i].PrincipalID != id {
			t.Fatalf("candidate %d = %s, want %s", i, got[i].PrincipalID, id)
		}
	}
	if err := s.Location().UpsertLocation(ctx, "far", models.RoleRequester, origin); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("role mismatch = %v", err)
	}
}

func TestChannelsAndMessages(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedBooking(t, s, "b1")
	chat := s.Chat()
	bid := "b1"

	first, err := chat.CreateChannel(ctx, &models.Channel{ID: "c1", BookingID: &bid, Participants: []string{"req", "p1"}, CreatedAt: t0, LastActivity: t0})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	second, _ := chat.CreateChannel(ctx, &models.Channel{ID: "c2", BookingID: &bid, Participants: []string{"req", "p1"}})
	if second.ID != first.ID {
		t.Fatalf("booking got two channels: %s and %s", first.ID, second.ID)
	}
	ghost := "nope"
	if _, err := chat.CreateChannel(ctx, &models.Channel{ID: "c3", BookingID: &ghost}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("channel for missing booking = %v", err)
	}

	for i, sender := range []string{"req", "p1", "req"} {
		m := &models.Message{ID: string(rune('x' + i)), ChannelID: "c1", SenderID: sender, SentAt: t0.Add(time.Duration(i) * time.Minute)}
		if err := chat.AppendMessage(ctx, m); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		if m.Seq == 0 {
			t.Fatalf("sequence not assigned")
		}
	}
	if n, _ := chat.UnreadCount(ctx, "p1"); n != 2 {
		t.Fatalf("p1 unread = %d, want 2", n)
	}
	ids, _ := chat.MarkRead(ctx, "c1", "p1", t0)
	if len(ids) != 2 {
		t.Fatalf("MarkRead flipped %v", ids)
	}
	if n, _ := chat.UnreadCount(ctx, "p1"); n != 0 {
		t.Fatalf("p1 unread after read = %d", n)
	}
	msgs, _ := chat.ListMessages(ctx, "c1", 1, 0)
	if len(msgs) != 2 || msgs[0].Seq != 2 {
		t.Fatalf("ListMessages after seq 1 = %+v", msgs)
	}

	if err := s.Booking().Purge(ctx, "b1"); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if _, err := chat.GetChannel(ctx, "c1"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("channel survived purge: %v", err)
	}
}

func TestNotificationExpiry(t *testing.T) {
	s := New()
	ctx := context.Background()
	repo := s.Notification()
	for i, exp := range []time.Duration{time.Hour, -time.Hour, 2 * time.Hour} {
		n := &models.Notification{
			ID:          string(rune('a' + i)),
			RecipientID: "u1",
			Type:        models.NotifNewMessage,
			CreatedAt:   t0.Add(time.Duration(i) * time.Second),
			ExpiresAt:   t0.Add(exp),
		}
		if err := repo.Create(ctx, n); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	list, _ := repo.List(ctx, "u1", storage.NotificationFilter{}, t0)
	if len(list) != 2 || list[0].ID != "c" {
		t.Fatalf("List = %+v", list)
	}
	if n, _ := repo.UnreadCount(ctx, "u1", t0); n != 2 {
		t.Fatalf("UnreadCount = %d", n)
	}
	if _, err := repo.GetByID(ctx, "a", "someone-else"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("foreign read = %v", err)
	}
	purged, _ := repo.PurgeExpired(ctx, t0)
	if purged != 1 {
		t.Fatalf("PurgeExpired = %d", purged)
	}
}
