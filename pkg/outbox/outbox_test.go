package outbox

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"roadassist/pkg/logger"
	"roadassist/pkg/presence"
)

type delivery struct {
	to   string
	name string
}

type fakeSink struct {
	mu      sync.Mutex
	present map[string]bool
	rooms   map[string][]string
	got     []delivery
	notify  chan struct{}
}

func newFakeSink(present ...string) *fakeSink {
	s := &fakeSink{present: map[string]bool{}, rooms: map[string][]string{}, notify: make(chan struct{}, 1024)}
	for _, id := range present {
		s.present[id] = true
	}
	return s
}

func (s *fakeSink) Send(id string, ev presence.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.present[id] {
		return presence.ErrNotPresent
	}
	s.got = append(s.got, delivery{to: id, name: ev.Name})
	s.notify <- struct{}{}
	return nil
}

func (s *fakeSink) EmitRoom(room string, ev presence.Event) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.rooms[room] {
		s.got = append(s.got, delivery{to: id, name: ev.Name})
		s.notify <- struct{}{}
	}
	return append([]string(nil), s.rooms[room]...)
}

func (s *fakeSink) wait(t *testing.T, n int) []delivery {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d deliveries", i, n)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery(nil), s.got...)
}

func TestOutboxPreservesOrder(t *testing.T) {
	sink := newFakeSink("u1")
	o := New(sink, 64, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	for i := 0; i < 20; i++ {
		o.Push("u1", presence.Event{Name: fmt.Sprintf("e%d", i)})
	}
	got := sink.wait(t, 20)
	for i, d := range got {
		if d.name != fmt.Sprintf("e%d", i) {
			t.Fatalf("delivery %d = %s, out of order", i, d.name)
		}
	}
}

func TestOutboxRoomThenDirect(t *testing.T) {
	sink := newFakeSink("a", "b")
	sink.rooms["booking:1"] = []string{"a"}
	o := New(sink, 8, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	// a is reached through the room and must not get a second copy
	o.PushRoom("booking:1", presence.Event{Name: presence.EventBookingStatusChanged}, "a", "b", "offline")
	got := sink.wait(t, 2)
	if len(got) != 2 {
		t.Fatalf("got %d deliveries: %+v", len(got), got)
	}
	seen := map[string]int{}
	for _, d := range got {
		seen[d.to]++
	}
	if seen["a"] != 1 || seen["b"] != 1 {
		t.Fatalf("unexpected fan-out %v", seen)
	}
}

func TestOutboxDropsWhenFull(t *testing.T) {
	o := New(newFakeSink(), 1, logger.NewNop())
	o.Push("u1", presence.Event{Name: "first"})
	o.Push("u1", presence.Event{Name: "second"})
	if o.Dropped() != 1 {
		t.Fatalf("Dropped()=%d, want 1", o.Dropped())
	}
}
