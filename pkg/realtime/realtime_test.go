package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"roadassist/config"
	"roadassist/pkg/auth"
	"roadassist/pkg/lifecycle"
	"roadassist/pkg/logger"
	"roadassist/pkg/models"
	"roadassist/pkg/presence"
	"roadassist/service"
	"roadassist/storage/memory"
)

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type harness struct {
	t        *testing.T
	srv      *httptest.Server
	registry *presence.Registry
	svc      service.IServiceManager
	verifier *auth.Verifier
}

func newHarness(t *testing.T) *harness {
	log := logger.NewNop()
	registry := presence.New(log)
	cfg := config.Config{DispatchRadiusMeters: 10000, DispatchLimit: 20, BookingQuota: 5, NotificationTTL: time.Hour}
	svc := service.New(memory.New(), cfg, log, service.WithPresence(registry))
	v := auth.NewVerifier("ws-secret")
	h := &harness{t: t, registry: registry, svc: svc, verifier: v}
	h.srv = httptest.NewServer(New(registry, svc, v, log))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) dial() *websocket.Conn {
	h.t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		h.t.Fatalf("dial: %v", err)
	}
	h.t.Cleanup(func() { ws.Close() })
	return ws
}

func (h *harness) token(sub, role string) string {
	tok, err := h.verifier.Sign(sub, role, true, true, time.Hour)
	if err != nil {
		h.t.Fatalf("Sign: %v", err)
	}
	return tok
}

func send(t *testing.T, ws *websocket.Conn, event string, data interface{}) {
	t.Helper()
	if err := ws.WriteJSON(map[string]interface{}{"event": event, "data": data}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func expect(t *testing.T, ws *websocket.Conn, event string) inbound {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var in inbound
	if err := ws.ReadJSON(&in); err != nil {
		t.Fatalf("waiting for %s: %v", event, err)
	}
	if in.Event != event {
		t.Fatalf("got %s %s, want %s", in.Event, in.Data, event)
	}
	return in
}

func (h *harness) login(ws *websocket.Conn, sub, role string) {
	h.t.Helper()
	send(h.t, ws, "authenticate", map[string]string{"token": h.token(sub, role)})
	expect(h.t, ws, EventAuthenticated)
}

func TestAuthenticateRegistersPresence(t *testing.T) {
	h := newHarness(t)
	ws := h.dial()

	send(t, ws, "join-room", map[string]string{"room": "booking:x"})
	var e errorFrame
	json.Unmarshal(expect(t, ws, EventError).Data, &e)
	if e.Code != "unauthenticated" {
		t.Fatalf("pre-auth frame error %+v", e)
	}

	h.login(ws, "r1", models.RoleRequester)
	if !h.registry.IsPresent("r1") {
		t.Fatalf("authenticated socket not registered")
	}
	if err := h.registry.Send("r1", presence.Event{Name: presence.EventNotification, Payload: "hello"}); err != nil {
		t.Fatalf("registry Send: %v", err)
	}
	expect(t, ws, presence.EventNotification)

	ws.Close()
	deadline := time.Now().Add(2 * time.Second)
	for h.registry.IsPresent("r1") {
		if time.Now().After(deadline) {
			t.Fatalf("presence survived disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRejectsBadFrames(t *testing.T) {
	h := newHarness(t)
	ws := h.dial()

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var e errorFrame
	json.Unmarshal(expect(t, ws, EventError).Data, &e)
	if e.Code != "invalid_input" {
		t.Fatalf("malformed frame error %+v", e)
	}

	send(t, ws, "authenticate", map[string]string{"token": "nope"})
	json.Unmarshal(expect(t, ws, EventError).Data, &e)
	if e.Code != "unauthenticated" {
		t.Fatalf("bad token error %+v", e)
	}
}

func TestBookingRoomAndChat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	requester, err := h.svc.Directory().Resolve(ctx, service.Identity{ID: "r1", Role: models.RoleRequester, Active: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	provider, err := h.svc.Directory().Resolve(ctx, service.Identity{ID: "p1", Role: models.RoleProvider, Approved: true, Active: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	b, err := h.svc.Booking().Create(ctx, requester, lifecycle.NewBooking{
		Category: "battery",
		Location: models.GeoLocation{Point: models.Point{Lng: 77.209, Lat: 28.6139}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := h.svc.Booking().Accept(ctx, provider, b.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	ch, err := h.svc.Chat().GetOrCreateChannel(ctx, requester, b.ID)
	if err != nil {
		t.Fatalf("GetOrCreateChannel: %v", err)
	}

	rws := h.dial()
	h.login(rws, "r1", models.RoleRequester)
	send(t, rws, "join-room", map[string]string{"room": b.Room()})
	deadline := time.Now().Add(2 * time.Second)
	for !h.registry.InRoom("r1", b.Room()) {
		if time.Now().After(deadline) {
			t.Fatalf("requester never joined the booking room")
		}
		time.Sleep(10 * time.Millisecond)
	}

	stranger := h.dial()
	h.login(stranger, "r2", models.RoleRequester)
	send(t, stranger, "join-room", map[string]string{"room": b.Room()})
	var e errorFrame
	json.Unmarshal(expect(t, stranger, EventError).Data, &e)
	if e.Code != "not_authorized" {
		t.Fatalf("stranger join error %+v", e)
	}

	send(t, rws, "send-message", map[string]string{"channel_id": ch.ID, "content": "where are you?"})
	var m models.Message
	json.Unmarshal(expect(t, rws, presence.EventNewMessage).Data, &m)
	if m.Content != "where are you?" || m.Seq == 0 {
		t.Fatalf("echoed message %+v", m)
	}
	msgs, err := h.svc.Chat().ListMessages(ctx, provider, ch.ID, 0, 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("stored messages %v, %v", msgs, err)
	}
}
