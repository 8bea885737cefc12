// Package realtime is the websocket transport. It authenticates a socket,
// registers it with the presence registry and turns client frames into
// service calls.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"roadassist/pkg/auth"
	"roadassist/pkg/errs"
	"roadassist/pkg/logger"
	"roadassist/pkg/models"
	"roadassist/pkg/presence"
	"roadassist/service"
)

const (
	EventAuthenticated = "authenticated"
	EventError         = "error"
)

// frame is one client-to-server message.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type errorFrame struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

type Server struct {
	registry *presence.Registry
	svc      service.IServiceManager
	verifier *auth.Verifier
	log      logger.ILogger
	upgrader websocket.Upgrader
}

func New(registry *presence.Registry, svc service.IServiceManager, verifier *auth.Verifier, log logger.ILogger) *Server {
	return &Server{
		registry: registry,
		svc:      svc,
		verifier: verifier,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and runs the read loop until the socket
// closes. A bearer token on the upgrade request authenticates immediately;
// otherwise the client sends an authenticate frame.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", logger.Error(err))
		return
	}
	c := newClient(ws)
	go c.writePump()

	ctx := r.Context()
	defer func() {
		if c.principal != nil {
			s.registry.Release(c.principal.ID, c)
			s.log.Debug("socket closed", logger.String("principal_id", c.principal.ID))
		}
		_ = c.Close()
	}()

	if tok := auth.FromHeader(r.Header.Get("Authorization")); tok != "" {
		s.authenticate(ctx, c, tok)
	}

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read", logger.Error(err))
			}
			return
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			s.reject(c, "", errs.Invalid("malformed frame"))
			continue
		}
		s.handle(ctx, c, f)
	}
}

func (s *Server) handle(ctx context.Context, c *client, f frame) {
	if f.Event == "authenticate" {
		var in struct {
			Token string `json:"token"`
		}
		_ = json.Unmarshal(f.Data, &in)
		s.authenticate(ctx, c, in.Token)
		return
	}
	if c.principal == nil {
		_ = c.Send(presence.Event{Name: EventError, Payload: errorFrame{Code: "unauthenticated", Message: "authenticate first", Event: f.Event}})
		return
	}

	var err error
	switch f.Event {
	case "join-room":
		err = s.joinRoom(ctx, c, f.Data)
	case "leave-room":
		var in struct {
			Room string `json:"room"`
		}
		_ = json.Unmarshal(f.Data, &in)
		s.registry.Leave(c.principal.ID, in.Room)
	case "send-message":
		err = s.sendMessage(ctx, c, f.Data)
	case "mark-read":
		var in struct {
			ChannelID string `json:"channel_id"`
		}
		_ = json.Unmarshal(f.Data, &in)
		_, err = s.svc.Chat().MarkRead(ctx, in.ChannelID, c.principal.ID)
	default:
		err = errs.Invalid("unknown event %q", f.Event)
	}
	if err != nil {
		s.reject(c, f.Event, err)
	}
}

func (s *Server) authenticate(ctx context.Context, c *client, token string) {
	claims, err := s.verifier.Parse(token)
	if err != nil {
		_ = c.Send(presence.Event{Name: EventError, Payload: errorFrame{Code: "unauthenticated", Message: err.Error(), Event: "authenticate"}})
		return
	}
	p, err := s.svc.Directory().Resolve(ctx, service.Identity{
		ID:       claims.Subject,
		Role:     claims.Role,
		Approved: claims.Approved,
		Active:   claims.Active,
	})
	if err != nil {
		s.reject(c, "authenticate", err)
		return
	}
	if c.principal != nil && c.principal.ID != p.ID {
		s.registry.Release(c.principal.ID, c)
	}
	c.principal = p
	s.registry.Connect(p.ID, c)
	_ = c.Send(presence.Event{Name: EventAuthenticated, Payload: map[string]string{"principal_id": p.ID, "role": p.Role}})
}

// joinRoom admits the principal to a booking room only when it may read
// the booking.
func (s *Server) joinRoom(ctx context.Context, c *client, data json.RawMessage) error {
	var in struct {
		Room string `json:"room"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return errs.Invalid("malformed join-room")
	}
	bookingID, ok := strings.CutPrefix(in.Room, models.BookingRoom(""))
	if !ok || bookingID == "" {
		return errs.Invalid("unknown room %q", in.Room)
	}
	if _, err := s.svc.Booking().Get(ctx, c.principal, bookingID); err != nil {
		return err
	}
	return s.registry.Join(c.principal.ID, in.Room)
}

func (s *Server) sendMessage(ctx context.Context, c *client, data json.RawMessage) error {
	var in struct {
		ChannelID   string              `json:"channel_id"`
		Content     string              `json:"content"`
		Attachments []models.Attachment `json:"attachments"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return errs.Invalid("malformed send-message")
	}
	m, err := s.svc.Chat().AppendMessage(ctx, in.ChannelID, c.principal.ID, in.Content, in.Attachments)
	if err != nil {
		return err
	}
	// echo to the sender so it learns the sequence number
	_ = c.Send(presence.Event{Name: presence.EventNewMessage, Payload: m})
	return nil
}

func (s *Server) reject(c *client, event string, err error) {
	msg := err.Error()
	if errs.HTTPStatus(err) >= http.StatusInternalServerError {
		s.log.Error("websocket event failed", logger.String("event", event), logger.Error(err))
		msg = "internal error"
	}
	_ = c.Send(presence.Event{Name: EventError, Payload: errorFrame{Code: errs.Code(err), Message: msg, Event: event}})
}
