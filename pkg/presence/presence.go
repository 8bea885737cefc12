package presence

import (
	"errors"
	"sort"
	"sync"

	"roadassist/pkg/logger"
)

const (
	EventNewMessage           = "new-message"
	EventMessageRead          = "message-read"
	EventBookingStatusChanged = "booking-status-changed"
	EventNotification         = "notification"
	EventServiceRequestPopup  = "service-request-popup"
)

var ErrNotPresent = errors.New("principal not present")

// Event is one server-to-client frame.
type Event struct {
	Name    string      `json:"event"`
	Payload interface{} `json:"data"`
}

// Conn is a live transport connection. Send must not block.
type Conn interface {
	Send(ev Event) error
	Close() error
}

// Registry maps a principal to at most one live connection. It is
// process-local and starts empty after a restart, so absence is not
// proof of non-delivery.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
	rooms map[string]map[string]struct{}
	log   logger.ILogger
}

func New(log logger.ILogger) *Registry {
	return &Registry{
		conns: make(map[string]Conn),
		rooms: make(map[string]map[string]struct{}),
		log:   log,
	}
}

// Connect installs conn for the principal; a previous connection is
// replaced and closed.
func (r *Registry) Connect(principalID string, conn Conn) {
	r.mu.Lock()
	prev, ok := r.conns[principalID]
	r.conns[principalID] = conn
	r.mu.Unlock()

	if ok && prev != conn {
		if err := prev.Close(); err != nil {
			r.log.Debug("close replaced connection", logger.String("principal_id", principalID), logger.Error(err))
		}
	}
}

// Disconnect drops the principal's entry and room memberships.
func (r *Registry) Disconnect(principalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropLocked(principalID)
}

// Release is Disconnect for a specific connection: it is a no-op when a
// newer connection has already replaced conn.
func (r *Registry) Release(principalID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.conns[principalID]; !ok || current != conn {
		return false
	}
	r.dropLocked(principalID)
	return true
}

func (r *Registry) dropLocked(principalID string) {
	delete(r.conns, principalID)
	for room, members := range r.rooms {
		delete(members, principalID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

func (r *Registry) IsPresent(principalID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[principalID]
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Send pushes to the principal's live connection, or returns ErrNotPresent.
func (r *Registry) Send(principalID string, ev Event) error {
	r.mu.RLock()
	conn, ok := r.conns[principalID]
	r.mu.RUnlock()
	if !ok {
		return ErrNotPresent
	}
	return conn.Send(ev)
}

// Join adds a present principal to a room.
func (r *Registry) Join(principalID, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[principalID]; !ok {
		return ErrNotPresent
	}
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[principalID] = struct{}{}
	return nil
}

func (r *Registry) Leave(principalID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.rooms[room]; ok {
		delete(members, principalID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// Members lists the principals in room, sorted.
func (r *Registry) Members(room string) []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (r *Registry) InRoom(principalID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][principalID]
	return ok
}

// EmitRoom sends ev to every member of room and returns who received it.
func (r *Registry) EmitRoom(room string, ev Event) []string {
	r.mu.RLock()
	targets := make(map[string]Conn, len(r.rooms[room]))
	for id := range r.rooms[room] {
		if conn, ok := r.conns[id]; ok {
			targets[id] = conn
		}
	}
	r.mu.RUnlock()

	delivered := make([]string, 0, len(targets))
	for id, conn := range targets {
		if err := conn.Send(ev); err != nil {
			r.log.Warning("room push failed", logger.String("room", room), logger.String("principal_id", id), logger.Error(err))
			continue
		}
		delivered = append(delivered, id)
	}
	return delivered
}
