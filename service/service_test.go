package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"roadassist/config"
	"roadassist/pkg/lifecycle"
	"roadassist/pkg/logger"
	"roadassist/pkg/models"
	"roadassist/pkg/presence"
	"roadassist/storage"
	"roadassist/storage/memory"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// delhi is the requester position used across the dispatch tests.
var delhi = models.Point{Lng: 77.209, Lat: 28.6139}

type pushed struct {
	to   string
	room string
	ev   presence.Event
}

type recordingPusher struct {
	mu  sync.Mutex
	got []pushed
}

func (p *recordingPusher) Push(principalID string, ev presence.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, pushed{to: principalID, ev: ev})
}

func (p *recordingPusher) PushRoom(room string, ev presence.Event, alsoTo ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, pushed{room: room, ev: ev})
	for _, id := range alsoTo {
		p.got = append(p.got, pushed{to: id, room: room, ev: ev})
	}
}

func (p *recordingPusher) named(name string) []pushed {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []pushed
	for _, x := range p.got {
		if x.ev.Name == name {
			out = append(out, x)
		}
	}
	return out
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) PublishJSON(ctx context.Context, key string, v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *recordingPublisher) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range p.keys {
		if k == key {
			return true
		}
	}
	return false
}

type countingAlerter struct {
	emergencies atomic.Int32
	disputes    atomic.Int32
}

func (a *countingAlerter) EmergencyAlert(context.Context, *models.Booking) error {
	a.emergencies.Add(1)
	return nil
}

func (a *countingAlerter) DisputeAlert(context.Context, *models.Booking) error {
	a.disputes.Add(1)
	return nil
}

type presentSet map[string]bool

func (p presentSet) IsPresent(id string) bool { return p[id] }

type roomSet struct {
	mu      sync.Mutex
	members map[string]map[string]bool
}

func (r *roomSet) join(id, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[room] == nil {
		r.members[room] = map[string]bool{}
	}
	r.members[room][id] = true
}

func (r *roomSet) has(id, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.members[room][id]
}

func (r *roomSet) Members(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []string{}
	for id := range r.members[room] {
		out = append(out, id)
	}
	return out
}

func (r *roomSet) Leave(id, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[room], id)
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	stg       *memory.Store
	svc       IServiceManager
	pusher    *recordingPusher
	publisher *recordingPublisher
	alerter   *countingAlerter
	rooms     *roomSet
}

func testConfig() config.Config {
	return config.Config{
		DispatchRadiusMeters: 10000,
		DispatchLimit:        20,
		BookingQuota:         2,
		NotificationTTL:      720 * time.Hour,
	}
}

func newFixture(t *testing.T, present ...string) *fixture {
	t.Helper()
	var tick atomic.Int64
	clock := func() time.Time {
		return t0.Add(time.Duration(tick.Add(1)) * time.Second)
	}
	set := presentSet{}
	for _, id := range present {
		set[id] = true
	}
	f := &fixture{
		t:         t,
		ctx:       context.Background(),
		stg:       memory.New(),
		pusher:    &recordingPusher{},
		publisher: &recordingPublisher{},
		alerter:   &countingAlerter{},
		rooms:     &roomSet{members: map[string]map[string]bool{}},
	}
	f.svc = New(f.stg, testConfig(), logger.NewNop(),
		WithPusher(f.pusher),
		WithPublisher(f.publisher),
		WithAlerter(f.alerter),
		WithPresence(set),
		WithRooms(f.rooms),
		WithClock(clock),
	)
	return f
}

func (f *fixture) principal(p models.Principal) *models.Principal {
	f.t.Helper()
	p.Active = true
	if err := f.stg.User().Upsert(f.ctx, &p); err != nil {
		f.t.Fatalf("Upsert(%s): %v", p.ID, err)
	}
	got, err := f.stg.User().GetByID(f.ctx, p.ID)
	if err != nil {
		f.t.Fatalf("GetByID(%s): %v", p.ID, err)
	}
	return got
}

func (f *fixture) requester(id string, ent models.Entitlement) *models.Principal {
	return f.principal(models.Principal{ID: id, Role: models.RoleRequester, Entitlement: ent})
}

func (f *fixture) provider(id string, at models.Point, approved bool) *models.Principal {
	return f.principal(models.Principal{ID: id, Role: models.RoleProvider, Approved: approved, Location: &at})
}

func (f *fixture) admin(id string) *models.Principal {
	return f.principal(models.Principal{ID: id, Role: models.RoleAdmin})
}

func (f *fixture) reload(p *models.Principal) *models.Principal {
	f.t.Helper()
	got, err := f.stg.User().GetByID(f.ctx, p.ID)
	if err != nil {
		f.t.Fatalf("GetByID(%s): %v", p.ID, err)
	}
	return got
}

func (f *fixture) create(actor *models.Principal, category string) *models.Booking {
	f.t.Helper()
	b, err := f.svc.Booking().Create(f.ctx, actor, newBooking(category, delhi))
	if err != nil {
		f.t.Fatalf("Create: %v", err)
	}
	return b
}

func (f *fixture) notifications(recipient string) []*models.Notification {
	f.t.Helper()
	got, err := f.svc.Notification().List(f.ctx, recipient, storage.NotificationFilter{})
	if err != nil {
		f.t.Fatalf("List(%s): %v", recipient, err)
	}
	return got
}

func (f *fixture) hasNotification(recipient string, typ models.NotificationType) bool {
	for _, n := range f.notifications(recipient) {
		if n.Type == typ {
			return true
		}
	}
	return false
}

func newBooking(category string, at models.Point) lifecycle.NewBooking {
	return lifecycle.NewBooking{
		Category: category,
		Location: models.GeoLocation{Point: at, Address: "Connaught Place"},
	}
}
