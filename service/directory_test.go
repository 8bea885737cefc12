package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"roadassist/pkg/errs"
	"roadassist/pkg/logger"
	"roadassist/pkg/models"
	"roadassist/pkg/mq"
)

func TestResolveCreatesAndRefreshes(t *testing.T) {
	f := newFixture(t)
	dir := f.svc.Directory()

	p, err := dir.Resolve(f.ctx, Identity{ID: "p1", Role: models.RoleProvider, Active: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Approved || !p.Active {
		t.Fatalf("new principal %+v", p)
	}

	p, err = dir.Resolve(f.ctx, Identity{ID: "p1", Role: models.RoleProvider, Approved: true, Active: true})
	if err != nil || !p.Approved {
		t.Fatalf("approval not picked up: %+v, %v", p, err)
	}
	stored, _ := dir.Get(f.ctx, "p1")
	if !stored.Approved {
		t.Fatalf("approval not persisted")
	}

	if _, err := dir.Resolve(f.ctx, Identity{ID: "x", Role: "superuser", Active: true}); !errors.Is(err, errs.ErrNotAuthorized) {
		t.Fatalf("unknown role = %v", err)
	}
}

func TestSyncKeepsIndexFresh(t *testing.T) {
	f := newFixture(t)
	dir := f.svc.Directory()
	at := models.Point{Lng: 77.219, Lat: 28.6139}
	q := NearbyQuery{Point: delhi, Role: models.RoleProvider, MaxDistanceMeters: 5000}

	if err := dir.Sync(f.ctx, &models.Principal{ID: "p1", Role: models.RoleProvider, Approved: true, Active: true, Location: &at}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	got, err := f.svc.Matcher().FindNearby(f.ctx, q)
	if err != nil || len(got) != 1 {
		t.Fatalf("synced provider not found: %v, %v", got, err)
	}

	if err := dir.Sync(f.ctx, &models.Principal{ID: "p1", Role: models.RoleProvider, Approved: true}); err != nil {
		t.Fatalf("Sync inactive: %v", err)
	}
	got, err = f.svc.Matcher().FindNearby(f.ctx, q)
	if err != nil || len(got) != 0 {
		t.Fatalf("deactivated provider still indexed: %v, %v", got, err)
	}
}

func TestSyncKeepsCounters(t *testing.T) {
	f := newFixture(t)
	r := f.requester("r1", models.Entitlement{})
	f.create(r, "battery")

	if err := f.svc.Directory().Sync(f.ctx, &models.Principal{ID: "r1", Role: models.RoleRequester, Active: true, FullName: "Asha"}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	got := f.reload(r)
	if got.BookingsUsed != 1 || got.FullName != "Asha" {
		t.Fatalf("after sync %+v", got)
	}
}

func TestUpdateLocation(t *testing.T) {
	f := newFixture(t)
	p := f.provider("p1", models.Point{Lng: 70, Lat: 20}, true)

	if err := f.svc.Directory().UpdateLocation(f.ctx, p, models.Point{}); !errors.Is(err, errs.ErrInvalidLocation) {
		t.Fatalf("(0,0) = %v", err)
	}
	if err := f.svc.Directory().UpdateLocation(f.ctx, p, delhi); err != nil {
		t.Fatalf("UpdateLocation: %v", err)
	}
	if got := f.reload(p).Location; got == nil || *got != delhi {
		t.Fatalf("stored location %v", got)
	}
}

func TestPrincipalUpsertedHandler(t *testing.T) {
	f := newFixture(t)
	h := f.svc.Handlers()[RoutingPrincipalUpserted]

	raw, _ := json.Marshal(models.Principal{ID: "r9", Role: models.RoleRequester, Active: true,
		Entitlement: models.Entitlement{Active: true, PriorityService: true}})
	if err := h(f.ctx, raw); err != nil {
		t.Fatalf("principal.upserted: %v", err)
	}
	got, err := f.svc.Directory().Get(f.ctx, "r9")
	if err != nil || !got.Entitlement.PriorityService {
		t.Fatalf("synced principal %+v, %v", got, err)
	}

	for name, body := range map[string]string{
		"malformed":    `{"id":`,
		"unknown role": `{"id":"x","role":"pilot"}`,
		"bad location": `{"id":"x","role":"provider","location":{"lng":500,"lat":0}}`,
	} {
		if err := h(f.ctx, json.RawMessage(body)); !errors.Is(err, mq.ErrPermanent) {
			t.Fatalf("%s: err=%v, want ErrPermanent", name, err)
		}
	}
}

type mapIndex struct {
	mu  sync.Mutex
	pts map[string]models.Point
}

func (m *mapIndex) UpsertLocation(_ context.Context, id, _ string, p models.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pts[id] = p
	return nil
}

func (m *mapIndex) RemoveLocation(_ context.Context, id, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pts, id)
	return nil
}

func (m *mapIndex) Nearby(context.Context, string, models.Point, float64, int) ([]models.Candidate, error) {
	return nil, nil
}

func TestReindexLoadsStoredProviders(t *testing.T) {
	f := newFixture(t)
	f.provider("p1", delhi, true)
	f.provider("p2", models.Point{Lng: 77.3, Lat: 28.6}, false)
	f.principal(models.Principal{ID: "p3", Role: models.RoleProvider, Approved: true})
	f.requester("r1", models.Entitlement{})

	if n, err := f.svc.Directory().Reindex(f.ctx); err != nil || n != 0 {
		t.Fatalf("Reindex without external index = %d, %v", n, err)
	}

	idx := &mapIndex{pts: map[string]models.Point{}}
	svc := New(f.stg, testConfig(), logger.NewNop(), WithIndex(idx))
	n, err := svc.Directory().Reindex(f.ctx)
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if n != 2 || len(idx.pts) != 2 || idx.pts["p1"] != delhi {
		t.Fatalf("indexed %d: %v", n, idx.pts)
	}
	if _, ok := idx.pts["p3"]; ok {
		t.Fatalf("provider without location indexed")
	}
}
