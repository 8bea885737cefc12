package service

import (
	"errors"
	"testing"

	"roadassist/pkg/errs"
	"roadassist/pkg/models"
)

func TestFindNearby(t *testing.T) {
	f := newFixture(t)
	f.provider("near", models.Point{Lng: 77.219, Lat: 28.6139}, true)
	f.provider("mid", models.Point{Lng: 77.209, Lat: 28.6409}, true)
	f.provider("far", models.Point{Lng: 77.709, Lat: 28.6139}, true)
	f.provider("twin", models.Point{Lng: 77.219, Lat: 28.6139}, true)
	f.requester("someone", models.Entitlement{})

	cases := []struct {
		name  string
		q     NearbyQuery
		want  []string
		error error
	}{
		{
			name: "within radius, ties by id",
			q:    NearbyQuery{Point: delhi, Role: models.RoleProvider, MaxDistanceMeters: 10000},
			want: []string{"near", "twin", "mid"},
		},
		{
			name: "limit after sorting",
			q:    NearbyQuery{Point: delhi, Role: models.RoleProvider, MaxDistanceMeters: 10000, Limit: 1},
			want: []string{"near"},
		},
		{
			name: "wide radius",
			q:    NearbyQuery{Point: delhi, Role: models.RoleProvider, MaxDistanceMeters: 100000},
			want: []string{"near", "twin", "mid", "far"},
		},
		{
			name: "filter",
			q: NearbyQuery{Point: delhi, Role: models.RoleProvider, MaxDistanceMeters: 10000,
				Filter: func(p *models.Principal) bool { return p.ID != "near" }},
			want: []string{"twin", "mid"},
		},
		{
			name:  "unset point",
			q:     NearbyQuery{Role: models.RoleProvider, MaxDistanceMeters: 10000},
			error: errs.ErrInvalidLocation,
		},
		{
			name:  "missing role",
			q:     NearbyQuery{Point: delhi, MaxDistanceMeters: 10000},
			error: errs.ErrInvalidInput,
		},
		{
			name:  "zero radius",
			q:     NearbyQuery{Point: delhi, Role: models.RoleProvider},
			error: errs.ErrInvalidInput,
		},
	}
	for _, tt := range cases {
		got, err := f.svc.Matcher().FindNearby(f.ctx, tt.q)
		if tt.error != nil {
			if !errors.Is(err, tt.error) {
				t.Fatalf("%s: err=%v, want %v", tt.name, err, tt.error)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("%s: got %d matches, want %d", tt.name, len(got), len(tt.want))
		}
		for i, id := range tt.want {
			if got[i].Principal.ID != id {
				t.Fatalf("%s: position %d = %s, want %s", tt.name, i, got[i].Principal.ID, id)
			}
			if i > 0 && got[i].DistanceMeters < got[i-1].DistanceMeters {
				t.Fatalf("%s: distances not ascending", tt.name)
			}
		}
	}
}
