package memory

import (
	"context"
	"sort"
	"time"

	"roadassist/pkg/errs"
	"roadassist/pkg/models"
)

type principalRow struct {
	p models.Principal
}

func (r *principalRow) copy() *models.Principal {
	p := r.p
	if r.p.Location != nil {
		loc := *r.p.Location
		p.Location = &loc
	}
	return &p
}

type userRepo struct{ s *Store }

func (r userRepo) Upsert(ctx context.Context, p *models.Principal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	row, ok := r.s.users[p.ID]
	if !ok {
		row = &principalRow{}
		r.s.users[p.ID] = row
	}
	keepLoc := row.p.Location
	row.p.ID = p.ID
	row.p.Role = p.Role
	row.p.FullName = p.FullName
	row.p.Approved = p.Approved
	row.p.Active = p.Active
	row.p.Entitlement = p.Entitlement
	row.p.UpdatedAt = p.UpdatedAt
	if row.p.UpdatedAt.IsZero() {
		row.p.UpdatedAt = time.Now().UTC()
	}
	row.p.Location = keepLoc
	if p.Location != nil {
		loc := *p.Location
		row.p.Location = &loc
	}
	return nil
}

func (r userRepo) GetByID(ctx context.Context, id string) (*models.Principal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return row.copy(), nil
}

func (r userRepo) GetByIDs(ctx context.Context, ids []string) ([]*models.Principal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*models.Principal, 0, len(ids))
	for _, id := range ids {
		if row, ok := r.s.users[id]; ok {
			out = append(out, row.copy())
		}
	}
	return out, nil
}

func (r userRepo) GetByRole(ctx context.Context, role string) ([]*models.Principal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.Principal{}
	for _, row := range r.s.users {
		if row.p.Role == role {
			out = append(out, row.copy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r userRepo) ReserveBookingSlot(ctx context.Context, id string, limit int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.users[id]
	if !ok {
		return errs.ErrNotFound
	}
	if row.p.BookingsUsed >= limit {
		return errs.ErrQuotaExceeded
	}
	row.p.BookingsUsed++
	return nil
}

func (r userRepo) ReleaseBookingSlot(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if row, ok := r.s.users[id]; ok && row.p.BookingsUsed > 0 {
		row.p.BookingsUsed--
	}
	return nil
}

func (r userRepo) RefreshRating(ctx context.Context, providerID string) (float64, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.users[providerID]
	if !ok {
		return 0, 0, errs.ErrNotFound
	}
	var sum, count int
	for _, b := range r.s.bookings {
		if b.b.HasProvider(providerID) && b.b.Rating != nil {
			sum += b.b.Rating.Value
			count++
		}
	}
	avg := 0.0
	if count > 0 {
		avg = float64(sum) / float64(count)
	}
	row.p.Rating = avg
	row.p.ReviewCount = count
	return avg, count, nil
}

type locationRepo struct{ s *Store }

func (r locationRepo) UpsertLocation(ctx context.Context, principalID, role string, p models.Point) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.users[principalID]
	if !ok || row.p.Role != role {
		return errs.ErrNotFound
	}
	loc := p
	row.p.Location = &loc
	return nil
}

func (r locationRepo) RemoveLocation(ctx context.Context, principalID, role string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if row, ok := r.s.users[principalID]; ok && row.p.Role == role {
		row.p.Location = nil
	}
	return nil
}

func (r locationRepo) Nearby(ctx context.Context, role string, p models.Point, maxMeters float64, limit int) ([]models.Candidate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.Candidate{}
	for id, row := range r.s.users {
		if row.p.Role != role || row.p.Location == nil {
			continue
		}
		d := p.DistanceTo(*row.p.Location)
		if d <= maxMeters {
			out = append(out, models.Candidate{PrincipalID: id, DistanceMeters: d})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceMeters != out[j].DistanceMeters {
			return out[i].DistanceMeters < out[j].DistanceMeters
		}
		return out[i].PrincipalID < out[j].PrincipalID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
