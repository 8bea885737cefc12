package memory

import (
	"context"
	"sort"
	"time"

	"roadassist/pkg/errs"
	"roadassist/pkg/models"
)

type bookingRow struct {
	b     *models.Booking
	order int64
}

type bookingRepo struct{ s *Store }

func (r bookingRepo) Create(ctx context.Context, b *models.Booking) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.bookings[b.ID]; ok {
		return errs.Persistence("create booking", errs.Invalid("duplicate booking id %s", b.ID))
	}
	r.s.bookings[b.ID] = &bookingRow{b: b.Clone(), order: r.s.nextOrder()}
	return nil
}

func (r bookingRepo) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.bookings[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return row.b.Clone(), nil
}

func (r bookingRepo) list(match func(*models.Booking) bool, newestFirst bool) []*models.Booking {
	rows := []*bookingRow{}
	for _, row := range r.s.bookings {
		if match(row.b) {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.b.CreatedAt.Equal(b.b.CreatedAt) {
			if newestFirst {
				return a.b.CreatedAt.After(b.b.CreatedAt)
			}
			return a.b.CreatedAt.Before(b.b.CreatedAt)
		}
		if newestFirst {
			return a.order > b.order
		}
		return a.order < b.order
	})
	out := make([]*models.Booking, len(rows))
	for i, row := range rows {
		out[i] = row.b.Clone()
	}
	return out
}

func (r bookingRepo) ListByRequester(ctx context.Context, requesterID string, limit, offset int) ([]*models.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := r.list(func(b *models.Booking) bool { return b.RequesterID == requesterID }, true)
	return page(all, limit, offset), nil
}

func (r bookingRepo) ListByProvider(ctx context.Context, providerID string, limit, offset int) ([]*models.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := r.list(func(b *models.Booking) bool { return b.HasProvider(providerID) }, true)
	return page(all, limit, offset), nil
}

func (r bookingRepo) ListPending(ctx context.Context, limit int) ([]*models.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := r.list(func(b *models.Booking) bool { return b.Status == models.StatusPending }, false)
	return page(all, limit, 0), nil
}

// apply mutates the booking only when guard holds, mirroring
// UPDATE ... WHERE <guard> RETURNING.
func (r bookingRepo) apply(id string, at time.Time, guard func(*models.Booking) bool, mutate func(*models.Booking)) (*models.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.bookings[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if !guard(row.b) {
		return nil, errs.ErrInvalidState
	}
	mutate(row.b)
	row.b.UpdatedAt = at
	return row.b.Clone(), nil
}

func setTowing(b *models.Booking, status models.TowingStatus) {
	if b.Towing != nil {
		b.Towing.Status = status
	}
}

func (r bookingRepo) AssignProvider(ctx context.Context, id, requesterID, providerID string, at time.Time) (*models.Booking, error) {
	return r.apply(id, at,
		func(b *models.Booking) bool { return b.RequesterID == requesterID && b.Status == models.StatusPending && b.ProviderID == nil },
		func(b *models.Booking) { b.ProviderID = &providerID },
	)
}

func (r bookingRepo) Accept(ctx context.Context, id, providerID string, at time.Time) (*models.Booking, error) {
	return r.apply(id, at,
		func(b *models.Booking) bool {
			return b.Status == models.StatusPending && (b.ProviderID == nil || *b.ProviderID == providerID)
		},
		func(b *models.Booking) {
			b.Status = models.StatusAccepted
			b.ProviderID = &providerID
		},
	)
}

func (r bookingRepo) Start(ctx context.Context, id, providerID string, at time.Time) (*models.Booking, error) {
	return r.apply(id, at,
		func(b *models.Booking) bool { return b.HasProvider(providerID) && b.Status == models.StatusAccepted },
		func(b *models.Booking) {
			b.Status = models.StatusInProgress
			setTowing(b, models.TowingEnRoute)
		},
	)
}

func (r bookingRepo) Complete(ctx context.Context, id, providerID string, amount float64, at time.Time) (*models.Booking, error) {
	return r.apply(id, at,
		func(b *models.Booking) bool { return b.HasProvider(providerID) && b.Status == models.StatusInProgress },
		func(b *models.Booking) {
			b.Status = models.StatusCompleted
			b.Payment.Amount = amount
			setTowing(b, models.TowingCompleted)
		},
	)
}

func (r bookingRepo) Cancel(ctx context.Context, id string, from []models.BookingStatus, by, reason string, at time.Time) (*models.Booking, error) {
	return r.apply(id, at,
		func(b *models.Booking) bool {
			for _, s := range from {
				if b.Status == s {
					return true
				}
			}
			return false
		},
		func(b *models.Booking) {
			b.Status = models.StatusCancelled
			b.CancelledBy = by
			b.CancelReason = reason
		},
	)
}

func (r bookingRepo) ConfirmPayment(ctx context.Context, id, transactionRef string, at time.Time) (*models.Booking, error) {
	return r.apply(id, at,
		func(b *models.Booking) bool {
			return b.Status == models.StatusCompleted && b.Payment.Status == models.PaymentPending
		},
		func(b *models.Booking) {
			b.Payment.Status = models.PaymentCompleted
			b.Payment.TransactionRef = transactionRef
		},
	)
}

func (r bookingRepo) Rate(ctx context.Context, id, requesterID string, rating models.Rating, at time.Time) (*models.Booking, error) {
	return r.apply(id, at,
		func(b *models.Booking) bool {
			return b.RequesterID == requesterID && b.Status == models.StatusCompleted &&
				b.Payment.Status == models.PaymentCompleted && b.Rating == nil
		},
		func(b *models.Booking) {
			v := rating
			b.Rating = &v
		},
	)
}

func (r bookingRepo) FlagDispute(ctx context.Context, id string, d models.Dispute, at time.Time) (*models.Booking, error) {
	return r.apply(id, at,
		func(b *models.Booking) bool { return b.Dispute == nil || b.Dispute.Status == models.DisputeResolved },
		func(b *models.Booking) {
			v := d
			b.Dispute = &v
		},
	)
}

func (r bookingRepo) UpdateDispute(ctx context.Context, id string, from []models.DisputeStatus, d models.Dispute, refund float64, at time.Time) (*models.Booking, error) {
	return r.apply(id, at,
		func(b *models.Booking) bool {
			if b.Dispute == nil {
				return false
			}
			for _, s := range from {
				if b.Dispute.Status == s {
					return true
				}
			}
			return false
		},
		func(b *models.Booking) {
			v := d
			b.Dispute = &v
			if refund > 0 {
				b.Payment.RefundAmount = refund
				b.Payment.Status = models.PaymentRefunded
			}
		},
	)
}

func (r bookingRepo) Purge(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.bookings[id]; !ok {
		return errs.ErrNotFound
	}
	delete(r.s.bookings, id)
	for cid, c := range r.s.channels {
		if c.c.BookingID != nil && *c.c.BookingID == id {
			delete(r.s.channels, cid)
			delete(r.s.messages, cid)
		}
	}
	return nil
}
