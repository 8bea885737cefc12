package memory

import (
	"context"
	"sort"
	"time"

	"roadassist/pkg/errs"
	"roadassist/pkg/models"
	"roadassist/storage"
)

type notificationRow struct {
	n     models.Notification
	order int64
}

func (r *notificationRow) copy() *models.Notification {
	n := r.n
	if r.n.ReadAt != nil {
		at := *r.n.ReadAt
		n.ReadAt = &at
	}
	return &n
}

type notificationRepo struct{ s *Store }

func (r notificationRepo) Create(ctx context.Context, n *models.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.notifications[n.ID] = &notificationRow{n: *n, order: r.s.nextOrder()}
	return nil
}

func (r notificationRepo) own(id, recipientID string) (*notificationRow, error) {
	row, ok := r.s.notifications[id]
	if !ok || row.n.RecipientID != recipientID {
		return nil, errs.ErrNotFound
	}
	return row, nil
}

func (r notificationRepo) GetByID(ctx context.Context, id, recipientID string) (*models.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, err := r.own(id, recipientID)
	if err != nil {
		return nil, err
	}
	return row.copy(), nil
}

func (r notificationRepo) List(ctx context.Context, recipientID string, f storage.NotificationFilter, now time.Time) ([]*models.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rows := []*notificationRow{}
	for _, row := range r.s.notifications {
		if row.n.RecipientID != recipientID || !row.n.ExpiresAt.After(now) {
			continue
		}
		if f.UnreadOnly && row.n.Read {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].n.CreatedAt.Equal(rows[j].n.CreatedAt) {
			return rows[i].n.CreatedAt.After(rows[j].n.CreatedAt)
		}
		return rows[i].order > rows[j].order
	})
	out := make([]*models.Notification, 0, len(rows))
	for _, row := range page(rows, f.Limit, f.Offset) {
		out = append(out, row.copy())
	}
	return out, nil
}

func (r notificationRepo) MarkRead(ctx context.Context, id, recipientID string, at time.Time) (*models.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, err := r.own(id, recipientID)
	if err != nil {
		return nil, err
	}
	if !row.n.Read {
		row.n.Read = true
		readAt := at
		row.n.ReadAt = &readAt
	}
	return row.copy(), nil
}

func (r notificationRepo) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, row := range r.s.notifications {
		if row.n.RecipientID == recipientID && !row.n.Read {
			row.n.Read = true
			readAt := at
			row.n.ReadAt = &readAt
			n++
		}
	}
	return n, nil
}

func (r notificationRepo) Delete(ctx context.Context, id, recipientID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, err := r.own(id, recipientID); err != nil {
		return err
	}
	delete(r.s.notifications, id)
	return nil
}

func (r notificationRepo) DeleteAllRead(ctx context.Context, recipientID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, row := range r.s.notifications {
		if row.n.RecipientID == recipientID && row.n.Read {
			delete(r.s.notifications, id)
			n++
		}
	}
	return n, nil
}

func (r notificationRepo) UnreadCount(ctx context.Context, recipientID string, now time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, row := range r.s.notifications {
		if row.n.RecipientID == recipientID && !row.n.Read && row.n.ExpiresAt.After(now) {
			n++
		}
	}
	return n, nil
}

func (r notificationRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, row := range r.s.notifications {
		if !row.n.ExpiresAt.After(now) {
			delete(r.s.notifications, id)
			n++
		}
	}
	return n, nil
}
