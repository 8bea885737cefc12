package memory

import (
	"context"
	"sort"
	"time"

	"roadassist/pkg/errs"
	"roadassist/pkg/models"
)

type channelRow struct {
	c models.Channel
}

func (r *channelRow) copy() *models.Channel {
	c := r.c
	c.Participants = append([]string(nil), r.c.Participants...)
	if r.c.BookingID != nil {
		id := *r.c.BookingID
		c.BookingID = &id
	}
	return &c
}

type messageRow struct {
	m models.Message
}

func (r *messageRow) copy() *models.Message {
	m := r.m
	m.Attachments = append([]models.Attachment(nil), r.m.Attachments...)
	if r.m.ReadAt != nil {
		at := *r.m.ReadAt
		m.ReadAt = &at
	}
	return &m
}

type chatRepo struct{ s *Store }

func (r chatRepo) findLocked(match func(*models.Channel) bool) *channelRow {
	for _, row := range r.s.channels {
		if match(&row.c) {
			return row
		}
	}
	return nil
}

func (r chatRepo) CreateChannel(ctx context.Context, c *models.Channel) (*models.Channel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var existing *channelRow
	if c.BookingID != nil {
		if _, ok := r.s.bookings[*c.BookingID]; !ok {
			return nil, errs.ErrNotFound
		}
		existing = r.findLocked(func(ch *models.Channel) bool {
			return ch.BookingID != nil && *ch.BookingID == *c.BookingID
		})
	} else {
		existing = r.findLocked(func(ch *models.Channel) bool { return ch.PairKey != "" && ch.PairKey == c.PairKey })
	}
	if existing != nil {
		return existing.copy(), nil
	}
	row := &channelRow{}
	row.c = *c
	row.c.Participants = append([]string(nil), c.Participants...)
	r.s.channels[c.ID] = row
	return row.copy(), nil
}

func (r chatRepo) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.channels[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return row.copy(), nil
}

func (r chatRepo) GetByBooking(ctx context.Context, bookingID string) (*models.Channel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row := r.findLocked(func(ch *models.Channel) bool { return ch.BookingID != nil && *ch.BookingID == bookingID })
	if row == nil {
		return nil, errs.ErrNotFound
	}
	return row.copy(), nil
}

func (r chatRepo) GetByPair(ctx context.Context, pairKey string) (*models.Channel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row := r.findLocked(func(ch *models.Channel) bool { return ch.PairKey != "" && ch.PairKey == pairKey })
	if row == nil {
		return nil, errs.ErrNotFound
	}
	return row.copy(), nil
}

func (r chatRepo) ListChannels(ctx context.Context, principalID string) ([]*models.Channel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.Channel{}
	for _, row := range r.s.channels {
		if row.c.HasParticipant(principalID) {
			out = append(out, row.copy())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r chatRepo) AppendMessage(ctx context.Context, m *models.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ch, ok := r.s.channels[m.ChannelID]
	if !ok {
		return errs.ErrNotFound
	}
	r.s.seq++
	m.Seq = r.s.seq
	row := &messageRow{m: *m}
	row.m.Attachments = append([]models.Attachment(nil), m.Attachments...)
	r.s.messages[m.ChannelID] = append(r.s.messages[m.ChannelID], row)
	ch.c.LastActivity = m.SentAt
	return nil
}

func (r chatRepo) ListMessages(ctx context.Context, channelID string, afterSeq int64, limit int) ([]*models.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.Message{}
	for _, row := range r.s.messages[channelID] {
		if row.m.Seq <= afterSeq {
			continue
		}
		out = append(out, row.copy())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r chatRepo) MarkRead(ctx context.Context, channelID, readerID string, at time.Time) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := []string{}
	for _, row := range r.s.messages[channelID] {
		if row.m.SenderID == readerID || row.m.Read {
			continue
		}
		row.m.Read = true
		readAt := at
		row.m.ReadAt = &readAt
		ids = append(ids, row.m.ID)
	}
	return ids, nil
}

func (r chatRepo) UnreadCount(ctx context.Context, principalID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for cid, ch := range r.s.channels {
		if !ch.c.HasParticipant(principalID) {
			continue
		}
		for _, row := range r.s.messages[cid] {
			if row.m.SenderID != principalID && !row.m.Read {
				n++
			}
		}
	}
	return n, nil
}
