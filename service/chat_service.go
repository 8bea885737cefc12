package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"roadassist/pkg/errs"
	"roadassist/pkg/logger"
	"roadassist/pkg/models"
	"roadassist/pkg/presence"
	"roadassist/storage"
)

const (
	defaultMessagePage = 100
	maxMessagePage     = 500
	previewLength      = 80
)

type ChatService interface {
	GetOrCreateChannel(ctx context.Context, actor *models.Principal, bookingID string) (*models.Channel, error)
	GetOrCreatePairChannel(ctx context.Context, a, b string) (*models.Channel, error)
	Channel(ctx context.Context, actor *models.Principal, channelID string) (*models.Channel, error)
	AppendMessage(ctx context.Context, channelID, senderID, content string, attachments []models.Attachment) (*models.Message, error)
	MarkRead(ctx context.Context, channelID, readerID string) ([]string, error)
	ListMessages(ctx context.Context, actor *models.Principal, channelID string, afterSeq int64, limit int) ([]*models.Message, error)
	ListChannels(ctx context.Context, principalID string) ([]*models.Channel, error)
	UnreadCount(ctx context.Context, principalID string) (int, error)
}

type chatService struct {
	*deps
	repo          storage.IChatStorage
	notifications NotificationService
}

func newChatService(d *deps, notifications NotificationService) ChatService {
	return &chatService{deps: d, repo: d.stg.Chat(), notifications: notifications}
}

// GetOrCreateChannel returns the booking's channel, creating it with the
// requester and the assigned provider on first use.
func (s *chatService) GetOrCreateChannel(ctx context.Context, actor *models.Principal, bookingID string) (*models.Channel, error) {
	b, err := s.stg.Booking().GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if actor == nil || (!b.IsParty(actor.ID) && !actor.IsAdmin()) {
		return nil, errs.ErrNotAuthorized
	}
	if b.ProviderID == nil {
		return nil, errs.ErrProviderNotAssigned
	}

	ch, err := s.repo.GetByBooking(ctx, bookingID)
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	return s.repo.CreateChannel(ctx, &models.Channel{
		ID:           uuid.NewString(),
		BookingID:    &b.ID,
		Participants: []string{b.RequesterID, *b.ProviderID},
		LastActivity: now,
		CreatedAt:    now,
	})
}

func (s *chatService) GetOrCreatePairChannel(ctx context.Context, a, b string) (*models.Channel, error) {
	if a == "" || b == "" || a == b {
		return nil, errs.Invalid("a pair channel needs two distinct principals")
	}
	key := models.PairKey(a, b)
	ch, err := s.repo.GetByPair(ctx, key)
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	now := s.now()
	return s.repo.CreateChannel(ctx, &models.Channel{
		ID:           uuid.NewString(),
		PairKey:      key,
		Participants: []string{a, b},
		LastActivity: now,
		CreatedAt:    now,
	})
}

// Channel loads a channel the actor may read.
func (s *chatService) Channel(ctx context.Context, actor *models.Principal, channelID string) (*models.Channel, error) {
	ch, err := s.repo.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if actor == nil || (!ch.HasParticipant(actor.ID) && !actor.IsAdmin()) {
		return nil, errs.ErrNotAuthorized
	}
	return ch, nil
}

func (s *chatService) AppendMessage(ctx context.Context, channelID, senderID, content string, attachments []models.Attachment) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" && len(attachments) == 0 {
		return nil, errs.Invalid("message needs content or attachments")
	}
	for _, a := range attachments {
		if strings.TrimSpace(a.URL) == "" {
			return nil, errs.Invalid("attachment url is required")
		}
	}

	ch, err := s.repo.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !ch.HasParticipant(senderID) {
		return nil, errs.ErrNotAuthorized
	}

	m := &models.Message{
		ID:          uuid.NewString(),
		ChannelID:   ch.ID,
		SenderID:    senderID,
		Content:     content,
		Attachments: attachments,
		SentAt:      s.now(),
	}
	if err := s.repo.AppendMessage(ctx, m); err != nil {
		return nil, err
	}

	s.relay(ctx, ch, m)
	return m, nil
}

// relay pushes the message to the other participants; an absent one gets
// a durable new_message notification instead.
func (s *chatService) relay(ctx context.Context, ch *models.Channel, m *models.Message) {
	bookingID := ""
	if ch.BookingID != nil {
		bookingID = *ch.BookingID
	}
	for _, other := range ch.Others(m.SenderID) {
		s.pusher.Push(other, presence.Event{Name: presence.EventNewMessage, Payload: m})
		if s.presence.IsPresent(other) {
			continue
		}
		_, err := s.notifications.Notify(ctx, other, NotifyInput{
			Title:     "New message",
			Message:   preview(m),
			BookingID: bookingID,
			Payload: models.NewMessagePayload{
				BookingID: bookingID,
				ChannelID: ch.ID,
				SenderID:  m.SenderID,
				Preview:   preview(m),
			},
			Priority: models.PriorityNormal,
		})
		if err != nil {
			s.log.Warning("offline message notification failed", logger.String("channel_id", ch.ID), logger.String("recipient_id", other), logger.Error(err))
		}
	}
}

func preview(m *models.Message) string {
	if m.Content == "" {
		return "[attachment]"
	}
	r := []rune(m.Content)
	if len(r) > previewLength {
		return string(r[:previewLength]) + "…"
	}
	return m.Content
}

func (s *chatService) MarkRead(ctx context.Context, channelID, readerID string) ([]string, error) {
	ch, err := s.repo.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !ch.HasParticipant(readerID) {
		return nil, errs.ErrNotAuthorized
	}
	at := s.now()
	ids, err := s.repo.MarkRead(ctx, channelID, readerID, at)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		ev := presence.Event{Name: presence.EventMessageRead, Payload: models.MessageReadEvent{
			ChannelID:  channelID,
			ReaderID:   readerID,
			MessageIDs: ids,
			ReadAt:     at,
		}}
		for _, other := range ch.Others(readerID) {
			s.pusher.Push(other, ev)
		}
	}
	return ids, nil
}

func (s *chatService) ListMessages(ctx context.Context, actor *models.Principal, channelID string, afterSeq int64, limit int) ([]*models.Message, error) {
	if _, err := s.Channel(ctx, actor, channelID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultMessagePage
	}
	if limit > maxMessagePage {
		limit = maxMessagePage
	}
	return s.repo.ListMessages(ctx, channelID, afterSeq, limit)
}

func (s *chatService) ListChannels(ctx context.Context, principalID string) ([]*models.Channel, error) {
	return s.repo.ListChannels(ctx, principalID)
}

func (s *chatService) UnreadCount(ctx context.Context, principalID string) (int, error) {
	return s.repo.UnreadCount(ctx, principalID)
}
