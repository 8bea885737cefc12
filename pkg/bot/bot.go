package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"roadassist/config"
	"roadassist/pkg/logger"
	"roadassist/pkg/models"
	"roadassist/storage"
)

// Bot is the operations chat bot: it pushes emergency and dispute alerts
// to the admin chat and answers a few read-only commands there.
type Bot struct {
	Bot    *tele.Bot
	Log    logger.ILogger
	Stg    storage.IStorage
	ChatID int64
}

var messages = map[string]string{
	"welcome":     "🛠 Roadassist operations bot. Commands: /pending",
	"no_entry":    "🚫 This bot only answers in the operations chat.",
	"no_pending":  "📭 No pending bookings.",
	"pending_row": "• %s [%s] %s, %s (%s ago)",
	"emergency":   "🚨 EMERGENCY REQUEST\n🆔 %s\n🔧 %s\n📍 %s (%.5f, %.5f)\n👤 %s",
	"dispute":     "⚖️ Dispute %s on booking %s\nReason: %s",
}

func New(cfg config.Config, stg storage.IStorage, log logger.ILogger) (*Bot, error) {
	pref := tele.Settings{
		Token:  cfg.AdminBotToken,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		return nil, err
	}
	bot := &Bot{
		Bot:    b,
		Log:    log,
		Stg:    stg,
		ChatID: cfg.AdminChatID,
	}
	bot.registerHandlers()
	return bot, nil
}

func (b *Bot) Start() {
	b.Log.Info("🤖 operations bot started", logger.Int64("chat_id", b.ChatID))
	b.Bot.Start()
}

func (b *Bot) Stop() {
	b.Bot.Stop()
}

func (b *Bot) registerHandlers() {
	b.Bot.Handle("/start", b.handleStart)
	b.Bot.Handle("/pending", b.handlePending)
}

func (b *Bot) fromOpsChat(c tele.Context) bool {
	return c.Chat() != nil && c.Chat().ID == b.ChatID
}

func (b *Bot) handleStart(c tele.Context) error {
	if !b.fromOpsChat(c) {
		return c.Send(messages["no_entry"])
	}
	return c.Send(messages["welcome"])
}

func (b *Bot) handlePending(c tele.Context) error {
	if !b.fromOpsChat(c) {
		return c.Send(messages["no_entry"])
	}
	bookings, err := b.Stg.Booking().ListPending(context.Background(), 20)
	if err != nil {
		b.Log.Error("bot: list pending bookings", logger.Error(err))
		return c.Send("⚠️ " + err.Error())
	}
	return c.Send(pendingText(bookings, time.Now()))
}

func pendingText(bookings []*models.Booking, now time.Time) string {
	if len(bookings) == 0 {
		return messages["no_pending"]
	}
	lines := make([]string, 0, len(bookings))
	for _, bk := range bookings {
		age := now.Sub(bk.CreatedAt).Truncate(time.Minute)
		lines = append(lines, fmt.Sprintf(messages["pending_row"], bk.ID, bk.Priority, bk.Category, bk.Location.Address, age))
	}
	return strings.Join(lines, "\n")
}

func emergencyText(bk *models.Booking) string {
	return fmt.Sprintf(messages["emergency"], bk.ID, bk.Category, bk.Location.Address,
		bk.Location.Point.Lat, bk.Location.Point.Lng, bk.RequesterID)
}

func disputeText(bk *models.Booking) string {
	if bk.Dispute == nil {
		return ""
	}
	return fmt.Sprintf(messages["dispute"], bk.Dispute.Status, bk.ID, bk.Dispute.Reason)
}

func (b *Bot) send(text string) error {
	if b.ChatID == 0 || text == "" {
		return nil
	}
	_, err := b.Bot.Send(&tele.Chat{ID: b.ChatID}, text)
	return err
}

func (b *Bot) EmergencyAlert(ctx context.Context, bk *models.Booking) error {
	return b.send(emergencyText(bk))
}

func (b *Bot) DisputeAlert(ctx context.Context, bk *models.Booking) error {
	return b.send(disputeText(bk))
}
