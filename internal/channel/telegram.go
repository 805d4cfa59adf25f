package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"ilvlbot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram implements domain.Channel for a Telegram bot using long polling.
type Telegram struct {
	token     string
	allowFrom map[int64]struct{} // empty = allow all

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user IDs as strings
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	allowed := make(map[int64]struct{}, len(cfg.AllowFrom))
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed[id] = struct{}{}
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	bus.OnOutbound("telegram", func(msg domain.OutboundMessage) {
		if msg.Content == "" {
			return
		}
		chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
		if err != nil {
			t.logger.Error("invalid chat ID for telegram outbound", "chat_id", msg.ChatID, "err", err)
			return
		}
		t.sendMessage(ctx, chatID, msg.Content)
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

// Stop is a no-op: polling stops when Start's context is cancelled, and
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) Send(ctx context.Context, chatID string, content string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	if t.bot == nil {
		return fmt.Errorf("telegram: not connected")
	}
	t.sendMessage(ctx, id, content)
	return nil
}

func (t *Telegram) handleUpdate(_ context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user", "user_id", userID, "username", update.Message.From.UserName)
		t.sendMessage(context.Background(), chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	text := commandText(update.Message.Text, t.bot.Self.UserName)
	if text == "" {
		return
	}

	t.logger.Debug("telegram message received", "user_id", userID, "chat_id", chatID, "text_len", len(text))

	_, _ = t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	// Commands go through the bus like any other text; the bot loop owns them.
	t.bus.Publish(domain.InboundMessage{
		ID:        strconv.Itoa(update.Message.MessageID),
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(userID, 10),
		Content:   text,
		Timestamp: time.Unix(int64(update.Message.Date), 0),
	})
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	_, ok := t.allowFrom[userID]
	return ok
}

// commandText trims the message and drops the "@botname" suffix Telegram adds
// to commands in group chats ("/ilvl@ilvl_bot hoazl" becomes "/ilvl hoazl").
func commandText(text, botName string) string {
	text = strings.TrimSpace(text)
	if botName == "" || !strings.HasPrefix(text, "/") {
		return text
	}
	cmd, rest, _ := strings.Cut(text, " ")
	if name, at, ok := strings.Cut(cmd, "@"); ok && strings.EqualFold(at, botName) {
		cmd = name
	}
	return strings.TrimSpace(cmd + " " + rest)
}

func (t *Telegram) sendMessage(ctx context.Context, chatID int64, text string) {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(ctx, chatID, chunk)
	}
}

// sendChunk sends one chunk as plain text. Flood-control errors wait for the
// retry_after Telegram asks for; other errors back off linearly.
func (t *Telegram) sendChunk(ctx context.Context, chatID int64, text string) {
	for attempt := 1; ; attempt++ {
		_, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
		if err == nil {
			return
		}
		if attempt > telegramMaxSendRetries {
			t.logger.Error("telegram send failed", "chat_id", chatID, "attempts", attempt, "err", err)
			return
		}

		wait := time.Duration(attempt) * time.Second
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			wait = time.Duration(apiErr.RetryAfter) * time.Second
		}
		t.logger.Warn("telegram send failed, retrying", "chat_id", chatID, "wait", wait, "err", err)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}
