package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ilvlbot/internal/domain"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const slackMaxMsgLen = 4000

// Slack implements domain.Channel for Slack using Socket Mode. A message
// inside a thread gets its own conversation ("C123/1700000000.000100") and
// the reply goes back into that thread.
type Slack struct {
	botToken string
	appToken string
	client   *slack.Client
	bus      domain.MessageBus
	logger   *slog.Logger
	botUID   string // the bot's own user ID, to avoid replying to self
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken string
	AppToken string
	Logger   *slog.Logger
}

// NewSlack creates a new Slack channel handler.
func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		logger:   cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects to Slack via Socket Mode and blocks until ctx is cancelled.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	s.bus = bus

	api := slack.New(s.botToken, slack.OptionAppLevelToken(s.appToken))
	s.client = api

	authResp, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)

	socketClient := socketmode.New(api)

	bus.OnOutbound("slack", func(msg domain.OutboundMessage) {
		if msg.Content == "" {
			return
		}
		s.sendMessage(msg.ChatID, msg.Content)
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-socketClient.Events:
				if !ok {
					return
				}
				s.handleSocketEvent(socketClient, evt)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) handleSocketEvent(client *socketmode.Client, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		client.Ack(*evt.Request)
		s.handleEventsAPI(eventsAPIEvent)

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		client.Ack(*evt.Request)
		s.handleSlashCommand(cmd)

	default:
		// Unacknowledged envelopes make Socket Mode reconnect.
		if evt.Request != nil {
			client.Ack(*evt.Request)
		}
	}
}

func (s *Slack) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if ev.User == s.botUID || ev.User == "" || ev.SubType != "" {
			return
		}
		// Mentions also arrive as AppMentionEvent; answer those once.
		if s.botUID != "" && strings.Contains(ev.Text, "<@"+s.botUID+">") {
			return
		}
		s.logger.Debug("slack message received", "user", ev.User, "channel", ev.Channel)
		s.publish(ev.ClientMsgID, slackChatID(ev.Channel, ev.ThreadTimeStamp), ev.User, ev.Text)

	case *slackevents.AppMentionEvent:
		s.logger.Debug("slack mention received", "user", ev.User, "channel", ev.Channel)
		s.publish(ev.TimeStamp, slackChatID(ev.Channel, ev.ThreadTimeStamp), ev.User, stripMention(ev.Text))
	}
}

// handleSlashCommand maps "/ilvl hoazl antonidas" onto the same chat command
// the other channels use.
func (s *Slack) handleSlashCommand(cmd slack.SlashCommand) {
	s.logger.Debug("slack slash command", "command", cmd.Command, "user", cmd.UserID, "channel", cmd.ChannelID)
	s.publish(cmd.TriggerID, cmd.ChannelID, cmd.UserID, strings.TrimSpace(cmd.Command+" "+cmd.Text))
}

func (s *Slack) publish(id, channelID, userID, content string) {
	s.bus.Publish(domain.InboundMessage{
		ID:        id,
		Channel:   "slack",
		ChatID:    channelID,
		SenderID:  userID,
		Content:   content,
		Timestamp: time.Now(),
	})
}

// stripMention removes a leading "<@U123>" mention from text.
func stripMention(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "<@") {
		if idx := strings.Index(text, ">"); idx >= 0 {
			return strings.TrimSpace(text[idx+1:])
		}
	}
	return text
}

// Stop is a no-op; Socket Mode stops when Start's context is cancelled.
func (s *Slack) Stop() error { return nil }

func (s *Slack) Send(_ context.Context, chatID string, content string) error {
	if s.client == nil {
		return fmt.Errorf("slack: not connected")
	}
	s.sendMessage(chatID, content)
	return nil
}

func (s *Slack) sendMessage(chatID, content string) {
	channelID, threadTS := splitSlackChatID(chatID)
	for _, chunk := range splitMessage(content, slackMaxMsgLen) {
		opts := []slack.MsgOption{slack.MsgOptionText(chunk, false)}
		if threadTS != "" {
			opts = append(opts, slack.MsgOptionTS(threadTS))
		}
		if _, _, err := s.client.PostMessage(channelID, opts...); err != nil {
			s.logger.Error("slack send failed", "channel", channelID, "thread", threadTS, "err", err)
		}
	}
}

func slackChatID(channelID, threadTS string) string {
	if threadTS == "" {
		return channelID
	}
	return channelID + "/" + threadTS
}

func splitSlackChatID(chatID string) (channelID, threadTS string) {
	channelID, threadTS, _ = strings.Cut(chatID, "/")
	return channelID, threadTS
}
