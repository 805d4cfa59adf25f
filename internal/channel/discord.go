package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ilvlbot/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const discordMaxMsgLen = 2000

// discordCommands mirror the chat commands so they show up in Discord's
// slash command picker.
var discordCommands = []*discordgo.ApplicationCommand{
	{
		Name:        "ilvl",
		Description: "Look up a character's item level",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "name", Description: "Character name", Required: true},
			{Type: discordgo.ApplicationCommandOptionString, Name: "realm", Description: "Realm (asked for when omitted)"},
		},
	},
	{Name: "cancel", Description: "Abandon the current question"},
	{Name: "help", Description: "Show available commands"},
}

// Discord implements domain.Channel for Discord. Direct messages always reach
// the bot; in guild channels the bot only listens when mentioned. The /ilvl
// slash command is forwarded as its chat command text.
type Discord struct {
	token   string
	guildID string
	session *discordgo.Session
	bus     domain.MessageBus
	logger  *slog.Logger
}

type DiscordConfig struct {
	Token   string
	GuildID string // restricts messages and command registration to one guild
	Logger  *slog.Logger
}

func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{token: cfg.Token, guildID: cfg.GuildID, logger: cfg.Logger}
}

func (d *Discord) Name() string { return "discord" }

// Start opens the gateway session and blocks until ctx is cancelled.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	d.session = session
	d.bus = bus

	bus.OnOutbound(d.Name(), func(msg domain.OutboundMessage) {
		if msg.Content != "" {
			d.sendMessage(msg.ChatID, msg.Content)
		}
	})
	session.AddHandler(d.onMessage)
	session.AddHandler(d.onInteraction)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	if _, err := session.ApplicationCommandBulkOverwrite(session.State.User.ID, d.guildID, discordCommands); err != nil {
		d.logger.Warn("discord slash command registration failed", "err", err)
	}

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

func (d *Discord) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
		return
	}

	content := m.Content
	if m.GuildID != "" {
		var botID string
		if s.State.User != nil {
			botID = s.State.User.ID
		}
		var ok bool
		if content, ok = addressedText(m.Content, botID, m.Mentions); !ok {
			return
		}
	}

	d.logger.Debug("discord message received", "author", m.Author.Username, "channel_id", m.ChannelID)
	d.publish(m.ID, m.ChannelID, m.Author.ID, content)
}

func (d *Discord) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	content := slashCommandText(i.ApplicationCommandData())

	// Echo the command so the channel shows what was asked; the answer
	// follows as a normal message.
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		d.logger.Warn("discord interaction ack failed", "err", err)
	}
	d.publish(i.ID, i.ChannelID, interactionUserID(i), content)
}

func (d *Discord) publish(id, channelID, userID, content string) {
	d.bus.Publish(domain.InboundMessage{
		ID:        id,
		Channel:   d.Name(),
		ChatID:    channelID,
		SenderID:  userID,
		Content:   content,
		Timestamp: time.Now(),
	})
}

func (d *Discord) Stop() error { return nil }

func (d *Discord) Send(_ context.Context, chatID string, content string) error {
	if d.session == nil {
		return fmt.Errorf("discord: not connected")
	}
	d.sendMessage(chatID, content)
	return nil
}

func (d *Discord) sendMessage(channelID, content string) {
	for _, chunk := range splitMessage(content, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(channelID, chunk); err != nil {
			d.logger.Error("discord send failed", "channel", channelID, "err", err)
		}
	}
}

// addressedText reports whether a guild message mentions the bot and returns
// it with the mention tokens removed.
func addressedText(content, botID string, mentions []*discordgo.User) (string, bool) {
	if botID == "" {
		return "", false
	}
	mentioned := false
	for _, u := range mentions {
		if u != nil && u.ID == botID {
			mentioned = true
			break
		}
	}
	if !mentioned {
		return "", false
	}
	r := strings.NewReplacer("<@"+botID+">", "", "<@!"+botID+">", "")
	return strings.TrimSpace(r.Replace(content)), true
}

// slashCommandText renders an interaction as the equivalent chat command,
// e.g. "/ilvl hoazl antonidas".
func slashCommandText(data discordgo.ApplicationCommandInteractionData) string {
	parts := []string{"/" + data.Name}
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			if v := strings.TrimSpace(opt.StringValue()); v != "" {
				parts = append(parts, v)
			}
		}
	}
	return strings.Join(parts, " ")
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// splitMessage cuts msg into chunks of at most maxLen bytes, preferring a
// newline in the second half of each chunk.
func splitMessage(msg string, maxLen int) []string {
	var chunks []string
	for len(msg) > maxLen {
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return append(chunks, msg)
}
