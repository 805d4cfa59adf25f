package domain

import "time"

type InboundMessage struct {
	ID        string // optional; echoed as OutboundMessage.ReplyTo
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	Timestamp time.Time
}

// ConversationKey identifies the dialog state owned by one chat on one channel.
func (m InboundMessage) ConversationKey() string {
	return m.Channel + ":" + m.ChatID
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	ReplyTo string
	Content string
	Format  string // text | markdown
}
