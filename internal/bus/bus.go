// Package bus carries chat messages between channels and the bot loop, and
// fans out internal events.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"ilvlbot/internal/domain"
)

const (
	defaultBufferSize     = 100
	defaultPublishTimeout = 10 * time.Second
)

type Config struct {
	BufferSize     int
	PublishTimeout time.Duration
	Logger         *slog.Logger
}

// InMemoryBus is a Go-channel based message bus for in-process communication.
type InMemoryBus struct {
	inbound        chan domain.InboundMessage
	handlers       map[string]func(domain.OutboundMessage)
	publishTimeout time.Duration
	mu             sync.RWMutex
	closed         bool
	logger         *slog.Logger
}

func New(cfg Config) *InMemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &InMemoryBus{
		inbound:        make(chan domain.InboundMessage, cfg.BufferSize),
		handlers:       make(map[string]func(domain.OutboundMessage)),
		publishTimeout: cfg.PublishTimeout,
		logger:         cfg.Logger,
	}
}

// Publish blocks up to the publish timeout when the bus is full, then drops.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "channel", msg.Channel)
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	select {
	case b.inbound <- msg:
	default:
		b.logger.Warn("inbound bus full, waiting", "channel", msg.Channel, "sender", msg.SenderID)
		timer := time.NewTimer(b.publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- msg:
		case <-timer.C:
			b.logger.Error("message dropped: bus full",
				"channel", msg.Channel,
				"sender", msg.SenderID,
				"waited", b.publishTimeout,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	handler, ok := b.handlers[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no handler registered for channel", "channel", msg.Channel)
		return
	}
	handler(msg)
}

func (b *InMemoryBus) OnOutbound(channelName string, handler func(domain.OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channelName] = handler
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
