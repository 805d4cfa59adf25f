// Package bot turns inbound chat messages into dialog turns and sends back
// exactly one reply per message.
package bot

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"ilvlbot/internal/bus"
	"ilvlbot/internal/dialog"
	"ilvlbot/internal/domain"
	"ilvlbot/internal/metrics"
)

const (
	defaultConcurrency = 8
	rateLimitedReply   = "You are sending messages too quickly, please wait a moment."
	turnFailedReply    = "Sorry, something went wrong. Please try again."
	emptyTurnReply     = "Done."

	// workerQueueSize is the backlog per worker before Run stops reading the bus.
	workerQueueSize = 64
)

// Loop is the core bot engine: receive message, run a dialog turn, respond.
type Loop struct {
	runtime     *dialog.Runtime
	bus         domain.MessageBus
	events      *bus.EventBus
	limiter     *SenderLimiter
	logger      *slog.Logger
	concurrency int
}

type Config struct {
	Runtime     *dialog.Runtime
	Bus         domain.MessageBus
	Events      *bus.EventBus // optional
	Limiter     *SenderLimiter // optional; nil disables rate limiting
	Logger      *slog.Logger
	Concurrency int // number of turn workers (default 8)
}

func New(cfg Config) (*Loop, error) {
	if cfg.Runtime == nil {
		return nil, fmt.Errorf("bot: dialog runtime is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("bot: message bus is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	l := &Loop{
		runtime:     cfg.Runtime,
		bus:         cfg.Bus,
		events:      cfg.Events,
		limiter:     cfg.Limiter,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
	}
	if l.events != nil {
		l.events.On(bus.EventDialogStarted, func(bus.Event) { metrics.DialogsStarted.Inc() })
		l.events.On(bus.EventDialogCompleted, func(bus.Event) { metrics.DialogsCompleted.Inc() })
	}
	return l, nil
}

// Run consumes inbound messages until ctx is done or the bus closes. Turns
// run on a fixed set of workers; every message of a conversation goes to the
// same worker, so a conversation's turns are handled in arrival order while
// different conversations proceed in parallel. Run returns after the workers
// have drained.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("bot loop started", "concurrency", l.concurrency)

	queues := make([]chan domain.InboundMessage, l.concurrency)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan domain.InboundMessage, workerQueueSize)
		wg.Add(1)
		go func(queue <-chan domain.InboundMessage) {
			defer wg.Done()
			l.worker(ctx, queue)
		}(queues[i])
	}
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}()

	inbound := l.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("bot loop stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, bot loop stopping")
				return
			}
			select {
			case queues[shard(msg.ConversationKey(), len(queues))] <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (l *Loop) worker(ctx context.Context, queue <-chan domain.InboundMessage) {
	for msg := range queue {
		if ctx.Err() != nil {
			l.logger.Debug("dropping queued message on shutdown", "key", msg.ConversationKey())
			continue
		}
		l.processMessage(ctx, msg)
	}
}

// shard maps a conversation key onto one of n workers.
func shard(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// ProcessDirect runs one turn synchronously and returns the reply text.
// Used by the CLI and other direct callers that need a blocking reply.
func (l *Loop) ProcessDirect(ctx context.Context, content, channel, chatID string) string {
	return l.handleMessage(ctx, domain.InboundMessage{
		Channel:   channel,
		ChatID:    chatID,
		SenderID:  chatID,
		Content:   content,
		Timestamp: time.Now(),
	})
}

func (l *Loop) processMessage(ctx context.Context, msg domain.InboundMessage) {
	l.logger.Info("processing message",
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"content_len", len(msg.Content),
	)

	response := l.handleMessage(ctx, msg)
	if response == "" {
		// Webhook callers block on ReplyTo, so every message gets an answer.
		response = emptyTurnReply
	}
	l.bus.SendOutbound(domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		ReplyTo: msg.ID,
		Content: response,
		Format:  "text",
	})
	l.emit(bus.EventMessageSent, msg, map[string]any{"content_len": len(response)})
}

// handleMessage runs one turn and returns the single reply for it.
func (l *Loop) handleMessage(ctx context.Context, msg domain.InboundMessage) string {
	start := time.Now()
	metrics.MessagesTotal.Inc()
	metrics.TurnsInFlight.Inc()
	defer func() {
		metrics.TurnsInFlight.Dec()
		metrics.TurnLatency.Observe(time.Since(start).Seconds())
	}()
	l.emit(bus.EventMessageReceived, msg, nil)

	if l.limiter != nil && !l.limiter.Allow(msg.Channel+":"+msg.SenderID) {
		metrics.RateLimited.Inc()
		l.logger.Warn("rate limited", "channel", msg.Channel, "sender", msg.SenderID)
		return rateLimitedReply
	}

	if cmd := ParseCommand(msg.Content); cmd != nil {
		if res := l.HandleCommand(ctx, cmd, msg); res.Handled {
			metrics.CommandsTotal.Inc()
			return res.Response
		}
	}

	reply, err := l.runtime.Handle(ctx, msg.ConversationKey(), msg.Content)
	if err != nil {
		l.logger.Error("turn failed", "key", msg.ConversationKey(), "err", err)
		return turnFailedReply
	}
	if reply.Fallback {
		metrics.FallbackReplies.Inc()
	}
	l.logger.Debug("turn complete",
		"key", msg.ConversationKey(),
		"intent", reply.Intent,
		"suspended", reply.Suspended,
		"texts", len(reply.Texts),
		"duration", time.Since(start),
	)
	return reply.Text()
}

func (l *Loop) emit(eventType string, msg domain.InboundMessage, extra map[string]any) {
	if l.events == nil {
		return
	}
	payload := map[string]any{"channel": msg.Channel, "chat_id": msg.ChatID, "sender": msg.SenderID}
	for k, v := range extra {
		payload[k] = v
	}
	l.events.Emit(bus.Event{Type: eventType, Source: "bot", Payload: payload})
}
