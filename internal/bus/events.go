package bus

import (
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"
)

// Event represents a system event for internal pub/sub.
type Event struct {
	Type      string         // e.g. "message.received", "dialog.completed"
	Source    string         // originating component
	Payload   map[string]any // event-specific data
	Timestamp time.Time      // when the event was created
}

// EventHandler is a callback for events.
type EventHandler func(Event)

const defaultHistory = 1000

// EventBus fans internal events out to subscribers by type ("*" receives
// everything) and keeps the most recent events for Replay.
type EventBus struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	handlers map[string][]subscription
	seq      int

	// history is a ring once it reaches capacity; next is the slot the
	// following event overwrites.
	history []Event
	next    int
	limit   int
}

type subscription struct {
	id      string
	handler EventHandler
}

// NewEventBus creates an EventBus that remembers the last 1000 events.
func NewEventBus(logger *slog.Logger) *EventBus {
	return newEventBus(logger, defaultHistory)
}

func newEventBus(logger *slog.Logger, limit int) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = defaultHistory
	}
	return &EventBus{
		logger:   logger,
		handlers: make(map[string][]subscription),
		limit:    limit,
	}
}

// On subscribes handler to eventType and returns an id for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.seq++
	id := eventType + "-" + strconv.Itoa(eb.seq)
	eb.handlers[eventType] = append(eb.handlers[eventType], subscription{id: id, handler: handler})
	return id
}

func (eb *EventBus) Off(eventType, id string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = slices.DeleteFunc(eb.handlers[eventType], func(s subscription) bool {
		return s.id == id
	})
}

// Emit records the event and calls its subscribers synchronously, specific
// ones before wildcard ones. A panicking handler is logged and skipped.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) < eb.limit {
		eb.history = append(eb.history, event)
	} else {
		eb.history[eb.next] = event
		eb.next = (eb.next + 1) % eb.limit
	}
	subs := slices.Concat(eb.handlers[event.Type], eb.handlers["*"])
	eb.mu.Unlock()

	for _, s := range subs {
		eb.dispatch(s, event)
	}
}

func (eb *EventBus) dispatch(s subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", event.Type, "handler", s.id, "panic", r)
		}
	}()
	s.handler(event)
}

// EmitAsync runs Emit on its own goroutine.
func (eb *EventBus) EmitAsync(event Event) {
	go eb.Emit(event)
}

// Replay returns remembered events of eventType ("*" for all) not older than
// since, oldest first.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var out []Event
	ordered := slices.Concat(eb.history[eb.next:], eb.history[:eb.next])
	for _, e := range ordered {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}

// --- Well-known event types ---
const (
	EventMessageReceived  = "message.received"
	EventMessageSent      = "message.sent"
	EventDialogStarted    = "dialog.started"
	EventDialogPrompted   = "dialog.prompted"
	EventDialogCompleted  = "dialog.completed"
	EventDialogCancelled  = "dialog.cancelled"
	EventLookupSucceeded  = "lookup.succeeded"
	EventLookupFailed     = "lookup.failed"
	EventWebhookReceived  = "webhook.received"
	EventRecognizerFailed = "recognizer.failed"
)
