package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ilvlbot/internal/bus"
	"ilvlbot/internal/domain"
)

const (
	defaultMinScore   = 0.3
	defaultMaxAdvance = 8
	defaultFallback   = "I could not understand your request."
	defaultFailure    = "Something went wrong, please start over."
)

// ErrNoHandler is returned by Begin when no handler is registered for the intent.
var ErrNoHandler = errors.New("no dialog handler for intent")

// Handler drives one kind of dialog. Begin runs the first step for a freshly
// recognized utterance; Resume runs the step recorded in st.Step.
type Handler interface {
	Begin(ctx context.Context, st *State, rec domain.Recognition) (Action, error)
	Resume(ctx context.Context, st *State, in Input) (Action, error)
}

// Reply collects everything a single turn produced.
type Reply struct {
	Texts     []string
	Intent    string
	Suspended bool
	Fallback  bool
}

// Text joins the turn's texts into one message.
func (r Reply) Text() string {
	return strings.Join(r.Texts, "\n")
}

type RuntimeConfig struct {
	Recognizer domain.Recognizer
	Store      Store
	Events     *bus.EventBus // optional
	Logger     *slog.Logger
	MinScore   float64 // top intent score below this is treated as no match
	MaxAdvance int     // upper bound on Advance steps in one turn
	Failure    string  // reply used when a handler returns an error
}

// Runtime maintains per-conversation dialog state and dispatches turns.
// Turns for the same conversation key never run concurrently.
type Runtime struct {
	recognizer domain.Recognizer
	store      Store
	events     *bus.EventBus
	logger     *slog.Logger
	minScore   float64
	maxAdvance int
	failure    string
	locks      *keyLock

	mu       sync.RWMutex
	handlers map[string]Handler
	fallback string
}

func NewRuntime(cfg RuntimeConfig) *Runtime {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore(DefaultTTL)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = defaultMinScore
	}
	if cfg.MaxAdvance <= 0 {
		cfg.MaxAdvance = defaultMaxAdvance
	}
	if cfg.Failure == "" {
		cfg.Failure = defaultFailure
	}
	return &Runtime{
		recognizer: cfg.Recognizer,
		store:      cfg.Store,
		events:     cfg.Events,
		logger:     cfg.Logger,
		minScore:   cfg.MinScore,
		maxAdvance: cfg.MaxAdvance,
		failure:    cfg.Failure,
		locks:      newKeyLock(),
		handlers:   make(map[string]Handler),
		fallback:   defaultFallback,
	}
}

// On binds a handler to an intent name. A later call for the same intent replaces it.
func (r *Runtime) On(intent string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[intent] = h
}

// OnDefault sets the reply for utterances that match no registered intent.
func (r *Runtime) OnDefault(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = text
}

// Intents lists the registered intent names.
func (r *Runtime) Intents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

func (r *Runtime) handler(intent string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[intent]
	return h, ok
}

func (r *Runtime) fallbackReply() Reply {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Reply{Texts: []string{r.fallback}, Fallback: true}
}

// Handle runs one turn for the conversation identified by key. A suspended
// dialog is resumed with text; otherwise text is recognized and, when it
// matches a registered intent, a new dialog begins.
func (r *Runtime) Handle(ctx context.Context, key, text string) (Reply, error) {
	unlock := r.locks.Lock(key)
	defer unlock()

	st, err := r.store.Load(ctx, key)
	if err != nil {
		return Reply{}, fmt.Errorf("load dialog state %s: %w", key, err)
	}

	if st != nil {
		if h, ok := r.handler(st.Intent); ok {
			action, err := h.Resume(ctx, st, Input{Text: text, Reply: true})
			return r.drive(ctx, key, h, st, action, err)
		}
		r.logger.Warn("dropping dialog state for unregistered intent", "key", key, "intent", st.Intent)
		if err := r.store.Delete(ctx, key); err != nil {
			return Reply{}, fmt.Errorf("delete dialog state %s: %w", key, err)
		}
	}

	if r.recognizer == nil {
		return r.fallbackReply(), nil
	}
	rec, err := r.recognizer.Recognize(ctx, text)
	if err != nil {
		r.logger.Warn("recognition failed", "key", key, "recognizer", r.recognizer.Name(), "err", err)
		return r.fallbackReply(), nil
	}

	top := rec.TopIntent()
	h, ok := r.handler(top.Name)
	if !ok || top.Score < r.minScore {
		r.logger.Debug("no intent matched", "key", key, "intent", top.Name, "score", top.Score)
		return r.fallbackReply(), nil
	}
	return r.begin(ctx, key, h, top.Name, rec)
}

// Begin starts the intent's dialog with an already recognized utterance,
// discarding any dialog suspended for key.
func (r *Runtime) Begin(ctx context.Context, key string, rec domain.Recognition) (Reply, error) {
	top := rec.TopIntent()
	h, ok := r.handler(top.Name)
	if !ok {
		return Reply{}, fmt.Errorf("%w: %s", ErrNoHandler, top.Name)
	}

	unlock := r.locks.Lock(key)
	defer unlock()

	if err := r.store.Delete(ctx, key); err != nil {
		return Reply{}, fmt.Errorf("delete dialog state %s: %w", key, err)
	}
	return r.begin(ctx, key, h, top.Name, rec)
}

func (r *Runtime) begin(ctx context.Context, key string, h Handler, intent string, rec domain.Recognition) (Reply, error) {
	st := &State{Intent: intent}
	r.emit(bus.EventDialogStarted, key, intent, nil)
	r.logger.Info("dialog started", "key", key, "intent", intent, "entities", len(rec.Entities))

	action, err := h.Begin(ctx, st, rec)
	return r.drive(ctx, key, h, st, action, err)
}

// drive follows Advance chains until the dialog suspends or ends, then
// persists or discards the state accordingly.
func (r *Runtime) drive(ctx context.Context, key string, h Handler, st *State, action Action, err error) (Reply, error) {
	reply := Reply{Intent: st.Intent}

	for steps := 0; err == nil; steps++ {
		if action.Text != "" {
			reply.Texts = append(reply.Texts, action.Text)
		}
		if action.Kind != KindAdvance {
			break
		}
		if steps >= r.maxAdvance {
			err = fmt.Errorf("dialog %s advanced %d times without suspending", st.Intent, steps)
			break
		}
		action, err = h.Resume(ctx, st, Input{})
	}

	if err != nil {
		r.logger.Error("dialog step failed", "key", key, "intent", st.Intent, "step", st.Step, "err", err)
		reply.Texts = append(reply.Texts, r.failure)
		action = End("")
	}

	switch action.Kind {
	case KindPrompt:
		st.UpdatedAt = time.Now()
		if err := r.store.Save(ctx, key, *st); err != nil {
			return Reply{}, fmt.Errorf("save dialog state %s: %w", key, err)
		}
		reply.Suspended = true
		r.emit(bus.EventDialogPrompted, key, st.Intent, map[string]any{"step": st.Step})
	default:
		if err := r.store.Delete(ctx, key); err != nil {
			return Reply{}, fmt.Errorf("delete dialog state %s: %w", key, err)
		}
		r.emit(bus.EventDialogCompleted, key, st.Intent, map[string]any{"step": st.Step})
		r.logger.Info("dialog ended", "key", key, "intent", st.Intent, "step", st.Step)
	}
	return reply, nil
}

// Cancel drops the suspended dialog for key. It reports whether one existed.
func (r *Runtime) Cancel(ctx context.Context, key string) (bool, error) {
	unlock := r.locks.Lock(key)
	defer unlock()

	st, err := r.store.Load(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load dialog state %s: %w", key, err)
	}
	if st == nil {
		return false, nil
	}
	if err := r.store.Delete(ctx, key); err != nil {
		return false, fmt.Errorf("delete dialog state %s: %w", key, err)
	}
	r.emit(bus.EventDialogCancelled, key, st.Intent, nil)
	return true, nil
}

// Active returns the suspended dialog for key, or nil.
func (r *Runtime) Active(ctx context.Context, key string) (*State, error) {
	return r.store.Load(ctx, key)
}

func (r *Runtime) emit(eventType, key, intent string, extra map[string]any) {
	if r.events == nil {
		return
	}
	payload := map[string]any{"key": key, "intent": intent}
	for k, v := range extra {
		payload[k] = v
	}
	r.events.Emit(bus.Event{Type: eventType, Source: "dialog", Payload: payload})
}
