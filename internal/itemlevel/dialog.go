package itemlevel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ilvlbot/internal/bus"
	"ilvlbot/internal/dialog"
	"ilvlbot/internal/domain"
	"ilvlbot/internal/metrics"
)

const defaultRegion = "eu"

type Config struct {
	Lookup domain.CharacterLookup
	Region string        // defaults to "eu"
	Events *bus.EventBus // optional
	Logger *slog.Logger
}

// Dialog binds the flow to the dialog runtime. It holds no per-conversation
// state; everything lives in the dialog.State the runtime hands in.
type Dialog struct {
	lookup domain.CharacterLookup
	region string
	events *bus.EventBus
	logger *slog.Logger
}

func New(cfg Config) (*Dialog, error) {
	if cfg.Lookup == nil {
		return nil, fmt.Errorf("itemlevel: character lookup is required")
	}
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dialog{
		lookup: cfg.Lookup,
		region: cfg.Region,
		events: cfg.Events,
		logger: cfg.Logger,
	}, nil
}

// Register binds the dialog to IntentName on rt.
func (d *Dialog) Register(rt *dialog.Runtime) {
	rt.On(IntentName, d)
}

func (d *Dialog) Begin(_ context.Context, st *dialog.State, rec domain.Recognition) (dialog.Action, error) {
	var q CharacterQuery
	t := ProcessInitialUtterance(&q, rec)
	d.logger.Debug("slots extracted", "name", q.Name, "realm", q.Realm, "next", t.Next)
	return d.apply(st, q, t)
}

func (d *Dialog) Resume(ctx context.Context, st *dialog.State, in dialog.Input) (dialog.Action, error) {
	var q CharacterQuery
	if err := st.Decode(&q); err != nil {
		return dialog.Action{}, err
	}

	switch step := Step(st.Step); step {
	case StepCaptureName:
		return d.apply(st, q, CaptureName(&q, in.Text))
	case StepCaptureRealm:
		return d.apply(st, q, CaptureRealm(&q, in.Text))
	case StepLookup:
		st.Step = int(StepDone)
		return dialog.End(d.PerformLookup(ctx, q)), nil
	default:
		return dialog.Action{}, fmt.Errorf("itemlevel: cannot resume at step %s", step)
	}
}

func (d *Dialog) apply(st *dialog.State, q CharacterQuery, t Transition) (dialog.Action, error) {
	st.Step = int(t.Next)
	if err := st.Encode(q); err != nil {
		return dialog.Action{}, err
	}
	if t.Suspends() {
		return dialog.Prompt(t.Prompt), nil
	}
	return dialog.Advance(), nil
}

// PerformLookup resolves a query into the final reply. It calls the lookup
// service only when both slots are filled, and turns every lookup error into
// the generic failure reply.
func (d *Dialog) PerformLookup(ctx context.Context, q CharacterQuery) string {
	if msg := MissingSlotReply(q); msg != "" {
		return msg
	}

	ref := domain.CharacterRef{Region: d.region, Realm: q.Realm, Name: q.Name}
	start := time.Now()
	il, err := d.lookup.ItemLevel(ctx, ref)
	metrics.LookupLatency.Observe(time.Since(start).Seconds())
	metrics.LookupsTotal.Inc()

	if err != nil {
		metrics.LookupFailures.Inc()
		d.logger.Warn("item level lookup failed", "name", q.Name, "realm", q.Realm, "region", d.region, "err", err)
		d.emit(bus.EventLookupFailed, q, map[string]any{"error": err.Error()})
		return FormatFailure(q)
	}
	if il == nil {
		metrics.LookupFailures.Inc()
		d.logger.Warn("item level lookup returned no data", "name", q.Name, "realm", q.Realm)
		d.emit(bus.EventLookupFailed, q, map[string]any{"error": "empty result"})
		return FormatFailure(q)
	}

	d.logger.Info("item level resolved", "name", q.Name, "realm", q.Realm, "equipped", il.Equipped, "average", il.Average)
	d.emit(bus.EventLookupSucceeded, q, map[string]any{"equipped": il.Equipped, "average": il.Average})
	return FormatItemLevel(q, *il)
}

func (d *Dialog) emit(eventType string, q CharacterQuery, extra map[string]any) {
	if d.events == nil {
		return
	}
	payload := map[string]any{"name": q.Name, "realm": q.Realm, "region": d.region}
	for k, v := range extra {
		payload[k] = v
	}
	d.events.Emit(bus.Event{Type: eventType, Source: "itemlevel", Payload: payload})
}
