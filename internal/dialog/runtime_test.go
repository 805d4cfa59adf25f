package dialog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilvlbot/internal/bus"
	"ilvlbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubRecognizer struct {
	rec domain.Recognition
	err error
}

func (s stubRecognizer) Name() string { return "stub" }

func (s stubRecognizer) Recognize(_ context.Context, utterance string) (domain.Recognition, error) {
	rec := s.rec
	rec.Query = utterance
	return rec, s.err
}

func greeting(score float64) stubRecognizer {
	return stubRecognizer{rec: domain.Recognition{Intents: []domain.Intent{{Name: "Greet", Score: score}}}}
}

// echoDialog asks for a name, then greets it.
type echoDialog struct {
	fail atomic.Bool
}

type echoData struct {
	Name string `json:"name"`
}

func (d *echoDialog) Begin(_ context.Context, st *State, rec domain.Recognition) (Action, error) {
	if e, ok := rec.FindEntity("Name"); ok {
		if err := st.Encode(echoData{Name: e.Value}); err != nil {
			return Action{}, err
		}
		st.Step = 2
		return Advance(), nil
	}
	st.Step = 1
	return Prompt("Who are you?"), nil
}

func (d *echoDialog) Resume(_ context.Context, st *State, in Input) (Action, error) {
	var data echoData
	if err := st.Decode(&data); err != nil {
		return Action{}, err
	}
	switch st.Step {
	case 1:
		data.Name = in.Text
		if err := st.Encode(data); err != nil {
			return Action{}, err
		}
		st.Step = 2
		return Advance(), nil
	case 2:
		if d.fail.Load() {
			return Action{}, errors.New("boom")
		}
		return End("Hello " + data.Name), nil
	}
	return Action{}, errors.New("unknown step")
}

// loopDialog never suspends.
type loopDialog struct{}

func (loopDialog) Begin(context.Context, *State, domain.Recognition) (Action, error) {
	return Advance(), nil
}

func (loopDialog) Resume(context.Context, *State, Input) (Action, error) {
	return Advance(), nil
}

func newTestRuntime(rec domain.Recognizer) (*Runtime, *MemoryStore) {
	store := NewMemoryStore(time.Minute)
	rt := NewRuntime(RuntimeConfig{Recognizer: rec, Store: store, Logger: testLogger()})
	return rt, store
}

func TestRuntime_PromptThenComplete(t *testing.T) {
	rt, store := newTestRuntime(greeting(0.9))
	rt.On("Greet", &echoDialog{})
	ctx := context.Background()

	reply, err := rt.Handle(ctx, "cli:local", "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"Who are you?"}, reply.Texts)
	assert.True(t, reply.Suspended)
	assert.Equal(t, 1, store.Len())

	reply, err = rt.Handle(ctx, "cli:local", "Hoazl")
	require.NoError(t, err)
	assert.Equal(t, "Hello Hoazl", reply.Text())
	assert.False(t, reply.Suspended)
	assert.Equal(t, 0, store.Len())
}

func TestRuntime_AdvanceWithoutPrompt(t *testing.T) {
	rec := greeting(0.9)
	rec.rec.Entities = []domain.Entity{{Type: "Name", Value: "Ana"}}
	rt, store := newTestRuntime(rec)
	rt.On("Greet", &echoDialog{})

	reply, err := rt.Handle(context.Background(), "k", "hello ana")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello Ana"}, reply.Texts)
	assert.Equal(t, 0, store.Len())
}

func TestRuntime_FallbackBelowMinScore(t *testing.T) {
	rt, store := newTestRuntime(greeting(0.2))
	rt.On("Greet", &echoDialog{})

	reply, err := rt.Handle(context.Background(), "k", "hm")
	require.NoError(t, err)
	assert.True(t, reply.Fallback)
	assert.Equal(t, "I could not understand your request.", reply.Text())
	assert.Equal(t, 0, store.Len())
}

func TestRuntime_FallbackForUnregisteredIntent(t *testing.T) {
	rt, _ := newTestRuntime(stubRecognizer{rec: domain.Recognition{Intents: []domain.Intent{{Name: "Weather", Score: 0.99}}}})
	rt.On("Greet", &echoDialog{})
	rt.OnDefault("Try asking for an item level.")

	reply, err := rt.Handle(context.Background(), "k", "rain?")
	require.NoError(t, err)
	assert.Equal(t, "Try asking for an item level.", reply.Text())
}

func TestRuntime_RecognizerErrorFallsBack(t *testing.T) {
	rt, _ := newTestRuntime(stubRecognizer{err: errors.New("unreachable")})
	rt.On("Greet", &echoDialog{})

	reply, err := rt.Handle(context.Background(), "k", "hello")
	require.NoError(t, err)
	assert.True(t, reply.Fallback)
}

func TestRuntime_HandlerErrorEndsDialog(t *testing.T) {
	d := &echoDialog{}
	d.fail.Store(true)
	rt, store := newTestRuntime(greeting(0.9))
	rt.On("Greet", d)

	_, err := rt.Handle(context.Background(), "k", "hello")
	require.NoError(t, err)

	reply, err := rt.Handle(context.Background(), "k", "Ana")
	require.NoError(t, err)
	assert.Equal(t, defaultFailure, reply.Text())
	assert.Equal(t, 0, store.Len())
}

func TestRuntime_AdvanceBounded(t *testing.T) {
	rt, store := newTestRuntime(stubRecognizer{rec: domain.Recognition{Intents: []domain.Intent{{Name: "Loop", Score: 1}}}})
	rt.On("Loop", loopDialog{})

	reply, err := rt.Handle(context.Background(), "k", "go")
	require.NoError(t, err)
	assert.Equal(t, defaultFailure, reply.Text())
	assert.Equal(t, 0, store.Len())
}

func TestRuntime_ConversationsIsolated(t *testing.T) {
	rt, store := newTestRuntime(greeting(0.9))
	rt.On("Greet", &echoDialog{})
	ctx := context.Background()

	_, err := rt.Handle(ctx, "telegram:1", "hello")
	require.NoError(t, err)
	_, err = rt.Handle(ctx, "telegram:2", "hello")
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())

	reply, err := rt.Handle(ctx, "telegram:2", "Bo")
	require.NoError(t, err)
	assert.Equal(t, "Hello Bo", reply.Text())

	st, err := rt.Active(ctx, "telegram:1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 1, st.Step)
}

func TestRuntime_Cancel(t *testing.T) {
	rt, _ := newTestRuntime(greeting(0.9))
	rt.On("Greet", &echoDialog{})
	ctx := context.Background()

	ok, err := rt.Cancel(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = rt.Handle(ctx, "k", "hello")
	require.NoError(t, err)

	ok, err = rt.Cancel(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	st, err := rt.Active(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestRuntime_BeginBypassesRecognizer(t *testing.T) {
	rt, _ := newTestRuntime(nil)
	rt.On("Greet", &echoDialog{})

	reply, err := rt.Begin(context.Background(), "k", domain.Recognition{
		Intents:  []domain.Intent{{Name: "Greet", Score: 1}},
		Entities: []domain.Entity{{Type: "Name", Value: "Cid"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello Cid", reply.Text())

	_, err = rt.Begin(context.Background(), "k", domain.Recognition{})
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestRuntime_StaleIntentStateDropped(t *testing.T) {
	rt, store := newTestRuntime(greeting(0.9))
	rt.On("Greet", &echoDialog{})
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "k", State{Intent: "Removed", Step: 3}))

	reply, err := rt.Handle(ctx, "k", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Who are you?", reply.Text())

	st, err := store.Load(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "Greet", st.Intent)
}

func TestRuntime_EmitsEvents(t *testing.T) {
	events := bus.NewEventBus(testLogger())
	rt := NewRuntime(RuntimeConfig{Recognizer: greeting(0.9), Events: events, Logger: testLogger()})
	rt.On("Greet", &echoDialog{})
	ctx := context.Background()

	_, err := rt.Handle(ctx, "k", "hello")
	require.NoError(t, err)
	_, err = rt.Handle(ctx, "k", "Ana")
	require.NoError(t, err)

	var types []string
	for _, e := range events.Replay("*", time.Time{}) {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{bus.EventDialogStarted, bus.EventDialogPrompted, bus.EventDialogCompleted}, types)
}

func TestRuntime_SerializesPerKey(t *testing.T) {
	rt, store := newTestRuntime(greeting(0.9))
	rt.On("Greet", &echoDialog{})
	ctx := context.Background()

	var wg sync.WaitGroup
	var prompts, greetings atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := rt.Handle(ctx, "shared", "hello")
			if err != nil {
				return
			}
			if reply.Suspended {
				prompts.Add(1)
			} else {
				greetings.Add(1)
			}
		}()
	}
	wg.Wait()

	// Turns alternate between starting the dialog and answering its prompt.
	assert.Equal(t, int32(10), prompts.Load())
	assert.Equal(t, int32(10), greetings.Load())
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, rt.locks.entries)
}
