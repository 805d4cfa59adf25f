// Package dialog hosts multi-turn conversations: it persists per-conversation
// scratch state between turns, routes recognized intents to handlers and
// resumes suspended handlers with the user's next message.
package dialog

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Kind tells the runtime what to do after a step.
type Kind int

const (
	// KindEnd discards the dialog state. Text, if any, is the final reply.
	KindEnd Kind = iota
	// KindPrompt persists the state and waits for the user's next message.
	KindPrompt
	// KindAdvance runs the next step right away without user input.
	KindAdvance
)

func (k Kind) String() string {
	switch k {
	case KindEnd:
		return "end"
	case KindPrompt:
		return "prompt"
	case KindAdvance:
		return "advance"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Action is the outcome of a single dialog step.
type Action struct {
	Kind Kind
	Text string
}

// Prompt asks the user for free-text input and suspends the dialog.
func Prompt(text string) Action { return Action{Kind: KindPrompt, Text: text} }

// Advance moves to the following step without waiting for input.
func Advance() Action { return Action{Kind: KindAdvance} }

// End sends text (when non-empty) and finishes the dialog.
func End(text string) Action { return Action{Kind: KindEnd, Text: text} }

// Input is what a resumed step receives.
type Input struct {
	Text string
	// Reply is false when the step was reached through Advance.
	Reply bool
}

// State is the persisted scratch state of one in-progress dialog.
type State struct {
	Intent    string          `json:"intent"`
	Step      int             `json:"step"`
	Data      json.RawMessage `json:"data,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Decode unmarshals the handler's scratch data into v. Empty data leaves v untouched.
func (s *State) Decode(v any) error {
	if len(s.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(s.Data, v); err != nil {
		return fmt.Errorf("decode dialog data for %s: %w", s.Intent, err)
	}
	return nil
}

// Encode stores v as the handler's scratch data.
func (s *State) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode dialog data for %s: %w", s.Intent, err)
	}
	s.Data = data
	return nil
}
