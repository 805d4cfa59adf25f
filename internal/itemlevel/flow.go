// Package itemlevel implements the FindItemLevel dialog: it collects a
// character name and realm over as many turns as needed, looks the character
// up once and replies with its item level.
package itemlevel

import (
	"fmt"
	"strings"

	"ilvlbot/internal/domain"
)

// IntentName is the recognizer intent the dialog is bound to.
const IntentName = "FindItemLevel"

const (
	PromptName  = "What is the name of the character?"
	PromptRealm = "What is the realm of the character?"

	MissingName  = "No name given ..."
	MissingRealm = "No realm given ..."
)

// Step enumerates the positions of the flow. The zero value is StepExtract.
type Step int

const (
	StepExtract Step = iota
	StepCaptureName
	StepCaptureRealm
	StepLookup
	StepDone
)

func (s Step) String() string {
	switch s {
	case StepExtract:
		return "extract"
	case StepCaptureName:
		return "capture_name"
	case StepCaptureRealm:
		return "capture_realm"
	case StepLookup:
		return "lookup"
	case StepDone:
		return "done"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Phase groups steps into the coarse states the user observes.
type Phase int

const (
	AwaitingName Phase = iota
	AwaitingRealm
	Resolving
	Terminal
)

func (p Phase) String() string {
	switch p {
	case AwaitingName:
		return "awaiting_name"
	case AwaitingRealm:
		return "awaiting_realm"
	case Resolving:
		return "resolving"
	default:
		return "terminal"
	}
}

func (s Step) Phase() Phase {
	switch s {
	case StepExtract, StepCaptureName:
		return AwaitingName
	case StepCaptureRealm:
		return AwaitingRealm
	case StepLookup:
		return Resolving
	default:
		return Terminal
	}
}

// CharacterQuery is the scratch state of one pass through the flow. An empty
// field means the slot is not filled yet.
type CharacterQuery struct {
	Name  string `json:"name,omitempty"`
	Realm string `json:"realm,omitempty"`
}

// Complete reports whether both slots are filled.
func (q CharacterQuery) Complete() bool {
	return q.Name != "" && q.Realm != ""
}

// Transition is the outcome of a pure step. A non-empty Prompt suspends the
// flow until the user replies; otherwise Next runs immediately.
type Transition struct {
	Next   Step
	Prompt string
}

// Suspends reports whether the transition waits for user input.
func (t Transition) Suspends() bool { return t.Prompt != "" }

// ProcessInitialUtterance fills the slots from the first entity of each type.
// Missing entities leave slots untouched.
func ProcessInitialUtterance(q *CharacterQuery, rec domain.Recognition) Transition {
	if e, ok := rec.FindEntity(domain.EntityCharacterName); ok {
		if v := strings.TrimSpace(e.Value); v != "" {
			q.Name = v
		}
	}
	if e, ok := rec.FindEntity(domain.EntityRealmName); ok {
		if v := strings.TrimSpace(e.Value); v != "" {
			q.Realm = v
		}
	}

	switch {
	case q.Name == "":
		return Transition{Next: StepCaptureName, Prompt: PromptName}
	case q.Realm == "":
		return Transition{Next: StepCaptureRealm, Prompt: PromptRealm}
	default:
		return Transition{Next: StepCaptureRealm}
	}
}

// CaptureName stores a non-empty reply as the name, replacing any earlier value.
func CaptureName(q *CharacterQuery, reply string) Transition {
	if v := strings.TrimSpace(reply); v != "" {
		q.Name = v
	}
	if q.Realm == "" {
		return Transition{Next: StepCaptureRealm, Prompt: PromptRealm}
	}
	return Transition{Next: StepLookup}
}

// CaptureRealm stores a non-empty reply as the realm and always moves on to
// the lookup, even when the realm is still missing.
func CaptureRealm(q *CharacterQuery, reply string) Transition {
	if v := strings.TrimSpace(reply); v != "" {
		q.Realm = v
	}
	return Transition{Next: StepLookup}
}

// MissingSlotReply returns the terminal message for an incomplete query, or
// "" when both slots are filled.
func MissingSlotReply(q CharacterQuery) string {
	switch {
	case q.Name == "":
		return MissingName
	case q.Realm == "":
		return MissingRealm
	default:
		return ""
	}
}

// FormatItemLevel renders a successful lookup.
func FormatItemLevel(q CharacterQuery, il domain.ItemLevel) string {
	return fmt.Sprintf("%s@%s has an item level of %d/%d", q.Name, q.Realm, il.Equipped, il.Average)
}

// FormatFailure renders a failed lookup. The cause is never shown to the user.
func FormatFailure(q CharacterQuery) string {
	return fmt.Sprintf("An error occurred while looking up %s@%s ...", q.Name, q.Realm)
}
