package itemlevel

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ilvlbot/internal/domain"
)

func entities(pairs ...string) domain.Recognition {
	rec := domain.Recognition{Intents: []domain.Intent{{Name: IntentName, Score: 0.9}}}
	for i := 0; i+1 < len(pairs); i += 2 {
		rec.Entities = append(rec.Entities, domain.Entity{Type: pairs[i], Value: pairs[i+1]})
	}
	return rec
}

func TestProcessInitialUtterance(t *testing.T) {
	tests := []struct {
		name      string
		rec       domain.Recognition
		wantQuery CharacterQuery
		want      Transition
	}{
		{
			name:      "both entities",
			rec:       entities(domain.EntityCharacterName, "hoazl", domain.EntityRealmName, "antonidas"),
			wantQuery: CharacterQuery{Name: "hoazl", Realm: "antonidas"},
			want:      Transition{Next: StepCaptureRealm},
		},
		{
			name:      "name only",
			rec:       entities(domain.EntityCharacterName, "hoazl"),
			wantQuery: CharacterQuery{Name: "hoazl"},
			want:      Transition{Next: StepCaptureRealm, Prompt: PromptRealm},
		},
		{
			name:      "realm only",
			rec:       entities(domain.EntityRealmName, "antonidas"),
			wantQuery: CharacterQuery{Realm: "antonidas"},
			want:      Transition{Next: StepCaptureName, Prompt: PromptName},
		},
		{
			name: "no entities",
			rec:  entities(),
			want: Transition{Next: StepCaptureName, Prompt: PromptName},
		},
		{
			name:      "first entity of a type wins",
			rec:       entities(domain.EntityCharacterName, "first", domain.EntityCharacterName, "second", domain.EntityRealmName, "r"),
			wantQuery: CharacterQuery{Name: "first", Realm: "r"},
			want:      Transition{Next: StepCaptureRealm},
		},
		{
			name: "blank entity ignored",
			rec:  entities(domain.EntityCharacterName, "   "),
			want: Transition{Next: StepCaptureName, Prompt: PromptName},
		},
		{
			name:      "unrelated entity types ignored",
			rec:       entities("Location", "stormwind", domain.EntityCharacterName, "hoazl"),
			wantQuery: CharacterQuery{Name: "hoazl"},
			want:      Transition{Next: StepCaptureRealm, Prompt: PromptRealm},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var q CharacterQuery
			got := ProcessInitialUtterance(&q, tt.rec)
			assert.Equal(t, tt.wantQuery, q)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProcessInitialUtterance_NamePresentNeverPromptsForName(t *testing.T) {
	for _, name := range []string{"hoazl", "Ælfric", "x", "Name With Space"} {
		var q CharacterQuery
		got := ProcessInitialUtterance(&q, entities(domain.EntityCharacterName, name))
		assert.Equal(t, name, q.Name)
		assert.NotEqual(t, PromptName, got.Prompt)
	}
}

func TestProcessInitialUtterance_KeepsFilledSlots(t *testing.T) {
	q := CharacterQuery{Name: "hoazl", Realm: "antonidas"}
	ProcessInitialUtterance(&q, entities())
	assert.Equal(t, CharacterQuery{Name: "hoazl", Realm: "antonidas"}, q)
}

func TestCaptureName(t *testing.T) {
	q := CharacterQuery{Name: "stale"}
	got := CaptureName(&q, "hoazl")
	assert.Equal(t, "hoazl", q.Name)
	assert.Equal(t, Transition{Next: StepCaptureRealm, Prompt: PromptRealm}, got)

	q = CharacterQuery{Name: "stale", Realm: "antonidas"}
	got = CaptureName(&q, " hoazl ")
	assert.Equal(t, "hoazl", q.Name)
	assert.Equal(t, Transition{Next: StepLookup}, got)

	q = CharacterQuery{Name: "kept"}
	CaptureName(&q, "")
	assert.Equal(t, "kept", q.Name)
}

func TestCaptureRealm(t *testing.T) {
	q := CharacterQuery{Name: "hoazl"}
	got := CaptureRealm(&q, "antonidas")
	assert.Equal(t, "antonidas", q.Realm)
	assert.Equal(t, Transition{Next: StepLookup}, got)

	q = CharacterQuery{Name: "hoazl", Realm: "blackhand"}
	got = CaptureRealm(&q, "")
	assert.Equal(t, "blackhand", q.Realm)
	assert.False(t, got.Suspends())
	assert.Equal(t, StepLookup, got.Next)

	q = CharacterQuery{Name: "hoazl"}
	got = CaptureRealm(&q, "  ")
	assert.Empty(t, q.Realm)
	assert.Equal(t, Transition{Next: StepLookup}, got)
}

func TestMissingSlotReply(t *testing.T) {
	assert.Equal(t, MissingName, MissingSlotReply(CharacterQuery{}))
	assert.Equal(t, MissingName, MissingSlotReply(CharacterQuery{Realm: "antonidas"}))
	assert.Equal(t, MissingRealm, MissingSlotReply(CharacterQuery{Name: "hoazl"}))
	assert.Empty(t, MissingSlotReply(CharacterQuery{Name: "hoazl", Realm: "antonidas"}))
}

func TestStepPhase(t *testing.T) {
	assert.Equal(t, AwaitingName, StepExtract.Phase())
	assert.Equal(t, AwaitingName, StepCaptureName.Phase())
	assert.Equal(t, AwaitingRealm, StepCaptureRealm.Phase())
	assert.Equal(t, Resolving, StepLookup.Phase())
	assert.Equal(t, Terminal, StepDone.Phase())
	assert.Equal(t, "capture_realm", StepCaptureRealm.String())
	assert.Equal(t, "resolving", Resolving.String())
}
