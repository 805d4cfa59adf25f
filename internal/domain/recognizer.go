package domain

import (
	"context"
	"sort"
)

// Entity types the item level dialog reads.
const (
	EntityCharacterName = "CharacterName"
	EntityRealmName     = "RealmName"
)

// IntentNone is reported by recognizers when nothing matched.
const IntentNone = "None"

type Intent struct {
	Name  string  `json:"intent" yaml:"name"`
	Score float64 `json:"score" yaml:"score"`
}

type Entity struct {
	Type  string  `json:"type"`
	Value string  `json:"entity"`
	Score float64 `json:"score"`
	Start int     `json:"startIndex"`
	End   int     `json:"endIndex"`
}

// Recognition is the result of running an utterance through a Recognizer.
type Recognition struct {
	Query    string
	Intents  []Intent
	Entities []Entity
}

// TopIntent returns the highest scoring intent, or IntentNone with score 0.
func (r Recognition) TopIntent() Intent {
	if len(r.Intents) == 0 {
		return Intent{Name: IntentNone}
	}
	ranked := make([]Intent, len(r.Intents))
	copy(ranked, r.Intents)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked[0]
}

// FindEntity returns the first entity of the given type. The first match is authoritative.
func (r Recognition) FindEntity(entityType string) (Entity, bool) {
	for _, e := range r.Entities {
		if e.Type == entityType {
			return e, true
		}
	}
	return Entity{}, false
}

// Recognizer maps free text to scored intents and typed entities.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, utterance string) (Recognition, error)
}
