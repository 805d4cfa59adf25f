// Package recognizer maps chat utterances to intents and entities, either
// through a hosted LUIS application or through local regular expressions.
package recognizer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"ilvlbot/internal/domain"
)

const (
	defaultPatternScore = 0.9
	keywordScore        = 0.5
)

// IntentDefinition describes one intent for the pattern recognizer. Named
// groups in Patterns become entities of the same type.
type IntentDefinition struct {
	Name     string   `yaml:"name"`
	Score    float64  `yaml:"score"`
	Patterns []string `yaml:"patterns"`
	Keywords []string `yaml:"keywords"`
}

type compiledIntent struct {
	def      IntentDefinition
	patterns []*regexp.Regexp
	keywords []string
}

// PatternRecognizer is an offline recognizer driven by regular expressions.
type PatternRecognizer struct {
	mu      sync.RWMutex
	intents []compiledIntent
	logger  *slog.Logger
}

func NewPatternRecognizer(logger *slog.Logger) *PatternRecognizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PatternRecognizer{logger: logger}
}

func (p *PatternRecognizer) Name() string { return "pattern" }

// Register compiles and adds an intent, replacing one with the same name.
func (p *PatternRecognizer) Register(def IntentDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("intent definition without name")
	}
	if len(def.Patterns) == 0 && len(def.Keywords) == 0 {
		return fmt.Errorf("intent %s: no patterns or keywords", def.Name)
	}
	if def.Score <= 0 || def.Score > 1 {
		def.Score = defaultPatternScore
	}

	ci := compiledIntent{def: def}
	for _, pat := range def.Patterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return fmt.Errorf("intent %s: compile %q: %w", def.Name, pat, err)
		}
		ci.patterns = append(ci.patterns, re)
	}
	for _, kw := range def.Keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			ci.keywords = append(ci.keywords, kw)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.intents {
		if existing.def.Name == def.Name {
			p.intents[i] = ci
			p.logger.Info("intent updated", "intent", def.Name)
			return nil
		}
	}
	p.intents = append(p.intents, ci)
	return nil
}

// Recognize scores every registered intent. The first matching pattern of an
// intent supplies its entities; a keyword hit scores lower and extracts nothing.
func (p *PatternRecognizer) Recognize(_ context.Context, utterance string) (domain.Recognition, error) {
	rec := domain.Recognition{Query: utterance}
	lower := strings.ToLower(utterance)

	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, ci := range p.intents {
		if entities, ok := matchPatterns(ci.patterns, utterance); ok {
			rec.Intents = append(rec.Intents, domain.Intent{Name: ci.def.Name, Score: ci.def.Score})
			rec.Entities = append(rec.Entities, entities...)
			continue
		}
		for _, kw := range ci.keywords {
			if strings.Contains(lower, kw) {
				rec.Intents = append(rec.Intents, domain.Intent{Name: ci.def.Name, Score: keywordScore})
				break
			}
		}
	}

	sort.SliceStable(rec.Intents, func(i, j int) bool { return rec.Intents[i].Score > rec.Intents[j].Score })
	return rec, nil
}

func matchPatterns(patterns []*regexp.Regexp, utterance string) ([]domain.Entity, bool) {
	for _, re := range patterns {
		loc := re.FindStringSubmatchIndex(utterance)
		if loc == nil {
			continue
		}
		var entities []domain.Entity
		for i, group := range re.SubexpNames() {
			if group == "" || loc[2*i] < 0 {
				continue
			}
			start, end := loc[2*i], loc[2*i+1]
			value := strings.TrimSpace(utterance[start:end])
			if value == "" || isFiller(group, value) {
				continue
			}
			entities = append(entities, domain.Entity{
				Type:  group,
				Value: value,
				Score: 1,
				Start: start,
				End:   end - 1,
			})
		}
		return entities, true
	}
	return nil, false
}

// fillerWords can end up in a name group when an utterance stops right after
// a keyword or preposition ("item level of?", "ilvl please"). RE2 has no
// lookahead, so they are filtered after matching.
var fillerWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "of": {}, "for": {}, "on": {}, "from": {}, "in": {},
	"is": {}, "me": {}, "my": {}, "what": {}, "whats": {}, "what's": {},
	"please": {}, "pls": {}, "plz": {}, "thanks": {}, "thx": {},
	"character": {}, "char": {}, "toon": {}, "realm": {}, "server": {},
}

// isFiller reports whether value is a filler word captured as a character or
// realm name.
func isFiller(entityType, value string) bool {
	if entityType != domain.EntityCharacterName && entityType != domain.EntityRealmName {
		return false
	}
	_, ok := fillerWords[strings.ToLower(value)]
	return ok
}

// BuiltinIntents returns the intents understood without any configuration.
func BuiltinIntents() []IntentDefinition {
	return []IntentDefinition{
		{
			Name:  "FindItemLevel",
			Score: 0.95,
			Patterns: []string{
				`(?i)^\s*(?:what(?:'s|\s+is)\s+(?:the\s+)?)?(?:item\s*level|ilvl|gear\s*score)(?:\s+(?:of|for))?\s+(?P<CharacterName>[^\s@?\-]+)(?:(?:\s*@\s*|\s+(?:on|from|in)\s+|\s*-\s*|\s+)(?P<RealmName>[^?]+?))?\s*\??\s*$`,
				`(?i)^\s*(?:how\s+geared\s+is|check)\s+(?P<CharacterName>[^\s@?\-]+)(?:(?:\s*@\s*|\s+(?:on|from|in)\s+|\s*-\s*)(?P<RealmName>[^?]+?))?\s*\??\s*$`,
			},
			Keywords: []string{"item level", "itemlevel", "ilvl", "gear score"},
		},
	}
}

// NewBuiltinRecognizer returns a pattern recognizer loaded with BuiltinIntents.
func NewBuiltinRecognizer(logger *slog.Logger) (*PatternRecognizer, error) {
	p := NewPatternRecognizer(logger)
	for _, def := range BuiltinIntents() {
		if err := p.Register(def); err != nil {
			return nil, err
		}
	}
	return p, nil
}
