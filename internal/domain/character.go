package domain

import "context"

// CharacterRef addresses a character on the game-data API.
type CharacterRef struct {
	Region string
	Realm  string
	Name   string
}

// ItemLevel holds the equipment statistics returned for a character.
type ItemLevel struct {
	Name     string
	Realm    string
	Equipped int
	Average  int
}

// CharacterLookup fetches item levels. Every failure mode is reported as an error.
type CharacterLookup interface {
	ItemLevel(ctx context.Context, ref CharacterRef) (*ItemLevel, error)
}
