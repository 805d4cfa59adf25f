package valkeystore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/valkey-io/valkey-go"

	"ilvlbot/internal/dialog"
)

const defaultPrefix = "ilvlbot:dialog"

// Error tags a Valkey failure with the store operation that hit it.
type Error struct {
	Operation string
	Err       error
}

func (e Error) Error() string {
	return fmt.Sprintf("valkey %s: %v", e.Operation, e.Err)
}

func (e Error) Unwrap() error { return e.Err }

type Config struct {
	Prefix string
	TTL    time.Duration
}

// Store implements dialog.Store. Every Save refreshes the key's expiry, so
// Valkey drops abandoned dialogs on its own.
type Store struct {
	client valkey.Client
	logger *slog.Logger
	prefix string
	ttl    time.Duration
}

var _ dialog.Store = (*Store)(nil)

func NewStore(client valkey.Client, logger *slog.Logger, cfg Config) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = dialog.DefaultTTL
	}
	return &Store{client: client, logger: logger, prefix: cfg.Prefix, ttl: cfg.TTL}
}

func (s *Store) key(convKey string) string {
	return s.prefix + ":" + convKey
}

func (s *Store) Save(ctx context.Context, key string, st dialog.State) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return Error{Operation: "dialog_marshal", Err: err}
	}

	cmd := s.client.B().Set().Key(s.key(key)).Value(string(payload)).Ex(s.ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return Error{Operation: "dialog_save", Err: err}
	}
	s.logger.Debug("dialog_saved", "key", key, "intent", st.Intent, "step", st.Step)
	return nil
}

func (s *Store) Load(ctx context.Context, key string) (*dialog.State, error) {
	raw, err := s.client.Do(ctx, s.client.B().Get().Key(s.key(key)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, Error{Operation: "dialog_load", Err: err}
	}

	var st dialog.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, Error{Operation: "dialog_unmarshal", Err: err}
	}
	return &st, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.key(key)).Build()).Error(); err != nil {
		return Error{Operation: "dialog_delete", Err: err}
	}
	s.logger.Debug("dialog_deleted", "key", key)
	return nil
}
