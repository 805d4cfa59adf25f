// Package memory persists dialog state and lookup history in SQLite.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"ilvlbot/internal/dialog"
)

// SQLiteStore implements dialog.Store using SQLite. Suspended dialogs survive
// restarts until their TTL runs out.
type SQLiteStore struct {
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

var _ dialog.Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, ttl time.Duration, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = dialog.DefaultTTL
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := Migrate(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, ttl: ttl, now: time.Now, logger: logger}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, key string) (*dialog.State, error) {
	var (
		st        dialog.State
		data      []byte
		updatedAt int64
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT intent, step, data, updated_at, expires_at FROM dialog_state WHERE conv_key = ?`, key,
	).Scan(&st.Intent, &st.Step, &data, &updatedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load dialog state: %w", err)
	}

	if s.now().UnixMilli() >= expiresAt {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM dialog_state WHERE conv_key = ?`, key); err != nil {
			s.logger.Warn("cannot delete expired dialog state", "key", key, "err", err)
		}
		return nil, nil
	}

	st.Data = data
	st.UpdatedAt = time.UnixMilli(updatedAt)
	return &st, nil
}

func (s *SQLiteStore) Save(ctx context.Context, key string, st dialog.State) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.now()
	}
	expires := st.UpdatedAt.Add(s.ttl)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dialog_state (conv_key, intent, step, data, updated_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(conv_key) DO UPDATE SET
			intent = excluded.intent,
			step = excluded.step,
			data = excluded.data,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
		key, st.Intent, st.Step, []byte(st.Data), st.UpdatedAt.UnixMilli(), expires.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save dialog state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dialog_state WHERE conv_key = ?`, key); err != nil {
		return fmt.Errorf("delete dialog state: %w", err)
	}
	return nil
}

// PurgeExpired removes dialogs whose TTL has passed and reports how many.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dialog_state WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge dialog state: %w", err)
	}
	return res.RowsAffected()
}

// ActiveDialogs counts dialogs that have not expired.
func (s *SQLiteStore) ActiveDialogs(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dialog_state WHERE expires_at > ?`, s.now().UnixMilli(),
	).Scan(&n)
	return n, err
}

// SchemaVersion reports the applied schema version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	return SchemaVersion(ctx, s.db)
}

// LookupRecord is one row of lookup history. Err is empty on success.
type LookupRecord struct {
	Region    string
	Realm     string
	Name      string
	Equipped  int
	Average   int
	Err       string
	CreatedAt time.Time
}

func (s *SQLiteStore) RecordLookup(ctx context.Context, r LookupRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lookup_history (region, realm, name, equipped, average, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Region, r.Realm, r.Name, r.Equipped, r.Average, r.Err, r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record lookup: %w", err)
	}
	return nil
}

// RecentLookups returns the newest lookups first.
func (s *SQLiteStore) RecentLookups(ctx context.Context, limit int) ([]LookupRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT region, realm, name, equipped, average, error, created_at
		 FROM lookup_history ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query lookups: %w", err)
	}
	defer rows.Close()

	var out []LookupRecord
	for rows.Next() {
		var (
			r  LookupRecord
			ts int64
		)
		if err := rows.Scan(&r.Region, &r.Realm, &r.Name, &r.Equipped, &r.Average, &r.Err, &ts); err != nil {
			return nil, err
		}
		r.CreatedAt = time.UnixMilli(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
