package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// migration upgrades the schema from version-1 to version. The version lives
// in SQLite's user_version header field, so no bookkeeping table is needed.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "suspended dialogs per conversation",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS dialog_state (
				conv_key    TEXT PRIMARY KEY,
				intent      TEXT NOT NULL,
				step        INTEGER NOT NULL DEFAULT 0,
				data        BLOB,
				updated_at  INTEGER NOT NULL,
				expires_at  INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_dialog_state_expiry ON dialog_state(expires_at)`,
		},
	},
	{
		version: 2,
		name:    "character lookup history",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS lookup_history (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				region      TEXT NOT NULL DEFAULT '',
				realm       TEXT NOT NULL,
				name        TEXT NOT NULL,
				equipped    INTEGER NOT NULL DEFAULT 0,
				average     INTEGER NOT NULL DEFAULT 0,
				error       TEXT NOT NULL DEFAULT '',
				created_at  INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_lookup_history_time ON lookup_history(created_at)`,
		},
	},
}

// latestVersion is the schema version this binary writes.
func latestVersion() int {
	return migrations[len(migrations)-1].version
}

// Migrate brings db up to the latest schema, one transaction per step.
// A database written by a newer binary is rejected rather than downgraded.
func Migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > latestVersion() {
		return fmt.Errorf("database schema v%d is newer than supported v%d", current, latestVersion())
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := m.apply(ctx, db); err != nil {
			return err
		}
		logger.Info("schema migrated", "version", m.version, "name", m.name)
	}
	return nil
}

func (m migration) apply(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration v%d: %w", m.version, err)
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration v%d (%s): %w", m.version, m.name, err)
		}
	}
	// PRAGMA does not take bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("migration v%d: set version: %w", m.version, err)
	}
	return tx.Commit()
}

// SchemaVersion returns the applied schema version, 0 for a fresh database.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}
