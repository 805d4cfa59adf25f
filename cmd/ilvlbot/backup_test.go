package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupRestore_RoundTrip(t *testing.T) {
	src := t.TempDir()
	cfgPath := filepath.Join(src, "settings.json")
	dbPath := filepath.Join(src, "state")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"general":{}}`), 0o600))
	require.NoError(t, os.WriteFile(dbPath, []byte("sqlite"), 0o600))
	require.NoError(t, os.WriteFile(dbPath+"-wal", []byte("wal"), 0o600))

	entries := backupFiles(cfgPath, dbPath)
	require.Len(t, entries, 3)
	assert.Equal(t, configArchiveName, entries[0].name)
	assert.Equal(t, "store.db", entries[1].name)
	assert.Equal(t, "store.db-wal", entries[2].name)

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	require.NoError(t, createTarGz(archive, entries))

	dst := t.TempDir()
	newCfg := filepath.Join(dst, "config.json")
	newDB := filepath.Join(dst, "data", "ilvlbot.db")
	restored, err := extractTarGz(archive, newCfg, newDB)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{newCfg, newDB, newDB + "-wal"}, restored)

	for path, want := range map[string]string{newCfg: `{"general":{}}`, newDB: "sqlite", newDB + "-wal": "wal"} {
		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

func TestBackupFiles_SkipsMissing(t *testing.T) {
	dir := t.TempDir()
	assert.Empty(t, backupFiles(filepath.Join(dir, "nope.json"), filepath.Join(dir, "nope.db")))
	assert.Empty(t, backupFiles(filepath.Join(dir, "nope.json"), ""))
}

func TestExtractTarGz_RejectsNonGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o600))
	_, err := extractTarGz(path, "cfg", "db")
	assert.ErrorContains(t, err, "not a valid gzip file")
}
