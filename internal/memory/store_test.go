package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ilvlbot/internal/dialog"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "ilvlbot.db"), time.Minute, testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_SaveLoadDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	st := dialog.State{Intent: "FindItemLevel", Step: 2}
	if err := st.Encode(map[string]string{"name": "hoazl"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, "telegram:42", st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx, "telegram:42")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("expected state")
	}
	if got.Intent != "FindItemLevel" || got.Step != 2 {
		t.Errorf("unexpected state: %+v", got)
	}
	var data map[string]string
	if err := got.Decode(&data); err != nil {
		t.Fatal(err)
	}
	if data["name"] != "hoazl" {
		t.Errorf("data = %v", data)
	}

	st.Step = 3
	if err := s.Save(ctx, "telegram:42", st); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}
	if got, _ := s.Load(ctx, "telegram:42"); got == nil || got.Step != 3 {
		t.Errorf("expected overwritten step 3, got %+v", got)
	}

	if err := s.Delete(ctx, "telegram:42"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := s.Load(ctx, "telegram:42"); got != nil {
		t.Errorf("expected nil after delete, got %+v", got)
	}
}

func TestSQLiteStore_LoadMissing(t *testing.T) {
	s := testStore(t)
	got, err := s.Load(context.Background(), "nobody")
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %+v, %v", got, err)
	}
}

func TestSQLiteStore_Expiry(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if err := s.Save(ctx, "a", dialog.State{Intent: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, "b", dialog.State{Intent: "x", UpdatedAt: now.Add(-2 * time.Minute)}); err != nil {
		t.Fatal(err)
	}

	if n, err := s.ActiveDialogs(ctx); err != nil || n != 1 {
		t.Fatalf("ActiveDialogs = %d, %v", n, err)
	}
	if got, _ := s.Load(ctx, "b"); got != nil {
		t.Errorf("expected expired state to be absent, got %+v", got)
	}

	now = now.Add(5 * time.Minute)
	purged, err := s.PurgeExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Errorf("expected 1 purged row, got %d", purged)
	}
}

func TestSQLiteStore_LookupHistory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	records := []LookupRecord{
		{Region: "eu", Realm: "antonidas", Name: "hoazl", Equipped: 835, Average: 840, CreatedAt: base},
		{Region: "eu", Realm: "blackhand", Name: "ghost", Err: "character not found", CreatedAt: base.Add(time.Second)},
	}
	for _, r := range records {
		if err := s.RecordLookup(ctx, r); err != nil {
			t.Fatalf("RecordLookup: %v", err)
		}
	}

	got, err := s.RecentLookups(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].Name != "ghost" || got[0].Err == "" {
		t.Errorf("expected newest failure first, got %+v", got[0])
	}
	if got[1].Equipped != 835 || !got[1].CreatedAt.Equal(base) {
		t.Errorf("unexpected second record: %+v", got[1])
	}
}
