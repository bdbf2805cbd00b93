package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("failed to open history: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := store.Record(ctx, Run{
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			FinishedAt: base.Add(time.Duration(i)*time.Hour + 90*time.Second),
			Mode:       "incremental",
			SourcesOK:  5,
			Entries:    100 + i,
			Added:      i,
			Output:     "/tmp/hosts",
		})
		if err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	runs, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].Entries != 102 || runs[1].Entries != 101 {
		t.Errorf("runs not newest first: %+v", runs)
	}
	if !runs[0].StartedAt.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("StartedAt = %s", runs[0].StartedAt)
	}
	if runs[0].Duration() != 90*time.Second {
		t.Errorf("Duration = %s", runs[0].Duration())
	}
	if runs[0].Mode != "incremental" || runs[0].Output != "/tmp/hosts" {
		t.Errorf("unexpected run: %+v", runs[0])
	}
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := time.Now()
	if _, err := store.Record(context.Background(), Run{StartedAt: now, FinishedAt: now, Mode: "full"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	runs, err := store.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 1 || runs[0].Mode != "full" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
