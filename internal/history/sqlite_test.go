package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return db
}

func TestNewRejectsEmptyPath(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second EnsureSchema: %v", err)
	}
}

func TestAppendAndRecent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	recs := []Record{
		{Action: ActionStart, Service: "frontend", PID: 101, OK: true},
		{Action: ActionStart, Service: "stack-api", PID: 102, OK: false, Detail: "port 5000 never bound"},
		{Action: ActionRouteSync, OK: true, Detail: "3 routes"},
	}
	for _, r := range recs {
		if err := db.Append(ctx, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := db.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	// newest first
	if got[0].Action != ActionRouteSync {
		t.Fatalf("expected route-sync first, got %s", got[0].Action)
	}
	if got[2].Service != "frontend" || got[2].PID != 101 || !got[2].OK {
		t.Fatalf("oldest record mismatch: %+v", got[2])
	}
	if got[1].Detail != "port 5000 never bound" {
		t.Fatalf("detail not preserved: %+v", got[1])
	}
	for _, r := range got {
		if r.ID == 0 {
			t.Fatalf("record without id: %+v", r)
		}
		if r.At.IsZero() {
			t.Fatalf("record without timestamp: %+v", r)
		}
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := db.Append(ctx, Record{Action: ActionStop, Service: "frontend", OK: true}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, err := db.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
}

func TestAppendKeepsExplicitTimestamp(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := db.Append(ctx, Record{Action: ActionStart, Service: "audio-api", OK: true, At: at}); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := db.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || !got[0].At.Equal(at) {
		t.Fatalf("timestamp not preserved: %+v", got)
	}
}
