package progress

import (
	"context"
	"testing"

	"lms-course-sync/internal/domain"
	"lms-course-sync/internal/kvstore"
)

func newTestReporter(t *testing.T) *Reporter {
	t.Helper()
	kv, err := kvstore.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return NewReporter(kv, 0)
}

func TestGetIdle(t *testing.T) {
	r := newTestReporter(t)
	s, err := r.Get(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if s.Running || s.Message != "No sync in progress" {
		t.Errorf("Expected idle snapshot, got %+v", s)
	}
}

func TestStartUpdateClear(t *testing.T) {
	r := newTestReporter(t)
	ctx := context.Background()

	if err := r.Start(ctx, "run-1", 3); err != nil {
		t.Fatal(err)
	}
	s, _ := r.Get(ctx)
	if !s.Running || s.Total != 3 || s.RunID != "run-1" {
		t.Errorf("Expected running snapshot for run-1, got %+v", s)
	}
	if s.UpdatedAt.IsZero() {
		t.Error("Expected UpdatedAt to be set")
	}

	if err := r.Update(ctx, domain.SyncStatusSnapshot{RunID: "run-1", Running: true, Processed: 2, Total: 3, Imported: 2}); err != nil {
		t.Fatal(err)
	}
	s, _ = r.Get(ctx)
	if s.Processed != 2 || s.Imported != 2 {
		t.Errorf("Expected processed 2 imported 2, got %+v", s)
	}

	if err := r.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	s, _ = r.Get(ctx)
	if s.Running {
		t.Error("Expected idle after clear")
	}
}

func TestLastWriterWins(t *testing.T) {
	r := newTestReporter(t)
	ctx := context.Background()

	_ = r.Start(ctx, "a", 5)
	_ = r.Start(ctx, "b", 2)

	s, _ := r.Get(ctx)
	if s.RunID != "b" || s.Total != 2 {
		t.Errorf("Expected run b to own the snapshot, got %+v", s)
	}
}
