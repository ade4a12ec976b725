package memstore

import (
	"context"
	"testing"

	"github.com/linnemanlabs/warden/internal/batch"
)

func TestPutGetList(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	job := &batch.BatchJob{
		ID:        "b-1",
		Operation: "compliance_check",
		Total:     3000,
		Status:    batch.StatusRunning,
	}
	if err := s.Put(ctx, job); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(ctx, "b-1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Total != 3000 {
		t.Errorf("total = %d, want 3000", got.Total)
	}

	// overwrite with a newer snapshot
	job.Succeeded = 1200
	if err := s.Put(ctx, job); err != nil {
		t.Fatalf("Put snapshot: %v", err)
	}
	got, _, _ = s.Get(ctx, "b-1")
	if got.Succeeded != 1200 {
		t.Errorf("succeeded = %d, want 1200", got.Succeeded)
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("list = %d jobs, want 1", len(all))
	}
}

func TestGetMissing(t *testing.T) {
	t.Parallel()

	s := New()
	_, ok, err := s.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing ID")
	}
}

func TestCopiesAreIsolated(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	job := &batch.BatchJob{
		ID:       "b-iso",
		Status:   batch.StatusCompleted,
		Failures: []batch.ItemFailure{{EndpointID: "POS-0001-01", Kind: "permanent"}},
	}
	if err := s.Put(ctx, job); err != nil {
		t.Fatalf("Put: %v", err)
	}

	job.Failures[0].EndpointID = "mutated"
	got, _, _ := s.Get(ctx, "b-iso")
	if got.Failures[0].EndpointID != "POS-0001-01" {
		t.Error("stored failure list shares memory with caller")
	}
}
