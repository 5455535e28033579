package pipeline

import (
	"context"
	"testing"
	"time"
)

func sendRowsAndEof(t *testing.T, ch chan Item, rows []Row) {
	t.Helper()
	if len(rows) > 0 {
		ch <- BatchItem(rows)
	}
	ch <- EofItem()
	close(ch)
}

func TestFilterMatchingCrcsEmitNoRefetch(t *testing.T) {
	f := NewFilter()
	ctx := context.Background()

	internalIn := make(chan Item, 4)
	externalIn := make(chan Item, 4)

	refetch, deletions, errs := f.Run(ctx, internalIn, externalIn)

	go sendRowsAndEof(t, internalIn, []Row{{"id": 1, "crc": "abc"}})
	go sendRowsAndEof(t, externalIn, []Row{{"id": 1, "crc": "abc"}})

	var refetches []Refetch
	for r := range refetch {
		refetches = append(refetches, r)
	}
	deleteIDs := <-deletions
	if err := <-errs; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(refetches) != 0 {
		t.Fatalf("expected no refetches for matching crcs, got %v", refetches)
	}
	if len(deleteIDs) != 0 {
		t.Fatalf("expected no deletions, got %v", deleteIDs)
	}
}

func TestFilterMismatchedCrcEmitsRefetchWithExternalValue(t *testing.T) {
	f := NewFilter()
	ctx := context.Background()

	internalIn := make(chan Item, 4)
	externalIn := make(chan Item, 4)

	refetch, deletions, errs := f.Run(ctx, internalIn, externalIn)

	go sendRowsAndEof(t, internalIn, []Row{{"id": 1, "crc": "old"}})
	go sendRowsAndEof(t, externalIn, []Row{{"id": 1, "crc": "new"}})

	var refetches []Refetch
	for r := range refetch {
		refetches = append(refetches, r)
	}
	<-deletions
	if err := <-errs; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(refetches) != 1 || refetches[0].ID != 1 || refetches[0].Crc != "new" {
		t.Fatalf("expected one refetch carrying the external crc, got %v", refetches)
	}
}

func TestFilterInternalOnlySurvivorIsDeleted(t *testing.T) {
	f := NewFilter()
	ctx := context.Background()

	internalIn := make(chan Item, 4)
	externalIn := make(chan Item, 4)

	refetch, deletions, errs := f.Run(ctx, internalIn, externalIn)

	go sendRowsAndEof(t, internalIn, []Row{{"id": 42, "crc": "stale"}})
	go sendRowsAndEof(t, externalIn, nil)

	for range refetch {
	}
	deleteIDs := <-deletions
	if err := <-errs; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(deleteIDs) != 1 || deleteIDs[0] != 42 {
		t.Fatalf("expected id 42 to be flagged for deletion, got %v", deleteIDs)
	}
}

func TestFilterExternalOnlySurvivorIsRefetched(t *testing.T) {
	f := NewFilter()
	ctx := context.Background()

	internalIn := make(chan Item, 4)
	externalIn := make(chan Item, 4)

	refetch, deletions, errs := f.Run(ctx, internalIn, externalIn)

	go sendRowsAndEof(t, internalIn, nil)
	go sendRowsAndEof(t, externalIn, []Row{{"id": 7, "crc": "brand-new"}})

	var refetches []Refetch
	for r := range refetch {
		refetches = append(refetches, r)
	}
	deleteIDs := <-deletions
	if err := <-errs; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(refetches) != 1 || refetches[0].ID != 7 || refetches[0].Crc != "brand-new" {
		t.Fatalf("expected external-only survivor emitted as a refetch target, got %v", refetches)
	}
	if len(deleteIDs) != 0 {
		t.Fatalf("expected no deletions, got %v", deleteIDs)
	}
}

// TestFilterBackpressurePausesImbalancedSide ingests more internal
// rows than external ones directly into a Filter and confirms the
// internal side is flagged paused at the 3x threshold and released
// once the ratio drops below 1.5x, per spec.md §9's hysteresis rule.
func TestFilterBackpressurePausesImbalancedSide(t *testing.T) {
	f := NewFilter()

	for i := 0; i < 2; i++ {
		f.ingest(sideInternal, i, "c", make(chan Refetch, 8))
	}
	// Third internal insert should trip the 3x-vs-zero-external pause.
	f.ingest(sideInternal, 2, "c", make(chan Refetch, 8))

	f.mu.Lock()
	paused := f.pausedInternal
	f.mu.Unlock()
	if !paused {
		t.Fatal("expected internal side to be paused once it outpaces external 3x")
	}

	// External arrivals bringing the ratio under 1.5x should resume the
	// internal side (in=3, ex=3 once all three land).
	refetch := make(chan Refetch, 8)
	f.ingest(sideExternal, 100, "c", refetch)
	f.ingest(sideExternal, 101, "c", refetch)
	f.ingest(sideExternal, 102, "c", refetch)

	f.mu.Lock()
	paused = f.pausedInternal
	f.mu.Unlock()
	if paused {
		t.Fatal("expected internal side to resume once the ratio drops below 1.5x")
	}
}

func TestFilterRespectsContextCancellation(t *testing.T) {
	f := NewFilter()
	ctx, cancel := context.WithCancel(context.Background())

	internalIn := make(chan Item)
	externalIn := make(chan Item)

	_, _, errs := f.Run(ctx, internalIn, externalIn)
	cancel()

	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("expected a non-nil context error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not observe context cancellation")
	}
}
