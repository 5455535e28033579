package pipeline

import (
	"context"
	"sync"
)

// side distinguishal the two Filter inputs: internal is the
// destination's hash cache (old crcs already on record), external is
// the source being scanned fresh (new crcs).
type side int

const (
	sideInternal side = iota
	sideExternal
)

// Refetch is one row the Fetch stage must re-pull from source: either
// because both sides reported it with differing crcs, or because only
// the external side ever saw it (a row the destination doesn't have
// yet).
type Refetch struct {
	ID  any
	Crc any
}

// Filter implements spec.md §4.4's warm-path stage 3: two owned maps
// (internalHashes, externalHashes) diffing the destination's recorded
// crcs against freshly scanned source crcs, with hysteretic
// back-pressure between the two input streams (spec.md §9 Design
// Note: "pause at 3x, resume at <1.5x to avoid oscillation").
type Filter struct {
	mu   sync.Mutex
	cond *sync.Cond

	internalHashes map[any]any
	externalHashes map[any]any

	pausedInternal bool
	pausedExternal bool

	doneInternal bool
	doneExternal bool
}

// NewFilter constructs an empty Filter ready for one Run.
func NewFilter() *Filter {
	f := &Filter{
		internalHashes: make(map[any]any),
		externalHashes: make(map[any]any),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Run consumes internalIn and externalIn concurrently until both
// report Eof, emitting Refetch records as mismatches are discovered
// (and once more for every external-only survivor at the end) on
// refetch, and the ids whose only record was on the internal side —
// now-stale rows the destination should delete — on deletions.
// Both channels are closed once the run completes; errs carries a
// single non-nil value if ctx is cancelled first.
func (f *Filter) Run(ctx context.Context, internalIn, externalIn <-chan Item) (refetch <-chan Refetch, deletions <-chan []any, errs <-chan error) {
	refetchCh := make(chan Refetch, 256)
	deletionsCh := make(chan []any, 1)
	errCh := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(2)

	go f.pump(ctx, sideInternal, internalIn, refetchCh, &wg)
	go f.pump(ctx, sideExternal, externalIn, refetchCh, &wg)

	go func() {
		wg.Wait()

		f.mu.Lock()
		var deleteIDs []any
		for id := range f.internalHashes {
			deleteIDs = append(deleteIDs, id)
		}
		leftoverExternal := f.externalHashes
		f.externalHashes = nil
		f.mu.Unlock()

		// Survivors on the external side were never matched by an
		// internal record — rows the destination hasn't seen yet.
		// Emit them as refetch targets carrying their scanned crc.
		for id, crc := range leftoverExternal {
			refetchCh <- Refetch{ID: id, Crc: crc}
		}
		close(refetchCh)

		deletionsCh <- deleteIDs
		close(deletionsCh)

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		default:
		}
		close(errCh)
	}()

	return refetchCh, deletionsCh, errCh
}

func (f *Filter) pump(ctx context.Context, s side, in <-chan Item, refetch chan<- Refetch, wg *sync.WaitGroup) {
	defer wg.Done()
	defer f.markDone(s)

	for {
		f.waitIfPaused(s)

		select {
		case <-ctx.Done():
			return
		case item, ok := <-in:
			if !ok {
				return
			}
			switch item.Kind {
			case KindEof:
				return
			case KindBatch:
				for _, row := range item.Batch {
					f.ingest(s, row["id"], row["crc"], refetch)
				}
			}
		}
	}
}

// ingest applies one (id, crc) pair from side s: if the other side
// already holds this id, it's a match (delete both, no refetch) or a
// mismatch (delete the other side's entry, emit a Refetch carrying
// whichever crc is the freshly-scanned external one). Otherwise the
// pair is simply recorded under this side, pending the other side's
// arrival or end-of-run.
func (f *Filter) ingest(s side, id, crc any, refetch chan<- Refetch) {
	f.mu.Lock()

	mine, other := f.sideMaps(s)
	if otherCrc, found := other[id]; found {
		delete(other, id)
		if otherCrc != crc {
			f.mu.Unlock()
			// The external side always carries the authoritative new
			// crc; when ingesting from internal, otherCrc (external's
			// record) is what must be refetched. When ingesting from
			// external, crc itself is the new value.
			newCrc := crc
			if s == sideInternal {
				newCrc = otherCrc
			}
			refetch <- Refetch{ID: id, Crc: newCrc}
			return
		}
		f.mu.Unlock()
		return
	}

	mine[id] = crc
	f.rebalanceLocked()
	f.mu.Unlock()
}

func (f *Filter) sideMaps(s side) (mine, other map[any]any) {
	if s == sideInternal {
		return f.internalHashes, f.externalHashes
	}
	return f.externalHashes, f.internalHashes
}

// rebalanceLocked recomputes which side (if either) should be paused.
// Caller holds f.mu.
func (f *Filter) rebalanceLocked() {
	in, ex := len(f.internalHashes), len(f.externalHashes)

	switch {
	case in >= 3*max1(ex):
		f.pausedInternal = true
	case ex >= 3*max1(in):
		f.pausedExternal = true
	}

	if f.pausedInternal && float64(in) < 1.5*float64(max1(ex)) {
		f.pausedInternal = false
	}
	if f.pausedExternal && float64(ex) < 1.5*float64(max1(in)) {
		f.pausedExternal = false
	}
	f.cond.Broadcast()
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// markDone records that side s has stopped reading, so the other side
// is never left paused waiting for entries that will not arrive.
func (f *Filter) markDone(s side) {
	f.mu.Lock()
	if s == sideInternal {
		f.doneInternal = true
	} else {
		f.doneExternal = true
	}
	f.cond.Broadcast()
	f.mu.Unlock()
}

func (f *Filter) waitIfPaused(s side) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for (s == sideInternal && f.pausedInternal && !f.doneExternal) ||
		(s == sideExternal && f.pausedExternal && !f.doneInternal) {
		f.cond.Wait()
	}
}
