package pipeline

import (
	"context"
)

// FetchFunc pulls the next batch of rows for a stage, returning
// (nil, false, nil) once exhausted. It is the stage-specific half of
// Source — everything about channel wiring, batching cadence, and
// error propagation is shared.
type FetchFunc func(ctx context.Context) ([]Row, bool, error)

// Source drives fn until it reports exhaustion, emitting one Item per
// batch on the returned channel. The final real batch is preceded by
// a ShortNext item whenever its length is less than batchSize, letting
// a downstream Fetch stage pad `IN (...)` placeholder lists before the
// short batch itself arrives (spec.md §4.4 stage 4).
func Source(ctx context.Context, batchSize int, fn FetchFunc) (<-chan Item, <-chan error) {
	out := make(chan Item, 4)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		for {
			rows, more, err := fn(ctx)
			if err != nil {
				errCh <- err
				return
			}
			if !more {
				select {
				case out <- EofItem():
				case <-ctx.Done():
				}
				return
			}
			if len(rows) < batchSize {
				select {
				case out <- ShortNextItem():
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- BatchItem(rows):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errCh
}

// SinkFunc persists one batch of rows (a REPLACE INTO / INSERT /
// DELETE call, depending on the stage).
type SinkFunc func(ctx context.Context, rows []Row) error

// Sink drains in, calling fn for every Batch item and ignoring
// ShortNext/Eof markers, until in closes or ctx is cancelled.
func Sink(ctx context.Context, in <-chan Item, fn SinkFunc) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-in:
			if !ok {
				return nil
			}
			switch item.Kind {
			case KindEof:
				return nil
			case KindBatch:
				if err := fn(ctx, item.Batch); err != nil {
					return err
				}
			}
		}
	}
}

// BatchRefetch accumulates a Refetch stream into fixed-size Items
// carrying Row{"id":..., "crc":...}, preceding a short final batch
// with a ShortNext marker so a downstream Fetch stage can pad its
// `IN (...)` placeholder list to a constant arity (spec.md §4.4 stage
// 4) before the short batch itself arrives.
func BatchRefetch(ctx context.Context, in <-chan Refetch, size int) <-chan Item {
	out := make(chan Item, 4)

	go func() {
		defer close(out)
		buf := make([]Row, 0, size)

		flush := func() bool {
			if len(buf) == 0 {
				return true
			}
			if len(buf) < size {
				select {
				case out <- ShortNextItem():
				case <-ctx.Done():
					return false
				}
			}
			select {
			case out <- BatchItem(buf):
			case <-ctx.Done():
				return false
			}
			buf = make([]Row, 0, size)
			return true
		}

		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-in:
				if !ok {
					flush()
					select {
					case out <- EofItem():
					case <-ctx.Done():
					}
					return
				}
				buf = append(buf, Row{"id": r.ID, "crc": r.Crc})
				if len(buf) == size {
					if !flush() {
						return
					}
				}
			}
		}
	}()

	return out
}

// Chunk splits ids into groups of at most size, used by the refetch
// Fetch stage (spec.md §4.4 stage 4) to build bounded `IN (...)`
// clauses, padding the final short chunk with the reserved sentinel
// id 0 so every prepared statement has the same arity.
func Chunk(ids []any, size int) [][]any {
	var chunks [][]any
	for len(ids) > 0 {
		n := size
		if n > len(ids) {
			n = len(ids)
		}
		chunk := append([]any{}, ids[:n]...)
		for len(chunk) < size {
			chunk = append(chunk, 0)
		}
		chunks = append(chunks, chunk)
		ids = ids[n:]
	}
	return chunks
}
