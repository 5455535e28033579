package pipeline

import (
	"context"
	"errors"
	"testing"
)

func TestChunkPadsShortFinalGroupWithSentinelZero(t *testing.T) {
	ids := []any{1, 2, 3, 4, 5}
	chunks := Chunk(ids, 3)

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 3 || len(chunks[1]) != 3 {
		t.Fatalf("expected every chunk to have arity 3, got %v", chunks)
	}
	if chunks[1][0] != 4 || chunks[1][1] != 5 || chunks[1][2] != 0 {
		t.Fatalf("expected short chunk padded with sentinel 0, got %v", chunks[1])
	}
}

func TestChunkEmptyInput(t *testing.T) {
	if chunks := Chunk(nil, 3); chunks != nil {
		t.Fatalf("expected no chunks for empty input, got %v", chunks)
	}
}

func TestSourceEmitsShortNextBeforeFinalPartialBatch(t *testing.T) {
	batches := [][]Row{
		{{"id": 1}, {"id": 2}},
		{{"id": 3}}, // short: batchSize is 2
	}
	call := 0
	fn := func(ctx context.Context) ([]Row, bool, error) {
		if call >= len(batches) {
			return nil, false, nil
		}
		b := batches[call]
		call++
		return b, true, nil
	}

	out, errs := Source(context.Background(), 2, fn)

	var kinds []Kind
	for item := range out {
		kinds = append(kinds, item.Kind)
	}
	if err := <-errs; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Kind{KindBatch, KindShortNext, KindBatch, KindEof}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Fatalf("expected %v, got %v", want, kinds)
		}
	}
}

func TestSourcePropagatesFetchError(t *testing.T) {
	boom := errors.New("boom")
	fn := func(ctx context.Context) ([]Row, bool, error) { return nil, false, boom }

	out, errs := Source(context.Background(), 10, fn)

	for range out {
	}
	if err := <-errs; !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
}

func TestSinkInvokesFnPerBatchAndStopsAtEof(t *testing.T) {
	in := make(chan Item, 4)
	in <- BatchItem([]Row{{"id": 1}})
	in <- BatchItem([]Row{{"id": 2}})
	in <- EofItem()
	close(in)

	var seen []int
	err := Sink(context.Background(), in, func(ctx context.Context, rows []Row) error {
		for _, r := range rows {
			seen = append(seen, r["id"].(int))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("expected rows from both batches, got %v", seen)
	}
}

func TestBatchRefetchEmitsShortNextBeforeFinalBatch(t *testing.T) {
	in := make(chan Refetch, 4)
	in <- Refetch{ID: 1, Crc: "a"}
	in <- Refetch{ID: 2, Crc: "b"}
	in <- Refetch{ID: 3, Crc: "c"}
	close(in)

	out := BatchRefetch(context.Background(), in, 2)

	var kinds []Kind
	var batches [][]Row
	for item := range out {
		kinds = append(kinds, item.Kind)
		if item.Kind == KindBatch {
			batches = append(batches, item.Batch)
		}
	}

	want := []Kind{KindBatch, KindShortNext, KindBatch, KindEof}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Fatalf("expected %v, got %v", want, kinds)
		}
	}
	if len(batches) != 2 || len(batches[0]) != 2 || len(batches[1]) != 1 {
		t.Fatalf("expected batches of size [2,1], got %v", batches)
	}
}
