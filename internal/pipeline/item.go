// Package pipeline implements the bounded-queue stage primitives the
// updater's replication runs are built from: a strongly-typed sum type
// flowing over channels in place of the source's queues of tuples with
// None/False sentinels (spec.md §9 Design Note), and a back-pressured
// two-map Filter stage for diffing two independently-paced streams.
package pipeline

// Item is the channel payload every stage passes downstream: either a
// Batch of rows, a ShortNext marker announcing that the next Batch is
// the final (possibly partial) one for this run, or Eof once the
// upstream side has nothing left to send.
//
// ShortNext exists because the Fetch stage needs to know a batch is
// short *before* it arrives, so it can pad the trailing `IN (...)`
// placeholder list with the reserved sentinel id 0 rather than
// building a variable-arity prepared statement per batch.
type Item struct {
	Kind  Kind
	Batch []Row
}

// Kind discriminates an Item's payload.
type Kind int

const (
	KindBatch Kind = iota
	KindShortNext
	KindEof
)

// Row is a loosely-typed pipeline record: column name to decoded SQL
// value. Stage-specific code type-asserts the columns it expects by
// name; this mirrors the source's untyped row tuples while giving Go
// callers named access instead of positional indexing.
type Row map[string]any

// BatchItem wraps rows as a KindBatch Item.
func BatchItem(rows []Row) Item { return Item{Kind: KindBatch, Batch: rows} }

// ShortNextItem signals that the following Batch item is the final,
// possibly-partial one.
func ShortNextItem() Item { return Item{Kind: KindShortNext} }

// EofItem signals no more Batch items will follow.
func EofItem() Item { return Item{Kind: KindEof} }
