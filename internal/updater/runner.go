package updater

import (
	"context"
	"fmt"
	"strings"

	"github.com/mousestats/backend/internal/dataaccess"
	"github.com/mousestats/backend/internal/pipeline"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// deleteGate is the "probably the upstream is rebuilding" safety
// valve: a deletion set this large is skipped and logged rather than
// applied, per spec.md §4.4 stage 3.
const deleteGate = 100_000

// RunnerPool replicates one table from an external (read-only) source
// pool into an internal destination pool, grounded on the source's
// download.py RunnerPool.
type RunnerPool struct {
	Internal  *dataaccess.Pool
	External  *dataaccess.Pool
	Database  string
	PipeSize  int
	BatchSize int
	Logger    zerolog.Logger
}

// Extract runs the cold (destination empty) or warm (destination
// populated) replication algorithm for table, per spec.md §4.4.
func (r *RunnerPool) Extract(ctx context.Context, table *Metadata) error {
	if table.IsEmpty {
		r.Logger.Debug().Str("table", table.Name).Msg("table is empty, using fetch-update process")
		return r.extractCold(ctx, table)
	}
	r.Logger.Debug().Str("table", table.Name).Msg("table contains old data, updating modified rows only")
	return r.extractWarm(ctx, table)
}

// extractCold implements spec.md §4.4's three-stage cold path: Fetch
// pulls every source row with its crc, tee'd into Update (REPLACE INTO
// destination) and Hash (INSERT INTO the read-side hash cache).
func (r *RunnerPool) extractCold(ctx context.Context, table *Metadata) error {
	eg, ctx := errgroup.WithContext(ctx)

	fetchOut := make(chan pipeline.Item, r.PipeSize)
	updateIn := make(chan pipeline.Item, r.PipeSize)
	hashIn := make(chan pipeline.Item, r.PipeSize)

	eg.Go(func() error { return r.coldFetch(ctx, table, fetchOut) })
	eg.Go(func() error { return tee(ctx, fetchOut, updateIn, hashIn) })
	eg.Go(func() error { return r.updateStage(ctx, table, updateIn) })
	eg.Go(func() error { return r.hashStage(ctx, table.ReadHash, hashIn) })

	return eg.Wait()
}

func (r *RunnerPool) coldFetch(ctx context.Context, table *Metadata, out chan<- pipeline.Item) error {
	defer close(out)

	query := selectAllQuery(table)
	rows, err := r.External.QueryCursor(ctx, query)
	if err != nil {
		return fmt.Errorf("updater: cold fetch query for %s: %w", table.Name, err)
	}
	defer rows.Close()

	for {
		batch, more, err := dataaccess.FetchBatch(rows, r.BatchSize)
		if err != nil {
			return err
		}
		if !more {
			select {
			case out <- pipeline.EofItem():
			case <-ctx.Done():
			}
			return ctx.Err()
		}
		select {
		case out <- pipeline.BatchItem(toPipelineRows(batch, table.Primary)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// extractWarm implements spec.md §4.4's five-stage warm path.
func (r *RunnerPool) extractWarm(ctx context.Context, table *Metadata) error {
	eg, ctx := errgroup.WithContext(ctx)

	loadOut := make(chan pipeline.Item, r.PipeSize)
	grabOut := make(chan pipeline.Item, r.PipeSize)

	eg.Go(func() error { return r.loadStage(ctx, table, loadOut) })
	eg.Go(func() error { return r.grabStage(ctx, table, grabOut) })

	filter := pipeline.NewFilter()
	refetch, deletions, filterErrs := filter.Run(ctx, loadOut, grabOut)

	fetchIn := pipeline.BatchRefetch(ctx, refetch, r.BatchSize)

	updateIn := make(chan pipeline.Item, r.PipeSize)
	hashIn := make(chan pipeline.Item, r.PipeSize)
	fetchOut := make(chan pipeline.Item, r.PipeSize)

	eg.Go(func() error { return r.warmFetch(ctx, table, fetchIn, fetchOut) })
	eg.Go(func() error { return tee(ctx, fetchOut, updateIn, hashIn) })
	eg.Go(func() error { return r.updateStage(ctx, table, updateIn) })
	eg.Go(func() error { return r.hashStage(ctx, table.WriteHash, hashIn) })
	eg.Go(func() error {
		select {
		case err := <-filterErrs:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	eg.Go(func() error { return r.applyDeletions(ctx, table, deletions) })

	return eg.Wait()
}

func (r *RunnerPool) loadStage(ctx context.Context, table *Metadata, out chan<- pipeline.Item) error {
	defer close(out)

	query := fmt.Sprintf("SELECT `id`, `hashed` as `crc` FROM `%s`", table.ReadHash)
	rows, err := r.Internal.QueryCursor(ctx, query)
	if err != nil {
		return fmt.Errorf("updater: load hash cache for %s: %w", table.Name, err)
	}
	defer rows.Close()

	for {
		batch, more, err := dataaccess.FetchBatch(rows, r.BatchSize)
		if err != nil {
			return err
		}
		if !more {
			select {
			case out <- pipeline.EofItem():
			case <-ctx.Done():
			}
			return ctx.Err()
		}
		select {
		case out <- pipeline.BatchItem(toPipelineRows(batch, "id")):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *RunnerPool) grabStage(ctx context.Context, table *Metadata, out chan<- pipeline.Item) error {
	defer close(out)

	query := fmt.Sprintf(
		"SELECT `%s` as `id`, CRC32(CONCAT_WS('', `%s`)) as `crc` FROM `%s`",
		table.Primary, strings.Join(table.crcColumns(), "`,`"), table.Name,
	)
	rows, err := r.External.QueryCursor(ctx, query)
	if err != nil {
		return fmt.Errorf("updater: grab source crcs for %s: %w", table.Name, err)
	}
	defer rows.Close()

	for {
		batch, more, err := dataaccess.FetchBatch(rows, r.BatchSize)
		if err != nil {
			return err
		}
		if !more {
			select {
			case out <- pipeline.EofItem():
			case <-ctx.Done():
			}
			return ctx.Err()
		}
		select {
		case out <- pipeline.BatchItem(toPipelineRows(batch, "id")):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// warmFetch consumes fixed-arity id batches from the Filter stage
// (via pipeline.BatchRefetch) and re-pulls full rows for each id from
// source, padding the IN (...) clause to r.BatchSize with the reserved
// sentinel id 0 for short final batches.
func (r *RunnerPool) warmFetch(ctx context.Context, table *Metadata, in <-chan pipeline.Item, out chan<- pipeline.Item) error {
	defer close(out)

	query := fmt.Sprintf(
		"SELECT `%s` as `id`, %s%s FROM `%s` WHERE `%s` IN (%s)",
		table.Primary,
		strings.Join(aliasColumns(fetchColumns(table.ReadColumns), table.ReadColumns), ","),
		table.CompositeScores,
		table.Name, table.Primary,
		placeholders(r.BatchSize),
	)

	crcByID := make(map[any]any)
	short := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-in:
			if !ok {
				return nil
			}
			switch item.Kind {
			case pipeline.KindEof:
				return nil
			case pipeline.KindShortNext:
				short = true
			case pipeline.KindBatch:
				ids := make([]any, r.BatchSize)
				for i, row := range item.Batch {
					ids[i] = row["id"]
					crcByID[row["id"]] = row["crc"]
				}
				if short {
					for i := len(item.Batch); i < r.BatchSize; i++ {
						ids[i] = 0
					}
					short = false
				}

				rowsResult, err := r.External.QueryRows(ctx, query, ids...)
				if err != nil {
					return fmt.Errorf("updater: warm fetch for %s: %w", table.Name, err)
				}

				fetched := make([]pipeline.Row, 0, len(rowsResult))
				for _, rr := range rowsResult {
					row := pipeline.Row(rr)
					row["crc"] = crcByID[row["id"]]
					fetched = append(fetched, row)
				}
				select {
				case out <- pipeline.BatchItem(fetched):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (r *RunnerPool) updateStage(ctx context.Context, table *Metadata, in <-chan pipeline.Item) error {
	target := table.Name
	if !table.IsEmpty {
		target += "_new"
		if _, err := r.Internal.Exec(ctx, fmt.Sprintf("TRUNCATE `%s`", target)); err != nil {
			return fmt.Errorf("updater: truncate %s: %w", target, err)
		}
	}

	return pipeline.Sink(ctx, in, func(ctx context.Context, rows []pipeline.Row) error {
		for _, row := range rows {
			args := make([]any, len(table.WriteColumns))
			for i, col := range table.WriteColumns {
				args[i] = row[col]
			}
			if _, err := r.Internal.Replace(ctx, target, table.WriteColumns, args...); err != nil {
				return fmt.Errorf("updater: replace into %s: %w", target, err)
			}
		}
		return nil
	})
}

func (r *RunnerPool) hashStage(ctx context.Context, hashTable string, in <-chan pipeline.Item) error {
	return pipeline.Sink(ctx, in, func(ctx context.Context, rows []pipeline.Row) error {
		for _, row := range rows {
			cols := []string{"id", "hashed"}
			if _, err := r.Internal.Replace(ctx, hashTable, cols, row["id"], row["crc"]); err != nil {
				return fmt.Errorf("updater: hash insert into %s: %w", hashTable, err)
			}
		}
		return nil
	})
}

func (r *RunnerPool) applyDeletions(ctx context.Context, table *Metadata, deletions <-chan []any) error {
	select {
	case ids, ok := <-deletions:
		if !ok || len(ids) == 0 {
			return nil
		}
		if len(ids) >= deleteGate {
			r.Logger.Warn().Str("table", table.Name).Int("rows", len(ids)).
				Msg("too many rows to delete, skipping (probably an upstream rebuild)")
			return nil
		}
		for _, chunk := range pipeline.Chunk(ids, r.BatchSize) {
			if err := r.bulkDelete(ctx, table, chunk); err != nil {
				return err
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *RunnerPool) bulkDelete(ctx context.Context, table *Metadata, ids []any) error {
	placeholders := placeholders(len(ids))
	if _, err := r.Internal.Exec(ctx,
		fmt.Sprintf("DELETE FROM `%s` WHERE `%s` IN (%s)", table.Name, table.Primary, placeholders), ids...); err != nil {
		return fmt.Errorf("updater: delete stale rows from %s: %w", table.Name, err)
	}
	if _, err := r.Internal.Exec(ctx,
		fmt.Sprintf("DELETE FROM `%s` WHERE `id` IN (%s)", table.ReadHash, placeholders), ids...); err != nil {
		return fmt.Errorf("updater: delete stale hashes from %s: %w", table.ReadHash, err)
	}
	return nil
}

func tee(ctx context.Context, in <-chan pipeline.Item, outs ...chan<- pipeline.Item) error {
	defer func() {
		for _, o := range outs {
			close(o)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-in:
			if !ok {
				return nil
			}
			for _, o := range outs {
				select {
				case o <- item:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if item.Kind == pipeline.KindEof {
				return nil
			}
		}
	}
}

func selectAllQuery(table *Metadata) string {
	crcCols := strings.Join(table.crcColumns(), "`,`")
	cols := aliasColumns(fetchColumns(table.ReadColumns), table.ReadColumns)
	return fmt.Sprintf(
		"SELECT CRC32(CONCAT_WS('', `%s`)) as `crc`, %s%s FROM `%s`",
		crcCols, strings.Join(cols, ","), table.CompositeScores, table.Name,
	)
}

func aliasColumns(exprs, names []string) []string {
	out := make([]string, len(exprs))
	for i := range exprs {
		out[i] = fmt.Sprintf("%s as `%s`", exprs[i], names[i])
	}
	return out
}

func placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = "?"
	}
	return strings.Join(ph, ",")
}

func toPipelineRows(rows []map[string]any, primary string) []pipeline.Row {
	out := make([]pipeline.Row, len(rows))
	for i, r := range rows {
		row := pipeline.Row(r)
		if _, ok := row["id"]; !ok {
			row["id"] = row[primary]
		}
		out[i] = row
	}
	return out
}
