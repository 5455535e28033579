package dataaccess

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Select runs a parameterized SELECT and scans every row into dest,
// which must be a pointer to a slice of structs tagged with `db`.
func (p *Pool) Select(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, p.DB, dest, query, args...)
}

// Get runs a parameterized SELECT expected to return exactly one row.
func (p *Pool) Get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, p.DB, dest, query, args...)
}

// QueryRows runs a parameterized SELECT and returns every row as a
// generic column-name-to-value map, for callers (the updater's
// pipeline stages) that work with dynamic, introspected column sets
// rather than a fixed struct.
func (p *Pool) QueryRows(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := p.DB.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// QueryCursor runs a parameterized SELECT and returns the open cursor
// for incremental batch consumption via FetchBatch, mirroring the
// source's cursor.fetchmany streaming.
func (p *Pool) QueryCursor(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	return p.DB.QueryxContext(ctx, query, args...)
}

// FetchBatch reads up to n rows from an open cursor. It returns
// more=false only once the cursor is exhausted — a short final batch
// still reports more=true, and the next call returns (nil, false, nil).
func FetchBatch(rows *sqlx.Rows, n int) (batch []map[string]any, more bool, err error) {
	for len(batch) < n {
		if !rows.Next() {
			break
		}
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, false, err
		}
		batch = append(batch, row)
	}
	if len(batch) == 0 {
		return nil, false, rows.Err()
	}
	return batch, true, rows.Err()
}

// Exec runs a parameterized INSERT/UPDATE/DELETE.
func (p *Pool) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := p.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Upsert builds and runs `INSERT INTO table (cols) VALUES (?,...)
// ON DUPLICATE KEY UPDATE col=VALUES(col), ...` for every column
// except those in keyCols, which are assumed to be the primary/unique
// key the upsert hinges on.
func (p *Pool) Upsert(ctx context.Context, table string, cols []string, keyCols []string, args ...any) (int64, error) {
	placeholders := make([]string, len(cols))
	for i := range placeholders {
		placeholders[i] = "?"
	}

	keySet := make(map[string]bool, len(keyCols))
	for _, k := range keyCols {
		keySet[k] = true
	}

	var updates []string
	for _, c := range cols {
		if keySet[c] {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", c, c))
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "),
	)
	return p.Exec(ctx, query, args...)
}

// Replace builds and runs `REPLACE INTO table (cols) VALUES (?,...)`.
func (p *Pool) Replace(ctx context.Context, table string, cols []string, args ...any) (int64, error) {
	placeholders := make([]string, len(cols))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	query := fmt.Sprintf(
		"REPLACE INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "),
	)
	return p.Exec(ctx, query, args...)
}
