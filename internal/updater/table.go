package updater

import (
	"context"
	"fmt"
	"strings"

	"github.com/mousestats/backend/internal/dataaccess"
)

// Metadata describes one reconciled table's shape, bootstrapped once
// per run from information_schema — the Go equivalent of the source's
// Table.extract_info.
type Metadata struct {
	Name    string
	Primary string

	// ReadColumns are columns physically present in the source
	// (composite scores excluded — those are computed in-flight).
	ReadColumns []string
	// WriteColumns are every destination column, including composites.
	WriteColumns []string
	// CompositeScores is the SQL fragment appended to a source SELECT
	// to compute score_stats/score_shaman/... (and a `1 as score_overall`
	// placeholder, recomputed post-run) alongside ReadColumns.
	CompositeScores string

	IsEmpty bool

	ReadHash  string
	WriteHash string
}

// ExtractInfo introspects columns for table name via
// information_schema, determines emptiness, and — unless hashes is
// false (used for the post-run-only tribe_stats table) — truncates
// the write-side hash cache for a fresh run.
func ExtractInfo(ctx context.Context, pool *dataaccess.Pool, database, name string, hashes bool) (*Metadata, error) {
	m := &Metadata{Name: name, Primary: "id"}
	if name == "member" {
		m.Primary = "id_member"
	}

	var cols []struct {
		ColumnName string `db:"column_name"`
	}
	err := pool.Select(ctx, &cols,
		"SELECT `column_name` FROM `information_schema`.`columns` WHERE `table_schema`=? AND `table_name`=?",
		database, name,
	)
	if err != nil {
		return nil, fmt.Errorf("updater: introspect columns for %s: %w", name, err)
	}

	var composite []string
	for _, c := range cols {
		col := c.ColumnName
		if name == "player" && strings.HasPrefix(col, "score_") {
			if col == "score_overall" {
				composite = append(composite, fmt.Sprintf(",1 as `%s`", col))
			} else if formula, ok := compositeFormulas[col]; ok {
				composite = append(composite, fmt.Sprintf(",%s as `%s`", formula, col))
			}
		} else {
			m.ReadColumns = append(m.ReadColumns, col)
		}
		m.WriteColumns = append(m.WriteColumns, col)
	}
	m.CompositeScores = strings.Join(composite, "")

	var count int
	if err := pool.Get(ctx, &count, fmt.Sprintf("SELECT COUNT(*) FROM `%s`", name)); err != nil {
		return nil, fmt.Errorf("updater: count rows for %s: %w", name, err)
	}
	m.IsEmpty = count == 0

	if hashes {
		m.ReadHash = name + "_hashes_0"
		m.WriteHash = name + "_hashes_1"
		if _, err := pool.Exec(ctx, fmt.Sprintf("TRUNCATE `%s`", m.WriteHash)); err != nil {
			return nil, fmt.Errorf("updater: truncate write-hash cache for %s: %w", name, err)
		}
	}
	return m, nil
}

// crcColumns is ReadColumns minus registration_date, which is excluded
// from the row's CRC32 digest because its SELECT-time representation
// (a millisecond timestamp) is derived, not stored (see fetchColumns).
func (m *Metadata) crcColumns() []string {
	out := make([]string, 0, len(m.ReadColumns))
	for _, c := range m.ReadColumns {
		if c != "registration_date" {
			out = append(out, c)
		}
	}
	return out
}

// fetchColumns renders ReadColumns as SELECT expressions, special-
// casing registration_date into a millisecond unix timestamp the way
// the application layer expects it.
func fetchColumns(columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		if c == "registration_date" {
			out[i] = "(unix_timestamp(`registration_date`)+3600*24)*1000"
		} else {
			out[i] = fmt.Sprintf("`%s`", c)
		}
	}
	return out
}
