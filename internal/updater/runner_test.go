package updater

import (
	"strings"
	"testing"

	"github.com/mousestats/backend/internal/pipeline"
)

func TestSelectAllQueryIncludesCrcAndCompositeScores(t *testing.T) {
	table := &Metadata{
		Name:            "player",
		ReadColumns:     []string{"id", "name"},
		CompositeScores: ",1 as `score_overall`",
	}
	q := selectAllQuery(table)

	if !strings.Contains(q, "CRC32(CONCAT_WS('', `id`,`name`))") {
		t.Fatalf("expected crc expression over read columns, got %s", q)
	}
	if !strings.Contains(q, "score_overall") {
		t.Fatalf("expected composite scores appended, got %s", q)
	}
	if !strings.Contains(q, "FROM `player`") {
		t.Fatalf("expected FROM clause naming the table, got %s", q)
	}
}

func TestPlaceholdersRendersOneQuestionMarkPerSlot(t *testing.T) {
	if got := placeholders(3); got != "?,?,?" {
		t.Fatalf("expected '?,?,?', got %s", got)
	}
	if got := placeholders(0); got != "" {
		t.Fatalf("expected empty string for zero slots, got %s", got)
	}
}

func TestAliasColumnsPairsExpressionsWithNames(t *testing.T) {
	got := aliasColumns([]string{"`a`", "COUNT(*)"}, []string{"a", "total"})
	want := []string{"`a` as `a`", "COUNT(*) as `total`"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestToPipelineRowsDerivesIDFromPrimaryWhenMissing(t *testing.T) {
	rows := []map[string]any{{"id_member": 7, "name": "x"}}
	out := toPipelineRows(rows, "id_member")

	if out[0]["id"] != 7 {
		t.Fatalf("expected id derived from primary key column, got %v", out[0]["id"])
	}
}

func TestToPipelineRowsLeavesExistingIDAlone(t *testing.T) {
	rows := []map[string]any{{"id": 1, "name": "x"}}
	out := toPipelineRows(rows, "id")

	if out[0]["id"] != 1 {
		t.Fatalf("expected existing id preserved, got %v", out[0]["id"])
	}
}

func TestDeleteGateThresholdIsOneHundredThousand(t *testing.T) {
	if deleteGate != 100_000 {
		t.Fatalf("expected deleteGate of 100000, got %d", deleteGate)
	}
}

// sanity check that pipeline.Chunk (the primitive applyDeletions relies
// on) still pads to the batch arity runner.go assumes.
func TestChunkArityMatchesBatchSize(t *testing.T) {
	ids := []any{1, 2, 3}
	chunks := pipeline.Chunk(ids, 5)
	if len(chunks) != 1 || len(chunks[0]) != 5 {
		t.Fatalf("expected one chunk of arity 5, got %v", chunks)
	}
}
