package updater

import "testing"

func TestCrcColumnsExcludesRegistrationDate(t *testing.T) {
	m := &Metadata{ReadColumns: []string{"id", "name", "registration_date", "score_stats"}}
	got := m.crcColumns()

	for _, c := range got {
		if c == "registration_date" {
			t.Fatalf("expected registration_date excluded from crc columns, got %v", got)
		}
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 columns, got %v", got)
	}
}

func TestFetchColumnsRendersRegistrationDateAsMillisecondTimestamp(t *testing.T) {
	got := fetchColumns([]string{"id", "registration_date"})
	if got[0] != "`id`" {
		t.Fatalf("expected plain backtick-quoted column, got %s", got[0])
	}
	if got[1] != "(unix_timestamp(`registration_date`)+3600*24)*1000" {
		t.Fatalf("expected millisecond timestamp expression, got %s", got[1])
	}
}
