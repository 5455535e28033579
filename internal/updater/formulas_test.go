package updater

import "testing"

func TestOverallFormulaSQLUsesDistinctWeightsPerPeriod(t *testing.T) {
	alltime := overallFormulaSQL("alltime")
	daily := overallFormulaSQL("daily")
	if alltime == daily {
		t.Fatal("expected alltime and daily weighting to render different SQL")
	}
	for _, col := range []string{"score_stats", "score_shaman", "score_survivor", "score_racing", "score_defilante"} {
		if !containsAll(alltime, "`"+col+"`") {
			t.Fatalf("expected %s referenced in alltime formula, got %s", col, alltime)
		}
	}
}

func TestOverallWeightsWeeklyAndMonthlyAliasDaily(t *testing.T) {
	weekly := overallFormulaSQL("weekly")
	monthly := overallFormulaSQL("monthly")
	daily := overallFormulaSQL("daily")
	if weekly != daily || monthly != daily {
		t.Fatalf("expected weekly and monthly to alias daily's weights: weekly=%s monthly=%s daily=%s", weekly, monthly, daily)
	}
}

func TestCompositeFormulasCoverAllFiveScores(t *testing.T) {
	for _, col := range []string{"score_stats", "score_shaman", "score_survivor", "score_racing", "score_defilante"} {
		if _, ok := compositeFormulas[col]; !ok {
			t.Fatalf("missing composite formula for %s", col)
		}
	}
}

func containsAll(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
