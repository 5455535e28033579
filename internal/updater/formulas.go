// Package updater reconciles an external (read-only) source database
// against an internal destination, computing composite and periodic
// ranking scores along the way. Grounded on
// _examples/original_source/updater/src/{formulas,table,download,post_update}.py,
// restructured around internal/pipeline's channel stages and
// golang.org/x/sync/errgroup in place of asyncio.wait/FIRST_EXCEPTION.
package updater

import "fmt"

// compositeFormulas maps each composite score column to the SQL
// expression that computes it in-flight during a source SELECT.
var compositeFormulas = map[string]string{
	"score_stats": "(`cheese_gathered` + `first` * 3) " +
		"/ POWER(GREATEST(`round_played`, 1), 0.25)",
	"score_shaman": "(`shaman_cheese` * 0.05 + `saved_mice` * 0.2 " +
		"+ `saved_mice_hard`*0.35 + `saved_mice_divine`*0.5) " +
		"/ POWER(GREATEST(`round_played`, 1), 0.25)",
	"score_survivor": "(1.6 * `survivor_survivor_count` + 0.8 * `survivor_mouse_killed`) " +
		"/ POWER(GREATEST(`survivor_shaman_count` * `survivor_round_played`, 1), 0.25)",
	"score_racing": "(2 * `racing_first` + `racing_podium`) " +
		"/ POWER(GREATEST(`racing_round_played` * `racing_finished_map`, 1), 0.25)",
	"score_defilante": "`defilante_points` / " +
		"POWER(GREATEST(`defilante_round_played` * `defilante_finished_map`, 1), 0.25)",
}

// overallWeights holds the five composite-score divisors for one
// weighting scheme; overallFormula below renders them into a SQL sum.
type overallWeights struct {
	Stats, Shaman, Survivor, Racing, Defilante float64
}

var overallWeightsByPeriod = map[string]overallWeights{
	"alltime": {Stats: 35.564, Shaman: 24.956, Survivor: 1.580, Racing: 0.861, Defilante: 2.851},
	"daily":   {Stats: 0.494, Shaman: 0.311, Survivor: 0.056, Racing: 0.074, Defilante: 0.333},
}

func init() {
	overallWeightsByPeriod["weekly"] = overallWeightsByPeriod["daily"]
	overallWeightsByPeriod["monthly"] = overallWeightsByPeriod["daily"]
}

// overallFormulaSQL renders the weighted sum of the five composite
// scores for period ("alltime", "daily", "weekly" or "monthly").
func overallFormulaSQL(period string) string {
	w := overallWeightsByPeriod[period]
	return fmt.Sprintf(
		"(`score_stats` / %v + `score_shaman` / %v + `score_survivor` / %v + "+
			"`score_racing` / %v + `score_defilante` / %v)",
		w.Stats, w.Shaman, w.Survivor, w.Racing, w.Defilante,
	)
}

// statColumns are the raw per-member stat columns a tribe rollup sums
// and a periodic rank deltas, in the order both SQL statements expect.
var statColumns = []string{
	"shaman_cheese", "saved_mice", "saved_mice_hard", "saved_mice_divine",
	"round_played", "cheese_gathered", "first", "bootcamp",
	"survivor_round_played", "survivor_mouse_killed", "survivor_shaman_count", "survivor_survivor_count",
	"racing_round_played", "racing_finished_map", "racing_first", "racing_podium",
	"defilante_round_played", "defilante_finished_map", "defilante_points",
}
