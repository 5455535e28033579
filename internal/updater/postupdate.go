package updater

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mousestats/backend/internal/dataaccess"
)

// PostUpdate runs spec.md §4.4's post-update aggregation once all
// three reconciled tables (player, tribe, member) have finished: tribe
// rollup, the three periodic leaderboards per entity, and the
// disqualification sync.
func PostUpdate(ctx context.Context, internal, external *dataaccess.Pool, database string, player, tribe, member *Metadata) error {
	tribeStats, err := ExtractInfo(ctx, internal, database, "tribe_stats", false)
	if err != nil {
		return fmt.Errorf("updater: introspect tribe_stats: %w", err)
	}

	if err := writeTribeLogs(ctx, internal, tribe, tribeStats); err != nil {
		return fmt.Errorf("updater: tribe rollup: %w", err)
	}

	periods := []struct {
		table *Metadata
		name  string
		days  int
	}{
		{player, "daily", 1},
		{player, "weekly", 7},
		{player, "monthly", 30},
		{tribeStats, "daily", 1},
		{tribeStats, "weekly", 7},
		{tribeStats, "monthly", 30},
	}
	for _, p := range periods {
		if err := writePeriodicRank(ctx, internal, p.table, p.name, p.days); err != nil {
			return fmt.Errorf("updater: periodic rank %s@%s: %w", p.table.Name, p.name, err)
		}
	}

	return syncDisqualifications(ctx, internal, external)
}

// writeTribeLogs recomputes tribe_active and tribe_stats, and — when
// tribe is warm — snapshots the pre-update tribe_stats rows into
// tribe_stats_changelog before they're overwritten.
func writeTribeLogs(ctx context.Context, internal *dataaccess.Pool, tribe, stats *Metadata) error {
	if !tribe.IsEmpty {
		stats.IsEmpty = false

		if _, err := internal.Exec(ctx, "TRUNCATE `tribe_active`"); err != nil {
			return err
		}
		_, err := internal.Exec(ctx,
			"INSERT INTO `tribe_active` (`id`, `members`, `active`, `members_sqrt`) "+
				"SELECT `t`.`id`, "+
				"COUNT(`m`.`id_member`) as `members`, "+
				"COUNT(`p`.`id`) as `active`, "+
				"POWER(COUNT(`m`.`id_member`), 0.5) as `members_sqrt` "+
				"FROM `tribe` as `t` "+
				"INNER JOIN `member` as `m` ON `t`.`id` = `m`.`id_tribe` "+
				"LEFT JOIN `player_new` as `p` ON `m`.`id_member` = `p`.`id` "+
				"GROUP BY `t`.`id` HAVING `active` > 0",
		)
		if err != nil {
			return err
		}

		changelogCols := strings.Join(stats.WriteColumns, "`,`")
		_, err = internal.Exec(ctx, fmt.Sprintf(
			"INSERT INTO `tribe_stats_changelog` (`%s`) "+
				"SELECT `o`.* FROM `tribe_active` as `n` INNER JOIN `tribe_stats` as `o` ON `n`.`id` = `o`.`id`",
			changelogCols,
		))
		if err != nil {
			return err
		}
	}

	var sumColumns []string
	var divBy, fromTribe, joinExtra string
	if tribe.IsEmpty {
		sumColumns = []string{
			"COUNT(`m`.`id_member`) as `members`",
			"COUNT(`p_n`.`id`) as `active`",
		}
		divBy = "POWER(COUNT(`m`.`id_member`), 0.5)"
		fromTribe = "`tribe` as `t`"
		joinExtra = "LEFT JOIN `player_new` as `p_n` ON `p_n`.`id` = `p`.`id`"
	} else {
		sumColumns = []string{"`t`.`members`", "`t`.`active`"}
		divBy = "`t`.`members_sqrt`"
		fromTribe = "`tribe_active` as `t`"
		joinExtra = ""
	}

	for _, col := range stats.WriteColumns {
		if col == "id" || col == "members" || col == "active" {
			continue
		}
		sumColumns = append(sumColumns, fmt.Sprintf("SUM(`p`.`%s`) / %s as `%s`", col, divBy, col))
	}

	query := fmt.Sprintf(
		"REPLACE INTO `tribe_stats` SELECT `t`.`id`, %s FROM %s "+
			"INNER JOIN `member` as `m` ON `t`.`id` = `m`.`id_tribe` "+
			"INNER JOIN `player` as `p` ON `p`.`id` = `m`.`id_member` %s GROUP BY `t`.`id`",
		strings.Join(sumColumns, ","), fromTribe, joinExtra,
	)
	_, err := internal.Exec(ctx, query)
	return err
}

// writePeriodicRank recomputes one (entity, period) leaderboard per
// spec.md §4.4 stage 2, using the midnight-truncated `log_date >=
// start_from` windowing convention (see DESIGN.md's resolution of the
// source's two conflicting variants).
func writePeriodicRank(ctx context.Context, internal *dataaccess.Pool, tbl *Metadata, period string, days int) error {
	if tbl.IsEmpty {
		return nil
	}

	startFrom := time.Now().AddDate(0, 0, -(days - 1)).Truncate(24 * time.Hour)

	var target, source, changelog string
	if tbl.Name == "tribe_stats" {
		target = "tribe_" + period
		source = "tribe_stats"
		changelog = "tribe_stats_changelog"
	} else {
		target = tbl.Name + "_" + period
		source = tbl.Name + "_new"
		changelog = tbl.Name + "_changelog"
	}

	columns := strings.Join(statColumns, "`,`")
	var calcs []string
	for _, col := range statColumns {
		calcs = append(calcs, fmt.Sprintf("`n`.`%s` - `o`.`%s`", col, col))
	}

	var scoreAssigns []string
	for col, formula := range compositeFormulas {
		scoreAssigns = append(scoreAssigns, fmt.Sprintf("`%s` = %s", col, formula))
	}

	if _, err := internal.Exec(ctx, fmt.Sprintf("TRUNCATE `%s`", target)); err != nil {
		return err
	}

	calcQuery := fmt.Sprintf(
		"INSERT INTO `%s` (`id`, `%s`) "+
			"SELECT `n`.`id`, %s FROM `%s` as `n` "+
			"INNER JOIN (SELECT min(`log_id`) as `boundary`, `id` FROM `%s` "+
			"WHERE `log_date` >= '%s' GROUP BY `id`) as `b` ON `b`.`id` = `n`.`id` "+
			"INNER JOIN `%s` as `o` ON `o`.`id` = `n`.`id` AND `b`.`boundary` = `o`.`log_id`",
		target, columns, strings.Join(calcs, ","), source, changelog,
		startFrom.Format("20060102"), changelog,
	)
	if _, err := internal.Exec(ctx, calcQuery); err != nil {
		return err
	}

	if _, err := internal.Exec(ctx, fmt.Sprintf("UPDATE `%s` SET %s", target, strings.Join(scoreAssigns, ","))); err != nil {
		return err
	}

	_, err := internal.Exec(ctx, fmt.Sprintf("UPDATE `%s` SET `score_overall` = %s", target, overallFormulaSQL(period)))
	return err
}

// syncDisqualifications resets and rebuilds the tfm/cfm disqualification
// flags per spec.md §4.4 stage 3.
func syncDisqualifications(ctx context.Context, internal, external *dataaccess.Pool) error {
	if _, err := internal.Exec(ctx, "UPDATE `disqualified` SET `tfm` = 0"); err != nil {
		return err
	}

	var reliable []struct {
		ID int64 `db:"id"`
	}
	if err := external.Select(ctx, &reliable, "SELECT `id` FROM `player` WHERE `stats_reliability` = 2"); err != nil {
		return err
	}
	for _, p := range reliable {
		if _, err := internal.Exec(ctx,
			"INSERT INTO `disqualified` (`id`, `tfm`) VALUES (?, 1) ON DUPLICATE KEY UPDATE `tfm` = 1", p.ID,
		); err != nil {
			return err
		}
	}

	if _, err := internal.Exec(ctx,
		"UPDATE `disqualified` as `d` LEFT JOIN `sanctions` as `s` ON `s`.`player` = `d`.`id` "+
			"SET `d`.`cfm` = 0 WHERE `s`.`player` IS NULL AND `d`.`cfm` = 1",
	); err != nil {
		return err
	}

	if _, err := internal.Exec(ctx,
		"INSERT INTO `disqualified` (`id`, `cfm`) "+
			"SELECT `player` as `id`, 1 as `cfm` FROM `sanctions` "+
			"ON DUPLICATE KEY UPDATE `cfm` = 1",
	); err != nil {
		return err
	}

	_, err := internal.Exec(ctx, "DELETE FROM `disqualified` WHERE `cfm` = 0 AND `tfm` = 0")
	return err
}
