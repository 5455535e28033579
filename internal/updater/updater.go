package updater

import (
	"context"
	"fmt"
	"time"

	"github.com/mousestats/backend/internal/bus"
	"github.com/mousestats/backend/internal/dataaccess"
	"github.com/mousestats/backend/internal/telemetry"
	"github.com/rs/zerolog"
)

// Config bundles everything one Run needs.
type Config struct {
	Database  string // internal database name, for information_schema lookups
	PipeSize  int
	BatchSize int
	Logger    zerolog.Logger
	Metrics   *telemetry.Pipeline
}

// Updater owns the internal/external pools and runs the full
// reconcile-then-aggregate cycle spec.md §4.4 describes, publishing a
// completion notice on the bus when done.
type Updater struct {
	cfg      Config
	internal *dataaccess.Pool
	external *dataaccess.Pool
	bus      *bus.Client
}

// New constructs an Updater. internal is the writable destination
// pool, external the read-only source pool.
func New(cfg Config, internal, external *dataaccess.Pool, b *bus.Client) *Updater {
	return &Updater{cfg: cfg, internal: internal, external: external, bus: b}
}

// Run executes one full cycle: bootstrap + replicate player, tribe and
// member in order, apply the player-specific post actions, run the
// post-update aggregation, then publish "update complete" for the
// ranking service to pick up.
func (u *Updater) Run(ctx context.Context) error {
	start := time.Now()

	tables := make(map[string]*Metadata, 3)
	for _, name := range []string{"player", "tribe", "member"} {
		m, err := ExtractInfo(ctx, u.internal, u.cfg.Database, name, true)
		if err != nil {
			return fmt.Errorf("updater: bootstrap %s: %w", name, err)
		}
		tables[name] = m
	}

	runner := &RunnerPool{
		Internal:  u.internal,
		External:  u.external,
		Database:  u.cfg.Database,
		PipeSize:  u.cfg.PipeSize,
		BatchSize: u.cfg.BatchSize,
		Logger:    u.cfg.Logger,
	}

	for _, name := range []string{"player", "tribe", "member"} {
		table := tables[name]
		if err := runner.Extract(ctx, table); err != nil {
			return fmt.Errorf("updater: extract %s: %w", name, err)
		}

		if name == "player" {
			if err := applyPlayerPostActions(ctx, u.internal, table); err != nil {
				return fmt.Errorf("updater: player post actions: %w", err)
			}
		}

		if err := u.postPerTable(ctx, table); err != nil {
			return fmt.Errorf("updater: post-table actions for %s: %w", name, err)
		}

		u.cfg.Logger.Info().Str("table", name).Msg("done updating")
	}

	if err := PostUpdate(ctx, u.internal, u.external, u.cfg.Database, tables["player"], tables["tribe"], tables["member"]); err != nil {
		return fmt.Errorf("updater: post-update aggregation: %w", err)
	}

	u.bus.Publish("service:ranking@0", `{"type":"update-complete"}`)

	if u.cfg.Metrics != nil {
		u.cfg.Metrics.RunDuration.WithLabelValues("all", "cycle").Observe(time.Since(start).Seconds())
	}
	u.cfg.Logger.Info().Dur("duration", time.Since(start)).Msg("update cycle complete")
	return nil
}

// applyPlayerPostActions recomputes score_overall across the
// destination and fixes legacy names lacking a "#nnnn" discriminator,
// per spec.md §4.4's player-specific post actions.
func applyPlayerPostActions(ctx context.Context, internal *dataaccess.Pool, table *Metadata) error {
	target := "player"
	if !table.IsEmpty {
		target = "player_new"
	}

	if _, err := internal.Exec(ctx,
		fmt.Sprintf("UPDATE `%s` SET `score_overall`=%s", target, overallFormulaSQL("alltime")),
	); err != nil {
		return err
	}

	_, err := internal.Exec(ctx,
		fmt.Sprintf("UPDATE `%s` SET `name`=CONCAT(`name`, '#0000') WHERE `name` NOT LIKE '%%#%%'", target),
	)
	return err
}

// postPerTable implements spec.md §4.4's warm-only per-table commit:
// merge the write-side hash cache into the read side, truncate it,
// snapshot the about-to-be-overwritten rows into the changelog, then
// replace the live table with the staged `_new` rows.
func (u *Updater) postPerTable(ctx context.Context, table *Metadata) error {
	if table.IsEmpty {
		return nil
	}

	if _, err := u.internal.Exec(ctx, fmt.Sprintf(
		"REPLACE INTO `%s` SELECT `w`.* FROM `%s` as `w`", table.ReadHash, table.WriteHash,
	)); err != nil {
		return err
	}
	if _, err := u.internal.Exec(ctx, fmt.Sprintf("TRUNCATE `%s`", table.WriteHash)); err != nil {
		return err
	}

	cols := joinBackticked(table.WriteColumns)
	if _, err := u.internal.Exec(ctx, fmt.Sprintf(
		"INSERT INTO `%s_changelog` (`%s`) SELECT `o`.* FROM `%s_new` as `n` "+
			"INNER JOIN `%s` as `o` ON `o`.`%s` = `n`.`%s`",
		table.Name, cols, table.Name, table.Name, table.Primary, table.Primary,
	)); err != nil {
		return err
	}

	_, err := u.internal.Exec(ctx, fmt.Sprintf(
		"REPLACE INTO `%s` SELECT `n`.* FROM `%s_new` as `n`", table.Name, table.Name,
	))
	return err
}

func joinBackticked(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += "`,`"
		}
		out += c
	}
	return out
}
