// Command updater runs one incremental-stats-updater cycle: reconcile
// player, tribe and member from the external source into the internal
// database, then recompute the derived leaderboards and disqualification
// flags, per spec.md §4.4.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mousestats/backend/internal/bus"
	"github.com/mousestats/backend/internal/config"
	"github.com/mousestats/backend/internal/dataaccess"
	"github.com/mousestats/backend/internal/logging"
	"github.com/mousestats/backend/internal/telemetry"
	"github.com/mousestats/backend/internal/updater"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "go.uber.org/automaxprocs"
)

func main() {
	bootLogger := logging.New(logging.Config{Level: "info", Format: "json", Component: "boot"})

	var cfg config.Updater
	if err := config.Load(&cfg, &bootLogger); err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: logging.Format(cfg.LogFormat), Component: "updater"})

	reg := prometheus.NewRegistry()
	busMetrics := telemetry.NewBus(reg)
	pipelineMetrics := telemetry.NewPipeline(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(":9101", mux); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	internal, err := dataaccess.Open(cfg.InternalDB.DSN(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open internal database pool")
	}
	defer internal.Close()

	external, err := dataaccess.Open(cfg.SourceDB.DSN(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open external database pool")
	}
	defer external.Close()

	busClient := bus.NewFromAddr(cfg.Address(), time.Duration(cfg.Reconnect*float64(time.Second)), logger, busMetrics)
	noop := noopHandler{}
	busClient.Start(ctx, noop)

	u := updater.New(updater.Config{
		Database:  cfg.InternalDB.Name,
		PipeSize:  cfg.PipeSize,
		BatchSize: cfg.BatchSize,
		Logger:    logger,
		Metrics:   pipelineMetrics,
	}, internal, external, busClient)

	if err := u.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("update cycle failed")
	}
}

// noopHandler satisfies bus.Handler for a process that only publishes
// (the completion notice) and never subscribes.
type noopHandler struct{}

func (noopHandler) OnConnectionMade(sub string)              {}
func (noopHandler) OnConnectionLost(sub string)              {}
func (noopHandler) OnChannelMessage(channel, payload string) {}
