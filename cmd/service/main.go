// Command service boots one service-runtime worker: a process that
// speaks spec.md §4.3's request/response protocol over the shared bus.
// Application handlers are registered by domain-specific packages this
// binary doesn't know about (see SPEC_FULL.md §1) — this entrypoint
// only wires the runtime itself: bus, liveness coordinator, metrics,
// and worker fan-out.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mousestats/backend/internal/bus"
	"github.com/mousestats/backend/internal/config"
	"github.com/mousestats/backend/internal/logging"
	"github.com/mousestats/backend/internal/service"
	"github.com/mousestats/backend/internal/sysmonitor"
	"github.com/mousestats/backend/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "go.uber.org/automaxprocs"
)

func main() {
	worker := flag.Int("worker", 0, "this process's worker index (0 spawns the rest)")
	flag.Parse()

	bootLogger := logging.New(logging.Config{Level: "info", Format: "json", Component: "boot"})

	var cfg config.Service
	if err := config.Load(&cfg, &bootLogger); err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: logging.Format(cfg.LogFormat), Component: "service"})
	logger.Info().Str("name", cfg.Name).Int("worker", *worker).Int("workers", cfg.Workers).Msg("starting")

	reg := prometheus.NewRegistry()
	busMetrics := telemetry.NewBus(reg)
	svcMetrics := telemetry.NewService(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fanout := service.NewFanout(logger)
	if *worker == 0 {
		if err := fanout.Spawn(cfg.Workers); err != nil {
			logger.Fatal().Err(err).Msg("failed to spawn worker processes")
		}
	}

	client := bus.NewFromAddr(cfg.Address(), time.Duration(cfg.Reconnect*float64(time.Second)), logger, busMetrics)

	sampler, err := sysmonitor.New()
	if err != nil {
		logger.Warn().Err(err).Msg("resource sampler unavailable, pong load will read 0")
	}

	svc := service.New(service.Config{
		Name:        cfg.Name,
		Worker:      *worker,
		PingDelay:   time.Duration(cfg.PingDelay * float64(time.Second)),
		PingTimeout: time.Duration(cfg.PingTimeout * float64(time.Second)),
		Logger:      logger,
		Metrics:     svcMetrics,
		Sampler:     sampler,
	}, client)

	client.Start(ctx, svc)
	svc.Run(ctx)

	if *worker == 0 {
		coordinator := service.NewCoordinator(svc)
		go coordinator.Run(ctx)
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received, draining in-flight requests")

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	svc.Stop(drainCtx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fanout.Shutdown(shutdownCtx)

	logger.Info().Msg("stopped")
}
