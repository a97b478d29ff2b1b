package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Chichichkin/otelbridge/internal/config"
	"github.com/Chichichkin/otelbridge/internal/daemon"
	"github.com/Chichichkin/otelbridge/internal/diag"
	"github.com/Chichichkin/otelbridge/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := diag.NewLogger("info")
		bootLogger.Fatal().Err(err).Msg("could not load config")
	}
	logger := diag.NewLogger(cfg.DiagLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	otel, err := telemetry.New(*cfg,
		telemetry.WithLogger(logger),
		telemetry.WithRegisterer(prometheus.DefaultRegisterer),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not set up log pipelines")
	}
	if failed := otel.Failed(); len(failed) > 0 {
		logger.Warn().Int("failed", len(failed)).Int("running", len(otel.Pipelines())).Msg("Some log targets were skipped")
	}

	slog.SetDefault(slog.New(otel.Handler()).With(telemetry.ModuleKey, "agent"))

	var source *daemon.LogDaemonService
	if cfg.Source != nil {
		source = startDaemon(ctx, cfg.Source, otel, logger)
	}

	slog.Info("agent started", "service", cfg.ServiceName)
	<-ctx.Done()
	logger.Info().Msg("Received shutdown signal")

	if source != nil {
		source.Stop()
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()
	if err := otel.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Log pipelines did not shut down cleanly")
		shutdownCancel()
		os.Exit(1)
	}
	logger.Info().Msg("Shut down")
}

func startDaemon(ctx context.Context, src *config.SourceConfig, otel *telemetry.Otel, logger zerolog.Logger) *daemon.LogDaemonService {
	nodeName := src.NodeName
	if nodeName == "" {
		nodeName = os.Getenv("NODE_NAME")
	}
	if nodeName == "" {
		nodeName = "unknown"
	}

	service := daemon.NewLogDaemonService(ctx, daemon.Config{
		LogRootPath:     src.RootPath,
		ScanInterval:    src.ScanInterval,
		Workers:         src.Workers,
		FileQueueSize:   src.FileQueueSize,
		NodeName:        nodeName,
		FileIdleTimeout: src.FileIdleTimeout,
	}, otel,
		daemon.WithLogger(logger.With().Str("component", "daemon").Logger()),
		daemon.WithMetrics(daemon.NewMetrics(prometheus.DefaultRegisterer)),
	)
	service.Start()
	return service
}
