package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/afroash/fire-monitor/internal/adaptive"
	"github.com/afroash/fire-monitor/internal/config"
	"github.com/afroash/fire-monitor/internal/detector"
	"github.com/afroash/fire-monitor/internal/engine"
	"github.com/afroash/fire-monitor/internal/metrics"
	"github.com/afroash/fire-monitor/internal/server"
	"github.com/afroash/fire-monitor/internal/storage"
)

const version = "v0.3.0"

func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAppConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := cfg.Logging.NewLogger(os.Stdout)
	logger.Info().
		Str("version", version).
		Int("port", cfg.Server.Port).
		Str("environment", string(cfg.Adaptive.EnvironmentType)).
		Msg("Starting Fire Monitor Server")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var sqliteStore *storage.SQLiteStore
	var dbWriter *storage.DBWriter
	var retentionCleaner *storage.RetentionCleaner
	var versionStore adaptive.VersionStore

	if cfg.Database.Enabled {
		dataDir := filepath.Dir(cfg.Database.Path)
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			logger.Fatal().Err(err).Msg("Failed to create data directory")
		}
		sqliteStore, err = storage.NewSQLiteStore(cfg.Database.Path, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create SQLite store")
		}
		versionStore = sqliteStore
		logger.Info().Str("path", cfg.Database.Path).Msg("SQLite store opened")

		dbWriter = storage.NewDBWriter(sqliteStore, cfg.Database.WriterConfig(), logger)
		retentionCleaner = storage.NewRetentionCleaner(sqliteStore, cfg.Database.CleanerConfig(), logger)
		logger.Info().
			Int("retention_days", cfg.Database.RetentionDays).
			Dur("cleanup_period", cfg.Database.CleanupPeriod).
			Msg("RetentionCleaner started")
	}

	manager := adaptive.NewThresholdManager(versionStore, logger)
	system := adaptive.NewAdaptiveFireSystem(cfg.Adaptive, manager, logger)
	det := detector.NewMultiSensorFireDetector(cfg.Detector.DetectorConfig(), system.CurrentThresholds(), logger)

	eng := engine.New(cfg.EngineConfig(), det, system, logger)
	eng.SetMetrics(m)
	if sqliteStore != nil {
		eng.SetStatisticsStore(sqliteStore)
		eng.SetEventSink(dbWriter)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Restore(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to restore adaptive state")
	}
	eng.Start()

	results := server.NewMemoryStore(cfg.Storage.BufferSize)

	mux := http.NewServeMux()

	var apiHandler *server.APIHandler
	if sqliteStore != nil {
		apiHandler = server.NewAPIHandlerWithEvents(results, eng, sqliteStore, logger)
	} else {
		apiHandler = server.NewAPIHandler(results, eng, logger)
	}
	apiHandler.Register(mux)

	handler := server.NewHandler(
		cfg.Server.AuthToken,
		eng,
		results,
		logger,
		cfg.Server.AllowedOrigins...,
	)
	handler.SetMetrics(m)
	mux.Handle("/sensor-stream", handler)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","version":"%s"}`, version)
	})

	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Server exited with error")
	}

	// The engine's final checkpoint needs the store; events it emits need the writer.
	eng.Stop()
	logger.Info().Msg("Engine stopped")
	if dbWriter != nil {
		dbWriter.Stop()
		logger.Info().Msg("DBWriter stopped")
	}
	if retentionCleaner != nil {
		retentionCleaner.Stop()
		logger.Info().Msg("RetentionCleaner stopped")
	}
	if sqliteStore != nil {
		if err := sqliteStore.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close SQLite store")
		}
		logger.Info().Msg("SQLiteStore closed")
	}

	logger.Info().Msg("Server stopped")
}
