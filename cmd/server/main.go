// Package main runs the telemetry ML HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"telemetry-ml/internal/api"
	"telemetry-ml/internal/app"
	"telemetry-ml/internal/config"
	"telemetry-ml/internal/logging"
	"telemetry-ml/internal/observability"
	"telemetry-ml/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load .env file if exists
	loadEnvFile()

	configPath := flag.String("config", os.Getenv("TELEMETRY_ML_CONFIG"), "Path to YAML config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides server.address)")
	logLevel := flag.String("log-level", "", "Log level (overrides log.level)")
	telemetryBackend := flag.String("telemetry", "", "Telemetry backend: postgres, clickhouse or memory")
	modelBackend := flag.String("model-store", "", "Model store backend: badger, postgres or memory")
	useMemory := flag.Bool("use-memory", false, "Use in-memory telemetry and model storage")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, *addr, *logLevel, *telemetryBackend, *modelBackend, *useMemory)
	if err := cfg.Check(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, syncLogs, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = syncLogs() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		_ = syncLogs()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer cleanup()

	svc, err := service.New(service.Options{
		Config:    cfg,
		Telemetry: stores.Telemetry,
		Models:    stores.Models,
		Logger:    logger,
		Metrics:   observability.DefaultMetrics,
	})
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	handler := api.NewHandler(api.Options{
		Service:   svc,
		Telemetry: stores.Telemetry,
		Models:    stores.Models,
		Logger:    logger,
		Metrics:   observability.DefaultMetrics,
		Version:   version,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      api.NewRouter(handler, cfg.Server.CORSOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Address), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// A second signal aborts in-flight training immediately.
	go func() {
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, cancelling in-flight requests", zap.String("signal", sig.String()))
			cancel()
		case <-shutdownCtx.Done():
		}
	}()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		cancel()
		return fmt.Errorf("graceful shutdown timed out after %s: %w", cfg.Server.ShutdownTimeout, err)
	}
	return nil
}

// applyFlags lets command line flags override file and environment settings.
func applyFlags(cfg *config.Config, addr, logLevel, telemetryBackend, modelBackend string, useMemory bool) {
	if addr != "" {
		cfg.Server.Address = addr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if telemetryBackend != "" {
		cfg.Telemetry.Backend = telemetryBackend
	}
	if modelBackend != "" {
		cfg.ModelStore.Backend = modelBackend
	}
	if useMemory {
		cfg.Telemetry.Backend = "memory"
		cfg.ModelStore.Backend = "memory"
	}
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
