// Package app wires configured backends into the collaborators the service
// needs. Shared by the server and the CLI.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"telemetry-ml/internal/config"
	"telemetry-ml/internal/storage"
	"telemetry-ml/internal/storage/badgerdb"
	chstore "telemetry-ml/internal/storage/clickhouse"
	"telemetry-ml/internal/storage/memory"
	"telemetry-ml/internal/storage/migrations"
	pgstore "telemetry-ml/internal/storage/postgres"
)

// Stores holds the telemetry source and model store selected by config.
type Stores struct {
	Telemetry storage.TelemetrySource
	Models    storage.ModelStore
}

// OpenStores connects the configured backends and applies migrations. The
// returned cleanup releases every connection that was opened, in reverse order.
func OpenStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stores, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	pools := make(map[string]*pgstore.Pool)
	pgPool := func(dsn string) (*pgstore.Pool, error) {
		if pool, ok := pools[dsn]; ok {
			return pool, nil
		}
		pool, err := pgstore.NewPool(ctx, dsn)
		if err != nil {
			return nil, err
		}
		closers = append(closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return nil, err
		}
		pools[dsn] = pool
		return pool, nil
	}

	stores := &Stores{}

	switch cfg.Telemetry.Backend {
	case "memory":
		stores.Telemetry = memory.NewTelemetrySource()
	case "postgres":
		pool, err := pgPool(cfg.Telemetry.PostgresDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("telemetry source: %w", err)
		}
		stores.Telemetry = pgstore.NewTelemetrySource(pool)
	case "clickhouse":
		if err := chstore.EnsureDatabase(ctx, cfg.Telemetry.ClickhouseDSN); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("telemetry source: %w", err)
		}
		conn, err := chstore.NewConn(ctx, cfg.Telemetry.ClickhouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("telemetry source: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("telemetry source: %w", err)
		}
		stores.Telemetry = chstore.NewTelemetrySource(conn)
	default:
		return nil, nil, fmt.Errorf("unknown telemetry backend %q", cfg.Telemetry.Backend)
	}

	switch cfg.ModelStore.Backend {
	case "memory":
		stores.Models = memory.NewModelStore()
	case "badger":
		db, err := badgerdb.Open(badgerdb.Config{
			Path:             cfg.ModelStore.Path,
			CompressionLevel: cfg.ModelStore.CompressionLevel,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("model store: %w", err)
		}
		closers = append(closers, func() {
			if err := db.Close(); err != nil {
				logger.Warn("close model store", zap.Error(err))
			}
		})
		stores.Models = db
	case "postgres":
		dsn := cfg.ModelStore.PostgresDSN
		if dsn == "" {
			dsn = cfg.Telemetry.PostgresDSN
		}
		pool, err := pgPool(dsn)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("model store: %w", err)
		}
		stores.Models = pgstore.NewModelStore(pool)
	default:
		cleanup()
		return nil, nil, fmt.Errorf("unknown model store backend %q", cfg.ModelStore.Backend)
	}

	logger.Info("stores ready",
		zap.String("telemetry", cfg.Telemetry.Backend),
		zap.String("model_store", cfg.ModelStore.Backend),
	)
	return stores, cleanup, nil
}
