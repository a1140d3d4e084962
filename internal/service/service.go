// Package service coordinates training and prediction: it fetches telemetry,
// enforces request bounds, runs the estimators on a bounded worker pool and
// persists their artifacts.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"telemetry-ml/internal/config"
	"telemetry-ml/internal/domain"
	"telemetry-ml/internal/features"
	"telemetry-ml/internal/logging"
	"telemetry-ml/internal/observability"
	"telemetry-ml/internal/storage"
)

// Service is the training coordinator and prediction service.
type Service struct {
	cfg       *config.Config
	telemetry storage.TelemetrySource
	models    storage.ModelStore
	builder   *features.Builder
	logger    *zap.Logger
	metrics   *observability.Metrics

	pool   *semaphore.Weighted
	locks  *keyLocker
	states *stateTracker
}

// Options for creating a Service.
type Options struct {
	// Required
	Config    *config.Config
	Telemetry storage.TelemetrySource
	Models    storage.ModelStore

	// Optional
	Builder *features.Builder      // nil means the default feature specs
	Logger  *zap.Logger            // nil means no logging
	Metrics *observability.Metrics // nil means observability.DefaultMetrics
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if opts.Config == nil || opts.Telemetry == nil || opts.Models == nil {
		return nil, fmt.Errorf("%w: config, telemetry source and model store are required", domain.ErrInvalidConfiguration)
	}
	if err := opts.Config.Check(); err != nil {
		return nil, err
	}

	builder := opts.Builder
	if builder == nil {
		builder = features.NewBuilder(nil)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.DefaultMetrics
	}

	return &Service{
		cfg:       opts.Config,
		telemetry: opts.Telemetry,
		models:    opts.Models,
		builder:   builder,
		logger:    logging.OrNop(opts.Logger).Named("service"),
		metrics:   metrics,
		pool:      semaphore.NewWeighted(int64(opts.Config.Training.Workers)),
		locks:     newKeyLocker(),
		states:    newStateTracker(),
	}, nil
}

// runTraining serializes work on key, takes a worker slot and bounds fn by
// the training timeout. Lifecycle state moves to training/retraining for the
// duration and falls back to the previous state if fn fails.
func (s *Service) runTraining(ctx context.Context, key storage.ModelKey, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Training.Timeout)
	defer cancel()

	unlock, err := s.locks.Lock(ctx, key.String())
	if err != nil {
		return fmt.Errorf("wait for %s: %w", key, err)
	}
	defer unlock()

	if err := s.pool.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for training worker: %w", err)
	}
	defer s.pool.Release(1)

	s.metrics.TrainingInFlight.Inc()
	defer s.metrics.TrainingInFlight.Dec()

	_, known := s.states.get(key.String())
	hasModel := false
	if !known {
		hasModel = s.hasModel(ctx, key)
	}
	prev := s.states.begin(key.String(), hasModel)

	if err := fn(ctx); err != nil {
		s.states.fail(key.String(), prev)
		if isTimeout(err) {
			return fmt.Errorf("training %s exceeded %s: %w", key, s.cfg.Training.Timeout, err)
		}
		return err
	}
	s.states.finish(key.String())
	return nil
}

func (s *Service) hasModel(ctx context.Context, key storage.ModelKey) bool {
	_, err := s.loadMetadata(ctx, key)
	return err == nil
}

// fetchSamples reads the last hours of raw telemetry for deviceID.
func (s *Service) fetchSamples(ctx context.Context, deviceID string, hours int) ([]domain.TelemetrySample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Telemetry.QueryTimeout)
	defer cancel()

	started := time.Now()
	samples, err := s.telemetry.FetchSamples(ctx, deviceID, time.Duration(hours)*time.Hour)
	s.metrics.RecordTelemetryFetch("samples", started, err)
	if err != nil {
		return nil, fmt.Errorf("fetch telemetry for %s: %w: %w", deviceID, domain.ErrCollaboratorFailure, err)
	}
	return samples, nil
}

// fetchSeries reads the last hours of one metric path for deviceID.
func (s *Service) fetchSeries(ctx context.Context, deviceID, field string, hours int) ([]domain.ScalarPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Telemetry.QueryTimeout)
	defer cancel()

	started := time.Now()
	series, err := s.telemetry.FetchFieldSeries(ctx, deviceID, field, time.Duration(hours)*time.Hour)
	s.metrics.RecordTelemetryFetch("field_series", started, err)
	if err != nil {
		return nil, fmt.Errorf("fetch %s for %s: %w: %w", field, deviceID, domain.ErrCollaboratorFailure, err)
	}
	return series, nil
}

// storeIO bounds one model store round trip by the store timeout.
func (s *Service) storeIO(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ModelStore.IOTimeout)
	defer cancel()

	started := time.Now()
	err := fn(ctx)
	s.metrics.RecordStoreOp(op, started, err)
	return err
}

// logFailure logs domain errors at info and collaborator or unexpected
// failures at error with full context.
func (s *Service) logFailure(op string, key storage.ModelKey, err error) {
	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("device_id", key.DeviceID),
		zap.String("kind", string(domain.KindOf(err))),
		zap.Error(err),
	}
	if key.Field != "" {
		fields = append(fields, zap.String("field", key.Field))
	}
	if domain.IsDomainError(err) {
		s.logger.Info(op+" rejected", fields...)
		return
	}
	s.logger.Error(op+" failed", fields...)
}

func validateDevice(deviceID string) error {
	if strings.TrimSpace(deviceID) == "" || strings.ContainsAny(deviceID, "/\\\x00") {
		return fmt.Errorf("%w: invalid device id %q", domain.ErrInvalidConfiguration, deviceID)
	}
	return nil
}

func validateField(field string) error {
	if !features.ValidPath(field) {
		return fmt.Errorf("%w: invalid field path %q", domain.ErrInvalidConfiguration, field)
	}
	return nil
}

// resolveHours applies the default for 0 and checks the range.
func resolveHours(name string, hours, def int, r config.Range) (int, error) {
	if hours == 0 {
		return def, nil
	}
	if !r.Contains(hours) {
		return 0, fmt.Errorf("%w: %s %d outside [%d, %d]", domain.ErrInvalidConfiguration, name, hours, r.Min, r.Max)
	}
	return hours, nil
}

// isTimeout reports whether err came from an expired deadline.
func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
