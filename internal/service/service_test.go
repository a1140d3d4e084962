package service

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"telemetry-ml/internal/config"
	"telemetry-ml/internal/domain"
	"telemetry-ml/internal/observability"
	"telemetry-ml/internal/storage"
	"telemetry-ml/internal/storage/memory"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

const device = "dev1"

// shadowRows returns n one-minute reported states with a sine cpuUsage in
// [20, 40], a memory ratio, and cpuUsage forced to 500 at index spike.
func shadowRows(n, spike int, withMemory bool) []domain.TelemetrySample {
	rows := make([]domain.TelemetrySample, n)
	for i := range rows {
		cpu := 30 + 10*math.Sin(float64(i)/10)
		if i == spike {
			cpu = 500
		}
		system := map[string]any{"cpuUsage": cpu}
		if withMemory {
			system["memoryUsage"] = 50 + 5*math.Cos(float64(i)/15)
			system["memoryTotal"] = 100.0
		}
		rows[i] = domain.TelemetrySample{
			DeviceID:  device,
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
			Metrics:   map[string]any{"system": system},
		}
	}
	return rows
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Telemetry.Backend = "memory"
	cfg.ModelStore.Backend = "memory"
	cfg.Forecast.LSTMUnits = []int{12, 8}
	cfg.Forecast.DenseUnits = 8
	cfg.Forecast.Epochs = 40
	cfg.Forecast.BatchSize = 16
	cfg.Forecast.LearningRate = 0.01
	cfg.Forecast.MinWindows = 10
	cfg.Forecast.Patience = 40
	return cfg
}

type fixture struct {
	svc       *Service
	telemetry *memory.TelemetrySource
	models    *memory.ModelStore
	metrics   *observability.Metrics
}

func newFixture(t *testing.T, cfg *config.Config, src storage.TelemetrySource, rows []domain.TelemetrySample) *fixture {
	t.Helper()
	telemetry := memory.NewTelemetrySource().WithClock(func() time.Time {
		return t0.Add(time.Duration(len(rows)) * time.Minute)
	})
	require.NoError(t, telemetry.Insert(context.Background(), rows...))
	if src == nil {
		src = telemetry
	}

	models := memory.NewModelStore()
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	svc, err := New(Options{
		Config:    cfg,
		Telemetry: src,
		Models:    models,
		Logger:    zaptest.NewLogger(t),
		Metrics:   metrics,
	})
	require.NoError(t, err)
	return &fixture{svc: svc, telemetry: telemetry, models: models, metrics: metrics}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{Config: testConfig()})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestService_AnomalyEndToEnd(t *testing.T) {
	f := newFixture(t, testConfig(), nil, shadowRows(200, 150, true))
	ctx := context.Background()

	trained, err := f.svc.TrainAnomaly(ctx, TrainAnomalyRequest{DeviceID: device, Contamination: 0.01})
	require.NoError(t, err)
	assert.Equal(t, "success", trained.Status)
	assert.Equal(t, 200, trained.TrainedSamples)
	assert.Equal(t, []string{"cpuUsage", "memoryUsagePercent"}, trained.Features)
	assert.Equal(t, 0.01, trained.Contamination)

	detected, err := f.svc.DetectAnomalies(ctx, DetectRequest{DeviceID: device, Hours: 24})
	require.NoError(t, err)
	assert.Equal(t, 200, detected.TotalPoints)
	assert.Equal(t, len(detected.Anomalies), detected.AnomaliesDetected)
	assert.Equal(t, trained.ModelID, detected.Model.ModelID)

	var spike *domain.AnomalyResult
	for i := range detected.Anomalies {
		if detected.Anomalies[i].Timestamp.Equal(t0.Add(150 * time.Minute)) {
			spike = &detected.Anomalies[i]
		}
	}
	require.NotNil(t, spike, "row 150 not reported")
	assert.True(t, spike.IsAnomaly)
	assert.Equal(t, domain.SeverityCritical, spike.Severity)

	for i := 1; i < len(detected.Anomalies); i++ {
		assert.True(t, detected.Anomalies[i-1].Timestamp.Before(detected.Anomalies[i].Timestamp))
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TrainingRunsTotal.WithLabelValues("isolation_forest", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PredictionsTotal.WithLabelValues("isolation_forest", "success")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(f.metrics.AnomaliesFlagged.WithLabelValues("critical")), 1.0)
}

func TestService_DetectCapsReportedAnomalies(t *testing.T) {
	cfg := testConfig()
	cfg.Anomaly.MaxReported = 1
	f := newFixture(t, cfg, nil, shadowRows(200, 150, true))
	ctx := context.Background()

	_, err := f.svc.TrainAnomaly(ctx, TrainAnomalyRequest{DeviceID: device, Contamination: 0.05})
	require.NoError(t, err)

	detected, err := f.svc.DetectAnomalies(ctx, DetectRequest{DeviceID: device})
	require.NoError(t, err)
	assert.Len(t, detected.Anomalies, 1)
	assert.Greater(t, detected.AnomaliesDetected, 1)
}

func TestService_TrainAnomalyErrors(t *testing.T) {
	tests := []struct {
		name string
		rows []domain.TelemetrySample
		req  TrainAnomalyRequest
		want error
	}{
		{"empty device", shadowRows(200, -1, true), TrainAnomalyRequest{DeviceID: " "}, domain.ErrInvalidConfiguration},
		{"device with slash", shadowRows(200, -1, true), TrainAnomalyRequest{DeviceID: "a/b"}, domain.ErrInvalidConfiguration},
		{"hours below range", shadowRows(200, -1, true), TrainAnomalyRequest{DeviceID: device, Hours: 12}, domain.ErrInvalidConfiguration},
		{"hours above range", shadowRows(200, -1, true), TrainAnomalyRequest{DeviceID: device, Hours: 721}, domain.ErrInvalidConfiguration},
		{"contamination too high", shadowRows(200, -1, true), TrainAnomalyRequest{DeviceID: device, Contamination: 0.6}, domain.ErrInvalidConfiguration},
		{"contamination too low", shadowRows(200, -1, true), TrainAnomalyRequest{DeviceID: device, Contamination: 0.0001}, domain.ErrInvalidConfiguration},
		{"too few rows", shadowRows(50, -1, true), TrainAnomalyRequest{DeviceID: device}, domain.ErrInsufficientData},
		{"single feature", shadowRows(200, -1, false), TrainAnomalyRequest{DeviceID: device}, domain.ErrInsufficientFeatures},
		{"no telemetry", nil, TrainAnomalyRequest{DeviceID: device}, domain.ErrEmptyWindow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig(), nil, tt.rows)
			_, err := f.svc.TrainAnomaly(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			_, err = f.models.Load(context.Background(), storage.AnomalyKey(device))
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestService_DetectWithoutModel(t *testing.T) {
	f := newFixture(t, testConfig(), nil, shadowRows(200, -1, true))

	_, err := f.svc.DetectAnomalies(context.Background(), DetectRequest{DeviceID: device})
	assert.ErrorIs(t, err, domain.ErrModelNotFound)
	assert.Equal(t, domain.KindModelNotFound, domain.KindOf(err))
}

func TestService_DetectHoursOutOfRange(t *testing.T) {
	f := newFixture(t, testConfig(), nil, shadowRows(200, -1, true))

	_, err := f.svc.DetectAnomalies(context.Background(), DetectRequest{DeviceID: device, Hours: 169})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

type failingSource struct {
	failing atomic.Bool
	storage.TelemetrySource
}

func (s *failingSource) FetchSamples(ctx context.Context, deviceID string, window time.Duration) ([]domain.TelemetrySample, error) {
	if s.failing.Load() {
		return nil, errors.New("connection refused")
	}
	return s.TelemetrySource.FetchSamples(ctx, deviceID, window)
}

func (s *failingSource) FetchFieldSeries(ctx context.Context, deviceID, path string, window time.Duration) ([]domain.ScalarPoint, error) {
	if s.failing.Load() {
		return nil, errors.New("connection refused")
	}
	return s.TelemetrySource.FetchFieldSeries(ctx, deviceID, path, window)
}

func TestService_TelemetryFailureIsCollaboratorFailure(t *testing.T) {
	src := &failingSource{}
	src.failing.Store(true)
	f := newFixture(t, testConfig(), src, nil)

	_, err := f.svc.TrainAnomaly(context.Background(), TrainAnomalyRequest{DeviceID: device})
	assert.ErrorIs(t, err, domain.ErrCollaboratorFailure)
	assert.False(t, domain.IsDomainError(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TelemetryFetchErrors.WithLabelValues("samples")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TrainingRunsTotal.WithLabelValues("isolation_forest", "error")))
}

func TestService_FailedRetrainKeepsPreviousModel(t *testing.T) {
	rows := shadowRows(200, -1, true)
	telemetry := memory.NewTelemetrySource().WithClock(func() time.Time { return t0.Add(200 * time.Minute) })
	require.NoError(t, telemetry.Insert(context.Background(), rows...))
	src := &failingSource{TelemetrySource: telemetry}
	f := newFixture(t, testConfig(), src, nil)
	ctx := context.Background()

	first, err := f.svc.TrainAnomaly(ctx, TrainAnomalyRequest{DeviceID: device})
	require.NoError(t, err)

	src.failing.Store(true)
	_, err = f.svc.TrainAnomaly(ctx, TrainAnomalyRequest{DeviceID: device})
	require.ErrorIs(t, err, domain.ErrCollaboratorFailure)

	info, err := f.svc.ModelInfo(ctx, ModelInfoRequest{DeviceID: device})
	require.NoError(t, err)
	assert.Equal(t, domain.StateTrained, info.State)
	assert.Equal(t, first.ModelID, info.Model.ModelID)
}

func TestService_TrainingTimeoutPersistsNothing(t *testing.T) {
	cfg := testConfig()
	cfg.Training.Timeout = time.Nanosecond
	f := newFixture(t, cfg, nil, shadowRows(200, -1, true))
	ctx := context.Background()

	_, err := f.svc.TrainAnomaly(ctx, TrainAnomalyRequest{DeviceID: device})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = f.svc.ModelInfo(ctx, ModelInfoRequest{DeviceID: device})
	assert.ErrorIs(t, err, domain.ErrModelNotFound)
	// Depending on where the deadline hit, the key was never tracked or went back to untrained.
	state, _ := f.svc.states.get(storage.AnomalyKey(device).String())
	assert.Contains(t, []domain.ModelState{"", domain.StateUntrained}, state)
}

func TestService_ModelInfo(t *testing.T) {
	f := newFixture(t, testConfig(), nil, shadowRows(200, -1, true))
	ctx := context.Background()

	_, err := f.svc.ModelInfo(ctx, ModelInfoRequest{DeviceID: device})
	assert.ErrorIs(t, err, domain.ErrModelNotFound)

	_, err = f.svc.ModelInfo(ctx, ModelInfoRequest{DeviceID: device, Field: "system..cpu"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	trained, err := f.svc.TrainAnomaly(ctx, TrainAnomalyRequest{DeviceID: device})
	require.NoError(t, err)

	info, err := f.svc.ModelInfo(ctx, ModelInfoRequest{DeviceID: device})
	require.NoError(t, err)
	assert.Equal(t, domain.ModelKindAnomaly, info.Kind)
	assert.Equal(t, domain.StateTrained, info.State)
	require.NotNil(t, info.Model)
	assert.Equal(t, trained.ModelID, info.Model.ModelID)
	assert.Equal(t, device, info.Model.DeviceID)
	assert.Equal(t, []string{"cpuUsage", "memoryUsagePercent"}, info.Model.FeatureNames)
}

func TestService_ModelInfoFromStoreAfterRestart(t *testing.T) {
	f := newFixture(t, testConfig(), nil, shadowRows(200, -1, true))
	ctx := context.Background()

	_, err := f.svc.TrainAnomaly(ctx, TrainAnomalyRequest{DeviceID: device})
	require.NoError(t, err)

	restarted, err := New(Options{
		Config:    testConfig(),
		Telemetry: f.telemetry,
		Models:    f.models,
		Metrics:   observability.NewMetrics("restart", prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	info, err := restarted.ModelInfo(ctx, ModelInfoRequest{DeviceID: device})
	require.NoError(t, err)
	assert.Equal(t, domain.StateTrained, info.State)

	_, err = restarted.DetectAnomalies(ctx, DetectRequest{DeviceID: device})
	require.NoError(t, err)
}

func sineShadow(n int) []domain.TelemetrySample {
	rows := make([]domain.TelemetrySample, n)
	for i := range rows {
		rows[i] = domain.TelemetrySample{
			DeviceID:  device,
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
			Metrics: map[string]any{"system": map[string]any{
				"cpuUsage": 50 + 10*math.Sin(float64(i)/10),
			}},
		}
	}
	return rows
}

func TestService_ForecastEndToEnd(t *testing.T) {
	f := newFixture(t, testConfig(), nil, sineShadow(120))
	ctx := context.Background()

	trained, err := f.svc.TrainForecast(ctx, TrainForecastRequest{DeviceID: device})
	require.NoError(t, err)
	assert.Equal(t, "system.cpuUsage", trained.Field)
	assert.Equal(t, 58, trained.TrainedSamples)
	assert.Equal(t, 50, trained.SequenceLength)
	assert.Equal(t, 12, trained.Horizon)
	assert.Positive(t, trained.EpochsRun)

	predicted, err := f.svc.PredictForecast(ctx, PredictForecastRequest{DeviceID: device, Field: "system.cpuUsage"})
	require.NoError(t, err)
	require.Len(t, predicted.Predictions, 12)
	assert.Equal(t, trained.ModelID, predicted.Model.ModelID)

	last := t0.Add(119 * time.Minute)
	for i, p := range predicted.Predictions {
		assert.Equal(t, last.Add(time.Duration(i+1)*time.Minute), p.Timestamp)
		assert.GreaterOrEqual(t, p.PredictedValue, 30.0)
		assert.LessOrEqual(t, p.PredictedValue, 70.0)
		assert.GreaterOrEqual(t, p.ConfidenceLower, 0.0)
		assert.LessOrEqual(t, p.ConfidenceLower, p.PredictedValue)
		assert.GreaterOrEqual(t, p.ConfidenceUpper, p.PredictedValue)
	}

	info, err := f.svc.ModelInfo(ctx, ModelInfoRequest{DeviceID: device, Field: "system.cpuUsage"})
	require.NoError(t, err)
	assert.Equal(t, domain.ModelKindForecast, info.Kind)
	assert.Equal(t, "system.cpuUsage", info.Model.Field)

	_, err = f.svc.ModelInfo(ctx, ModelInfoRequest{DeviceID: device})
	assert.ErrorIs(t, err, domain.ErrModelNotFound)
}

func TestService_ForecastErrors(t *testing.T) {
	f := newFixture(t, testConfig(), nil, sineShadow(40))
	ctx := context.Background()

	_, err := f.svc.TrainForecast(ctx, TrainForecastRequest{DeviceID: device})
	assert.ErrorIs(t, err, domain.ErrInsufficientData)

	_, err = f.svc.TrainForecast(ctx, TrainForecastRequest{DeviceID: device, Field: "system.$bad"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	_, err = f.svc.TrainForecast(ctx, TrainForecastRequest{DeviceID: device, Hours: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	_, err = f.svc.PredictForecast(ctx, PredictForecastRequest{DeviceID: device})
	assert.ErrorIs(t, err, domain.ErrModelNotFound)
}

func TestPredictWindowHours(t *testing.T) {
	assert.Equal(t, 2, predictWindowHours(50))
	assert.Equal(t, 2, predictWindowHours(60))
	assert.Equal(t, 3, predictWindowHours(120))
}
