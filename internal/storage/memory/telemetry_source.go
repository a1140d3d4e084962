package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"telemetry-ml/internal/domain"
	"telemetry-ml/internal/features"
	"telemetry-ml/internal/storage"
)

// TelemetrySource is an in-memory implementation of storage.TelemetrySource.
type TelemetrySource struct {
	mu   sync.RWMutex
	data map[string][]domain.TelemetrySample // keyed by device_id
	now  func() time.Time
}

// NewTelemetrySource creates an empty in-memory telemetry source.
func NewTelemetrySource() *TelemetrySource {
	return &TelemetrySource{
		data: make(map[string][]domain.TelemetrySample),
		now:  time.Now,
	}
}

// WithClock overrides the reference time used for window queries.
func (s *TelemetrySource) WithClock(now func() time.Time) *TelemetrySource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// Insert appends samples. Samples without a device id are rejected.
func (s *TelemetrySource) Insert(_ context.Context, samples ...domain.TelemetrySample) error {
	for _, sm := range samples {
		if sm.DeviceID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sm := range samples {
		s.data[sm.DeviceID] = append(s.data[sm.DeviceID], sm)
	}
	return nil
}

// FetchSamples returns samples of deviceID newer than now-window, ordered by timestamp ASC.
func (s *TelemetrySource) FetchSamples(ctx context.Context, deviceID string, window time.Duration) ([]domain.TelemetrySample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	since := s.now().Add(-window)
	var result []domain.TelemetrySample
	for _, sm := range s.data[deviceID] {
		if !sm.Timestamp.Before(since) {
			result = append(result, sm)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})

	return result, nil
}

// FetchFieldSeries returns numeric values of path for deviceID newer than now-window.
func (s *TelemetrySource) FetchFieldSeries(ctx context.Context, deviceID, path string, window time.Duration) ([]domain.ScalarPoint, error) {
	samples, err := s.FetchSamples(ctx, deviceID, window)
	if err != nil {
		return nil, err
	}

	var result []domain.ScalarPoint
	for _, sm := range samples {
		if v, ok := features.Lookup(sm.Metrics, path); ok {
			result = append(result, domain.ScalarPoint{Timestamp: sm.Timestamp, Value: v})
		}
	}
	return result, nil
}

// Ping always succeeds.
func (s *TelemetrySource) Ping(_ context.Context) error {
	return nil
}

var (
	_ storage.TelemetrySource = (*TelemetrySource)(nil)
	_ storage.Pinger          = (*TelemetrySource)(nil)
)
