package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"telemetry-ml/internal/domain"
	"telemetry-ml/internal/features"
	"telemetry-ml/internal/storage"
)

// TelemetrySource implements storage.TelemetrySource over device_shadow_history.
type TelemetrySource struct {
	pool *Pool
	now  func() time.Time
}

// NewTelemetrySource creates a new TelemetrySource.
func NewTelemetrySource(pool *Pool) *TelemetrySource {
	return &TelemetrySource{pool: pool, now: time.Now}
}

// Compile-time interface check.
var _ storage.TelemetrySource = (*TelemetrySource)(nil)

// Insert bulk-loads samples with COPY.
func (s *TelemetrySource) Insert(ctx context.Context, samples []domain.TelemetrySample) error {
	if len(samples) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(samples))
	for _, sm := range samples {
		if sm.DeviceID == "" {
			return storage.ErrInvalidInput
		}
		state, err := json.Marshal(sm.Metrics)
		if err != nil {
			return fmt.Errorf("encode reported_state: %w", err)
		}
		rows = append(rows, []any{sm.DeviceID, sm.Timestamp.UTC(), state})
	}

	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"device_shadow_history"},
		[]string{"device_id", "timestamp", "reported_state"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy device_shadow_history: %w", err)
	}
	return nil
}

// FetchSamples returns rows with a system subtree newer than now-window, ordered by timestamp ASC.
func (s *TelemetrySource) FetchSamples(ctx context.Context, deviceID string, window time.Duration) ([]domain.TelemetrySample, error) {
	query := `
		SELECT timestamp, reported_state
		FROM device_shadow_history
		WHERE device_id = $1
		  AND timestamp >= $2
		  AND reported_state ? 'system'
		ORDER BY timestamp ASC
	`

	rows, err := s.pool.Query(ctx, query, deviceID, s.now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("query device_shadow_history: %w", err)
	}
	defer rows.Close()

	var result []domain.TelemetrySample
	for rows.Next() {
		var (
			ts    time.Time
			state map[string]any
		)
		if err := rows.Scan(&ts, &state); err != nil {
			return nil, fmt.Errorf("scan telemetry row: %w", err)
		}
		result = append(result, domain.TelemetrySample{
			DeviceID:  deviceID,
			Timestamp: ts.UTC(),
			Metrics:   state,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate telemetry rows: %w", err)
	}

	return result, nil
}

// FetchFieldSeries returns numeric values of a dotted path newer than now-window.
func (s *TelemetrySource) FetchFieldSeries(ctx context.Context, deviceID, path string, window time.Duration) ([]domain.ScalarPoint, error) {
	if !features.ValidPath(path) {
		return nil, fmt.Errorf("%w: field path %q", storage.ErrInvalidInput, path)
	}

	query := `
		SELECT timestamp, reported_state #>> $3::text[]
		FROM device_shadow_history
		WHERE device_id = $1
		  AND timestamp >= $2
		  AND reported_state #>> $3::text[] IS NOT NULL
		ORDER BY timestamp ASC
	`

	rows, err := s.pool.Query(ctx, query, deviceID, s.now().Add(-window), features.SplitPath(path))
	if err != nil {
		return nil, fmt.Errorf("query field series: %w", err)
	}
	defer rows.Close()

	var result []domain.ScalarPoint
	for rows.Next() {
		var (
			ts  time.Time
			raw string
		)
		if err := rows.Scan(&ts, &raw); err != nil {
			return nil, fmt.Errorf("scan field row: %w", err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		result = append(result, domain.ScalarPoint{Timestamp: ts.UTC(), Value: v})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate field rows: %w", err)
	}

	return result, nil
}

// Ping checks the database connection.
func (s *TelemetrySource) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var _ storage.Pinger = (*TelemetrySource)(nil)
