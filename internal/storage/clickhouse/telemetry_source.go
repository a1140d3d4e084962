package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"telemetry-ml/internal/domain"
	"telemetry-ml/internal/features"
	"telemetry-ml/internal/storage"
)

// TelemetrySource implements storage.TelemetrySource over device_telemetry.
type TelemetrySource struct {
	conn *Conn
	now  func() time.Time
}

// NewTelemetrySource creates a new TelemetrySource.
func NewTelemetrySource(conn *Conn) *TelemetrySource {
	return &TelemetrySource{conn: conn, now: time.Now}
}

// Compile-time interface check.
var _ storage.TelemetrySource = (*TelemetrySource)(nil)

// Insert appends samples in a single batch.
func (s *TelemetrySource) Insert(ctx context.Context, samples []domain.TelemetrySample) error {
	if len(samples) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO device_telemetry (device_uuid, timestamp, reported_state)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, sm := range samples {
		if sm.DeviceID == "" {
			return storage.ErrInvalidInput
		}
		state, err := json.Marshal(sm.Metrics)
		if err != nil {
			return fmt.Errorf("encode reported_state: %w", err)
		}
		if err := batch.Append(sm.DeviceID, sm.Timestamp.UTC(), string(state)); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// FetchSamples returns rows with a system subtree newer than now-window, ordered by timestamp ASC.
func (s *TelemetrySource) FetchSamples(ctx context.Context, deviceID string, window time.Duration) ([]domain.TelemetrySample, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT timestamp, reported_state
		FROM device_telemetry
		WHERE device_uuid = ?
		  AND timestamp >= ?
		  AND JSONHas(reported_state, 'system')
		ORDER BY timestamp ASC
	`, deviceID, s.now().Add(-window).UTC())
	if err != nil {
		return nil, fmt.Errorf("query device_telemetry: %w", err)
	}
	defer rows.Close()

	var result []domain.TelemetrySample
	for rows.Next() {
		var (
			ts  time.Time
			raw string
		)
		if err := rows.Scan(&ts, &raw); err != nil {
			return nil, fmt.Errorf("scan telemetry row: %w", err)
		}
		var state map[string]any
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return nil, fmt.Errorf("decode reported_state at %s: %w", ts, err)
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
// The path is resolved server side with JSONExtract.
func (s *TelemetrySource) FetchFieldSeries(ctx context.Context, deviceID, path string, window time.Duration) ([]domain.ScalarPoint, error) {
	if !features.ValidPath(path) {
		return nil, fmt.Errorf("%w: field path %q", storage.ErrInvalidInput, path)
	}

	segments := features.SplitPath(path)
	args := make([]any, 0, len(segments)+2)
	for _, seg := range segments {
		args = append(args, seg)
	}
	args = append(args, deviceID, s.now().Add(-window).UTC())

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(segments)), ", ")
	query := fmt.Sprintf(`
		SELECT timestamp, JSONExtract(reported_state, %s, 'Nullable(Float64)') AS value
		FROM device_telemetry
		WHERE device_uuid = ?
		  AND timestamp >= ?
		ORDER BY timestamp ASC
	`, placeholders)

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query field series: %w", err)
	}
	defer rows.Close()

	var result []domain.ScalarPoint
	for rows.Next() {
		var (
			ts    time.Time
			value *float64
		)
		if err := rows.Scan(&ts, &value); err != nil {
			return nil, fmt.Errorf("scan field row: %w", err)
		}
		if value == nil || math.IsNaN(*value) || math.IsInf(*value, 0) {
			continue
		}
		result = append(result, domain.ScalarPoint{Timestamp: ts.UTC(), Value: *value})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate field rows: %w", err)
	}

	return result, nil
}

// Ping checks the ClickHouse connection.
func (s *TelemetrySource) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

var _ storage.Pinger = (*TelemetrySource)(nil)
