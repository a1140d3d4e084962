package storage

import (
	"context"
	"time"

	"telemetry-ml/internal/domain"
)

// TelemetrySource supplies raw device telemetry. Implementations must return
// rows ascending by timestamp and must not retry internally.
type TelemetrySource interface {
	// FetchSamples returns reported-state rows for deviceID within the last window.
	FetchSamples(ctx context.Context, deviceID string, window time.Duration) ([]domain.TelemetrySample, error)

	// FetchFieldSeries returns the numeric values of the dotted metric path for
	// deviceID within the last window. Rows where the path is absent or
	// non-numeric are skipped.
	FetchFieldSeries(ctx context.Context, deviceID, path string, window time.Duration) ([]domain.ScalarPoint, error)
}

// ModelStore persists trained model artifacts.
type ModelStore interface {
	// Save writes model, scaler and metadata for key as one unit, replacing any
	// previous entry. Either all three artifacts are visible afterwards or none changed.
	Save(ctx context.Context, key ModelKey, a *Artifacts) error

	// Load returns the artifacts for key. Returns ErrNotFound if absent.
	Load(ctx context.Context, key ModelKey) (*Artifacts, error)

	// Delete removes every artifact of key. Returns ErrNotFound if absent.
	Delete(ctx context.Context, key ModelKey) error
}

// Pinger is implemented by backends that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}
