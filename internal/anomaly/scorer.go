// Package anomaly learns a device's normal multivariate behavior with an
// isolation forest and flags deviations.
package anomaly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"telemetry-ml/internal/domain"
	"telemetry-ml/internal/features"
	"telemetry-ml/internal/ml"
	"telemetry-ml/internal/ml/iforest"
	"telemetry-ml/internal/ml/numeric"
	"telemetry-ml/internal/ml/scaler"
	"telemetry-ml/internal/storage"
)

// Config holds the scorer parameters.
type Config struct {
	Contamination      float64
	NEstimators        int
	MaxSamples         int
	MinSamples         int
	CriticalPercentile float64 // batch percentile below which a row is critical
	Seed               int64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Contamination:      0.01,
		NEstimators:        100,
		MaxSamples:         256,
		MinSamples:         100,
		CriticalPercentile: 1,
		Seed:               42,
	}
}

// Validate checks the configuration ranges.
func (c Config) Validate() error {
	switch {
	case c.Contamination <= 0 || c.Contamination > 0.5:
		return fmt.Errorf("%w: contamination %v not in (0, 0.5]", domain.ErrInvalidConfiguration, c.Contamination)
	case c.NEstimators <= 0:
		return fmt.Errorf("%w: n_estimators must be positive", domain.ErrInvalidConfiguration)
	case c.MaxSamples <= 0:
		return fmt.Errorf("%w: max_samples must be positive", domain.ErrInvalidConfiguration)
	case c.MinSamples <= 0:
		return fmt.Errorf("%w: min_samples must be positive", domain.ErrInvalidConfiguration)
	case c.CriticalPercentile < 0 || c.CriticalPercentile > 100:
		return fmt.Errorf("%w: critical percentile %v not in [0, 100]", domain.ErrInvalidConfiguration, c.CriticalPercentile)
	}
	return nil
}

// Scorer is the anomaly variant of ml.Estimator.
type Scorer struct {
	cfg   Config
	store storage.ModelStore
	now   func() time.Time

	forest *iforest.Forest
	scaler *scaler.Standard
	info   *domain.ModelInfo
}

var _ ml.Estimator[*features.Table, []domain.AnomalyResult] = (*Scorer)(nil)

// NewScorer creates an untrained scorer persisting through store.
func NewScorer(store storage.ModelStore, cfg Config) *Scorer {
	return &Scorer{cfg: cfg, store: store, now: time.Now}
}

// Train standardizes the table and fits the forest. The table's column list
// becomes the model's canonical feature order.
func (s *Scorer) Train(ctx context.Context, table *features.Table) (domain.ModelInfo, error) {
	if err := s.cfg.Validate(); err != nil {
		return domain.ModelInfo{}, err
	}
	if table == nil || table.Len() == 0 {
		return domain.ModelInfo{}, fmt.Errorf("train anomaly model: %w", domain.ErrEmptyWindow)
	}
	if len(table.Names) < features.MinAnomalyFeatures {
		return domain.ModelInfo{}, fmt.Errorf("train anomaly model: %w: %d features %v, need %d",
			domain.ErrInsufficientFeatures, len(table.Names), table.Names, features.MinAnomalyFeatures)
	}
	if table.Len() < s.cfg.MinSamples {
		return domain.ModelInfo{}, fmt.Errorf("train anomaly model: %w: %d samples, need %d",
			domain.ErrInsufficientData, table.Len(), s.cfg.MinSamples)
	}

	sc, err := scaler.FitStandard(table.Rows)
	if err != nil {
		return domain.ModelInfo{}, fmt.Errorf("train anomaly model: %w", err)
	}
	scaled, err := sc.Transform(table.Rows)
	if err != nil {
		return domain.ModelInfo{}, fmt.Errorf("train anomaly model: %w", err)
	}

	forest, err := iforest.Fit(ctx, scaled, iforest.Config{
		NEstimators:   s.cfg.NEstimators,
		MaxSamples:    s.cfg.MaxSamples,
		Contamination: s.cfg.Contamination,
		Seed:          s.cfg.Seed,
	})
	if err != nil {
		return domain.ModelInfo{}, fmt.Errorf("train anomaly model: %w", err)
	}

	info := &domain.ModelInfo{
		SchemaVersion: domain.SchemaVersion,
		ModelID:       uuid.NewString(),
		Kind:          domain.ModelKindAnomaly,
		DeviceID:      table.DeviceID,
		TrainedAt:     s.now().UTC(),
		SampleCount:   table.Len(),
		FeatureNames:  append([]string(nil), table.Names...),
		Contamination: s.cfg.Contamination,
		NEstimators:   s.cfg.NEstimators,
		MaxSamples:    s.cfg.MaxSamples,
	}

	s.forest, s.scaler, s.info = forest, sc, info
	return *info, nil
}

// Predict scores every row of table. Severity is bucketed against the
// CriticalPercentile of this batch's scores.
func (s *Scorer) Predict(ctx context.Context, table *features.Table) ([]domain.AnomalyResult, error) {
	if s.info == nil {
		return nil, domain.ErrNotTrained
	}
	if table == nil || table.Len() == 0 {
		return nil, fmt.Errorf("detect anomalies: %w", domain.ErrEmptyWindow)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := table.Select(s.info.FeatureNames)
	if err != nil {
		return nil, err
	}
	scaled, err := s.scaler.Transform(rows)
	if err != nil {
		return nil, fmt.Errorf("detect anomalies: %w", err)
	}
	scores, err := s.forest.ScoreSamples(scaled)
	if err != nil {
		return nil, fmt.Errorf("detect anomalies: %w", err)
	}

	critical := numeric.Percentile(scores, s.cfg.CriticalPercentile)

	results := make([]domain.AnomalyResult, len(rows))
	for i, row := range rows {
		flagged := s.forest.IsAnomaly(scores[i])
		echoed := make(map[string]float64, len(row))
		for j, v := range row {
			if !math.IsNaN(v) {
				echoed[s.info.FeatureNames[j]] = v
			}
		}
		results[i] = domain.AnomalyResult{
			Timestamp:    table.Timestamps[i],
			IsAnomaly:    flagged,
			AnomalyScore: scores[i],
			Severity:     Severity(scores[i], flagged, critical),
			Features:     echoed,
		}
	}
	return results, nil
}

// Severity buckets one score: below the batch threshold is critical, other
// flagged rows are warnings.
func Severity(score float64, flagged bool, criticalThreshold float64) domain.Severity {
	switch {
	case score < criticalThreshold:
		return domain.SeverityCritical
	case flagged:
		return domain.SeverityWarning
	default:
		return domain.SeverityNormal
	}
}

// Info returns the metadata of the current model.
func (s *Scorer) Info() (domain.ModelInfo, error) {
	if s.info == nil {
		return domain.ModelInfo{}, domain.ErrNotTrained
	}
	return *s.info, nil
}

// Save persists forest, scaler and metadata under the device's anomaly key.
func (s *Scorer) Save(ctx context.Context, deviceID string) error {
	if s.info == nil {
		return domain.ErrNotTrained
	}
	key := storage.AnomalyKey(deviceID)

	info := *s.info
	info.DeviceID = deviceID

	a := &storage.Artifacts{}
	var err error
	if a.Model, err = json.Marshal(s.forest); err != nil {
		return fmt.Errorf("encode %s model: %w", key, err)
	}
	if a.Scaler, err = json.Marshal(s.scaler); err != nil {
		return fmt.Errorf("encode %s scaler: %w", key, err)
	}
	if a.Metadata, err = json.Marshal(info); err != nil {
		return fmt.Errorf("encode %s metadata: %w", key, err)
	}

	if err := s.store.Save(ctx, key, a); err != nil {
		return fmt.Errorf("save %s: %w: %w", key, domain.ErrCollaboratorFailure, err)
	}
	s.info = &info
	return nil
}

// Load reads the device's anomaly model back from the store.
func (s *Scorer) Load(ctx context.Context, deviceID string) error {
	key := storage.AnomalyKey(deviceID)
	a, err := s.store.Load(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load %s: %w", key, domain.ErrModelNotFound)
	}
	if err != nil {
		return fmt.Errorf("load %s: %w: %w", key, domain.ErrCollaboratorFailure, err)
	}

	var info domain.ModelInfo
	if err := json.Unmarshal(a.Metadata, &info); err != nil {
		return fmt.Errorf("decode %s metadata: %w: %w", key, domain.ErrIncompatibleModel, err)
	}
	if info.SchemaVersion != domain.SchemaVersion || info.Kind != domain.ModelKindAnomaly {
		return fmt.Errorf("load %s: %w: schema %d kind %q", key, domain.ErrIncompatibleModel, info.SchemaVersion, info.Kind)
	}

	var forest iforest.Forest
	if err := json.Unmarshal(a.Model, &forest); err != nil {
		return fmt.Errorf("decode %s model: %w: %w", key, domain.ErrIncompatibleModel, err)
	}
	var sc scaler.Standard
	if err := json.Unmarshal(a.Scaler, &sc); err != nil {
		return fmt.Errorf("decode %s scaler: %w: %w", key, domain.ErrIncompatibleModel, err)
	}

	if err := forest.Validate(); err != nil {
		return fmt.Errorf("load %s: %w: %w", key, domain.ErrIncompatibleModel, err)
	}
	if forest.NumFeatures != len(info.FeatureNames) {
		return fmt.Errorf("load %s: %w: forest has %d features, metadata lists %d",
			key, domain.ErrIncompatibleModel, forest.NumFeatures, len(info.FeatureNames))
	}
	if err := sc.Validate(len(info.FeatureNames)); err != nil {
		return fmt.Errorf("load %s: %w: %w", key, domain.ErrIncompatibleModel, err)
	}

	s.forest, s.scaler, s.info = &forest, &sc, &info
	return nil
}
