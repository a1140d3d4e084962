// Package forecast predicts the next values of a single device metric with a
// stacked LSTM network.
package forecast

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
	"telemetry-ml/internal/ml/nn"
	"telemetry-ml/internal/ml/numeric"
	"telemetry-ml/internal/ml/scaler"
	"telemetry-ml/internal/storage"
)

// Config holds the network shape and training parameters.
type Config struct {
	SequenceLength  int
	Horizon         int
	LSTMUnits       []int
	DenseUnits      int
	Dropout         float64
	Epochs          int
	BatchSize       int
	Patience        int
	LearningRate    float64
	ClipNorm        float64
	ValidationSplit float64
	MinWindows      int
	StepInterval    time.Duration
	ConfidenceZ     float64
	Seed            int64
	Workers         int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SequenceLength:  50,
		Horizon:         12,
		LSTMUnits:       []int{128, 64},
		DenseUnits:      32,
		Dropout:         0.2,
		Epochs:          50,
		BatchSize:       32,
		Patience:        5,
		LearningRate:    0.001,
		ClipNorm:        5,
		ValidationSplit: 0.2,
		MinWindows:      100,
		StepInterval:    60 * time.Second,
		ConfidenceZ:     1.96,
		Seed:            42,
	}
}

// Validate checks the configuration ranges.
func (c Config) Validate() error {
	switch {
	case c.SequenceLength <= 0 || c.Horizon <= 0:
		return fmt.Errorf("%w: sequence length and horizon must be positive", domain.ErrInvalidConfiguration)
	case c.Epochs <= 0 || c.BatchSize <= 0 || c.LearningRate <= 0:
		return fmt.Errorf("%w: epochs, batch size and learning rate must be positive", domain.ErrInvalidConfiguration)
	case c.ValidationSplit < 0 || c.ValidationSplit >= 1:
		return fmt.Errorf("%w: validation split %v not in [0, 1)", domain.ErrInvalidConfiguration, c.ValidationSplit)
	case c.MinWindows <= 0:
		return fmt.Errorf("%w: min windows must be positive", domain.ErrInvalidConfiguration)
	case c.StepInterval <= 0:
		return fmt.Errorf("%w: step interval must be positive", domain.ErrInvalidConfiguration)
	case c.ConfidenceZ < 0:
		return fmt.Errorf("%w: confidence z must not be negative", domain.ErrInvalidConfiguration)
	}
	if err := c.architecture().Validate(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, err)
	}
	return nil
}

func (c Config) architecture() nn.Architecture {
	return nn.Architecture{
		SeqLen:     c.SequenceLength,
		InputSize:  1,
		LSTMUnits:  c.LSTMUnits,
		DenseUnits: c.DenseUnits,
		Outputs:    c.Horizon,
		Dropout:    c.Dropout,
	}
}

// Forecaster is the forecast variant of ml.Estimator for one metric field.
type Forecaster struct {
	cfg   Config
	store storage.ModelStore
	field string
	now   func() time.Time

	net     *nn.Network
	scaler  *scaler.MinMax
	info    *domain.ModelInfo
	history *nn.History
}

var _ ml.Estimator[[]domain.ScalarPoint, []domain.ForecastResult] = (*Forecaster)(nil)

// NewForecaster creates an untrained forecaster for field.
func NewForecaster(store storage.ModelStore, field string, cfg Config) *Forecaster {
	return &Forecaster{cfg: cfg, store: store, field: field, now: time.Now}
}

// Field returns the dotted metric path this forecaster models.
func (f *Forecaster) Field() string {
	return f.field
}

// History returns the epoch log of the last Train call, nil after Load.
func (f *Forecaster) History() *nn.History {
	return f.history
}

// Train fits the scaler and network on series. Windows are split in time
// order; the last ValidationSplit fraction drives early stopping.
func (f *Forecaster) Train(ctx context.Context, series []domain.ScalarPoint) (domain.ModelInfo, error) {
	if err := f.cfg.Validate(); err != nil {
		return domain.ModelInfo{}, err
	}

	values := make([]float64, len(series))
	for i, p := range series {
		values[i] = p.Value
	}

	count := features.WindowCount(len(values), f.cfg.SequenceLength, f.cfg.Horizon)
	if count < f.cfg.MinWindows {
		return domain.ModelInfo{}, fmt.Errorf("train forecast model for %s: %w: %d points give %d windows, need %d",
			f.field, domain.ErrInsufficientData, len(values), count, f.cfg.MinWindows)
	}

	mm, err := scaler.FitMinMax(values)
	if err != nil {
		return domain.ModelInfo{}, fmt.Errorf("train forecast model for %s: %w", f.field, err)
	}
	windows := features.Windows(mm.Transform(values), f.cfg.SequenceLength, f.cfg.Horizon)

	examples := make([]nn.Example, len(windows))
	for i, w := range windows {
		examples[i] = nn.Example{X: w.X, Y: w.Y}
	}
	split := trainCount(len(examples), f.cfg.ValidationSplit)
	train, val := examples[:split], examples[split:]

	net, err := nn.New(f.cfg.architecture(), f.cfg.Seed)
	if err != nil {
		return domain.ModelInfo{}, fmt.Errorf("train forecast model for %s: %w: %w", f.field, domain.ErrInvalidConfiguration, err)
	}
	hist, err := net.Fit(ctx, train, val, nn.TrainConfig{
		Epochs:       f.cfg.Epochs,
		BatchSize:    f.cfg.BatchSize,
		Patience:     f.cfg.Patience,
		LearningRate: f.cfg.LearningRate,
		ClipNorm:     f.cfg.ClipNorm,
		Seed:         f.cfg.Seed,
		Workers:      f.cfg.Workers,
	}, nil)
	if err != nil {
		return domain.ModelInfo{}, fmt.Errorf("train forecast model for %s: %w", f.field, err)
	}

	last := hist.Epochs[len(hist.Epochs)-1]
	info := &domain.ModelInfo{
		SchemaVersion:   domain.SchemaVersion,
		ModelID:         uuid.NewString(),
		Kind:            domain.ModelKindForecast,
		Field:           f.field,
		TrainedAt:       f.now().UTC(),
		SampleCount:     len(examples),
		SequenceLength:  f.cfg.SequenceLength,
		ForecastHorizon: f.cfg.Horizon,
		EpochsRun:       len(hist.Epochs),
		TrainLoss:       last.TrainLoss,
		ValidationLoss:  hist.BestLoss,
	}

	f.net, f.scaler, f.info, f.history = net, mm, info, hist
	return *info, nil
}

// Predict forecasts Horizon points after the last sample of series from its
// final SequenceLength values. The confidence band is a constant
// ±z·std(window) for every step, lower bound clamped at 0.
func (f *Forecaster) Predict(ctx context.Context, series []domain.ScalarPoint) ([]domain.ForecastResult, error) {
	if f.info == nil {
		return nil, domain.ErrNotTrained
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seqLen := f.info.SequenceLength
	if len(series) < seqLen {
		return nil, fmt.Errorf("predict %s: %w: need %d recent points, got %d",
			f.field, domain.ErrInsufficientData, seqLen, len(series))
	}

	recent := series[len(series)-seqLen:]
	raw := make([]float64, seqLen)
	for i, p := range recent {
		raw[i] = p.Value
	}

	scaled, err := f.net.Predict(f.scaler.Transform(raw))
	if err != nil {
		return nil, fmt.Errorf("predict %s: %w", f.field, err)
	}
	predicted := f.scaler.Inverse(scaled)

	band := f.cfg.ConfidenceZ * numeric.SampleStdDev(raw)
	last := recent[seqLen-1].Timestamp

	results := make([]domain.ForecastResult, len(predicted))
	for i, v := range predicted {
		results[i] = domain.ForecastResult{
			Timestamp:       last.Add(time.Duration(i+1) * f.cfg.StepInterval),
			PredictedValue:  v,
			ConfidenceLower: math.Max(0, v-band),
			ConfidenceUpper: v + band,
		}
	}
	return results, nil
}

// Info returns the metadata of the current model.
func (f *Forecaster) Info() (domain.ModelInfo, error) {
	if f.info == nil {
		return domain.ModelInfo{}, domain.ErrNotTrained
	}
	return *f.info, nil
}

// Save persists network, scaler and metadata under the (device, field) key.
func (f *Forecaster) Save(ctx context.Context, deviceID string) error {
	if f.info == nil {
		return domain.ErrNotTrained
	}
	key := storage.ForecastKey(deviceID, f.field)

	info := *f.info
	info.DeviceID = deviceID

	a := &storage.Artifacts{}
	var err error
	if a.Model, err = json.Marshal(f.net); err != nil {
		return fmt.Errorf("encode %s model: %w", key, err)
	}
	if a.Scaler, err = json.Marshal(f.scaler); err != nil {
		return fmt.Errorf("encode %s scaler: %w", key, err)
	}
	if a.Metadata, err = json.Marshal(info); err != nil {
		return fmt.Errorf("encode %s metadata: %w", key, err)
	}

	if err := f.store.Save(ctx, key, a); err != nil {
		return fmt.Errorf("save %s: %w: %w", key, domain.ErrCollaboratorFailure, err)
	}
	f.info = &info
	return nil
}

// Load reads the (device, field) model back from the store.
func (f *Forecaster) Load(ctx context.Context, deviceID string) error {
	key := storage.ForecastKey(deviceID, f.field)
	a, err := f.store.Load(ctx, key)
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
	if info.SchemaVersion != domain.SchemaVersion || info.Kind != domain.ModelKindForecast {
		return fmt.Errorf("load %s: %w: schema %d kind %q", key, domain.ErrIncompatibleModel, info.SchemaVersion, info.Kind)
	}
	if info.Field != f.field {
		return fmt.Errorf("load %s: %w: stored field %q", key, domain.ErrIncompatibleModel, info.Field)
	}

	var net nn.Network
	if err := json.Unmarshal(a.Model, &net); err != nil {
		return fmt.Errorf("decode %s model: %w: %w", key, domain.ErrIncompatibleModel, err)
	}
	var mm scaler.MinMax
	if err := json.Unmarshal(a.Scaler, &mm); err != nil {
		return fmt.Errorf("decode %s scaler: %w: %w", key, domain.ErrIncompatibleModel, err)
	}

	if err := net.Validate(); err != nil {
		return fmt.Errorf("load %s: %w: %w", key, domain.ErrIncompatibleModel, err)
	}
	if net.Arch.SeqLen != info.SequenceLength || net.Arch.Outputs != info.ForecastHorizon {
		return fmt.Errorf("load %s: %w: network shape %d->%d, metadata %d->%d", key, domain.ErrIncompatibleModel,
			net.Arch.SeqLen, net.Arch.Outputs, info.SequenceLength, info.ForecastHorizon)
	}
	if err := mm.Validate(); err != nil {
		return fmt.Errorf("load %s: %w: %w", key, domain.ErrIncompatibleModel, err)
	}

	f.net, f.scaler, f.info, f.history = &net, &mm, &info, nil
	return nil
}

// trainCount is how many of n time-ordered windows go to training; the rest
// validate. The count truncates and keeps at least one training window.
func trainCount(n int, validationSplit float64) int {
	split := int(float64(n) * (1 - validationSplit))
	if split < 1 {
		split = 1
	}
	return split
}
