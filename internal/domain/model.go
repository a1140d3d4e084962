package domain

import "time"

// ModelKind identifies the model family persisted under a key.
type ModelKind string

const (
	ModelKindAnomaly  ModelKind = "isolation_forest"
	ModelKindForecast ModelKind = "lstm"
)

// SchemaVersion is bumped whenever the persisted artifact layout changes.
const SchemaVersion = 1

// ModelState is the lifecycle state of a (device, kind[, field]) key.
type ModelState string

const (
	StateUntrained  ModelState = "untrained"
	StateTraining   ModelState = "training"
	StateTrained    ModelState = "trained"
	StateRetraining ModelState = "retraining"
)

// ModelInfo is the metadata persisted alongside every model artifact.
type ModelInfo struct {
	SchemaVersion int       `json:"schemaVersion"`
	ModelID       string    `json:"modelId"`
	Kind          ModelKind `json:"kind"`
	DeviceID      string    `json:"deviceId"`
	Field         string    `json:"field,omitempty"`
	TrainedAt     time.Time `json:"trainedAt"`
	SampleCount   int       `json:"sampleCount"`

	// Anomaly models
	FeatureNames  []string `json:"featureNames,omitempty"`
	Contamination float64  `json:"contamination,omitempty"`
	NEstimators   int      `json:"nEstimators,omitempty"`
	MaxSamples    int      `json:"maxSamples,omitempty"`

	// Forecast models
	SequenceLength  int     `json:"sequenceLength,omitempty"`
	ForecastHorizon int     `json:"forecastHorizon,omitempty"`
	EpochsRun       int     `json:"epochsRun,omitempty"`
	TrainLoss       float64 `json:"trainLoss,omitempty"`
	ValidationLoss  float64 `json:"validationLoss,omitempty"`
}
