package domain

import "time"

// Severity buckets an anomaly score relative to its scoring batch.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AnomalyResult is the classification of one feature vector.
type AnomalyResult struct {
	Timestamp    time.Time          `json:"timestamp"`
	IsAnomaly    bool               `json:"isAnomaly"`
	AnomalyScore float64            `json:"anomalyScore"` // lower = more anomalous
	Severity     Severity           `json:"severity"`
	Features     map[string]float64 `json:"features"`
}

// ForecastResult is one predicted future point.
type ForecastResult struct {
	Timestamp       time.Time `json:"timestamp"`
	PredictedValue  float64   `json:"predictedValue"`
	ConfidenceLower float64   `json:"confidenceLower"` // never below 0
	ConfidenceUpper float64   `json:"confidenceUpper"`
}
