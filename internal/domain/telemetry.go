package domain

import "time"

// TelemetrySample is one raw reading of a device's reported state.
// Produced by the telemetry source; never mutated after read.
type TelemetrySample struct {
	DeviceID  string
	Timestamp time.Time
	Metrics   map[string]any // nested reported_state tree
}

// ScalarPoint is a single timestamped value of one metric path.
type ScalarPoint struct {
	Timestamp time.Time
	Value     float64
}

// FeatureVector is one row of the flat feature table.
// Names order is the column order of the table it came from.
type FeatureVector struct {
	DeviceID  string
	Timestamp time.Time
	Names     []string
	Values    []float64 // NaN marks a missing value
}

// Get returns the value of a named feature.
func (v FeatureVector) Get(name string) (float64, bool) {
	for i, n := range v.Names {
		if n == name {
			return v.Values[i], true
		}
	}
	return 0, false
}

// Sequence is one forecaster training pair.
type Sequence struct {
	X []float64 // L past values
	Y []float64 // H future values
}
