package scaler

import (
	"fmt"
	"math"
)

// MinMax maps a scalar series onto [0, 1].
type MinMax struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Scale float64 `json:"scale"`
}

// FitMinMax fits the scaler over values. A constant series gets scale 1.
func FitMinMax(values []float64) (*MinMax, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("fit min-max scaler: no values")
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("fit min-max scaler: non-finite value %v", v)
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	scale := 1.0
	if hi > lo {
		scale = 1 / (hi - lo)
	}
	return &MinMax{Min: lo, Max: hi, Scale: scale}, nil
}

// Transform scales values into the fitted range.
func (m *MinMax) Transform(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = (v - m.Min) * m.Scale
	}
	return out
}

// Inverse maps scaled values back to the original units.
func (m *MinMax) Inverse(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v/m.Scale + m.Min
	}
	return out
}

// Validate checks the parameters read back from storage.
func (m *MinMax) Validate() error {
	if m.Scale <= 0 || math.IsNaN(m.Scale) || math.IsInf(m.Scale, 0) {
		return fmt.Errorf("min-max scaler: invalid scale %v", m.Scale)
	}
	return nil
}
