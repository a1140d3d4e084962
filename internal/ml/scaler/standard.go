// Package scaler provides the fitted normalization transforms persisted with each model.
package scaler

import (
	"fmt"
	"math"

	"telemetry-ml/internal/ml/numeric"
)

// Standard standardizes each column to zero mean and unit variance.
// Columns with zero variance keep a scale of 1.
type Standard struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitStandard computes per-column mean and population std. NaN cells are ignored.
func FitStandard(rows [][]float64) (*Standard, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("fit standard scaler: no rows")
	}
	cols := len(rows[0])
	s := &Standard{Mean: make([]float64, cols), Scale: make([]float64, cols)}

	column := make([]float64, 0, len(rows))
	for j := 0; j < cols; j++ {
		column = column[:0]
		for i, row := range rows {
			if len(row) != cols {
				return nil, fmt.Errorf("fit standard scaler: row %d has %d columns, want %d", i, len(row), cols)
			}
			column = append(column, row[j])
		}
		finite := numeric.FiniteValues(column)
		if len(finite) == 0 {
			s.Mean[j], s.Scale[j] = 0, 1
			continue
		}
		mean, std := numeric.PopMeanStdDev(finite)
		if std == 0 {
			std = 1
		}
		s.Mean[j], s.Scale[j] = mean, std
	}
	return s, nil
}

// Transform returns standardized copies of rows. Missing (NaN) cells map to 0,
// the standardized column mean.
func (s *Standard) Transform(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(s.Mean) {
			return nil, fmt.Errorf("standard scaler: row %d has %d columns, want %d", i, len(row), len(s.Mean))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			if math.IsNaN(v) {
				continue
			}
			scaled[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = scaled
	}
	return out, nil
}

// Validate checks the parameters read back from storage.
func (s *Standard) Validate(cols int) error {
	if len(s.Mean) != cols || len(s.Scale) != cols {
		return fmt.Errorf("standard scaler: %d/%d parameters for %d features", len(s.Mean), len(s.Scale), cols)
	}
	for j, sc := range s.Scale {
		if sc == 0 || math.IsNaN(sc) {
			return fmt.Errorf("standard scaler: invalid scale at column %d", j)
		}
	}
	return nil
}
