// Package features turns raw telemetry rows into the numeric inputs of the models:
// a flat feature table for the anomaly scorer and sliding windows for the forecaster.
package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"telemetry-ml/internal/domain"
)

// Spec describes one candidate feature. Either Path is set, or Numerator and
// Denominator are, in which case the value is Numerator/Denominator*100.
type Spec struct {
	Name        string
	Path        string
	Numerator   string
	Denominator string
	Required    bool // rows without this value are dropped
}

func (s Spec) extract(tree map[string]any) (float64, bool) {
	if s.Path != "" {
		return Lookup(tree, s.Path)
	}
	num, ok := Lookup(tree, s.Numerator)
	if !ok {
		return 0, false
	}
	den, ok := Lookup(tree, s.Denominator)
	if !ok || den == 0 {
		return 0, false
	}
	return num / den * 100, true
}

// DefaultSpecs is the candidate feature list for device shadows, in column order.
var DefaultSpecs = []Spec{
	{Name: "cpuUsage", Path: "system.cpuUsage", Required: true},
	{Name: "memoryUsagePercent", Numerator: "system.memoryUsage", Denominator: "system.memoryTotal"},
	{Name: "diskUsagePercent", Numerator: "system.diskUsage", Denominator: "system.diskTotal"},
	{Name: "uptime", Path: "health.uptime"},
	{Name: "temperature", Path: "system.temperature"},
}

// MinAnomalyFeatures is the smallest usable feature count for anomaly scoring.
const MinAnomalyFeatures = 2

// Table is a time-ordered feature matrix. Missing cells are NaN.
type Table struct {
	DeviceID   string
	Names      []string
	Timestamps []time.Time
	Rows       [][]float64
}

// Len returns the row count.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Has reports whether name is a column of the table.
func (t *Table) Has(name string) bool {
	return t.index(name) >= 0
}

func (t *Table) index(name string) int {
	for i, n := range t.Names {
		if n == name {
			return i
		}
	}
	return -1
}

// Select returns the rows projected onto names, in that order. Every name must
// be a column of the table, else ErrFeatureMismatch.
func (t *Table) Select(names []string) ([][]float64, error) {
	idx := make([]int, len(names))
	var missing []string
	for i, name := range names {
		idx[i] = t.index(name)
		if idx[i] < 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing features %v (have %v)", domain.ErrFeatureMismatch, missing, t.Names)
	}

	out := make([][]float64, len(t.Rows))
	for r, row := range t.Rows {
		projected := make([]float64, len(names))
		for i, j := range idx {
			projected[i] = row[j]
		}
		out[r] = projected
	}
	return out, nil
}

// Vector returns row r as a FeatureVector.
func (t *Table) Vector(r int) domain.FeatureVector {
	values := make([]float64, len(t.Names))
	copy(values, t.Rows[r])
	return domain.FeatureVector{
		DeviceID:  t.DeviceID,
		Timestamp: t.Timestamps[r],
		Names:     t.Names,
		Values:    values,
	}
}

// Builder extracts a Table from raw telemetry samples.
type Builder struct {
	specs []Spec
}

// NewBuilder creates a Builder over specs. Nil specs means DefaultSpecs.
func NewBuilder(specs []Spec) *Builder {
	if specs == nil {
		specs = DefaultSpecs
	}
	return &Builder{specs: specs}
}

// Specs returns the candidate feature specs in column order.
func (b *Builder) Specs() []Spec {
	return b.specs
}

// Build extracts every candidate feature per row, drops rows missing a
// required feature and keeps the columns that have at least one value.
// Column order follows b.Specs(). Returns ErrEmptyWindow if no row survives.
func (b *Builder) Build(deviceID string, samples []domain.TelemetrySample) (*Table, error) {
	sorted := make([]domain.TelemetrySample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var (
		timestamps []time.Time
		rows       [][]float64
	)
	present := make([]bool, len(b.specs))

	for _, s := range sorted {
		row := make([]float64, len(b.specs))
		keep := true
		for i, spec := range b.specs {
			v, ok := spec.extract(s.Metrics)
			if !ok {
				if spec.Required {
					keep = false
					break
				}
				row[i] = math.NaN()
				continue
			}
			row[i] = v
		}
		if !keep {
			continue
		}
		for i, v := range row {
			if !math.IsNaN(v) {
				present[i] = true
			}
		}
		timestamps = append(timestamps, s.Timestamp)
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: device %s has no usable telemetry rows", domain.ErrEmptyWindow, deviceID)
	}

	var cols []int
	t := &Table{DeviceID: deviceID, Timestamps: timestamps}
	for i, spec := range b.specs {
		if present[i] {
			cols = append(cols, i)
			t.Names = append(t.Names, spec.Name)
		}
	}
	t.Rows = make([][]float64, len(rows))
	for r, row := range rows {
		projected := make([]float64, len(cols))
		for k, i := range cols {
			projected[k] = row[i]
		}
		t.Rows[r] = projected
	}
	return t, nil
}

// BuildForAnomaly is Build plus the anomaly-path requirement of at least
// MinAnomalyFeatures usable columns.
func (b *Builder) BuildForAnomaly(deviceID string, samples []domain.TelemetrySample) (*Table, error) {
	t, err := b.Build(deviceID, samples)
	if err != nil {
		return nil, err
	}
	if len(t.Names) < MinAnomalyFeatures {
		return nil, fmt.Errorf("%w: device %s has %d usable features %v, need %d",
			domain.ErrInsufficientFeatures, deviceID, len(t.Names), t.Names, MinAnomalyFeatures)
	}
	return t, nil
}
