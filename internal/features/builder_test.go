package features

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-ml/internal/domain"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func sample(offset time.Duration, tree map[string]any) domain.TelemetrySample {
	return domain.TelemetrySample{DeviceID: "dev-1", Timestamp: t0.Add(offset), Metrics: tree}
}

func TestLookup(t *testing.T) {
	tree := map[string]any{
		"system": map[string]any{
			"cpuUsage":    42.5,
			"memoryTotal": json.Number("2048"),
			"diskUsage":   "12.5",
			"label":       "edge",
			"nested":      map[string]any{"deep": 3},
		},
	}

	v, ok := Lookup(tree, "system.cpuUsage")
	assert.True(t, ok)
	assert.Equal(t, 42.5, v)

	v, ok = Lookup(tree, "system.memoryTotal")
	assert.True(t, ok)
	assert.Equal(t, 2048.0, v)

	v, ok = Lookup(tree, "system.diskUsage")
	assert.True(t, ok)
	assert.Equal(t, 12.5, v)

	v, ok = Lookup(tree, "system.nested.deep")
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)

	_, ok = Lookup(tree, "system.label")
	assert.False(t, ok)
	_, ok = Lookup(tree, "system.cpuUsage.x")
	assert.False(t, ok)
	_, ok = Lookup(tree, "health.uptime")
	assert.False(t, ok)
	_, ok = Lookup(nil, "system.cpuUsage")
	assert.False(t, ok)
}

func TestValidPath(t *testing.T) {
	assert.True(t, ValidPath("system.cpuUsage"))
	assert.True(t, ValidPath("sensors.temp_1"))
	assert.False(t, ValidPath(""))
	assert.False(t, ValidPath("system..cpu"))
	assert.False(t, ValidPath("system.cpu'; drop"))
}

func TestBuilder_DerivedRatiosAndColumnOrder(t *testing.T) {
	samples := []domain.TelemetrySample{
		sample(time.Minute, map[string]any{
			"system": map[string]any{"cpuUsage": 30.0, "memoryUsage": 512.0, "memoryTotal": 2048.0, "temperature": 51.0},
		}),
		sample(0, map[string]any{
			"system": map[string]any{"cpuUsage": 20.0, "memoryUsage": 1024.0, "memoryTotal": 2048.0},
		}),
	}

	table, err := NewBuilder(nil).Build("dev-1", samples)
	require.NoError(t, err)

	// diskUsagePercent and uptime never present; order follows DefaultSpecs
	assert.Equal(t, []string{"cpuUsage", "memoryUsagePercent", "temperature"}, table.Names)
	require.Equal(t, 2, table.Len())

	// rows sorted ascending by time
	assert.Equal(t, t0, table.Timestamps[0])
	assert.Equal(t, []float64{20, 50}, table.Rows[0][:2])
	assert.True(t, math.IsNaN(table.Rows[0][2]))
	assert.Equal(t, []float64{30, 25, 51}, table.Rows[1])
}

func TestBuilder_DropsRowsWithoutRequiredField(t *testing.T) {
	samples := []domain.TelemetrySample{
		sample(0, map[string]any{"system": map[string]any{"memoryUsage": 1.0, "memoryTotal": 2.0}}),
		sample(time.Minute, map[string]any{"system": map[string]any{"cpuUsage": 10.0, "memoryUsage": 1.0, "memoryTotal": 4.0}}),
	}

	table, err := NewBuilder(nil).Build("dev-1", samples)
	require.NoError(t, err)
	require.Equal(t, 1, table.Len())
	assert.Equal(t, []float64{10, 25}, table.Rows[0])
}

func TestBuilder_ZeroDenominatorIsMissing(t *testing.T) {
	samples := []domain.TelemetrySample{
		sample(0, map[string]any{"system": map[string]any{"cpuUsage": 10.0, "diskUsage": 5.0, "diskTotal": 0.0}}),
	}

	table, err := NewBuilder(nil).Build("dev-1", samples)
	require.NoError(t, err)
	assert.Equal(t, []string{"cpuUsage"}, table.Names)
}

func TestBuilder_EmptyWindow(t *testing.T) {
	_, err := NewBuilder(nil).Build("dev-1", nil)
	assert.ErrorIs(t, err, domain.ErrEmptyWindow)

	_, err = NewBuilder(nil).Build("dev-1", []domain.TelemetrySample{
		sample(0, map[string]any{"health": map[string]any{"uptime": 5.0}}),
	})
	assert.ErrorIs(t, err, domain.ErrEmptyWindow)
}

func TestBuilder_InsufficientFeatures(t *testing.T) {
	samples := []domain.TelemetrySample{
		sample(0, map[string]any{"system": map[string]any{"cpuUsage": 10.0}}),
	}

	_, err := NewBuilder(nil).BuildForAnomaly("dev-1", samples)
	assert.ErrorIs(t, err, domain.ErrInsufficientFeatures)
}

func TestTable_Select(t *testing.T) {
	table := &Table{
		Names:      []string{"cpuUsage", "memoryUsagePercent", "uptime"},
		Timestamps: []time.Time{t0},
		Rows:       [][]float64{{1, 2, 3}},
	}

	got, err := table.Select([]string{"uptime", "cpuUsage"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{3, 1}}, got)

	_, err = table.Select([]string{"cpuUsage", "temperature"})
	assert.ErrorIs(t, err, domain.ErrFeatureMismatch)

	vec := table.Vector(0)
	v, ok := vec.Get("memoryUsagePercent")
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)
}
