package anomaly

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-ml/internal/domain"
	"telemetry-ml/internal/features"
	"telemetry-ml/internal/ml/numeric"
	"telemetry-ml/internal/storage"
	"telemetry-ml/internal/storage/memory"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

// sineTable builds n rows of cpuUsage in [20, 40] and a memory ratio, with
// an optional spike on cpuUsage at index spike.
func sineTable(n, spike int) *features.Table {
	t := &features.Table{DeviceID: "dev1", Names: []string{"cpuUsage", "memoryUsagePercent"}}
	for i := 0; i < n; i++ {
		cpu := 30 + 10*math.Sin(float64(i)/10)
		if i == spike {
			cpu = 500
		}
		mem := 50 + 5*math.Cos(float64(i)/15)
		t.Timestamps = append(t.Timestamps, t0.Add(time.Duration(i)*time.Minute))
		t.Rows = append(t.Rows, []float64{cpu, mem})
	}
	return t
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Contamination = 0.01
	return cfg
}

func TestScorer_TrainAndDetectSpike(t *testing.T) {
	s := NewScorer(memory.NewModelStore(), testConfig())
	ctx := context.Background()

	table := sineTable(200, 150)
	info, err := s.Train(ctx, table)
	require.NoError(t, err)
	assert.Equal(t, []string{"cpuUsage", "memoryUsagePercent"}, info.FeatureNames)
	assert.Equal(t, 200, info.SampleCount)
	assert.Equal(t, domain.ModelKindAnomaly, info.Kind)
	assert.NotEmpty(t, info.ModelID)

	results, err := s.Predict(ctx, table)
	require.NoError(t, err)
	require.Len(t, results, 200)

	spike := results[150]
	assert.True(t, spike.IsAnomaly)
	assert.Equal(t, domain.SeverityCritical, spike.Severity)
	assert.Equal(t, 500.0, spike.Features["cpuUsage"])
	for i, r := range results {
		if i != 150 {
			assert.Less(t, spike.AnomalyScore, r.AnomalyScore)
		}
	}
}

func TestScorer_SeverityMonotonic(t *testing.T) {
	s := NewScorer(memory.NewModelStore(), Config{
		Contamination: 0.1, NEstimators: 50, MaxSamples: 128, MinSamples: 10, CriticalPercentile: 1, Seed: 7,
	})
	ctx := context.Background()

	table := sineTable(300, -1)
	_, err := s.Train(ctx, table)
	require.NoError(t, err)

	results, err := s.Predict(ctx, table)
	require.NoError(t, err)

	scores := make([]float64, len(results))
	for i, r := range results {
		scores[i] = r.AnomalyScore
	}
	threshold := numeric.Percentile(scores, 1)

	for _, r := range results {
		switch {
		case r.AnomalyScore < threshold:
			assert.Equal(t, domain.SeverityCritical, r.Severity)
		case r.IsAnomaly:
			assert.Equal(t, domain.SeverityWarning, r.Severity)
		default:
			assert.Equal(t, domain.SeverityNormal, r.Severity)
		}
	}
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, domain.SeverityCritical, Severity(-0.8, true, -0.7))
	assert.Equal(t, domain.SeverityWarning, Severity(-0.65, true, -0.7))
	assert.Equal(t, domain.SeverityNormal, Severity(-0.4, false, -0.7))
}

func TestScorer_TrainErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		cfg   Config
		table *features.Table
		want  error
	}{
		{"nil table", testConfig(), nil, domain.ErrEmptyWindow},
		{"too few samples", testConfig(), sineTable(99, -1), domain.ErrInsufficientData},
		{
			"single feature", testConfig(),
			&features.Table{DeviceID: "dev1", Names: []string{"cpuUsage"}, Timestamps: []time.Time{t0}, Rows: [][]float64{{1}}},
			domain.ErrInsufficientFeatures,
		},
		{"contamination out of range", Config{Contamination: 0.9, NEstimators: 10, MaxSamples: 10, MinSamples: 1}, sineTable(10, -1), domain.ErrInvalidConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScorer(memory.NewModelStore(), tt.cfg).Train(ctx, tt.table)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestScorer_PredictFeatureMismatch(t *testing.T) {
	s := NewScorer(memory.NewModelStore(), testConfig())
	ctx := context.Background()

	_, err := s.Train(ctx, sineTable(120, -1))
	require.NoError(t, err)

	other := &features.Table{
		DeviceID:   "dev1",
		Names:      []string{"cpuUsage", "temperature"},
		Timestamps: []time.Time{t0},
		Rows:       [][]float64{{30, 40}},
	}
	_, err = s.Predict(ctx, other)
	assert.ErrorIs(t, err, domain.ErrFeatureMismatch)
	assert.Equal(t, domain.KindFeatureMismatch, domain.KindOf(err))
}

func TestScorer_PredictIsColumnOrderInsensitive(t *testing.T) {
	s := NewScorer(memory.NewModelStore(), testConfig())
	ctx := context.Background()

	table := sineTable(150, -1)
	_, err := s.Train(ctx, table)
	require.NoError(t, err)

	swapped := &features.Table{DeviceID: "dev1", Names: []string{"memoryUsagePercent", "cpuUsage"}, Timestamps: table.Timestamps}
	for _, row := range table.Rows {
		swapped.Rows = append(swapped.Rows, []float64{row[1], row[0]})
	}

	a, err := s.Predict(ctx, table)
	require.NoError(t, err)
	b, err := s.Predict(ctx, swapped)
	require.NoError(t, err)
	for i := range a {
		assert.Equal(t, a[i].AnomalyScore, b[i].AnomalyScore)
	}
}

func TestScorer_MissingCellsAreNotEchoed(t *testing.T) {
	s := NewScorer(memory.NewModelStore(), testConfig())
	ctx := context.Background()

	table := sineTable(120, -1)
	table.Rows[5][1] = math.NaN()
	_, err := s.Train(ctx, table)
	require.NoError(t, err)

	results, err := s.Predict(ctx, table)
	require.NoError(t, err)
	_, ok := results[5].Features["memoryUsagePercent"]
	assert.False(t, ok)
	assert.False(t, math.IsNaN(results[5].AnomalyScore))
}

func TestScorer_NotTrained(t *testing.T) {
	s := NewScorer(memory.NewModelStore(), testConfig())

	_, err := s.Predict(context.Background(), sineTable(10, -1))
	assert.ErrorIs(t, err, domain.ErrNotTrained)
	_, err = s.Info()
	assert.ErrorIs(t, err, domain.ErrNotTrained)
	assert.ErrorIs(t, s.Save(context.Background(), "dev1"), domain.ErrNotTrained)
}

func TestScorer_SaveLoadRoundTrip(t *testing.T) {
	store := memory.NewModelStore()
	ctx := context.Background()

	trained := NewScorer(store, testConfig())
	table := sineTable(200, 150)
	info, err := trained.Train(ctx, table)
	require.NoError(t, err)
	require.NoError(t, trained.Save(ctx, "dev1"))

	a, err := store.Load(ctx, storage.AnomalyKey("dev1"))
	require.NoError(t, err)
	assert.NotEmpty(t, a.Model)

	loaded := NewScorer(store, testConfig())
	require.NoError(t, loaded.Load(ctx, "dev1"))

	got, err := loaded.Info()
	require.NoError(t, err)
	assert.Equal(t, info.FeatureNames, got.FeatureNames)
	assert.Equal(t, info.ModelID, got.ModelID)
	assert.True(t, info.TrainedAt.Equal(got.TrainedAt))

	want, err := trained.Predict(ctx, table)
	require.NoError(t, err)
	have, err := loaded.Predict(ctx, table)
	require.NoError(t, err)
	for i := range want {
		assert.Equal(t, want[i].AnomalyScore, have[i].AnomalyScore)
		assert.Equal(t, want[i].Severity, have[i].Severity)
	}
}

func TestScorer_LoadErrors(t *testing.T) {
	store := memory.NewModelStore()
	ctx := context.Background()

	err := NewScorer(store, testConfig()).Load(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrModelNotFound)
	assert.Equal(t, domain.KindModelNotFound, domain.KindOf(err))

	require.NoError(t, store.Save(ctx, storage.AnomalyKey("dev2"), &storage.Artifacts{
		Model:    []byte(`{}`),
		Scaler:   []byte(`{}`),
		Metadata: []byte(`{"schemaVersion":99,"kind":"isolation_forest"}`),
	}))
	err = NewScorer(store, testConfig()).Load(ctx, "dev2")
	assert.ErrorIs(t, err, domain.ErrIncompatibleModel)
	assert.Equal(t, domain.KindUnexpectedFailure, domain.KindOf(err))
}

type failingStore struct{ storage.ModelStore }

func (failingStore) Save(context.Context, storage.ModelKey, *storage.Artifacts) error {
	return errors.New("disk full")
}

func TestScorer_SaveWrapsStoreFailure(t *testing.T) {
	s := NewScorer(failingStore{}, testConfig())
	_, err := s.Train(context.Background(), sineTable(120, -1))
	require.NoError(t, err)

	err = s.Save(context.Background(), "dev1")
	assert.ErrorIs(t, err, domain.ErrCollaboratorFailure)
	assert.Contains(t, err.Error(), "disk full")
}
