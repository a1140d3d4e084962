package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-ml/internal/config"
	"telemetry-ml/internal/domain"
	"telemetry-ml/internal/observability"
	"telemetry-ml/internal/service"
	"telemetry-ml/internal/storage/memory"
)

func testRoot(t *testing.T) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	telemetry := memory.NewTelemetrySource().WithClock(func() time.Time { return now })
	for i := 0; i < 150; i++ {
		require.NoError(t, telemetry.Insert(context.Background(), domain.TelemetrySample{
			DeviceID:  "dev-42",
			Timestamp: now.Add(-time.Duration(150-i) * time.Minute),
			Metrics: map[string]any{"system": map[string]any{
				"cpuUsage":    30 + 10*math.Sin(float64(i)/10),
				"memoryUsage": 40 + float64(i%7),
				"memoryTotal": 100.0,
			}},
		}))
	}

	cfg := config.Default()
	cfg.Telemetry.Backend = "memory"
	cfg.ModelStore.Backend = "memory"
	svc, err := service.New(service.Options{
		Config:    cfg,
		Telemetry: telemetry,
		Models:    memory.NewModelStore(),
		Metrics:   observability.NewMetrics("mlctl_test", prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	out := &bytes.Buffer{}
	root := newRootCmd(out, func(context.Context) (*service.Service, func(), error) {
		return svc, func() {}, nil
	})
	return root, out
}

// execute runs args and decodes the JSON printed on success.
func execute(t *testing.T, root *cobra.Command, out *bytes.Buffer, args ...string) (map[string]any, error) {
	t.Helper()
	out.Reset()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return nil, err
	}
	var result map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &result), out.String())
	return result, nil
}

func TestMlctl_TrainDetectInfo(t *testing.T) {
	root, out := testRoot(t)

	res, err := execute(t, root, out, "train-anomaly", "dev-42", "--contamination", "0.05")
	require.NoError(t, err)
	assert.Equal(t, "success", res["status"])
	assert.EqualValues(t, 150, res["trainedSamples"])

	res, err = execute(t, root, out, "detect", "dev-42", "--hours", "6")
	require.NoError(t, err)
	assert.EqualValues(t, 150, res["totalPoints"])

	res, err = execute(t, root, out, "info", "dev-42")
	require.NoError(t, err)
	assert.Equal(t, "trained", res["state"])
}

func TestMlctl_DomainErrorsSurface(t *testing.T) {
	root, out := testRoot(t)

	_, err := execute(t, root, out, "detect", "dev-42")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrModelNotFound)

	_, err = execute(t, root, out, "train-forecast", "dev-42")
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestMlctl_RequiresDeviceID(t *testing.T) {
	root, out := testRoot(t)

	_, err := execute(t, root, out, "train-anomaly")
	assert.Error(t, err)
}
