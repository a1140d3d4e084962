package observability

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordTraining(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.RecordTraining("lstm", time.Now(), nil)
	m.RecordTraining("lstm", time.Now(), errors.New("boom"))
	m.RecordTraining("isolation_forest", time.Now(), nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrainingRunsTotal.WithLabelValues("lstm", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrainingRunsTotal.WithLabelValues("lstm", "error")))
	assert.Positive(t, testutil.ToFloat64(m.LastSuccessfulTraining.WithLabelValues("isolation_forest")))
}

func TestMetrics_CollaboratorErrorsOnlyOnFailure(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.RecordTelemetryFetch("samples", time.Now(), nil)
	m.RecordTelemetryFetch("samples", time.Now(), errors.New("timeout"))
	m.RecordStoreOp("save", time.Now(), nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TelemetryFetchErrors.WithLabelValues("samples")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.StoreOpErrors.WithLabelValues("save")))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Two instances on distinct registries must not collide.
	a := NewMetrics("test", prometheus.NewRegistry())
	b := NewMetrics("test", prometheus.NewRegistry())

	a.RecordAnomaly("critical")
	a.RecordHTTPRequest("/detect/{deviceId}", http.StatusOK, time.Now())

	assert.Equal(t, 1.0, testutil.ToFloat64(a.AnomaliesFlagged.WithLabelValues("critical")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.AnomaliesFlagged.WithLabelValues("critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.HTTPRequestsTotal.WithLabelValues("/detect/{deviceId}", "200")))
}
