// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Training metrics
	TrainingRunsTotal *prometheus.CounterVec
	TrainingDuration  *prometheus.HistogramVec
	TrainingInFlight  prometheus.Gauge
	TrainingEpochs    prometheus.Histogram

	// Prediction metrics
	PredictionsTotal   *prometheus.CounterVec
	PredictionDuration *prometheus.HistogramVec
	AnomaliesFlagged   *prometheus.CounterVec

	// Collaborator metrics
	TelemetryFetchDuration *prometheus.HistogramVec
	TelemetryFetchErrors   *prometheus.CounterVec
	StoreOpDuration        *prometheus.HistogramVec
	StoreOpErrors          *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Health metrics
	LastSuccessfulTraining *prometheus.GaugeVec
}

// NewMetrics creates a Metrics instance registered on reg. A nil reg means
// the default Prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "telemetry_ml"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Training metrics
		TrainingRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "runs_total",
			Help:      "Total number of training runs by model kind and status",
		}, []string{"kind", "status"}),
		TrainingDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "duration_seconds",
			Help:      "Training duration in seconds, including fetch and persist",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}, []string{"kind"}),
		TrainingInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "in_flight",
			Help:      "Number of training jobs holding a worker slot",
		}),
		TrainingEpochs: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "forecast_epochs",
			Help:      "Epochs run per forecast training before early stopping",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 50, 100},
		}),

		// Prediction metrics
		PredictionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prediction",
			Name:      "requests_total",
			Help:      "Total number of predictions by model kind and status",
		}, []string{"kind", "status"}),
		PredictionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "prediction",
			Name:      "duration_seconds",
			Help:      "Prediction latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		AnomaliesFlagged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prediction",
			Name:      "anomalies_flagged_total",
			Help:      "Total number of rows flagged anomalous by severity",
		}, []string{"severity"}),

		// Collaborator metrics
		TelemetryFetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "fetch_duration_seconds",
			Help:      "Telemetry fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		TelemetryFetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "fetch_errors_total",
			Help:      "Total number of failed telemetry fetches",
		}, []string{"operation"}),
		StoreOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "model_store",
			Name:      "operation_duration_seconds",
			Help:      "Model store operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		StoreOpErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model_store",
			Name:      "operation_errors_total",
			Help:      "Total number of failed model store operations",
		}, []string{"operation"}),

		// HTTP metrics
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		// Health metrics
		LastSuccessfulTraining: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_training_timestamp",
			Help:      "Unix timestamp of the last successful training by model kind",
		}, []string{"kind"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the metrics instance registered on the default registerer.
var DefaultMetrics = NewMetrics("", nil)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordTraining records a finished training run.
func (m *Metrics) RecordTraining(kind string, started time.Time, err error) {
	m.TrainingRunsTotal.WithLabelValues(kind, status(err)).Inc()
	m.TrainingDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
	if err == nil {
		m.LastSuccessfulTraining.WithLabelValues(kind).SetToCurrentTime()
	}
}

// RecordPrediction records a finished prediction.
func (m *Metrics) RecordPrediction(kind string, started time.Time, err error) {
	m.PredictionsTotal.WithLabelValues(kind, status(err)).Inc()
	m.PredictionDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

// RecordAnomaly counts one flagged row.
func (m *Metrics) RecordAnomaly(severity string) {
	m.AnomaliesFlagged.WithLabelValues(severity).Inc()
}

// RecordTelemetryFetch records one telemetry query.
func (m *Metrics) RecordTelemetryFetch(operation string, started time.Time, err error) {
	m.TelemetryFetchDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	if err != nil {
		m.TelemetryFetchErrors.WithLabelValues(operation).Inc()
	}
}

// RecordStoreOp records one model store operation.
func (m *Metrics) RecordStoreOp(operation string, started time.Time, err error) {
	m.StoreOpDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	if err != nil {
		m.StoreOpErrors.WithLabelValues(operation).Inc()
	}
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(route string, code int, started time.Time) {
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(started).Seconds())
}
