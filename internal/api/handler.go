// Package api exposes the training and prediction service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"telemetry-ml/internal/logging"
	"telemetry-ml/internal/observability"
	"telemetry-ml/internal/service"
	"telemetry-ml/internal/storage"
)

// ServiceName is reported by the root endpoint.
const ServiceName = "telemetry-ml"

// Handler serves the HTTP endpoints.
type Handler struct {
	svc     *service.Service
	checks  map[string]any
	logger  *zap.Logger
	metrics *observability.Metrics
	version string
}

// Options for creating a Handler.
type Options struct {
	Service   *service.Service
	Telemetry storage.TelemetrySource // pinged by /health when it supports it
	Models    storage.ModelStore      // pinged by /health when it supports it
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Version   string
}

// NewHandler creates a Handler.
func NewHandler(opts Options) *Handler {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.DefaultMetrics
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	return &Handler{
		svc:     opts.Service,
		checks:  map[string]any{"telemetry": opts.Telemetry, "modelStore": opts.Models},
		logger:  logging.OrNop(opts.Logger).Named("api"),
		metrics: metrics,
		version: version,
	}
}

// SetupRoutes registers every endpoint on router.
func SetupRoutes(router *mux.Router, h *Handler) {
	router.HandleFunc("/", h.Root).Methods(http.MethodGet)
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.Handle("/metrics", observability.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/train-anomaly/{deviceId}", h.TrainAnomaly).Methods(http.MethodPost)
	router.HandleFunc("/detect/{deviceId}", h.Detect).Methods(http.MethodGet)
	router.HandleFunc("/train-forecast/{deviceId}", h.TrainForecast).Methods(http.MethodPost)
	router.HandleFunc("/predict-forecast/{deviceId}", h.PredictForecast).Methods(http.MethodGet)
	router.HandleFunc("/model-info/{deviceId}", h.ModelInfo).Methods(http.MethodGet)
}

// NewRouter wires routes, middleware and CORS.
func NewRouter(h *Handler, corsOrigins []string) http.Handler {
	router := mux.NewRouter()
	SetupRoutes(router, h)
	router.Use(requestID)
	router.Use(instrument(h.logger, h.metrics))
	router.Use(recoverPanics(h.logger))

	c := cors.New(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
	})
	return c.Handler(router)
}

// Root handles GET /
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"service": ServiceName,
		"version": h.version,
		"status":  "running",
	})
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	body := map[string]string{"status": "healthy"}
	status := http.StatusOK
	for name, dep := range h.checks {
		p, ok := dep.(pinger)
		if !ok {
			body[name] = "unknown"
			continue
		}
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			body[name] = "unavailable"
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		body[name] = "ok"
	}
	respondJSON(w, status, body)
}

// TrainAnomaly handles POST /train-anomaly/{deviceId}
func (h *Handler) TrainAnomaly(w http.ResponseWriter, r *http.Request) {
	hours, ok := h.intParam(w, r, "hours")
	if !ok {
		return
	}
	contamination, ok := h.floatParam(w, r, "contamination")
	if !ok {
		return
	}

	resp, err := h.svc.TrainAnomaly(r.Context(), service.TrainAnomalyRequest{
		DeviceID:      mux.Vars(r)["deviceId"],
		Hours:         hours,
		Contamination: contamination,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Detect handles GET /detect/{deviceId}
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	hours, ok := h.intParam(w, r, "hours")
	if !ok {
		return
	}

	resp, err := h.svc.DetectAnomalies(r.Context(), service.DetectRequest{
		DeviceID: mux.Vars(r)["deviceId"],
		Hours:    hours,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// TrainForecast handles POST /train-forecast/{deviceId}
func (h *Handler) TrainForecast(w http.ResponseWriter, r *http.Request) {
	hours, ok := h.intParam(w, r, "hours")
	if !ok {
		return
	}

	resp, err := h.svc.TrainForecast(r.Context(), service.TrainForecastRequest{
		DeviceID: mux.Vars(r)["deviceId"],
		Field:    r.URL.Query().Get("field"),
		Hours:    hours,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// PredictForecast handles GET /predict-forecast/{deviceId}
func (h *Handler) PredictForecast(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.PredictForecast(r.Context(), service.PredictForecastRequest{
		DeviceID: mux.Vars(r)["deviceId"],
		Field:    r.URL.Query().Get("field"),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// ModelInfo handles GET /model-info/{deviceId}
func (h *Handler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.ModelInfo(r.Context(), service.ModelInfoRequest{
		DeviceID: mux.Vars(r)["deviceId"],
		Field:    r.URL.Query().Get("field"),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// intParam parses an optional integer query parameter; absent means 0.
func (h *Handler) intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		h.respondBadRequest(w, r, name, name+" must be an integer")
		return 0, false
	}
	return v, true
}

// floatParam parses an optional float query parameter; absent means 0.
func (h *Handler) floatParam(w http.ResponseWriter, r *http.Request, name string) (float64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		h.respondBadRequest(w, r, name, name+" must be a number")
		return 0, false
	}
	return v, true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
