package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"

	"telemetry-ml/internal/features"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate validates the configuration and returns every violation.
func (c *Config) Validate() []error {
	var errs []error

	// Server
	if strings.TrimSpace(c.Server.Address) == "" {
		errs = append(errs, invalid("server.address", "address is required"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, invalid("server.shutdown_timeout", "must be positive, got %s", c.Server.ShutdownTimeout))
	}

	// Logging
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, invalid("log.level", "unknown level %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, invalid("log.format", "must be json or console, got %q", c.Log.Format))
	}

	// Collaborators
	switch c.Telemetry.Backend {
	case "postgres":
		if c.Telemetry.PostgresDSN == "" {
			errs = append(errs, invalid("telemetry.postgres_dsn", "required for postgres backend"))
		}
	case "clickhouse":
		if c.Telemetry.ClickhouseDSN == "" {
			errs = append(errs, invalid("telemetry.clickhouse_dsn", "required for clickhouse backend"))
		}
	case "memory":
	default:
		errs = append(errs, invalid("telemetry.backend", "must be postgres, clickhouse or memory, got %q", c.Telemetry.Backend))
	}
	if c.Telemetry.QueryTimeout <= 0 {
		errs = append(errs, invalid("telemetry.query_timeout", "must be positive"))
	}

	switch c.ModelStore.Backend {
	case "badger":
		if c.ModelStore.Path == "" {
			errs = append(errs, invalid("model_store.path", "required for badger backend"))
		}
	case "postgres":
		if c.ModelStore.PostgresDSN == "" && c.Telemetry.PostgresDSN == "" {
			errs = append(errs, invalid("model_store.postgres_dsn", "required for postgres backend"))
		}
	case "memory":
	default:
		errs = append(errs, invalid("model_store.backend", "must be badger, postgres or memory, got %q", c.ModelStore.Backend))
	}
	if c.ModelStore.IOTimeout <= 0 {
		errs = append(errs, invalid("model_store.io_timeout", "must be positive"))
	}

	// Anomaly
	a := c.Anomaly
	if a.ContaminationMin <= 0 || a.ContaminationMax > 0.5 || a.ContaminationMin > a.ContaminationMax {
		errs = append(errs, invalid("anomaly.contamination_min", "bounds [%v, %v] must lie in (0, 0.5]", a.ContaminationMin, a.ContaminationMax))
	} else if a.Contamination < a.ContaminationMin || a.Contamination > a.ContaminationMax {
		errs = append(errs, invalid("anomaly.contamination", "%v outside [%v, %v]", a.Contamination, a.ContaminationMin, a.ContaminationMax))
	}
	if a.NEstimators <= 0 {
		errs = append(errs, invalid("anomaly.n_estimators", "must be positive"))
	}
	if a.MaxSamples <= 0 {
		errs = append(errs, invalid("anomaly.max_samples", "must be positive"))
	}
	if a.MinSamples <= 0 {
		errs = append(errs, invalid("anomaly.min_samples", "must be positive"))
	}
	if a.CriticalPercentile < 0 || a.CriticalPercentile > 100 {
		errs = append(errs, invalid("anomaly.critical_percentile", "must be in [0, 100]"))
	}
	if a.MaxReported <= 0 {
		errs = append(errs, invalid("anomaly.max_reported", "must be positive"))
	}
	errs = append(errs, checkHours("anomaly.train_hours", a.TrainHours, a.TrainHoursRange)...)
	errs = append(errs, checkHours("anomaly.detect_hours", a.DetectHours, a.DetectHoursRange)...)

	// Forecast
	f := c.Forecast
	if err := c.ForecastParams().Validate(); err != nil {
		errs = append(errs, invalid("forecast", "%v", err))
	}
	if !features.ValidPath(f.DefaultField) {
		errs = append(errs, invalid("forecast.default_field", "invalid metric path %q", f.DefaultField))
	}
	errs = append(errs, checkHours("forecast.train_hours", f.TrainHours, f.TrainHoursRange)...)

	// Training pool
	if c.Training.Workers <= 0 {
		errs = append(errs, invalid("training.workers", "must be positive, got %d", c.Training.Workers))
	}
	if c.Training.Timeout <= 0 {
		errs = append(errs, invalid("training.timeout", "must be positive"))
	}
	if c.Training.GradientWorkers < 0 {
		errs = append(errs, invalid("training.gradient_workers", "must not be negative"))
	}

	return errs
}

func checkHours(field string, v int, r Range) []error {
	if r.Min <= 0 || r.Min > r.Max {
		return []error{invalid(field+"_range", "invalid range [%d, %d]", r.Min, r.Max)}
	}
	if !r.Contains(v) {
		return []error{invalid(field, "%d outside [%d, %d]", v, r.Min, r.Max)}
	}
	return nil
}
