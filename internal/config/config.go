// Package config loads service configuration from an optional YAML file and
// TELEMETRY_ML_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"telemetry-ml/internal/anomaly"
	"telemetry-ml/internal/domain"
	"telemetry-ml/internal/forecast"
)

// EnvPrefix is the prefix of every environment override, e.g. TELEMETRY_ML_SERVER_ADDRESS.
const EnvPrefix = "TELEMETRY_ML"

// Config is the complete service configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	ModelStore ModelStoreConfig `mapstructure:"model_store"`
	Anomaly    AnomalyConfig    `mapstructure:"anomaly"`
	Forecast   ForecastConfig   `mapstructure:"forecast"`
	Training   TrainingConfig   `mapstructure:"training"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig holds logger settings. An empty File logs to stderr.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// TelemetryConfig selects and configures the telemetry source.
type TelemetryConfig struct {
	Backend       string        `mapstructure:"backend"` // postgres | clickhouse | memory
	PostgresDSN   string        `mapstructure:"postgres_dsn"`
	ClickhouseDSN string        `mapstructure:"clickhouse_dsn"`
	QueryTimeout  time.Duration `mapstructure:"query_timeout"`
}

// ModelStoreConfig selects and configures the model store.
type ModelStoreConfig struct {
	Backend          string        `mapstructure:"backend"` // badger | postgres | memory
	Path             string        `mapstructure:"path"`
	PostgresDSN      string        `mapstructure:"postgres_dsn"`
	CompressionLevel int           `mapstructure:"compression_level"`
	IOTimeout        time.Duration `mapstructure:"io_timeout"`
}

// Range is an inclusive integer bound.
type Range struct {
	Min int `mapstructure:"min"`
	Max int `mapstructure:"max"`
}

// Contains reports whether v lies in [Min, Max].
func (r Range) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

// AnomalyConfig holds isolation forest and request parameters.
type AnomalyConfig struct {
	Contamination      float64 `mapstructure:"contamination"`
	ContaminationMin   float64 `mapstructure:"contamination_min"`
	ContaminationMax   float64 `mapstructure:"contamination_max"`
	NEstimators        int     `mapstructure:"n_estimators"`
	MaxSamples         int     `mapstructure:"max_samples"`
	MinSamples         int     `mapstructure:"min_samples"`
	CriticalPercentile float64 `mapstructure:"critical_percentile"`
	MaxReported        int     `mapstructure:"max_reported"`
	TrainHours         int     `mapstructure:"train_hours"`
	TrainHoursRange    Range   `mapstructure:"train_hours_range"`
	DetectHours        int     `mapstructure:"detect_hours"`
	DetectHoursRange   Range   `mapstructure:"detect_hours_range"`
	Seed               int64   `mapstructure:"seed"`
}

// ForecastConfig holds LSTM and request parameters.
type ForecastConfig struct {
	SequenceLength  int           `mapstructure:"sequence_length"`
	Horizon         int           `mapstructure:"horizon"`
	LSTMUnits       []int         `mapstructure:"lstm_units"`
	DenseUnits      int           `mapstructure:"dense_units"`
	Dropout         float64       `mapstructure:"dropout"`
	Epochs          int           `mapstructure:"epochs"`
	BatchSize       int           `mapstructure:"batch_size"`
	Patience        int           `mapstructure:"patience"`
	LearningRate    float64       `mapstructure:"learning_rate"`
	ClipNorm        float64       `mapstructure:"clip_norm"`
	ValidationSplit float64       `mapstructure:"validation_split"`
	MinWindows      int           `mapstructure:"min_windows"`
	StepInterval    time.Duration `mapstructure:"step_interval"`
	ConfidenceZ     float64       `mapstructure:"confidence_z"`
	DefaultField    string        `mapstructure:"default_field"`
	TrainHours      int           `mapstructure:"train_hours"`
	TrainHoursRange Range         `mapstructure:"train_hours_range"`
	Seed            int64         `mapstructure:"seed"`
}

// TrainingConfig bounds the training worker pool.
type TrainingConfig struct {
	Workers         int           `mapstructure:"workers"`
	Timeout         time.Duration `mapstructure:"timeout"`
	GradientWorkers int           `mapstructure:"gradient_workers"`
}

// Load reads configuration from path (optional, YAML) and the environment.
// A missing file is not an error. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with every default applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return &cfg
}

// Check runs Validate and folds the failures into one ErrInvalidConfiguration.
func (c *Config) Check() error {
	errs := c.Validate()
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return fmt.Errorf("%w: configuration validation failed:\n  - %s",
		domain.ErrInvalidConfiguration, strings.Join(msgs, "\n  - "))
}

// AnomalyParams returns the scorer configuration.
func (c *Config) AnomalyParams() anomaly.Config {
	return anomaly.Config{
		Contamination:      c.Anomaly.Contamination,
		NEstimators:        c.Anomaly.NEstimators,
		MaxSamples:         c.Anomaly.MaxSamples,
		MinSamples:         c.Anomaly.MinSamples,
		CriticalPercentile: c.Anomaly.CriticalPercentile,
		Seed:               c.Anomaly.Seed,
	}
}

// ForecastParams returns the forecaster configuration.
func (c *Config) ForecastParams() forecast.Config {
	return forecast.Config{
		SequenceLength:  c.Forecast.SequenceLength,
		Horizon:         c.Forecast.Horizon,
		LSTMUnits:       append([]int(nil), c.Forecast.LSTMUnits...),
		DenseUnits:      c.Forecast.DenseUnits,
		Dropout:         c.Forecast.Dropout,
		Epochs:          c.Forecast.Epochs,
		BatchSize:       c.Forecast.BatchSize,
		Patience:        c.Forecast.Patience,
		LearningRate:    c.Forecast.LearningRate,
		ClipNorm:        c.Forecast.ClipNorm,
		ValidationSplit: c.Forecast.ValidationSplit,
		MinWindows:      c.Forecast.MinWindows,
		StepInterval:    c.Forecast.StepInterval,
		ConfidenceZ:     c.Forecast.ConfidenceZ,
		Seed:            c.Forecast.Seed,
		Workers:         c.Training.GradientWorkers,
	}
}
