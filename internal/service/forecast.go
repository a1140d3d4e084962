package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"telemetry-ml/internal/domain"
	"telemetry-ml/internal/forecast"
	"telemetry-ml/internal/storage"
)

// TrainForecastRequest asks for a forecast model of one metric path.
// An empty Field means the configured default field.
type TrainForecastRequest struct {
	DeviceID string
	Field    string
	Hours    int
}

// TrainForecastResponse summarizes a trained forecast model.
type TrainForecastResponse struct {
	Status         string    `json:"status"`
	DeviceID       string    `json:"deviceId"`
	Field          string    `json:"field"`
	ModelID        string    `json:"modelId"`
	TrainedSamples int       `json:"trainedSamples"`
	SequenceLength int       `json:"sequenceLength"`
	Horizon        int       `json:"horizon"`
	EpochsRun      int       `json:"epochsRun"`
	TrainLoss      float64   `json:"trainLoss"`
	ValidationLoss float64   `json:"validationLoss"`
	TrainedAt      time.Time `json:"trainedAt"`
}

// PredictForecastRequest asks for the next Horizon points of Field.
type PredictForecastRequest struct {
	DeviceID string
	Field    string
}

// ForecastModelSummary is the model metadata echoed with predictions.
type ForecastModelSummary struct {
	ModelID        string    `json:"modelId"`
	SequenceLength int       `json:"sequenceLength"`
	Horizon        int       `json:"horizon"`
	TrainedAt      time.Time `json:"trainedAt"`
	SampleCount    int       `json:"sampleCount"`
}

// PredictForecastResponse carries one prediction per horizon step.
type PredictForecastResponse struct {
	DeviceID    string                  `json:"deviceId"`
	Field       string                  `json:"field"`
	Predictions []domain.ForecastResult `json:"predictions"`
	Model       ForecastModelSummary    `json:"modelInfo"`
}

func (s *Service) resolveField(field string) (string, error) {
	if field == "" {
		field = s.cfg.Forecast.DefaultField
	}
	if err := validateField(field); err != nil {
		return "", err
	}
	return field, nil
}

// TrainForecast fits and persists the (device, field) forecast model.
func (s *Service) TrainForecast(ctx context.Context, req TrainForecastRequest) (_ *TrainForecastResponse, err error) {
	key := storage.ForecastKey(req.DeviceID, req.Field)
	started := time.Now()
	defer func() {
		s.metrics.RecordTraining(string(domain.ModelKindForecast), started, err)
		if err != nil {
			s.logFailure("train forecast model", key, err)
		}
	}()

	if err := validateDevice(req.DeviceID); err != nil {
		return nil, err
	}
	field, err := s.resolveField(req.Field)
	if err != nil {
		return nil, err
	}
	key = storage.ForecastKey(req.DeviceID, field)
	hours, err := resolveHours("hours", req.Hours, s.cfg.Forecast.TrainHours, s.cfg.Forecast.TrainHoursRange)
	if err != nil {
		return nil, err
	}

	var info domain.ModelInfo
	err = s.runTraining(ctx, key, func(ctx context.Context) error {
		series, err := s.fetchSeries(ctx, req.DeviceID, field, hours)
		if err != nil {
			return err
		}

		fc := forecast.NewForecaster(s.models, field, s.cfg.ForecastParams())
		if _, err := fc.Train(ctx, series); err != nil {
			return err
		}
		if err := s.storeIO(ctx, "save", func(ctx context.Context) error {
			return fc.Save(ctx, req.DeviceID)
		}); err != nil {
			return err
		}
		info, err = fc.Info()
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.TrainingEpochs.Observe(float64(info.EpochsRun))
	s.logger.Info("forecast model trained",
		zap.String("device_id", req.DeviceID),
		zap.String("field", field),
		zap.String("model_id", info.ModelID),
		zap.Int("windows", info.SampleCount),
		zap.Int("epochs", info.EpochsRun),
		zap.Float64("train_loss", info.TrainLoss),
		zap.Float64("val_loss", info.ValidationLoss),
		zap.Duration("duration", time.Since(started)),
	)

	return &TrainForecastResponse{
		Status:         "success",
		DeviceID:       req.DeviceID,
		Field:          field,
		ModelID:        info.ModelID,
		TrainedSamples: info.SampleCount,
		SequenceLength: info.SequenceLength,
		Horizon:        info.ForecastHorizon,
		EpochsRun:      info.EpochsRun,
		TrainLoss:      info.TrainLoss,
		ValidationLoss: info.ValidationLoss,
		TrainedAt:      info.TrainedAt,
	}, nil
}

// PredictForecast forecasts the next horizon of field from its most recent
// SequenceLength points.
func (s *Service) PredictForecast(ctx context.Context, req PredictForecastRequest) (_ *PredictForecastResponse, err error) {
	key := storage.ForecastKey(req.DeviceID, req.Field)
	started := time.Now()
	defer func() {
		s.metrics.RecordPrediction(string(domain.ModelKindForecast), started, err)
		if err != nil {
			s.logFailure("predict forecast", key, err)
		}
	}()

	if err := validateDevice(req.DeviceID); err != nil {
		return nil, err
	}
	field, err := s.resolveField(req.Field)
	if err != nil {
		return nil, err
	}
	key = storage.ForecastKey(req.DeviceID, field)

	fc := forecast.NewForecaster(s.models, field, s.cfg.ForecastParams())
	if err := s.storeIO(ctx, "load", func(ctx context.Context) error {
		return fc.Load(ctx, req.DeviceID)
	}); err != nil {
		return nil, err
	}
	info, err := fc.Info()
	if err != nil {
		return nil, err
	}

	series, err := s.fetchSeries(ctx, req.DeviceID, field, predictWindowHours(info.SequenceLength))
	if err != nil {
		return nil, err
	}
	predictions, err := fc.Predict(ctx, series)
	if err != nil {
		return nil, err
	}

	return &PredictForecastResponse{
		DeviceID:    req.DeviceID,
		Field:       field,
		Predictions: predictions,
		Model: ForecastModelSummary{
			ModelID:        info.ModelID,
			SequenceLength: info.SequenceLength,
			Horizon:        info.ForecastHorizon,
			TrainedAt:      info.TrainedAt,
			SampleCount:    info.SampleCount,
		},
	}, nil
}

// predictWindowHours covers seqLen one-minute samples with an hour of slack.
func predictWindowHours(seqLen int) int {
	return max(2, seqLen/60+1)
}
