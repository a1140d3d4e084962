package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"telemetry-ml/internal/anomaly"
	"telemetry-ml/internal/domain"
	"telemetry-ml/internal/storage"
)

// TrainAnomalyRequest asks for an anomaly model over the last Hours of
// telemetry. Zero values take the configured defaults.
type TrainAnomalyRequest struct {
	DeviceID      string
	Hours         int
	Contamination float64
}

// TrainAnomalyResponse summarizes a trained anomaly model.
type TrainAnomalyResponse struct {
	Status         string    `json:"status"`
	DeviceID       string    `json:"deviceId"`
	ModelID        string    `json:"modelId"`
	TrainedSamples int       `json:"trainedSamples"`
	Features       []string  `json:"features"`
	Contamination  float64   `json:"contamination"`
	TrainedAt      time.Time `json:"trainedAt"`
}

// DetectRequest asks for anomalies in the last Hours of telemetry.
type DetectRequest struct {
	DeviceID string
	Hours    int
}

// AnomalyModelSummary is the model metadata echoed with detection results.
type AnomalyModelSummary struct {
	ModelID       string    `json:"modelId"`
	Features      []string  `json:"features"`
	Contamination float64   `json:"contamination"`
	TrainedAt     time.Time `json:"trainedAt"`
	SampleCount   int       `json:"sampleCount"`
}

// DetectResponse lists the anomalous rows of the scored window in time order.
type DetectResponse struct {
	DeviceID          string                 `json:"deviceId"`
	TotalPoints       int                    `json:"totalPoints"`
	AnomaliesDetected int                    `json:"anomaliesDetected"`
	Anomalies         []domain.AnomalyResult `json:"anomalies"`
	Model             AnomalyModelSummary    `json:"modelInfo"`
}

// TrainAnomaly fits and persists the device's anomaly model. Nothing is
// persisted unless fitting succeeds.
func (s *Service) TrainAnomaly(ctx context.Context, req TrainAnomalyRequest) (_ *TrainAnomalyResponse, err error) {
	key := storage.AnomalyKey(req.DeviceID)
	started := time.Now()
	defer func() {
		s.metrics.RecordTraining(string(domain.ModelKindAnomaly), started, err)
		if err != nil {
			s.logFailure("train anomaly model", key, err)
		}
	}()

	if err := validateDevice(req.DeviceID); err != nil {
		return nil, err
	}
	ac := s.cfg.Anomaly
	hours, err := resolveHours("hours", req.Hours, ac.TrainHours, ac.TrainHoursRange)
	if err != nil {
		return nil, err
	}
	params := s.cfg.AnomalyParams()
	if req.Contamination != 0 {
		if !(req.Contamination >= ac.ContaminationMin && req.Contamination <= ac.ContaminationMax) {
			return nil, fmt.Errorf("%w: contamination %v outside [%v, %v]",
				domain.ErrInvalidConfiguration, req.Contamination, ac.ContaminationMin, ac.ContaminationMax)
		}
		params.Contamination = req.Contamination
	}

	var info domain.ModelInfo
	err = s.runTraining(ctx, key, func(ctx context.Context) error {
		samples, err := s.fetchSamples(ctx, req.DeviceID, hours)
		if err != nil {
			return err
		}
		table, err := s.builder.BuildForAnomaly(req.DeviceID, samples)
		if err != nil {
			return fmt.Errorf("train anomaly model: %w", err)
		}

		scorer := anomaly.NewScorer(s.models, params)
		if info, err = scorer.Train(ctx, table); err != nil {
			return err
		}
		if err := s.storeIO(ctx, "save", func(ctx context.Context) error {
			return scorer.Save(ctx, req.DeviceID)
		}); err != nil {
			return err
		}
		info, err = scorer.Info()
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("anomaly model trained",
		zap.String("device_id", req.DeviceID),
		zap.String("model_id", info.ModelID),
		zap.Int("samples", info.SampleCount),
		zap.Strings("features", info.FeatureNames),
		zap.Float64("contamination", info.Contamination),
		zap.Duration("duration", time.Since(started)),
	)

	return &TrainAnomalyResponse{
		Status:         "success",
		DeviceID:       req.DeviceID,
		ModelID:        info.ModelID,
		TrainedSamples: info.SampleCount,
		Features:       info.FeatureNames,
		Contamination:  info.Contamination,
		TrainedAt:      info.TrainedAt,
	}, nil
}

// DetectAnomalies scores the recent window with the device's persisted model.
func (s *Service) DetectAnomalies(ctx context.Context, req DetectRequest) (_ *DetectResponse, err error) {
	key := storage.AnomalyKey(req.DeviceID)
	started := time.Now()
	defer func() {
		s.metrics.RecordPrediction(string(domain.ModelKindAnomaly), started, err)
		if err != nil {
			s.logFailure("detect anomalies", key, err)
		}
	}()

	if err := validateDevice(req.DeviceID); err != nil {
		return nil, err
	}
	hours, err := resolveHours("hours", req.Hours, s.cfg.Anomaly.DetectHours, s.cfg.Anomaly.DetectHoursRange)
	if err != nil {
		return nil, err
	}

	scorer := anomaly.NewScorer(s.models, s.cfg.AnomalyParams())
	if err := s.storeIO(ctx, "load", func(ctx context.Context) error {
		return scorer.Load(ctx, req.DeviceID)
	}); err != nil {
		return nil, err
	}
	info, err := scorer.Info()
	if err != nil {
		return nil, err
	}

	samples, err := s.fetchSamples(ctx, req.DeviceID, hours)
	if err != nil {
		return nil, err
	}
	table, err := s.builder.Build(req.DeviceID, samples)
	if err != nil {
		return nil, fmt.Errorf("detect anomalies: %w", err)
	}

	results, err := scorer.Predict(ctx, table)
	if err != nil {
		return nil, err
	}

	anomalies := make([]domain.AnomalyResult, 0)
	flagged := 0
	for _, r := range results {
		if !r.IsAnomaly {
			continue
		}
		flagged++
		s.metrics.RecordAnomaly(string(r.Severity))
		if len(anomalies) < s.cfg.Anomaly.MaxReported {
			anomalies = append(anomalies, r)
		}
	}

	s.logger.Debug("anomaly detection finished",
		zap.String("device_id", req.DeviceID),
		zap.Int("points", len(results)),
		zap.Int("anomalies", flagged),
	)

	return &DetectResponse{
		DeviceID:          req.DeviceID,
		TotalPoints:       len(results),
		AnomaliesDetected: flagged,
		Anomalies:         anomalies,
		Model: AnomalyModelSummary{
			ModelID:       info.ModelID,
			Features:      info.FeatureNames,
			Contamination: info.Contamination,
			TrainedAt:     info.TrainedAt,
			SampleCount:   info.SampleCount,
		},
	}, nil
}
