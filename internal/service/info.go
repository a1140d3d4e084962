package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"telemetry-ml/internal/domain"
	"telemetry-ml/internal/storage"
)

// ModelInfoRequest names an anomaly model (empty Field) or a forecast model.
type ModelInfoRequest struct {
	DeviceID string
	Field    string
}

// ModelInfoResponse is the persisted metadata plus the in-process lifecycle
// state. Model is nil while a first training is still running.
type ModelInfoResponse struct {
	DeviceID string            `json:"deviceId"`
	Kind     domain.ModelKind  `json:"modelType"`
	Field    string            `json:"field,omitempty"`
	State    domain.ModelState `json:"state"`
	Model    *domain.ModelInfo `json:"metadata,omitempty"`
}

// ModelInfo returns the metadata of a persisted model.
func (s *Service) ModelInfo(ctx context.Context, req ModelInfoRequest) (_ *ModelInfoResponse, err error) {
	if err := validateDevice(req.DeviceID); err != nil {
		return nil, err
	}
	key := storage.AnomalyKey(req.DeviceID)
	if req.Field != "" {
		if err := validateField(req.Field); err != nil {
			return nil, err
		}
		key = storage.ForecastKey(req.DeviceID, req.Field)
	}
	defer func() {
		if err != nil {
			s.logFailure("model info", key, err)
		}
	}()

	state, known := s.states.get(key.String())
	info, err := s.loadMetadata(ctx, key)
	switch {
	case errors.Is(err, domain.ErrModelNotFound) && known && state == domain.StateTraining:
		return &ModelInfoResponse{DeviceID: req.DeviceID, Kind: key.Kind, Field: req.Field, State: state}, nil
	case err != nil:
		return nil, err
	}
	if !known {
		state = domain.StateTrained
	}

	return &ModelInfoResponse{
		DeviceID: req.DeviceID,
		Kind:     key.Kind,
		Field:    req.Field,
		State:    state,
		Model:    &info,
	}, nil
}

// loadMetadata reads only the metadata artifact of key.
func (s *Service) loadMetadata(ctx context.Context, key storage.ModelKey) (domain.ModelInfo, error) {
	var a *storage.Artifacts
	err := s.storeIO(ctx, "load", func(ctx context.Context) error {
		var err error
		a, err = s.models.Load(ctx, key)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ModelInfo{}, fmt.Errorf("load %s: %w", key, domain.ErrModelNotFound)
	}
	if err != nil {
		return domain.ModelInfo{}, fmt.Errorf("load %s: %w: %w", key, domain.ErrCollaboratorFailure, err)
	}

	var info domain.ModelInfo
	if err := json.Unmarshal(a.Metadata, &info); err != nil {
		return domain.ModelInfo{}, fmt.Errorf("decode %s metadata: %w: %w", key, domain.ErrIncompatibleModel, err)
	}
	if info.SchemaVersion != domain.SchemaVersion || info.Kind != key.Kind {
		return domain.ModelInfo{}, fmt.Errorf("load %s: %w: schema %d kind %q",
			key, domain.ErrIncompatibleModel, info.SchemaVersion, info.Kind)
	}
	return info, nil
}
