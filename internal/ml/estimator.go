// Package ml holds the capability interface shared by the model variants.
package ml

import (
	"context"

	"telemetry-ml/internal/domain"
)

// Estimator is a trainable, persistable model. In is the training and
// prediction input, Out the prediction output.
//
// Implementations are not safe for concurrent use; callers create one
// instance per request.
type Estimator[In, Out any] interface {
	// Train fits a new model on in, replacing any in-memory state.
	Train(ctx context.Context, in In) (domain.ModelInfo, error)

	// Predict scores in with the trained or loaded model. Returns
	// domain.ErrNotTrained if neither happened.
	Predict(ctx context.Context, in In) (Out, error)

	// Save persists the model under deviceID as one atomic unit.
	Save(ctx context.Context, deviceID string) error

	// Load replaces in-memory state with the model stored under deviceID.
	// Returns domain.ErrModelNotFound if absent.
	Load(ctx context.Context, deviceID string) error

	// Info returns the metadata of the trained or loaded model.
	Info() (domain.ModelInfo, error)
}
