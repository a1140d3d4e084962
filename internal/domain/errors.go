package domain

import "errors"

// Model lifecycle errors. Callers classify with errors.Is or KindOf.
var (
	// ErrInsufficientData is returned when samples or windows are below the configured minimum.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInsufficientFeatures is returned when fewer than 2 usable anomaly features remain.
	ErrInsufficientFeatures = errors.New("insufficient features")

	// ErrFeatureMismatch is returned when prediction input lacks a trained feature.
	ErrFeatureMismatch = errors.New("feature mismatch")

	// ErrModelNotFound is returned when no artifact is stored for a key.
	ErrModelNotFound = errors.New("model not found")

	// ErrNotTrained is returned by predict/info on a model that was neither trained nor loaded.
	ErrNotTrained = errors.New("model not trained")

	// ErrInvalidConfiguration is returned for out-of-range parameters.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrEmptyWindow is returned when no telemetry rows survive filtering.
	ErrEmptyWindow = errors.New("no data in window")

	// ErrCollaboratorFailure wraps telemetry fetch and persistence I/O failures.
	ErrCollaboratorFailure = errors.New("collaborator failure")

	// ErrIncompatibleModel is returned when a stored artifact has another schema version or kind.
	ErrIncompatibleModel = errors.New("incompatible model artifact")
)

// ErrorKind is the taxonomy tag surfaced to callers.
type ErrorKind string

const (
	KindInsufficientData     ErrorKind = "InsufficientData"
	KindInsufficientFeatures ErrorKind = "InsufficientFeatures"
	KindFeatureMismatch      ErrorKind = "FeatureMismatch"
	KindModelNotFound        ErrorKind = "ModelNotFound"
	KindNotTrained           ErrorKind = "NotTrained"
	KindInvalidConfiguration ErrorKind = "InvalidConfiguration"
	KindEmptyWindow          ErrorKind = "EmptyWindow"
	KindCollaboratorFailure  ErrorKind = "CollaboratorFailure"
	KindUnexpectedFailure    ErrorKind = "UnexpectedFailure"
	KindNone                 ErrorKind = ""
)

// kindOrder is checked in sequence; domain kinds win over CollaboratorFailure
// when an error chain carries both.
var kindOrder = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInsufficientData, KindInsufficientData},
	{ErrInsufficientFeatures, KindInsufficientFeatures},
	{ErrFeatureMismatch, KindFeatureMismatch},
	{ErrModelNotFound, KindModelNotFound},
	{ErrNotTrained, KindNotTrained},
	{ErrInvalidConfiguration, KindInvalidConfiguration},
	{ErrEmptyWindow, KindEmptyWindow},
	{ErrCollaboratorFailure, KindCollaboratorFailure},
}

// KindOf classifies err. Unrecognized errors are UnexpectedFailure.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnexpectedFailure
}

// IsDomainError reports whether err is recoverable by the caller and safe to surface verbatim.
func IsDomainError(err error) bool {
	switch KindOf(err) {
	case KindCollaboratorFailure, KindUnexpectedFailure, KindNone:
		return false
	default:
		return true
	}
}
