package storage

import (
	"fmt"
	"strings"

	"telemetry-ml/internal/domain"
)

// ArtifactKind names one of the three files that make up a persisted model.
type ArtifactKind string

const (
	ArtifactModel    ArtifactKind = "model"
	ArtifactScaler   ArtifactKind = "scaler"
	ArtifactMetadata ArtifactKind = "metadata"
)

// ArtifactKinds lists the kinds in write order.
var ArtifactKinds = []ArtifactKind{ArtifactModel, ArtifactScaler, ArtifactMetadata}

// Artifacts is the unit persisted by a ModelStore.
type Artifacts struct {
	Model    []byte
	Scaler   []byte
	Metadata []byte
}

// Get returns the payload of one artifact kind.
func (a *Artifacts) Get(kind ArtifactKind) []byte {
	switch kind {
	case ArtifactModel:
		return a.Model
	case ArtifactScaler:
		return a.Scaler
	case ArtifactMetadata:
		return a.Metadata
	}
	return nil
}

// Set assigns the payload of one artifact kind.
func (a *Artifacts) Set(kind ArtifactKind, data []byte) {
	switch kind {
	case ArtifactModel:
		a.Model = data
	case ArtifactScaler:
		a.Scaler = data
	case ArtifactMetadata:
		a.Metadata = data
	}
}

// Validate checks that every artifact is present.
func (a *Artifacts) Validate() error {
	if a == nil {
		return ErrInvalidInput
	}
	for _, kind := range ArtifactKinds {
		if len(a.Get(kind)) == 0 {
			return fmt.Errorf("%w: missing %s", ErrIncompleteArtifacts, kind)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (a *Artifacts) Clone() *Artifacts {
	out := &Artifacts{}
	for _, kind := range ArtifactKinds {
		src := a.Get(kind)
		if src != nil {
			out.Set(kind, append([]byte(nil), src...))
		}
	}
	return out
}

// ModelKey identifies a stored model: the device for anomaly models, the
// device and metric field for forecast models.
type ModelKey struct {
	Kind     domain.ModelKind
	DeviceID string
	Field    string
}

// AnomalyKey returns the key of a device's anomaly model.
func AnomalyKey(deviceID string) ModelKey {
	return ModelKey{Kind: domain.ModelKindAnomaly, DeviceID: deviceID}
}

// ForecastKey returns the key of a device's forecast model for field.
func ForecastKey(deviceID, field string) ModelKey {
	return ModelKey{Kind: domain.ModelKindForecast, DeviceID: deviceID, Field: field}
}

// Validate checks the key is well formed for its kind.
func (k ModelKey) Validate() error {
	if strings.TrimSpace(k.DeviceID) == "" || strings.ContainsAny(k.DeviceID, "/\\\x00") {
		return fmt.Errorf("%w: device id %q", ErrInvalidInput, k.DeviceID)
	}
	switch k.Kind {
	case domain.ModelKindAnomaly:
		if k.Field != "" {
			return fmt.Errorf("%w: anomaly keys take no field", ErrInvalidInput)
		}
	case domain.ModelKindForecast:
		if k.Field == "" {
			return fmt.Errorf("%w: forecast keys need a field", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: model kind %q", ErrInvalidInput, k.Kind)
	}
	return nil
}

// Namespace is the directory-like grouping for the key's model kind.
func (k ModelKey) Namespace() string {
	return string(k.Kind)
}

// StorageID identifies the key inside a store. Device and field are
// length-prefixed, so distinct keys never share an id even when their
// artifact names coincide.
func (k ModelKey) StorageID() string {
	return fmt.Sprintf("%s/%d:%s/%d:%s", k.Namespace(), len(k.DeviceID), k.DeviceID, len(k.Field), k.Field)
}

// Prefix is the artifact name stem: "{device}" or "{device}_{field}". It is a
// label only: ("dev_x", "y") and ("dev", "x.y") share it. Stores key entries
// on StorageID or on the structured fields.
func (k ModelKey) Prefix() string {
	if k.Field == "" {
		return k.DeviceID
	}
	return k.DeviceID + "_" + SanitizeField(k.Field)
}

// ArtifactName returns the persisted name of one artifact, e.g. "dev1_model"
// or "dev1_system_cpuUsage_scaler".
func (k ModelKey) ArtifactName(kind ArtifactKind) string {
	return k.Prefix() + "_" + string(kind)
}

// String renders the key as "kind:device" or "kind:device#field".
func (k ModelKey) String() string {
	if k.Field == "" {
		return string(k.Kind) + ":" + k.DeviceID
	}
	return string(k.Kind) + ":" + k.DeviceID + "#" + k.Field
}

// SanitizeField makes a metric path safe for use in artifact names.
func SanitizeField(field string) string {
	var b strings.Builder
	b.Grow(len(field))
	for _, r := range field {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
