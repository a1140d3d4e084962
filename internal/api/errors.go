package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"telemetry-ml/internal/domain"
)

// APIError is the body of every non-2xx response.
type APIError struct {
	Error     string            `json:"error"`
	Code      string            `json:"code,omitempty"`
	Message   string            `json:"message"`
	RequestID string            `json:"requestId,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Codes outside the domain error taxonomy.
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

const genericMessage = "internal error, see server logs"

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch domain.KindOf(err) {
	case domain.KindInsufficientData,
		domain.KindInsufficientFeatures,
		domain.KindFeatureMismatch,
		domain.KindInvalidConfiguration,
		domain.KindEmptyWindow:
		return http.StatusBadRequest
	case domain.KindModelNotFound, domain.KindNotTrained:
		return http.StatusNotFound
	case domain.KindCollaboratorFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err. Domain errors are surfaced verbatim; anything
// else is logged and replaced by a generic message.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	kind := domain.KindOf(err)
	requestID := RequestIDFrom(r.Context())

	body := APIError{
		Error:     string(kind),
		Code:      string(kind),
		Message:   err.Error(),
		RequestID: requestID,
	}
	if !domain.IsDomainError(err) {
		h.logger.Error("request failed",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
		body.Message = genericMessage
		if status == http.StatusGatewayTimeout {
			body.Code = ErrCodeTimeout
		} else if kind == domain.KindUnexpectedFailure {
			body.Code = ErrCodeInternalError
		}
	}
	respondJSON(w, status, body)
}

// respondBadRequest reports a malformed request parameter.
func (h *Handler) respondBadRequest(w http.ResponseWriter, r *http.Request, param, message string) {
	respondJSON(w, http.StatusBadRequest, APIError{
		Error:     ErrCodeInvalidRequest,
		Code:      ErrCodeInvalidRequest,
		Message:   message,
		RequestID: RequestIDFrom(r.Context()),
		Details:   map[string]string{"parameter": param},
	})
}
