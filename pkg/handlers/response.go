package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/dbower44022/CRMExtender-sub005/pkg/apperrors"
)

// ApiResponse is the uniform envelope of every JSON response.
type ApiResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeDomainError maps engine errors to HTTP responses. Typed errors keep
// their diagnostics: validation errors carry position and suggestion, edit
// rejections carry the failed condition.
func writeDomainError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var ve *apperrors.ValidationError
	var ena *apperrors.EditNotAllowed
	var sr *apperrors.StaleReference
	var pe *apperrors.PermissionError
	var re *apperrors.RegistrationError

	var writeErr error
	switch {
	case errors.As(err, &ve):
		writeErr = WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error":      "validation_error",
			"message":    ve.Message,
			"identifier": ve.Identifier,
			"position":   ve.Position,
			"suggestion": ve.Suggestion,
		})
	case errors.As(err, &ena):
		writeErr = WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":     "edit_not_allowed",
			"column":    ena.Column,
			"condition": string(ena.Condition),
		})
	case errors.As(err, &sr):
		writeErr = WriteJSON(w, http.StatusConflict, map[string]any{
			"error":  "stale_reference",
			"kind":   sr.Kind,
			"column": sr.Column,
		})
	case errors.As(err, &pe):
		writeErr = ErrorResponse(w, http.StatusForbidden, "permission_denied", pe.Error())
	case errors.As(err, &re):
		writeErr = ErrorResponse(w, http.StatusConflict, "registration_failed", re.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		writeErr = ErrorResponse(w, http.StatusNotFound, "not_found", "data source not found")
	case errors.Is(err, apperrors.ErrConcurrentEdit):
		writeErr = ErrorResponse(w, http.StatusConflict, "concurrent_edit", err.Error())
	case errors.Is(err, apperrors.ErrDataSourceDeleted):
		writeErr = ErrorResponse(w, http.StatusGone, "data_source_deleted", err.Error())
	case errors.Is(err, apperrors.ErrExecutionTimeout):
		writeErr = ErrorResponse(w, http.StatusGatewayTimeout, "execution_timeout", err.Error())
	default:
		logger.Error("request failed", zap.Error(err))
		writeErr = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
	if writeErr != nil {
		logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}
