package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/apperrors"
)

// ApiResponse wraps data in the envelope every operator endpoint returns.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
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
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeData writes a successful ApiResponse.
func writeData(w http.ResponseWriter, statusCode int, data any, logger *zap.Logger) {
	if err := WriteJSON(w, statusCode, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

// writeError writes err as an error response. Configuration errors surface
// their code, sentinels map to 404/409, and anything else is a 500 under
// fallbackCode.
func writeError(w http.ResponseWriter, err error, fallbackCode string, logger *zap.Logger) {
	status, code, message := classifyError(err, fallbackCode)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.String("error_code", code), zap.Error(err))
	}
	if werr := ErrorResponse(w, status, code, message); werr != nil {
		logger.Error("Failed to write error response", zap.Error(werr))
	}
}

func classifyError(err error, fallbackCode string) (int, string, string) {
	if cfgErr, ok := apperrors.IsConfiguration(err); ok {
		return http.StatusBadRequest, cfgErr.Code, cfgErr.Message
	}
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, apperrors.ErrRunActive):
		return http.StatusConflict, "run_active", err.Error()
	case errors.Is(err, apperrors.ErrJobActive):
		return http.StatusConflict, "job_active", err.Error()
	case errors.Is(err, apperrors.ErrRunNotActive):
		return http.StatusConflict, "not_active", err.Error()
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict", err.Error()
	}
	return http.StatusInternalServerError, fallbackCode, err.Error()
}

// decodeBody decodes a JSON request body into dst, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return false
	}
	return true
}
