package apperrors

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrRunActive    = errors.New("an indexing run is already active for this region")
	ErrRunNotActive = errors.New("run is not active")
	ErrJobActive    = errors.New("an enrichment job is already active for this run")
)

// Configuration error codes. These are surfaced to callers verbatim.
const (
	CodeInvalidBBox     = "invalid_bbox"
	CodeInvalidGrid     = "invalid_grid"
	CodeDuplicateField  = "duplicate_field"
	CodeUnknownGeoField = "unknown_geo_field"
	CodeInvalidMapping  = "invalid_mapping"
	CodeRunNotCompleted = "run_not_completed"
	CodeInvalidRequest  = "invalid_request"
)

// ConfigurationError is returned for invalid caller input. It is never retried.
type ConfigurationError struct {
	Code    string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewConfigurationError builds a ConfigurationError with a formatted message.
func NewConfigurationError(code, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsConfiguration reports whether err wraps a ConfigurationError and returns it.
func IsConfiguration(err error) (*ConfigurationError, bool) {
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// RateLimitError signals that the feature service throttled the request.
// RetryAfter is zero when the service did not say how long to wait.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %s", e.RetryAfter, e.Message)
	}
	return "rate limited: " + e.Message
}

// IsRateLimit reports whether err wraps a RateLimitError and returns it.
func IsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
