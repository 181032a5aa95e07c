package tools

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results.
// Actionable errors are returned as tool results so the calling agent sees
// the code and message instead of a bare protocol failure.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for errors the caller can act on (bad parameters, unknown run).
// Store and transport failures should still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// serviceErrorResult converts a service error into a tool result when the
// caller can act on it. Other errors are returned unchanged.
func serviceErrorResult(err error) (*mcp.CallToolResult, error) {
	if cfgErr, ok := apperrors.IsConfiguration(err); ok {
		return NewErrorResult(cfgErr.Code, cfgErr.Message), nil
	}
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return NewErrorResult("not_found", err.Error()), nil
	case errors.Is(err, apperrors.ErrRunActive):
		return NewErrorResult("run_active", err.Error()), nil
	case errors.Is(err, apperrors.ErrJobActive):
		return NewErrorResult("job_active", err.Error()), nil
	case errors.Is(err, apperrors.ErrRunNotActive):
		return NewErrorResult("not_active", err.Error()), nil
	case errors.Is(err, apperrors.ErrConflict):
		return NewErrorResult("conflict", err.Error()), nil
	}
	return nil, err
}
