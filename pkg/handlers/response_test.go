package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/apperrors"
)

func TestErrorResponse(t *testing.T) {
	w := httptest.NewRecorder()

	if err := ErrorResponse(w, http.StatusConflict, "run_active", "busy"); err != nil {
		t.Fatalf("ErrorResponse returned error: %v", err)
	}

	if w.Code != http.StatusConflict {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusConflict)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body["error"] != "run_active" || body["message"] != "busy" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteJSON_UnencodableData(t *testing.T) {
	w := httptest.NewRecorder()
	if err := WriteJSON(w, http.StatusOK, make(chan int)); err == nil {
		t.Error("expected error for unencodable data, got nil")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"configuration", apperrors.NewConfigurationError(apperrors.CodeInvalidBBox, "min_lat must be below max_lat"), http.StatusBadRequest, apperrors.CodeInvalidBBox},
		{"wrapped configuration", fmt.Errorf("start: %w", apperrors.NewConfigurationError(apperrors.CodeInvalidGrid, "x")), http.StatusBadRequest, apperrors.CodeInvalidGrid},
		{"not found", fmt.Errorf("run 1: %w", apperrors.ErrNotFound), http.StatusNotFound, "not_found"},
		{"run active", apperrors.ErrRunActive, http.StatusConflict, "run_active"},
		{"job active", apperrors.ErrJobActive, http.StatusConflict, "job_active"},
		{"not active", apperrors.ErrRunNotActive, http.StatusConflict, "not_active"},
		{"conflict", apperrors.ErrConflict, http.StatusConflict, "conflict"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _ := classifyError(tt.err, "fallback")
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestWriteError_LogsOnlyServerErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	writeError(httptest.NewRecorder(), apperrors.ErrNotFound, "get_failed", logger)
	if logs.Len() != 0 {
		t.Errorf("expected no logs for a 404, got %d", logs.Len())
	}

	writeError(httptest.NewRecorder(), errors.New("db down"), "get_failed", logger)
	if logs.Len() != 1 {
		t.Fatalf("expected one log for a 500, got %d", logs.Len())
	}
	if got := logs.All()[0].ContextMap()["error_code"]; got != "get_failed" {
		t.Errorf("error_code = %v, want get_failed", got)
	}
}
