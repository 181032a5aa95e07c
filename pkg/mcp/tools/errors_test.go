package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/apperrors"
)

// getTextContent extracts the text string from the first text content item
func getTextContent(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return ""
	}
	jsonBytes, _ := json.Marshal(result.Content[0])
	var textContent struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	_ = json.Unmarshal(jsonBytes, &textContent)
	return textContent.Text
}

func TestNewErrorResult(t *testing.T) {
	result := NewErrorResult("not_found", "run not found")

	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	assert.True(t, result.IsError)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &errResp))
	assert.True(t, errResp.Error)
	assert.Equal(t, "not_found", errResp.Code)
	assert.Equal(t, "run not found", errResp.Message)
	assert.Nil(t, errResp.Details)
}

func TestNewErrorResultWithDetails(t *testing.T) {
	result := NewErrorResultWithDetails("duplicate_field", "target field used twice",
		map[string]any{"field": "road_name", "count": 2})

	assert.JSONEq(t,
		`{"error":true,"code":"duplicate_field","message":"target field used twice","details":{"field":"road_name","count":2}}`,
		getTextContent(result))
}

func TestServiceErrorResult(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"configuration", apperrors.NewConfigurationError(apperrors.CodeInvalidBBox, "bad bbox"), apperrors.CodeInvalidBBox},
		{"wrapped not found", fmt.Errorf("get run: %w", apperrors.ErrNotFound), "not_found"},
		{"run active", apperrors.ErrRunActive, "run_active"},
		{"job active", apperrors.ErrJobActive, "job_active"},
		{"not active", apperrors.ErrRunNotActive, "not_active"},
		{"conflict", apperrors.ErrConflict, "conflict"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := serviceErrorResult(tt.err)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, decodeErrorResult(t, result).Code)
		})
	}

	t.Run("system failure stays an error", func(t *testing.T) {
		boom := errors.New("connection reset")
		result, err := serviceErrorResult(boom)
		assert.Nil(t, result)
		assert.Same(t, boom, err)
	})
}
