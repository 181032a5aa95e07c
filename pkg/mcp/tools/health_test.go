package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callHealth(t *testing.T, check HealthCheck, version string) healthResult {
	t.Helper()
	mcpServer := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterHealthTool(mcpServer, version, check)

	tc := &toolTestContext{t: t, mcpServer: mcpServer}
	result, err := tc.callTool("health", map[string]any{})
	require.NoError(t, err)

	var health healthResult
	decodeResult(t, result, &health)
	return health
}

func TestHealthTool_NoCheck(t *testing.T) {
	health := callHealth(t, nil, "1.2.3")

	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "1.2.3", health.Version)
	assert.Nil(t, health.Dependencies)
}

func TestHealthTool_ReportsDependencies(t *testing.T) {
	check := func(ctx context.Context) (string, map[string]string) {
		return "degraded", map[string]string{"postgres": "ok", "redis": "connection refused"}
	}

	health := callHealth(t, check, "1.2.3")

	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "connection refused", health.Dependencies["redis"])
}

func TestHealthTool_VersionWithSpecialChars(t *testing.T) {
	health := callHealth(t, nil, `1.0.0-beta"test`)
	assert.Equal(t, `1.0.0-beta"test`, health.Version)
}

func TestHealthTool_Listed(t *testing.T) {
	mcpServer := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterHealthTool(mcpServer, "v", nil)

	result := mcpServer.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"name":"health"`)
}
