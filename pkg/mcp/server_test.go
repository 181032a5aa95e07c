package mcp

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/mcp/tools"
)

func TestNewServer(t *testing.T) {
	logger := zap.NewNop()
	s := NewServer("test-server", "1.0.0", logger)

	require.NotNil(t, s)
	require.NotNil(t, s.mcp)
	assert.Same(t, s.mcp, s.MCP())
	assert.NotNil(t, s.NewStreamableHTTPServer())
}

func TestServer_RegisterTools(t *testing.T) {
	s := NewServer("test-server", "1.0.0", zap.NewNop())
	deps := &tools.GeoToolDeps{}
	s.RegisterTools("1.0.0", deps, nil)

	assert.NotNil(t, deps.Logger, "server logger is used when deps carry none")

	result := s.mcp.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))
	raw, err := json.Marshal(result)
	require.NoError(t, err)

	var response struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &response))

	var names []string
	for _, tool := range response.Result.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)

	assert.Equal(t, []string{
		"cancel_enrichment",
		"cancel_run",
		"clear_enrichment_fields",
		"compute_density",
		"drop_run",
		"get_enrichment_status",
		"get_run_status",
		"health",
		"resolve_region",
		"retry_failed_cells",
		"save_mapping_config",
		"start_enrichment",
		"start_indexing",
	}, names)
}
