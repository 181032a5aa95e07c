package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// HealthCheck reports the overall status and per-dependency detail.
type HealthCheck func(ctx context.Context) (string, map[string]string)

type healthResult struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// check may be nil, in which case the tool always reports "ok".
func RegisterHealthTool(s *server.MCPServer, version string, check HealthCheck) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status, version and backing store reachability"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := healthResult{Status: "ok", Version: version}
		if check != nil {
			result.Status, result.Dependencies = check(ctx)
		}
		return jsonResult(result)
	})
}
