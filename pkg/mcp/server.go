package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/mcp/tools"
)

// Server wraps the mcp-go MCPServer and registers the geo-enrichment tools.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer creates a new MCP server instance. Protocol-level failures are
// logged at warn; tool results carrying errors are counted by the HTTP
// middleware instead.
func NewServer(name, version string, logger *zap.Logger) *Server {
	hooks := &server.Hooks{}
	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		logger.Warn("MCP request failed",
			zap.Any("id", id),
			zap.String("method", string(method)),
			zap.Error(err))
	})

	mcpServer := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
	)

	return &Server{
		mcp:    mcpServer,
		logger: logger,
	}
}

// MCP returns the underlying MCPServer for tool registration.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// RegisterTools registers the health tool and every indexing, mapping and
// enrichment tool.
func (s *Server) RegisterTools(version string, deps *tools.GeoToolDeps, check tools.HealthCheck) {
	if deps.Logger == nil {
		deps.Logger = s.logger
	}
	tools.RegisterHealthTool(s.mcp, version, check)
	tools.RegisterGeoTools(s.mcp, deps)
}

// NewStreamableHTTPServer creates an HTTP transport server wrapping this MCP server.
// The HTTP mux handles routing to /mcp, so no endpoint path is configured here.
func (s *Server) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
	)
}
