package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/geo"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/services"
)

type mockIndexing struct {
	resolveFunc func(ctx context.Context, region, geoField string) (*services.RegionBounds, error)
	densityFunc func(ctx context.Context, region, geoField string, bbox geo.BoundingBox, gridTiles int) (*services.DensityResult, error)
	startFunc   func(ctx context.Context, req services.StartIndexingRequest) (*services.StartIndexingResult, error)
	statusFunc  func(ctx context.Context, runID uuid.UUID) (*models.RunStatusView, error)
	latestFunc  func(ctx context.Context, region string) (*models.RunStatusView, error)
	retryFunc   func(ctx context.Context, runID uuid.UUID, mode services.ExecutionMode) (*services.RetryResult, error)
	cancelFunc  func(ctx context.Context, runID uuid.UUID) error
	dropFunc    func(ctx context.Context, runID uuid.UUID) error
}

func (m *mockIndexing) ResolveRegion(ctx context.Context, region, geoField string) (*services.RegionBounds, error) {
	if m.resolveFunc == nil {
		return nil, fmt.Errorf("unexpected ResolveRegion")
	}
	return m.resolveFunc(ctx, region, geoField)
}

func (m *mockIndexing) ComputeDensity(ctx context.Context, region, geoField string, bbox geo.BoundingBox, gridTiles int) (*services.DensityResult, error) {
	if m.densityFunc == nil {
		return nil, fmt.Errorf("unexpected ComputeDensity")
	}
	return m.densityFunc(ctx, region, geoField, bbox, gridTiles)
}

func (m *mockIndexing) StartIndexing(ctx context.Context, req services.StartIndexingRequest) (*services.StartIndexingResult, error) {
	if m.startFunc == nil {
		return nil, fmt.Errorf("unexpected StartIndexing")
	}
	return m.startFunc(ctx, req)
}

func (m *mockIndexing) GetRunStatus(ctx context.Context, runID uuid.UUID) (*models.RunStatusView, error) {
	if m.statusFunc == nil {
		return nil, fmt.Errorf("unexpected GetRunStatus")
	}
	return m.statusFunc(ctx, runID)
}

func (m *mockIndexing) GetLatestRunStatus(ctx context.Context, region string) (*models.RunStatusView, error) {
	if m.latestFunc == nil {
		return nil, fmt.Errorf("unexpected GetLatestRunStatus")
	}
	return m.latestFunc(ctx, region)
}

func (m *mockIndexing) RetryFailedCells(ctx context.Context, runID uuid.UUID, mode services.ExecutionMode) (*services.RetryResult, error) {
	if m.retryFunc == nil {
		return nil, fmt.Errorf("unexpected RetryFailedCells")
	}
	return m.retryFunc(ctx, runID, mode)
}

func (m *mockIndexing) CancelRun(ctx context.Context, runID uuid.UUID) error {
	if m.cancelFunc == nil {
		return fmt.Errorf("unexpected CancelRun")
	}
	return m.cancelFunc(ctx, runID)
}

func (m *mockIndexing) DropRun(ctx context.Context, runID uuid.UUID) error {
	if m.dropFunc == nil {
		return fmt.Errorf("unexpected DropRun")
	}
	return m.dropFunc(ctx, runID)
}

type mockMappings struct {
	saveFunc   func(ctx context.Context, cfg *models.MappingConfig) error
	importFunc func(ctx context.Context, r io.Reader) ([]*models.MappingConfig, error)
}

func (m *mockMappings) SaveMappingConfig(ctx context.Context, cfg *models.MappingConfig) error {
	if m.saveFunc == nil {
		return fmt.Errorf("unexpected SaveMappingConfig")
	}
	return m.saveFunc(ctx, cfg)
}

func (m *mockMappings) ImportYAML(ctx context.Context, r io.Reader) ([]*models.MappingConfig, error) {
	if m.importFunc == nil {
		return nil, fmt.Errorf("unexpected ImportYAML")
	}
	return m.importFunc(ctx, r)
}

type mockEnrichment struct {
	startFunc  func(ctx context.Context, req services.StartEnrichmentRequest) (*models.EnrichmentRun, error)
	statusFunc func(ctx context.Context, jobID uuid.UUID) (*models.EnrichmentRun, error)
	cancelFunc func(ctx context.Context, jobID uuid.UUID) error
	clearFunc  func(ctx context.Context, region string, fields []string) (int, error)
}

func (m *mockEnrichment) StartEnrichment(ctx context.Context, req services.StartEnrichmentRequest) (*models.EnrichmentRun, error) {
	if m.startFunc == nil {
		return nil, fmt.Errorf("unexpected StartEnrichment")
	}
	return m.startFunc(ctx, req)
}

func (m *mockEnrichment) GetEnrichmentStatus(ctx context.Context, jobID uuid.UUID) (*models.EnrichmentRun, error) {
	if m.statusFunc == nil {
		return nil, fmt.Errorf("unexpected GetEnrichmentStatus")
	}
	return m.statusFunc(ctx, jobID)
}

func (m *mockEnrichment) CancelEnrichment(ctx context.Context, jobID uuid.UUID) error {
	if m.cancelFunc == nil {
		return fmt.Errorf("unexpected CancelEnrichment")
	}
	return m.cancelFunc(ctx, jobID)
}

func (m *mockEnrichment) ClearEnrichmentFields(ctx context.Context, region string, fields []string) (int, error) {
	if m.clearFunc == nil {
		return 0, fmt.Errorf("unexpected ClearEnrichmentFields")
	}
	return m.clearFunc(ctx, region, fields)
}

// toolTestContext holds an MCP server with the geo tools registered against mocks.
type toolTestContext struct {
	t          *testing.T
	mcpServer  *server.MCPServer
	indexing   *mockIndexing
	mappings   *mockMappings
	enrichment *mockEnrichment
}

func newToolTestContext(t *testing.T) *toolTestContext {
	t.Helper()
	tc := &toolTestContext{
		t:          t,
		mcpServer:  server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true)),
		indexing:   &mockIndexing{},
		mappings:   &mockMappings{},
		enrichment: &mockEnrichment{},
	}
	RegisterGeoTools(tc.mcpServer, &GeoToolDeps{
		Indexing:   tc.indexing,
		Mappings:   tc.mappings,
		Enrichment: tc.enrichment,
		Logger:     zap.NewNop(),
	})
	return tc
}

// mcpError represents an MCP JSON-RPC error.
type mcpError struct {
	Code    int
	Message string
}

func (e *mcpError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// callTool executes an MCP tool via the server's HandleMessage method.
func (tc *toolTestContext) callTool(toolName string, arguments map[string]any) (*mcp.CallToolResult, error) {
	tc.t.Helper()

	callReq := map[string]any{
		"jsonrpc": "2.0",
		"method":  "tools/call",
		"id":      1,
		"params": map[string]any{
			"name":      toolName,
			"arguments": arguments,
		},
	}
	reqBytes, err := json.Marshal(callReq)
	require.NoError(tc.t, err)

	result := tc.mcpServer.HandleMessage(context.Background(), reqBytes)

	resultBytes, err := json.Marshal(result)
	require.NoError(tc.t, err)

	var response struct {
		Result *mcp.CallToolResult `json:"result,omitempty"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
	require.NoError(tc.t, json.Unmarshal(resultBytes, &response))

	if response.Error != nil {
		return nil, &mcpError{Code: response.Error.Code, Message: response.Error.Message}
	}
	return response.Result, nil
}

// decodeResult unmarshals the JSON text content of a successful result.
func decodeResult(t *testing.T, result *mcp.CallToolResult, v any) {
	t.Helper()
	require.NotNil(t, result)
	require.False(t, result.IsError, "unexpected error result: %s", getTextContent(result))
	require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), v))
}

// decodeErrorResult returns the structured error of an error result.
func decodeErrorResult(t *testing.T, result *mcp.CallToolResult) ErrorResponse {
	t.Helper()
	require.NotNil(t, result)
	require.True(t, result.IsError)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &resp))
	return resp
}
