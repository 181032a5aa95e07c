package tools

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/geo"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/services"
)

// IndexingService is the indexing surface the tools call.
type IndexingService interface {
	ResolveRegion(ctx context.Context, region, geoField string) (*services.RegionBounds, error)
	ComputeDensity(ctx context.Context, region, geoField string, bbox geo.BoundingBox, gridTiles int) (*services.DensityResult, error)
	StartIndexing(ctx context.Context, req services.StartIndexingRequest) (*services.StartIndexingResult, error)
	GetRunStatus(ctx context.Context, runID uuid.UUID) (*models.RunStatusView, error)
	GetLatestRunStatus(ctx context.Context, region string) (*models.RunStatusView, error)
	RetryFailedCells(ctx context.Context, runID uuid.UUID, mode services.ExecutionMode) (*services.RetryResult, error)
	CancelRun(ctx context.Context, runID uuid.UUID) error
	DropRun(ctx context.Context, runID uuid.UUID) error
}

// MappingService is the mapping config surface the tools call.
type MappingService interface {
	SaveMappingConfig(ctx context.Context, cfg *models.MappingConfig) error
	ImportYAML(ctx context.Context, r io.Reader) ([]*models.MappingConfig, error)
}

// EnrichmentService is the enrichment surface the tools call.
type EnrichmentService interface {
	StartEnrichment(ctx context.Context, req services.StartEnrichmentRequest) (*models.EnrichmentRun, error)
	GetEnrichmentStatus(ctx context.Context, jobID uuid.UUID) (*models.EnrichmentRun, error)
	CancelEnrichment(ctx context.Context, jobID uuid.UUID) error
	ClearEnrichmentFields(ctx context.Context, region string, fields []string) (int, error)
}

var (
	_ IndexingService   = (*services.IndexingService)(nil)
	_ MappingService    = (*services.MappingService)(nil)
	_ EnrichmentService = (*services.EnrichmentService)(nil)
)

// GeoToolDeps contains dependencies for the indexing and enrichment tools.
type GeoToolDeps struct {
	Indexing   IndexingService
	Mappings   MappingService
	Enrichment EnrichmentService
	Logger     *zap.Logger
}

// RegisterGeoTools registers every indexing, mapping and enrichment tool.
func RegisterGeoTools(s *server.MCPServer, deps *GeoToolDeps) {
	registerResolveRegionTool(s, deps)
	registerComputeDensityTool(s, deps)
	registerStartIndexingTool(s, deps)
	registerGetRunStatusTool(s, deps)
	registerRetryFailedCellsTool(s, deps)
	registerCancelRunTool(s, deps)
	registerDropRunTool(s, deps)

	registerSaveMappingConfigTool(s, deps)
	registerStartEnrichmentTool(s, deps)
	registerGetEnrichmentStatusTool(s, deps)
	registerCancelEnrichmentTool(s, deps)
	registerClearEnrichmentFieldsTool(s, deps)
}
