package handlers

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/geo"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/services"
)

// mockIndexingService is a func-field mock; unset funcs return zero values.
type mockIndexingService struct {
	resolveFunc func(ctx context.Context, region, geoField string) (*services.RegionBounds, error)
	densityFunc func(ctx context.Context, region, geoField string, bbox geo.BoundingBox, gridTiles int) (*services.DensityResult, error)
	startFunc   func(ctx context.Context, req services.StartIndexingRequest) (*services.StartIndexingResult, error)
	statusFunc  func(ctx context.Context, runID uuid.UUID) (*models.RunStatusView, error)
	latestFunc  func(ctx context.Context, region string) (*models.RunStatusView, error)
	retryFunc   func(ctx context.Context, runID uuid.UUID, mode services.ExecutionMode) (*services.RetryResult, error)
	cancelFunc  func(ctx context.Context, runID uuid.UUID) error
	pauseFunc   func(ctx context.Context, runID uuid.UUID) error
	resumeFunc  func(ctx context.Context, runID uuid.UUID, mode services.ExecutionMode) (models.RunStatus, error)
	dropFunc    func(ctx context.Context, runID uuid.UUID) error
	cellFunc    func(ctx context.Context, runID uuid.UUID, cellID string) (*services.CellDetail, error)
	events      chan services.Event
}

func (m *mockIndexingService) ResolveRegion(ctx context.Context, region, geoField string) (*services.RegionBounds, error) {
	if m.resolveFunc != nil {
		return m.resolveFunc(ctx, region, geoField)
	}
	return &services.RegionBounds{Region: region, GeoField: geoField}, nil
}

func (m *mockIndexingService) ComputeDensity(ctx context.Context, region, geoField string, bbox geo.BoundingBox, gridTiles int) (*services.DensityResult, error) {
	if m.densityFunc != nil {
		return m.densityFunc(ctx, region, geoField, bbox, gridTiles)
	}
	return &services.DensityResult{BBox: bbox, GridTiles: gridTiles}, nil
}

func (m *mockIndexingService) StartIndexing(ctx context.Context, req services.StartIndexingRequest) (*services.StartIndexingResult, error) {
	if m.startFunc != nil {
		return m.startFunc(ctx, req)
	}
	return &services.StartIndexingResult{RunID: uuid.New(), Status: models.RunStatusRunning, Mode: "uniform"}, nil
}

func (m *mockIndexingService) GetRunStatus(ctx context.Context, runID uuid.UUID) (*models.RunStatusView, error) {
	if m.statusFunc != nil {
		return m.statusFunc(ctx, runID)
	}
	return &models.RunStatusView{Run: &models.IndexingRun{ID: runID}}, nil
}

func (m *mockIndexingService) GetLatestRunStatus(ctx context.Context, region string) (*models.RunStatusView, error) {
	if m.latestFunc != nil {
		return m.latestFunc(ctx, region)
	}
	return &models.RunStatusView{Run: &models.IndexingRun{ID: uuid.New(), Region: region}}, nil
}

func (m *mockIndexingService) RetryFailedCells(ctx context.Context, runID uuid.UUID, mode services.ExecutionMode) (*services.RetryResult, error) {
	if m.retryFunc != nil {
		return m.retryFunc(ctx, runID, mode)
	}
	return &services.RetryResult{RunID: runID, Status: models.RunStatusRunning}, nil
}

func (m *mockIndexingService) CancelRun(ctx context.Context, runID uuid.UUID) error {
	if m.cancelFunc != nil {
		return m.cancelFunc(ctx, runID)
	}
	return nil
}

func (m *mockIndexingService) PauseRun(ctx context.Context, runID uuid.UUID) error {
	if m.pauseFunc != nil {
		return m.pauseFunc(ctx, runID)
	}
	return nil
}

func (m *mockIndexingService) ResumeRun(ctx context.Context, runID uuid.UUID, mode services.ExecutionMode) (models.RunStatus, error) {
	if m.resumeFunc != nil {
		return m.resumeFunc(ctx, runID, mode)
	}
	return models.RunStatusRunning, nil
}

func (m *mockIndexingService) DropRun(ctx context.Context, runID uuid.UUID) error {
	if m.dropFunc != nil {
		return m.dropFunc(ctx, runID)
	}
	return nil
}

func (m *mockIndexingService) GetCell(ctx context.Context, runID uuid.UUID, cellID string) (*services.CellDetail, error) {
	if m.cellFunc != nil {
		return m.cellFunc(ctx, runID, cellID)
	}
	return &services.CellDetail{RunID: runID, Cell: models.GridCell{ID: cellID, RunID: runID}, Features: []models.Feature{}}, nil
}

// SubscribeRun hands out m.events, or a channel that never delivers.
func (m *mockIndexingService) SubscribeRun(runID uuid.UUID) (<-chan services.Event, func()) {
	if m.events != nil {
		return m.events, func() {}
	}
	return make(chan services.Event), func() {}
}

type mockMappingService struct {
	saveFunc   func(ctx context.Context, cfg *models.MappingConfig) error
	getFunc    func(ctx context.Context, id string) (*models.MappingConfig, error)
	listFunc   func(ctx context.Context) ([]*models.MappingConfig, error)
	importFunc func(ctx context.Context, r io.Reader) ([]*models.MappingConfig, error)
}

func (m *mockMappingService) SaveMappingConfig(ctx context.Context, cfg *models.MappingConfig) error {
	if m.saveFunc != nil {
		return m.saveFunc(ctx, cfg)
	}
	return nil
}

func (m *mockMappingService) GetMappingConfig(ctx context.Context, id string) (*models.MappingConfig, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return &models.MappingConfig{ID: id}, nil
}

func (m *mockMappingService) ListMappingConfigs(ctx context.Context) ([]*models.MappingConfig, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx)
	}
	return []*models.MappingConfig{}, nil
}

func (m *mockMappingService) ImportYAML(ctx context.Context, r io.Reader) ([]*models.MappingConfig, error) {
	if m.importFunc != nil {
		return m.importFunc(ctx, r)
	}
	return []*models.MappingConfig{}, nil
}

type mockEnrichmentService struct {
	startFunc  func(ctx context.Context, req services.StartEnrichmentRequest) (*models.EnrichmentRun, error)
	statusFunc func(ctx context.Context, jobID uuid.UUID) (*models.EnrichmentRun, error)
	cancelFunc func(ctx context.Context, jobID uuid.UUID) error
	clearFunc  func(ctx context.Context, region string, fields []string) (int, error)
	events     chan services.Event
}

func (m *mockEnrichmentService) StartEnrichment(ctx context.Context, req services.StartEnrichmentRequest) (*models.EnrichmentRun, error) {
	if m.startFunc != nil {
		return m.startFunc(ctx, req)
	}
	return &models.EnrichmentRun{ID: uuid.New(), RunID: req.RunID, Status: models.EnrichmentStatusRunning}, nil
}

func (m *mockEnrichmentService) GetEnrichmentStatus(ctx context.Context, jobID uuid.UUID) (*models.EnrichmentRun, error) {
	if m.statusFunc != nil {
		return m.statusFunc(ctx, jobID)
	}
	return &models.EnrichmentRun{ID: jobID, Status: models.EnrichmentStatusRunning}, nil
}

func (m *mockEnrichmentService) CancelEnrichment(ctx context.Context, jobID uuid.UUID) error {
	if m.cancelFunc != nil {
		return m.cancelFunc(ctx, jobID)
	}
	return nil
}

func (m *mockEnrichmentService) ClearEnrichmentFields(ctx context.Context, region string, fields []string) (int, error) {
	if m.clearFunc != nil {
		return m.clearFunc(ctx, region, fields)
	}
	return 0, nil
}

func (m *mockEnrichmentService) SubscribeJob(jobID uuid.UUID) (<-chan services.Event, func()) {
	if m.events != nil {
		return m.events, func() {}
	}
	return make(chan services.Event), func() {}
}
