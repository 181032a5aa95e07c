package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/config"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/geo"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/repositories"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/services/grid"
)

// ExecutionMode selects whether an operation returns immediately or blocks
// until its background work has settled.
type ExecutionMode string

const (
	ExecutionAsync ExecutionMode = "async"
	ExecutionSync  ExecutionMode = "sync"
)

// ParseExecutionMode accepts "", "async" and "sync". Empty means async.
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch ExecutionMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ExecutionAsync:
		return ExecutionAsync, nil
	case ExecutionSync:
		return ExecutionSync, nil
	}
	return "", apperrors.NewConfigurationError(apperrors.CodeInvalidRequest,
		"execution_mode must be \"async\" or \"sync\", got %q", s)
}

// RegionBounds is the auto-detected extent of a region's records.
type RegionBounds struct {
	Region         string          `json:"region"`
	GeoField       string          `json:"geo_field"`
	BBox           geo.BoundingBox `json:"bbox"`
	TotalRecords   int             `json:"total_records"`
	LocatedRecords int             `json:"located_records"`
}

// DensityResult is the per-cell sample count of a uniform density grid.
type DensityResult struct {
	BBox         geo.BoundingBox    `json:"bbox"`
	GridTiles    int                `json:"grid_tiles"`
	Cells        map[string]float64 `json:"cells"`
	TotalSamples float64            `json:"total_samples"`
}

// StartIndexingRequest describes a new indexing run. BBox is resolved from the
// region's records when nil. Quadtree selects adaptive partitioning; otherwise
// GridTiles (or the configured default) selects a uniform grid.
type StartIndexingRequest struct {
	Region        string                 `json:"region"`
	GeoField      string                 `json:"geo_field"`
	BBox          *geo.BoundingBox       `json:"bbox,omitempty"`
	GridTiles     int                    `json:"grid_tiles,omitempty"`
	Quadtree      *models.QuadtreeConfig `json:"quadtree,omitempty"`
	Categories    []string               `json:"categories"`
	ExecutionMode ExecutionMode          `json:"execution_mode,omitempty"`
}

// StartIndexingResult is returned once the run's cells are persisted.
type StartIndexingResult struct {
	RunID      uuid.UUID        `json:"run_id"`
	Status     models.RunStatus `json:"status"`
	Mode       string           `json:"mode"`
	TotalCells int              `json:"total_cells"`
	Fetchable  int              `json:"fetchable_cells"`
}

// RetryResult reports how many cells an explicit retry reset.
type RetryResult struct {
	RunID      uuid.UUID        `json:"run_id"`
	ResetCells int              `json:"reset_cells"`
	Status     models.RunStatus `json:"status"`
}

// CellDetail is one cell of a run with the features stored for it.
type CellDetail struct {
	RunID    uuid.UUID        `json:"run_id"`
	Cell     models.GridCell  `json:"cell"`
	Features []models.Feature `json:"features"`
}

const runEventBuffer = 64

// IndexingService partitions regions into cells and manages indexing runs.
type IndexingService struct {
	store       repositories.JobStateStore
	records     repositories.RecordStore
	coordinator *CellJobCoordinator
	watcher     *RunWatcher
	cfg         config.IndexingConfig
	logger      *zap.Logger

	// admitting holds the ids of runs with a retry or resume in progress.
	admitting sync.Map
}

// NewIndexingService creates the indexing service. The watcher may be nil.
func NewIndexingService(
	store repositories.JobStateStore,
	records repositories.RecordStore,
	coordinator *CellJobCoordinator,
	watcher *RunWatcher,
	cfg config.IndexingConfig,
	logger *zap.Logger,
) *IndexingService {
	return &IndexingService{
		store:       store,
		records:     records,
		coordinator: coordinator,
		watcher:     watcher,
		cfg:         cfg,
		logger:      logger.Named("indexing"),
	}
}

// ============================================================================
// Region Resolution & Density
// ============================================================================

// loadPoints parses the geo field of every record in the region. Records
// without a parseable coordinate are skipped. It returns unknown_geo_field
// when the region has records but none of them carries the field.
func (s *IndexingService) loadPoints(ctx context.Context, region, geoField string) ([]geo.Point, int, error) {
	if strings.TrimSpace(region) == "" || strings.TrimSpace(geoField) == "" {
		return nil, 0, apperrors.NewConfigurationError(apperrors.CodeInvalidRequest, "region and geo_field are required")
	}

	locs, err := s.records.ListLocations(ctx, region, geoField)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load record locations: %w", err)
	}

	points := make([]geo.Point, 0, len(locs))
	present := 0
	for _, loc := range locs {
		if loc.Value == nil {
			continue
		}
		present++
		p, err := geo.ParseCoordinate(loc.Value)
		if err != nil {
			continue
		}
		points = append(points, p)
	}

	if len(locs) > 0 && present == 0 {
		return nil, len(locs), apperrors.NewConfigurationError(apperrors.CodeUnknownGeoField,
			"no record in region %q has the field %q", region, geoField)
	}
	return points, len(locs), nil
}

// ResolveRegion returns the tight bounding box of all located records.
func (s *IndexingService) ResolveRegion(ctx context.Context, region, geoField string) (*RegionBounds, error) {
	points, total, err := s.loadPoints(ctx, region, geoField)
	if err != nil {
		return nil, err
	}
	bbox, ok := geo.BoundsOf(points)
	if !ok {
		return nil, apperrors.NewConfigurationError(apperrors.CodeInvalidBBox,
			"region %q has no records with a valid coordinate in %q", region, geoField)
	}

	s.logger.Debug("Resolved region bounds",
		zap.String("region", region),
		zap.String("geo_field", geoField),
		zap.String("bbox", bbox.String()),
		zap.Int("located", len(points)))

	return &RegionBounds{
		Region:         region,
		GeoField:       geoField,
		BBox:           bbox,
		TotalRecords:   total,
		LocatedRecords: len(points),
	}, nil
}

// ComputeDensity counts the region's records per cell of an n×n grid over bbox.
func (s *IndexingService) ComputeDensity(ctx context.Context, region, geoField string, bbox geo.BoundingBox, gridTiles int) (*DensityResult, error) {
	if err := s.validateBBox(bbox); err != nil {
		return nil, err
	}
	if err := s.validateGridTiles(gridTiles); err != nil {
		return nil, err
	}
	points, _, err := s.loadPoints(ctx, region, geoField)
	if err != nil {
		return nil, err
	}
	cells, err := grid.Density(bbox, gridTiles, points)
	if err != nil {
		return nil, apperrors.NewConfigurationError(apperrors.CodeInvalidGrid, "%s", err.Error())
	}

	out := &DensityResult{BBox: bbox, GridTiles: gridTiles, Cells: grid.DensityMap(cells)}
	for _, c := range cells {
		out.TotalSamples += c.SampleCount
	}
	return out, nil
}

func (s *IndexingService) validateBBox(bbox geo.BoundingBox) error {
	if err := bbox.Validate(); err != nil {
		return apperrors.NewConfigurationError(apperrors.CodeInvalidBBox, "%s", err.Error())
	}
	return nil
}

func (s *IndexingService) validateGridTiles(n int) error {
	if n < 1 || n > s.cfg.MaxGridTiles {
		return apperrors.NewConfigurationError(apperrors.CodeInvalidGrid,
			"grid_tiles must be between 1 and %d, got %d", s.cfg.MaxGridTiles, n)
	}
	return nil
}

// ============================================================================
// Runs
// ============================================================================

// StartIndexing partitions the region and dispatches a fetch for every
// non-empty cell. In sync mode it returns after the run has settled.
func (s *IndexingService) StartIndexing(ctx context.Context, req StartIndexingRequest) (*StartIndexingResult, error) {
	if strings.TrimSpace(req.Region) == "" {
		return nil, apperrors.NewConfigurationError(apperrors.CodeInvalidRequest, "region is required")
	}
	mode, err := ParseExecutionMode(string(req.ExecutionMode))
	if err != nil {
		return nil, err
	}
	categories, err := normalizeCategories(req.Categories)
	if err != nil {
		return nil, err
	}

	var bbox geo.BoundingBox
	if req.BBox != nil {
		bbox = *req.BBox
		if err := s.validateBBox(bbox); err != nil {
			return nil, err
		}
	} else {
		bounds, err := s.ResolveRegion(ctx, req.Region, req.GeoField)
		if err != nil {
			return nil, err
		}
		bbox = bounds.BBox
	}

	now := time.Now()
	run := &models.IndexingRun{
		ID:         uuid.New(),
		Region:     req.Region,
		GeoField:   req.GeoField,
		BBox:       bbox,
		Categories: categories,
		Status:     models.RunStatusRunning,
		StartedAt:  &now,
	}

	var partition []grid.Cell
	if req.Quadtree != nil {
		partition, err = s.partitionQuadtree(ctx, run, *req.Quadtree)
	} else {
		partition, err = s.partitionUniform(run, req.GridTiles)
	}
	if err != nil {
		return nil, err
	}

	cells := make([]models.GridCell, len(partition))
	for i, c := range partition {
		cells[i] = c.ToGridCell()
	}
	progress := models.ComputeRunProgress(cells)

	if err := s.store.CreateRun(ctx, run, cells); err != nil {
		if errors.Is(err, apperrors.ErrRunActive) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create indexing run: %w", err)
	}

	s.logger.Info("Starting indexing run",
		zap.String("run_id", run.ID.String()),
		zap.String("region", run.Region),
		zap.String("mode", string(run.Mode)),
		zap.Int("cells", progress.TotalCells),
		zap.Int("fetchable", progress.Fetchable),
		zap.Strings("categories", categories))

	status, err := s.dispatch(ctx, run, mode)
	if err != nil {
		return nil, err
	}
	return &StartIndexingResult{
		RunID:      run.ID,
		Status:     status,
		Mode:       string(run.Mode),
		TotalCells: progress.TotalCells,
		Fetchable:  progress.Fetchable,
	}, nil
}

func (s *IndexingService) partitionUniform(run *models.IndexingRun, tiles int) ([]grid.Cell, error) {
	if tiles == 0 {
		tiles = s.cfg.DefaultGridTiles
	}
	if err := s.validateGridTiles(tiles); err != nil {
		return nil, err
	}
	run.Mode = models.PartitionUniform
	run.GridTiles = tiles
	cells, err := grid.Uniform(run.BBox, tiles)
	if err != nil {
		return nil, apperrors.NewConfigurationError(apperrors.CodeInvalidGrid, "%s", err.Error())
	}
	return cells, nil
}

func (s *IndexingService) partitionQuadtree(ctx context.Context, run *models.IndexingRun, qc models.QuadtreeConfig) ([]grid.Cell, error) {
	if err := qc.Validate(); err != nil {
		return nil, apperrors.NewConfigurationError(apperrors.CodeInvalidGrid, "%s", err.Error())
	}
	if qc.DensityTiles == 0 {
		qc.DensityTiles = s.cfg.DensityTiles
	}
	if err := s.validateGridTiles(qc.DensityTiles); err != nil {
		return nil, err
	}

	points, _, err := s.loadPoints(ctx, run.Region, run.GeoField)
	if err != nil {
		return nil, err
	}
	density, err := grid.Density(run.BBox, qc.DensityTiles, points)
	if err != nil {
		return nil, apperrors.NewConfigurationError(apperrors.CodeInvalidGrid, "%s", err.Error())
	}
	tree, err := grid.BuildQuadtree(density, qc, run.BBox)
	if err != nil {
		return nil, apperrors.NewConfigurationError(apperrors.CodeInvalidGrid, "%s", err.Error())
	}

	dense := 0
	for _, leaf := range tree.Leaves {
		if leaf.Dense {
			dense++
		}
	}
	if dense > 0 {
		s.logger.Warn("Quadtree leaves exceed max_samples_per_cell after depth/size limits",
			zap.String("region", run.Region),
			zap.Int("dense_leaves", dense),
			zap.Float64("max_samples_per_cell", qc.MaxSamplesPerCell))
	}

	run.Mode = models.PartitionQuadtree
	run.Quadtree = &qc
	run.QuadtreeNodes = tree.Nodes
	return tree.Leaves, nil
}

// admit claims runID for a retry or resume. The returned func releases it.
// A run that is dispatched or already being admitted returns ErrRunActive.
func (s *IndexingService) admit(runID uuid.UUID) (func(), error) {
	if _, busy := s.admitting.LoadOrStore(runID, struct{}{}); busy {
		return nil, apperrors.ErrRunActive
	}
	if s.coordinator.IsDispatched(runID) {
		s.admitting.Delete(runID)
		return nil, apperrors.ErrRunActive
	}
	return func() { s.admitting.Delete(runID) }, nil
}

// dispatch hands the run's idle cells to the coordinator. In sync mode it
// waits for the run to settle and returns the final status.
func (s *IndexingService) dispatch(ctx context.Context, run *models.IndexingRun, mode ExecutionMode) (models.RunStatus, error) {
	idle, err := s.store.ListCellsByStatus(ctx, run.ID, models.CellStatusIdle)
	if err != nil {
		return "", fmt.Errorf("failed to list idle cells: %w", err)
	}

	done, err := s.coordinator.Dispatch(run, idle)
	if errors.Is(err, apperrors.ErrRunActive) {
		// Another caller owns the run's fetches; its status is not ours to change.
		return "", err
	}
	if err != nil {
		msg := fmt.Sprintf("failed to dispatch cells: %s", err.Error())
		if uerr := s.store.UpdateRunStatus(ctx, run.ID, models.RunStatusFailed, &msg); uerr != nil {
			s.logger.Error("Failed to mark run failed", zap.String("run_id", run.ID.String()), zap.Error(uerr))
		}
		return "", fmt.Errorf("failed to dispatch cells: %w", err)
	}

	if mode == ExecutionAsync {
		s.watchProgress(run.ID)
		return models.RunStatusRunning, nil
	}

	select {
	case <-done:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	final, err := s.store.GetRun(ctx, run.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load run: %w", err)
	}
	if final == nil {
		return "", apperrors.ErrNotFound
	}
	return final.Status, nil
}

func (s *IndexingService) watchProgress(runID uuid.UUID) {
	if s.watcher == nil || s.cfg.ProgressLogEvery <= 0 {
		return
	}
	s.watcher.Watch(context.Background(), runID, s.cfg.ProgressLogEvery, func(view *models.RunStatusView) {
		s.logger.Info("Indexing progress",
			zap.String("run_id", runID.String()),
			zap.String("status", string(view.Run.Status)),
			zap.Int("processed", view.Progress.Processed),
			zap.Int("fetchable", view.Progress.Fetchable),
			zap.Int("failed", view.Progress.Failed),
			zap.Int("rate_limited", view.Progress.RateLimited),
			zap.Int("features", view.Progress.TotalFeatures))
	})
}

// GetRunStatus returns the run with its cells and progress aggregated from them.
func (s *IndexingService) GetRunStatus(ctx context.Context, runID uuid.UUID) (*models.RunStatusView, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, apperrors.ErrNotFound
	}
	return s.statusView(ctx, run)
}

// GetLatestRunStatus returns the status of the region's most recent run.
func (s *IndexingService) GetLatestRunStatus(ctx context.Context, region string) (*models.RunStatusView, error) {
	run, err := s.store.GetLatestRun(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	if run == nil {
		return nil, apperrors.ErrNotFound
	}
	return s.statusView(ctx, run)
}

func (s *IndexingService) statusView(ctx context.Context, run *models.IndexingRun) (*models.RunStatusView, error) {
	cells, err := s.store.ListCells(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cells: %w", err)
	}
	if cells == nil {
		cells = []models.GridCell{}
	}
	view := &models.RunStatusView{
		Run:      run,
		Cells:    cells,
		Progress: models.ComputeRunProgress(cells),
	}
	if qp, ok := s.coordinator.Progress(run.ID); ok {
		view.Dispatched = true
		view.QueuedCells = qp.Pending
	}
	return view, nil
}

// GetCell returns one cell of a run and the features fetched for it.
func (s *IndexingService) GetCell(ctx context.Context, runID uuid.UUID, cellID string) (*CellDetail, error) {
	if _, err := s.getRun(ctx, runID); err != nil {
		return nil, err
	}
	cells, err := s.store.ListCells(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cells: %w", err)
	}
	for _, c := range cells {
		if c.ID != cellID {
			continue
		}
		features, err := s.store.GetCellFeatures(ctx, runID, cellID)
		if err != nil {
			return nil, fmt.Errorf("failed to get cell features: %w", err)
		}
		if features == nil {
			features = []models.Feature{}
		}
		return &CellDetail{RunID: runID, Cell: c, Features: features}, nil
	}
	return nil, apperrors.ErrNotFound
}

// SubscribeRun streams the cell and run events of one run. The returned func
// unsubscribes and closes the channel.
func (s *IndexingService) SubscribeRun(runID uuid.UUID) (<-chan Event, func()) {
	return s.coordinator.events.Subscribe(runID, runEventBuffer)
}

func (s *IndexingService) getRun(ctx context.Context, runID uuid.UUID) (*models.IndexingRun, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, apperrors.ErrNotFound
	}
	return run, nil
}

// RetryFailedCells resets failed and rate-limited cells to idle and fetches
// them again. Completed cells and their features are left untouched.
// A paused run is only reset; ResumeRun dispatches it.
func (s *IndexingService) RetryFailedCells(ctx context.Context, runID uuid.UUID, mode ExecutionMode) (*RetryResult, error) {
	release, err := s.admit(runID)
	if err != nil {
		return nil, err
	}
	defer release()

	run, err := s.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == models.RunStatusCancelled {
		return nil, apperrors.NewConfigurationError(apperrors.CodeInvalidRequest, "cancelled runs cannot be retried")
	}

	retryable, err := s.store.ListCellsByStatus(ctx, runID, models.CellStatusFailed, models.CellStatusRateLimited)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable cells: %w", err)
	}
	if len(retryable) == 0 {
		return &RetryResult{RunID: runID, Status: run.Status}, nil
	}

	if run.Status == models.RunStatusPaused {
		n, err := s.store.ResetCells(ctx, runID, models.CellStatusFailed, models.CellStatusRateLimited)
		if err != nil {
			return nil, fmt.Errorf("failed to reset cells: %w", err)
		}
		return &RetryResult{RunID: runID, ResetCells: n, Status: run.Status}, nil
	}

	if err := s.store.UpdateRunStatus(ctx, runID, models.RunStatusRunning, nil); err != nil {
		if errors.Is(err, apperrors.ErrRunActive) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to reactivate run: %w", err)
	}
	n, err := s.store.ResetCells(ctx, runID, models.CellStatusFailed, models.CellStatusRateLimited)
	if err != nil {
		return nil, fmt.Errorf("failed to reset cells: %w", err)
	}

	s.logger.Info("Retrying cells",
		zap.String("run_id", runID.String()),
		zap.Int("cells", n))

	status, err := s.dispatch(ctx, run, mode)
	if err != nil {
		return nil, err
	}
	return &RetryResult{RunID: runID, ResetCells: n, Status: status}, nil
}

// CancelRun stops an active run and waits for in-flight cells to settle.
// Unfinished cells end cancelled; completed cells keep their features.
func (s *IndexingService) CancelRun(ctx context.Context, runID uuid.UUID) error {
	run, err := s.getRun(ctx, runID)
	if err != nil {
		return err
	}
	if s.watcher != nil {
		s.watcher.Stop(runID)
	}

	if s.coordinator.IsDispatched(runID) {
		if err := s.coordinator.Cancel(ctx, runID); err != nil && !errors.Is(err, apperrors.ErrRunNotActive) {
			return fmt.Errorf("failed to cancel run: %w", err)
		}
		return nil
	}

	// Paused, or left running by a previous process.
	if !run.Status.IsActive() {
		return apperrors.ErrRunNotActive
	}
	if _, err := s.store.CancelPendingCells(ctx, runID); err != nil {
		return fmt.Errorf("failed to cancel pending cells: %w", err)
	}
	msg := "run cancelled"
	if err := s.store.UpdateRunStatus(ctx, runID, models.RunStatusCancelled, &msg); err != nil {
		return fmt.Errorf("failed to cancel run: %w", err)
	}
	s.logger.Info("Run cancelled", zap.String("run_id", runID.String()))
	return nil
}

// PauseRun stops dispatching a running run. In-flight cells settle and any
// cell that did not finish returns to idle.
func (s *IndexingService) PauseRun(ctx context.Context, runID uuid.UUID) error {
	if _, err := s.getRun(ctx, runID); err != nil {
		return err
	}
	if !s.coordinator.IsDispatched(runID) {
		return apperrors.ErrRunNotActive
	}
	if s.watcher != nil {
		s.watcher.Stop(runID)
	}
	return s.coordinator.Pause(ctx, runID)
}

// ResumeRun dispatches the idle cells of a paused run, or of a run left
// running by a previous process.
func (s *IndexingService) ResumeRun(ctx context.Context, runID uuid.UUID, mode ExecutionMode) (models.RunStatus, error) {
	if _, err := s.getRun(ctx, runID); err != nil {
		return "", err
	}
	release, err := s.admit(runID)
	if err != nil {
		return "", err
	}
	defer release()

	run, err := s.getRun(ctx, runID)
	if err != nil {
		return "", err
	}
	if !run.Status.IsActive() {
		return "", apperrors.ErrRunNotActive
	}

	if run.Status == models.RunStatusPaused {
		if err := s.store.UpdateRunStatus(ctx, runID, models.RunStatusRunning, nil); err != nil {
			if errors.Is(err, apperrors.ErrRunActive) {
				return "", err
			}
			return "", fmt.Errorf("failed to resume run: %w", err)
		}
	}
	if _, err := s.store.ResetCells(ctx, runID, models.CellStatusRunning); err != nil {
		return "", fmt.Errorf("failed to reset interrupted cells: %w", err)
	}

	s.logger.Info("Resuming run", zap.String("run_id", runID.String()))
	return s.dispatch(ctx, run, mode)
}

// DropRun cancels the run if needed and deletes it with all cells and features.
// A run with an active enrichment job cannot be dropped.
func (s *IndexingService) DropRun(ctx context.Context, runID uuid.UUID) error {
	if _, err := s.getRun(ctx, runID); err != nil {
		return err
	}

	jobs, err := s.store.ListEnrichmentJobsByStatus(ctx, models.EnrichmentStatusPending, models.EnrichmentStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to list enrichment jobs: %w", err)
	}
	for _, j := range jobs {
		if j.RunID == runID {
			return apperrors.ErrJobActive
		}
	}

	if s.watcher != nil {
		s.watcher.Stop(runID)
	}
	if s.coordinator.IsDispatched(runID) {
		if err := s.coordinator.Cancel(ctx, runID); err != nil && !errors.Is(err, apperrors.ErrRunNotActive) {
			return fmt.Errorf("failed to cancel run before drop: %w", err)
		}
	}

	if err := s.store.DeleteRun(ctx, runID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to drop run: %w", err)
	}
	s.logger.Info("Run dropped", zap.String("run_id", runID.String()))
	return nil
}

// ResumeInterrupted re-dispatches runs left running by a previous process and
// returns how many were resumed.
func (s *IndexingService) ResumeInterrupted(ctx context.Context) (int, error) {
	runs, err := s.store.ListRunsByStatus(ctx, models.RunStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to list interrupted runs: %w", err)
	}

	resumed := 0
	for _, run := range runs {
		if s.coordinator.IsDispatched(run.ID) {
			continue
		}
		if _, err := s.ResumeRun(ctx, run.ID, ExecutionAsync); err != nil {
			s.logger.Error("Failed to resume interrupted run",
				zap.String("run_id", run.ID.String()),
				zap.Error(err))
			continue
		}
		resumed++
	}
	if resumed > 0 {
		s.logger.Info("Resumed interrupted indexing runs", zap.Int("count", resumed))
	}
	return resumed, nil
}

// Shutdown stops dispatched runs so they resume on the next start.
func (s *IndexingService) Shutdown(ctx context.Context) error {
	return s.coordinator.Shutdown(ctx)
}

// normalizeCategories trims and validates "key" / "key=value" categories.
func normalizeCategories(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, s := range raw {
		c, ok := models.ParseCategory(s)
		if !ok {
			return nil, apperrors.NewConfigurationError(apperrors.CodeInvalidRequest, "invalid category %q", s)
		}
		norm := c.Key
		if c.Value != "" {
			norm += "=" + c.Value
		}
		if seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, norm)
	}
	if len(out) == 0 {
		return nil, apperrors.NewConfigurationError(apperrors.CodeInvalidRequest, "at least one feature category is required")
	}
	return out, nil
}
