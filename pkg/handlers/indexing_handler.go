package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/geo"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/services"
)

// IndexingService is the subset of *services.IndexingService the HTTP and
// MCP surfaces call.
type IndexingService interface {
	ResolveRegion(ctx context.Context, region, geoField string) (*services.RegionBounds, error)
	ComputeDensity(ctx context.Context, region, geoField string, bbox geo.BoundingBox, gridTiles int) (*services.DensityResult, error)
	StartIndexing(ctx context.Context, req services.StartIndexingRequest) (*services.StartIndexingResult, error)
	GetRunStatus(ctx context.Context, runID uuid.UUID) (*models.RunStatusView, error)
	GetLatestRunStatus(ctx context.Context, region string) (*models.RunStatusView, error)
	RetryFailedCells(ctx context.Context, runID uuid.UUID, mode services.ExecutionMode) (*services.RetryResult, error)
	CancelRun(ctx context.Context, runID uuid.UUID) error
	PauseRun(ctx context.Context, runID uuid.UUID) error
	ResumeRun(ctx context.Context, runID uuid.UUID, mode services.ExecutionMode) (models.RunStatus, error)
	DropRun(ctx context.Context, runID uuid.UUID) error
	GetCell(ctx context.Context, runID uuid.UUID, cellID string) (*services.CellDetail, error)
	SubscribeRun(runID uuid.UUID) (<-chan services.Event, func())
}

var _ IndexingService = (*services.IndexingService)(nil)

// ============================================================================
// Request/Response Types
// ============================================================================

// ResolveRegionRequest for POST /api/regions/{region}/resolve
type ResolveRegionRequest struct {
	GeoField string `json:"geo_field"`
}

// DensityRequest for POST /api/regions/{region}/density
type DensityRequest struct {
	GeoField  string          `json:"geo_field"`
	BBox      geo.BoundingBox `json:"bbox"`
	GridTiles int             `json:"grid_tiles"`
}

// ExecutionRequest carries the optional execution mode of retry and resume.
type ExecutionRequest struct {
	ExecutionMode string `json:"execution_mode,omitempty"`
}

// RunActionResponse reports the state of a run after a lifecycle action.
type RunActionResponse struct {
	RunID  uuid.UUID        `json:"run_id"`
	Status models.RunStatus `json:"status,omitempty"`
}

// ============================================================================
// Handler
// ============================================================================

// IndexingHandler handles region resolution and indexing run requests.
type IndexingHandler struct {
	service IndexingService
	logger  *zap.Logger
}

// NewIndexingHandler creates a new indexing handler.
func NewIndexingHandler(service IndexingService, logger *zap.Logger) *IndexingHandler {
	return &IndexingHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers the indexing handler's routes on the given mux.
func (h *IndexingHandler) RegisterRoutes(mux *http.ServeMux) {
	region := "/api/regions/{region}"
	mux.HandleFunc("POST "+region+"/resolve", h.Resolve)
	mux.HandleFunc("POST "+region+"/density", h.Density)
	mux.HandleFunc("POST "+region+"/indexing", h.Start)
	mux.HandleFunc("GET "+region+"/indexing", h.GetLatest)

	base := "/api/indexing/{rid}"
	mux.HandleFunc("GET "+base, h.Get)
	mux.HandleFunc("GET "+base+"/events", h.Events)
	mux.HandleFunc("GET "+base+"/cells/{cid}", h.GetCell)
	mux.HandleFunc("POST "+base+"/retry", h.Retry)
	mux.HandleFunc("POST "+base+"/cancel", h.Cancel)
	mux.HandleFunc("POST "+base+"/pause", h.Pause)
	mux.HandleFunc("POST "+base+"/resume", h.Resume)
	mux.HandleFunc("DELETE "+base, h.Drop)
}

// Resolve handles POST /api/regions/{region}/resolve
func (h *IndexingHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	region, ok := ParseRegion(w, r, h.logger)
	if !ok {
		return
	}
	var req ResolveRegionRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	bounds, err := h.service.ResolveRegion(r.Context(), region, req.GeoField)
	if err != nil {
		writeError(w, err, "resolve_region_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, bounds, h.logger)
}

// Density handles POST /api/regions/{region}/density
func (h *IndexingHandler) Density(w http.ResponseWriter, r *http.Request) {
	region, ok := ParseRegion(w, r, h.logger)
	if !ok {
		return
	}
	var req DensityRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	result, err := h.service.ComputeDensity(r.Context(), region, req.GeoField, req.BBox, req.GridTiles)
	if err != nil {
		writeError(w, err, "compute_density_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, result, h.logger)
}

// Start handles POST /api/regions/{region}/indexing
// Async runs answer 202; sync runs answer 200 once the run has settled.
func (h *IndexingHandler) Start(w http.ResponseWriter, r *http.Request) {
	region, ok := ParseRegion(w, r, h.logger)
	if !ok {
		return
	}
	var req services.StartIndexingRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	req.Region = region

	mode, err := services.ParseExecutionMode(string(req.ExecutionMode))
	if err != nil {
		writeError(w, err, "start_indexing_failed", h.logger)
		return
	}
	req.ExecutionMode = mode

	result, err := h.service.StartIndexing(r.Context(), req)
	if err != nil {
		writeError(w, err, "start_indexing_failed", h.logger)
		return
	}

	h.logger.Info("Indexing run started",
		zap.String("region", region),
		zap.String("run_id", result.RunID.String()),
		zap.String("mode", result.Mode),
		zap.Int("cells", result.TotalCells))

	writeData(w, acceptedOrOK(mode), result, h.logger)
}

// GetLatest handles GET /api/regions/{region}/indexing
func (h *IndexingHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	region, ok := ParseRegion(w, r, h.logger)
	if !ok {
		return
	}
	view, err := h.service.GetLatestRunStatus(r.Context(), region)
	if err != nil {
		writeError(w, err, "get_run_status_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, view, h.logger)
}

// Get handles GET /api/indexing/{rid}
func (h *IndexingHandler) Get(w http.ResponseWriter, r *http.Request) {
	runID, ok := ParseRunID(w, r, h.logger)
	if !ok {
		return
	}
	view, err := h.service.GetRunStatus(r.Context(), runID)
	if err != nil {
		writeError(w, err, "get_run_status_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, view, h.logger)
}

// GetCell handles GET /api/indexing/{rid}/cells/{cid}
func (h *IndexingHandler) GetCell(w http.ResponseWriter, r *http.Request) {
	runID, ok := ParseRunID(w, r, h.logger)
	if !ok {
		return
	}
	cellID, ok := ParseCellID(w, r, h.logger)
	if !ok {
		return
	}
	cell, err := h.service.GetCell(r.Context(), runID, cellID)
	if err != nil {
		writeError(w, err, "get_cell_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, cell, h.logger)
}

// Events handles GET /api/indexing/{rid}/events
// The stream opens with the run's status and ends once the run is finalised.
// A run that is not dispatched gets the status frame only.
func (h *IndexingHandler) Events(w http.ResponseWriter, r *http.Request) {
	runID, ok := ParseRunID(w, r, h.logger)
	if !ok {
		return
	}

	// Subscribe before reading status so no event falls between the two.
	events, unsubscribe := h.service.SubscribeRun(runID)
	defer unsubscribe()

	view, err := h.service.GetRunStatus(r.Context(), runID)
	if err != nil {
		writeError(w, err, "get_run_status_failed", h.logger)
		return
	}

	stream, ok := newEventStream(w, h.logger)
	if !ok {
		return
	}
	stream.send("status", view)
	if !view.Dispatched {
		return
	}
	stream.relay(r, events, func(ev services.Event) bool {
		return ev.Type == services.EventRunUpdated
	})
}

// Retry handles POST /api/indexing/{rid}/retry
func (h *IndexingHandler) Retry(w http.ResponseWriter, r *http.Request) {
	runID, ok := ParseRunID(w, r, h.logger)
	if !ok {
		return
	}
	mode, ok := h.parseMode(w, r)
	if !ok {
		return
	}

	result, err := h.service.RetryFailedCells(r.Context(), runID, mode)
	if err != nil {
		writeError(w, err, "retry_failed_cells_failed", h.logger)
		return
	}
	writeData(w, acceptedOrOK(mode), result, h.logger)
}

// Cancel handles POST /api/indexing/{rid}/cancel
func (h *IndexingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	runID, ok := ParseRunID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.service.CancelRun(r.Context(), runID); err != nil {
		writeError(w, err, "cancel_run_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, RunActionResponse{RunID: runID, Status: models.RunStatusCancelled}, h.logger)
}

// Pause handles POST /api/indexing/{rid}/pause
func (h *IndexingHandler) Pause(w http.ResponseWriter, r *http.Request) {
	runID, ok := ParseRunID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.service.PauseRun(r.Context(), runID); err != nil {
		writeError(w, err, "pause_run_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, RunActionResponse{RunID: runID, Status: models.RunStatusPaused}, h.logger)
}

// Resume handles POST /api/indexing/{rid}/resume
func (h *IndexingHandler) Resume(w http.ResponseWriter, r *http.Request) {
	runID, ok := ParseRunID(w, r, h.logger)
	if !ok {
		return
	}
	mode, ok := h.parseMode(w, r)
	if !ok {
		return
	}

	status, err := h.service.ResumeRun(r.Context(), runID, mode)
	if err != nil {
		writeError(w, err, "resume_run_failed", h.logger)
		return
	}
	writeData(w, acceptedOrOK(mode), RunActionResponse{RunID: runID, Status: status}, h.logger)
}

// Drop handles DELETE /api/indexing/{rid}
func (h *IndexingHandler) Drop(w http.ResponseWriter, r *http.Request) {
	runID, ok := ParseRunID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.service.DropRun(r.Context(), runID); err != nil {
		writeError(w, err, "drop_run_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, RunActionResponse{RunID: runID}, h.logger)
}

// parseMode reads the optional execution_mode body. An empty body means async.
func (h *IndexingHandler) parseMode(w http.ResponseWriter, r *http.Request) (services.ExecutionMode, bool) {
	var req ExecutionRequest
	if r.ContentLength != 0 && r.Body != nil && r.Body != http.NoBody {
		if !decodeBody(w, r, &req, h.logger) {
			return "", false
		}
	}
	mode, err := services.ParseExecutionMode(req.ExecutionMode)
	if err != nil {
		writeError(w, err, "invalid_request", h.logger)
		return "", false
	}
	return mode, true
}

func acceptedOrOK(mode services.ExecutionMode) int {
	if mode == services.ExecutionSync {
		return http.StatusOK
	}
	return http.StatusAccepted
}
