package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/services"
)

// EnrichmentService is the subset of *services.EnrichmentService the handlers call.
type EnrichmentService interface {
	StartEnrichment(ctx context.Context, req services.StartEnrichmentRequest) (*models.EnrichmentRun, error)
	GetEnrichmentStatus(ctx context.Context, jobID uuid.UUID) (*models.EnrichmentRun, error)
	CancelEnrichment(ctx context.Context, jobID uuid.UUID) error
	ClearEnrichmentFields(ctx context.Context, region string, fields []string) (int, error)
	SubscribeJob(jobID uuid.UUID) (<-chan services.Event, func())
}

var _ EnrichmentService = (*services.EnrichmentService)(nil)

// ClearFieldsRequest for POST /api/regions/{region}/clear-fields
type ClearFieldsRequest struct {
	FieldNames []string `json:"field_names"`
}

// ClearFieldsResponse reports how many records were touched.
type ClearFieldsResponse struct {
	Region         string `json:"region"`
	ClearedRecords int    `json:"cleared_records"`
}

// EnrichmentHandler handles enrichment job requests.
type EnrichmentHandler struct {
	service EnrichmentService
	logger  *zap.Logger
}

// NewEnrichmentHandler creates a new enrichment handler.
func NewEnrichmentHandler(service EnrichmentService, logger *zap.Logger) *EnrichmentHandler {
	return &EnrichmentHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers the enrichment handler's routes on the given mux.
func (h *EnrichmentHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/enrichment"
	mux.HandleFunc("POST "+base, h.Start)
	mux.HandleFunc("GET "+base+"/{eid}", h.Get)
	mux.HandleFunc("GET "+base+"/{eid}/events", h.Events)
	mux.HandleFunc("POST "+base+"/{eid}/cancel", h.Cancel)
	mux.HandleFunc("POST /api/regions/{region}/clear-fields", h.ClearFields)
}

// Start handles POST /api/enrichment
func (h *EnrichmentHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req services.StartEnrichmentRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	mode, err := services.ParseExecutionMode(string(req.ExecutionMode))
	if err != nil {
		writeError(w, err, "start_enrichment_failed", h.logger)
		return
	}
	req.ExecutionMode = mode

	job, err := h.service.StartEnrichment(r.Context(), req)
	if err != nil {
		writeError(w, err, "start_enrichment_failed", h.logger)
		return
	}

	h.logger.Info("Enrichment job started",
		zap.String("job_id", job.ID.String()),
		zap.String("run_id", job.RunID.String()),
		zap.String("mapping_config_id", job.MappingConfigID))

	writeData(w, acceptedOrOK(mode), job, h.logger)
}

// Get handles GET /api/enrichment/{eid}
func (h *EnrichmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID, ok := ParseJobID(w, r, h.logger)
	if !ok {
		return
	}
	job, err := h.service.GetEnrichmentStatus(r.Context(), jobID)
	if err != nil {
		writeError(w, err, "get_enrichment_status_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, job, h.logger)
}

// Events handles GET /api/enrichment/{eid}/events
// The stream opens with the job and ends when the job reaches a final status.
func (h *EnrichmentHandler) Events(w http.ResponseWriter, r *http.Request) {
	jobID, ok := ParseJobID(w, r, h.logger)
	if !ok {
		return
	}

	events, unsubscribe := h.service.SubscribeJob(jobID)
	defer unsubscribe()

	job, err := h.service.GetEnrichmentStatus(r.Context(), jobID)
	if err != nil {
		writeError(w, err, "get_enrichment_status_failed", h.logger)
		return
	}

	stream, ok := newEventStream(w, h.logger)
	if !ok {
		return
	}
	stream.send("status", job)
	if job.Status.IsTerminal() {
		return
	}
	stream.relay(r, events, func(ev services.Event) bool {
		return models.EnrichmentStatus(ev.Status).IsTerminal()
	})
}

// Cancel handles POST /api/enrichment/{eid}/cancel
func (h *EnrichmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID, ok := ParseJobID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.service.CancelEnrichment(r.Context(), jobID); err != nil {
		writeError(w, err, "cancel_enrichment_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, map[string]string{
		"job_id": jobID.String(),
		"status": string(models.EnrichmentStatusCancelled),
	}, h.logger)
}

// ClearFields handles POST /api/regions/{region}/clear-fields
func (h *EnrichmentHandler) ClearFields(w http.ResponseWriter, r *http.Request) {
	region, ok := ParseRegion(w, r, h.logger)
	if !ok {
		return
	}
	var req ClearFieldsRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	n, err := h.service.ClearEnrichmentFields(r.Context(), region, req.FieldNames)
	if err != nil {
		writeError(w, err, "clear_fields_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, ClearFieldsResponse{Region: region, ClearedRecords: n}, h.logger)
}
