package handlers

import (
	"context"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/services"
)

// MappingService is the subset of *services.MappingService the handlers call.
type MappingService interface {
	SaveMappingConfig(ctx context.Context, cfg *models.MappingConfig) error
	GetMappingConfig(ctx context.Context, id string) (*models.MappingConfig, error)
	ListMappingConfigs(ctx context.Context) ([]*models.MappingConfig, error)
	ImportYAML(ctx context.Context, r io.Reader) ([]*models.MappingConfig, error)
}

var _ MappingService = (*services.MappingService)(nil)

// maxImportBytes bounds YAML import bodies.
const maxImportBytes = 1 << 20

// MappingListResponse for GET /api/mappings
type MappingListResponse struct {
	Configs []*models.MappingConfig `json:"configs"`
	Total   int                     `json:"total"`
}

// MappingHandler handles mapping configuration requests.
type MappingHandler struct {
	service MappingService
	logger  *zap.Logger
}

// NewMappingHandler creates a new mapping handler.
func NewMappingHandler(service MappingService, logger *zap.Logger) *MappingHandler {
	return &MappingHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers the mapping handler's routes on the given mux.
func (h *MappingHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/mappings"
	mux.HandleFunc("GET "+base, h.List)
	mux.HandleFunc("POST "+base+"/import", h.Import)
	mux.HandleFunc("GET "+base+"/{mid}", h.Get)
	mux.HandleFunc("PUT "+base+"/{mid}", h.Save)
}

// List handles GET /api/mappings
func (h *MappingHandler) List(w http.ResponseWriter, r *http.Request) {
	configs, err := h.service.ListMappingConfigs(r.Context())
	if err != nil {
		writeError(w, err, "list_mappings_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, MappingListResponse{Configs: configs, Total: len(configs)}, h.logger)
}

// Get handles GET /api/mappings/{mid}
func (h *MappingHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.GetMappingConfig(r.Context(), r.PathValue("mid"))
	if err != nil {
		writeError(w, err, "get_mapping_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, cfg, h.logger)
}

// Save handles PUT /api/mappings/{mid}
// The path id wins over any id in the body.
func (h *MappingHandler) Save(w http.ResponseWriter, r *http.Request) {
	var cfg models.MappingConfig
	if !decodeBody(w, r, &cfg, h.logger) {
		return
	}
	id := r.PathValue("mid")
	if cfg.ID != "" && cfg.ID != id {
		writeError(w, apperrors.NewConfigurationError(apperrors.CodeInvalidMapping,
			"mapping config id %q does not match path id %q", cfg.ID, id), "save_mapping_failed", h.logger)
		return
	}
	cfg.ID = id

	if err := h.service.SaveMappingConfig(r.Context(), &cfg); err != nil {
		writeError(w, err, "save_mapping_failed", h.logger)
		return
	}

	h.logger.Info("Mapping config saved", zap.String("mapping_config_id", id))
	writeData(w, http.StatusOK, &cfg, h.logger)
}

// Import handles POST /api/mappings/import with a YAML body.
// Nothing is stored when any config in the body is invalid.
func (h *MappingHandler) Import(w http.ResponseWriter, r *http.Request) {
	configs, err := h.service.ImportYAML(r.Context(), http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		writeError(w, err, "import_mappings_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, MappingListResponse{Configs: configs, Total: len(configs)}, h.logger)
}
