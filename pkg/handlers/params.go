package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ParseRunID extracts and validates the indexing run ID from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: rid
func ParseRunID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "rid", "invalid_run_id", "Invalid run ID format", logger)
}

// ParseJobID extracts and validates the enrichment job ID from the request path.
// Expects path parameter: eid
func ParseJobID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "eid", "invalid_job_id", "Invalid enrichment job ID format", logger)
}

// ParseRegion returns the non-empty region path parameter.
// Expects path parameter: region
func ParseRegion(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	region := strings.TrimSpace(r.PathValue("region"))
	if region == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_region", "Region is required"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return "", false
	}
	return region, true
}

// ParseCellID returns the non-empty cell id path parameter.
// Expects path parameter: cid
func ParseCellID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	cellID := strings.TrimSpace(r.PathValue("cid"))
	if cellID == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_cell_id", "Cell ID is required"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return "", false
	}
	return cellID, true
}

// parseUUID is the internal helper that does the actual parsing work.
func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	idStr := r.PathValue(pathParam)
	id, err := uuid.Parse(idStr)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}
