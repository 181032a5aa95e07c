package repositories

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
)

// JobStateStore is the single source of truth for indexing runs, their cells and
// feature payloads, enrichment jobs and mapping configurations.
//
// Get methods return (nil, nil) when the record does not exist. Mutations of a
// missing record return apperrors.ErrNotFound.
type JobStateStore interface {
	// Indexing runs

	// CreateRun persists a new run with all of its partition cells. It returns
	// apperrors.ErrRunActive when the run is active and the region already has
	// a running or paused run.
	CreateRun(ctx context.Context, run *models.IndexingRun, cells []models.GridCell) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.IndexingRun, error)
	GetLatestRun(ctx context.Context, region string) (*models.IndexingRun, error)
	ListRunsByStatus(ctx context.Context, statuses ...models.RunStatus) ([]*models.IndexingRun, error)
	// UpdateRunStatus sets the status and error message. Entering running sets
	// started_at once; terminal statuses set completed_at. Activating a run in a
	// region that already has an active run returns apperrors.ErrRunActive.
	UpdateRunStatus(ctx context.Context, id uuid.UUID, status models.RunStatus, errMsg *string) error
	// DeleteRun removes the run, its cells, features and enrichment jobs.
	DeleteRun(ctx context.Context, id uuid.UUID) error

	// Cells

	ListCells(ctx context.Context, runID uuid.UUID) ([]models.GridCell, error)
	ListCellsByStatus(ctx context.Context, runID uuid.UUID, statuses ...models.CellStatus) ([]models.GridCell, error)
	// UpdateCell writes the mutable fields of a single cell.
	UpdateCell(ctx context.Context, cell *models.GridCell) error
	// CompleteCell stores the feature payload and the cell update atomically.
	CompleteCell(ctx context.Context, cell *models.GridCell, features []models.Feature) error
	// ResetCells moves cells in any of the from statuses back to idle, clearing
	// progress and error. It returns the number of cells reset.
	ResetCells(ctx context.Context, runID uuid.UUID, from ...models.CellStatus) (int, error)
	// CancelPendingCells freezes idle and running cells as cancelled.
	CancelPendingCells(ctx context.Context, runID uuid.UUID) (int, error)
	GetCellFeatures(ctx context.Context, runID uuid.UUID, cellID string) ([]models.Feature, error)
	// ListCompletedFeatures returns the features of all completed cells of a run.
	ListCompletedFeatures(ctx context.Context, runID uuid.UUID) ([]models.Feature, error)

	// Enrichment jobs

	// CreateEnrichmentJob returns apperrors.ErrJobActive when the indexing run
	// already has a pending or running job.
	CreateEnrichmentJob(ctx context.Context, job *models.EnrichmentRun) error
	GetEnrichmentJob(ctx context.Context, id uuid.UUID) (*models.EnrichmentRun, error)
	UpdateEnrichmentJob(ctx context.Context, job *models.EnrichmentRun) error
	ListEnrichmentJobsByStatus(ctx context.Context, statuses ...models.EnrichmentStatus) ([]*models.EnrichmentRun, error)

	// Mapping configurations

	SaveMappingConfig(ctx context.Context, cfg *models.MappingConfig) error
	GetMappingConfig(ctx context.Context, id string) (*models.MappingConfig, error)
	ListMappingConfigs(ctx context.Context) ([]*models.MappingConfig, error)
}
