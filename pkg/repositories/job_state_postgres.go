package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/database"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/geo"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
)

type postgresJobStateStore struct {
	db *database.DB
}

// NewPostgresJobStateStore creates a JobStateStore backed by PostgreSQL.
func NewPostgresJobStateStore(db *database.DB) JobStateStore {
	return &postgresJobStateStore{db: db}
}

var _ JobStateStore = (*postgresJobStateStore)(nil)

const (
	uniqueViolation     = "23505"
	activeRunIndex      = "uq_indexing_runs_active_region"
	activeJobIndex      = "uq_enrichment_jobs_active_run"
	runColumns          = `id, region, geo_field, bbox, mode, grid_tiles, quadtree_config, quadtree_nodes, categories, status, error_message, started_at, completed_at, created_at, updated_at`
	cellColumns         = `run_id, cell_id, bbox, sample_count, depth, dense, status, progress, error_message, feature_count, attempts, updated_at`
	enrichmentColumns   = `id, run_id, region, mapping_config_id, mapping_config, status, total_records, processed_records, failed_records, enriched_records, mapping_error_count, mapping_errors, progress_percent, error_message, started_at, completed_at, created_at, updated_at`
	mappingConfigColumn = `id, name, groups, created_at, updated_at`
)

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}

// ============================================================================
// Runs
// ============================================================================

func (s *postgresJobStateStore) CreateRun(ctx context.Context, run *models.IndexingRun, cells []models.GridCell) error {
	now := time.Now()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.CreatedAt = now
	run.UpdatedAt = now

	bboxJSON, err := json.Marshal(run.BBox)
	if err != nil {
		return fmt.Errorf("failed to marshal bbox: %w", err)
	}
	var quadtreeJSON, nodesJSON []byte
	if run.Quadtree != nil {
		if quadtreeJSON, err = json.Marshal(run.Quadtree); err != nil {
			return fmt.Errorf("failed to marshal quadtree config: %w", err)
		}
	}
	if run.QuadtreeNodes != nil {
		if nodesJSON, err = json.Marshal(run.QuadtreeNodes); err != nil {
			return fmt.Errorf("failed to marshal quadtree nodes: %w", err)
		}
	}
	categories := run.Categories
	if categories == nil {
		categories = []string{}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO indexing_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		run.ID, run.Region, run.GeoField, bboxJSON, string(run.Mode), run.GridTiles,
		quadtreeJSON, nodesJSON, categories, string(run.Status), run.ErrorMessage,
		run.StartedAt, run.CompletedAt, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, activeRunIndex) {
			return apperrors.ErrRunActive
		}
		return fmt.Errorf("failed to create indexing run: %w", err)
	}

	// Use COPY for efficient batch insert
	rows := make([][]any, len(cells))
	for i := range cells {
		c := &cells[i]
		c.RunID = run.ID
		c.UpdatedAt = now
		cellBBox, err := json.Marshal(c.BBox)
		if err != nil {
			return fmt.Errorf("failed to marshal cell bbox: %w", err)
		}
		rows[i] = []any{
			c.RunID, c.ID, cellBBox, c.SampleCount, c.Depth, c.Dense,
			string(c.Status), c.Progress, c.Error, c.FeatureCount, c.Attempts, i, c.UpdatedAt,
		}
	}
	if len(rows) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"indexing_cells"},
			[]string{"run_id", "cell_id", "bbox", "sample_count", "depth", "dense",
				"status", "progress", "error_message", "feature_count", "attempts", "ordinal", "updated_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to insert indexing cells: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *postgresJobStateStore) GetRun(ctx context.Context, id uuid.UUID) (*models.IndexingRun, error) {
	row := s.db.QueryRow(ctx, `SELECT `+runColumns+` FROM indexing_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}

func (s *postgresJobStateStore) GetLatestRun(ctx context.Context, region string) (*models.IndexingRun, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM indexing_runs
		WHERE region = $1
		ORDER BY created_at DESC
		LIMIT 1`, region)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}

func (s *postgresJobStateStore) ListRunsByStatus(ctx context.Context, statuses ...models.RunStatus) ([]*models.IndexingRun, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+runColumns+`
		FROM indexing_runs
		WHERE status = ANY($1)
		ORDER BY created_at`, names)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexing runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.IndexingRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate indexing runs: %w", err)
	}
	return runs, nil
}

func (s *postgresJobStateStore) UpdateRunStatus(ctx context.Context, id uuid.UUID, status models.RunStatus, errMsg *string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE indexing_runs
		SET status = $2,
		    error_message = $3,
		    started_at = CASE WHEN $2 = 'running' THEN COALESCE(started_at, now()) ELSE started_at END,
		    completed_at = CASE WHEN $4 THEN now() ELSE NULL END,
		    updated_at = now()
		WHERE id = $1`,
		id, string(status), errMsg, status.IsTerminal(),
	)
	if err != nil {
		if isUniqueViolation(err, activeRunIndex) {
			return apperrors.ErrRunActive
		}
		return fmt.Errorf("failed to update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *postgresJobStateStore) DeleteRun(ctx context.Context, id uuid.UUID) error {
	// Cells, features and enrichment jobs cascade.
	tag, err := s.db.Exec(ctx, `DELETE FROM indexing_runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete indexing run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanRun(row pgx.Row) (*models.IndexingRun, error) {
	var run models.IndexingRun
	var bboxJSON, quadtreeJSON, nodesJSON []byte

	err := row.Scan(
		&run.ID, &run.Region, &run.GeoField, &bboxJSON, &run.Mode, &run.GridTiles,
		&quadtreeJSON, &nodesJSON, &run.Categories, &run.Status, &run.ErrorMessage,
		&run.StartedAt, &run.CompletedAt, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan indexing run: %w", err)
	}

	if err := json.Unmarshal(bboxJSON, &run.BBox); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bbox: %w", err)
	}
	if len(quadtreeJSON) > 0 {
		run.Quadtree = &models.QuadtreeConfig{}
		if err := json.Unmarshal(quadtreeJSON, run.Quadtree); err != nil {
			return nil, fmt.Errorf("failed to unmarshal quadtree config: %w", err)
		}
	}
	if len(nodesJSON) > 0 {
		if err := json.Unmarshal(nodesJSON, &run.QuadtreeNodes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal quadtree nodes: %w", err)
		}
	}
	return &run, nil
}

// ============================================================================
// Cells
// ============================================================================

func (s *postgresJobStateStore) ListCells(ctx context.Context, runID uuid.UUID) ([]models.GridCell, error) {
	return s.queryCells(ctx, `
		SELECT `+cellColumns+`
		FROM indexing_cells
		WHERE run_id = $1
		ORDER BY ordinal`, runID)
}

func (s *postgresJobStateStore) ListCellsByStatus(ctx context.Context, runID uuid.UUID, statuses ...models.CellStatus) ([]models.GridCell, error) {
	if len(statuses) == 0 {
		return s.ListCells(ctx, runID)
	}
	return s.queryCells(ctx, `
		SELECT `+cellColumns+`
		FROM indexing_cells
		WHERE run_id = $1 AND status = ANY($2)
		ORDER BY ordinal`, runID, cellStatusNames(statuses))
}

func (s *postgresJobStateStore) queryCells(ctx context.Context, query string, args ...any) ([]models.GridCell, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cells: %w", err)
	}
	defer rows.Close()

	var cells []models.GridCell
	for rows.Next() {
		var c models.GridCell
		var bboxJSON []byte
		if err := rows.Scan(
			&c.RunID, &c.ID, &bboxJSON, &c.SampleCount, &c.Depth, &c.Dense,
			&c.Status, &c.Progress, &c.Error, &c.FeatureCount, &c.Attempts, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cell: %w", err)
		}
		var bbox geo.BoundingBox
		if err := json.Unmarshal(bboxJSON, &bbox); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cell bbox: %w", err)
		}
		c.BBox = bbox
		cells = append(cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cells: %w", err)
	}
	return cells, nil
}

const updateCellQuery = `
	UPDATE indexing_cells
	SET status = $3, progress = $4, error_message = $5, feature_count = $6, attempts = $7, updated_at = $8
	WHERE run_id = $1 AND cell_id = $2`

func (s *postgresJobStateStore) UpdateCell(ctx context.Context, cell *models.GridCell) error {
	cell.UpdatedAt = time.Now()
	tag, err := s.db.Exec(ctx, updateCellQuery,
		cell.RunID, cell.ID, string(cell.Status), cell.Progress, cell.Error,
		cell.FeatureCount, cell.Attempts, cell.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update cell: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *postgresJobStateStore) CompleteCell(ctx context.Context, cell *models.GridCell, features []models.Feature) error {
	if features == nil {
		features = []models.Feature{}
	}
	featuresJSON, err := json.Marshal(features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cell.UpdatedAt = time.Now()
	tag, err := tx.Exec(ctx, updateCellQuery,
		cell.RunID, cell.ID, string(cell.Status), cell.Progress, cell.Error,
		cell.FeatureCount, cell.Attempts, cell.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update cell: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO indexing_cell_features (run_id, cell_id, features)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id, cell_id) DO UPDATE SET features = EXCLUDED.features`,
		cell.RunID, cell.ID, featuresJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to store cell features: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *postgresJobStateStore) ResetCells(ctx context.Context, runID uuid.UUID, from ...models.CellStatus) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE indexing_cells
		SET status = 'idle', progress = 0, error_message = NULL, updated_at = now()
		WHERE run_id = $1 AND status = ANY($2)`,
		runID, cellStatusNames(from),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset cells: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *postgresJobStateStore) CancelPendingCells(ctx context.Context, runID uuid.UUID) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE indexing_cells
		SET status = 'cancelled', updated_at = now()
		WHERE run_id = $1 AND status IN ('idle', 'running')`,
		runID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel cells: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *postgresJobStateStore) GetCellFeatures(ctx context.Context, runID uuid.UUID, cellID string) ([]models.Feature, error) {
	var featuresJSON []byte
	err := s.db.QueryRow(ctx, `
		SELECT features FROM indexing_cell_features
		WHERE run_id = $1 AND cell_id = $2`, runID, cellID).Scan(&featuresJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cell features: %w", err)
	}

	var features []models.Feature
	if err := json.Unmarshal(featuresJSON, &features); err != nil {
		return nil, fmt.Errorf("failed to unmarshal features: %w", err)
	}
	return features, nil
}

func (s *postgresJobStateStore) ListCompletedFeatures(ctx context.Context, runID uuid.UUID) ([]models.Feature, error) {
	rows, err := s.db.Query(ctx, `
		SELECT f.features
		FROM indexing_cell_features f
		JOIN indexing_cells c ON c.run_id = f.run_id AND c.cell_id = f.cell_id
		WHERE f.run_id = $1 AND c.status = 'completed'
		ORDER BY c.ordinal`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run features: %w", err)
	}
	defer rows.Close()

	var all []models.Feature
	for rows.Next() {
		var featuresJSON []byte
		if err := rows.Scan(&featuresJSON); err != nil {
			return nil, fmt.Errorf("failed to scan features: %w", err)
		}
		var features []models.Feature
		if err := json.Unmarshal(featuresJSON, &features); err != nil {
			return nil, fmt.Errorf("failed to unmarshal features: %w", err)
		}
		all = append(all, features...)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate features: %w", err)
	}
	return all, nil
}

func cellStatusNames(statuses []models.CellStatus) []string {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	return names
}

// ============================================================================
// Enrichment Jobs
// ============================================================================

func (s *postgresJobStateStore) CreateEnrichmentJob(ctx context.Context, job *models.EnrichmentRun) error {
	now := time.Now()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = now
	job.UpdatedAt = now

	mappingJSON, errorsJSON, err := marshalJobPayload(job)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO enrichment_jobs (`+enrichmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		job.ID, job.RunID, job.Region, job.MappingConfigID, mappingJSON, string(job.Status),
		job.TotalRecords, job.ProcessedRecords, job.FailedRecords, job.EnrichedRecords,
		job.MappingErrorCount, errorsJSON, job.ProgressPercent, job.ErrorMessage,
		job.StartedAt, job.CompletedAt, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, activeJobIndex) {
			return apperrors.ErrJobActive
		}
		return fmt.Errorf("failed to create enrichment job: %w", err)
	}
	return nil
}

func (s *postgresJobStateStore) GetEnrichmentJob(ctx context.Context, id uuid.UUID) (*models.EnrichmentRun, error) {
	row := s.db.QueryRow(ctx, `SELECT `+enrichmentColumns+` FROM enrichment_jobs WHERE id = $1`, id)
	job, err := scanEnrichmentJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

func (s *postgresJobStateStore) UpdateEnrichmentJob(ctx context.Context, job *models.EnrichmentRun) error {
	job.UpdatedAt = time.Now()
	_, errorsJSON, err := marshalJobPayload(job)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE enrichment_jobs
		SET status = $2, total_records = $3, processed_records = $4, failed_records = $5,
		    enriched_records = $6, mapping_error_count = $7, mapping_errors = $8,
		    progress_percent = $9, error_message = $10, started_at = $11, completed_at = $12,
		    updated_at = $13
		WHERE id = $1`,
		job.ID, string(job.Status), job.TotalRecords, job.ProcessedRecords, job.FailedRecords,
		job.EnrichedRecords, job.MappingErrorCount, errorsJSON, job.ProgressPercent,
		job.ErrorMessage, job.StartedAt, job.CompletedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update enrichment job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *postgresJobStateStore) ListEnrichmentJobsByStatus(ctx context.Context, statuses ...models.EnrichmentStatus) ([]*models.EnrichmentRun, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+enrichmentColumns+`
		FROM enrichment_jobs
		WHERE status = ANY($1)
		ORDER BY created_at`, names)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrichment jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.EnrichmentRun
	for rows.Next() {
		job, err := scanEnrichmentJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate enrichment jobs: %w", err)
	}
	return jobs, nil
}

func marshalJobPayload(job *models.EnrichmentRun) (mappingJSON, errorsJSON []byte, err error) {
	if job.MappingConfig != nil {
		if mappingJSON, err = json.Marshal(job.MappingConfig); err != nil {
			return nil, nil, fmt.Errorf("failed to marshal mapping config: %w", err)
		}
	}
	mappingErrors := job.MappingErrors
	if mappingErrors == nil {
		mappingErrors = []models.MappingError{}
	}
	if errorsJSON, err = json.Marshal(mappingErrors); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal mapping errors: %w", err)
	}
	return mappingJSON, errorsJSON, nil
}

func scanEnrichmentJob(row pgx.Row) (*models.EnrichmentRun, error) {
	var job models.EnrichmentRun
	var mappingJSON, errorsJSON []byte

	err := row.Scan(
		&job.ID, &job.RunID, &job.Region, &job.MappingConfigID, &mappingJSON, &job.Status,
		&job.TotalRecords, &job.ProcessedRecords, &job.FailedRecords, &job.EnrichedRecords,
		&job.MappingErrorCount, &errorsJSON, &job.ProgressPercent, &job.ErrorMessage,
		&job.StartedAt, &job.CompletedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan enrichment job: %w", err)
	}

	if len(mappingJSON) > 0 {
		job.MappingConfig = &models.MappingConfig{}
		if err := json.Unmarshal(mappingJSON, job.MappingConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal mapping config: %w", err)
		}
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &job.MappingErrors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal mapping errors: %w", err)
		}
	}
	return &job, nil
}

// ============================================================================
// Mapping Configs
// ============================================================================

func (s *postgresJobStateStore) SaveMappingConfig(ctx context.Context, cfg *models.MappingConfig) error {
	groupsJSON, err := json.Marshal(cfg.Groups)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping groups: %w", err)
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO mapping_configs (id, name, groups, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, groups = EXCLUDED.groups, updated_at = now()
		RETURNING created_at, updated_at`,
		cfg.ID, cfg.Name, groupsJSON,
	).Scan(&cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save mapping config: %w", err)
	}
	return nil
}

func (s *postgresJobStateStore) GetMappingConfig(ctx context.Context, id string) (*models.MappingConfig, error) {
	row := s.db.QueryRow(ctx, `SELECT `+mappingConfigColumn+` FROM mapping_configs WHERE id = $1`, id)
	cfg, err := scanMappingConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return cfg, nil
}

func (s *postgresJobStateStore) ListMappingConfigs(ctx context.Context) ([]*models.MappingConfig, error) {
	rows, err := s.db.Query(ctx, `SELECT `+mappingConfigColumn+` FROM mapping_configs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list mapping configs: %w", err)
	}
	defer rows.Close()

	var out []*models.MappingConfig
	for rows.Next() {
		cfg, err := scanMappingConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mapping configs: %w", err)
	}
	return out, nil
}

func scanMappingConfig(row pgx.Row) (*models.MappingConfig, error) {
	var cfg models.MappingConfig
	var groupsJSON []byte
	if err := row.Scan(&cfg.ID, &cfg.Name, &groupsJSON, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan mapping config: %w", err)
	}
	if err := json.Unmarshal(groupsJSON, &cfg.Groups); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mapping groups: %w", err)
	}
	return &cfg, nil
}
