package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/config"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/geo"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/metrics"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/repositories"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/services/enrichment"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/services/workflow"
)

// StartEnrichmentRequest names the completed indexing run and the mapping
// config to apply, either by id or inline.
type StartEnrichmentRequest struct {
	RunID           uuid.UUID             `json:"run_id"`
	MappingConfigID string                `json:"mapping_config_id,omitempty"`
	MappingConfig   *models.MappingConfig `json:"mapping_config,omitempty"`
	ExecutionMode   ExecutionMode         `json:"execution_mode,omitempty"`
}

// EnrichmentService runs mapping configs over the records of indexed regions.
type EnrichmentService struct {
	store   repositories.JobStateStore
	records repositories.RecordStore
	events  *EventBroadcaster
	cfg     config.EnrichmentConfig
	logger  *zap.Logger

	active       sync.Map // jobID -> *activeJob
	shuttingDown atomic.Bool
}

type activeJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEnrichmentService creates the enrichment service.
func NewEnrichmentService(
	store repositories.JobStateStore,
	records repositories.RecordStore,
	events *EventBroadcaster,
	cfg config.EnrichmentConfig,
	logger *zap.Logger,
) *EnrichmentService {
	return &EnrichmentService{
		store:   store,
		records: records,
		events:  events,
		cfg:     cfg,
		logger:  logger.Named("enrichment"),
	}
}

// StartEnrichment creates a job for a completed indexing run and processes
// the region's records in the background. In sync mode it returns the job in
// its terminal state.
func (s *EnrichmentService) StartEnrichment(ctx context.Context, req StartEnrichmentRequest) (*models.EnrichmentRun, error) {
	mode, err := ParseExecutionMode(string(req.ExecutionMode))
	if err != nil {
		return nil, err
	}
	if s.shuttingDown.Load() {
		return nil, fmt.Errorf("enrichment service is shutting down")
	}

	run, err := s.store.GetRun(ctx, req.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, apperrors.ErrNotFound
	}
	if run.Status != models.RunStatusCompleted {
		return nil, apperrors.NewConfigurationError(apperrors.CodeRunNotCompleted,
			"indexing run %s is %s, enrichment needs a completed run", run.ID, run.Status)
	}

	mapping, err := s.resolveMapping(ctx, req)
	if err != nil {
		return nil, err
	}

	locations, err := s.records.ListLocations(ctx, run.Region, run.GeoField)
	if err != nil {
		return nil, fmt.Errorf("failed to load record locations: %w", err)
	}

	now := time.Now()
	job := &models.EnrichmentRun{
		ID:              uuid.New(),
		RunID:           run.ID,
		Region:          run.Region,
		MappingConfigID: mapping.ID,
		MappingConfig:   mapping,
		Status:          models.EnrichmentStatusRunning,
		TotalRecords:    len(locations),
		StartedAt:       &now,
	}
	if err := s.store.CreateEnrichmentJob(ctx, job); err != nil {
		if errors.Is(err, apperrors.ErrJobActive) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create enrichment job: %w", err)
	}

	s.logger.Info("Starting enrichment",
		zap.String("job_id", job.ID.String()),
		zap.String("run_id", run.ID.String()),
		zap.String("region", run.Region),
		zap.String("mapping_config", mapping.ID),
		zap.Int("records", len(locations)))

	jobCtx, cancel := context.WithCancel(context.Background())
	aj := &activeJob{cancel: cancel, done: make(chan struct{})}
	s.active.Store(job.ID, aj)

	snapshot := *job
	go s.runJob(jobCtx, aj, snapshot, mapping, locations)

	if mode == ExecutionAsync {
		return job, nil
	}
	select {
	case <-aj.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	final, err := s.store.GetEnrichmentJob(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load enrichment job: %w", err)
	}
	return final, nil
}

func (s *EnrichmentService) resolveMapping(ctx context.Context, req StartEnrichmentRequest) (*models.MappingConfig, error) {
	if req.MappingConfig != nil {
		if err := req.MappingConfig.Validate(); err != nil {
			return nil, err
		}
		return req.MappingConfig, nil
	}
	if strings.TrimSpace(req.MappingConfigID) == "" {
		return nil, apperrors.NewConfigurationError(apperrors.CodeInvalidRequest,
			"mapping_config_id or mapping_config is required")
	}
	mapping, err := s.store.GetMappingConfig(ctx, req.MappingConfigID)
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping config: %w", err)
	}
	if mapping == nil {
		return nil, fmt.Errorf("mapping config %q: %w", req.MappingConfigID, apperrors.ErrNotFound)
	}
	if err := mapping.Validate(); err != nil {
		return nil, err
	}
	return mapping, nil
}

// jobProgress accumulates counters from concurrent batches. Counters only grow.
type jobProgress struct {
	mu        sync.Mutex
	job       models.EnrichmentRun
	maxErrors int
	lastSent  time.Time
}

// add folds one batch into the job. When interval has passed since the last
// report, report receives the new snapshot while the lock is still held, so
// reports go out in the order the counters grew.
func (p *jobProgress) add(processed, failed, enriched int, errs []models.MappingError, interval time.Duration, report func(models.EnrichmentRun)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.job.ProcessedRecords += processed
	p.job.FailedRecords += failed
	p.job.EnrichedRecords += enriched
	p.job.MappingErrorCount += len(errs)
	for _, e := range errs {
		if len(p.job.MappingErrors) >= p.maxErrors {
			break
		}
		p.job.MappingErrors = append(p.job.MappingErrors, e)
	}
	if p.job.TotalRecords > 0 {
		p.job.ProgressPercent = float64(p.job.ProcessedRecords) * 100 / float64(p.job.TotalRecords)
	}

	if time.Since(p.lastSent) < interval {
		return
	}
	p.lastSent = time.Now()
	report(p.snapshotLocked())
}

func (p *jobProgress) snapshotLocked() models.EnrichmentRun {
	snap := p.job
	snap.MappingErrors = append([]models.MappingError(nil), p.job.MappingErrors...)
	return snap
}

func (p *jobProgress) snapshot() models.EnrichmentRun {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// runJob is the job supervisor. It is the only writer of the job record.
func (s *EnrichmentService) runJob(
	ctx context.Context,
	aj *activeJob,
	job models.EnrichmentRun,
	mapping *models.MappingConfig,
	locations []models.RecordLocation,
) {
	log := s.logger.With(zap.String("job_id", job.ID.String()))
	writer := workflow.NewWriter(func(ctx context.Context, j models.EnrichmentRun) error {
		return s.store.UpdateEnrichmentJob(ctx, &j)
	}, log)

	progress := &jobProgress{job: job, maxErrors: s.cfg.MaxMappingErrors, lastSent: time.Now()}
	var runErr error

	defer func() {
		if r := recover(); r != nil {
			log.Error("Enrichment job panicked", zap.Any("panic", r))
			runErr = fmt.Errorf("enrichment panicked: %v", r)
		}

		final := progress.snapshot()
		now := time.Now()
		final.CompletedAt = &now
		switch {
		case s.shuttingDown.Load() && ctx.Err() != nil:
			final.Status = models.EnrichmentStatusFailed
			final.ErrorMessage = strPtr("interrupted by shutdown")
		case ctx.Err() != nil:
			final.Status = models.EnrichmentStatusCancelled
			final.ErrorMessage = strPtr("enrichment cancelled")
		case runErr != nil:
			final.Status = models.EnrichmentStatusFailed
			final.ErrorMessage = strPtr(runErr.Error())
		default:
			final.Status = models.EnrichmentStatusCompleted
			final.ProgressPercent = 100
		}

		if err := writer.Close(final); err != nil {
			log.Error("Failed to persist final enrichment state", zap.Error(err))
		}
		log.Info("Enrichment finished",
			zap.String("status", string(final.Status)),
			zap.Int("processed", final.ProcessedRecords),
			zap.Int("failed", final.FailedRecords),
			zap.Int("mapping_errors", final.MappingErrorCount))

		ev := Event{Type: EventEnrichmentUpdated, Key: final.ID, Status: string(final.Status)}
		if final.ErrorMessage != nil {
			ev.Error = *final.ErrorMessage
		}
		s.events.Publish(ev)

		s.active.Delete(job.ID)
		aj.cancel()
		close(aj.done)
	}()

	features, err := s.store.ListCompletedFeatures(ctx, job.RunID)
	if err != nil {
		runErr = fmt.Errorf("failed to load indexed features: %w", err)
		return
	}
	engine := enrichment.NewEngine(mapping, features)
	log.Debug("Feature index built", zap.Int("features", engine.FeatureCount()))

	batchSize := s.cfg.BatchSize
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for start := 0; start < len(locations); start += batchSize {
		if gctx.Err() != nil {
			break
		}
		end := min(start+batchSize, len(locations))
		batch := locations[start:end]

		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("enrichment batch panicked: %v", r)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			updates, failed, enriched, errs := enrichBatch(engine, batch)
			if len(updates) > 0 {
				if err := s.records.ApplyUpdates(gctx, job.Region, updates); err != nil {
					return fmt.Errorf("failed to write enriched records: %w", err)
				}
			}

			metrics.EnrichedRecordsTotal.WithLabelValues("enriched").Add(float64(enriched))
			metrics.EnrichedRecordsTotal.WithLabelValues("failed").Add(float64(failed))
			metrics.EnrichedRecordsTotal.WithLabelValues("unchanged").Add(float64(len(batch) - enriched - failed))
			metrics.MappingErrorsTotal.Add(float64(len(errs)))

			progress.add(len(batch), failed, enriched, errs, s.cfg.ProgressInterval, func(snap models.EnrichmentRun) {
				writer.Send(snap)
				s.events.Publish(Event{Type: EventEnrichmentUpdated, Key: job.ID, Status: string(snap.Status)})
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		runErr = err
	}
}

// enrichBatch enriches records sequentially. Records without a usable
// coordinate count as failed.
func enrichBatch(engine *enrichment.Engine, batch []models.RecordLocation) ([]models.RecordUpdate, int, int, []models.MappingError) {
	var (
		updates  []models.RecordUpdate
		errs     []models.MappingError
		failed   int
		enriched int
	)
	for _, loc := range batch {
		p, err := geo.ParseCoordinate(loc.Value)
		if err != nil {
			failed++
			continue
		}
		res := engine.Enrich(loc.RecordID, p)
		errs = append(errs, res.Errors...)
		if !res.Update.IsEmpty() {
			updates = append(updates, res.Update)
			enriched++
		}
	}
	return updates, failed, enriched, errs
}

func strPtr(s string) *string { return &s }

// GetEnrichmentStatus returns the current state of a job.
func (s *EnrichmentService) GetEnrichmentStatus(ctx context.Context, jobID uuid.UUID) (*models.EnrichmentRun, error) {
	job, err := s.store.GetEnrichmentJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get enrichment job: %w", err)
	}
	if job == nil {
		return nil, apperrors.ErrNotFound
	}
	return job, nil
}

// SubscribeJob streams the progress events of one enrichment job. The
// returned func unsubscribes and closes the channel.
func (s *EnrichmentService) SubscribeJob(jobID uuid.UUID) (<-chan Event, func()) {
	return s.events.Subscribe(jobID, runEventBuffer)
}

// CancelEnrichment stops a running job after its in-flight batches settle.
// Records already written keep their enrichment.
func (s *EnrichmentService) CancelEnrichment(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.GetEnrichmentStatus(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return apperrors.ErrRunNotActive
	}

	if val, ok := s.active.Load(jobID); ok {
		aj := val.(*activeJob)
		aj.cancel()
		select {
		case <-aj.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// No live supervisor, e.g. the job belonged to a previous process.
	now := time.Now()
	job.Status = models.EnrichmentStatusCancelled
	job.ErrorMessage = strPtr("enrichment cancelled")
	job.CompletedAt = &now
	if err := s.store.UpdateEnrichmentJob(ctx, job); err != nil {
		return fmt.Errorf("failed to cancel enrichment job: %w", err)
	}
	return nil
}

// ClearEnrichmentFields removes the named fields and tags from every record of
// the region and returns how many records changed.
func (s *EnrichmentService) ClearEnrichmentFields(ctx context.Context, region string, fields []string) (int, error) {
	if strings.TrimSpace(region) == "" {
		return 0, apperrors.NewConfigurationError(apperrors.CodeInvalidRequest, "region is required")
	}
	var names []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			names = append(names, f)
		}
	}
	if len(names) == 0 {
		return 0, apperrors.NewConfigurationError(apperrors.CodeInvalidRequest, "field_names must not be empty")
	}

	jobs, err := s.store.ListEnrichmentJobsByStatus(ctx, models.EnrichmentStatusPending, models.EnrichmentStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to list enrichment jobs: %w", err)
	}
	for _, j := range jobs {
		if j.Region == region {
			return 0, apperrors.ErrJobActive
		}
	}

	n, err := s.records.ClearFields(ctx, region, names)
	if err != nil {
		return 0, fmt.Errorf("failed to clear enrichment fields: %w", err)
	}
	s.logger.Info("Cleared enrichment fields",
		zap.String("region", region),
		zap.Strings("fields", names),
		zap.Int("records", n))
	return n, nil
}

// RecoverInterrupted fails jobs left pending or running by a previous process.
func (s *EnrichmentService) RecoverInterrupted(ctx context.Context) (int, error) {
	jobs, err := s.store.ListEnrichmentJobsByStatus(ctx, models.EnrichmentStatusPending, models.EnrichmentStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to list interrupted enrichment jobs: %w", err)
	}
	n := 0
	for _, job := range jobs {
		if _, ok := s.active.Load(job.ID); ok {
			continue
		}
		now := time.Now()
		job.Status = models.EnrichmentStatusFailed
		job.ErrorMessage = strPtr("interrupted by restart")
		job.CompletedAt = &now
		if err := s.store.UpdateEnrichmentJob(ctx, job); err != nil {
			return n, fmt.Errorf("failed to mark enrichment job %s failed: %w", job.ID, err)
		}
		n++
	}
	return n, nil
}

// Shutdown cancels running jobs and waits for their supervisors to persist.
func (s *EnrichmentService) Shutdown(ctx context.Context) error {
	s.shuttingDown.Store(true)

	var pending []*activeJob
	s.active.Range(func(_, value any) bool {
		aj := value.(*activeJob)
		aj.cancel()
		pending = append(pending, aj)
		return true
	})
	for _, aj := range pending {
		select {
		case <-aj.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
