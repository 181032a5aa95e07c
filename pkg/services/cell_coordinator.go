package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/config"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/metrics"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/repositories"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/retry"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/services/workflow"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/services/workqueue"
)

const finalizeTimeout = 30 * time.Second

// CellJobCoordinator fans cell fetches of a run out to a bounded worker pool
// and owns the run's status until all workers have settled.
//
// Only the task processing a cell writes that cell. The run finaliser writes
// leftover cells after the queue has drained.
type CellJobCoordinator struct {
	store     repositories.JobStateStore
	fetcher   FeatureFetcher
	infra     *workflow.Infra
	events    *EventBroadcaster
	limiter   *rate.Limiter
	workers   int
	rateLimit *retry.Config
	logger    *zap.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	done         sync.Map // runID -> chan struct{}
	shuttingDown atomic.Bool
}

// NewCellJobCoordinator creates a coordinator. The minimum request interval is
// enforced by one limiter shared by every worker of every run.
func NewCellJobCoordinator(
	store repositories.JobStateStore,
	fetcher FeatureFetcher,
	infra *workflow.Infra,
	events *EventBroadcaster,
	cfg config.IndexingConfig,
	logger *zap.Logger,
) *CellJobCoordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &CellJobCoordinator{
		store:   store,
		fetcher: fetcher,
		infra:   infra,
		events:  events,
		limiter: workqueue.NewMinIntervalLimiter(cfg.MinRequestInterval),
		workers: cfg.Workers,
		rateLimit: &retry.Config{
			MaxRetries:   cfg.RateLimitRetries,
			InitialDelay: cfg.RateLimitBackoff,
			MaxDelay:     cfg.RateLimitMaxWait,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		logger: logger.Named("cell-coordinator"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Dispatch starts fetching cells for a run whose status is already running.
// It returns a channel that is closed once the run has been finalised.
func (c *CellJobCoordinator) Dispatch(run *models.IndexingRun, cells []models.GridCell) (<-chan struct{}, error) {
	if c.shuttingDown.Load() {
		return nil, fmt.Errorf("coordinator is shutting down")
	}

	q := workqueue.New(c.logger,
		workqueue.WithWorkers(c.workers),
		workqueue.WithRateLimiter(c.limiter),
		workqueue.WithParentContext(c.ctx),
	)
	if !c.infra.StoreQueueIfAbsent(run.ID, q) {
		q.Cancel()
		return nil, apperrors.ErrRunActive
	}
	done := make(chan struct{})
	c.done.Store(run.ID, done)
	metrics.ActiveRuns.Inc()

	categories := parseCategories(run.Categories)
	dispatched := 0
	for _, cell := range cells {
		if cell.Status != models.CellStatusIdle {
			continue
		}
		q.Enqueue(&cellFetchTask{
			BaseTask:   workqueue.NewBaseTask(cell.ID, fmt.Sprintf("Fetch cell %s", cell.ID)),
			c:          c,
			cell:       cell,
			categories: categories,
		})
		dispatched++
	}

	c.logger.Info("Dispatched cell fetches",
		zap.String("run_id", run.ID.String()),
		zap.String("region", run.Region),
		zap.Int("cells", dispatched),
		zap.Int("workers", c.workers))

	go c.supervise(run.ID, q, done)
	return done, nil
}

// IsDispatched reports whether the run has a live fetch queue.
func (c *CellJobCoordinator) IsDispatched(runID uuid.UUID) bool {
	_, ok := c.infra.LoadQueue(runID)
	return ok
}

// Progress returns the queue progress of a dispatched run.
func (c *CellJobCoordinator) Progress(runID uuid.UUID) (workqueue.Progress, bool) {
	q, ok := c.infra.LoadQueue(runID)
	if !ok {
		return workqueue.Progress{}, false
	}
	return q.Progress(), true
}

// Cancel stops dispatching new cells and waits until in-flight cells settle
// and the run is persisted as cancelled.
func (c *CellJobCoordinator) Cancel(ctx context.Context, runID uuid.UUID) error {
	q, ok := c.infra.LoadQueue(runID)
	if !ok {
		return apperrors.ErrRunNotActive
	}
	q.Cancel()
	return c.Wait(ctx, runID)
}

// Pause stops the run like Cancel but leaves unfinished cells idle so the run
// can be resumed with another Dispatch.
func (c *CellJobCoordinator) Pause(ctx context.Context, runID uuid.UUID) error {
	q, ok := c.infra.LoadQueue(runID)
	if !ok {
		return apperrors.ErrRunNotActive
	}
	q.Pause()
	return c.Wait(ctx, runID)
}

// Wait blocks until the run's finaliser has finished or ctx ends.
// A run that is not dispatched returns immediately.
func (c *CellJobCoordinator) Wait(ctx context.Context, runID uuid.UUID) error {
	val, ok := c.done.Load(runID)
	if !ok {
		return nil
	}
	select {
	case <-val.(chan struct{}):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops every dispatched run. Runs keep their running status and
// their in-flight cells return to idle, so ResumeInterrupted picks them up on
// the next start.
func (c *CellJobCoordinator) Shutdown(ctx context.Context) error {
	c.shuttingDown.Store(true)
	err := c.infra.Shutdown(ctx, func(runID uuid.UUID, q *workqueue.Queue) {
		q.Cancel()
		_ = c.Wait(ctx, runID)
	})
	c.cancel()
	return err
}

// supervise waits for the queue to drain and persists the run's outcome.
func (c *CellJobCoordinator) supervise(runID uuid.UUID, q *workqueue.Queue, done chan struct{}) {
	defer func() {
		c.infra.DeleteQueue(runID)
		c.done.Delete(runID)
		metrics.ActiveRuns.Dec()
		close(done)
	}()

	waitErr := q.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("run finaliser panicked: %v", r)
			c.logger.Error("Run finaliser panicked", zap.String("run_id", runID.String()), zap.Any("panic", r))
			c.setRunStatus(ctx, runID, models.RunStatusFailed, &msg)
		}
	}()

	switch {
	case c.shuttingDown.Load():
		c.resetRunning(ctx, runID)
		c.logger.Info("Run interrupted by shutdown, will resume on restart",
			zap.String("run_id", runID.String()))

	case q.IsPaused():
		c.resetRunning(ctx, runID)
		c.setRunStatus(ctx, runID, models.RunStatusPaused, nil)

	case q.IsCancelled():
		if _, err := c.store.CancelPendingCells(ctx, runID); err != nil {
			c.logger.Error("Failed to cancel pending cells",
				zap.String("run_id", runID.String()),
				zap.Error(err))
		}
		msg := "run cancelled"
		c.setRunStatus(ctx, runID, models.RunStatusCancelled, &msg)

	case waitErr != nil:
		c.resetRunning(ctx, runID)
		msg := fmt.Sprintf("cell processing failed: %s", waitErr.Error())
		c.setRunStatus(ctx, runID, models.RunStatusFailed, &msg)

	default:
		c.setRunStatus(ctx, runID, models.RunStatusCompleted, nil)
	}
}

func (c *CellJobCoordinator) resetRunning(ctx context.Context, runID uuid.UUID) {
	if _, err := c.store.ResetCells(ctx, runID, models.CellStatusRunning); err != nil {
		c.logger.Error("Failed to reset running cells",
			zap.String("run_id", runID.String()),
			zap.Error(err))
	}
}

func (c *CellJobCoordinator) setRunStatus(ctx context.Context, runID uuid.UUID, status models.RunStatus, errMsg *string) {
	if err := c.store.UpdateRunStatus(ctx, runID, status, errMsg); err != nil {
		c.logger.Error("Failed to update run status",
			zap.String("run_id", runID.String()),
			zap.String("status", string(status)),
			zap.Error(err))
		return
	}
	c.logger.Info("Run finished",
		zap.String("run_id", runID.String()),
		zap.String("status", string(status)))

	ev := Event{Type: EventRunUpdated, Key: runID, Status: string(status)}
	if errMsg != nil {
		ev.Error = *errMsg
	}
	c.events.Publish(ev)
}

// ============================================================================
// Cell fetch task
// ============================================================================

// cellFetchTask fetches the features of one cell. Fetch failures are recorded
// on the cell and never returned; only store errors and panics fail the task.
type cellFetchTask struct {
	workqueue.BaseTask
	c          *CellJobCoordinator
	cell       models.GridCell
	categories []models.Category
}

func (t *cellFetchTask) Execute(ctx context.Context, rt workqueue.Runtime) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while fetching cell %s: %v", t.cell.ID, r)
		}
	}()

	c := t.c
	cell := t.cell
	cell.Status = models.CellStatusRunning
	cell.Progress = 0
	cell.Error = nil
	cell.Attempts++
	if err := c.store.UpdateCell(ctx, &cell); err != nil {
		return fmt.Errorf("failed to mark cell running: %w", err)
	}
	c.publishCell(&cell)

	var features []models.Feature
	fetchErr := retry.DoOnRateLimit(ctx, c.rateLimit, func() error {
		if err := rt.Pace(ctx); err != nil {
			return err
		}
		var err error
		features, err = c.fetcher.Fetch(ctx, cell.BBox, t.categories)
		return err
	}, func(attempt int, wait time.Duration) {
		metrics.RateLimitWaitsTotal.Inc()
		c.logger.Warn("Feature service rate limited, backing off",
			zap.String("run_id", cell.RunID.String()),
			zap.String("cell_id", cell.ID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait))
	})

	// Cancelled or paused: the finaliser owns the cell from here.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	cell.Progress = 100
	if fetchErr != nil {
		cell.Status = models.CellStatusFailed
		if _, ok := apperrors.IsRateLimit(fetchErr); ok {
			cell.Status = models.CellStatusRateLimited
		}
		msg := fetchErr.Error()
		cell.Error = &msg
		if err := c.store.UpdateCell(ctx, &cell); err != nil {
			return fmt.Errorf("failed to record cell failure: %w", err)
		}
		c.logger.Warn("Cell fetch failed",
			zap.String("run_id", cell.RunID.String()),
			zap.String("cell_id", cell.ID),
			zap.String("status", string(cell.Status)),
			zap.Error(fetchErr))
	} else {
		cell.Status = models.CellStatusCompleted
		cell.FeatureCount = len(features)
		if err := c.store.CompleteCell(ctx, &cell, features); err != nil {
			return fmt.Errorf("failed to store cell features: %w", err)
		}
		c.logger.Debug("Cell completed",
			zap.String("run_id", cell.RunID.String()),
			zap.String("cell_id", cell.ID),
			zap.Int("features", cell.FeatureCount))
	}

	metrics.CellsFinishedTotal.WithLabelValues(string(cell.Status)).Inc()
	c.publishCell(&cell)
	return nil
}

func (c *CellJobCoordinator) publishCell(cell *models.GridCell) {
	ev := Event{Type: EventCellUpdated, Key: cell.RunID, CellID: cell.ID, Status: string(cell.Status)}
	if cell.Error != nil {
		ev.Error = *cell.Error
	}
	c.events.Publish(ev)
}
