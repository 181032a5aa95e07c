// Package workflow provides shared infrastructure for background jobs:
// the registry of active fetch queues, cancellable pollers bound to a job id,
// debounced single-writer persistence, and graceful shutdown.
package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/services/workqueue"
)

// pollerInfo holds the stop channel of one poller goroutine.
type pollerInfo struct {
	stop chan struct{}
	done chan struct{}
}

// Infra tracks the active queues and pollers of running jobs.
type Infra struct {
	logger *zap.Logger

	activeQueues sync.Map // runID -> *workqueue.Queue
	pollers      sync.Map // key -> *pollerInfo
}

// NewInfra creates the job infrastructure.
func NewInfra(logger *zap.Logger) *Infra {
	return &Infra{
		logger: logger.Named("workflow"),
	}
}

// ============================================================================
// Pollers
// ============================================================================

// PollFunc is invoked on every tick. Returning true stops the poller.
type PollFunc func(ctx context.Context) (stop bool)

// StartPoller runs fn every interval until fn returns true, ctx ends, or
// StopPoller is called with the same key. Starting a poller for a key that
// already has one replaces it.
func (w *Infra) StartPoller(ctx context.Context, key string, interval time.Duration, fn PollFunc) {
	w.StopPoller(key)

	info := &pollerInfo{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	w.pollers.Store(key, info)

	go func() {
		defer close(info.done)
		defer w.pollers.CompareAndDelete(key, info)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-info.stop:
				w.logger.Debug("Poller stopped", zap.String("key", key))
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if fn(ctx) {
					return
				}
			}
		}
	}()
}

// StopPoller stops the poller for key and waits for its goroutine to exit.
func (w *Infra) StopPoller(key string) {
	if infoVal, ok := w.pollers.LoadAndDelete(key); ok {
		info := infoVal.(*pollerInfo)
		close(info.stop)
		<-info.done
	}
}

// HasPoller reports whether a poller is registered for key.
func (w *Infra) HasPoller(key string) bool {
	_, ok := w.pollers.Load(key)
	return ok
}

// ============================================================================
// Queue Management
// ============================================================================

// StoreQueue registers the fetch queue of a run.
func (w *Infra) StoreQueue(runID uuid.UUID, queue *workqueue.Queue) {
	w.activeQueues.Store(runID, queue)
}

// StoreQueueIfAbsent registers the fetch queue of a run unless one is already
// registered. It reports whether queue was stored.
func (w *Infra) StoreQueueIfAbsent(runID uuid.UUID, queue *workqueue.Queue) bool {
	_, loaded := w.activeQueues.LoadOrStore(runID, queue)
	return !loaded
}

// LoadQueue returns the fetch queue of a run.
func (w *Infra) LoadQueue(runID uuid.UUID) (*workqueue.Queue, bool) {
	val, ok := w.activeQueues.Load(runID)
	if !ok {
		return nil, false
	}
	return val.(*workqueue.Queue), true
}

// DeleteQueue removes the fetch queue of a run.
func (w *Infra) DeleteQueue(runID uuid.UUID) {
	w.activeQueues.Delete(runID)
}

// ============================================================================
// Graceful Shutdown
// ============================================================================

// ShutdownFunc is called for each active run during shutdown.
type ShutdownFunc func(runID uuid.UUID, queue *workqueue.Queue)

// Shutdown stops all active runs in parallel and stops every poller.
// Returns ctx.Err() if the context times out before all runs settled.
func (w *Infra) Shutdown(ctx context.Context, shutdownFn ShutdownFunc) error {
	var wg sync.WaitGroup

	w.activeQueues.Range(func(key, value any) bool {
		runID := key.(uuid.UUID)
		queue := value.(*workqueue.Queue)

		wg.Add(1)
		go func(id uuid.UUID, q *workqueue.Queue) {
			defer wg.Done()
			if shutdownFn != nil {
				shutdownFn(id, q)
			}
			w.activeQueues.Delete(id)
		}(runID, queue)

		return true
	})

	w.pollers.Range(func(key, _ any) bool {
		w.StopPoller(key.(string))
		return true
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Job infrastructure shutdown complete")
		return nil
	case <-ctx.Done():
		w.logger.Warn("Shutdown timed out, some runs may not have settled")
		return ctx.Err()
	}
}
