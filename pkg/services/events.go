package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/services/workflow"
)

// EventType identifies what changed.
type EventType string

const (
	EventCellUpdated       EventType = "cell_updated"
	EventRunUpdated        EventType = "run_updated"
	EventEnrichmentUpdated EventType = "enrichment_updated"
)

// Event is a state change emitted by the coordinator or the enrichment supervisor.
// Key is the indexing run id for cell/run events and the job id for enrichment events.
type Event struct {
	Type   EventType `json:"type"`
	Key    uuid.UUID `json:"key"`
	CellID string    `json:"cell_id,omitempty"`
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// EventBroadcaster fans events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event and can fall back to a
// status query.
type EventBroadcaster struct {
	mu     sync.RWMutex
	nextID int
	subs   map[uuid.UUID]map[int]chan Event // uuid.Nil receives every event
	logger *zap.Logger
}

// NewEventBroadcaster creates an empty broadcaster.
func NewEventBroadcaster(logger *zap.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		subs:   make(map[uuid.UUID]map[int]chan Event),
		logger: logger.Named("events"),
	}
}

// Subscribe returns a channel of events for key (uuid.Nil for all events)
// and a function that unsubscribes and closes the channel.
func (b *EventBroadcaster) Subscribe(key uuid.UUID, buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[key] == nil {
		b.subs[key] = make(map[int]chan Event)
	}
	b.subs[key][id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[key], id)
			if len(b.subs[key]) == 0 {
				delete(b.subs, key)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to the subscribers of ev.Key and to global subscribers.
func (b *EventBroadcaster) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	deliver := func(subs map[int]chan Event) {
		for _, ch := range subs {
			select {
			case ch <- ev:
			default:
				b.logger.Debug("Subscriber buffer full, dropping event",
					zap.String("type", string(ev.Type)),
					zap.String("key", ev.Key.String()))
			}
		}
	}
	deliver(b.subs[ev.Key])
	if ev.Key != uuid.Nil {
		deliver(b.subs[uuid.Nil])
	}
}

// ============================================================================
// RunWatcher
// ============================================================================

// StatusFunc loads the current status view of a run.
type StatusFunc func(ctx context.Context, runID uuid.UUID) (*models.RunStatusView, error)

// RunWatcher polls a run's status on an interval. Each watch is bound to the
// run id, so stopping or cancelling the run stops its poller.
type RunWatcher struct {
	infra  *workflow.Infra
	status StatusFunc
	logger *zap.Logger
}

// NewRunWatcher creates a watcher that reads run status through status.
func NewRunWatcher(infra *workflow.Infra, status StatusFunc, logger *zap.Logger) *RunWatcher {
	return &RunWatcher{
		infra:  infra,
		status: status,
		logger: logger.Named("run-watcher"),
	}
}

func watchKey(runID uuid.UUID) string {
	return fmt.Sprintf("run:%s", runID)
}

// Watch calls fn with the run's status every interval until the run leaves
// the running state, ctx ends, or Stop is called. A second Watch for the
// same run replaces the first.
func (w *RunWatcher) Watch(ctx context.Context, runID uuid.UUID, interval time.Duration, fn func(*models.RunStatusView)) {
	w.infra.StartPoller(ctx, watchKey(runID), interval, func(ctx context.Context) bool {
		view, err := w.status(ctx, runID)
		if err != nil {
			w.logger.Warn("Failed to poll run status",
				zap.String("run_id", runID.String()),
				zap.Error(err))
			return false
		}
		if view == nil {
			return true
		}
		fn(view)
		return view.Run.Status != models.RunStatusRunning
	})
}

// Stop stops the watch of a run, if any.
func (w *RunWatcher) Stop(runID uuid.UUID) {
	w.infra.StopPoller(watchKey(runID))
}

// IsWatching reports whether a watch is active for the run.
func (w *RunWatcher) IsWatching(runID uuid.UUID) bool {
	return w.infra.HasPoller(watchKey(runID))
}
