package workflow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PersistFunc saves one update.
type PersistFunc[T any] func(ctx context.Context, update T) error

// Writer serializes persistence for a single job. One goroutine drains the
// update channel and persists only the latest update (debounce), so producers
// never write the job record concurrently.
type Writer[T any] struct {
	updates chan T
	done    chan struct{}
	persist PersistFunc[T]
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	lastErr error
}

// NewWriter starts the writer goroutine.
func NewWriter[T any](persist PersistFunc[T], logger *zap.Logger) *Writer[T] {
	w := &Writer[T]{
		updates: make(chan T, 64),
		done:    make(chan struct{}),
		persist: persist,
		timeout: 10 * time.Second,
		logger:  logger,
	}
	go w.run()
	return w
}

// Send queues an update without blocking. When the buffer is full the update
// is dropped; a later Send or Close carries the newer state.
func (w *Writer[T]) Send(update T) bool {
	select {
	case w.updates <- update:
		return true
	default:
		w.logger.Debug("Writer buffer full, dropping intermediate update")
		return false
	}
}

// Close persists final after all pending updates, stops the goroutine and
// returns the last persistence error.
func (w *Writer[T]) Close(final T) error {
	close(w.updates)
	<-w.done
	w.save(final)
	return w.Err()
}

// Err returns the most recent persistence error, if any.
func (w *Writer[T]) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

func (w *Writer[T]) run() {
	defer close(w.done)

	for {
		update, ok := <-w.updates
		if !ok {
			return
		}

		// Drain any additional pending updates, keeping only the latest
	drain:
		for {
			select {
			case newer, ok := <-w.updates:
				if !ok {
					w.save(update)
					return
				}
				update = newer
			default:
				break drain
			}
		}

		w.save(update)
	}
}

func (w *Writer[T]) save(update T) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	err := w.persist(ctx, update)
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
	if err != nil {
		w.logger.Error("Failed to persist update", zap.Error(err))
	}
}
