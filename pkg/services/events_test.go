package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/services/workflow"
)

func TestEventBroadcaster_RoutesByKey(t *testing.T) {
	b := NewEventBroadcaster(zap.NewNop())
	runA, runB := uuid.New(), uuid.New()

	chA, unsubA := b.Subscribe(runA, 4)
	defer unsubA()
	all, unsubAll := b.Subscribe(uuid.Nil, 4)
	defer unsubAll()

	b.Publish(Event{Type: EventCellUpdated, Key: runA, CellID: "0_0", Status: "completed"})
	b.Publish(Event{Type: EventCellUpdated, Key: runB, CellID: "0_1", Status: "failed"})

	ev := <-chA
	assert.Equal(t, "0_0", ev.CellID)
	assert.False(t, ev.At.IsZero())
	select {
	case extra := <-chA:
		t.Fatalf("unexpected event for run A: %+v", extra)
	default:
	}

	assert.Equal(t, "0_0", (<-all).CellID)
	assert.Equal(t, "0_1", (<-all).CellID)
}

func TestEventBroadcaster_NeverBlocks(t *testing.T) {
	b := NewEventBroadcaster(zap.NewNop())
	key := uuid.New()
	ch, unsubscribe := b.Subscribe(key, 1)

	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: EventRunUpdated, Key: key})
	}
	assert.Len(t, ch, 1)

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)

	var nilBroadcaster *EventBroadcaster
	nilBroadcaster.Publish(Event{Type: EventRunUpdated})
}

func TestRunWatcher_StopsWhenRunLeavesRunning(t *testing.T) {
	infra := workflow.NewInfra(zap.NewNop())
	runID := uuid.New()

	var polls atomic.Int32
	status := func(ctx context.Context, id uuid.UUID) (*models.RunStatusView, error) {
		s := models.RunStatusRunning
		if polls.Add(1) >= 3 {
			s = models.RunStatusCompleted
		}
		return &models.RunStatusView{Run: &models.IndexingRun{ID: id, Status: s}}, nil
	}
	w := NewRunWatcher(infra, status, zap.NewNop())

	seen := make(chan models.RunStatus, 8)
	w.Watch(context.Background(), runID, 5*time.Millisecond, func(v *models.RunStatusView) {
		seen <- v.Run.Status
	})
	assert.True(t, w.IsWatching(runID))

	require.Eventually(t, func() bool { return !w.IsWatching(runID) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), polls.Load())
	assert.Len(t, seen, 3)
}

func TestRunWatcher_Stop(t *testing.T) {
	infra := workflow.NewInfra(zap.NewNop())
	runID := uuid.New()
	status := func(ctx context.Context, id uuid.UUID) (*models.RunStatusView, error) {
		return &models.RunStatusView{Run: &models.IndexingRun{ID: id, Status: models.RunStatusRunning}}, nil
	}
	w := NewRunWatcher(infra, status, zap.NewNop())

	w.Watch(context.Background(), runID, time.Hour, func(*models.RunStatusView) {})
	require.True(t, w.IsWatching(runID))
	w.Stop(runID)
	assert.False(t, w.IsWatching(runID))
	w.Stop(runID)
}
