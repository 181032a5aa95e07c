package repositories

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
)

func TestMemoryRecordStore_ListLocations(t *testing.T) {
	store := NewMemoryRecordStore()
	store.Put("nyc", "b", map[string]any{"location": "40.75,-73.95"})
	store.Put("nyc", "a", map[string]any{"name": "no location"})
	store.Put("sf", "c", map[string]any{"location": "37.77,-122.42"})

	locs, err := store.ListLocations(context.Background(), "nyc", "location")
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, "a", locs[0].RecordID)
	assert.Nil(t, locs[0].Value)
	assert.Equal(t, "b", locs[1].RecordID)
	assert.Equal(t, "40.75,-73.95", locs[1].Value)
}

func TestMemoryRecordStore_ApplyAndClear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRecordStore()
	store.Put("nyc", "r1", map[string]any{"location": "40.75,-73.95"})

	update := models.RecordUpdate{
		RecordID: "r1",
		Fields:   map[string]any{"road_lit": true, "max_speed": 50},
		Tags:     []string{"near_school"},
	}
	require.NoError(t, store.ApplyUpdates(ctx, "nyc", []models.RecordUpdate{update, update, {RecordID: "missing", Tags: []string{"x"}}}))

	data, tags, ok := store.Get("nyc", "r1")
	require.True(t, ok)
	assert.Equal(t, true, data["road_lit"])
	assert.Equal(t, 50, data["max_speed"])
	assert.Equal(t, []string{"near_school"}, tags)

	n, err := store.ClearFields(ctx, "nyc", []string{"road_lit", "near_school", "unknown"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, tags, _ = store.Get("nyc", "r1")
	assert.NotContains(t, data, "road_lit")
	assert.Equal(t, 50, data["max_speed"])
	assert.Empty(t, tags)
	assert.Equal(t, "40.75,-73.95", data["location"])
}
