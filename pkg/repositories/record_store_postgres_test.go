//go:build integration

package repositories

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/geo"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/testhelpers"
)

func TestPostgresRecordStore_RoundTrip(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	store := NewPostgresRecordStore(testDB.DB)
	ctx := context.Background()
	region := "region-" + uuid.NewString()

	require.NoError(t, store.Upsert(ctx, region, "r1", map[string]any{
		"location": map[string]any{"lat": 40.75, "lon": -73.95},
	}))
	require.NoError(t, store.Upsert(ctx, region, "r2", map[string]any{"name": "no location"}))

	locs, err := store.ListLocations(ctx, region, "location")
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, "r1", locs[0].RecordID)
	p, err := geo.ParseCoordinate(locs[0].Value)
	require.NoError(t, err)
	assert.InDelta(t, 40.75, p.Lat, 1e-9)
	assert.Nil(t, locs[1].Value)

	updates := []models.RecordUpdate{{
		RecordID: "r1",
		Fields:   map[string]any{"road_lit": true},
		Tags:     []string{"near_school", "near_school"},
	}}
	require.NoError(t, store.ApplyUpdates(ctx, region, updates))
	require.NoError(t, store.ApplyUpdates(ctx, region, updates))

	var dataJSON []byte
	var tags []string
	err = testDB.DB.QueryRow(ctx, `SELECT data, tags FROM geo_records WHERE region = $1 AND id = 'r1'`, region).
		Scan(&dataJSON, &tags)
	require.NoError(t, err)
	var data map[string]any
	require.NoError(t, json.Unmarshal(dataJSON, &data))
	assert.Equal(t, true, data["road_lit"])
	assert.Equal(t, []string{"near_school"}, tags)

	n, err := store.ClearFields(ctx, region, []string{"road_lit", "near_school"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = testDB.DB.QueryRow(ctx, `SELECT data, tags FROM geo_records WHERE region = $1 AND id = 'r1'`, region).
		Scan(&dataJSON, &tags)
	require.NoError(t, err)
	data = nil
	require.NoError(t, json.Unmarshal(dataJSON, &data))
	assert.NotContains(t, data, "road_lit")
	assert.Contains(t, data, "location")
	assert.Empty(t, tags)
}
