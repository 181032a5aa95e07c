package repositories

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/geo"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
)

// runJobStateStoreContract exercises behaviour every JobStateStore must share.
// Each subtest uses its own region so a shared database needs no cleanup.
func runJobStateStoreContract(t *testing.T, store JobStateStore) {
	t.Run("create and read run with ordered cells", func(t *testing.T) {
		ctx := context.Background()
		run, cells := newTestRun(models.RunStatusRunning, "0_0", "0_1", "1_0", "1_1")

		require.NoError(t, store.CreateRun(ctx, run, cells))
		require.NotEqual(t, uuid.Nil, run.ID)

		got, err := store.GetRun(ctx, run.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, run.Region, got.Region)
		assert.Equal(t, run.BBox, got.BBox)
		assert.Equal(t, []string{"amenity", "shop=bakery"}, got.Categories)
		assert.Equal(t, models.PartitionUniform, got.Mode)

		listed, err := store.ListCells(ctx, run.ID)
		require.NoError(t, err)
		ids := make([]string, len(listed))
		for i, c := range listed {
			ids[i] = c.ID
			assert.Equal(t, run.ID, c.RunID)
		}
		assert.Equal(t, []string{"0_0", "0_1", "1_0", "1_1"}, ids)

		latest, err := store.GetLatestRun(ctx, run.Region)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, run.ID, latest.ID)
	})

	t.Run("missing run returns nil", func(t *testing.T) {
		got, err := store.GetRun(context.Background(), uuid.New())
		require.NoError(t, err)
		assert.Nil(t, got)

		latest, err := store.GetLatestRun(context.Background(), "no-such-region-"+uuid.NewString())
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	t.Run("one active run per region", func(t *testing.T) {
		ctx := context.Background()
		first, cells := newTestRun(models.RunStatusRunning, "root")
		require.NoError(t, store.CreateRun(ctx, first, cells))

		second, cells := newTestRun(models.RunStatusRunning, "root")
		second.Region = first.Region
		assert.ErrorIs(t, store.CreateRun(ctx, second, cells), apperrors.ErrRunActive)

		// Once the first run finishes a new one may start.
		require.NoError(t, store.UpdateRunStatus(ctx, first.ID, models.RunStatusCompleted, nil))
		third, cells := newTestRun(models.RunStatusRunning, "root")
		third.Region = first.Region
		require.NoError(t, store.CreateRun(ctx, third, cells))

		// Re-activating the finished run now conflicts.
		assert.ErrorIs(t, store.UpdateRunStatus(ctx, first.ID, models.RunStatusRunning, nil), apperrors.ErrRunActive)
	})

	t.Run("status timestamps", func(t *testing.T) {
		ctx := context.Background()
		run, cells := newTestRun(models.RunStatusIdle, "root")
		require.NoError(t, store.CreateRun(ctx, run, cells))

		require.NoError(t, store.UpdateRunStatus(ctx, run.ID, models.RunStatusRunning, nil))
		got, err := store.GetRun(ctx, run.ID)
		require.NoError(t, err)
		require.NotNil(t, got.StartedAt)
		assert.Nil(t, got.CompletedAt)

		msg := "store unavailable"
		require.NoError(t, store.UpdateRunStatus(ctx, run.ID, models.RunStatusFailed, &msg))
		got, err = store.GetRun(ctx, run.ID)
		require.NoError(t, err)
		require.NotNil(t, got.CompletedAt)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, msg, *got.ErrorMessage)

		assert.ErrorIs(t, store.UpdateRunStatus(ctx, uuid.New(), models.RunStatusRunning, nil), apperrors.ErrNotFound)
	})

	t.Run("retry resets only failed and rate limited cells", func(t *testing.T) {
		ctx := context.Background()
		run, cells := newTestRun(models.RunStatusRunning, "A", "B", "C")
		require.NoError(t, store.CreateRun(ctx, run, cells))

		a := cells[0]
		a.Status = models.CellStatusCompleted
		a.Progress = 100
		a.FeatureCount = 1
		features := []models.Feature{{ID: "node/1", Type: models.FeatureTypePoint, Lat: 40.75, Lon: -73.95, Tags: map[string]string{"amenity": "cafe"}}}
		require.NoError(t, store.CompleteCell(ctx, &a, features))

		errMsg := "service unavailable"
		b := cells[1]
		b.Status = models.CellStatusFailed
		b.Error = &errMsg
		b.Progress = 100
		require.NoError(t, store.UpdateCell(ctx, &b))

		c := cells[2]
		c.Status = models.CellStatusRateLimited
		require.NoError(t, store.UpdateCell(ctx, &c))

		n, err := store.ResetCells(ctx, run.ID, models.CellStatusFailed, models.CellStatusRateLimited)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		listed, err := store.ListCells(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, listed, 3)
		assert.Equal(t, models.CellStatusCompleted, listed[0].Status)
		assert.Equal(t, 1, listed[0].FeatureCount)
		for _, cell := range listed[1:] {
			assert.Equal(t, models.CellStatusIdle, cell.Status)
			assert.Nil(t, cell.Error)
			assert.Zero(t, cell.Progress)
		}

		stored, err := store.GetCellFeatures(ctx, run.ID, "A")
		require.NoError(t, err)
		assert.Equal(t, features, stored)

		all, err := store.ListCompletedFeatures(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, features, all)

		idle, err := store.ListCellsByStatus(ctx, run.ID, models.CellStatusIdle)
		require.NoError(t, err)
		assert.Len(t, idle, 2)
	})

	t.Run("cancel freezes pending cells", func(t *testing.T) {
		ctx := context.Background()
		run, cells := newTestRun(models.RunStatusRunning, "0_0", "0_1", "1_0")
		cells[2].Status = models.CellStatusEmpty
		require.NoError(t, store.CreateRun(ctx, run, cells))

		done := cells[0]
		done.Status = models.CellStatusCompleted
		require.NoError(t, store.CompleteCell(ctx, &done, nil))

		n, err := store.CancelPendingCells(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		listed, err := store.ListCells(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CellStatusCompleted, listed[0].Status)
		assert.Equal(t, models.CellStatusCancelled, listed[1].Status)
		assert.Equal(t, models.CellStatusEmpty, listed[2].Status)
	})

	t.Run("update of missing cell", func(t *testing.T) {
		cell := models.GridCell{RunID: uuid.New(), ID: "0_0", Status: models.CellStatusRunning}
		assert.ErrorIs(t, store.UpdateCell(context.Background(), &cell), apperrors.ErrNotFound)
	})

	t.Run("drop deletes run cells and jobs", func(t *testing.T) {
		ctx := context.Background()
		run, cells := newTestRun(models.RunStatusCompleted, "root")
		require.NoError(t, store.CreateRun(ctx, run, cells))
		job := &models.EnrichmentRun{RunID: run.ID, Region: run.Region, Status: models.EnrichmentStatusCompleted}
		require.NoError(t, store.CreateEnrichmentJob(ctx, job))

		require.NoError(t, store.DeleteRun(ctx, run.ID))

		got, err := store.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
		listed, err := store.ListCells(ctx, run.ID)
		require.NoError(t, err)
		assert.Empty(t, listed)
		gotJob, err := store.GetEnrichmentJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Nil(t, gotJob)

		assert.ErrorIs(t, store.DeleteRun(ctx, run.ID), apperrors.ErrNotFound)
	})

	t.Run("enrichment jobs", func(t *testing.T) {
		ctx := context.Background()
		run, cells := newTestRun(models.RunStatusCompleted, "root")
		require.NoError(t, store.CreateRun(ctx, run, cells))

		job := &models.EnrichmentRun{
			RunID:           run.ID,
			Region:          run.Region,
			MappingConfigID: "poi",
			MappingConfig:   testMappingConfig("poi"),
			Status:          models.EnrichmentStatusRunning,
			TotalRecords:    10,
		}
		require.NoError(t, store.CreateEnrichmentJob(ctx, job))

		other := &models.EnrichmentRun{RunID: run.ID, Region: run.Region, Status: models.EnrichmentStatusPending}
		assert.ErrorIs(t, store.CreateEnrichmentJob(ctx, other), apperrors.ErrJobActive)

		job.ProcessedRecords = 4
		job.FailedRecords = 1
		job.MappingErrorCount = 1
		job.MappingErrors = []models.MappingError{{RecordID: "r1", TargetField: "speed", Message: "invalid int"}}
		job.ProgressPercent = 40
		require.NoError(t, store.UpdateEnrichmentJob(ctx, job))

		got, err := store.GetEnrichmentJob(ctx, job.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 4, got.ProcessedRecords)
		assert.Equal(t, 1, got.FailedRecords)
		assert.Equal(t, job.MappingErrors, got.MappingErrors)
		require.NotNil(t, got.MappingConfig)
		assert.Equal(t, "poi", got.MappingConfig.ID)

		running, err := store.ListEnrichmentJobsByStatus(ctx, models.EnrichmentStatusRunning)
		require.NoError(t, err)
		assert.True(t, containsJob(running, job.ID))

		job.Status = models.EnrichmentStatusCompleted
		require.NoError(t, store.UpdateEnrichmentJob(ctx, job))
		require.NoError(t, store.CreateEnrichmentJob(ctx, other))
	})

	t.Run("mapping configs", func(t *testing.T) {
		ctx := context.Background()
		id := "cfg-" + uuid.NewString()
		cfg := testMappingConfig(id)
		require.NoError(t, store.SaveMappingConfig(ctx, cfg))
		created := cfg.CreatedAt

		cfg.Name = "renamed"
		require.NoError(t, store.SaveMappingConfig(ctx, cfg))

		got, err := store.GetMappingConfig(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "renamed", got.Name)
		assert.WithinDuration(t, created, got.CreatedAt, 0)
		require.Len(t, got.Groups, 1)
		assert.Equal(t, models.ValueList{"no", "false"}, got.Groups[0].Fields[0].FalseValues)

		all, err := store.ListMappingConfigs(ctx)
		require.NoError(t, err)
		found := false
		for _, c := range all {
			found = found || c.ID == id
		}
		assert.True(t, found)

		missing, err := store.GetMappingConfig(ctx, "missing-"+uuid.NewString())
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func newTestRun(status models.RunStatus, cellIDs ...string) (*models.IndexingRun, []models.GridCell) {
	bbox := geo.NewBoundingBox(-74.0, 40.7, -73.9, 40.8)
	run := &models.IndexingRun{
		Region:     "region-" + uuid.NewString(),
		GeoField:   "location",
		BBox:       bbox,
		Mode:       models.PartitionUniform,
		GridTiles:  2,
		Categories: []string{"amenity", "shop=bakery"},
		Status:     status,
	}
	cells := make([]models.GridCell, len(cellIDs))
	for i, id := range cellIDs {
		cells[i] = models.GridCell{ID: id, BBox: bbox, Status: models.CellStatusIdle}
	}
	return run, cells
}

func testMappingConfig(id string) *models.MappingConfig {
	return &models.MappingConfig{
		ID:   id,
		Name: "Points of interest",
		Groups: []models.MappingGroup{{
			Name:    "roads",
			Enabled: true,
			Fields: []models.FieldMapping{{
				SourceKey:               "lit",
				TargetField:             "road_lit",
				ValueType:               models.ValueTypeBool,
				DistanceThresholdMeters: 25,
				FalseValues:             models.ValueList{"no", "false"},
			}},
		}},
	}
}

func containsJob(jobs []*models.EnrichmentRun, id uuid.UUID) bool {
	for _, j := range jobs {
		if j.ID == id {
			return true
		}
	}
	return false
}
