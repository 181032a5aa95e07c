package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/geo"
)

func strPtr(s string) *string { return &s }

func TestComputeRunProgress(t *testing.T) {
	cells := []GridCell{
		{ID: "a", Status: CellStatusCompleted, FeatureCount: 10},
		{ID: "b", Status: CellStatusCompleted, FeatureCount: 5},
		{ID: "c", Status: CellStatusFailed},
		{ID: "d", Status: CellStatusRateLimited},
		{ID: "e", Status: CellStatusRunning},
		{ID: "f", Status: CellStatusIdle},
		{ID: "g", Status: CellStatusEmpty},
	}

	p := ComputeRunProgress(cells)

	assert.Equal(t, 7, p.TotalCells)
	assert.Equal(t, 6, p.Fetchable)
	assert.Equal(t, 4, p.Processed)
	assert.Equal(t, 15, p.TotalFeatures)
	assert.InDelta(t, 66.666, p.Percent, 0.01)
	assert.Equal(t, p.Fetchable, p.Processed+p.Idle+p.Running)
}

func TestComputeRunProgress_AllEmpty(t *testing.T) {
	p := ComputeRunProgress([]GridCell{{ID: "root", Status: CellStatusEmpty}})
	assert.Equal(t, 0, p.Fetchable)
	assert.Equal(t, float64(100), p.Percent)
}

func TestCellStatus_Predicates(t *testing.T) {
	assert.True(t, CellStatusFailed.IsRetryable())
	assert.True(t, CellStatusRateLimited.IsRetryable())
	assert.False(t, CellStatusCompleted.IsRetryable())
	assert.False(t, CellStatusEmpty.IsRetryable())

	assert.True(t, CellStatusEmpty.IsTerminal())
	assert.False(t, CellStatusRunning.IsTerminal())

	assert.True(t, RunStatusPaused.IsActive())
	assert.False(t, RunStatusFailed.IsActive())
}

func TestFeature_DistanceMeters(t *testing.T) {
	p := geo.Point{Lat: 40.75, Lon: -73.95}

	node := Feature{ID: "node/1", Type: FeatureTypePoint, Lat: 40.751, Lon: -73.95}
	assert.InDelta(t, geo.HaversineMeters(p, node.Location()), node.DistanceMeters(p), 1e-9)

	way := Feature{
		ID: "way/2", Type: FeatureTypeWay, Lat: 41, Lon: -74,
		Geometry: []geo.Point{{Lat: 40.75, Lon: -73.96}, {Lat: 40.75, Lon: -73.94}},
	}
	assert.InDelta(t, 0, way.DistanceMeters(p), 0.01)
}

func TestParseCategory(t *testing.T) {
	c, ok := ParseCategory("amenity=school")
	require.True(t, ok)
	assert.Equal(t, Category{Key: "amenity", Value: "school"}, c)

	c, ok = ParseCategory(" highway ")
	require.True(t, ok)
	assert.Equal(t, Category{Key: "highway"}, c)

	_, ok = ParseCategory("=x")
	assert.False(t, ok)
}

func TestValueList_Decoding(t *testing.T) {
	var fromString ValueList
	require.NoError(t, json.Unmarshal([]byte(`"no, false"`), &fromString))
	assert.Equal(t, ValueList{"no", "false"}, fromString)

	var fromArray ValueList
	require.NoError(t, json.Unmarshal([]byte(`["no","FALSE"]`), &fromArray))
	assert.True(t, fromArray.ContainsFold("false"))
	assert.False(t, fromArray.ContainsFold("unclassified"))

	var fromYAML struct {
		FalseValues ValueList `yaml:"false_values"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("false_values: no,false\n"), &fromYAML))
	assert.Equal(t, ValueList{"no", "false"}, fromYAML.FalseValues)
}

func validConfig() *MappingConfig {
	return &MappingConfig{
		ID:   "default",
		Name: "Default",
		Groups: []MappingGroup{
			{
				Name:    "roads",
				Enabled: true,
				Fields: []FieldMapping{
					{SourceKey: "highway", TargetField: "road_type", ValueType: ValueTypeString, DistanceThresholdMeters: 50},
					{SourceKey: "lit", TargetField: "lit", ValueType: ValueTypeBool, DistanceThresholdMeters: 50, FalseValues: ValueList{"no"}},
				},
			},
			{
				Name:       "poi",
				Enabled:    true,
				Tags:       []TagMapping{{SourceKey: "amenity", SourceValue: "school", TargetField: "near_school", DistanceThresholdMeters: 200}},
				Detections: []DetectionMapping{{SourceKey: "shop", TargetField: "shops", RadiusMeters: 300}},
			},
		},
	}
}

func TestMappingConfig_Validate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"lit", "near_school", "road_type", "shops"}, cfg.TargetFields())
	assert.Equal(t, float64(300), cfg.MaxRadiusMeters())
}

func TestMappingConfig_Validate_DuplicateField(t *testing.T) {
	cfg := validConfig()
	cfg.Groups[1].Tags[0].TargetField = "road_type"

	err := cfg.Validate()
	ce, ok := apperrors.IsConfiguration(err)
	require.True(t, ok, "expected configuration error, got %v", err)
	assert.Equal(t, apperrors.CodeDuplicateField, ce.Code)
}

func TestMappingConfig_Validate_DisabledGroupIgnored(t *testing.T) {
	cfg := validConfig()
	cfg.Groups = append(cfg.Groups, MappingGroup{
		Name:    "legacy",
		Enabled: false,
		Fields:  []FieldMapping{{SourceKey: "highway", TargetField: "road_type", ValueType: ValueTypeString, DistanceThresholdMeters: 10}},
	})
	assert.NoError(t, cfg.Validate())
}

func TestMappingConfig_Validate_InvalidMappings(t *testing.T) {
	tests := []struct {
		name  string
		field FieldMapping
	}{
		{"missing source", FieldMapping{TargetField: "x", ValueType: ValueTypeString, DistanceThresholdMeters: 1}},
		{"zero threshold", FieldMapping{SourceKey: "k", TargetField: "x", ValueType: ValueTypeString}},
		{"bad type", FieldMapping{SourceKey: "k", TargetField: "x", ValueType: "date", DistanceThresholdMeters: 1}},
		{"enum without table", FieldMapping{SourceKey: "k", TargetField: "x", ValueType: ValueTypeEnum, DistanceThresholdMeters: 1}},
		{"bad int default", FieldMapping{SourceKey: "k", TargetField: "x", ValueType: ValueTypeInt, DistanceThresholdMeters: 1, DefaultValue: strPtr("many")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &MappingConfig{ID: "c", Groups: []MappingGroup{{Name: "g", Enabled: true, Fields: []FieldMapping{tt.field}}}}
			ce, ok := apperrors.IsConfiguration(cfg.Validate())
			require.True(t, ok)
			assert.Equal(t, apperrors.CodeInvalidMapping, ce.Code)
		})
	}
}
