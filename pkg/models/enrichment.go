package models

import (
	"time"

	"github.com/google/uuid"
)

// EnrichmentStatus represents the lifecycle status of an enrichment job.
type EnrichmentStatus string

const (
	EnrichmentStatusPending   EnrichmentStatus = "pending"
	EnrichmentStatusRunning   EnrichmentStatus = "running"
	EnrichmentStatusCompleted EnrichmentStatus = "completed"
	EnrichmentStatusFailed    EnrichmentStatus = "failed"
	EnrichmentStatusCancelled EnrichmentStatus = "cancelled"
)

// IsTerminal returns true if the job is finished.
func (s EnrichmentStatus) IsTerminal() bool {
	return s == EnrichmentStatusCompleted || s == EnrichmentStatusFailed || s == EnrichmentStatusCancelled
}

// MappingError is a per-record coercion failure. It never fails the job.
type MappingError struct {
	RecordID    string `json:"record_id"`
	TargetField string `json:"target_field,omitempty"`
	Message     string `json:"message"`
}

// EnrichmentRun tracks one pass of a mapping config over a completed indexing run.
// Counters never decrease until the job reaches a terminal status.
type EnrichmentRun struct {
	ID                uuid.UUID        `json:"id"`
	RunID             uuid.UUID        `json:"run_id"`
	Region            string           `json:"region"`
	MappingConfigID   string           `json:"mapping_config_id"`
	MappingConfig     *MappingConfig   `json:"mapping_config,omitempty"`
	Status            EnrichmentStatus `json:"status"`
	TotalRecords      int              `json:"total_records"`
	ProcessedRecords  int              `json:"processed_records"`
	FailedRecords     int              `json:"failed_records"`
	EnrichedRecords   int              `json:"enriched_records"`
	MappingErrorCount int              `json:"mapping_error_count"`
	MappingErrors     []MappingError   `json:"mapping_errors,omitempty"` // capped sample
	ProgressPercent   float64          `json:"progress_percent"`
	ErrorMessage      *string          `json:"error,omitempty"`
	StartedAt         *time.Time       `json:"started_at,omitempty"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// RecordLocation is a record id with the raw value of its geo field.
type RecordLocation struct {
	RecordID string `json:"record_id"`
	Value    any    `json:"value"`
}

// Detection is one nearby feature attached to a record by a detection mapping.
type Detection struct {
	FeatureID      string  `json:"feature_id"`
	Label          string  `json:"label"`
	DistanceMeters float64 `json:"distance_meters"`
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
}

// RecordUpdate holds the enrichment output for one record. Fields carries typed
// values and detection lists keyed by target field; Tags are presence-only labels.
type RecordUpdate struct {
	RecordID string         `json:"record_id"`
	Fields   map[string]any `json:"fields,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
}

// IsEmpty returns true if the update writes nothing.
func (u *RecordUpdate) IsEmpty() bool {
	return len(u.Fields) == 0 && len(u.Tags) == 0
}
