package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/geo"
)

// ============================================================================
// Run Status
// ============================================================================

// RunStatus represents the lifecycle status of an indexing run.
type RunStatus string

const (
	RunStatusIdle      RunStatus = "idle"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusPaused    RunStatus = "paused"
)

// IsTerminal returns true if the run will not make further progress on its own.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// IsActive returns true if the run blocks a new run for the same region.
func (s RunStatus) IsActive() bool {
	return s == RunStatusRunning || s == RunStatusPaused
}

// ============================================================================
// Cell Status
// ============================================================================

// CellStatus represents the fetch status of a single grid cell.
type CellStatus string

const (
	CellStatusIdle        CellStatus = "idle"
	CellStatusRunning     CellStatus = "running"
	CellStatusCompleted   CellStatus = "completed"
	CellStatusFailed      CellStatus = "failed"
	CellStatusRateLimited CellStatus = "rate_limited"
	CellStatusEmpty       CellStatus = "empty"
	CellStatusCancelled   CellStatus = "cancelled"
)

// IsTerminal returns true once a cell needs no further fetch without operator action.
func (s CellStatus) IsTerminal() bool {
	switch s {
	case CellStatusCompleted, CellStatusFailed, CellStatusRateLimited, CellStatusEmpty, CellStatusCancelled:
		return true
	}
	return false
}

// IsRetryable returns true for cells an explicit retry resets to idle.
func (s CellStatus) IsRetryable() bool {
	return s == CellStatusFailed || s == CellStatusRateLimited
}

// IsPending returns true for cells that still need a fetch dispatched.
func (s CellStatus) IsPending() bool {
	return s == CellStatusIdle || s == CellStatusRunning
}

// ============================================================================
// Partitioning
// ============================================================================

// PartitionMode selects how a run's bbox is split into cells.
type PartitionMode string

const (
	PartitionUniform  PartitionMode = "uniform"
	PartitionQuadtree PartitionMode = "quadtree"
)

// QuadtreeConfig controls adaptive partitioning.
type QuadtreeConfig struct {
	MaxDepth          int     `json:"max_depth" yaml:"max_depth"`
	MinSize           float64 `json:"min_size" yaml:"min_size"`   // degrees
	Threshold         float64 `json:"threshold" yaml:"threshold"` // split when sample count is strictly greater
	MaxSamplesPerCell float64 `json:"max_samples_per_cell,omitempty" yaml:"max_samples_per_cell"`
	DensityTiles      int     `json:"density_tiles,omitempty" yaml:"density_tiles"`
}

// Validate checks the quadtree parameters.
func (c *QuadtreeConfig) Validate() error {
	if c.MaxDepth < 0 || c.MaxDepth > 16 {
		return fmt.Errorf("max_depth must be between 0 and 16, got %d", c.MaxDepth)
	}
	if c.MinSize < 0 {
		return fmt.Errorf("min_size must not be negative")
	}
	if c.Threshold < 0 {
		return fmt.Errorf("threshold must not be negative")
	}
	if c.MaxSamplesPerCell < 0 {
		return fmt.Errorf("max_samples_per_cell must not be negative")
	}
	if c.DensityTiles < 0 {
		return fmt.Errorf("density_tiles must not be negative")
	}
	return nil
}

// QuadtreeNode is one entry of the quadtree arena. Children are arena indexes;
// a node has either no children (leaf) or exactly four (NW, NE, SW, SE).
type QuadtreeNode struct {
	Index       int             `json:"index"`
	ID          string          `json:"id"`
	Parent      int             `json:"parent"` // -1 for the root
	Children    []int           `json:"children,omitempty"`
	Depth       int             `json:"depth"`
	BBox        geo.BoundingBox `json:"bbox"`
	SampleCount float64         `json:"sample_count"`
}

// IsLeaf returns true for fetchable nodes.
func (n *QuadtreeNode) IsLeaf() bool {
	return len(n.Children) == 0
}

// ============================================================================
// Grid Cell
// ============================================================================

// GridCell is the unit of fetch work for an indexing run.
type GridCell struct {
	RunID        uuid.UUID       `json:"run_id"`
	ID           string          `json:"id"`
	BBox         geo.BoundingBox `json:"bbox"`
	SampleCount  float64         `json:"sample_count"`
	Depth        int             `json:"depth"`
	Dense        bool            `json:"dense,omitempty"` // leaf still above max_samples_per_cell
	Status       CellStatus      `json:"status"`
	Progress     int             `json:"progress"` // 0-100
	Error        *string         `json:"error,omitempty"`
	FeatureCount int             `json:"feature_count"`
	Attempts     int             `json:"attempts"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ============================================================================
// Indexing Run
// ============================================================================

// IndexingRun is the persisted state of one partition-and-fetch pass over a region.
type IndexingRun struct {
	ID            uuid.UUID       `json:"id"`
	Region        string          `json:"region"`
	GeoField      string          `json:"geo_field"`
	BBox          geo.BoundingBox `json:"bbox"`
	Mode          PartitionMode   `json:"mode"`
	GridTiles     int             `json:"grid_tiles,omitempty"`
	Quadtree      *QuadtreeConfig `json:"quadtree_config,omitempty"`
	QuadtreeNodes []QuadtreeNode  `json:"quadtree_nodes,omitempty"`
	Categories    []string        `json:"categories"`
	Status        RunStatus       `json:"status"`
	ErrorMessage  *string         `json:"error,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RunProgress is aggregated from per-cell records on every read.
type RunProgress struct {
	TotalCells    int     `json:"total_cells"`
	Fetchable     int     `json:"fetchable"`
	Idle          int     `json:"idle"`
	Running       int     `json:"running"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	RateLimited   int     `json:"rate_limited"`
	Empty         int     `json:"empty"`
	Cancelled     int     `json:"cancelled"`
	Processed     int     `json:"processed"`
	Percent       float64 `json:"percent"`
	TotalFeatures int     `json:"total_features"`
}

// ComputeRunProgress aggregates cell statuses. Fetchable excludes empty cells;
// processed counts completed, failed and rate_limited cells.
func ComputeRunProgress(cells []GridCell) RunProgress {
	p := RunProgress{TotalCells: len(cells)}
	for i := range cells {
		switch cells[i].Status {
		case CellStatusIdle:
			p.Idle++
		case CellStatusRunning:
			p.Running++
		case CellStatusCompleted:
			p.Completed++
			p.TotalFeatures += cells[i].FeatureCount
		case CellStatusFailed:
			p.Failed++
		case CellStatusRateLimited:
			p.RateLimited++
		case CellStatusEmpty:
			p.Empty++
		case CellStatusCancelled:
			p.Cancelled++
		}
	}
	p.Fetchable = p.TotalCells - p.Empty
	p.Processed = p.Completed + p.Failed + p.RateLimited
	if p.Fetchable == 0 {
		p.Percent = 100
	} else {
		p.Percent = float64(p.Processed) * 100 / float64(p.Fetchable)
	}
	return p
}

// RunStatusView is the response shape of a run status query.
type RunStatusView struct {
	Run      *IndexingRun `json:"run"`
	Cells    []GridCell   `json:"cells"`
	Progress RunProgress  `json:"progress"`

	// Dispatched is true while this process holds a fetch queue for the run.
	// QueuedCells counts cells waiting in that queue for a free worker.
	Dispatched  bool `json:"dispatched"`
	QueuedCells int  `json:"queued_cells"`
}
