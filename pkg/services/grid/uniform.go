// Package grid partitions a bounding box into fetchable cells, either as a
// uniform N×N grid or as an adaptive quadtree driven by sample density.
package grid

import (
	"fmt"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/geo"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
)

// Cell is a partition output cell before it is attached to a run.
type Cell struct {
	ID          string
	Row         int
	Col         int
	BBox        geo.BoundingBox
	SampleCount float64
	Depth       int
	Dense       bool
	Empty       bool
}

// ToGridCell converts the partition cell to the persisted form with its initial status.
func (c Cell) ToGridCell() models.GridCell {
	status := models.CellStatusIdle
	if c.Empty {
		status = models.CellStatusEmpty
	}
	return models.GridCell{
		ID:          c.ID,
		BBox:        c.BBox,
		SampleCount: c.SampleCount,
		Depth:       c.Depth,
		Dense:       c.Dense,
		Status:      status,
	}
}

// UniformID returns the "{row}_{col}" id of a uniform grid cell.
func UniformID(row, col int) string {
	return fmt.Sprintf("%d_%d", row, col)
}

// edge returns the i-th of n+1 edges between min and max. Adjacent cells use
// the same expression, so shared edges are bit-identical.
func edge(min, max float64, i, n int) float64 {
	if i == n {
		return max
	}
	return min + (max-min)*float64(i)/float64(n)
}

// Uniform splits bbox into n×n equal cells, row-major from (minLat, minLon).
// Row indexes latitude bands and col indexes longitude bands.
func Uniform(bbox geo.BoundingBox, n int) ([]Cell, error) {
	if err := bbox.Validate(); err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, fmt.Errorf("grid tiles must be at least 1, got %d", n)
	}

	cells := make([]Cell, 0, n*n)
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			cells = append(cells, Cell{
				ID:  UniformID(row, col),
				Row: row,
				Col: col,
				BBox: geo.BoundingBox{
					MinLon: edge(bbox.MinLon, bbox.MaxLon, col, n),
					MinLat: edge(bbox.MinLat, bbox.MaxLat, row, n),
					MaxLon: edge(bbox.MinLon, bbox.MaxLon, col+1, n),
					MaxLat: edge(bbox.MinLat, bbox.MaxLat, row+1, n),
				},
			})
		}
	}
	return cells, nil
}

// cellIndex returns the index of the band containing v, clamping points on
// the max edge into the last band. ok is false outside [min, max].
func cellIndex(v, min, max float64, n int) (int, bool) {
	if v < min || v > max {
		return 0, false
	}
	i := int((v - min) / (max - min) * float64(n))
	if i >= n {
		i = n - 1
	}
	return i, true
}

// Density counts points per uniform cell of bbox. Points outside bbox are
// ignored; every cell appears in the result, including zero counts.
func Density(bbox geo.BoundingBox, n int, points []geo.Point) ([]Cell, error) {
	cells, err := Uniform(bbox, n)
	if err != nil {
		return nil, err
	}

	for _, p := range points {
		row, okRow := cellIndex(p.Lat, bbox.MinLat, bbox.MaxLat, n)
		col, okCol := cellIndex(p.Lon, bbox.MinLon, bbox.MaxLon, n)
		if !okRow || !okCol {
			continue
		}
		// Float rounding can put a point just past its cell's edge; nudge it back.
		c := &cells[row*n+col]
		if p.Lat < c.BBox.MinLat && row > 0 {
			row--
		} else if p.Lat >= c.BBox.MaxLat && row < n-1 {
			row++
		}
		if p.Lon < c.BBox.MinLon && col > 0 {
			col--
		} else if p.Lon >= c.BBox.MaxLon && col < n-1 {
			col++
		}
		cells[row*n+col].SampleCount++
	}
	return cells, nil
}

// DensityMap returns the id -> sampleCount view of a density grid.
func DensityMap(cells []Cell) map[string]float64 {
	out := make(map[string]float64, len(cells))
	for _, c := range cells {
		out[c.ID] = c.SampleCount
	}
	return out
}
