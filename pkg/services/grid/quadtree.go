package grid

import (
	"fmt"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/geo"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
)

// ExtentBuffer pads the data extent, roughly 111 m of latitude.
const ExtentBuffer = 0.001

// Quadrant suffixes in child order.
var quadrants = [4]string{"NW", "NE", "SW", "SE"}

// QuadtreeResult is the full arena plus the fetchable leaves in depth-first order.
type QuadtreeResult struct {
	Extent geo.BoundingBox
	Nodes  []models.QuadtreeNode
	Leaves []Cell
}

// BuildQuadtree builds an adaptive partition over the density grid.
//
// The root covers the tight extent of all density cells with samples, padded
// by ExtentBuffer. A node splits into NW/NE/SW/SE quadrants iff
// depth < MaxDepth, sampleCount > Threshold, and both sides exceed MinSize.
// Child counts are the area-weighted share of every overlapping density cell,
// so a density cell straddling a quadrant edge contributes to each side and
// the leaf counts sum to the root count.
//
// When no density cell has samples the result is a single empty leaf over the
// padded fallback box.
func BuildQuadtree(density []Cell, cfg models.QuadtreeConfig, fallback geo.BoundingBox) (*QuadtreeResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	extent, ok := dataExtent(density)
	if !ok {
		if err := fallback.Validate(); err != nil {
			return nil, err
		}
		bbox := fallback.Pad(ExtentBuffer)
		return &QuadtreeResult{
			Extent: bbox,
			Nodes:  []models.QuadtreeNode{{Index: 0, ID: "root", Parent: -1, BBox: bbox}},
			Leaves: []Cell{{ID: "root", BBox: bbox, Empty: true}},
		}, nil
	}
	extent = extent.Pad(ExtentBuffer)

	nodes := []models.QuadtreeNode{{
		Index:       0,
		ID:          "root",
		Parent:      -1,
		BBox:        extent,
		SampleCount: weightedCount(density, extent),
	}}

	var leaves []Cell
	stack := []int{0}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := nodes[idx]

		if !shouldSplit(node, cfg) {
			leaves = append(leaves, Cell{
				ID:          node.ID,
				BBox:        node.BBox,
				SampleCount: node.SampleCount,
				Depth:       node.Depth,
				Dense:       cfg.MaxSamplesPerCell > 0 && node.SampleCount > cfg.MaxSamplesPerCell,
			})
			continue
		}

		children := make([]int, 0, 4)
		for q, bbox := range split(node.BBox) {
			child := models.QuadtreeNode{
				Index:       len(nodes),
				ID:          fmt.Sprintf("%s_%s", node.ID, quadrants[q]),
				Parent:      idx,
				Depth:       node.Depth + 1,
				BBox:        bbox,
				SampleCount: weightedCount(density, bbox),
			}
			nodes = append(nodes, child)
			children = append(children, child.Index)
		}
		nodes[idx].Children = children

		// Push in reverse so NW is visited first.
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}

	return &QuadtreeResult{Extent: extent, Nodes: nodes, Leaves: leaves}, nil
}

func shouldSplit(n models.QuadtreeNode, cfg models.QuadtreeConfig) bool {
	return n.Depth < cfg.MaxDepth &&
		n.SampleCount > cfg.Threshold &&
		n.BBox.Width() > cfg.MinSize &&
		n.BBox.Height() > cfg.MinSize
}

// split returns the NW, NE, SW, SE quadrants of b.
func split(b geo.BoundingBox) [4]geo.BoundingBox {
	midLon := b.MinLon + (b.MaxLon-b.MinLon)/2
	midLat := b.MinLat + (b.MaxLat-b.MinLat)/2
	return [4]geo.BoundingBox{
		{MinLon: b.MinLon, MinLat: midLat, MaxLon: midLon, MaxLat: b.MaxLat},
		{MinLon: midLon, MinLat: midLat, MaxLon: b.MaxLon, MaxLat: b.MaxLat},
		{MinLon: b.MinLon, MinLat: b.MinLat, MaxLon: midLon, MaxLat: midLat},
		{MinLon: midLon, MinLat: b.MinLat, MaxLon: b.MaxLon, MaxLat: midLat},
	}
}

func dataExtent(density []Cell) (geo.BoundingBox, bool) {
	var extent geo.BoundingBox
	found := false
	for _, c := range density {
		if c.SampleCount <= 0 {
			continue
		}
		if !found {
			extent = c.BBox
			found = true
			continue
		}
		extent = extent.Union(c.BBox)
	}
	return extent, found
}

// weightedCount sums each overlapping density cell's samples scaled by the
// fraction of its area inside b.
func weightedCount(density []Cell, b geo.BoundingBox) float64 {
	var total float64
	for _, c := range density {
		if c.SampleCount <= 0 || !c.BBox.Overlaps(b) {
			continue
		}
		area := c.BBox.Area()
		if area <= 0 {
			continue
		}
		total += c.SampleCount * c.BBox.OverlapArea(b) / area
	}
	return total
}
