package overpass

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/geo"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
)

// BuildQuery renders an Overpass QL union of nodes and ways matching any
// category inside bbox. Ways are returned with their geometry.
func BuildQuery(bbox geo.BoundingBox, categories []models.Category, timeoutSeconds int) string {
	// Overpass bbox order is (south, west, north, east).
	area := fmt.Sprintf("(%s,%s,%s,%s)",
		formatCoord(bbox.MinLat), formatCoord(bbox.MinLon),
		formatCoord(bbox.MaxLat), formatCoord(bbox.MaxLon))

	var b strings.Builder
	fmt.Fprintf(&b, "[out:json][timeout:%d];\n(\n", timeoutSeconds)
	for _, c := range categories {
		filter := tagFilter(c)
		fmt.Fprintf(&b, "  node%s%s;\n", filter, area)
		fmt.Fprintf(&b, "  way%s%s;\n", filter, area)
	}
	b.WriteString(");\nout tags geom;\n")
	return b.String()
}

func tagFilter(c models.Category) string {
	if c.Value == "" {
		return fmt.Sprintf("[%s]", quote(c.Key))
	}
	return fmt.Sprintf("[%s=%s]", quote(c.Key), quote(c.Value))
}

// quote returns an Overpass QL string literal.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 7, 64)
}
