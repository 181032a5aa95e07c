package services

import (
	"context"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/geo"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
)

// FeatureFetcher retrieves map features inside a bounding box.
// Implementations return apperrors.RateLimitError when the upstream throttles.
type FeatureFetcher interface {
	Fetch(ctx context.Context, bbox geo.BoundingBox, categories []models.Category) ([]models.Feature, error)
}

// parseCategories converts stored category strings, skipping blanks.
func parseCategories(raw []string) []models.Category {
	out := make([]models.Category, 0, len(raw))
	for _, s := range raw {
		if c, ok := models.ParseCategory(s); ok {
			out = append(out, c)
		}
	}
	return out
}
