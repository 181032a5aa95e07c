package enrichment

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/geo"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
)

// Result is the outcome of enriching one record.
type Result struct {
	Update models.RecordUpdate
	Errors []models.MappingError
}

// Engine applies the enabled groups of one mapping config to records.
// It is safe for concurrent use once built.
type Engine struct {
	groups []models.MappingGroup
	index  *FeatureIndex
}

// NewEngine indexes features for the mapping config's enabled groups.
func NewEngine(cfg *models.MappingConfig, features []models.Feature) *Engine {
	return &Engine{
		groups: cfg.EnabledGroups(),
		index:  NewFeatureIndex(features, cfg.MaxRadiusMeters()),
	}
}

// FeatureCount returns the number of distinct features available for matching.
func (e *Engine) FeatureCount() int {
	return e.index.Len()
}

// Enrich computes the fields, tags and detections of the record at p.
// Coercion failures are returned as mapping errors and skip only the
// affected field.
func (e *Engine) Enrich(recordID string, p geo.Point) Result {
	res := Result{Update: models.RecordUpdate{RecordID: recordID}}
	setField := func(name string, v any) {
		if res.Update.Fields == nil {
			res.Update.Fields = make(map[string]any)
		}
		res.Update.Fields[name] = v
	}

	for _, g := range e.groups {
		for i := range g.Fields {
			m := &g.Fields[i]
			v, ok, err := e.applyField(m, p)
			if err != nil {
				res.Errors = append(res.Errors, models.MappingError{
					RecordID:    recordID,
					TargetField: m.TargetField,
					Message:     err.Error(),
				})
				continue
			}
			if ok {
				setField(m.TargetField, v)
			}
		}

		for i := range g.Tags {
			m := &g.Tags[i]
			match, ok := e.nearest(p, m.SourceKey, m.SourceValue, m.DistanceThresholdMeters)
			if !ok || m.FalseValues.ContainsFold(match.Feature.Tags[m.SourceKey]) {
				continue
			}
			res.Update.Tags = append(res.Update.Tags, m.TargetField)
		}

		for i := range g.Detections {
			m := &g.Detections[i]
			if dets := e.detect(m, p); len(dets) > 0 {
				setField(m.TargetField, dets)
			}
		}
	}
	return res
}

// nearest returns the closest feature carrying key (and value when set)
// within threshold meters. Ties go to the lower feature id.
func (e *Engine) nearest(p geo.Point, key, value string, threshold float64) (Match, bool) {
	var best Match
	found := false
	for _, m := range e.index.Within(p, threshold) {
		if !m.Feature.Matches(key, value) {
			continue
		}
		if !found || m.DistanceMeters < best.DistanceMeters ||
			(m.DistanceMeters == best.DistanceMeters && m.Feature.ID < best.Feature.ID) {
			best = m
			found = true
		}
	}
	return best, found
}

// applyField returns the coerced value of the nearest match, the default
// when nothing matches, or ok=false when the field is left unset.
func (e *Engine) applyField(m *models.FieldMapping, p geo.Point) (any, bool, error) {
	match, ok := e.nearest(p, m.SourceKey, m.SourceValue, m.DistanceThresholdMeters)
	if !ok {
		if m.DefaultValue == nil {
			return nil, false, nil
		}
		v, err := models.ParseDefault(m.ValueType, *m.DefaultValue)
		if err != nil {
			return nil, false, fmt.Errorf("invalid default value %q: %w", *m.DefaultValue, err)
		}
		return v, true, nil
	}

	raw := match.Feature.Tags[m.SourceKey]
	v, err := Coerce(m, raw)
	if err == nil {
		return v, true, nil
	}
	if m.DefaultValue != nil {
		if dv, derr := models.ParseDefault(m.ValueType, *m.DefaultValue); derr == nil {
			return dv, true, nil
		}
	}
	return nil, false, err
}

// Coerce converts a raw tag value to the mapping's value type.
func Coerce(m *models.FieldMapping, raw string) (any, error) {
	s := strings.TrimSpace(raw)
	switch m.ValueType {
	case models.ValueTypeString:
		return raw, nil

	case models.ValueTypeInt:
		num := leadingNumber(s)
		if n, err := strconv.ParseInt(num, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(num, 64)
		if err != nil || f != math.Trunc(f) || !inInt64Range(f) {
			return nil, fmt.Errorf("cannot convert %q to int", raw)
		}
		return int64(f), nil

	case models.ValueTypeFloat:
		f, err := strconv.ParseFloat(leadingNumber(s), 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, fmt.Errorf("cannot convert %q to float", raw)
		}
		return f, nil

	case models.ValueTypeBool:
		// A present tag is true unless it is listed in false_values.
		return !m.FalseValues.ContainsFold(s), nil

	case models.ValueTypeEnum:
		if v, ok := m.EnumTable[s]; ok {
			return v, nil
		}
		for k, v := range m.EnumTable {
			if strings.EqualFold(k, s) {
				return v, nil
			}
		}
		return nil, fmt.Errorf("value %q is not in the enum table", raw)
	}
	return nil, fmt.Errorf("unsupported value type %q", m.ValueType)
}

// inInt64Range reports whether f converts to int64 without overflow.
// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive.
func inInt64Range(f float64) bool {
	return f >= math.MinInt64 && f < math.MaxInt64
}

// leadingNumber drops a trailing unit, so "50 mph" yields "50".
func leadingNumber(s string) string {
	if fields := strings.Fields(s); len(fields) > 0 {
		return fields[0]
	}
	return s
}

// detect lists matching features within the radius, nearest first.
func (e *Engine) detect(m *models.DetectionMapping, p geo.Point) []models.Detection {
	labelKey := m.LabelKey
	if labelKey == "" {
		labelKey = m.SourceKey
	}

	var out []models.Detection
	for _, match := range e.index.Within(p, m.RadiusMeters) {
		f := match.Feature
		if !f.Matches(m.SourceKey, m.SourceValue) {
			continue
		}
		out = append(out, models.Detection{
			FeatureID:      f.ID,
			Label:          f.Tags[labelKey],
			DistanceMeters: match.DistanceMeters,
			Lat:            f.Lat,
			Lon:            f.Lon,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceMeters != out[j].DistanceMeters {
			return out[i].DistanceMeters < out[j].DistanceMeters
		}
		return out[i].FeatureID < out[j].FeatureID
	})
	if m.MaxDetections > 0 && len(out) > m.MaxDetections {
		out = out[:m.MaxDetections]
	}
	return out
}
