package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/apperrors"
)

// ValueType is the target type of a field mapping.
type ValueType string

const (
	ValueTypeString ValueType = "string"
	ValueTypeInt    ValueType = "int"
	ValueTypeFloat  ValueType = "float"
	ValueTypeBool   ValueType = "bool"
	ValueTypeEnum   ValueType = "enum"
)

// IsValid checks if the value type is supported.
func (v ValueType) IsValid() bool {
	switch v {
	case ValueTypeString, ValueTypeInt, ValueTypeFloat, ValueTypeBool, ValueTypeEnum:
		return true
	}
	return false
}

// ValueList is a list of tag values. It decodes from either a comma-separated
// string ("no,false") or a list.
type ValueList []string

func splitValueList(s string) ValueList {
	var out ValueList
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (l *ValueList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = splitValueList(s)
		return nil
	}
	var arr []string
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("value list must be a string or a list of strings: %w", err)
	}
	*l = splitValueList(strings.Join(arr, ","))
	return nil
}

func (l *ValueList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*l = splitValueList(node.Value)
		return nil
	}
	var arr []string
	if err := node.Decode(&arr); err != nil {
		return fmt.Errorf("value list must be a string or a list of strings: %w", err)
	}
	*l = splitValueList(strings.Join(arr, ","))
	return nil
}

// ContainsFold reports whether v case-insensitively equals an entry.
func (l ValueList) ContainsFold(v string) bool {
	v = strings.TrimSpace(v)
	for _, s := range l {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// FieldMapping writes the nearest matching feature's tag value into a typed record field.
type FieldMapping struct {
	SourceKey               string            `json:"source_key" yaml:"source_key"`
	SourceValue             string            `json:"source_value,omitempty" yaml:"source_value"`
	TargetField             string            `json:"target_field" yaml:"target_field"`
	ValueType               ValueType         `json:"value_type" yaml:"value_type"`
	DistanceThresholdMeters float64           `json:"distance_threshold_meters" yaml:"distance_threshold_meters"`
	DefaultValue            *string           `json:"default_value,omitempty" yaml:"default_value"`
	EnumTable               map[string]string `json:"enum_table,omitempty" yaml:"enum_table"`
	FalseValues             ValueList         `json:"false_values,omitempty" yaml:"false_values"`
}

// TagMapping adds TargetField to the record's tags when a matching feature is nearby
// and its value is not listed in FalseValues.
type TagMapping struct {
	SourceKey               string    `json:"source_key" yaml:"source_key"`
	SourceValue             string    `json:"source_value,omitempty" yaml:"source_value"`
	TargetField             string    `json:"target_field" yaml:"target_field"`
	DistanceThresholdMeters float64   `json:"distance_threshold_meters" yaml:"distance_threshold_meters"`
	FalseValues             ValueList `json:"false_values,omitempty" yaml:"false_values"`
}

// DetectionMapping emits every matching feature within RadiusMeters as a labelled detection.
type DetectionMapping struct {
	SourceKey     string  `json:"source_key" yaml:"source_key"`
	SourceValue   string  `json:"source_value,omitempty" yaml:"source_value"`
	TargetField   string  `json:"target_field" yaml:"target_field"`
	RadiusMeters  float64 `json:"radius_meters" yaml:"radius_meters"`
	LabelKey      string  `json:"label_key,omitempty" yaml:"label_key"` // defaults to SourceKey
	MaxDetections int     `json:"max_detections,omitempty" yaml:"max_detections"`
}

// MappingGroup bundles related mappings that are enabled or disabled together.
type MappingGroup struct {
	Name       string             `json:"name" yaml:"name"`
	Enabled    bool               `json:"enabled" yaml:"enabled"`
	Fields     []FieldMapping     `json:"fields,omitempty" yaml:"fields"`
	Tags       []TagMapping       `json:"tags,omitempty" yaml:"tags"`
	Detections []DetectionMapping `json:"detections,omitempty" yaml:"detections"`
}

// MappingConfig is a named set of mapping groups.
type MappingConfig struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name"`
	Groups    []MappingGroup `json:"groups" yaml:"groups"`
	CreatedAt time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"-"`
}

// EnabledGroups returns the groups that take part in enrichment.
func (c *MappingConfig) EnabledGroups() []MappingGroup {
	var out []MappingGroup
	for _, g := range c.Groups {
		if g.Enabled {
			out = append(out, g)
		}
	}
	return out
}

// TargetFields returns the sorted target fields of all enabled mappings.
func (c *MappingConfig) TargetFields() []string {
	var out []string
	for _, g := range c.EnabledGroups() {
		for _, m := range g.Fields {
			out = append(out, m.TargetField)
		}
		for _, m := range g.Tags {
			out = append(out, m.TargetField)
		}
		for _, m := range g.Detections {
			out = append(out, m.TargetField)
		}
	}
	sort.Strings(out)
	return out
}

// MaxRadiusMeters returns the largest search radius of any enabled mapping.
func (c *MappingConfig) MaxRadiusMeters() float64 {
	var max float64
	for _, g := range c.EnabledGroups() {
		for _, m := range g.Fields {
			max = maxFloat(max, m.DistanceThresholdMeters)
		}
		for _, m := range g.Tags {
			max = maxFloat(max, m.DistanceThresholdMeters)
		}
		for _, m := range g.Detections {
			max = maxFloat(max, m.RadiusMeters)
		}
	}
	return max
}

func maxFloat(a, b float64) float64 {
	if b > a {
		return b
	}
	return a
}

// Validate checks every enabled mapping and rejects target fields used more than once.
func (c *MappingConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return apperrors.NewConfigurationError(apperrors.CodeInvalidMapping, "mapping config id is required")
	}

	seen := make(map[string]string)
	claim := func(group, field string) error {
		if strings.TrimSpace(field) == "" {
			return apperrors.NewConfigurationError(apperrors.CodeInvalidMapping, "group %q: target_field is required", group)
		}
		if prev, ok := seen[field]; ok {
			return apperrors.NewConfigurationError(apperrors.CodeDuplicateField,
				"target field %q is used by groups %q and %q", field, prev, group)
		}
		seen[field] = group
		return nil
	}

	for _, g := range c.EnabledGroups() {
		for _, m := range g.Fields {
			if err := claim(g.Name, m.TargetField); err != nil {
				return err
			}
			if err := m.validate(); err != nil {
				return apperrors.NewConfigurationError(apperrors.CodeInvalidMapping, "group %q field %q: %s", g.Name, m.TargetField, err)
			}
		}
		for _, m := range g.Tags {
			if err := claim(g.Name, m.TargetField); err != nil {
				return err
			}
			if m.SourceKey == "" || m.DistanceThresholdMeters <= 0 {
				return apperrors.NewConfigurationError(apperrors.CodeInvalidMapping,
					"group %q tag %q: source_key and a positive distance_threshold_meters are required", g.Name, m.TargetField)
			}
		}
		for _, m := range g.Detections {
			if err := claim(g.Name, m.TargetField); err != nil {
				return err
			}
			if m.SourceKey == "" || m.RadiusMeters <= 0 || m.MaxDetections < 0 {
				return apperrors.NewConfigurationError(apperrors.CodeInvalidMapping,
					"group %q detection %q: source_key and a positive radius_meters are required", g.Name, m.TargetField)
			}
		}
	}
	return nil
}

func (m *FieldMapping) validate() error {
	if m.SourceKey == "" {
		return fmt.Errorf("source_key is required")
	}
	if m.DistanceThresholdMeters <= 0 {
		return fmt.Errorf("distance_threshold_meters must be positive")
	}
	if !m.ValueType.IsValid() {
		return fmt.Errorf("unsupported value_type %q", m.ValueType)
	}
	if m.ValueType == ValueTypeEnum && len(m.EnumTable) == 0 && m.DefaultValue == nil {
		return fmt.Errorf("enum mappings need an enum_table or a default_value")
	}
	if m.DefaultValue != nil {
		if _, err := ParseDefault(m.ValueType, *m.DefaultValue); err != nil {
			return fmt.Errorf("default_value: %w", err)
		}
	}
	return nil
}

// ParseDefault converts a configured default value to the mapping's value type.
func ParseDefault(t ValueType, s string) (any, error) {
	switch t {
	case ValueTypeInt:
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	case ValueTypeFloat:
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	case ValueTypeBool:
		return strconv.ParseBool(strings.TrimSpace(s))
	default:
		return s, nil
	}
}
