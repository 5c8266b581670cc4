package mapping

import (
	"fmt"
	"strings"
)

// Transformation is the closed set of conversions a field mapping applies.
type Transformation int

const (
	None Transformation = iota
	ToString
	ToInt
	ToFloat
	ToBoolean
	ToDate
	ToDateTime
)

var transformationNames = map[Transformation]string{
	None:       "none",
	ToString:   "to_string",
	ToInt:      "to_int",
	ToFloat:    "to_float",
	ToBoolean:  "to_boolean",
	ToDate:     "to_date",
	ToDateTime: "to_datetime",
}

func (t Transformation) String() string {
	if name, ok := transformationNames[t]; ok {
		return name
	}
	return fmt.Sprintf("transformation(%d)", int(t))
}

func (t Transformation) Valid() bool {
	_, ok := transformationNames[t]
	return ok
}

// ParseTransformation accepts the snake_case names used in definition files
// as well as the PascalCase forms (ToInt, ToDateTime, ...). Empty means None.
func ParseTransformation(s string) (Transformation, error) {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	if normalized == "" {
		return None, nil
	}
	for t, name := range transformationNames {
		if strings.ReplaceAll(name, "_", "") == normalized {
			return t, nil
		}
	}
	return None, fmt.Errorf("unknown transformation %q", s)
}

func (t Transformation) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Transformation) UnmarshalText(text []byte) error {
	parsed, err := ParseTransformation(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// FieldMapping copies the value found at SourcePath into TargetProperty.
type FieldMapping struct {
	SourcePath     string         `yaml:"source" json:"source"`
	TargetProperty string         `yaml:"target" json:"target"`
	Transformation Transformation `yaml:"transform" json:"transform"`
	Default        *string        `yaml:"default" json:"default,omitempty"`
}

// Filter marks mapped items as skipped by substring rules on one property.
type Filter struct {
	Property string   `yaml:"property" json:"property"`
	Includes []string `yaml:"includes" json:"includes,omitempty"`
	Excludes []string `yaml:"excludes" json:"excludes,omitempty"`
}

// Rules carries everything the mapper needs from an import configuration.
type Rules struct {
	IdentifierPath string
	TargetType     string
	Language       string
	Mappings       []FieldMapping
	Filters        []Filter
}
