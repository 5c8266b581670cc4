package definitions

import (
	"fmt"
	"strings"
	"time"

	"github.com/lysyi3m/api-comb/app/database"
	"github.com/lysyi3m/api-comb/app/mapping"
)

// Definition is one import as written in IMPORTS_DIR/<name>.yml.
type Definition struct {
	Name            string // Derived from filename (without .yml extension)
	Active          *bool  `yaml:"active"`
	Collection      string `yaml:"collection"`
	TargetType      string `yaml:"target_type"`
	LanguageRouting string `yaml:"language_routing"`

	Source   Source   `yaml:"source"`
	Mapping  Mapping  `yaml:"mapping"`
	Schedule Schedule `yaml:"schedule"`
}

type Source struct {
	URL      string            `yaml:"url"`
	Method   string            `yaml:"method"`
	JSONPath string            `yaml:"json_path"`
	Timeout  int               `yaml:"timeout"` // seconds
	Headers  map[string]string `yaml:"headers"`
	Auth     Auth              `yaml:"auth"`
}

type Auth struct {
	Type     string `yaml:"type"`
	Header   string `yaml:"header"`
	Key      string `yaml:"key"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`
}

type Mapping struct {
	Identifier string                 `yaml:"identifier"`
	Fields     []mapping.FieldMapping `yaml:"fields"`
	Filters    []mapping.Filter       `yaml:"filters"`
}

type Schedule struct {
	Frequency  string `yaml:"frequency"`
	Interval   int    `yaml:"interval"`
	Time       string `yaml:"time"` // HH:MM
	DayOfWeek  string `yaml:"day_of_week"`
	DayOfMonth int    `yaml:"day_of_month"`
	MaxRetries *int   `yaml:"max_retries"`
}

const (
	DefaultMethod     = "GET"
	DefaultAuthType   = "none"
	DefaultFrequency  = "none"
	DefaultInterval   = 1
	DefaultTimeOfDay  = "00:00"
	DefaultDayOfMonth = 1
	DefaultMaxRetries = 3
)

func (d *Definition) IsActive() bool {
	return d.Active == nil || *d.Active
}

// Configuration converts the definition into the stored form. Runtime fields
// (schedule state, last run) are left zero.
func (d *Definition) Configuration() *database.ImportConfiguration {
	weekday, _ := parseWeekday(d.Schedule.DayOfWeek)

	maxRetries := DefaultMaxRetries
	if d.Schedule.MaxRetries != nil {
		maxRetries = *d.Schedule.MaxRetries
	}

	return &database.ImportConfiguration{
		Name:            d.Name,
		Active:          d.IsActive(),
		CollectionID:    d.Collection,
		TargetType:      d.TargetType,
		LanguageRouting: d.LanguageRouting,

		APIURL:         d.Source.URL,
		HTTPMethod:     strings.ToUpper(d.Source.Method),
		AuthType:       d.Source.Auth.Type,
		APIKeyHeader:   d.Source.Auth.Header,
		APIKey:         d.Source.Auth.Key,
		Username:       d.Source.Auth.Username,
		Password:       d.Source.Auth.Password,
		BearerToken:    d.Source.Auth.Token,
		Headers:        d.Source.Headers,
		JSONPath:       d.Source.JSONPath,
		TimeoutSeconds: d.Source.Timeout,

		IdentifierPath: d.Mapping.Identifier,
		FieldMappings:  d.Mapping.Fields,
		Filters:        d.Mapping.Filters,

		Frequency:     database.Frequency(d.Schedule.Frequency),
		IntervalValue: d.Schedule.Interval,
		TimeOfDay:     d.Schedule.Time,
		DayOfWeek:     weekday,
		DayOfMonth:    d.Schedule.DayOfMonth,
		MaxRetries:    maxRetries,
	}
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// parseWeekday accepts full or three-letter English day names. Empty means
// Monday.
func parseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return time.Monday, nil
	}
	for full, day := range weekdays {
		if name == full || name == full[:3] {
			return day, nil
		}
	}
	return time.Monday, fmt.Errorf("unknown day of week %q", s)
}
