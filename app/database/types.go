package database

import (
	"time"

	"github.com/lysyi3m/api-comb/app/mapping"
)

type Frequency string

const (
	FrequencyNone    Frequency = "none"
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyNone, FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	default:
		return false
	}
}

type ImportConfiguration struct {
	ID      int64
	Name    string // Identifier derived from the definition file name
	Active  bool
	Version int64 // Bumped on every save; guards against concurrent writers

	CollectionID    string
	TargetType      string
	LanguageRouting string

	APIURL         string
	HTTPMethod     string
	AuthType       string // none, api_key, basic, bearer
	APIKeyHeader   string
	APIKey         string
	Username       string
	Password       string
	BearerToken    string
	Headers        map[string]string
	JSONPath       string
	TimeoutSeconds int // 0 means the configured default

	IdentifierPath string
	FieldMappings  []mapping.FieldMapping
	Filters        []mapping.Filter

	Frequency          Frequency
	IntervalValue      int
	TimeOfDay          string // HH:MM
	DayOfWeek          time.Weekday
	DayOfMonth         int
	NextScheduledRunAt *time.Time

	MaxRetries          int
	ConsecutiveFailures int
	NextRetryAt         *time.Time

	LastImportAt        *time.Time
	LastImportSuccess   *bool
	LastImportError     string
	LastImportItemCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

type ImportExecutionHistory struct {
	ID              string // UUID
	ConfigurationID int64
	ExecutedAt      time.Time
	Success         bool
	ItemsReceived   int
	ItemsImported   int
	ItemsSkipped    int
	ItemsFailed     int
	DurationMs      int64
	ErrorMessage    string
	Warnings        string // JSON array of warning strings
	WasRetry        bool
	WasScheduled    bool
	RetryAttempt    int
	JobToken        string
}

// UpsertResult reports what a definition upsert changed.
type UpsertResult struct {
	Configuration *ImportConfiguration
	Created       bool
	// ScheduleChanged is set when the recurrence or the active flag changed
	// and the schedule has to be seeded again.
	ScheduleChanged bool
}
