package api

import (
	"context"
	"time"

	"github.com/lysyi3m/api-comb/app/database"
	"github.com/lysyi3m/api-comb/app/definitions"
	"github.com/lysyi3m/api-comb/app/importer"
	"github.com/lysyi3m/api-comb/app/mapping"
	"github.com/lysyi3m/api-comb/app/ndjson"
	"github.com/lysyi3m/api-comb/app/scheduler"
	"github.com/lysyi3m/api-comb/app/tasks"
)

type Store interface {
	tasks.DefinitionStore
	GetByName(ctx context.Context, name string) (*database.ImportConfiguration, error)
	ListHistory(ctx context.Context, configurationID int64, limit int) ([]*database.ImportExecutionHistory, error)
}

type Runner interface {
	tasks.ImportRunner
	IsRunning(configID int64) bool
}

// Inspector runs the read-only operations behind the test and preview
// endpoints.
type Inspector interface {
	TestConnection(ctx context.Context, cfg *database.ImportConfiguration) importer.ConnectionTest
	PreviewImport(ctx context.Context, cfg *database.ImportConfiguration, schema importer.TargetSchema) (*importer.Preview, error)
}

// ResponseCache is the optional store behind test and preview fetches.
type ResponseCache interface {
	Health(ctx context.Context) map[string]interface{}
	Delete(ctx context.Context, key string) error
}

type Handler struct {
	store       Store
	runner      Runner
	inspector   Inspector
	definitions *definitions.Cache
	dispatcher  tasks.DispatcherInterface
	cache       ResponseCache // nil when response caching is off
	version     string
}

type importSummary struct {
	Name                string     `json:"name"`
	Active              bool       `json:"active"`
	Collection          string     `json:"collection"`
	Frequency           string     `json:"frequency"`
	State               string     `json:"state"`
	Running             bool       `json:"running"`
	NextScheduledRunAt  *time.Time `json:"next_scheduled_run_at,omitempty"`
	NextRetryAt         *time.Time `json:"next_retry_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastImportAt        *time.Time `json:"last_import_at,omitempty"`
	LastImportSuccess   *bool      `json:"last_import_success,omitempty"`
	LastImportError     string     `json:"last_import_error,omitempty"`
	LastImportItemCount int        `json:"last_import_item_count"`
}

type importDetails struct {
	importSummary
	Version         int64                  `json:"version"`
	TargetType      string                 `json:"target_type,omitempty"`
	LanguageRouting string                 `json:"language_routing,omitempty"`
	APIURL          string                 `json:"api_url"`
	HTTPMethod      string                 `json:"http_method"`
	AuthType        string                 `json:"auth_type"`
	HeaderNames     []string               `json:"headers,omitempty"`
	JSONPath        string                 `json:"json_path,omitempty"`
	TimeoutSeconds  int                    `json:"timeout_seconds,omitempty"`
	IdentifierPath  string                 `json:"identifier_path"`
	FieldMappings   []mapping.FieldMapping `json:"field_mappings"`
	Filters         []mapping.Filter       `json:"filters,omitempty"`
	IntervalValue   int                    `json:"interval_value"`
	TimeOfDay       string                 `json:"time_of_day"`
	DayOfWeek       string                 `json:"day_of_week"`
	DayOfMonth      int                    `json:"day_of_month"`
	MaxRetries      int                    `json:"max_retries"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

type historyEntry struct {
	ID            string    `json:"id"`
	ExecutedAt    time.Time `json:"executed_at"`
	Success       bool      `json:"success"`
	ItemsReceived int       `json:"items_received"`
	ItemsImported int       `json:"items_imported"`
	ItemsSkipped  int       `json:"items_skipped"`
	ItemsFailed   int       `json:"items_failed"`
	DurationMs    int64     `json:"duration_ms"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	Warnings      []string  `json:"warnings"`
	WasRetry      bool      `json:"was_retry"`
	WasScheduled  bool      `json:"was_scheduled"`
	RetryAttempt  int       `json:"retry_attempt"`
	JobToken      string    `json:"job_token,omitempty"`
}

type itemView struct {
	ID         string         `json:"id"`
	Type       string         `json:"type,omitempty"`
	Language   string         `json:"language,omitempty"`
	Properties map[string]any `json:"properties"`
}

type previewRequest struct {
	TypeName string   `json:"type_name"`
	Fields   []string `json:"fields"`
}

func newSummary(cfg *database.ImportConfiguration, running bool) importSummary {
	return importSummary{
		Name:                cfg.Name,
		Active:              cfg.Active,
		Collection:          cfg.CollectionID,
		Frequency:           string(cfg.Frequency),
		State:               scheduler.StateOf(cfg).String(),
		Running:             running,
		NextScheduledRunAt:  cfg.NextScheduledRunAt,
		NextRetryAt:         cfg.NextRetryAt,
		ConsecutiveFailures: cfg.ConsecutiveFailures,
		LastImportAt:        cfg.LastImportAt,
		LastImportSuccess:   cfg.LastImportSuccess,
		LastImportError:     cfg.LastImportError,
		LastImportItemCount: cfg.LastImportItemCount,
	}
}

func itemViews(items []ndjson.Item) []itemView {
	views := make([]itemView, len(items))
	for i, item := range items {
		views[i] = itemView{
			ID:         item.ID,
			Type:       item.Type,
			Language:   item.Language,
			Properties: item.Properties,
		}
	}
	return views
}
