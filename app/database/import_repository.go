package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/lysyi3m/api-comb/app/mapping"
)

var (
	ErrNotFound        = errors.New("import configuration not found")
	ErrVersionConflict = errors.New("import configuration was modified concurrently")
)

// Fixed-width UTC layout so that stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const configurationColumns = `
	id, name, active, version,
	collection_id, target_type, language_routing,
	api_url, http_method, auth_type, api_key_header, api_key, username, password, bearer_token,
	headers, json_path, timeout_seconds,
	identifier_path, field_mappings, filters,
	frequency, interval_value, time_of_day, day_of_week, day_of_month, next_scheduled_run_at,
	max_retries, consecutive_failures, next_retry_at,
	last_import_at, last_import_success, last_import_error, last_import_item_count,
	created_at, updated_at`

// Repository handles database operations for import configurations and
// their execution history.
type Repository struct {
	db  *DB
	now func() time.Time
}

var (
	_ ImportRepository  = (*Repository)(nil)
	_ HistoryRepository = (*Repository)(nil)
)

func NewRepository(db *DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// ListDue returns active, scheduled configurations whose next run or next
// retry is at or before now.
func (r *Repository) ListDue(ctx context.Context, now time.Time) ([]*ImportConfiguration, error) {
	ts := formatTime(now)
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+configurationColumns+`
		FROM import_configurations
		WHERE active = 1
		  AND frequency != 'none'
		  AND ((next_scheduled_run_at IS NOT NULL AND next_scheduled_run_at <= ?)
		    OR (next_retry_at IS NOT NULL AND next_retry_at <= ?))
		ORDER BY COALESCE(next_retry_at, next_scheduled_run_at), id
	`, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("failed to get due import configurations: %w", err)
	}
	return scanConfigurations(rows)
}

func (r *Repository) Get(ctx context.Context, id int64) (*ImportConfiguration, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+configurationColumns+` FROM import_configurations WHERE id = ?`, id)
	cfg, err := scanConfiguration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import configuration %d: %w", id, err)
	}
	return cfg, nil
}

func (r *Repository) GetByName(ctx context.Context, name string) (*ImportConfiguration, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+configurationColumns+` FROM import_configurations WHERE name = ?`, name)
	cfg, err := scanConfiguration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import configuration %q: %w", name, err)
	}
	return cfg, nil
}

func (r *Repository) List(ctx context.Context) ([]*ImportConfiguration, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+configurationColumns+` FROM import_configurations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list import configurations: %w", err)
	}
	return scanConfigurations(rows)
}

// Save writes every field of cfg if the stored version still equals
// cfg.Version. On success cfg.Version is advanced.
func (r *Repository) Save(ctx context.Context, cfg *ImportConfiguration) error {
	enc, err := encodeConfiguration(cfg)
	if err != nil {
		return err
	}
	updatedAt := r.now()

	res, err := r.db.ExecContext(ctx, `
		UPDATE import_configurations SET
			active = ?, version = version + 1,
			collection_id = ?, target_type = ?, language_routing = ?,
			api_url = ?, http_method = ?, auth_type = ?, api_key_header = ?, api_key = ?,
			username = ?, password = ?, bearer_token = ?, headers = ?, json_path = ?, timeout_seconds = ?,
			identifier_path = ?, field_mappings = ?, filters = ?,
			frequency = ?, interval_value = ?, time_of_day = ?, day_of_week = ?, day_of_month = ?,
			next_scheduled_run_at = ?,
			max_retries = ?, consecutive_failures = ?, next_retry_at = ?,
			last_import_at = ?, last_import_success = ?, last_import_error = ?, last_import_item_count = ?,
			updated_at = ?
		WHERE id = ? AND version = ?
	`,
		cfg.Active,
		cfg.CollectionID, cfg.TargetType, cfg.LanguageRouting,
		cfg.APIURL, cfg.HTTPMethod, cfg.AuthType, cfg.APIKeyHeader, cfg.APIKey,
		cfg.Username, cfg.Password, cfg.BearerToken, enc.headers, cfg.JSONPath, cfg.TimeoutSeconds,
		cfg.IdentifierPath, enc.mappings, enc.filters,
		string(cfg.Frequency), cfg.IntervalValue, cfg.TimeOfDay, int(cfg.DayOfWeek), cfg.DayOfMonth,
		nullTime(cfg.NextScheduledRunAt),
		cfg.MaxRetries, cfg.ConsecutiveFailures, nullTime(cfg.NextRetryAt),
		nullTime(cfg.LastImportAt), nullBool(cfg.LastImportSuccess), cfg.LastImportError, cfg.LastImportItemCount,
		formatTime(updatedAt),
		cfg.ID, cfg.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save import configuration %q: %w", cfg.Name, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save import configuration %q: %w", cfg.Name, err)
	}
	if affected == 0 {
		var exists int
		err := r.db.QueryRowContext(ctx, `SELECT 1 FROM import_configurations WHERE id = ?`, cfg.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check import configuration %q: %w", cfg.Name, err)
		}
		return fmt.Errorf("%w: %s (version %d)", ErrVersionConflict, cfg.Name, cfg.Version)
	}

	cfg.Version++
	cfg.UpdatedAt = updatedAt
	return nil
}

// UpsertDefinition inserts or updates a configuration by name from its
// definition. Runtime state (schedule, retries, last run) of an existing
// row is left alone.
func (r *Repository) UpsertDefinition(ctx context.Context, def *ImportConfiguration) (*UpsertResult, error) {
	existing, err := r.GetByName(ctx, def.Name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	enc, err := encodeConfiguration(def)
	if err != nil {
		return nil, err
	}
	now := formatTime(r.now())

	if existing == nil {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO import_configurations (
				name, active, version,
				collection_id, target_type, language_routing,
				api_url, http_method, auth_type, api_key_header, api_key, username, password, bearer_token,
				headers, json_path, timeout_seconds,
				identifier_path, field_mappings, filters,
				frequency, interval_value, time_of_day, day_of_week, day_of_month,
				max_retries, created_at, updated_at
			) VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			def.Name, def.Active,
			def.CollectionID, def.TargetType, def.LanguageRouting,
			def.APIURL, def.HTTPMethod, def.AuthType, def.APIKeyHeader, def.APIKey, def.Username, def.Password, def.BearerToken,
			enc.headers, def.JSONPath, def.TimeoutSeconds,
			def.IdentifierPath, enc.mappings, enc.filters,
			string(def.Frequency), def.IntervalValue, def.TimeOfDay, int(def.DayOfWeek), def.DayOfMonth,
			def.MaxRetries, now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert import configuration %q: %w", def.Name, err)
		}

		created, err := r.GetByName(ctx, def.Name)
		if err != nil {
			return nil, err
		}
		return &UpsertResult{Configuration: created, Created: true, ScheduleChanged: true}, nil
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE import_configurations SET
			active = ?, version = version + 1,
			collection_id = ?, target_type = ?, language_routing = ?,
			api_url = ?, http_method = ?, auth_type = ?, api_key_header = ?, api_key = ?,
			username = ?, password = ?, bearer_token = ?, headers = ?, json_path = ?, timeout_seconds = ?,
			identifier_path = ?, field_mappings = ?, filters = ?,
			frequency = ?, interval_value = ?, time_of_day = ?, day_of_week = ?, day_of_month = ?,
			max_retries = ?, updated_at = ?
		WHERE id = ?
	`,
		def.Active,
		def.CollectionID, def.TargetType, def.LanguageRouting,
		def.APIURL, def.HTTPMethod, def.AuthType, def.APIKeyHeader, def.APIKey,
		def.Username, def.Password, def.BearerToken, enc.headers, def.JSONPath, def.TimeoutSeconds,
		def.IdentifierPath, enc.mappings, enc.filters,
		string(def.Frequency), def.IntervalValue, def.TimeOfDay, int(def.DayOfWeek), def.DayOfMonth,
		def.MaxRetries, now,
		existing.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update import configuration %q: %w", def.Name, err)
	}

	updated, err := r.Get(ctx, existing.ID)
	if err != nil {
		return nil, err
	}

	scheduleChanged := existing.Active != def.Active ||
		existing.Frequency != def.Frequency ||
		existing.IntervalValue != def.IntervalValue ||
		existing.TimeOfDay != def.TimeOfDay ||
		existing.DayOfWeek != def.DayOfWeek ||
		existing.DayOfMonth != def.DayOfMonth ||
		existing.NextScheduledRunAt == nil

	return &UpsertResult{Configuration: updated, ScheduleChanged: scheduleChanged}, nil
}

// Deactivate turns a configuration off without touching its history.
func (r *Repository) Deactivate(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE import_configurations
		SET active = 0, version = version + 1, next_retry_at = NULL, updated_at = ?
		WHERE name = ?
	`, formatTime(r.now()), name)
	if err != nil {
		return fmt.Errorf("failed to deactivate import configuration %q: %w", name, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

type encodedColumns struct {
	headers  string
	mappings string
	filters  string
}

func encodeConfiguration(cfg *ImportConfiguration) (encodedColumns, error) {
	var enc encodedColumns

	headers := cfg.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	b, err := json.Marshal(headers)
	if err != nil {
		return enc, fmt.Errorf("failed to encode headers: %w", err)
	}
	enc.headers = string(b)

	mappings := cfg.FieldMappings
	if mappings == nil {
		mappings = []mapping.FieldMapping{}
	}
	if b, err = json.Marshal(mappings); err != nil {
		return enc, fmt.Errorf("failed to encode field mappings: %w", err)
	}
	enc.mappings = string(b)

	filters := cfg.Filters
	if filters == nil {
		filters = []mapping.Filter{}
	}
	if b, err = json.Marshal(filters); err != nil {
		return enc, fmt.Errorf("failed to encode filters: %w", err)
	}
	enc.filters = string(b)

	return enc, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfigurations(rows *sql.Rows) ([]*ImportConfiguration, error) {
	defer rows.Close()

	var configs []*ImportConfiguration
	for rows.Next() {
		cfg, err := scanConfiguration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import configuration row: %w", err)
		}
		configs = append(configs, cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating import configuration rows: %w", err)
	}

	return configs, nil
}

func scanConfiguration(row rowScanner) (*ImportConfiguration, error) {
	var (
		cfg                                   ImportConfiguration
		headers, mappings, filters, frequency string
		dayOfWeek                             int
		nextRun, nextRetry, lastImport        sql.NullString
		lastSuccess                           sql.NullBool
		createdAt, updatedAt                  string
	)

	err := row.Scan(
		&cfg.ID, &cfg.Name, &cfg.Active, &cfg.Version,
		&cfg.CollectionID, &cfg.TargetType, &cfg.LanguageRouting,
		&cfg.APIURL, &cfg.HTTPMethod, &cfg.AuthType, &cfg.APIKeyHeader, &cfg.APIKey, &cfg.Username, &cfg.Password, &cfg.BearerToken,
		&headers, &cfg.JSONPath, &cfg.TimeoutSeconds,
		&cfg.IdentifierPath, &mappings, &filters,
		&frequency, &cfg.IntervalValue, &cfg.TimeOfDay, &dayOfWeek, &cfg.DayOfMonth, &nextRun,
		&cfg.MaxRetries, &cfg.ConsecutiveFailures, &nextRetry,
		&lastImport, &lastSuccess, &cfg.LastImportError, &cfg.LastImportItemCount,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	cfg.Frequency = Frequency(frequency)
	cfg.DayOfWeek = time.Weekday(dayOfWeek)

	if err := json.Unmarshal([]byte(headers), &cfg.Headers); err != nil {
		return nil, fmt.Errorf("failed to decode headers of %q: %w", cfg.Name, err)
	}
	if err := json.Unmarshal([]byte(mappings), &cfg.FieldMappings); err != nil {
		return nil, fmt.Errorf("failed to decode field mappings of %q: %w", cfg.Name, err)
	}
	if err := json.Unmarshal([]byte(filters), &cfg.Filters); err != nil {
		return nil, fmt.Errorf("failed to decode filters of %q: %w", cfg.Name, err)
	}

	if cfg.NextScheduledRunAt, err = parseNullTime(nextRun); err != nil {
		return nil, err
	}
	if cfg.NextRetryAt, err = parseNullTime(nextRetry); err != nil {
		return nil, err
	}
	if cfg.LastImportAt, err = parseNullTime(lastImport); err != nil {
		return nil, err
	}
	if lastSuccess.Valid {
		v := lastSuccess.Bool
		cfg.LastImportSuccess = &v
	}
	if cfg.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if cfg.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}
