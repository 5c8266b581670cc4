// Package importer runs one end-to-end import: fetch the external records,
// map them to canonical items, encode them as NDJSON and hand the payload to
// the downstream sync endpoint.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lysyi3m/api-comb/app/database"
	"github.com/lysyi3m/api-comb/app/downstream"
	"github.com/lysyi3m/api-comb/app/fetcher"
	"github.com/lysyi3m/api-comb/app/mapping"
	"github.com/lysyi3m/api-comb/app/metrics"
	"github.com/lysyi3m/api-comb/app/ndjson"
)

var ErrInvalidConfiguration = errors.New("invalid import configuration")

const maxDownstreamExcerpt = 200

type Fetcher interface {
	Fetch(ctx context.Context, src fetcher.Source) (*fetcher.Data, error)
}

type Syncer interface {
	Sync(ctx context.Context, req downstream.SyncRequest) (*downstream.SyncResponse, error)
}

type Executor struct {
	fetcher Fetcher
	mapper  *mapping.Mapper
	syncer  Syncer
	now     func() time.Time
}

func NewExecutor(f Fetcher, mapper *mapping.Mapper, syncer Syncer) *Executor {
	return &Executor{
		fetcher: f,
		mapper:  mapper,
		syncer:  syncer,
		now:     time.Now,
	}
}

// Validate reports configuration errors that make a run impossible.
func Validate(cfg *database.ImportConfiguration) error {
	var problems []string

	if strings.TrimSpace(cfg.APIURL) == "" {
		problems = append(problems, "API URL is required")
	}
	if strings.TrimSpace(cfg.IdentifierPath) == "" {
		problems = append(problems, "identifier mapping is required")
	}
	if strings.TrimSpace(cfg.CollectionID) == "" {
		problems = append(problems, "collection ID is required")
	}
	if !fetcher.ValidAuthType(fetcher.AuthType(cfg.AuthType)) {
		problems = append(problems, fmt.Sprintf("unknown auth type %q", cfg.AuthType))
	}
	for i, fm := range cfg.FieldMappings {
		if strings.TrimSpace(fm.SourcePath) == "" || strings.TrimSpace(fm.TargetProperty) == "" {
			problems = append(problems, fmt.Sprintf("field mapping %d needs both source and target", i+1))
		}
		if !fm.Transformation.Valid() {
			problems = append(problems, fmt.Sprintf("field mapping %d has unknown transformation %s", i+1, fm.Transformation))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w %q: %s", ErrInvalidConfiguration, cfg.Name, strings.Join(problems, "; "))
	}
	return nil
}

// ExecuteImport runs the whole pipeline for cfg. Only configuration errors
// are returned as error; every other failure is a failed result.
func (e *Executor) ExecuteImport(ctx context.Context, cfg *database.ImportConfiguration) (result *ImportResult, err error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	tr := newTrace(e.now)
	jobToken := uuid.NewString()
	var c counts
	var warnings []string

	defer func() {
		if r := recover(); r != nil {
			tr.step("Unexpected error: %v", r)
			slog.Error("Import panicked", "import", cfg.Name, "panic", r)
			result = failed(fmt.Sprintf("Unexpected error during import: %v", r), c, warnings, tr.elapsed(), tr.String(), jobToken)
			err = nil
		}
	}()

	tr.step("Fetching %s %s", methodOrDefault(cfg.HTTPMethod), cfg.APIURL)
	data, fetchErr := e.fetcher.Fetch(ctx, SourceFor(cfg))
	if fetchErr != nil {
		var fe *fetcher.FetchError
		if errors.As(fetchErr, &fe) {
			metrics.FetchFailuresTotal.WithLabelValues(fe.Kind.String()).Inc()
		}
		tr.step("Fetch failed: %v", fetchErr)
		return failed(fetchErr.Error(), c, nil, tr.elapsed(), tr.String(), jobToken), nil
	}
	c.received = len(data.Records)
	tr.step("Received %d records", c.received)

	mapped := e.mapper.Map(data.Records, RulesFor(cfg))
	warnings = mapped.Warnings
	c.skipped = mapped.Skipped
	tr.step("Mapped %d items (%d skipped, %d warnings)", len(mapped.Items), c.skipped, len(warnings))

	if len(mapped.Items) == 0 {
		return failed("No items could be mapped", c, warnings, tr.elapsed(), tr.String(), jobToken), nil
	}

	payload, encErr := ndjson.Build(mapped.Items)
	if encErr != nil {
		tr.step("Encoding failed: %v", encErr)
		c.failed = len(mapped.Items)
		return failed(fmt.Sprintf("Failed to encode items: %v", encErr), c, warnings, tr.elapsed(), tr.String(), jobToken), nil
	}
	tr.step("Encoded %d bytes of NDJSON", len(payload))

	resp, syncErr := e.syncer.Sync(ctx, downstream.SyncRequest{
		CollectionID: cfg.CollectionID,
		Payload:      payload,
		JobToken:     jobToken,
	})
	switch {
	case syncErr != nil:
		tr.step("Downstream sync failed: %v", syncErr)
		c.failed = len(mapped.Items)
		return failed(fmt.Sprintf("Downstream sync failed: %v", syncErr), c, warnings, tr.elapsed(), tr.String(), jobToken), nil
	case !resp.Success:
		tr.step("Downstream sync rejected with HTTP %d", resp.StatusCode)
		c.failed = len(mapped.Items)
		msg := fmt.Sprintf("Downstream sync returned HTTP %d: %s", resp.StatusCode, truncate(resp.Body, maxDownstreamExcerpt))
		return failed(msg, c, warnings, tr.elapsed(), tr.String(), jobToken), nil
	}

	c.imported = len(mapped.Items)
	tr.step("Synced %d items to collection %s (job %s)", c.imported, cfg.CollectionID, jobToken)

	return succeeded(c, warnings, tr.elapsed(), tr.String(), jobToken), nil
}

// SourceFor builds the fetch request described by cfg.
func SourceFor(cfg *database.ImportConfiguration) fetcher.Source {
	return fetcher.Source{
		URL:    cfg.APIURL,
		Method: methodOrDefault(cfg.HTTPMethod),
		Auth: fetcher.Auth{
			Type:       fetcher.AuthType(cfg.AuthType),
			HeaderName: cfg.APIKeyHeader,
			APIKey:     cfg.APIKey,
			Username:   cfg.Username,
			Password:   cfg.Password,
			Token:      cfg.BearerToken,
		},
		Headers:  cfg.Headers,
		JSONPath: cfg.JSONPath,
		Timeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

// RulesFor extracts the mapping rules of cfg.
func RulesFor(cfg *database.ImportConfiguration) mapping.Rules {
	return mapping.Rules{
		IdentifierPath: cfg.IdentifierPath,
		TargetType:     cfg.TargetType,
		Language:       cfg.LanguageRouting,
		Mappings:       cfg.FieldMappings,
		Filters:        cfg.Filters,
	}
}

func methodOrDefault(method string) string {
	if m := strings.ToUpper(strings.TrimSpace(method)); m != "" {
		return m
	}
	return "GET"
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n])
	}
	return s
}
