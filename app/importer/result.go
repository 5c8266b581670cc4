package importer

import (
	"strings"
	"time"

	"github.com/lysyi3m/api-comb/app/ndjson"
)

// ImportResult is the outcome of one run. Build it with succeeded or failed
// so that a successful result never carries errors.
type ImportResult struct {
	Success       bool
	ItemsReceived int
	ItemsImported int
	ItemsSkipped  int
	ItemsFailed   int
	Errors        []string
	Warnings      []string
	Duration      time.Duration
	Trace         string
	JobToken      string
}

type counts struct {
	received int
	imported int
	skipped  int
	failed   int
}

func succeeded(c counts, warnings []string, duration time.Duration, trace, jobToken string) *ImportResult {
	return &ImportResult{
		Success:       true,
		ItemsReceived: c.received,
		ItemsImported: c.imported,
		ItemsSkipped:  c.skipped,
		ItemsFailed:   c.failed,
		Warnings:      warnings,
		Duration:      duration,
		Trace:         trace,
		JobToken:      jobToken,
	}
}

func failed(message string, c counts, warnings []string, duration time.Duration, trace, jobToken string) *ImportResult {
	return &ImportResult{
		Success:       false,
		ItemsReceived: c.received,
		ItemsImported: c.imported,
		ItemsSkipped:  c.skipped,
		ItemsFailed:   c.failed,
		Errors:        []string{message},
		Warnings:      warnings,
		Duration:      duration,
		Trace:         trace,
		JobToken:      jobToken,
	}
}

// FailedResult builds a failed result for a run that never reached the
// pipeline, such as one rejected for an invalid configuration.
func FailedResult(message string) *ImportResult {
	return failed(message, counts{}, nil, 0, "", "")
}

// ErrorMessage joins the result errors for storage in a single column.
func (r *ImportResult) ErrorMessage() string {
	return strings.Join(r.Errors, "; ")
}

type ConnectionTest struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Sample  string `json:"sample,omitempty"`
}

// TargetSchema lists the properties a target type accepts. An empty Fields
// disables the schema check in previews.
type TargetSchema struct {
	TypeName string
	Fields   []string
}

type Preview struct {
	Items         []ndjson.Item `json:"items"`
	Warnings      []string      `json:"warnings"`
	ItemsReceived int           `json:"items_received"`
}
