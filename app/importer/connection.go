package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/lysyi3m/api-comb/app/database"
	"github.com/lysyi3m/api-comb/app/mapping"
	"github.com/tidwall/gjson"
)

const (
	PreviewLimit = 10
	sampleSize   = 3
)

// TestConnection fetches the configured endpoint and checks that an array
// is found, without mapping or syncing anything.
func (e *Executor) TestConnection(ctx context.Context, cfg *database.ImportConfiguration) ConnectionTest {
	if strings.TrimSpace(cfg.APIURL) == "" {
		return ConnectionTest{Message: "API URL is required"}
	}

	data, err := e.fetcher.Fetch(ctx, SourceFor(cfg))
	if err != nil {
		return ConnectionTest{Message: err.Error()}
	}

	return ConnectionTest{
		Success: true,
		Message: fmt.Sprintf("Connection successful. Found %d items.", len(data.Records)),
		Sample:  sample(data.Raw, sampleSize),
	}
}

// PreviewImport maps the first PreviewLimit records without encoding or
// syncing. Mapping targets missing from a non-empty schema are flagged.
func (e *Executor) PreviewImport(ctx context.Context, cfg *database.ImportConfiguration, schema TargetSchema) (*Preview, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	data, err := e.fetcher.Fetch(ctx, SourceFor(cfg))
	if err != nil {
		return nil, err
	}

	records := data.Records
	if len(records) > PreviewLimit {
		records = records[:PreviewLimit]
	}

	rules := RulesFor(cfg)
	if schema.TypeName != "" {
		rules.TargetType = schema.TypeName
	}

	mapped := e.mapper.Map(records, rules)
	preview := &Preview{
		Items:         mapped.Items,
		Warnings:      append(schemaWarnings(cfg.FieldMappings, schema), mapped.Warnings...),
		ItemsReceived: len(data.Records),
	}

	return preview, nil
}

func schemaWarnings(mappings []mapping.FieldMapping, schema TargetSchema) []string {
	if len(schema.Fields) == 0 {
		return nil
	}

	known := make(map[string]bool, len(schema.Fields))
	for _, f := range schema.Fields {
		known[strings.ToLower(f)] = true
	}

	var warnings []string
	for _, fm := range mappings {
		if !known[strings.ToLower(fm.TargetProperty)] {
			warnings = append(warnings, fmt.Sprintf("Property '%s' is not defined on type '%s'", fm.TargetProperty, schema.TypeName))
		}
	}
	return warnings
}

// sample pretty-prints the first n elements of a JSON array.
func sample(raw []byte, n int) string {
	elements := gjson.ParseBytes(raw).Array()
	if len(elements) == 0 {
		return ""
	}
	if len(elements) > n {
		elements = elements[:n]
	}

	parts := make([]string, len(elements))
	for i, el := range elements {
		parts[i] = el.Raw
	}

	return gjson.Get("["+strings.Join(parts, ",")+"]", "@pretty").String()
}
