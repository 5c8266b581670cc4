// Package mapping turns records of an external API into canonical items.
package mapping

import (
	"fmt"

	"github.com/lysyi3m/api-comb/app/jsondoc"
	"github.com/lysyi3m/api-comb/app/ndjson"
)

// Result is the outcome of mapping a whole batch.
type Result struct {
	Items    []ndjson.Item
	Warnings []string
	Skipped  int
}

type Mapper struct {
	filterer *Filterer
}

func NewMapper(filterer *Filterer) *Mapper {
	return &Mapper{filterer: filterer}
}

// Map converts every record independently. A record that cannot be mapped
// is reported as a warning and never aborts the batch.
func (m *Mapper) Map(records []any, rules Rules) Result {
	var result Result
	items := make([]ndjson.Item, 0, len(records))
	ordinals := make([]int, 0, len(records))

	for i, record := range records {
		ordinal := i + 1
		item, warning := MapRecord(record, rules)
		if warning != "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Record %d: %s", ordinal, warning))
			continue
		}
		ordinals = append(ordinals, ordinal)
		items = append(items, item)
	}

	if m.filterer != nil && len(rules.Filters) > 0 {
		reasons := m.filterer.Run(items, rules.Filters)
		kept := items[:0]
		for i, item := range items {
			if reasons[i] != "" {
				result.Warnings = append(result.Warnings, fmt.Sprintf("Record %d: %s", ordinals[i], reasons[i]))
				result.Skipped++
				continue
			}
			kept = append(kept, item)
		}
		items = kept
	}

	result.Items = items
	return result
}

// MapRecord maps one external record. It returns either an item or a
// non-empty warning describing why the record was left out.
func MapRecord(record any, rules Rules) (ndjson.Item, string) {
	rawID, found := jsondoc.Extract(record, rules.IdentifierPath)
	if !found || rawID == nil {
		return ndjson.Item{}, fmt.Sprintf("identifier not found at '%s'; record skipped", rules.IdentifierPath)
	}

	id, err := jsondoc.Stringify(rawID)
	if err != nil {
		return ndjson.Item{}, fmt.Sprintf("invalid identifier: %v", err)
	}
	if id == "" {
		return ndjson.Item{}, fmt.Sprintf("identifier at '%s' is empty; record skipped", rules.IdentifierPath)
	}

	item := ndjson.Item{
		ID:         id,
		Type:       rules.TargetType,
		Language:   rules.Language,
		Properties: make(map[string]any, len(rules.Mappings)),
	}

	for _, fm := range rules.Mappings {
		value, err := mapField(record, fm)
		if err != nil {
			return ndjson.Item{}, fmt.Sprintf("failed to map '%s' to '%s': %v", fm.SourcePath, fm.TargetProperty, err)
		}
		item.Properties[fm.TargetProperty] = value
	}

	return item, ""
}

func mapField(record any, fm FieldMapping) (any, error) {
	raw, found := jsondoc.Extract(record, fm.SourcePath)
	if !found {
		if fm.Default != nil {
			return ParseDefault(fm.Transformation, *fm.Default), nil
		}
		return nil, nil
	}
	return Apply(fm.Transformation, raw)
}
