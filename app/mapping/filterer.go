package mapping

import (
	"fmt"
	"strings"

	"github.com/lysyi3m/api-comb/app/jsondoc"
	"github.com/lysyi3m/api-comb/app/ndjson"
)

type Filterer struct{}

func NewFilterer() *Filterer {
	return &Filterer{}
}

// Run returns one reason per item, aligned with items. An empty reason means
// the item passed every filter.
func (f *Filterer) Run(items []ndjson.Item, filters []Filter) []string {
	reasons := make([]string, len(items))
	if len(filters) == 0 {
		return reasons
	}

	for i, item := range items {
		if isFiltered, reason := f.applyFilters(item, filters); isFiltered {
			reasons[i] = reason
		}
	}

	return reasons
}

func (f *Filterer) applyFilters(item ndjson.Item, filters []Filter) (bool, string) {
	for _, filter := range filters {
		value := f.getPropertyValue(item, filter.Property)

		for _, exclude := range filter.Excludes {
			if f.matchesFilter(value, exclude) {
				return true, fmt.Sprintf("Excluded by %s filter: contains '%s'", filter.Property, exclude)
			}
		}

		if len(filter.Includes) > 0 {
			matched := false
			for _, include := range filter.Includes {
				if f.matchesFilter(value, include) {
					matched = true
					break
				}
			}
			if !matched {
				return true, fmt.Sprintf("Excluded by %s filter: does not contain any of %v", filter.Property, filter.Includes)
			}
		}
	}

	return false, ""
}

func (f *Filterer) matchesFilter(value, pattern string) bool {
	return strings.Contains(strings.ToLower(value), strings.ToLower(pattern))
}

func (f *Filterer) getPropertyValue(item ndjson.Item, property string) string {
	v, ok := item.Properties[property]
	if !ok {
		return ""
	}
	if list, isList := v.([]any); isList {
		parts := make([]string, 0, len(list))
		for _, e := range list {
			s, _ := jsondoc.Stringify(e)
			parts = append(parts, s)
		}
		return strings.Join(parts, " ")
	}
	s, _ := jsondoc.Stringify(v)
	return s
}
