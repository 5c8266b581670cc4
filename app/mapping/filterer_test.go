package mapping

import (
	"strings"
	"testing"

	"github.com/lysyi3m/api-comb/app/ndjson"
)

func item(id string, props map[string]any) ndjson.Item {
	return ndjson.Item{ID: id, Type: "Product", Properties: props}
}

func TestFilterer_Run_NoFilters(t *testing.T) {
	filterer := NewFilterer()

	items := []ndjson.Item{
		item("1", map[string]any{"Title": "Test Item 1"}),
		item("2", map[string]any{"Title": "Test Item 2"}),
	}

	reasons := filterer.Run(items, nil)

	if len(reasons) != 2 {
		t.Fatalf("Expected 2 reasons, got %d", len(reasons))
	}
	for i, reason := range reasons {
		if reason != "" {
			t.Errorf("Item %d should not be filtered, got reason: %s", i, reason)
		}
	}
}

func TestFilterer_Run_IncludeFilter(t *testing.T) {
	filterer := NewFilterer()

	items := []ndjson.Item{
		item("1", map[string]any{"Title": "Breaking News: Important Update"}),
		item("2", map[string]any{"Title": "Sports Update"}),
		item("3", map[string]any{"Title": "Weather Report"}),
	}

	reasons := filterer.Run(items, []Filter{{Property: "Title", Includes: []string{"news", "update"}}})

	if reasons[0] != "" || reasons[1] != "" {
		t.Errorf("Expected first two items to pass, got %q and %q", reasons[0], reasons[1])
	}
	if reasons[2] == "" {
		t.Error("Expected 'Weather Report' to be filtered")
	}
	if !strings.Contains(reasons[2], "does not contain any of") {
		t.Errorf("Unexpected filter reason: %s", reasons[2])
	}
}

func TestFilterer_Run_ExcludeWinsOverInclude(t *testing.T) {
	filterer := NewFilterer()

	items := []ndjson.Item{
		item("1", map[string]any{"Title": "Tech news, sponsored"}),
		item("2", map[string]any{"Title": "Tech news"}),
	}

	reasons := filterer.Run(items, []Filter{{
		Property: "Title",
		Includes: []string{"tech"},
		Excludes: []string{"SPONSORED"},
	}})

	if reasons[0] != "Excluded by Title filter: contains 'SPONSORED'" {
		t.Errorf("Unexpected reason for item 1: %q", reasons[0])
	}
	if reasons[1] != "" {
		t.Errorf("Expected item 2 to pass, got %q", reasons[1])
	}
}

func TestFilterer_Run_NonStringProperties(t *testing.T) {
	filterer := NewFilterer()

	items := []ndjson.Item{
		item("1", map[string]any{"Tags": []any{"blue", "sale"}, "Stock": int64(0)}),
		item("2", map[string]any{"Tags": []any{"red"}, "Stock": int64(4)}),
	}

	reasons := filterer.Run(items, []Filter{{Property: "Tags", Includes: []string{"sale"}}})
	if reasons[0] != "" || reasons[1] == "" {
		t.Errorf("Unexpected list filtering result: %q", reasons)
	}

	reasons = filterer.Run(items, []Filter{{Property: "Stock", Excludes: []string{"0"}}})
	if reasons[0] == "" || reasons[1] != "" {
		t.Errorf("Unexpected integer filtering result: %q", reasons)
	}
}

func TestFilterer_Run_MissingProperty(t *testing.T) {
	filterer := NewFilterer()

	reasons := filterer.Run(
		[]ndjson.Item{item("1", map[string]any{})},
		[]Filter{{Property: "Title", Includes: []string{"anything"}}},
	)

	if reasons[0] == "" {
		t.Error("Item without the filtered property cannot satisfy an include rule")
	}
}

func TestFilterer_MatchesFilter(t *testing.T) {
	filterer := NewFilterer()

	tests := []struct {
		value   string
		pattern string
		want    bool
	}{
		{"Hello World", "world", true},
		{"Hello World", "WORLD", true},
		{"Hello World", "planet", false},
		{"", "x", false},
		{"anything", "", true},
	}

	for _, tt := range tests {
		if got := filterer.matchesFilter(tt.value, tt.pattern); got != tt.want {
			t.Errorf("matchesFilter(%q, %q) = %v, want %v", tt.value, tt.pattern, got, tt.want)
		}
	}
}
