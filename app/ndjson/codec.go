// Package ndjson encodes canonical items into the bulk sync wire format and
// parses it back. Every indexed item occupies two lines: an action line
// ({"index":{"_id":...}}) followed by a data line with the item properties.
package ndjson

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/lysyi3m/api-comb/app/jsondoc"
)

const (
	ActionIndex  = "index"
	ActionDelete = "delete"

	KeyID              = "_id"
	KeyType            = "_type"
	KeyLanguageRouting = "language_routing"

	PropContentType         = "ContentType"
	PropStatus              = "Status"
	PropRolesWithReadAccess = "RolesWithReadAccess"

	DefaultStatus              = "Published"
	DefaultRolesWithReadAccess = "Everyone"
)

var ErrEmptyID = errors.New("item identifier is empty")

// Item is the canonical record moved between pipeline stages.
type Item struct {
	ID         string
	Type       string
	Language   string
	Properties map[string]any
}

type actionMeta struct {
	ID       string `json:"_id"`
	Language string `json:"language_routing,omitempty"`
}

// Build encodes items as action/data line pairs. Defaults for ContentType,
// Status and RolesWithReadAccess are added to the data line only when the
// item does not carry them already.
func Build(items []Item) (string, error) {
	var sb strings.Builder

	for i, item := range items {
		if item.ID == "" {
			return "", fmt.Errorf("item %d: %w", i, ErrEmptyID)
		}

		action, err := json.Marshal(map[string]actionMeta{
			ActionIndex: {ID: item.ID, Language: item.Language},
		})
		if err != nil {
			return "", fmt.Errorf("failed to encode action line for %s: %w", item.ID, err)
		}

		data := make(map[string]any, len(item.Properties)+3)
		for k, v := range item.Properties {
			data[k] = v
		}
		if _, ok := data[PropContentType]; !ok {
			data[PropContentType] = []string{item.Type}
		}
		if _, ok := data[PropStatus]; !ok {
			data[PropStatus] = DefaultStatus
		}
		if _, ok := data[PropRolesWithReadAccess]; !ok {
			data[PropRolesWithReadAccess] = DefaultRolesWithReadAccess
		}

		line, err := json.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("failed to encode data line for %s: %w", item.ID, err)
		}

		sb.Write(action)
		sb.WriteByte('\n')
		sb.Write(line)
		sb.WriteByte('\n')
	}

	return sb.String(), nil
}

// BuildDelete encodes one delete action line per identifier.
func BuildDelete(ids []string) (string, error) {
	var sb strings.Builder

	for i, id := range ids {
		if id == "" {
			return "", fmt.Errorf("delete %d: %w", i, ErrEmptyID)
		}
		line, err := json.Marshal(map[string]actionMeta{ActionDelete: {ID: id}})
		if err != nil {
			return "", fmt.Errorf("failed to encode delete line for %s: %w", id, err)
		}
		sb.Write(line)
		sb.WriteByte('\n')
	}

	return sb.String(), nil
}

// Parse decodes index pairs leniently: a pair whose action line is not an
// index action with a non-empty _id is dropped, as is a trailing unpaired
// line.
func Parse(payload string) []Item {
	lines := nonEmptyLines(payload)
	items := make([]Item, 0, len(lines)/2)

	for i := 0; i+1 < len(lines); i += 2 {
		item, ok := parsePair(lines[i], lines[i+1])
		if ok {
			items = append(items, item)
		}
	}

	return items
}

func parsePair(actionLine, dataLine string) (Item, bool) {
	var action map[string]json.RawMessage
	if err := json.Unmarshal([]byte(actionLine), &action); err != nil {
		return Item{}, false
	}
	rawMeta, ok := action[ActionIndex]
	if !ok {
		return Item{}, false
	}

	var meta actionMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil || meta.ID == "" {
		return Item{}, false
	}

	doc, err := jsondoc.Parse([]byte(dataLine))
	if err != nil {
		return Item{}, false
	}
	props, ok := doc.(map[string]any)
	if !ok {
		return Item{}, false
	}

	item := Item{
		ID:         meta.ID,
		Language:   meta.Language,
		Properties: props,
	}
	if t, ok := props[KeyType].(string); ok {
		item.Type = t
		delete(props, KeyType)
	}

	return item, true
}

// IsValid reports whether payload is a well-formed bulk payload: a positive
// even number of non-empty lines, each even-indexed line a JSON object with
// an index or delete key.
func IsValid(payload string) bool {
	lines := nonEmptyLines(payload)
	if len(lines) == 0 || len(lines)%2 != 0 {
		return false
	}

	for i := 0; i < len(lines); i += 2 {
		var action map[string]json.RawMessage
		if err := json.Unmarshal([]byte(lines[i]), &action); err != nil {
			return false
		}
		_, hasIndex := action[ActionIndex]
		_, hasDelete := action[ActionDelete]
		if !hasIndex && !hasDelete {
			return false
		}
	}

	return true
}

func nonEmptyLines(payload string) []string {
	raw := strings.Split(payload, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
