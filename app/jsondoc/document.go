// Package jsondoc holds the canonical dynamic JSON value used across the
// import pipeline and the two path resolvers that navigate it.
//
// A canonical value is one of: string, int64, float64, bool, nil, []any or
// map[string]any whose elements are themselves canonical. Any decoded JSON
// passes through Normalize before it reaches a resolver or an item.
package jsondoc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/goccy/go-json"
)

type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
	KindMap
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "integer"
	case KindFloat:
		return "float"
	case KindBool:
		return "boolean"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// KindOf reports which member of the canonical union v is.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case string:
		return KindString
	case int64:
		return KindInt
	case float64:
		return KindFloat
	case bool:
		return KindBool
	case []any:
		return KindList
	case map[string]any:
		return KindMap
	default:
		return KindUnknown
	}
}

var ErrEmptyDocument = errors.New("empty JSON document")

// Parse decodes a single JSON document into its canonical form. Numbers
// without a fraction or exponent that fit in int64 become int64.
func Parse(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyDocument
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}

	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after JSON document")
	}

	return Normalize(raw), nil
}

// Normalize converts decoded JSON (or Go values of compatible shape) into
// the canonical union. Unknown types are rendered with fmt as strings.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return t
	case bool:
		return t
	case json.Number:
		return normalizeNumber(string(t))
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint32:
		return int64(t)
	case float32:
		return float64(t)
	case float64:
		return t
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Normalize(e)
		}
		return out
	default:
		return fmt.Sprint(t)
	}
}

func normalizeNumber(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return f
}

// Stringify renders a canonical value as text. Strings are returned as is,
// lists and maps as compact JSON. Null renders as the empty string.
func Stringify(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatFloat(t, 'f', -1, 64), nil
		}
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return "", fmt.Errorf("failed to stringify %s value: %w", KindOf(v), err)
		}
		return string(data), nil
	}
}
