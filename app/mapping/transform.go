package mapping

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/lysyi3m/api-comb/app/jsondoc"
)

const dateLayout = "2006-01-02"

// Apply converts an extracted canonical value. Conversions that cannot
// succeed yield nil, except the date forms which keep the raw input.
func Apply(t Transformation, v any) (any, error) {
	switch t {
	case None:
		return v, nil
	case ToString:
		if v == nil {
			return nil, nil
		}
		return jsondoc.Stringify(v)
	case ToInt:
		return toInt(v), nil
	case ToFloat:
		return toFloat(v), nil
	case ToBoolean:
		return toBoolean(v), nil
	case ToDate:
		return reformatDate(v, dateLayout), nil
	case ToDateTime:
		return reformatDate(v, time.RFC3339Nano), nil
	default:
		return v, nil
	}
}

// ParseDefault interprets a default literal for the given transformation.
// Numeric and boolean targets fall back to the literal string when the
// literal does not parse.
func ParseDefault(t Transformation, literal string) any {
	switch t {
	case ToInt:
		if i, err := strconv.ParseInt(strings.TrimSpace(literal), 10, 64); err == nil {
			return i
		}
	case ToFloat:
		if f, ok := parseFinite(literal); ok {
			return f
		}
	case ToBoolean:
		if b := parseBool(literal); b != nil {
			return *b
		}
	}
	return literal
}

func toInt(v any) any {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		r := math.RoundToEven(n)
		// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
		if math.IsNaN(r) || r < math.MinInt64 || r >= math.MaxInt64 {
			return nil
		}
		return int64(r)
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		return nil
	default:
		return nil
	}
}

func toFloat(v any) any {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil
		}
		return n
	case string:
		if f, ok := parseFinite(n); ok {
			return f
		}
		return nil
	default:
		return nil
	}
}

// parseFinite rejects NaN and the infinities, which JSON cannot carry.
func parseFinite(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toBoolean(v any) any {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed := parseBool(b); parsed != nil {
			return *parsed
		}
		return nil
	default:
		return nil
	}
}

func parseBool(s string) *bool {
	var result bool
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		result = true
	case "false", "0", "no":
		result = false
	default:
		return nil
	}
	return &result
}

func reformatDate(v any, layout string) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	parsed, err := dateparse.ParseAny(strings.TrimSpace(s))
	if err != nil {
		return s
	}
	return parsed.Format(layout)
}
