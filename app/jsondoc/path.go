package jsondoc

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

type segment struct {
	name    string
	indexes []int
}

// Resolve navigates a JSON path: segments delimited by '.' or '/', each
// optionally followed by one or more [idx] selectors. Property names match
// exactly. An empty path resolves to root itself.
func Resolve(root any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return root, true
	}

	segments, ok := parseSegments(path)
	if !ok {
		return nil, false
	}

	current := root
	for _, seg := range segments {
		if seg.name != "" {
			obj, isMap := current.(map[string]any)
			if !isMap {
				return nil, false
			}
			next, found := obj[seg.name]
			if !found {
				return nil, false
			}
			current = next
		}

		for _, idx := range seg.indexes {
			list, isList := current.([]any)
			if !isList || idx < 0 || idx >= len(list) {
				return nil, false
			}
			current = list[idx]
		}
	}

	return current, true
}

func parseSegments(path string) ([]segment, bool) {
	parts := strings.FieldsFunc(path, func(r rune) bool {
		return r == '.' || r == '/'
	})

	segments := make([]segment, 0, len(parts))
	for _, part := range parts {
		seg, ok := parseSegment(part)
		if !ok {
			return nil, false
		}
		segments = append(segments, seg)
	}
	return segments, true
}

func parseSegment(part string) (segment, bool) {
	open := strings.IndexByte(part, '[')
	if open < 0 {
		return segment{name: part}, true
	}

	seg := segment{name: part[:open]}
	rest := part[open:]
	for rest != "" {
		if rest[0] != '[' {
			return segment{}, false
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return segment{}, false
		}
		idx, err := strconv.Atoi(strings.TrimSpace(rest[1:end]))
		if err != nil {
			return segment{}, false
		}
		seg.indexes = append(seg.indexes, idx)
		rest = rest[end+1:]
	}
	return seg, true
}

// Extract follows a dot-separated property path through nested objects.
// Every step must land on an object; each name is matched exactly first and
// then case-insensitively. A present JSON null is returned as (nil, true).
func Extract(node any, path string) (any, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, false
	}

	current := node
	for _, name := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		next, found := lookup(obj, name)
		if !found {
			return nil, false
		}
		current = next
	}
	return current, true
}

func lookup(obj map[string]any, name string) (any, bool) {
	if v, ok := obj[name]; ok {
		return v, true
	}

	// Casers carry state and are not shared between goroutines.
	folder := cases.Fold()
	want := folder.String(name)
	for key, v := range obj {
		if folder.String(key) == want {
			return v, true
		}
	}
	return nil, false
}
