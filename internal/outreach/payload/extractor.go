// Package payload extracts typed values out of the deeply nested,
// key-aliased JSON blobs the external platform produces. Nothing here does
// I/O and nothing panics on malformed input: every lookup degrades to a
// zero value with ok=false. The rest of the engine treats every upstream
// field as untrusted and reads it through this package.
package payload

import (
	"strconv"
	"strings"
	"time"
)

// Path is an ordered sequence of object keys descending into a decoded JSON
// value.
type Path []string

// P is shorthand for building a Path.
func P(keys ...string) Path { return Path(keys) }

// lookup walks v along path. v is expected to be the result of a
// json.Unmarshal into any (maps, slices, strings, float64s, bools, nil).
func lookup(v any, path Path) (any, bool) {
	current := v
	for _, key := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// FirstString returns the first non-empty string found across the candidate
// paths, in order. JSON numbers are accepted and stringified, since provider
// ids frequently arrive as numbers under some payload shapes.
func FirstString(v any, paths ...Path) (string, bool) {
	for _, path := range paths {
		raw, ok := lookup(v, path)
		if !ok {
			continue
		}
		switch val := raw.(type) {
		case string:
			if trimmed := strings.TrimSpace(val); trimmed != "" {
				return trimmed, true
			}
		case float64:
			if val == float64(int64(val)) {
				return strconv.FormatInt(int64(val), 10), true
			}
			return strconv.FormatFloat(val, 'f', -1, 64), true
		}
	}
	return "", false
}

// FirstBool returns the first boolean found across the candidate paths.
// String forms of booleans ("true"/"false") are accepted.
func FirstBool(v any, paths ...Path) (bool, bool) {
	for _, path := range paths {
		raw, ok := lookup(v, path)
		if !ok {
			continue
		}
		switch val := raw.(type) {
		case bool:
			return val, true
		case string:
			if parsed, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
				return parsed, true
			}
		}
	}
	return false, false
}

// FirstTime returns the first parseable timestamp across the candidate
// paths. Accepts RFC3339 strings and unix epochs in seconds or milliseconds.
func FirstTime(v any, paths ...Path) (time.Time, bool) {
	for _, path := range paths {
		raw, ok := lookup(v, path)
		if !ok {
			continue
		}
		switch val := raw.(type) {
		case string:
			if ts, err := time.Parse(time.RFC3339, val); err == nil {
				return ts, true
			}
			if ts, err := time.Parse(time.RFC3339Nano, val); err == nil {
				return ts, true
			}
		case float64:
			epoch := int64(val)
			if epoch > 1e12 { // milliseconds
				return time.UnixMilli(epoch).UTC(), true
			}
			if epoch > 0 {
				return time.Unix(epoch, 0).UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// Object returns the nested object at the first path that holds one.
func Object(v any, paths ...Path) (map[string]any, bool) {
	for _, path := range paths {
		raw, ok := lookup(v, path)
		if !ok {
			continue
		}
		if obj, ok := raw.(map[string]any); ok {
			return obj, true
		}
	}
	return nil, false
}

// Items normalizes a "collection-ish" payload: an object wrapping an array
// under one of the wrapper keys, or a bare array. Non-object elements are
// dropped. Anything else yields an empty slice.
func Items(v any, wrapperKeys ...string) []map[string]any {
	arr, ok := v.([]any)
	if !ok {
		obj, isObj := v.(map[string]any)
		if !isObj {
			return nil
		}
		for _, key := range wrapperKeys {
			if inner, found := obj[key]; found {
				if innerArr, isArr := inner.([]any); isArr {
					arr = innerArr
					break
				}
			}
		}
		if arr == nil {
			return nil
		}
	}

	items := make([]map[string]any, 0, len(arr))
	for _, el := range arr {
		if obj, isObj := el.(map[string]any); isObj {
			items = append(items, obj)
		}
	}
	return items
}
