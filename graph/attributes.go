package graph

import (
	"encoding/json"
	"strconv"
	"time"
)

// Attributes holds entity and relationship properties.
//
// Supported value shapes:
//   - string
//   - []string (ordered)
//   - time.Time
//   - int
//   - bool
//   - map[string]any and []map[string]any (nested values)
type Attributes map[string]any

// String returns the string value for key, or "" if absent or not a string.
func (a Attributes) String(key string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

// Strings returns the ordered string sequence for key.
func (a Attributes) Strings(key string) []string {
	switch v := a[key].(type) {
	case []string:
		return v
	case string:
		return []string{v}
	default:
		return nil
	}
}

// Time returns the timestamp for key and whether it was present.
func (a Attributes) Time(key string) (time.Time, bool) {
	v, ok := a[key].(time.Time)
	return v, ok
}

// Clone returns a shallow copy with the string slices copied.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		if s, ok := v.([]string); ok {
			cp := make([]string, len(s))
			copy(cp, s)
			v = cp
		}
		out[k] = v
	}
	return out
}

// Merge copies every key of other into a, overwriting existing values.
func (a Attributes) Merge(other Attributes) {
	for k, v := range other {
		a[k] = v
	}
}

// NormalizeValue converts JSON-decoded shapes into attribute shapes: arrays
// of strings become []string, arrays of objects become []map[string]any and
// integral numbers become int. Other values are returned unchanged.
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := strconv.Atoi(t.String()); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case float64:
		if t == float64(int(t)) {
			return int(t)
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = NormalizeValue(item)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, item := range t {
			out[i] = NormalizeValue(item).(map[string]any)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []any:
		if len(t) == 0 {
			return []string{}
		}
		if strs, ok := stringItems(t); ok {
			return strs
		}
		if maps, ok := mapItems(t); ok {
			return maps
		}
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = NormalizeValue(item)
		}
		return out
	default:
		return v
	}
}

func stringItems(items []any) ([]string, bool) {
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func mapItems(items []any) ([]map[string]any, bool) {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		out = append(out, NormalizeValue(m).(map[string]any))
	}
	return out, true
}
