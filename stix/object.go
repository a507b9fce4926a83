package stix

import (
	"encoding/json"
	"strconv"
)

// Object is a single STIX2 object in generic form.
type Object map[string]any

// Type returns the "type" field.
func (o Object) Type() string {
	s, _ := o["type"].(string)
	return s
}

// ID returns the "id" field.
func (o Object) ID() string {
	s, _ := o["id"].(string)
	return s
}

// String returns a string field, or "".
func (o Object) String(key string) string {
	s, _ := o[key].(string)
	return s
}

// Strings returns a string array field. Non-string elements are skipped.
func (o Object) Strings(key string) []string {
	switch v := o[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Int returns an integer field and whether it was present and numeric.
func (o Object) Int(key string) (int, bool) {
	return ToInt(o[key])
}

// Clone returns a shallow copy of the object.
func (o Object) Clone() Object {
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// ToInt converts the numeric shapes produced by JSON decoding to int.
func ToInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := strconv.Atoi(n.String())
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int(f), true
		}
		return i, true
	default:
		return 0, false
	}
}
