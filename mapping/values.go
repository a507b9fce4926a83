package mapping

import (
	"fmt"
	"time"

	"github.com/zero-day-ai/stixgraph/graph"
	"github.com/zero-day-ai/stixgraph/stix"
)

// encodeValue converts an attribute value into its STIX form. ok is false for
// empty values, which are omitted.
func encodeValue(kind FieldKind, v any) (out any, ok bool, err error) {
	if v == nil {
		return nil, false, nil
	}
	switch kind {
	case KindString:
		s, isStr := v.(string)
		if !isStr {
			return nil, false, fmt.Errorf("expected string, got %T", v)
		}
		return s, s != "", nil

	case KindStringList:
		list, err := toStringList(v)
		if err != nil {
			return nil, false, err
		}
		return list, len(list) > 0, nil

	case KindTimestamp:
		switch t := v.(type) {
		case time.Time:
			if t.IsZero() {
				return nil, false, nil
			}
			return stix.FormatTime(t), true, nil
		case string:
			if t == "" {
				return nil, false, nil
			}
			parsed, err := stix.ParseTime(t)
			if err != nil {
				return nil, false, err
			}
			return stix.FormatTime(parsed), true, nil
		default:
			return nil, false, fmt.Errorf("expected timestamp, got %T", v)
		}

	case KindInt:
		n, isInt := stix.ToInt(v)
		if !isInt {
			return nil, false, fmt.Errorf("expected integer, got %T", v)
		}
		return n, true, nil

	case KindBool:
		b, isBool := v.(bool)
		if !isBool {
			return nil, false, fmt.Errorf("expected boolean, got %T", v)
		}
		return b, true, nil

	case KindNested:
		switch n := v.(type) {
		case map[string]any:
			return n, len(n) > 0, nil
		case []map[string]any:
			return n, len(n) > 0, nil
		case []any:
			return n, len(n) > 0, nil
		default:
			return nil, false, fmt.Errorf("expected object or list of objects, got %T", v)
		}
	}
	return nil, false, fmt.Errorf("unsupported field kind %d", kind)
}

// decodeValue converts a STIX field value into its attribute form.
func decodeValue(kind FieldKind, v any) (any, error) {
	switch kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil

	case KindStringList:
		// A bare string is accepted as a one-element list.
		if s, ok := v.(string); ok {
			return []string{s}, nil
		}
		return toStringList(v)

	case KindTimestamp:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected RFC3339 string, got %T", v)
		}
		return stix.ParseTime(s)

	case KindInt:
		n, ok := stix.ToInt(v)
		if !ok {
			return nil, fmt.Errorf("expected integer, got %T", v)
		}
		return n, nil

	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", v)
		}
		return b, nil

	case KindNested:
		switch v.(type) {
		case map[string]any, []map[string]any, []any:
			return graph.NormalizeValue(v), nil
		default:
			return nil, fmt.Errorf("expected object or list of objects, got %T", v)
		}
	}
	return nil, fmt.Errorf("unsupported field kind %d", kind)
}

// encodeExtension converts an attribute without a native slot. Times become
// strings; everything else is written as-is.
func encodeExtension(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		return t, t != ""
	case []string:
		return t, len(t) > 0
	case []any:
		return t, len(t) > 0
	case time.Time:
		return stix.FormatTime(t), !t.IsZero()
	case *time.Time:
		if t == nil || t.IsZero() {
			return nil, false
		}
		return stix.FormatTime(*t), true
	default:
		return v, true
	}
}

func toStringList(v any) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...), nil
	case []any:
		strs, ok := allStrings(t)
		if !ok {
			return nil, fmt.Errorf("expected list of strings")
		}
		return strs, nil
	default:
		return nil, fmt.Errorf("expected list of strings, got %T", v)
	}
}

func allStrings(items []any) ([]string, bool) {
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
