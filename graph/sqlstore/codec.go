package sqlstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zero-day-ai/stixgraph/graph"
)

// storedValue is one attribute in the attributes column. The tag keeps the
// Go shape so times, ints and string lists survive the JSON round trip.
type storedValue struct {
	T string          `json:"t"`
	V json.RawMessage `json:"v"`
}

const (
	tagString  = "s"
	tagStrings = "ss"
	tagTime    = "ts"
	tagInt     = "i"
	tagFloat   = "f"
	tagBool    = "b"
	tagJSON    = "j"
)

func encodeAttributes(attrs graph.Attributes) ([]byte, error) {
	out := make(map[string]storedValue, len(attrs))
	for k, v := range attrs {
		var (
			tag string
			raw any = v
		)
		switch t := v.(type) {
		case string:
			tag = tagString
		case []string:
			tag = tagStrings
		case time.Time:
			tag, raw = tagTime, t.UTC().Format(time.RFC3339Nano)
		case int, int64, int32:
			tag = tagInt
		case float64:
			tag = tagFloat
		case bool:
			tag = tagBool
		default:
			tag = tagJSON
		}
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("encode attribute %s: %w", k, err)
		}
		out[k] = storedValue{T: tag, V: data}
	}
	return json.Marshal(out)
}

func decodeAttributes(data []byte) (graph.Attributes, error) {
	var stored map[string]storedValue
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}

	attrs := make(graph.Attributes, len(stored))
	for k, sv := range stored {
		v, err := decodeValue(sv)
		if err != nil {
			return nil, fmt.Errorf("decode attribute %s: %w", k, err)
		}
		attrs[k] = v
	}
	return attrs, nil
}

func decodeValue(sv storedValue) (any, error) {
	switch sv.T {
	case tagString:
		var s string
		err := json.Unmarshal(sv.V, &s)
		return s, err
	case tagStrings:
		var ss []string
		err := json.Unmarshal(sv.V, &ss)
		if ss == nil {
			ss = []string{}
		}
		return ss, err
	case tagTime:
		var s string
		if err := json.Unmarshal(sv.V, &s); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, err
		}
		return t.UTC(), nil
	case tagInt:
		var i int
		err := json.Unmarshal(sv.V, &i)
		return i, err
	case tagFloat:
		var f float64
		err := json.Unmarshal(sv.V, &f)
		return f, err
	case tagBool:
		var b bool
		err := json.Unmarshal(sv.V, &b)
		return b, err
	case tagJSON:
		dec := json.NewDecoder(bytes.NewReader(sv.V))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		return graph.NormalizeValue(v), nil
	default:
		return nil, fmt.Errorf("unknown value tag %q", sv.T)
	}
}

func encodeLabels(labels []string) ([]byte, error) {
	if labels == nil {
		labels = []string{}
	}
	return json.Marshal(labels)
}

func decodeLabels(data []byte) ([]string, error) {
	var labels []string
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("decode labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, nil
	}
	return labels, nil
}
