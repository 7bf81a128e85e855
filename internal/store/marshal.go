package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/reviewpc/internal/canonical"
)

// marshalFields converts event fields to canonical JSON TEXT for storage.
func marshalFields(fields map[string]any) (string, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	data, err := canonical.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

// unmarshalFields parses stored JSON TEXT back into a map.
// Numbers are decoded as int64 where they fit so that re-marshalling
// yields the same canonical bytes.
func unmarshalFields(data string) (map[string]any, error) {
	if data == "" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	for k, v := range m {
		m[k] = normalizeNumber(v)
	}
	return m, nil
}

func normalizeNumber(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		return val.String()
	case []any:
		for i := range val {
			val[i] = normalizeNumber(val[i])
		}
		return val
	case map[string]any:
		for k := range val {
			val[k] = normalizeNumber(val[k])
		}
		return val
	default:
		return v
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
