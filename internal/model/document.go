package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Document is a sanitized record as stored by a backend: a JSON object made
// of map[string]any, []any, string, float64, bool.
type Document map[string]any

// ID returns the record id or "" when absent.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// OwnerID returns the ownerId field or "".
func (d Document) OwnerID() string {
	id, _ := d["ownerId"].(string)
	return id
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneValue(map[string]any(d)).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case Document:
		return Document(cloneValue(map[string]any(t)).(map[string]any))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

// Decode converts a document into a typed record.
func Decode[T any](d Document) (T, error) {
	var out T
	raw, err := json.Marshal(d)
	if err != nil {
		return out, fmt.Errorf("encode document %q: %w", d.ID(), err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode document %q: %w", d.ID(), err)
	}
	return out, nil
}

// DecodeJSON parses a stored JSON payload into a Document.
func DecodeJSON(raw []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// TimeLayout is the record timestamp format: UTC with fixed milliseconds,
// so timestamps also sort lexicographically.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Now returns the current time in TimeLayout.
func Now() string {
	return time.Now().UTC().Format(TimeLayout)
}

// NowMillis returns the current Unix time in milliseconds, the unit of
// override trigger timestamps.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// LaterOf returns whichever RFC3339 timestamp is later, keeping updatedAt
// non-decreasing when a clock moves backwards.
func LaterOf(a, b string) string {
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	switch {
	case errA != nil:
		return b
	case errB != nil:
		return a
	case tb.After(ta):
		return b
	default:
		return a
	}
}
