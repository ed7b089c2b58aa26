package graph

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Record is one node of the replicated graph: a flat set of named fields.
// Values are whatever the backend decoded (string, bool, float64,
// json.Number, int32, int64 ...); use the typed accessors to read them.
type Record map[string]any

// Clone returns a shallow copy. Field values are scalars, so this is enough
// to keep listeners from mutating shared state.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns a new record with partial's fields laid over r's.
// Fields absent from partial keep their previous value.
func (r Record) Merge(partial Record) Record {
	out := make(Record, len(r)+len(partial))
	for k, v := range r {
		out[k] = v
	}
	for k, v := range partial {
		out[k] = v
	}
	return out
}

// String returns the field as a trimmed string, or "" when absent or not textual.
func (r Record) String(field string) string {
	switch v := r[field].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case []byte:
		return strings.TrimSpace(string(v))
	default:
		return ""
	}
}

// Int64 reads a numeric field. Millisecond timestamps written by other peers
// may arrive as floats, json.Number, decimal strings or RFC 3339 strings.
func (r Record) Int64(field string) (int64, bool) {
	switch v := r[field].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int64(v), true
	case float32:
		return int64(v), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		if f, err := v.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UnixMilli(), true
		}
	case time.Time:
		return v.UnixMilli(), true
	}
	return 0, false
}

// Bool reads a boolean field; "true"/"1" strings count as true.
func (r Record) Bool(field string) bool {
	switch v := r[field].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	}
	return false
}

// Has reports whether field is present with a non-nil value.
func (r Record) Has(field string) bool {
	v, ok := r[field]
	return ok && v != nil
}

// DecodeJSON parses a JSON object into a Record, keeping numbers as json.Number
// so large millisecond timestamps survive the round trip.
func DecodeJSON(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	if rec == nil {
		rec = Record{}
	}
	return rec, nil
}
