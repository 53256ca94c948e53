package dumpload

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
)

// Record is one decoded dump entry: field name to heterogeneous JSON value.
// Numbers decode as float64, objects as map[string]any, arrays as []any.
type Record map[string]any

var errNotObject = errors.New("record is not a JSON object")

// DecodeRecord parses one line into a Record. Anything other than a JSON object
// is an error.
func DecodeRecord(line []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errNotObject
	}
	return rec, nil
}

// ID returns the record's identity field, or "" when absent or not a string.
func (r Record) ID() string {
	s, _ := r["id"].(string)
	return strings.TrimSpace(s)
}

// Name returns the record's name field, or "" when absent or not a string.
func (r Record) Name() string {
	s, _ := r["name"].(string)
	return strings.TrimSpace(s)
}

// str returns a trimmed string field.
func (r Record) str(key string) (string, bool) {
	s, ok := r[key].(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// num returns a numeric field. Values built in Go may carry integer types.
func (r Record) num(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
