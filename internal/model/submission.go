package model

import (
	"bytes"
	"encoding/json"
	"time"
	"unicode/utf8"
)

// Submission keys expected from polling agents.
const (
	FieldDeviceUDID   = "device_udid"
	FieldCommandType  = "command_type"
	FieldCommandValue = "command_value"
	FieldExitCode     = "exit_code"
	FieldStatus       = "status"
	FieldTimestamp    = "timestamp"
	FieldOutput       = "output"
)

// RequiredFields lists the keys a submission must carry, in reporting order.
var RequiredFields = []string{
	FieldDeviceUDID,
	FieldCommandType,
	FieldCommandValue,
	FieldExitCode,
	FieldStatus,
	FieldTimestamp,
}

// Submission is an inbound result body before any typing is applied.
// Only key presence is checked; a key mapped to JSON null is present.
type Submission map[string]json.RawMessage

// Missing returns the required keys absent from s, in RequiredFields order.
func (s Submission) Missing() []string {
	var missing []string
	for _, field := range RequiredFields {
		if _, ok := s[field]; !ok {
			missing = append(missing, field)
		}
	}
	return missing
}

// RawOr returns Raw(key), or def when key is absent.
func (s Submission) RawOr(key string, def json.RawMessage) json.RawMessage {
	if _, ok := s[key]; !ok {
		return def
	}
	return s.Raw(key)
}

// Raw returns a copy of the verbatim JSON stored at key, or nil when absent.
func (s Submission) Raw(key string) json.RawMessage {
	raw, ok := s[key]
	if !ok {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// Text converts a raw JSON value into a string. Strings are unquoted, null and
// absent values become "", and any other value keeps its literal JSON text.
func Text(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if s, ok := StringValue(trimmed); ok {
		return s
	}
	return string(trimmed)
}

// String encodes s as a raw JSON string.
func String(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}

// StringValue unquotes raw when it is a JSON string.
func StringValue(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", false
	}
	return s, true
}

// Identity returns a comparison key for raw that keeps JSON types apart:
// the string "42" and the number 42 get different keys. Absent and null
// share a key, and strings compare by their decoded value.
func Identity(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "null"
	}
	if s, ok := StringValue(trimmed); ok {
		return "s:" + s
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return string(trimmed)
	}
	return compact.String()
}

// Truthy reports whether raw holds a value other than null, false, zero, or
// an empty string, array, or object.
func Truthy(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return false
	}
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}

// Clip returns at most limit bytes of s, cut back to a rune boundary, and
// whether anything was dropped.
func Clip(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}

// TimestampLayout renders instants as ISO-8601 UTC with microseconds.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
