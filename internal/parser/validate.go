package parser

import (
	"strconv"
	"time"

	"github.com/datagen24/cowrieprocessor/internal/canonical"
)

// decodeObject attempts to decode a line as a JSON object, returning
// (nil, false) for anything that isn't a structured object (including
// malformed JSON and bare scalars/arrays).
func decodeObject(text string) (map[string]interface{}, bool) {
	v, err := canonical.Decode([]byte(text))
	if err != nil {
		return nil, false
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	return m, true
}

// Validate checks an event payload per the parser's validation rules:
// present eventid and a parseable timestamp field. Returns the accumulated
// list of validation errors, empty when the event is valid.
func Validate(payload map[string]interface{}) (eventid string, ts time.Time, errs []string) {
	if v, ok := stringField(payload, "eventid"); ok {
		eventid = v
	} else {
		errs = append(errs, "missing_eventid")
	}

	if t, ok := parseTimestamp(payload); ok {
		ts = t
	} else {
		errs = append(errs, "missing_timestamp")
	}

	return eventid, ts, errs
}

func stringField(payload map[string]interface{}, key string) (string, bool) {
	v, ok := payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// parseTimestamp reads "timestamp" or "time", accepting epoch numbers
// (int/float) or ISO-8601 strings.
func parseTimestamp(payload map[string]interface{}) (time.Time, bool) {
	for _, key := range []string{"timestamp", "time"} {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		if t, ok := coerceTimestamp(raw); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func coerceTimestamp(raw interface{}) (time.Time, bool) {
	switch v := raw.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC(), true
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC(), true
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return epochToTime(f), true
		}
	case float64:
		return epochToTime(v), true
	case int64:
		return epochToTime(float64(v)), true
	}
	return time.Time{}, false
}

func epochToTime(epoch float64) time.Time {
	sec := int64(epoch)
	nsec := int64((epoch - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// SrcIP returns the event's source IP field if present.
func SrcIP(payload map[string]interface{}) string {
	v, _ := stringField(payload, "src_ip")
	return v
}

// SessionID returns the event's session identifier, checking both the
// "session" and "session_id" fields the source accepts interchangeably.
func SessionID(payload map[string]interface{}) string {
	if v, ok := stringField(payload, "session"); ok {
		return v
	}
	v, _ := stringField(payload, "session_id")
	return v
}

// CommandText returns the command text of a command-input event, checking
// both "input" and "command" fields.
func CommandText(payload map[string]interface{}) string {
	if v, ok := stringField(payload, "input"); ok {
		return v
	}
	v, _ := stringField(payload, "command")
	return v
}
