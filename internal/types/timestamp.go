package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timestamp is the canonical instant used for record freshness.
//
// The remote source has emitted updatedAt both as ISO-8601 strings and as raw
// epoch numbers. Timestamp normalizes either form to a UTC time.Time so that
// comparisons are always between instants. Numbers (and numeric strings) are
// milliseconds since the Unix epoch.
type Timestamp struct {
	time.Time
}

// layouts accepted for string timestamps, tried in order.
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// NewTimestamp wraps t, normalized to UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// FromMillis returns the instant ms milliseconds after the Unix epoch.
func FromMillis(ms int64) Timestamp {
	return Timestamp{Time: time.UnixMilli(ms).UTC()}
}

// Now returns the current instant.
func Now() Timestamp {
	return NewTimestamp(time.Now())
}

// ParseTimestamp parses an ISO-8601 string or a decimal epoch-milliseconds string.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}, nil
	}
	if isNumeric(s) {
		return parseMillis(s)
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NewTimestamp(t), nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// MustParseTimestamp is ParseTimestamp for constants in tests and seeds.
func MustParseTimestamp(s string) Timestamp {
	ts, err := ParseTimestamp(s)
	if err != nil {
		panic(err)
	}
	return ts
}

// UnmarshalJSON accepts null, a JSON string, or a JSON number.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseTimestamp(s)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}
	parsed, err := parseMillis(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON emits RFC 3339 with nanoseconds, or null for the zero instant.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// String formats the instant for storage.
func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseMillis(s string) (Timestamp, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return FromMillis(ms), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("invalid epoch milliseconds %q: %w", s, err)
	}
	whole := int64(f)
	frac := time.Duration((f - float64(whole)) * float64(time.Millisecond))
	return NewTimestamp(time.UnixMilli(whole).Add(frac)), nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	dot := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '-' && i == 0 && len(s) > 1:
		case r == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return true
}

// Flag is a boolean that also decodes the strings "true" and "false".
// The remote has been observed returning is_favorite in both forms.
type Flag bool

// UnmarshalJSON accepts true/false, "true"/"false", and null (false).
func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "null", "":
		*f = false
		return nil
	case "true":
		*f = true
		return nil
	case "false":
		*f = false
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid flag %s", data)
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid flag %q", s)
	}
	*f = Flag(b)
	return nil
}

// FlexInt is an integer that also decodes numeric strings such as "4".
type FlexInt int64

// UnmarshalJSON accepts a JSON number, a numeric string, or null (zero).
func (n *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q", s)
	}
	*n = FlexInt(v)
	return nil
}
