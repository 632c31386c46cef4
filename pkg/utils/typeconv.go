package utils

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var dateTimeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ConvertDateTime turns a stored timestamp back into a time.Time.
// Checkpoint values come back as strings after a JSON round trip, and as
// primitive.DateTime when read straight out of MongoDB.
func ConvertDateTime(val interface{}) (time.Time, error) {
	switch v := val.(type) {
	case time.Time:
		return v, nil
	case *time.Time:
		if v == nil {
			return time.Time{}, fmt.Errorf("nil datetime")
		}
		return *v, nil
	case primitive.DateTime:
		return v.Time().UTC(), nil
	case string:
		for _, f := range dateTimeFormats {
			if t, err := time.Parse(f, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unable to parse datetime: %s", v)
	case []byte:
		return ConvertDateTime(string(v))
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to datetime", val)
	}
}

// FormatDateTime renders t the way it is stored in checkpoints and documents.
func FormatDateTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// ConvertToString accepts the string-ish types a decoded checkpoint can hold.
func ConvertToString(val interface{}) (string, error) {
	switch v := val.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case []interface{}:
		// older checkpoints stored the bulk payload as a list of lines
		out := make([]byte, 0, 256)
		for _, line := range v {
			s, ok := line.(string)
			if !ok {
				return "", fmt.Errorf("cannot convert %T line to string", line)
			}
			out = append(out, s...)
			out = append(out, '\n')
		}
		return string(out), nil
	default:
		return "", fmt.Errorf("cannot convert %T to string", val)
	}
}

// NonNilStrings returns s, or an empty slice in its place when s is nil.
func NonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
