package models

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CustomTime parses the timestamps feed publishers attach to their archives.
// Operator listings use US-style stamps ("4/27/2020 3:04:05 PM") without a
// zone; those are read in UTC unless a location is supplied to ParseIn.
type CustomTime struct {
	time.Time
}

var customTimeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"1/2/2006 3:04:05 PM",
	"20060102",
	"2006-01-02",
}

// ParseCustomTime parses s in UTC.
func ParseCustomTime(s string) (CustomTime, error) {
	return ParseCustomTimeIn(s, time.UTC)
}

// ParseCustomTimeIn parses s, using loc for stamps that carry no zone.
func ParseCustomTimeIn(s string, loc *time.Location) (CustomTime, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return CustomTime{}, nil
	}
	var parseErr error
	for _, format := range customTimeFormats {
		t, err := time.ParseInLocation(format, s, loc)
		if err == nil {
			return CustomTime{Time: t}, nil
		}
		parseErr = err
	}
	return CustomTime{}, fmt.Errorf("unable to parse time %q: %w", s, parseErr)
}

// UnmarshalYAML handles run files.
func (ct *CustomTime) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseCustomTime(node.Value)
	if err != nil {
		return err
	}
	*ct = parsed
	return nil
}

// UnmarshalJSON handles quoted stamps from operator listings.
func (ct *CustomTime) UnmarshalJSON(b []byte) error {
	parsed, err := ParseCustomTime(strings.Trim(string(b), "\""))
	if err != nil {
		return err
	}
	*ct = parsed
	return nil
}

// MarshalJSON converts the time back to JSON
func (ct CustomTime) MarshalJSON() ([]byte, error) {
	if ct.Time.IsZero() {
		return []byte("null"), nil
	}
	return []byte(fmt.Sprintf("\"%s\"", ct.Time.Format(time.RFC3339))), nil
}
