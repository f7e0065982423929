package model

import (
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"January 2, 2006",
	"Jan 2, 2006",
}

// ParseTime parses a loosely formatted timestamp from an external source.
// Unparseable or empty input yields nil: malformed timestamps are treated as
// absent, never as an error.
func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// StorageLayout is the fixed-width UTC layout used for text timestamps, so
// that stored values sort lexically in time order.
const StorageLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTime renders an optional timestamp for text storage.
func FormatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(StorageLayout)
	return &s
}

// DaysBetween returns the signed number of days from a to b.
func DaysBetween(a, b time.Time) float64 {
	return b.Sub(a).Hours() / 24
}
