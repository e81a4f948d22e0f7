package utils

import (
	"fmt"
	"time"
)

const DateFormat = "2006-01-02"

// ParseDate parses a yyyy-mm-dd date string.
func ParseDate(dateStr string) (time.Time, error) {
	t, err := time.Parse(DateFormat, dateStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected %s): %w", dateStr, DateFormat, err)
	}
	return t, nil
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders t as yyyy-mm-dd.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateFormat)
}
