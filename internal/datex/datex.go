// Package datex parses the flexible date expressions accepted by the CLI's
// --since and --until flags.
package datex

import (
	"fmt"
	"strings"
	"time"
)

// Parse resolves a date expression to a UTC instant. When preferEnd is
// true, partial dates resolve to the end of their period (23:59:59 of the
// day, last day of the month or year); otherwise to the start.
//
// Accepted forms: RFC 3339, YYYY-MM-DD, YYYY-MM, YYYY, and the relative
// expressions "today", "yesterday", "last week", "last month", "last year".
func Parse(expr string, preferEnd bool, now time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	now = now.UTC()

	switch strings.ToLower(expr) {
	case "today":
		return dayBound(now, preferEnd), nil
	case "yesterday":
		return dayBound(now.AddDate(0, 0, -1), preferEnd), nil
	case "last week":
		return dayBound(now.AddDate(0, 0, -7), preferEnd), nil
	case "last month":
		return dayBound(now.AddDate(0, -1, 0), preferEnd), nil
	case "last year":
		return dayBound(now.AddDate(-1, 0, 0), preferEnd), nil
	}

	if t, err := time.Parse(time.RFC3339, expr); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", expr); err == nil {
		return dayBound(t, preferEnd), nil
	}
	if t, err := time.Parse("2006-01", expr); err == nil {
		if preferEnd {
			return dayBound(t.AddDate(0, 1, -1), true), nil
		}
		return t, nil
	}
	if t, err := time.Parse("2006", expr); err == nil {
		if preferEnd {
			return dayBound(t.AddDate(1, 0, -1), true), nil
		}
		return t, nil
	}

	return time.Time{}, fmt.Errorf(
		"could not parse date %q (try 2024-06-15, 2024-06, 2024, or \"last month\")", expr)
}

func dayBound(t time.Time, end bool) time.Time {
	year, month, day := t.Date()
	if end {
		return time.Date(year, month, day, 23, 59, 59, 0, time.UTC)
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
