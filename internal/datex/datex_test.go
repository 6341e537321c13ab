package datex

import (
	"testing"
	"time"
)

var now = time.Date(2024, 6, 15, 12, 30, 0, 0, time.UTC)

func TestParseAbsolute(t *testing.T) {
	tests := []struct {
		expr      string
		preferEnd bool
		want      time.Time
	}{
		{"2024-06-15", false, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)},
		{"2024-06-15", true, time.Date(2024, 6, 15, 23, 59, 59, 0, time.UTC)},
		{"2024-06", false, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-06", true, time.Date(2024, 6, 30, 23, 59, 59, 0, time.UTC)},
		{"2024", false, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2024", true, time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC)},
		{"2024-02-29T13:45:00Z", false, time.Date(2024, 2, 29, 13, 45, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		got, err := Parse(tt.expr, tt.preferEnd, now)
		if err != nil {
			t.Errorf("Parse(%q, %v) error = %v", tt.expr, tt.preferEnd, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("Parse(%q, %v) = %v, want %v", tt.expr, tt.preferEnd, got, tt.want)
		}
	}
}

func TestParseRelative(t *testing.T) {
	tests := []struct {
		expr string
		want time.Time
	}{
		{"today", time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)},
		{"yesterday", time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)},
		{"last week", time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC)},
		{"last month", time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)},
		{"last year", time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		got, err := Parse(tt.expr, false, now)
		if err != nil {
			t.Errorf("Parse(%q) error = %v", tt.expr, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("Parse(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestParseCaseAndSpace(t *testing.T) {
	got, err := Parse("  Last Month ", false, now)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got.Month() != time.May {
		t.Errorf("got %v", got)
	}
}

func TestParseInvalid(t *testing.T) {
	for _, expr := range []string{"", "soon", "06/15/2024", "2024-13"} {
		if _, err := Parse(expr, false, now); err == nil {
			t.Errorf("Parse(%q) should fail", expr)
		}
	}
}
