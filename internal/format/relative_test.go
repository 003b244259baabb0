package format

import (
	"testing"
	"time"
)

func TestFormatRelative(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"just now", now.Add(-5 * time.Second), "just now"},
		{"one minute ago", now.Add(-1 * time.Minute), "1 minute ago"},
		{"five minutes ago", now.Add(-5 * time.Minute), "5 minutes ago"},
		{"two hours ago", now.Add(-2 * time.Hour), "2 hours ago"},
		{"yesterday", now.Add(-24 * time.Hour), "yesterday"},
		{"in a moment", now.Add(5 * time.Second), "in a moment"},
		{"in one hour", now.Add(1 * time.Hour), "in 1 hour"},
		{"in three days", now.Add(72 * time.Hour), "in 3 days"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatRelative(tt.t, now); got != tt.want {
				t.Errorf("FormatRelative() = %q, want %q", got, tt.want)
			}
		})
	}
}
