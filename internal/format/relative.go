package format

import (
	"fmt"
	"time"
)

// FormatRelative renders t relative to now as a short human phrase (e.g.
// "in 5 minutes", "2 hours ago"), used by the Formatter's schedule class
// alongside the platform's native timestamp syntax.
func FormatRelative(t, now time.Time) string {
	diff := t.Sub(now)
	if diff < 0 {
		return formatAgo(-diff)
	}
	return formatIn(diff)
}

func formatAgo(diff time.Duration) string {
	seconds := int64(diff.Seconds())
	switch {
	case seconds < 60:
		return "just now"
	case seconds < 3600:
		return pluralUnit(seconds/60, "minute") + " ago"
	case seconds < 86400:
		return pluralUnit(seconds/3600, "hour") + " ago"
	case seconds < 86400*7:
		days := seconds / 86400
		if days == 1 {
			return "yesterday"
		}
		return pluralUnit(days, "day") + " ago"
	default:
		return pluralUnit(seconds/(86400*7), "week") + " ago"
	}
}

func formatIn(diff time.Duration) string {
	seconds := int64(diff.Seconds())
	switch {
	case seconds < 60:
		return "in a moment"
	case seconds < 3600:
		return "in " + pluralUnit(seconds/60, "minute")
	case seconds < 86400:
		return "in " + pluralUnit(seconds/3600, "hour")
	case seconds < 86400*7:
		return "in " + pluralUnit(seconds/86400, "day")
	default:
		return "in " + pluralUnit(seconds/(86400*7), "week")
	}
}

func pluralUnit(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
