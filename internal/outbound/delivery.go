// Package outbound formats delivery records for run-history snippets: the
// short, human-readable line a JobExecution keeps about where a scheduled
// run's output went.
package outbound

import "fmt"

// DeliveryResult describes one completed delivery through a channel adapter.
type DeliveryResult struct {
	ChannelID string
	Chunks    int
	Mirrored  bool // a copy also went to the SMS-like egress
}

// FormatDeliverySummary renders a delivery line like
// "Sent via discord to chan-1 (3 chunks)".
func FormatDeliverySummary(adapter string, result *DeliveryResult) string {
	if result == nil {
		return fmt.Sprintf("Sent via %s", adapter)
	}

	base := fmt.Sprintf("Sent via %s", adapter)
	if result.ChannelID != "" {
		base += " to " + result.ChannelID
	}
	if result.Chunks > 1 {
		base += fmt.Sprintf(" (%d chunks)", result.Chunks)
	}
	if result.Mirrored {
		base += ", mirrored to whatsapp"
	}
	return base
}

// Snippet joins a delivery summary with the run's raw output, truncated to
// limit so execution rows stay small.
func Snippet(summary, raw string, limit int) string {
	s := summary
	if raw != "" {
		s += " -- " + raw
	}
	if limit > 0 && len(s) > limit {
		return s[:limit] + "...[truncated]"
	}
	return s
}
