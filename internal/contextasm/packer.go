package contextasm

import "github.com/mstavros/corebot/pkg/models"

// packOptions bounds how much of the channel's recent buffer is carried
// into the envelope: a message-count cap with a character backstop against
// any one outsized message dominating the buffer.
type packOptions struct {
	maxMessages        int
	maxToolResultChars int
}

func defaultPackOptions() packOptions {
	return packOptions{maxMessages: 10, maxToolResultChars: 2000}
}

// packBuffer selects the most recent messages from history, oldest first,
// up to maxMessages, truncating any oversized tool-result content.
func packBuffer(history []*models.Message, opts packOptions) []*models.Message {
	if opts.maxMessages <= 0 {
		opts.maxMessages = 10
	}
	if opts.maxToolResultChars <= 0 {
		opts.maxToolResultChars = 2000
	}

	start := 0
	if len(history) > opts.maxMessages {
		start = len(history) - opts.maxMessages
	}
	selected := history[start:]

	out := make([]*models.Message, len(selected))
	for i, m := range selected {
		out[i] = truncateToolResults(m, opts.maxToolResultChars)
	}
	return out
}

// truncateToolResults returns a copy of m with any over-budget tool result
// content shortened, leaving m untouched when nothing needs truncation.
func truncateToolResults(m *models.Message, maxChars int) *models.Message {
	if m == nil || len(m.ToolResults) == 0 {
		return m
	}
	needsTruncation := false
	for _, tr := range m.ToolResults {
		if len(tr.Content) > maxChars {
			needsTruncation = true
			break
		}
	}
	if !needsTruncation {
		return m
	}

	cp := *m
	cp.ToolResults = make([]models.ToolResult, len(m.ToolResults))
	for i, tr := range m.ToolResults {
		if len(tr.Content) > maxChars {
			tr.Content = tr.Content[:maxChars] + "\n...[truncated]"
		}
		cp.ToolResults[i] = tr
	}
	return &cp
}
