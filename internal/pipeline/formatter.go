package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mstavros/corebot/internal/channels"
	"github.com/mstavros/corebot/internal/format"
	"github.com/mstavros/corebot/internal/markdown"
)

// TableMode selects how a data-table Class is rendered for a given adapter.
type TableMode string

const (
	// TableModeEmbed renders the table as a structured Embed with one field
	// per row, used when the adapter's Capabilities advertise embed support.
	TableModeEmbed TableMode = "embed"
	// TableModeFixedWidth renders the table as a monospace code block.
	TableModeFixedWidth TableMode = "fixed-width"
	// TableModeProse renders the table as a bulleted "key: value" list.
	TableModeProse TableMode = "prose"
)

// Formatted is the Formatter stage's output: body text plus an optional
// structured embed the Renderer may attach verbatim.
type Formatted struct {
	Text  string
	Embed *channels.Embed
}

// Format shapes sanitised, classified text for a specific adapter's
// capabilities, applying the class-specific rendering contracts.
// userText is the originating user turn's text (empty for non-chat origins
// like a scheduled job or reminder); it is only consulted by the Code
// class, to check for an explicit "show me"/"raw"/"paste" cue.
func Format(text string, class Class, caps channels.Capabilities, userText string) Formatted {
	switch class {
	case ClassDataTable:
		return formatTable(text, caps)
	case ClassConversational:
		return Formatted{Text: formatConversational(text)}
	case ClassCode:
		return Formatted{Text: formatCode(text, userText)}
	case ClassSearchResults, ClassNewsResults, ClassLocalResults, ClassImageResults:
		return formatResultList(text, class, caps)
	case ClassError:
		return Formatted{Text: formatError(text)}
	case ClassSchedule:
		return Formatted{Text: formatSchedule(text)}
	default:
		return Formatted{Text: text}
	}
}

var rfc3339Re = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:Z|[+-]\d{2}:\d{2})`)

// formatSchedule appends a relative-time phrase after any RFC3339 timestamp
// the agent emitted, leaving the platform's own native timestamp rendering
// (handled downstream by the Renderer) untouched otherwise.
func formatSchedule(text string) string {
	now := time.Now()
	return rfc3339Re.ReplaceAllStringFunc(text, func(ts string) string {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return ts
		}
		return fmt.Sprintf("%s (%s)", ts, format.FormatRelative(parsed, now))
	})
}

var headingRe = regexp.MustCompile(`(?m)^#{1,2}\s+`)

// formatConversational strips residual markdown headers left over from an
// agent response that was written assuming a document-like surface, and
// drops any pure-JSON block in favour of a one-line semantic summary — a
// conversational reply reads as a document dump, not a conversation, when
// the agent echoes a raw API payload inline.
func formatConversational(text string) string {
	text = headingRe.ReplaceAllString(text, "")
	return dropJSONBlocks(text)
}

// dropJSONBlocks replaces every paragraph (fenced or bare) that is, in its
// entirety, valid JSON with a short semantic summary of its shape.
func dropJSONBlocks(text string) string {
	paragraphs := strings.Split(text, "\n\n")
	for i, p := range paragraphs {
		body := stripFence(p)
		if summary, ok := jsonSummary(body); ok {
			paragraphs[i] = summary
		}
	}
	return strings.Join(paragraphs, "\n\n")
}

// stripFence removes a paragraph's surrounding fenced-code markers, if any,
// so the fenced and bare pure-JSON cases share one detection path.
func stripFence(p string) string {
	trimmed := strings.TrimSpace(p)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 || !strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		return trimmed
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}

// jsonSummary reports whether body is, on its own, a complete JSON value —
// nothing else in the paragraph — and if so returns a one-line summary of
// its shape in place of the raw structure.
func jsonSummary(body string) (string, bool) {
	body = strings.TrimSpace(body)
	if body == "" || (body[0] != '{' && body[0] != '[') {
		return "", false
	}
	if !json.Valid([]byte(body)) {
		return "", false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err == nil {
		return fmt.Sprintf("_(structured data omitted — %d field%s)_", len(obj), plural(len(obj))), true
	}
	var arr []any
	if err := json.Unmarshal([]byte(body), &arr); err == nil {
		return fmt.Sprintf("_(structured data omitted — %d item%s)_", len(arr), plural(len(arr))), true
	}
	return "_(structured data omitted)_", true
}

var fencedBlockRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\\n.*?```")

const maxErrorExcerptLen = 800

// formatError reduces an error response to a one-line summary followed by an
// optional fenced diagnostic excerpt capped at maxErrorExcerptLen.
func formatError(text string) string {
	lines := strings.SplitN(strings.TrimSpace(text), "\n", 2)
	summary := lines[0]
	if len(lines) == 1 {
		return summary
	}
	excerpt := strings.TrimSpace(lines[1])
	if len(excerpt) > maxErrorExcerptLen {
		excerpt = excerpt[:maxErrorExcerptLen]
	}
	if excerpt == "" {
		return summary
	}
	return summary + "\n```\n" + excerpt + "\n```"
}

// codeCueRe matches the explicit request that earns a fenced block the
// right to be shown: asking to see it, asking for it raw, or asking it
// pasted in full.
var codeCueRe = regexp.MustCompile(`(?i)\b(show me|raw|paste)\b`)

// maxShownCodeLines caps a shown code block's body, independent of the
// adapter's own character limit — a cue to show code doesn't waive the
// channel's appetite for a wall of text.
const maxShownCodeLines = 30

// formatCode suppresses fenced code by default, replacing each block with a
// one-line prose summary naming its length. If userText carries an explicit
// "show me"/"raw"/"paste" cue, the block is shown instead, capped at
// maxShownCodeLines with a truncation note.
func formatCode(text, userText string) string {
	cued := codeCueRe.MatchString(userText)
	return fencedBlockRe.ReplaceAllStringFunc(text, func(block string) string {
		lines := strings.Split(block, "\n")
		body := lines
		fence := "```"
		if len(lines) > 2 {
			fence = lines[0]
			body = lines[1 : len(lines)-1]
		}
		n := len(body)
		if !cued {
			return fmt.Sprintf("_(code omitted — %d line%s; ask to see it to view)_", n, plural(n))
		}
		if n <= maxShownCodeLines {
			return block
		}
		shown := fence + "\n" + strings.Join(body[:maxShownCodeLines], "\n") + "\n```"
		return shown + fmt.Sprintf("\n_(truncated — %d of %d lines shown)_", maxShownCodeLines, n)
	})
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func formatTable(text string, caps channels.Capabilities) Formatted {
	tables := markdown.FindTables(text)
	if len(tables) == 0 {
		return Formatted{Text: text}
	}

	mode := chooseTableMode(tables[0], caps)
	switch mode {
	case TableModeEmbed:
		return Formatted{Text: text, Embed: tableToEmbed(tables[0], caps)}
	case TableModeFixedWidth:
		return Formatted{Text: markdown.ConvertTables(text, markdown.TableModeCode)}
	default:
		return Formatted{Text: markdown.ConvertTables(text, markdown.TableModeBullets)}
	}
}

// chooseTableMode picks between the three renderings: a table small enough
// to fit an embed (≤ 4 columns, ≤ 6 rows) on an adapter that supports them
// gets the structured embed; a narrow 2-3 column comparison table reads
// better as a prose list; anything wider falls back to a fixed-width code
// block, which at least keeps columns aligned.
func chooseTableMode(t markdown.Table, caps channels.Capabilities) TableMode {
	cols, rows := len(t.Headers), len(t.Rows)

	if caps.MaxEmbedFields > 0 && cols <= 4 && rows <= 6 {
		return TableModeEmbed
	}
	if cols >= 2 && cols <= 3 {
		return TableModeProse
	}
	return TableModeFixedWidth
}

func tableToEmbed(t markdown.Table, caps channels.Capabilities) *channels.Embed {
	embed := &channels.Embed{Title: "Results"}
	for _, row := range t.Rows {
		name := "—"
		if len(row) > 0 && row[0] != "" {
			name = row[0]
		}
		var values []string
		for i := 1; i < len(row); i++ {
			if row[i] == "" {
				continue
			}
			header := ""
			if i < len(t.Headers) {
				header = t.Headers[i] + ": "
			}
			values = append(values, header+row[i])
		}
		value := strings.Join(values, "\n")
		if value == "" {
			value = "—"
		}
		if caps.MaxEmbedDescLen > 0 && len(value) > caps.MaxEmbedDescLen {
			value = value[:caps.MaxEmbedDescLen]
		}
		embed.Fields = append(embed.Fields, channels.EmbedField{Name: name, Value: value})
	}
	if caps.MaxEmbedFields > 0 && len(embed.Fields) > caps.MaxEmbedFields {
		embed.Fields = embed.Fields[:caps.MaxEmbedFields]
	}
	return embed
}

const maxResultItems = 10
const maxSnippetLen = 100

var resultItemRe = regexp.MustCompile(`(?m)^\s*\d+\.\s+(.*)$`)
var markdownLinkRe = regexp.MustCompile(`\[([^\]]*)\]\((https?://\S+)\)`)
var bareURLRe = regexp.MustCompile(`https?://\S+`)

// classSummary is the 1-2 sentence natural-language lead for each result-list
// class's embed, spoken once per response regardless of item count.
var classSummary = map[Class]string{
	ClassSearchResults: "Here's what I found:",
	ClassNewsResults:   "Here's the latest:",
	ClassLocalResults:  "Here's what's nearby:",
	ClassImageResults:  "Here are some images:",
}

// formatResultList renders the four URL-list classes (search/news/local/
// image) as one structured embed: a leading 1-2 sentence summary plus up to
// maxResultItems title+URL+snippet fields, snippets capped at maxSnippetLen
// and duplicate hostnames collapsed.
func formatResultList(text string, class Class, caps channels.Capabilities) Formatted {
	items := parseResultItems(text)
	if len(items) == 0 {
		return Formatted{Text: text}
	}

	embed := &channels.Embed{Title: classSummary[class]}
	seenHosts := make(map[string]bool)
	for _, it := range items {
		host := hostname(it.url)
		if host != "" && seenHosts[host] {
			continue
		}
		seenHosts[host] = true

		snippet := it.snippet
		if len(snippet) > maxSnippetLen {
			snippet = snippet[:maxSnippetLen]
		}
		value := it.url
		if snippet != "" {
			value = snippet + "\n" + it.url
		}
		embed.Fields = append(embed.Fields, channels.EmbedField{Name: it.title, Value: value})
		if len(embed.Fields) >= maxResultItems {
			break
		}
	}
	if caps.MaxEmbedFields > 0 && len(embed.Fields) > caps.MaxEmbedFields {
		embed.Fields = embed.Fields[:caps.MaxEmbedFields]
	}
	return Formatted{Text: embed.Title, Embed: embed}
}

type resultItem struct {
	title   string
	url     string
	snippet string
}

// parseResultItems extracts title/url/snippet triples from numbered-list
// lines of the form "1. [Title](url) - snippet" or "1. Title - url snippet".
func parseResultItems(text string) []resultItem {
	var items []resultItem
	for _, m := range resultItemRe.FindAllStringSubmatch(text, -1) {
		line := m[1]

		var title, url, rest string
		if lm := markdownLinkRe.FindStringSubmatchIndex(line); lm != nil {
			title = line[lm[2]:lm[3]]
			url = line[lm[4]:lm[5]]
			rest = strings.TrimSpace(line[:lm[0]] + line[lm[1]:])
		} else if loc := bareURLRe.FindStringIndex(line); loc != nil {
			url = line[loc[0]:loc[1]]
			title = strings.TrimSpace(line[:loc[0]])
			rest = strings.TrimSpace(line[loc[1]:])
		} else {
			continue
		}

		rest = strings.TrimLeft(rest, "-: \t")
		if title == "" {
			title = url
		}
		items = append(items, resultItem{title: title, url: url, snippet: rest})
	}
	return items
}

// hostname extracts the authority component of a URL for dedup purposes,
// without pulling in net/url for a single field.
func hostname(rawURL string) string {
	s := rawURL
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(s)
}

// FormatLongRunningAck renders the interim "still working" notice emitted
// when a tool call crosses the invoker's debounce window.
func FormatLongRunningAck(toolName string) string {
	if toolName == "" {
		return "Still working on that…"
	}
	return fmt.Sprintf("Still working on that — running `%s`…", toolName)
}
