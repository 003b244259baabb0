package pipeline

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/mstavros/corebot/internal/markdown"
)

// Class is the formatter-selection tag assigned by the classifier.
type Class string

const (
	ClassSearchResults  Class = "search-results"
	ClassNewsResults    Class = "news-results"
	ClassImageResults   Class = "image-results"
	ClassLocalResults   Class = "local-results"
	ClassDataTable      Class = "data-table"
	ClassCode           Class = "code"
	ClassSchedule       Class = "schedule"
	ClassError          Class = "error"
	ClassList           Class = "list"
	ClassMixed          Class = "mixed"
	ClassConversational Class = "conversational"
	ClassLongRunningAck Class = "long-running-ack"
	ClassProactive      Class = "proactive"
)

var (
	codeFenceRe    = regexp.MustCompile("```")
	urlListRe      = regexp.MustCompile(`(?m)^\s*\d+\.\s+.*https?://\S+`)
	searchTermRe   = regexp.MustCompile(`(?i)\b(search results?|top results?|here('?s| is) what i found)\b`)
	newsTermRe     = regexp.MustCompile(`(?i)\b(breaking|headline|published|news article|reported)\b`)
	imageTermRe    = regexp.MustCompile(`(?i)\b(image results?|photo results?|!\[.*\]\(http)\b`)
	localTermRe    = regexp.MustCompile(`(?i)\b(nearby|open now|miles away|km away|directions)\b`)
	scheduleTermRe = regexp.MustCompile(`(?i)\b(scheduled for|next run|cron|reminder (?:set|at)|quiet hours)\b`)
	errorTermRe    = regexp.MustCompile(`(?i)\b(error|failed|couldn'?t complete|exception|traceback)\b`)
	listItemRe     = regexp.MustCompile(`(?m)^\s*(?:[-*]|\d+[.)])\s+\S`)
)

// Classify assigns exactly one Class to sanitised agent output. The cascade
// runs structural signals that are cheap and unambiguous to detect first,
// conversational prose last.
func Classify(text string) Class {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ClassConversational
	}

	jsonDominant := isJSONDominant(trimmed)
	hasTable := markdown.HasTables(trimmed)
	hasCode := strings.Count(trimmed, "```") >= 2
	hasURLList := urlListRe.MatchString(trimmed)
	listItems := countListItems(trimmed)

	switch {
	case hasURLList && imageTermRe.MatchString(trimmed):
		return ClassImageResults
	case hasURLList && newsTermRe.MatchString(trimmed):
		return ClassNewsResults
	case hasURLList && localTermRe.MatchString(trimmed):
		return ClassLocalResults
	case hasURLList && searchTermRe.MatchString(trimmed):
		return ClassSearchResults
	case hasURLList:
		// Unlabelled URL lists default to generic search-style rendering.
		return ClassSearchResults
	case jsonDominant && !hasTable && !hasCode:
		return ClassConversational
	case hasTable:
		return ClassDataTable
	case hasCode:
		return ClassCode
	case scheduleTermRe.MatchString(trimmed):
		return ClassSchedule
	case errorTermRe.MatchString(trimmed):
		return ClassError
	case listItems >= 4:
		return ClassList
	case countSignals(hasTable, hasCode, listItems >= 1) > 1:
		return ClassMixed
	default:
		return ClassConversational
	}
}

func isJSONDominant(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return false
	}
	var v any
	return json.Unmarshal([]byte(trimmed), &v) == nil
}

func countListItems(text string) int {
	return len(listItemRe.FindAllString(text, -1))
}

func countSignals(signals ...bool) int {
	n := 0
	for _, s := range signals {
		if s {
			n++
		}
	}
	return n
}
