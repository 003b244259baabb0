package pipeline

import "regexp"

// Sanitiser rules run in order and are each idempotent; running the full
// chain twice must equal running it once.
var (
	ansiEscapeRe     = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)
	boxHeaderRe      = regexp.MustCompile(`(?m)^[\x{2500}-\x{257F}]+\n`)
	toolMarkerRe     = regexp.MustCompile(`(?m)^\s*(?:⏺|●|▶)\s*[A-Za-z][\w .]*\(.*\)\s*$\n?`)
	bulletGlyphRe    = regexp.MustCompile(`(?m)^\s*[•◦▪]\s+`)
	tokenAccountRe   = regexp.MustCompile(`(?mi)^.*\b(?:tokens?|cost)\s*:\s*[\d.,]+.*$\n?`)
	permissionLineRe = regexp.MustCompile(`(?mi)^.*\b(?:do you want to proceed|allow this (?:tool|action)|y/n\)?)\b.*$\n?`)
	blankRunRe       = regexp.MustCompile(`\n{3,}`)
)

// Sanitise strips terminal/agent artifacts from raw agent output. It is
// deterministic and order-sensitive: each rule only ever removes text the
// prior rules leave behind, so two passes converge to the same result as one.
func Sanitise(raw string) string {
	s := raw
	s = ansiEscapeRe.ReplaceAllString(s, "")
	s = boxHeaderRe.ReplaceAllString(s, "")
	s = toolMarkerRe.ReplaceAllString(s, "")
	s = bulletGlyphRe.ReplaceAllString(s, "")
	s = tokenAccountRe.ReplaceAllString(s, "")
	s = permissionLineRe.ReplaceAllString(s, "")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return trimSpace(s)
}

// DebugWrap is the sanitiser-suppression path: the raw body is wrapped
// verbatim in a single fenced code block rather than cleaned up.
func DebugWrap(raw string) string {
	return "```\n" + raw + "\n```"
}

func trimSpace(s string) string {
	start := 0
	for start < len(s) && isSpaceByte(s[start]) {
		start++
	}
	end := len(s)
	for end > start && isSpaceByte(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpaceByte(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	default:
		return false
	}
}
