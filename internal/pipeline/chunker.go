package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mstavros/corebot/internal/channels"
	"github.com/mstavros/corebot/internal/channels/chunk"
)

// maxVisibleLines caps how many newline-delimited lines a single chunk
// carries before it is split further, even if it would otherwise fit the
// adapter's character limit — a reply that's mostly line breaks reads as a
// wall of text long before it reads as a wall of characters.
const maxVisibleLines = 20

// numberingThreshold is the minimum chunk count before each chunk is
// prefixed with a "(i/N)" marker so a reader knows more are coming.
const numberingThreshold = 3

// Chunk splits formatted text into adapter-sized pieces. Line-dense text is
// first cut at maxVisibleLines boundaries (closing and reopening any code
// fence the cut lands inside), each piece is then split to the adapter's
// character limit by the fence-aware chunk.Markdown, and the whole set is
// numbered once there are three or more chunks.
func Chunk(text string, caps channels.Capabilities) []string {
	limit := caps.MaxMessageLength
	if limit <= 0 {
		limit = chunk.DefaultChunkLimit
	}
	var chunks []string
	for _, piece := range capVisibleLines(text) {
		chunks = append(chunks, chunk.Markdown(piece, limit)...)
	}
	return numberChunks(chunks)
}

var fenceLineRe = regexp.MustCompile("^[ \t]*(`{3,}|~{3,})")

// capVisibleLines splits text into pieces of at most maxVisibleLines lines
// each (plus a closing/reopening fence line where a cut lands inside a
// fenced block, so every piece stays fence-balanced on its own).
func capVisibleLines(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) <= maxVisibleLines {
		return []string{text}
	}

	var pieces []string
	var cur []string
	openFence := "" // the open line of the fence a cut would land inside
	closeMarker := ""

	flush := func() {
		if len(cur) == 0 {
			return
		}
		piece := strings.Join(cur, "\n")
		if openFence != "" {
			piece += "\n" + closeMarker
		}
		pieces = append(pieces, piece)
		cur = nil
		if openFence != "" {
			cur = append(cur, openFence)
		}
	}

	for _, line := range lines {
		cur = append(cur, line)
		if m := fenceLineRe.FindStringSubmatch(line); m != nil {
			if openFence == "" {
				openFence = line
				closeMarker = m[1]
			} else {
				openFence = ""
				closeMarker = ""
			}
		}
		if len(cur) >= maxVisibleLines {
			flush()
		}
	}
	flush()
	return pieces
}

// numberChunks prefixes each chunk with "(i/N) " once the set has reached
// numberingThreshold or more pieces.
func numberChunks(chunks []string) []string {
	n := len(chunks)
	if n < numberingThreshold {
		return chunks
	}
	out := make([]string, n)
	for i, c := range chunks {
		out[i] = fmt.Sprintf("(%d/%d) %s", i+1, n, c)
	}
	return out
}
