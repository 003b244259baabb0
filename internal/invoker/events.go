package invoker

import (
	"encoding/json"
	"strings"
)

// streamEvent is one line of the agent's NDJSON stdout stream. Only the
// discriminator is required to parse; the rest is decoded lazily depending
// on its value.
type streamEvent struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	Result  string          `json:"result,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}

// assistantMessage is the "message" payload of a type=assistant event.
type assistantMessage struct {
	Content []contentBlock `json:"content"`
}

// contentBlock is one block of an assistant message's content array.
// tool_use blocks drive interim notices; text blocks are accumulated as a
// fallback final answer for a stream that closes without a terminal
// "result" event.
type contentBlock struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	Text string `json:"text,omitempty"`
}

// contentBlocks decodes an assistant event's content array. Agents differ on
// nesting: some wrap the array in a "message" object, some carry it at the
// top level. Both are accepted.
func (e streamEvent) contentBlocks() []contentBlock {
	if e.Type != "assistant" {
		return nil
	}
	if len(e.Message) > 0 {
		var msg assistantMessage
		if err := json.Unmarshal(e.Message, &msg); err == nil {
			return msg.Content
		}
		return nil
	}
	if len(e.Content) > 0 {
		var blocks []contentBlock
		if err := json.Unmarshal(e.Content, &blocks); err == nil {
			return blocks
		}
	}
	return nil
}

// toolNames returns the distinct tool_use block names in an assistant event,
// in the order they appear.
func (e streamEvent) toolNames() []string {
	var names []string
	for _, block := range e.contentBlocks() {
		if block.Type == "tool_use" && block.Name != "" {
			names = append(names, block.Name)
		}
	}
	return names
}

// assistantText returns the concatenated text blocks of an assistant event,
// in order, or "" if it carries none.
func (e streamEvent) assistantText() string {
	var b strings.Builder
	for _, block := range e.contentBlocks() {
		if block.Type == "text" && block.Text != "" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

func (e streamEvent) isInit() bool {
	return e.Type == "system" && e.Subtype == "init"
}

func (e streamEvent) isResult() bool {
	return e.Type == "result"
}
