// Package contextasm implements the Context Assembler (C4): builds the
// single opaque text envelope handed to the Agent Invoker, with stable
// section markers and a never-fail policy on every optional input.
package contextasm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mstavros/corebot/internal/memoryclient"
	"github.com/mstavros/corebot/internal/observability"
	"github.com/mstavros/corebot/pkg/models"
)

// Section markers are stable so the agent's own operating instructions can
// reliably locate each part of the envelope regardless of which sections
// end up populated.
const (
	markerIdentity  = "## 1. identity"
	markerBuffer    = "## 2. recent buffer"
	markerMemory    = "## 3. memory"
	markerKnowledge = "## 4. knowledge"
	markerSkill     = "## 5. skill"
	markerRequest   = "## 6. request"
)

// bestEffortTimeout bounds each optional source lookup (memory, knowledge)
// independently of the request's own deadline: a slow collaborator costs a
// section, never the envelope.
const bestEffortTimeout = 3 * time.Second

// KnowledgeSource is a best-effort collaborator providing a knowledge-base
// snippet relevant to the current request.
type KnowledgeSource interface {
	Snippet(ctx context.Context, channelID, text string) (string, error)
}

// SkillContext carries the active skill's instructions and any pre-fetched
// data, when the request is scheduled or skill-invoked.
type SkillContext struct {
	Name         string
	Instructions string
	Data         string // opaque JSON blob, or "" if no fetcher ran
}

// Input bundles everything the assembler needs for one Request.
type Input struct {
	ChannelID   string
	Origin      string
	UserText    string // empty when the request came from a skill/schedule firing
	Buffer      []*models.Message
	Skill       *SkillContext
	IdentityRef string // system identity/tone reference text
	Timeout     time.Duration
}

// Assembler builds envelopes, degrading gracefully when best-effort
// collaborators (memory, knowledge) are unavailable or slow.
type Assembler struct {
	memory    *memoryclient.Client
	knowledge KnowledgeSource
	capture   *CaptureStore
	logger    *observability.Logger
	opts      packOptions
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithMemoryClient attaches the best-effort memory-service client.
func WithMemoryClient(c *memoryclient.Client) Option {
	return func(a *Assembler) { a.memory = c }
}

// WithKnowledgeSource attaches the best-effort knowledge-base source.
func WithKnowledgeSource(k KnowledgeSource) Option {
	return func(a *Assembler) { a.knowledge = k }
}

// WithCapture attaches the optional parser-capture store. Nil (the default)
// disables capture entirely, at no cost to Assemble.
func WithCapture(c *CaptureStore) Option {
	return func(a *Assembler) { a.capture = c }
}

// New builds an Assembler. logger must not be nil.
func New(logger *observability.Logger, opts ...Option) *Assembler {
	a := &Assembler{logger: logger, opts: defaultPackOptions()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds the envelope text for in. It never returns an error:
// any optional source that fails or times out is replaced by an empty
// section, with a structured log entry recording the degradation.
func (a *Assembler) Assemble(ctx context.Context, in Input) string {
	var b strings.Builder

	b.WriteString(markerIdentity)
	b.WriteString("\n")
	if in.IdentityRef != "" {
		b.WriteString(in.IdentityRef)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(markerBuffer)
	b.WriteString("\n")
	writeBuffer(&b, packBuffer(in.Buffer, a.opts))

	b.WriteString("\n")
	b.WriteString(markerMemory)
	b.WriteString("\n")
	b.WriteString(a.memorySection(ctx, in))

	b.WriteString("\n")
	b.WriteString(markerKnowledge)
	b.WriteString("\n")
	b.WriteString(a.knowledgeSection(ctx, in))

	b.WriteString("\n")
	b.WriteString(markerSkill)
	b.WriteString("\n")
	if in.Skill != nil {
		writeSkill(&b, in.Skill)
	}

	b.WriteString("\n")
	b.WriteString(markerRequest)
	b.WriteString("\n")
	b.WriteString(in.UserText)
	b.WriteString("\n")

	envelope := b.String()
	if a.capture != nil {
		go func() {
			captureCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := a.capture.Record(captureCtx, in.ChannelID, in.Origin, envelope); err != nil {
				a.logger.Warn(context.Background(), "context assembler: envelope capture failed",
					"channel_id", in.ChannelID, "error", err)
			}
		}()
	}
	return envelope
}

func (a *Assembler) memorySection(ctx context.Context, in Input) string {
	if a.memory == nil {
		return ""
	}
	queryText := in.UserText
	if queryText == "" && in.Skill != nil {
		queryText = in.Skill.Name
	}
	if queryText == "" {
		return ""
	}

	qctx, cancel := context.WithTimeout(ctx, sourceTimeout(in.Timeout))
	defer cancel()

	snippets, err := a.memory.Query(qctx, in.ChannelID, queryText, 5)
	if err != nil {
		a.logger.Warn(ctx, "context assembler: memory query failed, omitting section",
			"channel_id", in.ChannelID, "error", err)
		return ""
	}
	var lines []string
	for _, s := range snippets {
		lines = append(lines, "- "+s.Text)
	}
	return strings.Join(lines, "\n")
}

func (a *Assembler) knowledgeSection(ctx context.Context, in Input) string {
	if a.knowledge == nil {
		return ""
	}
	queryText := in.UserText
	if queryText == "" {
		return ""
	}

	kctx, cancel := context.WithTimeout(ctx, sourceTimeout(in.Timeout))
	defer cancel()

	snippet, err := a.knowledge.Snippet(kctx, in.ChannelID, queryText)
	if err != nil {
		a.logger.Warn(ctx, "context assembler: knowledge lookup failed, omitting section",
			"channel_id", in.ChannelID, "error", err)
		return ""
	}
	return snippet
}

// sourceTimeout caps an optional source lookup at bestEffortTimeout, or at
// the request's own (shorter) deadline when one is set below it.
func sourceTimeout(requestTimeout time.Duration) time.Duration {
	if requestTimeout > 0 && requestTimeout < bestEffortTimeout {
		return requestTimeout
	}
	return bestEffortTimeout
}

func writeBuffer(b *strings.Builder, buffer []*models.Message) {
	for _, m := range buffer {
		if m == nil {
			continue
		}
		fmt.Fprintf(b, "[%s] %s\n", m.Role, m.Content)
		for _, tr := range m.ToolResults {
			fmt.Fprintf(b, "  (tool result) %s\n", tr.Content)
		}
	}
}

func writeSkill(b *strings.Builder, skill *SkillContext) {
	fmt.Fprintf(b, "name: %s\n", skill.Name)
	if skill.Instructions != "" {
		b.WriteString(skill.Instructions)
		b.WriteString("\n")
	}
	if skill.Data != "" {
		b.WriteString("data: ")
		b.WriteString(skill.Data)
		b.WriteString("\n")
	}
}
