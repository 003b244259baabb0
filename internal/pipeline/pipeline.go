// Package pipeline implements the Response Pipeline (C2): the fixed
// Sanitiser → Classifier → Formatter → Chunker → Renderer chain that turns
// one agent invocation's raw stdout into delivered channel messages.
package pipeline

import (
	"context"
	"fmt"

	"github.com/mstavros/corebot/internal/channels"
	"github.com/mstavros/corebot/internal/observability"
	"github.com/mstavros/corebot/internal/reply"
)

// Kind distinguishes why a pipeline run did not result in a normal delivery.
type Kind string

const (
	KindSilentToken Kind = "silent-token"
	KindEmptyBody   Kind = "empty-body"
	KindSendError   Kind = "send-error"
)

// Result is the pipeline's sum-type outcome: exactly one of Delivered,
// Suppressed, or Failed is populated, mirroring the three ways a response
// can end without the caller needing to inspect an error for control flow.
type Result struct {
	Delivered  bool
	Suppressed bool
	Failed     bool

	Kind    Kind   // set when Suppressed or Failed
	Message string // human-readable detail for Suppressed/Failed
	Chunks  int    // number of messages actually sent, when Delivered
}

func delivered(chunks int) Result { return Result{Delivered: true, Chunks: chunks} }
func suppressed(kind Kind, msg string) Result {
	return Result{Suppressed: true, Kind: kind, Message: msg}
}
func failed(kind Kind, msg string) Result {
	return Result{Failed: true, Kind: kind, Message: msg}
}

// Pipeline wires the five stages together behind one entry point.
type Pipeline struct {
	renderer *Renderer
}

// New builds a Pipeline that renders through registry. metrics may be nil.
func New(registry *channels.Registry, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{renderer: NewRenderer(registry, metrics)}
}

// Run executes the full chain for one raw agent response and delivers it to
// channelID on the named adapter. userText is the originating user turn's
// text, threaded through to the Formatter's Code class for cue detection
// (pass "" for non-chat origins: a scheduled job, a reminder, a manual
// skill fire). debug bypasses sanitisation/classification in favour of
// DebugWrap, matching the --raw suffix's behaviour.
func (p *Pipeline) Run(ctx context.Context, typ channels.Type, channelID string, raw string, userText string, debug bool) Result {
	if debug {
		return p.deliverRaw(ctx, typ, channelID, raw)
	}

	if reply.HasHeartbeatToken(raw) {
		return suppressed(KindSilentToken, "heartbeat token")
	}
	if reply.IsSilentReplyText(raw) {
		return suppressed(KindSilentToken, "silent reply token")
	}
	body := reply.StripSilentToken(raw)

	sanitised := Sanitise(body)
	if sanitised == "" {
		return suppressed(KindEmptyBody, "nothing left after sanitisation")
	}

	class := Classify(sanitised)

	adapter, ok := p.lookupAdapter(typ)
	if !ok {
		return failed(KindSendError, fmt.Sprintf("no adapter registered for %q", typ))
	}
	caps := adapter.Capabilities()

	formatted := Format(sanitised, class, caps, userText)
	chunks := Chunk(formatted.Text, caps)

	if err := p.renderer.Render(ctx, typ, channelID, formatted, chunks); err != nil {
		return failed(KindSendError, err.Error())
	}
	n := len(chunks)
	if n == 0 {
		n = 1
	}
	return delivered(n)
}

func (p *Pipeline) deliverRaw(ctx context.Context, typ channels.Type, channelID string, raw string) Result {
	adapter, ok := p.lookupAdapter(typ)
	if !ok {
		return failed(KindSendError, fmt.Sprintf("no adapter registered for %q", typ))
	}
	wrapped := DebugWrap(raw)
	chunks := Chunk(wrapped, adapter.Capabilities())
	if err := p.renderer.Render(ctx, typ, channelID, Formatted{Text: wrapped}, chunks); err != nil {
		return failed(KindSendError, err.Error())
	}
	n := len(chunks)
	if n == 0 {
		n = 1
	}
	return delivered(n)
}

func (p *Pipeline) lookupAdapter(typ channels.Type) (channels.Adapter, bool) {
	return p.renderer.registry.Get(typ)
}
