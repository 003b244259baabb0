package pipeline

import (
	"context"
	"time"

	"github.com/mstavros/corebot/internal/backoff"
	"github.com/mstavros/corebot/internal/channels"
	"github.com/mstavros/corebot/internal/observability"
	"github.com/mstavros/corebot/internal/ratelimit"
)

// egressRetryAttempts bounds how many times Render retries a single chunk
// send before giving up and surfacing a Failed result.
const egressRetryAttempts = 3

// Renderer posts chunked, formatted output to a channel adapter, throttled
// per-channel so a burst of chunks can't trip the platform's own rate limits,
// and retried with backoff so a transient egress hiccup doesn't fail the
// whole response.
type Renderer struct {
	registry *channels.Registry
	limiter  *ratelimit.Limiter
	metrics  *observability.Metrics
}

// NewRenderer builds a Renderer over the given adapter registry. The
// limiter's defaults come from ratelimit.DefaultConfig, tuned loosely
// enough that a single chunked reply never stalls. metrics may be nil.
func NewRenderer(registry *channels.Registry, metrics *observability.Metrics) *Renderer {
	return &Renderer{
		registry: registry,
		limiter:  ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		metrics:  metrics,
	}
}

// Render sends every chunk of a Formatted result to channelID on adapter
// typ, in order, attaching the embed (if any) only to the first chunk.
func (r *Renderer) Render(ctx context.Context, typ channels.Type, channelID string, formatted Formatted, chunks []string) error {
	if len(chunks) == 0 {
		chunks = []string{formatted.Text}
	}
	for i, c := range chunks {
		msg := channels.Message{ChannelID: channelID, Text: c}
		if i == 0 {
			msg.Embed = formatted.Embed
		}
		if err := r.sendThrottled(ctx, typ, channelID, msg); err != nil {
			return err
		}
	}
	if r.metrics != nil {
		r.metrics.RecordChunksEmitted(channelID, len(chunks))
	}
	return nil
}

func (r *Renderer) sendThrottled(ctx context.Context, typ channels.Type, channelID string, msg channels.Message) error {
	key := ratelimit.CompositeKey(string(typ), channelID)
	for !r.limiter.Allow(key) {
		wait := r.limiter.WaitTime(key)
		if wait <= 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	result, err := backoff.RetryWithBackoff(ctx, backoff.DefaultPolicy(), egressRetryAttempts, func(attempt int) (struct{}, error) {
		if attempt > 1 && r.metrics != nil {
			r.metrics.RecordEgressRetry(channelID)
		}
		return struct{}{}, r.registry.Send(ctx, typ, msg)
	})
	if err == nil {
		return nil
	}
	if err == backoff.ErrMaxAttemptsExhausted {
		return result.LastError
	}
	return err
}
