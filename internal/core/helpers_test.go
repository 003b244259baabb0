package core

import (
	"context"
	"sync"
	"time"

	"github.com/mstavros/corebot/internal/channels"
	"github.com/mstavros/corebot/internal/config"
)

// recordingAdapter is a minimal channels.Adapter that records every message
// it is asked to send, standing in for a real chat-platform connector.
type recordingAdapter struct {
	typ  channels.Type
	caps channels.Capabilities

	mu   sync.Mutex
	sent []channels.Message
}

func newRecordingAdapter(typ channels.Type) *recordingAdapter {
	return &recordingAdapter{
		typ:  typ,
		caps: channels.Capabilities{MaxMessageLength: 2000, MaxEmbedFields: 25, MaxEmbedDescLen: 4096, MaxEmbedsPerMsg: 10},
	}
}

func (a *recordingAdapter) Type() channels.Type                { return a.typ }
func (a *recordingAdapter) Capabilities() channels.Capabilities { return a.caps }
func (a *recordingAdapter) Send(_ context.Context, msg channels.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, msg)
	return nil
}

func (a *recordingAdapter) messages() []channels.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]channels.Message, len(a.sent))
	copy(out, a.sent)
	return out
}

// shAgent builds an AgentConfig that runs script through /bin/sh, standing
// in for the real agent subprocess the way internal/invoker's own tests do.
func shAgent(script string) config.AgentConfig {
	return config.AgentConfig{
		Binary:              "/bin/sh",
		Args:                []string{"-c", script},
		Timeout:             5 * time.Second,
		GraceShutdown:       200 * time.Millisecond,
		MaxOutputBytes:      1024 * 1024,
		InterimNoticeWindow: 3 * time.Second,
	}
}
