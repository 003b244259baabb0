package core

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mstavros/corebot/internal/contextasm"
	"github.com/mstavros/corebot/internal/invoker"
	"github.com/mstavros/corebot/internal/pipeline"
	"github.com/mstavros/corebot/internal/serializer"
)

// handleCommand dispatches one recognized in-chat command, delivering its
// result through the debug path (no sanitiser/classifier: this is
// operator-facing diagnostic text, not agent output).
func (d *Dispatcher) handleCommand(ctx context.Context, channelID string, cmd command, arg string) pipeline.Result {
	switch cmd {
	case commandStatus:
		return d.deliverDebug(ctx, channelID, d.statusText())
	case commandReloadSchedule:
		return d.deliverDebug(ctx, channelID, d.reloadText())
	case commandSkill:
		return d.fireSkill(ctx, channelID, arg)
	default:
		return pipeline.Result{Failed: true, Kind: pipeline.KindSendError, Message: "unrecognized command"}
	}
}

func (d *Dispatcher) statusText() string {
	if d.statusFn == nil {
		return "no status source configured"
	}
	return d.statusFn()
}

func (d *Dispatcher) reloadText() string {
	if d.reloadFn == nil {
		return "reload not supported on this deployment"
	}
	if err := d.reloadFn(); err != nil {
		return fmt.Sprintf("reload failed: %v", err)
	}
	return "schedule and skills reloaded"
}

// fireSkill manually invokes a named skill's instructions through the
// ordinary Context Assembler -> Agent Invoker -> Response Pipeline chain,
// with an empty UserText (the request came from a skill firing, not chat).
func (d *Dispatcher) fireSkill(ctx context.Context, channelID, name string) pipeline.Result {
	sk, ok := d.skills.Get(name)
	if !ok {
		return d.deliverDebug(ctx, channelID, fmt.Sprintf("no such skill: %q", name))
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.requestTimeout)
	defer cancel()

	session := d.sessions.Get(channelID)
	skillCtx := d.buildSkillContext(reqCtx, sk)

	var posted atomic.Bool
	result, err := serializer.Run(d.serialiser, reqCtx, channelID, func(taskCtx context.Context) (pipeline.Result, error) {
		envelope := d.assembler.Assemble(taskCtx, contextasm.Input{
			ChannelID:   channelID,
			Origin:      string(OriginUser),
			Buffer:      session.Buffer(),
			Skill:       skillCtx,
			IdentityRef: d.identityRef,
			Timeout:     d.requestTimeout,
		})
		raw, _, invokeErr := d.invoker.Invoke(taskCtx, invoker.Envelope{
			RequestID: uuid.New().String(),
			ChannelID: channelID,
			Context:   []byte(envelope),
		}, d.interimNotifier(channelID, &posted))
		if invokeErr != nil {
			return pipeline.Result{}, invokeErr
		}
		return d.pipeline.Run(taskCtx, d.channelType, channelID, raw, "", false), nil
	})
	if err != nil {
		d.logf(ctx, "core: manual skill fire failed", "channel_id", channelID, "skill", name, "error", err)
		return pipeline.Result{Failed: true, Kind: pipeline.KindSendError, Message: err.Error()}
	}
	return result
}

// deliverDebug sends text verbatim through the debug delivery path, used
// for command responses that are already final (no agent output to
// sanitise or classify).
func (d *Dispatcher) deliverDebug(ctx context.Context, channelID, text string) pipeline.Result {
	return d.pipeline.Run(ctx, d.channelType, channelID, text, "", true)
}
