package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mstavros/corebot/internal/channels"
	"github.com/mstavros/corebot/internal/contextasm"
	"github.com/mstavros/corebot/internal/invoker"
	"github.com/mstavros/corebot/internal/observability"
	"github.com/mstavros/corebot/internal/outbound"
	"github.com/mstavros/corebot/internal/pipeline"
	"github.com/mstavros/corebot/internal/scheduler"
	"github.com/mstavros/corebot/internal/serializer"
	"github.com/mstavros/corebot/internal/skills"
)

// outputSnippetLimit bounds how much of a scheduled run's final text is
// kept in the execution record: the full text was already delivered to the
// channel, so the record only needs enough to diagnose a surprising run.
const outputSnippetLimit = 280

// SchedulerRunner drives one scheduled firing through the Skill Registry,
// Context Assembler, Agent Invoker, and Response Pipeline, satisfying
// scheduler.Runner. It takes the same per-channel serialiser lease an
// ordinary chat turn would, so a job never fires mid-conversation on a
// channel a user is actively talking in.
type SchedulerRunner struct {
	serialiser  *serializer.Serialiser
	assembler   *contextasm.Assembler
	invoker     *invoker.Invoker
	pipeline    *pipeline.Pipeline
	skills      *skills.Registry
	channelType channels.Type
	logger      *observability.Logger
	requestTimeout time.Duration
}

// NewSchedulerRunner builds a SchedulerRunner from its collaborators.
func NewSchedulerRunner(
	serialiser *serializer.Serialiser,
	assembler *contextasm.Assembler,
	inv *invoker.Invoker,
	pl *pipeline.Pipeline,
	skillRegistry *skills.Registry,
	channelType channels.Type,
	logger *observability.Logger,
	requestTimeout time.Duration,
) *SchedulerRunner {
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Minute
	}
	return &SchedulerRunner{
		serialiser:     serialiser,
		assembler:      assembler,
		invoker:        inv,
		pipeline:       pl,
		skills:         skillRegistry,
		channelType:    channelType,
		logger:         logger,
		requestTimeout: requestTimeout,
	}
}

// Run satisfies scheduler.Runner: it resolves job's skill, assembles a
// scheduled-origin envelope (no UserText, populated SkillContext), invokes
// the agent, and delivers the result to job's channel.
func (r *SchedulerRunner) Run(ctx context.Context, job *scheduler.ScheduledJob) (string, error) {
	sk, ok := r.skills.Get(job.SkillName)
	if !ok {
		return "", fmt.Errorf("core: scheduled job %q references unknown skill %q", job.Name, job.SkillName)
	}

	channelID := job.ChannelID()
	if channelID == "" {
		channelID = sk.DefaultChannel
	}
	if channelID == "" {
		return "", fmt.Errorf("core: scheduled job %q has no target channel", job.Name)
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	p := r.skills.Provider(sk)
	skillCtx := &contextasm.SkillContext{Name: p.Name(), Instructions: p.Instructions()}
	if data, _ := p.DataFetch(reqCtx); len(data) > 0 {
		skillCtx.Data = string(data)
	}

	type runOutcome struct {
		result   pipeline.Result
		raw      string
		mirrored bool
	}

	outcome, err := serializer.Run(r.serialiser, reqCtx, channelID, func(taskCtx context.Context) (runOutcome, error) {
		envelope := r.assembler.Assemble(taskCtx, contextasm.Input{
			ChannelID:   channelID,
			Origin:      string(OriginScheduled),
			Skill:       skillCtx,
			IdentityRef: "",
			Timeout:     r.requestTimeout,
		})

		raw, _, invokeErr := r.invoker.Invoke(taskCtx, invoker.Envelope{
			RequestID: uuid.New().String(),
			ChannelID: channelID,
			Context:   []byte(envelope),
		}, nil)
		if invokeErr != nil {
			return runOutcome{}, invokeErr
		}

		result := r.pipeline.Run(taskCtx, r.channelType, channelID, raw, "", false)

		mirrored := false
		if job.MirrorToSMS() && !result.Failed {
			// Best-effort mirror: the SMS-like egress may not be bound on
			// this deployment, and a mirror failure never fails the job.
			mirror := r.pipeline.Run(taskCtx, channels.TypeWhatsApp, channelID, raw, "", false)
			mirrored = mirror.Delivered
			if mirror.Failed {
				r.logf(taskCtx, "core: whatsapp mirror failed", "job", job.Name, "reason", mirror.Message)
			}
		}
		return runOutcome{result: result, raw: raw, mirrored: mirrored}, nil
	})
	if err != nil {
		r.logf(ctx, "core: scheduled job invocation failed", "job", job.Name, "error", err)
		return "", err
	}
	if outcome.result.Failed {
		r.logf(ctx, "core: scheduled job delivery failed", "job", job.Name, "reason", outcome.result.Message)
		return "", fmt.Errorf("core: scheduled job %q delivery failed: %s", job.Name, outcome.result.Message)
	}

	summary := outbound.FormatDeliverySummary(string(r.channelType), &outbound.DeliveryResult{
		ChannelID: channelID,
		Chunks:    outcome.result.Chunks,
		Mirrored:  outcome.mirrored,
	})
	return outbound.Snippet(summary, outcome.raw, outputSnippetLimit), nil
}

func (r *SchedulerRunner) logf(ctx context.Context, msg string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Warn(ctx, msg, args...)
}
