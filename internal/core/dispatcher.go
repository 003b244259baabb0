// Package core implements the dispatcher's dataflow wiring: it owns the
// Request type and the Dispatcher that drives every origin (user chat,
// scheduled job, reminder) through the channel serialiser, context
// assembler, agent invoker, and response pipeline in that order, plus the
// in-chat command surface operators use alongside cmd/corebot's CLI.
package core

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mstavros/corebot/internal/channels"
	"github.com/mstavros/corebot/internal/contextasm"
	"github.com/mstavros/corebot/internal/invoker"
	"github.com/mstavros/corebot/internal/memoryclient"
	"github.com/mstavros/corebot/internal/observability"
	"github.com/mstavros/corebot/internal/pipeline"
	"github.com/mstavros/corebot/internal/serializer"
	"github.com/mstavros/corebot/internal/skills"
	"github.com/mstavros/corebot/pkg/models"
)

// Origin names what triggered a Request.
type Origin string

const (
	OriginUser      Origin = "user"
	OriginScheduled Origin = "scheduled"
	OriginReminder  Origin = "reminder"
	OriginSystem    Origin = "system"
)

// Request is one unit of work moving through the dataflow. Cancel lets a
// caller abort an in-flight invocation (e.g. on process shutdown) without
// disturbing the channel lane held by other requests.
type Request struct {
	ID             string
	Origin         Origin
	ChannelID      string
	UserID         string
	TextOrSkillRef string
	ReceivedAt     time.Time
	Cancel         context.CancelFunc
}

// memoryTimeout bounds the best-effort Put calls issued after a delivered
// turn; these never block the response path.
const memoryTimeout = 5 * time.Second

// Deps bundles the collaborators a Dispatcher drives. Memory and StatusFunc
// / ReloadFunc are optional; everything else is required.
type Deps struct {
	Serialiser *serializer.Serialiser
	Assembler  *contextasm.Assembler
	Invoker    *invoker.Invoker
	Pipeline   *pipeline.Pipeline
	Skills     *skills.Registry
	Memory     *memoryclient.Client
	Logger     *observability.Logger
	Metrics    *observability.Metrics

	// ChannelType is the adapter this Dispatcher's channel IDs belong to.
	ChannelType channels.Type

	// IdentityRef is the system identity/tone text given to every envelope.
	IdentityRef string

	// RequestTimeout bounds one user request end to end (assembly plus
	// invocation plus delivery).
	RequestTimeout time.Duration

	// StatusFunc builds the text for "/status" and the `status` CLI
	// command. Left nil, status reports that no source is configured.
	StatusFunc func() string

	// ReloadFunc re-reads the schedule document and skill directory for
	// the in-chat "/reload-schedule" command.
	ReloadFunc func() error
}

// Dispatcher drives every Request origin through the fixed C3->C4->C1->C2
// dataflow and owns the process-lifetime channel message buffers.
type Dispatcher struct {
	serialiser *serializer.Serialiser
	assembler  *contextasm.Assembler
	invoker    *invoker.Invoker
	pipeline   *pipeline.Pipeline
	skills     *skills.Registry
	memory     *memoryclient.Client
	sessions   *SessionStore
	logger     *observability.Logger
	metrics    *observability.Metrics

	channelType    channels.Type
	identityRef    string
	requestTimeout time.Duration

	statusFn func() string
	reloadFn func() error
}

// New builds a Dispatcher from deps.
func New(deps Deps) *Dispatcher {
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Dispatcher{
		serialiser:     deps.Serialiser,
		assembler:      deps.Assembler,
		invoker:        deps.Invoker,
		pipeline:       deps.Pipeline,
		skills:         deps.Skills,
		memory:         deps.Memory,
		sessions:       NewSessionStore(),
		logger:         deps.Logger,
		metrics:        deps.Metrics,
		channelType:    deps.ChannelType,
		identityRef:    deps.IdentityRef,
		requestTimeout: timeout,
		statusFn:       deps.StatusFunc,
		reloadFn:       deps.ReloadFunc,
	}
}

// Handle processes one user-originated channel message: strips the --raw
// debug suffix, recognizes the in-chat command surface, and otherwise runs
// the ordinary conversational dataflow.
func (d *Dispatcher) Handle(ctx context.Context, channelID, userID, text string) pipeline.Result {
	body, debug := stripDebugSuffix(text)

	if cmd, arg, ok := parseCommand(body); ok {
		return d.handleCommand(ctx, channelID, cmd, arg)
	}

	return d.converse(ctx, channelID, userID, body, debug)
}

func (d *Dispatcher) converse(ctx context.Context, channelID, userID, text string, debug bool) pipeline.Result {
	reqCtx, cancel := context.WithTimeout(ctx, d.requestTimeout)
	defer cancel()

	reqID := uuid.New().String()
	session := d.sessions.Get(channelID)

	var skillCtx *contextasm.SkillContext
	if sk, ok := d.skills.Resolve(text); ok {
		skillCtx = d.buildSkillContext(reqCtx, sk)
	}

	var rawText string
	var noticePosted atomic.Bool
	var invokeOutcome invoker.Outcome
	enqueuedAt := time.Now()
	if d.metrics != nil {
		d.metrics.SetChannelQueueDepth(channelID, d.serialiser.QueueDepth(channelID))
	}
	result, err := serializer.Run(d.serialiser, reqCtx, channelID, func(taskCtx context.Context) (pipeline.Result, error) {
		if d.metrics != nil {
			d.metrics.RecordChannelLeaseWait(channelID, time.Since(enqueuedAt).Seconds())
		}
		envelope := d.assembler.Assemble(taskCtx, contextasm.Input{
			ChannelID:   channelID,
			Origin:      string(OriginUser),
			UserText:    text,
			Buffer:      session.Buffer(),
			Skill:       skillCtx,
			IdentityRef: d.identityRef,
			Timeout:     d.requestTimeout,
		})

		raw, rec, invokeErr := d.invoker.Invoke(taskCtx, invoker.Envelope{
			RequestID: reqID,
			ChannelID: channelID,
			Context:   []byte(envelope),
		}, d.interimNotifier(channelID, &noticePosted))
		if invokeErr != nil {
			if rec != nil {
				invokeOutcome = rec.Outcome
			}
			return pipeline.Result{}, invokeErr
		}
		rawText = raw

		return d.pipeline.Run(taskCtx, d.channelType, channelID, raw, text, debug), nil
	})
	if err != nil {
		d.logf(ctx, "core: request failed", "channel_id", channelID, "error", err, "outcome", string(invokeOutcome))
		if agentFailureOutcome(invokeOutcome) {
			msg := agentFailureMessage(noticePosted.Load())
			return d.pipeline.Run(ctx, d.channelType, channelID, msg, text, false)
		}
		return pipeline.Result{Failed: true, Kind: pipeline.KindSendError, Message: err.Error()}
	}

	userMsg := newMessage(channelID, models.RoleUser, text)
	userMsg.ID = reqID
	session.Append(userMsg)
	if rawText != "" {
		session.Append(newMessage(channelID, models.RoleAssistant, rawText))
	}

	if d.memory != nil && rawText != "" {
		go d.rememberTurn(channelID, text, rawText)
	}

	return result
}

// buildSkillContext loads sk's instructions and optional pre-fetched data
// into the assembler's SkillContext shape.
func (d *Dispatcher) buildSkillContext(ctx context.Context, sk *skills.Skill) *contextasm.SkillContext {
	p := d.skills.Provider(sk)
	sc := &contextasm.SkillContext{Name: p.Name(), Instructions: p.Instructions()}
	if data, _ := p.DataFetch(ctx); len(data) > 0 {
		sc.Data = string(data)
	}
	return sc
}

// interimNotifier posts a short notice whenever the agent begins an
// observable tool action, so a channel watching a long-running request sees
// it is still working. The send is synchronous with the stream read, which
// keeps every notice ahead of the final pipeline output for the same
// request. posted is set once at least one notice has been sent, so a later
// invocation failure can pick the right user-facing message
// (agentFailureMessage).
func (d *Dispatcher) interimNotifier(channelID string, posted *atomic.Bool) invoker.NotifyFunc {
	return func(toolName string) {
		posted.Store(true)
		notice := pipeline.FormatLongRunningAck(toolName)
		d.pipeline.Run(context.Background(), d.channelType, channelID, notice, "", false)
	}
}

// agentFailureOutcome reports whether outcome is an agent-side failure
// (timeout, abort, parse error) that gets a user-visible apology rather
// than the generic send-error result. Anything else, like an unreadable
// binary path, stays operator-only.
func agentFailureOutcome(outcome invoker.Outcome) bool {
	switch outcome {
	case invoker.OutcomeTimeout, invoker.OutcomeCanceled, invoker.OutcomeNonZeroExit,
		invoker.OutcomeParseError, invoker.OutcomeOversize:
		return true
	default:
		return false
	}
}

// agentFailureMessage picks the user-visible apology for a failed agent
// invocation: a softer "still working on it" follow-up if an interim notice
// already told the user something was in flight, otherwise a single
// terminal "couldn't complete that" message.
func agentFailureMessage(noticeAlreadyShown bool) string {
	if noticeAlreadyShown {
		return "still thinking — I'll follow up once it's done."
	}
	return "I couldn't complete that."
}

func (d *Dispatcher) rememberTurn(channelID, userText, assistantText string) {
	ctx, cancel := context.WithTimeout(context.Background(), memoryTimeout)
	defer cancel()
	if err := d.memory.Put(ctx, channelID, string(models.RoleUser), userText); err != nil {
		d.logf(ctx, "core: memory put failed", "channel_id", channelID, "role", "user", "error", err)
	}
	if err := d.memory.Put(ctx, channelID, string(models.RoleAssistant), assistantText); err != nil {
		d.logf(ctx, "core: memory put failed", "channel_id", channelID, "role", "assistant", "error", err)
	}
}

func (d *Dispatcher) logf(ctx context.Context, msg string, args ...any) {
	if d.logger == nil {
		return
	}
	d.logger.Warn(ctx, msg, args...)
}
