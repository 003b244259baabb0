// Package scheduler implements the Scheduler (C5): drives time-initiated
// Requests from a declarative schedule document, enforcing quiet hours and
// per-job overlap policy, with durable run-history retention.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mstavros/corebot/internal/observability"
)

// Runner fires one scheduled job's Request. The scheduler never inspects
// the skill payload itself — it only knows how to ask the runner to fire
// it. The returned string is a short diagnostic excerpt of what the run
// produced (e.g. the agent's final response), recorded alongside the
// execution's terminal status; a runner with nothing worth recording
// returns "".
type Runner interface {
	Run(ctx context.Context, job *ScheduledJob) (string, error)
}

// RunnerFunc adapts a function to a Runner.
type RunnerFunc func(ctx context.Context, job *ScheduledJob) (string, error)

// Run invokes the function.
func (f RunnerFunc) Run(ctx context.Context, job *ScheduledJob) (string, error) { return f(ctx, job) }

// boundJob is the scheduler's live binding for one ScheduledJob: its next
// fire time and overlap-tracking state. pending marks a single queued
// re-fire under the "queue" overlap policy.
type boundJob struct {
	job     *ScheduledJob
	nextRun time.Time
	running bool
	pending bool
}

// Scheduler ticks a rolling clock against bound jobs, firing each due job
// through its Runner while enforcing quiet hours and overlap policy.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*boundJob // keyed by ScheduledJob.Hash()

	runner  Runner
	store   ExecutionStore
	logger  *observability.Logger
	metrics *observability.Metrics

	now          func() time.Time
	tickInterval time.Duration
	defaultLoc   *time.Location

	quietStart, quietEnd clockTime
	quietEnabled         bool

	queueOne bool

	retention time.Duration
	lastPrune time.Time

	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// pruneInterval is how often the tick loop sweeps expired execution rows;
// retention is measured in days, so an hourly sweep is plenty.
const pruneInterval = time.Hour

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

// WithRunner installs the Runner used to fire due jobs.
func WithRunner(r Runner) Option { return func(s *Scheduler) { s.runner = r } }

// WithExecutionStore installs the run-history store.
func WithExecutionStore(store ExecutionStore) Option {
	return func(s *Scheduler) { s.store = store }
}

// WithLogger installs the structured logger.
func WithLogger(logger *observability.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithMetrics installs the job-run metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithNow overrides the clock, for deterministic tests.
func WithNow(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithTickInterval overrides the polling cadence.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithDefaultTimezone sets the location used for schedule_specs and quiet
// hours when no explicit timezone suffix is given.
func WithDefaultTimezone(loc *time.Location) Option {
	return func(s *Scheduler) { s.defaultLoc = loc }
}

// WithQuietHours sets the process-wide quiet-hours window (local to
// defaultLoc), default 23:00-06:00.
func WithQuietHours(startHour, startMin, endHour, endMin int) Option {
	return func(s *Scheduler) {
		s.quietStart = clockTime{hour: startHour, minute: startMin}
		s.quietEnd = clockTime{hour: endHour, minute: endMin}
		s.quietEnabled = true
	}
}

// WithRetention sets how long JobExecution rows are kept before Prune
// removes them.
func WithRetention(d time.Duration) Option { return func(s *Scheduler) { s.retention = d } }

// WithOverlapPolicy selects what a firing does when the prior instance of
// the same job is still running: "skip" (default) drops it, "queue" keeps
// at most one pending re-fire that runs as soon as the instance finishes.
func WithOverlapPolicy(policy string) Option {
	return func(s *Scheduler) { s.queueOne = policy == "queue" }
}

// New builds a Scheduler with no jobs bound; call Reload to populate it.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:         make(map[string]*boundJob),
		now:          time.Now,
		tickInterval: 30 * time.Second,
		defaultLoc:   time.UTC,
		quietStart:   clockTime{hour: 23, minute: 0},
		quietEnd:     clockTime{hour: 6, minute: 0},
		quietEnabled: true,
		retention:    30 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reload parses doc and atomically diffs it against current bindings:
// unchanged rows (same hash) keep their existing nextRun; new rows are
// bound fresh; removed rows are dropped. In-flight executions continue
// under their original binding regardless of Reload.
func (s *Scheduler) Reload(doc string) error {
	parsed, warnings, err := ParseDocument(doc, s.defaultLoc)
	if err != nil {
		return fmt.Errorf("scheduler: reload: %w", err)
	}
	for _, w := range warnings {
		if s.logger != nil {
			s.logger.Warn(context.Background(), "scheduler: schedule document warning", "warning", w)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	next := make(map[string]*boundJob, len(parsed))
	for _, job := range parsed {
		if existing, ok := s.jobs[job.Hash()]; ok {
			next[job.Hash()] = existing
			continue
		}
		next[job.Hash()] = &boundJob{job: job, nextRun: job.spec.Next(now)}
	}
	s.jobs = next
	return nil
}

// Start begins the polling loop; it returns immediately, ticking in the
// background until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.tick(runCtx)
			}
		}
	}()
}

// Stop cancels the polling loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Tick runs one polling pass synchronously; exported for tests that want an
// immediate fire check.
func (s *Scheduler) Tick(ctx context.Context) { s.tick(ctx) }

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	due := make([]*boundJob, 0)
	for _, bj := range s.jobs {
		if !bj.job.Enabled {
			continue
		}
		if bj.nextRun.IsZero() || now.Before(bj.nextRun) {
			continue
		}
		due = append(due, bj)
	}
	s.mu.Unlock()

	for _, bj := range due {
		s.fire(ctx, bj, now)
	}

	s.pruneExpired(ctx, now)
}

// pruneExpired sweeps execution rows past the retention window, at most
// once per pruneInterval.
func (s *Scheduler) pruneExpired(ctx context.Context, now time.Time) {
	if s.store == nil || s.retention <= 0 {
		return
	}
	s.mu.Lock()
	due := s.lastPrune.IsZero() || now.Sub(s.lastPrune) >= pruneInterval
	if due {
		s.lastPrune = now
	}
	s.mu.Unlock()
	if !due {
		return
	}
	if n, err := s.store.Prune(ctx, s.retention); err != nil {
		s.logf(ctx, "scheduler: prune failed", "error", err)
	} else if n > 0 {
		s.logf(ctx, "scheduler: pruned expired executions", "rows", n)
	}
}

func (s *Scheduler) fire(ctx context.Context, bj *boundJob, now time.Time) {
	s.mu.Lock()
	bj.nextRun = bj.job.spec.Next(now)

	if bj.running {
		// Overlap: "skip" drops the firing, "queue" keeps a single pending
		// re-fire. The schedule document carries no column to choose per
		// job, so the process-wide policy applies to every job.
		if s.queueOne && !bj.pending {
			bj.pending = true
			s.mu.Unlock()
			s.logf(ctx, "scheduler: overlap, queued one re-fire", "job", bj.job.Name)
			return
		}
		s.mu.Unlock()
		s.logf(ctx, "scheduler: overlap, dropping firing", "job", bj.job.Name)
		if s.metrics != nil {
			s.metrics.RecordJobRun(bj.job.Name, "skipped_overlap", 0)
		}
		return
	}
	bj.running = true
	s.mu.Unlock()

	if s.quietEnabled && !bj.job.ignoreQuiet && s.inQuietHours(now) {
		s.logf(ctx, "scheduler: suppressed by quiet hours", "job", bj.job.Name)
		if s.metrics != nil {
			s.metrics.RecordJobRun(bj.job.Name, "skipped_quiet_hours", 0)
		}
		s.recordSuppressed(ctx, bj, now)
		s.mu.Lock()
		bj.running = false
		s.mu.Unlock()
		return
	}

	go s.run(ctx, bj)
}

func (s *Scheduler) run(ctx context.Context, bj *boundJob) {
	defer func() {
		s.mu.Lock()
		refire := bj.pending
		bj.pending = false
		if !refire {
			bj.running = false
		}
		s.mu.Unlock()
		// running stays true across the re-fire, so a third firing in the
		// meantime still sees the job as busy.
		if refire {
			go s.run(ctx, bj)
		}
	}()

	execID := uuid.New().String()
	startedAt := s.now()
	if s.store != nil {
		_ = s.store.Create(ctx, &JobExecution{ID: execID, JobName: bj.job.Name, StartedAt: startedAt})
	}

	var (
		runErr  error
		snippet string
	)
	if s.runner != nil {
		snippet, runErr = s.runner.Run(ctx, bj.job)
	}

	completedAt := s.now()
	status := ExecutionSucceeded
	errMsg := ""
	if runErr != nil {
		status = ExecutionFailed
		errMsg = truncateError(runErr.Error())
		s.logf(ctx, "scheduler: job run failed", "job", bj.job.Name, "error", runErr)
	}
	if s.store != nil {
		_ = s.store.Finish(ctx, execID, status, completedAt, errMsg, snippet)
	}
	if s.metrics != nil {
		outcome := "completed"
		if runErr != nil {
			outcome = "failed"
		}
		s.metrics.RecordJobRun(bj.job.Name, outcome, completedAt.Sub(startedAt).Seconds())
	}
}

// recordSuppressed writes a JobExecution for a firing quiet hours dropped,
// so run history shows the job was considered and skipped rather than
// simply never firing. The job's next firing is unaffected and schedules
// normally from the nextRun already set in fire.
func (s *Scheduler) recordSuppressed(ctx context.Context, bj *boundJob, now time.Time) {
	if s.store == nil {
		return
	}
	execID := uuid.New().String()
	if err := s.store.Create(ctx, &JobExecution{ID: execID, JobName: bj.job.Name, StartedAt: now}); err != nil {
		s.logf(ctx, "scheduler: record suppressed execution failed", "job", bj.job.Name, "error", err)
		return
	}
	if err := s.store.Finish(ctx, execID, ExecutionSuppressed, now, "", ""); err != nil {
		s.logf(ctx, "scheduler: finish suppressed execution failed", "job", bj.job.Name, "error", err)
	}
}

func (s *Scheduler) inQuietHours(now time.Time) bool {
	local := now.In(s.defaultLoc)
	start := s.quietStart.onDate(local, s.defaultLoc)
	end := s.quietEnd.onDate(local, s.defaultLoc)
	if end.Before(start) || end.Equal(start) {
		// Window crosses midnight, e.g. 23:00-06:00.
		return local.After(start) || local.Before(end) || local.Equal(start)
	}
	return (local.After(start) || local.Equal(start)) && local.Before(end)
}

func (s *Scheduler) logf(ctx context.Context, msg string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Info(ctx, msg, args...)
}

func truncateError(s string) string {
	const max = 500
	if len(s) <= max {
		return s
	}
	return s[:max] + "...[truncated]"
}

// Jobs returns a snapshot of currently-bound jobs, for the `status` surface.
func (s *Scheduler) Jobs() []*ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ScheduledJob, 0, len(s.jobs))
	for _, bj := range s.jobs {
		out = append(out, bj.job)
	}
	return out
}

// NextRun reports the next scheduled fire time for jobName, if bound.
func (s *Scheduler) NextRun(jobName string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, bj := range s.jobs {
		if bj.job.Name == jobName {
			return bj.nextRun, true
		}
	}
	return time.Time{}, false
}
