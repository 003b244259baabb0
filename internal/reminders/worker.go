package reminders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mstavros/corebot/internal/observability"
)

// maxDeliveryFailures bounds the claim-retry cycle before a reminder is
// marked failed and left undelivered.
const maxDeliveryFailures = 5

// Deliverer posts a due reminder to its channel via the platform egress.
type Deliverer interface {
	Deliver(ctx context.Context, r *Reminder) error
}

// DelivererFunc adapts a function to a Deliverer.
type DelivererFunc func(ctx context.Context, r *Reminder) error

// Deliver invokes the function.
func (f DelivererFunc) Deliver(ctx context.Context, r *Reminder) error { return f(ctx, r) }

// Worker polls Store for due reminders and delivers each exactly once.
type Worker struct {
	store        *Store
	deliverer    Deliverer
	logger       *observability.Logger
	metrics      *observability.Metrics
	workerID     string
	pollEvery    time.Duration
	claimTimeout time.Duration
	now          func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Worker.
type Option func(*Worker)

// WithPollInterval overrides the polling cadence. Keep it at or under 30s
// so due reminders do not sit past their run time.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) { w.pollEvery = d }
}

// WithLogger installs the structured logger.
func WithLogger(logger *observability.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithMetrics installs the pending-reminders gauge sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithClaimTimeout sets how long a claimed-but-unfinalised reminder is held
// before a later poll may reclaim it — the recovery path for a worker that
// crashed between claim and finalise.
func WithClaimTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.claimTimeout = d
		}
	}
}

// WithNow overrides the clock, for deterministic tests.
func WithNow(now func() time.Time) Option { return func(w *Worker) { w.now = now } }

// NewWorker builds a delivery Worker over store, delivering due reminders
// through deliverer.
func NewWorker(store *Store, deliverer Deliverer, opts ...Option) *Worker {
	w := &Worker{
		store:        store,
		deliverer:    deliverer,
		workerID:     uuid.New().String(),
		pollEvery:    15 * time.Second,
		claimTimeout: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins the polling loop in the background until ctx is cancelled or
// Stop is called.
func (w *Worker) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.pollEvery)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				w.Tick(runCtx)
			}
		}
	}()
}

// Stop cancels the polling loop and waits for it to exit.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Tick runs one claim-and-deliver pass synchronously, first releasing any
// claim a crashed worker left behind past the claim timeout.
func (w *Worker) Tick(ctx context.Context) {
	w.reclaimStale(ctx)

	due, err := w.dueReminders(ctx)
	if err != nil {
		w.logf(ctx, "reminders: poll failed", "error", err)
		return
	}
	for _, r := range due {
		w.claimAndDeliver(ctx, r)
	}

	if w.metrics != nil {
		if n, err := w.store.CountPending(ctx); err == nil {
			w.metrics.SetRemindersPending(n)
		}
	}
}

func (w *Worker) dueReminders(ctx context.Context) ([]*Reminder, error) {
	rows, err := w.store.db.QueryContext(ctx, `
		SELECT id, user, channel, task, run_at_utc, created_at, claimed_by, delivered_at, fail_count
		FROM reminders
		WHERE run_at_utc <= ? AND claimed_by IS NULL AND delivered_at IS NULL
		ORDER BY run_at_utc ASC
	`, w.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("reminders: query due: %w", err)
	}
	defer rows.Close()

	var out []*Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// claimAndDeliver attempts the atomic claim, delivers on success, and rolls
// the claim back (clearing claimed_by) on delivery failure so the next tick
// retries — unless the reminder has already failed maxDeliveryFailures
// times, in which case it is marked failed and never retried again.
func (w *Worker) claimAndDeliver(ctx context.Context, r *Reminder) {
	claimed, err := w.claim(ctx, r.ID)
	if err != nil {
		w.logf(ctx, "reminders: claim failed", "id", r.ID, "error", err)
		return
	}
	if !claimed {
		return // another worker (or a concurrent tick) claimed it first
	}

	deliverErr := w.deliverer.Deliver(ctx, r)
	if deliverErr == nil {
		if err := w.finalizeDelivered(ctx, r.ID); err != nil {
			w.logf(ctx, "reminders: finalize failed", "id", r.ID, "error", err)
		}
		return
	}

	w.logf(ctx, "reminders: delivery failed", "id", r.ID, "error", deliverErr)
	if r.FailCount+1 >= maxDeliveryFailures {
		if err := w.markFailed(ctx, r.ID); err != nil {
			w.logf(ctx, "reminders: mark-failed failed", "id", r.ID, "error", err)
		}
		return
	}
	if err := w.rollbackClaim(ctx, r.ID); err != nil {
		w.logf(ctx, "reminders: rollback failed", "id", r.ID, "error", err)
	}
}

// reclaimStale clears worker claims older than claimTimeout whose delivery
// never finalised, so the reminder becomes claimable again. The terminal
// 'cancelled' and 'failed' markers are never reclaimed.
func (w *Worker) reclaimStale(ctx context.Context) {
	cutoff := w.now().UTC().Add(-w.claimTimeout)
	res, err := w.store.db.ExecContext(ctx, `
		UPDATE reminders SET claimed_by = NULL, claimed_at = NULL
		WHERE claimed_by IS NOT NULL
		  AND claimed_by NOT IN ('cancelled', 'failed')
		  AND delivered_at IS NULL
		  AND claimed_at IS NOT NULL AND claimed_at < ?
	`, cutoff)
	if err != nil {
		w.logf(ctx, "reminders: reclaim stale claims failed", "error", err)
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		w.logf(ctx, "reminders: reclaimed stale claims", "count", n)
	}
}

// claim is the single atomic conditional UPDATE that gives exactly-once
// delivery under SQLite's single-writer model — no SELECT ... FOR UPDATE
// SKIP LOCKED is needed since SQLite already serialises writers at the
// database-file level.
func (w *Worker) claim(ctx context.Context, id string) (bool, error) {
	res, err := w.store.db.ExecContext(ctx, `
		UPDATE reminders SET claimed_by = ?, claimed_at = ?
		WHERE id = ? AND claimed_by IS NULL AND delivered_at IS NULL
	`, w.workerID, w.now().UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (w *Worker) finalizeDelivered(ctx context.Context, id string) error {
	_, err := w.store.db.ExecContext(ctx, `
		UPDATE reminders SET delivered_at = ? WHERE id = ?
	`, w.now().UTC(), id)
	return err
}

func (w *Worker) rollbackClaim(ctx context.Context, id string) error {
	_, err := w.store.db.ExecContext(ctx, `
		UPDATE reminders SET claimed_by = NULL, claimed_at = NULL, fail_count = fail_count + 1 WHERE id = ?
	`, id)
	return err
}

func (w *Worker) markFailed(ctx context.Context, id string) error {
	_, err := w.store.db.ExecContext(ctx, `
		UPDATE reminders SET claimed_by = 'failed', fail_count = fail_count + 1 WHERE id = ?
	`, id)
	return err
}

func (w *Worker) logf(ctx context.Context, msg string, args ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Warn(ctx, msg, args...)
}
