package reminders

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorker_DeliversDueReminder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.Create(ctx, "alice", "chan-1", "task", time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var delivered atomic.Bool
	w := NewWorker(s, DelivererFunc(func(ctx context.Context, r *Reminder) error {
		if r.ID != id {
			t.Errorf("unexpected reminder delivered: %+v", r)
		}
		delivered.Store(true)
		return nil
	}))
	w.Tick(ctx)

	if !delivered.Load() {
		t.Fatal("expected reminder to be delivered")
	}

	list, err := s.List(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected delivered reminder to drop out of pending List, got %+v", list)
	}
}

func TestWorker_IgnoresNotYetDueReminder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Create(ctx, "alice", "chan-1", "task", time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var calls int32
	w := NewWorker(s, DelivererFunc(func(ctx context.Context, r *Reminder) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))
	w.Tick(ctx)

	if calls != 0 {
		t.Errorf("expected no delivery attempt for a future reminder, got %d", calls)
	}
}

func TestWorker_RollsBackClaimOnDeliveryFailureForRetry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.Create(ctx, "alice", "chan-1", "task", time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := NewWorker(s, DelivererFunc(func(ctx context.Context, r *Reminder) error {
		return errors.New("platform unavailable")
	}))
	w.Tick(ctx)

	list, err := s.List(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].ID != id || !list[0].IsPending() {
		t.Fatalf("expected reminder to remain pending for retry after a failed delivery, got %+v", list)
	}
	if list[0].FailCount != 1 {
		t.Errorf("expected fail_count incremented to 1, got %d", list[0].FailCount)
	}
}

func TestWorker_MarksFailedAfterBoundedRetries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Create(ctx, "alice", "chan-1", "task", time.Now().UTC().Add(-time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := NewWorker(s, DelivererFunc(func(ctx context.Context, r *Reminder) error {
		return errors.New("platform unavailable")
	}))
	for i := 0; i < maxDeliveryFailures; i++ {
		w.Tick(ctx)
	}

	list, err := s.List(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected reminder to stop being pending after %d failures, got %+v", maxDeliveryFailures, list)
	}
}

func TestWorker_ConcurrentTicksClaimExactlyOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Create(ctx, "alice", "chan-1", "task", time.Now().UTC().Add(-time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var deliveries int32
	w := NewWorker(s, DelivererFunc(func(ctx context.Context, r *Reminder) error {
		atomic.AddInt32(&deliveries, 1)
		time.Sleep(10 * time.Millisecond)
		return nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Tick(ctx)
		}()
	}
	wg.Wait()

	if deliveries != 1 {
		t.Errorf("expected exactly one delivery across concurrent ticks, got %d", deliveries)
	}
}

func TestWorker_ReclaimsStaleClaimFromDeadWorker(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.Create(ctx, "alice", "chan-1", "task", time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Simulate a worker that claimed the reminder and died before finalising.
	staleAt := time.Now().UTC().Add(-time.Hour)
	if _, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET claimed_by = 'dead-worker', claimed_at = ? WHERE id = ?
	`, staleAt, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var delivered atomic.Bool
	w := NewWorker(s, DelivererFunc(func(ctx context.Context, r *Reminder) error {
		delivered.Store(true)
		return nil
	}), WithClaimTimeout(2*time.Minute))
	w.Tick(ctx)

	if !delivered.Load() {
		t.Fatal("expected the stale claim to be reclaimed and the reminder delivered")
	}
}

func TestWorker_NeverReclaimsCancelledMarker(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.Create(ctx, "alice", "chan-1", "task", time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var calls int32
	w := NewWorker(s, DelivererFunc(func(ctx context.Context, r *Reminder) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}), WithClaimTimeout(time.Nanosecond))
	w.Tick(ctx)

	if calls != 0 {
		t.Errorf("expected cancelled reminder to stay undeliverable, got %d deliveries", calls)
	}
}

func TestWorker_StartAndStop(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Create(ctx, "alice", "chan-1", "task", time.Now().UTC().Add(-time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	delivered := make(chan struct{}, 1)
	w := NewWorker(s, DelivererFunc(func(ctx context.Context, r *Reminder) error {
		select {
		case delivered <- struct{}{}:
		default:
		}
		return nil
	}), WithPollInterval(10*time.Millisecond))

	w.Start(ctx)
	defer w.Stop()

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("expected the background loop to deliver the due reminder")
	}
}
