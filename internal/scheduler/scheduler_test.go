package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const doc = `
| Job  | Skill | Schedule  | Channel | Enabled |
|------|-------|-----------|---------|---------|
| hourly | ping | 0 * * * * | chan-1  | true    |
`

func TestScheduler_ReloadBindsJobs(t *testing.T) {
	s := New(WithDefaultTimezone(time.UTC))
	if err := s.Reload(doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	jobs := s.Jobs()
	if len(jobs) != 1 || jobs[0].Name != "hourly" {
		t.Fatalf("expected 1 bound job named hourly, got %+v", jobs)
	}
}

func TestScheduler_ReloadPreservesNextRunForUnchangedRows(t *testing.T) {
	s := New(WithDefaultTimezone(time.UTC))
	if err := s.Reload(doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first, _ := s.NextRun("hourly")

	if err := s.Reload(doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _ := s.NextRun("hourly")

	if !first.Equal(second) {
		t.Errorf("expected unchanged row to keep its nextRun across reload: %v != %v", first, second)
	}
}

func TestScheduler_FiresDueJobs(t *testing.T) {
	fixedNow := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	var calls int32
	done := make(chan struct{}, 1)

	s := New(
		WithDefaultTimezone(time.UTC),
		WithNow(func() time.Time { return fixedNow }),
		WithRunner(RunnerFunc(func(ctx context.Context, job *ScheduledJob) (string, error) {
			atomic.AddInt32(&calls, 1)
			done <- struct{}{}
			return "", nil
		})),
	)
	if err := s.Reload(doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Force the bound job due by rewinding its nextRun.
	s.mu.Lock()
	for _, bj := range s.jobs {
		bj.nextRun = fixedNow.Add(-time.Minute)
	}
	s.mu.Unlock()

	s.Tick(context.Background())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected runner to be invoked")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls)
	}
}

func TestScheduler_DropsOverlappingFiring(t *testing.T) {
	fixedNow := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	var calls int32
	release := make(chan struct{})
	started := make(chan struct{}, 2)

	s := New(
		WithDefaultTimezone(time.UTC),
		WithNow(func() time.Time { return fixedNow }),
		WithRunner(RunnerFunc(func(ctx context.Context, job *ScheduledJob) (string, error) {
			atomic.AddInt32(&calls, 1)
			started <- struct{}{}
			<-release
			return "", nil
		})),
	)
	if err := s.Reload(doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.mu.Lock()
	var bj *boundJob
	for _, j := range s.jobs {
		bj = j
	}
	bj.nextRun = fixedNow.Add(-time.Minute)
	s.mu.Unlock()

	s.Tick(context.Background())
	<-started

	// Second tick while the first run is still in flight should be dropped.
	s.mu.Lock()
	bj.nextRun = fixedNow.Add(-time.Minute)
	s.mu.Unlock()
	s.Tick(context.Background())

	close(release)
	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected overlap to be dropped, got %d calls", calls)
	}
}

func TestScheduler_QueuePolicyRunsOnePendingRefire(t *testing.T) {
	fixedNow := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	var calls int32
	release := make(chan struct{})
	started := make(chan struct{}, 4)

	s := New(
		WithDefaultTimezone(time.UTC),
		WithNow(func() time.Time { return fixedNow }),
		WithOverlapPolicy("queue"),
		WithRunner(RunnerFunc(func(ctx context.Context, job *ScheduledJob) (string, error) {
			atomic.AddInt32(&calls, 1)
			started <- struct{}{}
			<-release
			return "", nil
		})),
	)
	if err := s.Reload(doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.mu.Lock()
	var bj *boundJob
	for _, j := range s.jobs {
		bj = j
	}
	bj.nextRun = fixedNow.Add(-time.Minute)
	s.mu.Unlock()

	s.Tick(context.Background())
	<-started

	// Two more firings while the first runs: one queues, one drops.
	for i := 0; i < 2; i++ {
		s.mu.Lock()
		bj.nextRun = fixedNow.Add(-time.Minute)
		s.mu.Unlock()
		s.Tick(context.Background())
	}

	close(release)
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("expected the queued re-fire to run once the first finished")
	}
	time.Sleep(50 * time.Millisecond)

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected first run plus exactly one queued re-fire, got %d calls", got)
	}
}

func TestScheduler_SuppressesDuringQuietHours(t *testing.T) {
	tmp := t.TempDir() + "/executions.db"
	store, err := OpenSQLiteStore(tmp)
	if err != nil {
		t.Fatalf("unexpected error opening store: %v", err)
	}
	defer store.Close()

	fixedNow := time.Date(2026, 7, 31, 23, 30, 0, 0, time.UTC)
	var calls int32

	s := New(
		WithDefaultTimezone(time.UTC),
		WithNow(func() time.Time { return fixedNow }),
		WithQuietHours(23, 0, 6, 0),
		WithExecutionStore(store),
		WithRunner(RunnerFunc(func(ctx context.Context, job *ScheduledJob) (string, error) {
			atomic.AddInt32(&calls, 1)
			return "", nil
		})),
	)
	if err := s.Reload(doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.mu.Lock()
	for _, bj := range s.jobs {
		bj.nextRun = fixedNow.Add(-time.Minute)
	}
	s.mu.Unlock()

	s.Tick(context.Background())
	time.Sleep(20 * time.Millisecond)

	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("expected job suppressed during quiet hours, got %d calls", calls)
	}

	last, err := store.LastStatus(context.Background(), "hourly")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last == nil || last.Status != ExecutionSuppressed {
		t.Fatalf("expected a suppressed execution recorded, got %+v", last)
	}
}

func TestScheduler_QuietHoursIgnoredWithFlag(t *testing.T) {
	quietDoc := `
| Job  | Skill | Schedule  | Channel      | Enabled |
|------|-------|-----------|--------------|---------|
| hourly | ping | 0 * * * * | chan-1 !quiet | true    |
`
	fixedNow := time.Date(2026, 7, 31, 23, 30, 0, 0, time.UTC)
	var calls int32
	var wg sync.WaitGroup
	wg.Add(1)

	s := New(
		WithDefaultTimezone(time.UTC),
		WithNow(func() time.Time { return fixedNow }),
		WithQuietHours(23, 0, 6, 0),
		WithRunner(RunnerFunc(func(ctx context.Context, job *ScheduledJob) (string, error) {
			atomic.AddInt32(&calls, 1)
			wg.Done()
			return "", nil
		})),
	)
	if err := s.Reload(quietDoc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.mu.Lock()
	for _, bj := range s.jobs {
		bj.nextRun = fixedNow.Add(-time.Minute)
	}
	s.mu.Unlock()

	s.Tick(context.Background())

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected !quiet-flagged job to fire during quiet hours")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls)
	}
}

func TestScheduler_RecordsExecutionHistory(t *testing.T) {
	tmp := t.TempDir() + "/executions.db"
	store, err := OpenSQLiteStore(tmp)
	if err != nil {
		t.Fatalf("unexpected error opening store: %v", err)
	}
	defer store.Close()

	fixedNow := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	done := make(chan struct{}, 1)

	s := New(
		WithDefaultTimezone(time.UTC),
		WithNow(func() time.Time { return fixedNow }),
		WithExecutionStore(store),
		WithRunner(RunnerFunc(func(ctx context.Context, job *ScheduledJob) (string, error) {
			done <- struct{}{}
			return "", errors.New("boom")
		})),
	)
	if err := s.Reload(doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.mu.Lock()
	for _, bj := range s.jobs {
		bj.nextRun = fixedNow.Add(-time.Minute)
	}
	s.mu.Unlock()

	s.Tick(context.Background())
	<-done
	time.Sleep(50 * time.Millisecond)

	last, err := store.LastStatus(context.Background(), "hourly")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last == nil || last.Status != ExecutionFailed {
		t.Fatalf("expected failed execution recorded, got %+v", last)
	}
}
