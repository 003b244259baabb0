package serializer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRun_SerializesSameChannel(t *testing.T) {
	s := New()
	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	task := func(ctx context.Context) (int, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			cur := atomic.LoadInt32(&maxActive)
			if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return 1, nil
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Run(s, context.Background(), "chan-a", task)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxActive); got != 1 {
		t.Errorf("expected at most 1 concurrent invocation per channel, saw %d", got)
	}
}

func TestRun_AllowsDifferentChannelsConcurrently(t *testing.T) {
	s := New()
	var active int32
	var maxActive int32
	start := make(chan struct{})
	var wg sync.WaitGroup

	task := func(ctx context.Context) (int, error) {
		<-start
		n := atomic.AddInt32(&active, 1)
		for {
			cur := atomic.LoadInt32(&maxActive)
			if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return 1, nil
	}

	for _, ch := range []string{"chan-a", "chan-b", "chan-c"} {
		wg.Add(1)
		go func(channelID string) {
			defer wg.Done()
			_, _ = Run(s, context.Background(), channelID, task)
		}(ch)
	}
	close(start)
	wg.Wait()

	if got := atomic.LoadInt32(&maxActive); got < 2 {
		t.Errorf("expected channels to run concurrently, max concurrent was %d", got)
	}
}

func TestRun_ContextCancellationAbortsWaitOnly(t *testing.T) {
	s := New()
	release := make(chan struct{})
	holderStarted := make(chan struct{})

	go func() {
		_, _ = Run(s, context.Background(), "chan-a", func(ctx context.Context) (int, error) {
			close(holderStarted)
			<-release
			return 1, nil
		})
	}()
	<-holderStarted

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(s, ctx, "chan-a", func(ctx context.Context) (int, error) {
		return 2, nil
	})
	if err == nil {
		t.Fatal("expected cancelled caller to abort its wait with an error")
	}
	close(release)
}

func TestAcquire_FIFOWithinChannel(t *testing.T) {
	s := New()
	holder, err := s.Acquire(context.Background(), "chan-a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	ready := make(chan struct{}, 3)
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ready <- struct{}{}
			lease, err := s.Acquire(context.Background(), "chan-a")
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			lease.Release()
		}(i)
		<-ready
		// Wait until this goroutine is queued before starting the next, so
		// arrival order is deterministic.
		for s.QueueDepth("chan-a") < i {
			time.Sleep(time.Millisecond)
		}
	}

	holder.Release()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("expected FIFO grant order 1,2,3, got %v", order)
	}
}

func TestLease_ReleaseIsIdempotent(t *testing.T) {
	s := New()
	lease, err := s.Acquire(context.Background(), "chan-a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	lease.Release()
	lease.Release() // second release must not free a lease someone else holds

	second, err := s.Acquire(context.Background(), "chan-a")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Acquire(ctx, "chan-a"); err == nil {
		t.Fatal("expected the channel to still be held by the second lease")
	}
	second.Release()
}

func TestSwitchNotifier_FiresOnChannelChange(t *testing.T) {
	var mu sync.Mutex
	var transitions [][2]string

	s := New(WithSwitchNotifier(func(prev, next string) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, [2]string{prev, next})
	}))

	noop := func(ctx context.Context) (int, error) { return 0, nil }
	_, _ = Run(s, context.Background(), "chan-a", noop)
	_, _ = Run(s, context.Background(), "chan-a", noop)
	_, _ = Run(s, context.Background(), "chan-b", noop)

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || transitions[0] != [2]string{"chan-a", "chan-b"} {
		t.Errorf("expected exactly one switch chan-a -> chan-b, got %v", transitions)
	}
}
