package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeProber struct {
	calls  atomic.Int32
	online atomic.Bool
	gate   chan struct{} // when set, Probe blocks until closed
}

func (f *fakeProber) Probe(ctx context.Context) bool {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	return f.online.Load()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupTestChecker(t *testing.T, ttl time.Duration) (*Checker, *fakeProber, *fakeClock) {
	t.Helper()
	prober := &fakeProber{}
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	checker := New(prober, ttl)
	checker.SetClock(clock.Now)
	return checker, prober, clock
}

func TestCheck_CachesWithinTTL(t *testing.T) {
	checker, prober, clock := setupTestChecker(t, 45*time.Second)
	ctx := context.Background()
	prober.online.Store(true)

	if !checker.Check(ctx) {
		t.Fatal("expected online")
	}
	clock.Advance(30 * time.Second)
	prober.online.Store(false)

	if !checker.Check(ctx) {
		t.Error("expected cached online result within TTL")
	}
	if got := prober.calls.Load(); got != 1 {
		t.Errorf("expected 1 probe, got %d", got)
	}
}

func TestCheck_FailureRetriedAfterTTL(t *testing.T) {
	checker, prober, clock := setupTestChecker(t, 45*time.Second)
	ctx := context.Background()

	if checker.Check(ctx) {
		t.Fatal("expected offline")
	}

	prober.online.Store(true)
	clock.Advance(44 * time.Second)
	if checker.Check(ctx) {
		t.Error("failed probe should be trusted until the TTL expires")
	}

	clock.Advance(2 * time.Second)
	if !checker.Check(ctx) {
		t.Error("expected a fresh probe after the TTL")
	}
	if got := prober.calls.Load(); got != 2 {
		t.Errorf("expected 2 probes, got %d", got)
	}
}

func TestRefresh_IgnoresCache(t *testing.T) {
	checker, prober, _ := setupTestChecker(t, time.Hour)
	ctx := context.Background()

	checker.Check(ctx)
	prober.online.Store(true)
	if !checker.Refresh(ctx) {
		t.Error("Refresh should probe again")
	}
	online, known := checker.Cached()
	if !online || !known {
		t.Errorf("unexpected cached state online=%v known=%v", online, known)
	}
}

func TestCached_UnknownBeforeFirstProbe(t *testing.T) {
	checker, _, _ := setupTestChecker(t, 0)
	if _, known := checker.Cached(); known {
		t.Error("expected unknown state before first probe")
	}
}

func TestInvalidate(t *testing.T) {
	checker, prober, _ := setupTestChecker(t, time.Hour)
	ctx := context.Background()

	checker.Check(ctx)
	checker.Invalidate()
	checker.Check(ctx)

	if got := prober.calls.Load(); got != 2 {
		t.Errorf("expected 2 probes after invalidate, got %d", got)
	}
}

func TestRefresh_ConcurrentCallsShareProbe(t *testing.T) {
	checker, prober, _ := setupTestChecker(t, time.Hour)
	prober.online.Store(true)
	prober.gate = make(chan struct{})
	ctx := context.Background()

	const callers = 8
	var started, done sync.WaitGroup
	results := make(chan bool, callers)
	started.Add(callers)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer done.Done()
			started.Done()
			results <- checker.Refresh(ctx)
		}()
	}
	started.Wait()
	// Give the goroutines time to join the in-flight probe
	time.Sleep(50 * time.Millisecond)
	close(prober.gate)
	done.Wait()
	close(results)

	for online := range results {
		if !online {
			t.Error("expected every caller to see online")
		}
	}
	if got := prober.calls.Load(); got > 2 {
		t.Errorf("expected concurrent refreshes to collapse, got %d probes", got)
	}
}

func TestProberFunc(t *testing.T) {
	checker := New(ProberFunc(func(context.Context) bool { return true }), 0)
	if !checker.Check(context.Background()) {
		t.Error("expected ProberFunc result")
	}
}
