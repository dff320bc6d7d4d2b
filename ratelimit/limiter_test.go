package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

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

func newFake() (*Limiter, *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(WithClock(clk.Now)), clk
}

func TestAllow_Unlimited(t *testing.T) {
	l := New()
	for i := 0; i < 100; i++ {
		if !l.Allow("sess-1", 0) {
			t.Fatal("Allow(0) should always return true")
		}
	}
}

func TestAllow_RateLimited(t *testing.T) {
	l, _ := newFake()

	if !l.Allow("sess", 2) {
		t.Fatal("first call should be allowed")
	}
	if !l.Allow("sess", 2) {
		t.Fatal("second call should be allowed")
	}
	if l.Allow("sess", 2) {
		t.Fatal("third call should be denied")
	}
}

func TestAllow_Refills(t *testing.T) {
	l, clk := newFake()

	for i := 0; i < 10; i++ {
		l.Allow("sess", 10)
	}
	if l.Allow("sess", 10) {
		t.Fatal("should be denied after exhausting bucket")
	}

	clk.Advance(200 * time.Millisecond)

	if !l.Allow("sess", 10) {
		t.Fatal("should be allowed after refill")
	}
}

func TestAllowN(t *testing.T) {
	l, clk := newFake()

	if !l.AllowN("sess", 10, 8) {
		t.Fatal("8 of 10 should be allowed")
	}
	if l.AllowN("sess", 10, 5) {
		t.Fatal("5 more should be denied with 2 left")
	}

	clk.Advance(time.Second)
	// Larger than the bucket: allowed once the bucket is full.
	if !l.AllowN("sess", 10, 50) {
		t.Fatal("oversized request should pass on a full bucket")
	}
	if l.Allow("sess", 10) {
		t.Fatal("bucket should be drained")
	}
}

func TestWait_Unlimited(t *testing.T) {
	l := New()
	if err := l.Wait(context.Background(), "sess", 0); err != nil {
		t.Fatalf("Wait(0) should return nil, got %v", err)
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	l := New()
	l.Allow("sess-wait", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, "sess-wait", 1); err == nil {
		t.Fatal("Wait should return error when context is cancelled")
	}
}

func TestWait_EventuallyAllowed(t *testing.T) {
	l := New()
	for i := 0; i < 20; i++ {
		l.Allow("sess-eventual", 20)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := l.Wait(ctx, "sess-eventual", 20); err != nil {
		t.Fatalf("Wait should succeed, got %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("Wait should have blocked for at least some time")
	}
}

func TestReset(t *testing.T) {
	l, _ := newFake()

	l.Allow("sess", 1)
	if l.Allow("sess", 1) {
		t.Fatal("should be denied")
	}
	l.Reset("sess")
	if !l.Allow("sess", 1) {
		t.Fatal("should be allowed after reset")
	}
}

func TestSweep(t *testing.T) {
	l, clk := newFake()

	l.Allow("old", 5)
	clk.Advance(time.Minute)
	l.Allow("fresh", 5)

	if n := l.Sweep(30 * time.Second); n != 1 {
		t.Fatalf("expected 1 bucket swept, got %d", n)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 bucket left, got %d", l.Len())
	}
}

func TestLimitChange(t *testing.T) {
	l, _ := newFake()

	l.AllowN("sess", 100, 10)
	// Lowering the limit caps the stored tokens.
	for i := 0; i < 5; i++ {
		if !l.Allow("sess", 5) {
			t.Fatalf("call %d should be allowed", i)
		}
	}
	if l.Allow("sess", 5) {
		t.Fatal("bucket should be capped at the new limit")
	}
}

func TestConcurrentAccess(t *testing.T) {
	l, _ := newFake()

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Allow("sess-concurrent", 100)
		}()
	}

	wg.Wait()
	close(allowed)

	trueCount := 0
	for v := range allowed {
		if v {
			trueCount++
		}
	}
	if trueCount != 100 {
		t.Fatalf("expected exactly 100 allowed with a frozen clock, got %d", trueCount)
	}
}
