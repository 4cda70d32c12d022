package resilience

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errTest = errors.New("backend failure")

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

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	cb := New(cfg)
	cb.now = clk.Now
	return cb, clk
}

func fail() error    { return errTest }
func succeed() error { return nil }

func TestDefaults(t *testing.T) {
	cb := New(Config{})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 1 {
		t.Fatalf("unexpected defaults: %d %v %d", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Fatalf("new breaker should be closed")
	}
}

func TestOpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(Config{MaxFailures: 5, ResetTimeout: 30 * time.Second})
	for i := 0; i < 5; i++ {
		if err := cb.Execute(fail); !errors.Is(err, errTest) {
			t.Fatalf("call %d: expected backend error, got %v", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open after 5 failures, got %v", cb.State())
	}

	var called bool
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("6th call: expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Fatalf("open breaker must not invoke fn")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(Config{MaxFailures: 3})
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	_ = cb.Execute(succeed)
	if cb.Failures() != 0 {
		t.Fatalf("success should reset count, got %d", cb.Failures())
	}
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Fatalf("failures were not consecutive; breaker should stay closed")
	}
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	cb, clk := newTestBreaker(Config{MaxFailures: 5, ResetTimeout: 30 * time.Second})
	for i := 0; i < 5; i++ {
		_ = cb.Execute(fail)
	}
	clk.Advance(29 * time.Second)
	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("before reset timeout: expected ErrCircuitOpen, got %v", err)
	}
	clk.Advance(time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open after reset timeout, got %v", cb.State())
	}
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("trial call: %v", err)
	}
	if cb.State() != StateClosed || cb.Failures() != 0 {
		t.Fatalf("trial success should close: %v failures=%d", cb.State(), cb.Failures())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker(Config{MaxFailures: 5, ResetTimeout: 30 * time.Second})
	for i := 0; i < 5; i++ {
		_ = cb.Execute(fail)
	}
	clk.Advance(30 * time.Second)
	if err := cb.Execute(fail); !errors.Is(err, errTest) {
		t.Fatalf("trial should run and fail, got %v", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("trial failure should reopen, got %v", cb.State())
	}
	if got := cb.RetryAfter(); got != 30*time.Second {
		t.Fatalf("timeout should restart, retry after %v", got)
	}
	clk.Advance(10 * time.Second)
	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("reopened breaker should reject, got %v", err)
	}
}

func TestHalfOpenAdmitsSingleTrial(t *testing.T) {
	cb, clk := newTestBreaker(Config{MaxFailures: 1, ResetTimeout: time.Second})
	_ = cb.Execute(fail)
	clk.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	var trialErr error
	done := make(chan struct{})
	go func() {
		trialErr = cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
		close(done)
	}()
	<-started

	var calls atomic.Int32
	if err := cb.Execute(func() error { calls.Add(1); return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("concurrent call during trial should be rejected, got %v", err)
	}
	close(release)
	<-done
	if trialErr != nil || calls.Load() != 0 {
		t.Fatalf("trial err=%v extra calls=%d", trialErr, calls.Load())
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after trial, got %v", cb.State())
	}
}

func TestStateChangeHookAndReset(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	cb, _ := newTestBreaker(Config{
		Name:        "remote",
		MaxFailures: 1,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			seen = append(seen, name+":"+from.String()+"->"+to.String())
			mu.Unlock()
		},
	})
	_ = cb.Execute(fail)
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("reset should close")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "remote:closed->open" || seen[1] != "remote:open->closed" {
		t.Fatalf("unexpected transitions: %v", seen)
	}
}

func TestStateString(t *testing.T) {
	if StateClosed.String() != "closed" || StateOpen.String() != "open" || StateHalfOpen.String() != "half-open" || State(9).String() != "unknown" {
		t.Fatalf("unexpected state names")
	}
}
