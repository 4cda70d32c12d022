// Package resilience provides the circuit breaker that guards calls to the
// remote inference backend.
//
// CircuitBreaker is a three-state breaker (closed, open, half-open). After
// MaxFailures consecutive failures it opens and rejects calls with
// ErrCircuitOpen for ResetTimeout. It then lets HalfOpenMax trial calls
// through; their success closes the breaker and any failure reopens it.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mlserve/internal/logging"
)

// ErrCircuitOpen is returned by Execute when the breaker rejects a call
// without running it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a CircuitBreaker.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout elapses.
	StateOpen
	// StateHalfOpen admits a limited number of trial calls.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds tuning knobs for a CircuitBreaker.
type Config struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before admitting a
	// trial call. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of trial calls admitted in the half-open
	// state. Default: 1.
	HalfOpenMax int

	// OnStateChange, when set, is called after every transition with the
	// breaker lock released.
	OnStateChange func(name string, from, to State)

	Logger *zerolog.Logger
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(name string, from, to State)
	log           zerolog.Logger
	now           func() time.Time

	mu                sync.Mutex
	state             State
	consecutiveFail   int
	openedAt          time.Time
	halfOpenCalls     int
	halfOpenSuccesses int
}

// New creates a CircuitBreaker. Zero-value config fields are replaced with
// defaults.
func New(cfg Config) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		log:           logging.OrNop(cfg.Logger),
		now:           time.Now,
		state:         StateClosed,
	}
}

// Execute runs fn if the breaker allows it. In the open state, and in the
// half-open state once the trial budget is spent, it returns ErrCircuitOpen
// without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	var trans []transition
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		trans = append(trans, cb.setStateLocked(StateHalfOpen))
		cb.halfOpenCalls = 0
		cb.halfOpenSuccesses = 0
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMax {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	inHalfOpen := cb.state == StateHalfOpen
	if inHalfOpen {
		cb.halfOpenCalls++
	}
	cb.mu.Unlock()
	cb.notify(trans)

	err := fn()

	cb.mu.Lock()
	var t transition
	if err != nil {
		t = cb.recordFailureLocked(inHalfOpen)
	} else {
		t = cb.recordSuccessLocked(inHalfOpen)
	}
	cb.mu.Unlock()
	cb.notify([]transition{t})
	return err
}

type transition struct{ from, to State }

func (cb *CircuitBreaker) setStateLocked(to State) transition {
	t := transition{from: cb.state, to: to}
	cb.state = to
	return t
}

func (cb *CircuitBreaker) recordFailureLocked(inHalfOpen bool) transition {
	if inHalfOpen {
		// A stale trial finishing after another trial already moved the
		// breaker on must not reopen it.
		if cb.state != StateHalfOpen {
			return transition{}
		}
		cb.openedAt = cb.now()
		cb.consecutiveFail = cb.maxFailures
		return cb.setStateLocked(StateOpen)
	}
	if cb.state != StateClosed {
		return transition{}
	}
	cb.consecutiveFail++
	if cb.consecutiveFail >= cb.maxFailures {
		cb.openedAt = cb.now()
		return cb.setStateLocked(StateOpen)
	}
	return transition{}
}

func (cb *CircuitBreaker) recordSuccessLocked(inHalfOpen bool) transition {
	if inHalfOpen {
		if cb.state != StateHalfOpen {
			return transition{}
		}
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.halfOpenMax {
			cb.consecutiveFail = 0
			cb.halfOpenCalls = 0
			cb.halfOpenSuccesses = 0
			return cb.setStateLocked(StateClosed)
		}
		return transition{}
	}
	if cb.state == StateClosed {
		cb.consecutiveFail = 0
	}
	return transition{}
}

func (cb *CircuitBreaker) notify(ts []transition) {
	for _, t := range ts {
		if t.from == t.to {
			continue
		}
		ev := cb.log.Info()
		if t.to == StateOpen {
			ev = cb.log.Warn()
		}
		ev.Str("breaker", cb.name).Str("from", t.from.String()).Str("to", t.to.String()).Msg("circuit breaker state change")
		if cb.onStateChange != nil {
			cb.onStateChange(cb.name, t.from, t.to)
		}
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports StateHalfOpen; the transition itself happens on the next
// Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// RetryAfter returns how long until an open breaker admits a trial call,
// or zero when it is not open.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return 0
	}
	if d := cb.resetTimeout - cb.now().Sub(cb.openedAt); d > 0 {
		return d
	}
	return 0
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFail
}

// Reset forces the breaker back to StateClosed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	t := cb.setStateLocked(StateClosed)
	cb.consecutiveFail = 0
	cb.halfOpenCalls = 0
	cb.halfOpenSuccesses = 0
	cb.mu.Unlock()
	cb.notify([]transition{t})
}
