// Package resilience guards the remote live endpoint with a circuit breaker.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open).
// [GuardProvider] wraps a live provider so that an endpoint which keeps
// failing to open a session is rejected immediately instead of being dialled
// on every start. A session counts as a success once the remote side reports
// open; a dial error, a remote error or a remote close before open counts as a
// failure. Cancelled attempts are not counted either way.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of trial calls through; enough
	// successes close the breaker, any failure re-opens it.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful trials needed to close again.
	// Default: 1.
	HalfOpenMax int

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// now is overridable in tests.
	now func() time.Time
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	logger       *slog.Logger
	now          func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	trials          int // started in the current half-open round
	trialSuccesses  int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		logger:       cfg.Logger.With("breaker", cfg.Name),
		now:          cfg.now,
	}
}

// Begin admits one call. It returns [ErrCircuitOpen] when the call is
// rejected; otherwise the caller must invoke finish exactly once with the
// outcome. A nil outcome is a success; an outcome wrapping
// [context.Canceled] is neutral.
func (cb *CircuitBreaker) Begin() (finish func(outcome error), err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return nil, ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.trials, cb.trialSuccesses = 0, 0
		fallthrough
	case StateHalfOpen:
		if cb.trials >= cb.halfOpenMax {
			return nil, ErrCircuitOpen
		}
		cb.trials++
	}

	var once sync.Once
	return func(outcome error) {
		once.Do(func() { cb.record(outcome) })
	}, nil
}

// Execute runs fn if the breaker admits it and records its result.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	finish, err := cb.Begin()
	if err != nil {
		return err
	}
	err = fn()
	finish(err)
	return err
}

func (cb *CircuitBreaker) record(outcome error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	halfOpen := cb.state == StateHalfOpen
	switch {
	case errors.Is(outcome, context.Canceled):
		if halfOpen && cb.trials > 0 {
			cb.trials--
		}

	case outcome != nil:
		cb.consecutiveFail++
		if halfOpen || cb.consecutiveFail >= cb.maxFailures {
			cb.openedAt = cb.now()
			if cb.state != StateOpen {
				cb.transition(StateOpen)
				cb.logger.Warn("circuit breaker opened",
					"consecutive_failures", cb.consecutiveFail,
					"err", outcome)
			}
		}

	default:
		cb.consecutiveFail = 0
		if halfOpen {
			cb.trialSuccesses++
			if cb.trialSuccesses >= cb.halfOpenMax {
				cb.transition(StateClosed)
			}
		}
	}
}

// transition changes state. Must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	cb.logger.Info("circuit breaker state changed", "from", cb.state.String(), "to", to.String())
	cb.state = to
}

// State returns the current [State]. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed].
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transition(StateClosed)
	cb.consecutiveFail = 0
	cb.trials, cb.trialSuccesses = 0, 0
}
