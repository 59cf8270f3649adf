// Package breaker implements a per-target circuit breaker with a rolling
// failure window and a single-trial half-open recovery.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/routekit/chainroute/internal/logger"
	"github.com/routekit/chainroute/internal/metrics"
)

// ErrCircuitOpen is returned when the circuit rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means calls flow normally.
	StateClosed State = iota
	// StateOpen means calls are rejected until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen means a single trial call is probing recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
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

// Config holds configuration for a circuit breaker.
type Config struct {
	// FailureThreshold is the number of failures within Window that opens
	// the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before allowing
	// a half-open trial.
	RecoveryTimeout time.Duration
	// Window is the rolling time span over which failures count toward
	// the threshold.
	Window time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		Window:           60 * time.Second,
	}
}

// Breaker is a circuit breaker for a single key. All state transitions are
// linearizable: compound transitions happen under one mutex.
type Breaker struct {
	mu  sync.Mutex
	cfg Config
	key string

	state         State
	failures      []time.Time // failure timestamps within the rolling window
	lastFailure   time.Time
	trialInFlight bool

	successCount uint64
	failureCount uint64
}

// New creates a closed breaker for the given key.
func New(key string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Breaker{
		cfg:   cfg,
		key:   key,
		state: StateClosed,
	}
}

// Allow gates a call. It returns nil when the caller may proceed, or
// ErrCircuitOpen when the circuit rejects the call.
//
// When the circuit is open and the recovery timeout has elapsed, exactly
// one caller transitions it to half-open and is admitted as the trial;
// concurrent callers arriving while the trial is in flight are rejected.
// The admitted caller must report the outcome via RecordSuccess or
// RecordFailure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.lastFailure) >= b.cfg.RecoveryTimeout {
			b.transition(StateHalfOpen)
			b.trialInFlight = true
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.trialInFlight {
			return ErrCircuitOpen
		}
		b.trialInFlight = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess reports a successful call. A successful half-open trial
// closes the circuit and clears the failure history.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successCount++

	if b.state == StateHalfOpen {
		b.transition(StateClosed)
		b.failures = nil
		b.lastFailure = time.Time{}
		b.trialInFlight = false
	}
}

// RecordFailure reports a failed call. In the closed state, failures within
// the rolling window are counted against the threshold; reaching it opens
// the circuit. A failed half-open trial reopens the circuit immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	now := time.Now()
	b.lastFailure = now
	b.failures = append(b.failures, now)
	b.prune(now)

	switch b.state {
	case StateClosed:
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
		b.trialInFlight = false
	}
	// Already open: nothing further to do, the failure just refreshed
	// lastFailure and pushed the recovery deadline out.
}

// Execute runs fn through the breaker: gate, call, record outcome.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// SetConfig replaces the breaker's configuration at runtime. The new window
// and threshold apply to the next failure or gate decision; the current
// state is kept.
func (b *Breaker) SetConfig(cfg Config) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	b.cfg = cfg
}

// Reset forces the breaker closed with an empty failure history. Intended
// for operator intervention and tests.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		b.transition(StateClosed)
	}
	b.failures = nil
	b.lastFailure = time.Time{}
	b.trialInFlight = false
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts returns the monotonic failure and success counters.
func (b *Breaker) Counts() (failures, successes uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount, b.successCount
}

// FailuresInWindow returns the number of failures inside the rolling window.
func (b *Breaker) FailuresInWindow() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(time.Now())
	return len(b.failures)
}

// prune drops failure timestamps older than the rolling window.
// Caller must hold b.mu.
func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.failures) && b.failures[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.failures = append(b.failures[:0], b.failures[i:]...)
	}
}

// transition changes state and emits observability. Caller must hold b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	metrics.BreakerState.WithLabelValues(b.key).Set(float64(to))
	metrics.BreakerTransitions.WithLabelValues(b.key, to.String()).Inc()
	logger.LogBreakerTransition(b.key, from.String(), to.String(), len(b.failures))
}
