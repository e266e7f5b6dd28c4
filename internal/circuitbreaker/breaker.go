// Package circuitbreaker guards calls into the remote cache tier.
//
// The breaker never returns errors. It only answers whether a remote call
// may be attempted; callers report the outcome back through RecordSuccess
// and RecordFailure.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the current state of the circuit breaker.
type State int

const (
	// StateClosed means remote calls flow through normally.
	StateClosed State = iota
	// StateOpen means remote calls are skipped without being attempted.
	StateOpen
	// StateHalfOpen means the remote tier is being probed for recovery.
	StateHalfOpen
)

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

// Breaker is the gate consulted before every remote call.
type Breaker interface {
	// CanExecute reports whether a remote call may be attempted now. It is
	// true unless the breaker is open and the recovery window has not yet
	// elapsed; the first call after the window elapses moves the breaker to
	// half-open and proceeds as the probe.
	CanExecute() bool
	// RecordSuccess reports a successful remote call.
	RecordSuccess()
	// RecordFailure reports a failed remote call.
	RecordFailure()
	// State returns the current state.
	State() State
	// Snapshot returns counters for the stats surface.
	Snapshot() Snapshot
}

// Config holds the configuration for a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays open before a probe is
	// allowed through.
	RecoveryTimeout time.Duration
	// HalfOpenTrials is the number of consecutive successes in half-open
	// state needed to close the breaker again.
	HalfOpenTrials int
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenTrials:   3,
	}
}

// CircuitBreaker implements Breaker with a three-state machine. All state
// lives under one mutex, so concurrent callers always observe consistent
// counters and transitions.
type CircuitBreaker struct {
	name   string
	config Config

	mu          sync.RWMutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time

	onStateChange func(name string, from, to State)
}

// New creates a circuit breaker with the given name and configuration.
func New(name string, config Config) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	if config.HalfOpenTrials <= 0 {
		config.HalfOpenTrials = DefaultConfig().HalfOpenTrials
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  StateClosed,
	}
}

// OnStateChange sets a callback invoked whenever the breaker changes state.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// CanExecute reports whether a remote call may be attempted now.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.lastFailure) > cb.config.RecoveryTimeout {
			cb.setState(StateHalfOpen)
			cb.successes = 0
			return true
		}
		return false
	case StateHalfOpen:
		return true
	}

	return false
}

// RecordSuccess reports a successful remote call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0

	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.HalfOpenTrials {
			cb.setState(StateClosed)
			cb.successes = 0
		}
	}
}

// RecordFailure reports a failed remote call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		// A half-open failure reopens the breaker and restarts the
		// recovery timer.
		cb.setState(StateOpen)
		cb.successes = 0
	}
}

// setState changes state and fires the state change hook. Callers hold the
// lock; the hook runs in a goroutine so it cannot deadlock.
func (cb *CircuitBreaker) setState(newState State) {
	oldState := cb.state
	cb.state = newState

	if cb.onStateChange != nil && oldState != newState {
		go cb.onStateChange(cb.name, oldState, newState)
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Snapshot holds breaker counters for the stats surface.
type Snapshot struct {
	Name          string     `json:"name"`
	State         string     `json:"state"`
	Failures      int        `json:"failures"`
	Successes     int        `json:"successes"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
}

// Snapshot returns the current counters.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	snap := Snapshot{
		Name:      cb.name,
		State:     cb.state.String(),
		Failures:  cb.failures,
		Successes: cb.successes,
	}

	if !cb.lastFailure.IsZero() {
		t := cb.lastFailure
		snap.LastFailureAt = &t
	}

	return snap
}
