package circuitbreaker

import (
	"sync"

	"github.com/sony/gobreaker"

	"tiercache/internal/common/logging"
)

// GoBreakerAdapter exposes Sony's gobreaker through the Breaker interface.
// It uses the two-step breaker: CanExecute asks for admission and parks the
// completion callback, and the next RecordSuccess or RecordFailure consumes
// it. The cache pairs every admitted call with exactly one outcome, so the
// queue drains as fast as it fills.
type GoBreakerAdapter struct {
	name    string
	breaker *gobreaker.TwoStepCircuitBreaker
	logger  logging.Logger

	mu      sync.Mutex
	pending []func(success bool)
}

// NewGoBreaker creates a Breaker backed by Sony's gobreaker.
func NewGoBreaker(name string, config Config, logger logging.Logger) *GoBreakerAdapter {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	if config.HalfOpenTrials <= 0 {
		config.HalfOpenTrials = DefaultConfig().HalfOpenTrials
	}

	settings := gobreaker.Settings{
		Name: name,
		// MaxRequests is both the half-open admission cap and the number of
		// consecutive successes gobreaker needs to close again.
		MaxRequests: uint32(config.HalfOpenTrials),
		Timeout:     config.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.FailureThreshold)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				logging.String("breaker", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()),
			)
		},
	}

	return &GoBreakerAdapter{
		name:    name,
		breaker: gobreaker.NewTwoStepCircuitBreaker(settings),
		logger:  logger,
	}
}

// CanExecute reports whether a remote call may be attempted now.
func (g *GoBreakerAdapter) CanExecute() bool {
	done, err := g.breaker.Allow()
	if err != nil {
		return false
	}

	g.mu.Lock()
	g.pending = append(g.pending, done)
	g.mu.Unlock()
	return true
}

// RecordSuccess reports a successful remote call.
func (g *GoBreakerAdapter) RecordSuccess() {
	g.complete(true)
}

// RecordFailure reports a failed remote call.
func (g *GoBreakerAdapter) RecordFailure() {
	g.complete(false)
}

func (g *GoBreakerAdapter) complete(success bool) {
	g.mu.Lock()
	var done func(success bool)
	if len(g.pending) > 0 {
		done = g.pending[0]
		g.pending = g.pending[1:]
	}
	g.mu.Unlock()

	if done != nil {
		done(success)
	}
}

// State returns the current state of the circuit breaker.
func (g *GoBreakerAdapter) State() State {
	switch g.breaker.State() {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Snapshot returns the current counters.
func (g *GoBreakerAdapter) Snapshot() Snapshot {
	counts := g.breaker.Counts()

	return Snapshot{
		Name:      g.name,
		State:     g.State().String(),
		Failures:  int(counts.TotalFailures),
		Successes: int(counts.TotalSuccesses),
		// gobreaker does not expose the last failure time.
	}
}
