package circuitbreaker

import (
	"tiercache/internal/common/logging"
)

// Engine selects which breaker implementation guards the remote tier.
type Engine string

const (
	// EngineNative is the in-package three-state breaker.
	EngineNative Engine = "native"
	// EngineGoBreaker delegates to Sony's gobreaker.
	EngineGoBreaker Engine = "gobreaker"
)

// ForEngine creates a Breaker for the given engine. Unknown engines fall
// back to the native implementation. State changes are logged either way.
func ForEngine(engine Engine, name string, config Config, logger logging.Logger) Breaker {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	switch engine {
	case EngineGoBreaker:
		return NewGoBreaker(name, config, logger)
	case EngineNative:
	default:
		if engine != "" {
			logger.Warn("unknown circuit breaker engine, using native",
				logging.String("engine", string(engine)),
			)
		}
	}

	breaker := New(name, config)
	breaker.OnStateChange(func(name string, from, to State) {
		logger.Warn("circuit breaker state change",
			logging.String("breaker", name),
			logging.String("from", from.String()),
			logging.String("to", to.String()),
		)
	})
	return breaker
}
