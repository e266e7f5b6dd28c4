// Package warmup preloads the cache by running registered tasks, at startup
// and optionally on a cron schedule.
package warmup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tiercache/internal/common/logging"
)

// TaskFunc populates some slice of the cache. Tasks receive the warm run's
// context and should respect its cancellation.
type TaskFunc func(ctx context.Context) error

type task struct {
	name string
	fn   TaskFunc
}

// Warmer holds the registered warming tasks.
type Warmer struct {
	mu     sync.Mutex
	tasks  []task
	logger logging.Logger
}

// New creates an empty Warmer.
func New(logger logging.Logger) *Warmer {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Warmer{logger: logger}
}

// Register appends a named warming task. Tasks run in registration order.
func (w *Warmer) Register(name string, fn TaskFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tasks = append(w.tasks, task{name: name, fn: fn})
}

// Len returns the number of registered tasks.
func (w *Warmer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tasks)
}

// Warm runs every registered task sequentially and returns how many ran and
// how many failed. A failing or panicking task is logged and counted, never
// aborting the remainder. Context cancellation stops the run early.
func (w *Warmer) Warm(ctx context.Context) (ran, failed int) {
	w.mu.Lock()
	tasks := make([]task, len(w.tasks))
	copy(tasks, w.tasks)
	w.mu.Unlock()

	started := time.Now()
	for _, t := range tasks {
		if ctx.Err() != nil {
			w.logger.Warn("cache warming cancelled",
				logging.Int("remaining", len(tasks)-ran),
				logging.Err(ctx.Err()),
			)
			break
		}

		ran++
		if err := w.runTask(ctx, t); err != nil {
			failed++
			w.logger.Error("warming task failed", err,
				logging.String("task", t.name),
			)
		}
	}

	w.logger.Info("cache warming finished",
		logging.Int("ran", ran),
		logging.Int("failed", failed),
		logging.Duration("took", time.Since(started)),
	)
	return ran, failed
}

// runTask executes one task, converting a panic into an error so one bad
// task cannot take down the warm run.
func (w *Warmer) runTask(ctx context.Context, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return t.fn(ctx)
}
