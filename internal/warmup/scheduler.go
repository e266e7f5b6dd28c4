package warmup

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	cacheerrors "tiercache/internal/common/errors"
	"tiercache/internal/common/logging"
)

// DefaultRunTimeout bounds a single scheduled warm run.
const DefaultRunTimeout = 5 * time.Minute

// scheduleParser accepts standard 5-field cron expressions, an optional
// leading seconds field, and @descriptors such as @hourly and @every.
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSpec reports whether a cron expression is accepted by the
// scheduler's parser.
func ValidateSpec(spec string) error {
	if _, err := scheduleParser.Parse(spec); err != nil {
		return cacheerrors.ConfigError("invalid cron expression: " + err.Error())
	}
	return nil
}

// Scheduler re-runs a Warmer on a cron schedule.
type Scheduler struct {
	warmer     *Warmer
	logger     logging.Logger
	runTimeout time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewScheduler creates a stopped scheduler for the given warmer. A
// runTimeout of zero falls back to DefaultRunTimeout.
func NewScheduler(warmer *Warmer, runTimeout time.Duration, logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeout
	}
	return &Scheduler{
		warmer:     warmer,
		logger:     logger,
		runTimeout: runTimeout,
	}
}

// Start begins re-warming on the given cron expression. Starting an already
// running scheduler is an error.
func (s *Scheduler) Start(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return cacheerrors.ConfigError("warm scheduler already running")
	}

	c := cron.New(cron.WithParser(scheduleParser))
	if _, err := c.AddFunc(spec, s.runOnce); err != nil {
		return cacheerrors.ConfigError("invalid cron expression: " + err.Error())
	}
	c.Start()

	s.cron = c
	s.running = true
	s.logger.Info("warm schedule started", logging.String("schedule", spec))
	return nil
}

// Stop halts the schedule and waits for any in-flight warm run to finish.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.running = false
	s.logger.Info("warm schedule stopped")
}

// Running reports whether the schedule is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()
	s.warmer.Warm(ctx)
}
