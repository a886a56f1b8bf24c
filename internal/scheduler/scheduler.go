// Package scheduler triggers the sync cycle on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one run of the sync cycle.
type Job func(ctx context.Context) error

// Scheduler runs a single job periodically. Overlapping ticks are
// skipped: if a cycle is still running when the next tick fires, the
// tick is dropped rather than queued.
type Scheduler struct {
	cron     *cron.Cron
	interval time.Duration
	job      Job
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// New creates a scheduler that runs job every interval.
func New(interval time.Duration, job Job, logger *slog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("invalid interval %v", interval)
	}

	s := &Scheduler{
		cron:     cron.New(),
		interval: interval,
		job:      job,
		logger:   logger,
	}

	spec := fmt.Sprintf("@every %s", interval)
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("schedule sync job: %w", err)
	}
	return s, nil
}

// Start begins firing ticks. It does not run the job immediately; the
// first run happens one interval after Start.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", "interval", s.interval)
	s.cron.Start()
}

// Stop halts the tick source. The returned context is done when any
// in-flight cron callback has returned.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")
	return s.cron.Stop()
}

// RunNow executes the job immediately, bypassing the schedule. It
// respects the same overlap rule as scheduled ticks.
func (s *Scheduler) RunNow(ctx context.Context) error {
	if !s.tryAcquire() {
		s.logger.Warn("cycle already running, manual run skipped")
		return nil
	}
	defer s.release()
	return s.job(ctx)
}

func (s *Scheduler) tick() {
	if !s.tryAcquire() {
		s.logger.Warn("previous cycle still running, tick skipped")
		return
	}
	defer s.release()

	ctx, cancel := context.WithTimeout(context.Background(), s.interval*4)
	defer cancel()

	start := time.Now()
	if err := s.job(ctx); err != nil {
		s.logger.Error("cycle failed", "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Info("cycle completed", "duration", time.Since(start))
}

func (s *Scheduler) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}
