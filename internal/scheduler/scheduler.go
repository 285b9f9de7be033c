package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"boxtracker/internal/domain"
	"boxtracker/internal/metrics"
)

// Runner executes one ingestion cycle.
type Runner interface {
	RunOnce(ctx context.Context) *domain.CycleStats
}

// Callback is invoked with the statistics of every finished cycle.
type Callback func(ctx context.Context, stats *domain.CycleStats) error

type Config struct {
	Interval time.Duration
	// StopTimeout bounds how long Stop waits for an in-flight cycle.
	StopTimeout time.Duration
	// RunTimeout bounds a scheduled cycle; zero means no limit.
	RunTimeout time.Duration

	ProxyPoolSize    int
	ClassifierLoaded bool
}

type Scheduler struct {
	runner Runner
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	// cycleMu serializes cycles from the loop and from manual triggers.
	cycleMu sync.Mutex

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	lastRun   *time.Time
	nextRun   *time.Time
	callbacks []Callback
}

func NewScheduler(runner Runner, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 15 * time.Second
	}
	return &Scheduler{
		runner: runner,
		cfg:    cfg,
		logger: logger.With("component", "scheduler"),
		now:    time.Now,
	}
}

func (s *Scheduler) AddCallback(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// Start launches the background loop and returns immediately. Calling it while
// running only logs a warning.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn("scheduler already running")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	metrics.SchedulerRunning.Set(1)

	s.logger.Info("scheduler started", "interval", s.cfg.Interval)

	go s.loop(loopCtx, s.done)
}

// Stop interrupts the sleep between cycles and waits up to StopTimeout for an
// in-flight cycle to finish. It returns false if the wait timed out.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return true
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.cancel = nil
	s.nextRun = nil
	s.mu.Unlock()

	metrics.SchedulerRunning.Set(0)
	cancel()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return true
	case <-time.After(s.cfg.StopTimeout):
		s.logger.Warn("scheduler stop timed out, cycle still in progress", "timeout", s.cfg.StopTimeout)
		return false
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.release(done)

	for {
		s.runScheduled(ctx)

		next := s.now().Add(s.cfg.Interval)
		s.mu.Lock()
		if s.running {
			s.nextRun = &next
		}
		s.mu.Unlock()

		timer := time.NewTimer(s.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// release clears the running state when the loop ends without Stop, e.g. when
// the context passed to Start is cancelled. A loop replaced by a later Start
// leaves the state alone.
func (s *Scheduler) release(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.done != done {
		return
	}
	s.running = false
	s.cancel()
	s.cancel = nil
	s.nextRun = nil
	metrics.SchedulerRunning.Set(0)
	s.logger.Info("scheduler loop ended", "reason", "context done")
}

// runScheduled detaches the cycle from the loop context so that Stop lets an
// in-flight cycle complete instead of aborting it mid-fetch.
func (s *Scheduler) runScheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	runCtx := context.WithoutCancel(ctx)
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, s.cfg.RunTimeout)
		defer cancel()
	}

	s.RunOnce(runCtx)
}

// RunOnce runs a cycle synchronously, waiting for any cycle already in progress.
func (s *Scheduler) RunOnce(ctx context.Context) *domain.CycleStats {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	stats := s.runCycle(ctx)

	finished := s.now()
	s.mu.Lock()
	s.lastRun = &finished
	callbacks := append([]Callback(nil), s.callbacks...)
	s.mu.Unlock()

	for i, cb := range callbacks {
		if err := s.invoke(ctx, cb, stats); err != nil {
			s.logger.Error("cycle callback failed",
				"callback", i,
				"cycle_id", stats.CycleID,
				"error", err,
			)
		}
	}

	return stats
}

func (s *Scheduler) runCycle(ctx context.Context) (stats *domain.CycleStats) {
	started := s.now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cycle panicked", "panic", r)
			stats = domain.NewCycleStats("", started)
			stats.Errors = append(stats.Errors, fmt.Sprintf("cycle panicked: %v", r))
			stats.Duration = s.now().Sub(started)
		}
	}()
	return s.runner.RunOnce(ctx)
}

func (s *Scheduler) invoke(ctx context.Context, cb Callback, stats *domain.CycleStats) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	return cb(ctx, stats)
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) Status() domain.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return domain.SchedulerStatus{
		Running:          s.running,
		IntervalSeconds:  int64(s.cfg.Interval / time.Second),
		LastRun:          copyTime(s.lastRun),
		NextRun:          copyTime(s.nextRun),
		ProxyPoolSize:    s.cfg.ProxyPoolSize,
		ClassifierLoaded: s.cfg.ClassifierLoaded,
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
