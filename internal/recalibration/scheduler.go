package recalibration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/mohammad-safakhou/catengine/internal/logger"
)

const minInterval = time.Second

var (
	ErrAlreadyRunning = errors.New("recalibration scheduler already running")
	ErrStopTimeout    = errors.New("recalibration scheduler did not stop in time")
)

type SchedulerOptions struct {
	// Interval between runs; values under one second are raised to one second.
	Interval time.Duration
	// Cron, when set, replaces Interval with a cron schedule.
	Cron       string
	RunOnStart bool
	Logger     *logger.Logger
}

// Scheduler runs a Runner on a single background goroutine.
type Scheduler struct {
	runner     *Runner
	interval   time.Duration
	cron       *cronexpr.Expression
	runOnStart bool
	log        *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	runs     atomic.Int64
	reportMu sync.Mutex
	last     *RunReport
}

func NewScheduler(runner *Runner, opts SchedulerOptions) (*Scheduler, error) {
	s := &Scheduler{runner: runner, interval: opts.Interval, runOnStart: opts.RunOnStart, log: opts.Logger}
	if s.interval < minInterval {
		s.interval = minInterval
	}
	if opts.Cron != "" {
		expr, err := cronexpr.Parse(opts.Cron)
		if err != nil {
			return nil, fmt.Errorf("parse cron %q: %w", opts.Cron, err)
		}
		s.cron = expr
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	return s, nil
}

// Start launches the loop. It runs until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	return nil
}

// Stop signals the loop and waits up to timeout for it to exit. After a
// timeout the scheduler still counts as running until the loop returns.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

// Runs reports how many ticks have completed, including failed ones.
func (s *Scheduler) Runs() int64 { return s.runs.Load() }

// LastReport returns the most recent successful run report.
func (s *Scheduler) LastReport() (RunReport, bool) {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()
	if s.last == nil {
		return RunReport{}, false
	}
	return *s.last, true
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.done == done {
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		close(done)
	}()
	if s.runOnStart {
		s.runTick(ctx)
	}
	for {
		timer := time.NewTimer(s.nextDelay(time.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) nextDelay(now time.Time) time.Duration {
	if s.cron == nil {
		return s.interval
	}
	next := s.cron.Next(now)
	if next.IsZero() {
		return s.interval
	}
	if d := next.Sub(now); d > 0 {
		return d
	}
	return minInterval
}

// runTick isolates one run: a panic or error is logged and the loop continues.
func (s *Scheduler) runTick(ctx context.Context) {
	defer s.runs.Add(1)
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("recalibration tick panicked", "panic", fmt.Sprint(rec))
		}
	}()
	if ctx.Err() != nil {
		return
	}
	rep, err := s.runner.RunOnce(ctx)
	if err != nil {
		s.log.Warn("recalibration tick failed", "run_id", rep.RunID, "error", err)
		return
	}
	s.reportMu.Lock()
	s.last = &rep
	s.reportMu.Unlock()
}
