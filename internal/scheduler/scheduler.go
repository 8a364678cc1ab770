// Package scheduler triggers sync runs, from cron or on request, and makes
// sure at most one runs at a time in this process.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "recurcal/internal/log"
	"recurcal/internal/syncer"
)

// ErrBusy is returned by Trigger while another run is in progress.
var ErrBusy = errors.New("sync already in progress")

// Runner performs one pass.
type Runner interface {
	Run(ctx context.Context, mode syncer.Mode, now time.Time) syncer.Summary
}

type Options struct {
	// Spec is a standard 5-field cron expression (or descriptor such as
	// "@hourly") for automatic runs.
	Spec     string
	Location *time.Location
	// Timeout bounds a single run. Zero means no bound.
	Timeout time.Duration
	Now     func() time.Time
}

// Status is a snapshot for the API.
type Status struct {
	Running  bool            `json:"running"`
	LastRun  time.Time       `json:"last_run,omitempty"`
	LastMode syncer.Mode     `json:"last_mode,omitempty"`
	Last     *syncer.Summary `json:"last,omitempty"`
	NextRun  time.Time       `json:"next_run,omitempty"`
}

type Scheduler struct {
	runner Runner
	opts   Options

	mu       sync.Mutex
	running  bool
	lastRun  time.Time
	lastMode syncer.Mode
	last     *syncer.Summary

	cron    *cron.Cron
	entryID cron.EntryID
}

func New(runner Runner, opts Options) *Scheduler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Scheduler{runner: runner, opts: opts}
}

// Trigger runs a pass synchronously unless one is already running.
func (s *Scheduler) Trigger(ctx context.Context, mode syncer.Mode) (syncer.Summary, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return syncer.Summary{}, ErrBusy
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	now := s.opts.Now()
	sum := s.runner.Run(ctx, mode, now)

	s.mu.Lock()
	s.lastRun = now
	s.lastMode = mode
	s.last = &sum
	s.mu.Unlock()
	return sum, nil
}

// Start schedules automatic runs until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.opts.Spec == "" {
		return errors.New("scheduler: empty cron spec")
	}
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(s.opts.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)
	id, err := c.AddFunc(s.opts.Spec, func() {
		sum, err := s.Trigger(ctx, syncer.ModeAutomatic)
		if errors.Is(err, ErrBusy) {
			appLog.Warn("scheduler: previous run still in progress, skipping tick")
			return
		}
		if !sum.Success {
			appLog.Warn("scheduler: automatic run failed", "error", sum.Error, "errors", len(sum.Errors))
		}
	})
	if err != nil {
		return fmt.Errorf("scheduler: invalid cron spec %q: %w", s.opts.Spec, err)
	}

	s.mu.Lock()
	s.cron = c
	s.entryID = id
	s.mu.Unlock()

	c.Start()
	appLog.Info("scheduler: started", "spec", s.opts.Spec, "next", c.Entry(id).Next.Format(time.RFC3339))

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		appLog.Info("scheduler: stopped")
	}()
	return nil
}

// Serve runs the cron loop until ctx is done. It satisfies suture.Service,
// so a restart after a failure builds a fresh cron instance.
func (s *Scheduler) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *Scheduler) String() string { return "scheduler" }

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Running:  s.running,
		LastRun:  s.lastRun,
		LastMode: s.lastMode,
		Last:     s.last,
	}
	if s.cron != nil {
		st.NextRun = s.cron.Entry(s.entryID).Next
	}
	return st
}

// cronLogger routes cron's own logging through the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
