// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

// Package scheduler drives the unattended pipeline. Every pipeline stage is
// registered as a named task with an interval; the scheduler runs tasks on a
// bounded worker pool, skips a tick when the previous run of the same task
// is still going, and cancels runs that exceed the hard timeout. A failing
// task never stops the scheduler; it simply runs again at the next tick.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chartpulse/chartpulse/internal/config"
	"github.com/chartpulse/chartpulse/internal/logging"
	"github.com/chartpulse/chartpulse/internal/metrics"
)

// Handler is one task execution. It must honor ctx cancellation; the
// scheduler cancels it at the task timeout.
type Handler func(ctx context.Context) error

// Task is a registered periodic job. Timeout zero falls back to the
// scheduler-wide task timeout.
type Task struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Handler  Handler
}

// Scheduler implements suture.Service. Register all tasks before Serve;
// registration is not safe concurrently with a running scheduler.
type Scheduler struct {
	cfg   *config.SchedulerConfig
	tasks []*taskState
	sem   chan struct{}
}

type taskState struct {
	Task
	running atomic.Bool
}

func New(cfg *config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		cfg: cfg,
		sem: make(chan struct{}, cfg.Workers),
	}
}

// Register adds a task. Tasks with a non-positive interval are rejected at
// registration so a misconfiguration surfaces at startup, not silently.
func (s *Scheduler) Register(t Task) error {
	if t.Name == "" || t.Handler == nil {
		return errors.New("scheduler: task needs a name and a handler")
	}
	if t.Interval <= 0 {
		return errors.New("scheduler: task interval must be positive")
	}
	if t.Timeout <= 0 {
		t.Timeout = s.cfg.TaskTimeout
	}
	s.tasks = append(s.tasks, &taskState{Task: t})
	return nil
}

// Serve runs every registered task on its own ticker until ctx is
// cancelled. Implements suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	logging.Info().Int("tasks", len(s.tasks)).Int("workers", s.cfg.Workers).
		Msg("Scheduler started")

	var wg sync.WaitGroup
	for _, task := range s.tasks {
		wg.Add(1)
		go func(task *taskState) {
			defer wg.Done()
			s.loop(ctx, task)
		}(task)
	}
	wg.Wait()

	logging.Info().Msg("Scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) String() string { return "scheduler" }

func (s *Scheduler) loop(ctx context.Context, task *taskState) {
	// First run happens one interval after startup. Ingestion at boot is
	// the supervisor's call, not an implicit side effect of registration.
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx, task)
		}
	}
}

// dispatch runs one tick of a task. The overlap check happens before the
// worker slot is taken so a slow task cannot also clog the pool with
// skipped ticks.
func (s *Scheduler) dispatch(ctx context.Context, task *taskState) {
	if !task.running.CompareAndSwap(false, true) {
		metrics.TaskRuns.WithLabelValues(task.Name, "skipped_overlap").Inc()
		logging.Warn().Str("task", task.Name).
			Msg("Previous run still in progress, skipping tick")
		return
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		task.running.Store(false)
		return
	}

	go func() {
		defer func() {
			<-s.sem
			task.running.Store(false)
		}()
		s.run(ctx, task)
	}()
}

func (s *Scheduler) run(ctx context.Context, task *taskState) {
	runCtx, cancel := context.WithTimeout(ctx, task.Timeout)
	defer cancel()

	start := time.Now()
	err := task.Handler(runCtx)
	elapsed := time.Since(start)
	metrics.TaskDuration.WithLabelValues(task.Name).Observe(elapsed.Seconds())

	switch {
	case err == nil:
		metrics.TaskRuns.WithLabelValues(task.Name, "ok").Inc()
		logging.Debug().Str("task", task.Name).Dur("elapsed", elapsed).
			Msg("Task run complete")
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		metrics.TaskRuns.WithLabelValues(task.Name, "timeout").Inc()
		logging.Warn().Str("task", task.Name).Dur("timeout", task.Timeout).
			Msg("Task overran its timeout and was cancelled")
	case ctx.Err() != nil:
		// Shutdown in progress; not a task failure.
	default:
		metrics.TaskRuns.WithLabelValues(task.Name, "error").Inc()
		logging.Error().Err(err).Str("task", task.Name).Dur("elapsed", elapsed).
			Msg("Task run failed")
	}
}
