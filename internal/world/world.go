// Package world bundles a runner with its write coordinator.
package world

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/framesched/internal/config"
	"github.com/me/framesched/internal/scheduler"
	"github.com/me/framesched/internal/write"
)

// World is the scheduling context shared by the jobs of one program: a
// runner, and the write coordinator scheduled as one of its roots.
type World struct {
	logger  *slog.Logger
	runner  *scheduler.Runner
	writes  *write.Coordinator
	workers int
}

// New creates a stopped world configured from cfg.
func New(cfg config.SchedulerConfig, logger *slog.Logger) (*World, error) {
	r := scheduler.New(scheduler.Options{
		FrameDelay: cfg.FrameDelay(),
		CoreCount:  cfg.Cores,
		PinThreads: cfg.PinThreads,
	}, logger)
	w := &World{
		logger:  logger,
		runner:  r,
		writes:  write.NewCoordinator(logger),
		workers: cfg.Workers,
	}
	if err := r.Schedule(w.writes.Job()); err != nil {
		return nil, fmt.Errorf("schedule write coordinator: %w", err)
	}
	return w, nil
}

// Runner returns the underlying runner.
func (w *World) Runner() *scheduler.Runner { return w.runner }

// Writes returns the write coordinator.
func (w *World) Writes() *write.Coordinator { return w.writes }

// Schedule adds j as a root job.
func (w *World) Schedule(j *scheduler.Job) error { return w.runner.Schedule(j) }

// AfterWrites schedules j under the write coordinator, so it runs one
// sub-cycle after the cycle's mutations were applied.
func (w *World) AfterWrites(j *scheduler.Job) error { return w.writes.Job().Schedule(j) }

// SetRate sets the target cycles per second. Zero or less selects the
// default rate.
func (w *World) SetRate(fps int) {
	w.runner.SetFrameDelay(config.FrameDelayFor(fps))
}

// Rate returns the target cycles per second, rounded.
func (w *World) Rate() int {
	d := w.runner.FrameDelay()
	if d <= 0 {
		return 0
	}
	return int((time.Second + d/2) / d)
}

// Start runs the scheduler with the configured pool size. Detached returns
// immediately; otherwise Start blocks until the world is stopped.
func (w *World) Start(ctx context.Context, detached bool) error {
	return w.runner.Start(ctx, scheduler.StartOptions{Detached: detached, Workers: w.workers})
}

// Stop stops the scheduler. With signalOnly it only requests the stop and
// returns at once, which is the form a job body must use.
func (w *World) Stop(signalOnly bool) {
	if signalOnly {
		w.runner.SignalStop()
		return
	}
	w.runner.Stop()
}
