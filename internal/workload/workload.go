// Package workload builds the jobs described in the configuration and
// schedules them into a world.
package workload

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/me/framesched/internal/config"
	"github.com/me/framesched/internal/scheduler"
	"github.com/me/framesched/internal/script"
	"github.com/me/framesched/internal/world"
)

// Workload is the set of jobs built from a configuration.
type Workload struct {
	world  *world.World
	logger *slog.Logger

	jobs    []*scheduler.Job
	scripts []*script.Script

	// counter is shared state, written only through the write coordinator.
	counter int64
	spins   atomic.Uint64
	chained atomic.Uint64
}

// Options tunes job construction.
type Options struct {
	// ScriptTimeout interrupts a script run that takes longer.
	ScriptTimeout time.Duration
}

// Build creates every job in specs and schedules it into w. Nothing is
// scheduled when any job definition fails to build.
func Build(w *world.World, specs []config.JobSpec, opts Options, logger *slog.Logger) (*Workload, error) {
	wl := &Workload{world: w, logger: logger.With("component", "workload")}

	type placed struct {
		job         *scheduler.Job
		afterWrites bool
	}
	var built []placed
	for i, spec := range specs {
		count := max(spec.Count, 1)
		for n := range count {
			name := spec.Name
			if name == "" {
				name = fmt.Sprintf("%s-%d", spec.Kind, i)
			}
			if count > 1 {
				name = fmt.Sprintf("%s-%d", name, n)
			}
			j, err := wl.build(name, spec, opts)
			if err != nil {
				return nil, fmt.Errorf("job %s: %w", name, err)
			}
			built = append(built, placed{j, spec.AfterWrites})
		}
	}

	for _, p := range built {
		var err error
		if p.afterWrites {
			err = w.AfterWrites(p.job)
		} else {
			err = w.Schedule(p.job)
		}
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", p.job, err)
		}
		wl.jobs = append(wl.jobs, p.job)
	}
	wl.logger.Info("workload scheduled", "jobs", len(wl.jobs))
	return wl, nil
}

func (wl *Workload) build(name string, spec config.JobSpec, opts Options) (*scheduler.Job, error) {
	switch spec.Kind {
	case config.KindSpin:
		d := spec.Duration
		return scheduler.NewJob(name, scheduler.ExecFunc(func() {
			spin(d)
			wl.spins.Add(1)
		})), nil

	case config.KindCounter:
		return scheduler.NewJob(name, scheduler.ExecFunc(func() {
			wl.world.Writes().Enqueue(func() { wl.counter++ })
		})), nil

	case config.KindScript:
		src := spec.Script
		if spec.File != "" {
			data, err := os.ReadFile(spec.File)
			if err != nil {
				return nil, fmt.Errorf("read script: %w", err)
			}
			src = string(data)
		}
		s, err := script.New(name, src, wl.world.Runner(), script.Options{Timeout: opts.ScriptTimeout}, wl.logger)
		if err != nil {
			return nil, err
		}
		wl.scripts = append(wl.scripts, s)
		return s.Job(), nil

	case config.KindChain:
		depth := spec.Depth
		return scheduler.NewFunc(name, func(j *scheduler.Job) {
			wl.chain(j, depth)
		}), nil
	}
	return nil, fmt.Errorf("unknown kind %q", spec.Kind)
}

// chain schedules a one-shot child under parent that in turn schedules the
// next link, depth-1 times. Each link runs one sub-cycle after the previous.
func (wl *Workload) chain(parent *scheduler.Job, depth int) {
	if depth <= 0 {
		return
	}
	link := scheduler.NewFunc(fmt.Sprintf("%s.%d", parent.Name(), depth), func(j *scheduler.Job) {
		wl.chained.Add(1)
		wl.chain(j, depth-1)
		j.Exit(0)
	})
	if err := parent.Schedule(link); err != nil {
		wl.logger.Warn("chain link not scheduled", "parent", parent.Name(), "error", err)
	}
}

// spin busy-waits for d on the calling worker.
func spin(d time.Duration) {
	for start := time.Now(); time.Since(start) < d; {
	}
}

// Jobs returns the scheduled jobs in build order.
func (wl *Workload) Jobs() []*scheduler.Job { return wl.jobs }

// Counter returns the shared counter, read under the coordinator's lock.
func (wl *Workload) Counter() int64 {
	var n int64
	wl.world.Writes().Do(func() { n = wl.counter })
	return n
}

// Spins returns the number of completed spin runs.
func (wl *Workload) Spins() uint64 { return wl.spins.Load() }

// Chained returns the number of chain links that ran.
func (wl *Workload) Chained() uint64 { return wl.chained.Load() }

// Scripts returns the script jobs.
func (wl *Workload) Scripts() []*script.Script { return wl.scripts }
