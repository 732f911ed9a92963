// Package scheduler implements a frame-synchronized job scheduler: a pool of
// core-pinned workers that repeatedly executes a graph of jobs, one paced
// cycle at a time.
//
// A cycle dispatches every root job round-robin across the workers, waits for
// the pool to quiesce, then dispatches the children of the jobs that ran and
// waits again, until no deferred work remains. The remainder of the frame
// budget is slept away.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/bits"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/me/framesched/pkg/model"
)

// maxCores is the width of the free-core mask.
const maxCores = 64

// State is the runner lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Options configures a Runner.
type Options struct {
	// FrameDelay is the target cycle duration. Zero runs cycles back to back.
	FrameDelay time.Duration
	// CoreCount overrides the number of cores the runner may claim. Zero
	// uses runtime.NumCPU(). At most 64 cores are used.
	CoreCount int
	// PinThreads pins each worker thread to the core it claimed.
	PinThreads bool
}

// DefaultOptions returns a 60 Hz runner with thread pinning enabled.
func DefaultOptions() Options {
	return Options{
		FrameDelay: time.Second / 60,
		PinThreads: true,
	}
}

// StartOptions selects how Start runs the arbiter.
type StartOptions struct {
	// Detached runs the arbiter on its own goroutine (on its own core) and
	// returns immediately. Otherwise Start blocks until the runner stops.
	Detached bool
	// Workers is the pool size. Zero means one per core, minus the core
	// reserved for a detached arbiter; a detached start on a single core
	// therefore begins with an empty pool.
	Workers int
}

// run holds the channels of one Start..Stop lifetime.
type run struct {
	stop chan struct{}
	once sync.Once
	done chan struct{}
}

func (r *run) signal() { r.once.Do(func() { close(r.stop) }) }

// Runner owns the root job set and the worker pool, and drives cycles.
type Runner struct {
	logger    *slog.Logger
	pin       bool
	coreCount int

	frameDelay atomic.Int64
	cycleDelta atomic.Int64
	cycleExec  atomic.Int64
	cycles     atomic.Uint64
	subCycles  atomic.Int64
	dropped    atomic.Uint64
	state      atomic.Int32
	active     atomic.Bool

	rootMu sync.Mutex
	roots  []*Job

	poolMu sync.Mutex
	pool   map[uint32]*worker
	nextID uint32

	freeCores atomic.Uint64
	barrier   sync.WaitGroup

	// cursor is the round-robin position; only the arbiter touches it.
	cursor uint32

	runMu   sync.Mutex
	current *run
}

// New creates a stopped runner.
func New(opts Options, logger *slog.Logger) *Runner {
	cores := opts.CoreCount
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	cores = min(cores, maxCores)

	r := &Runner{
		logger:    logger.With("component", "runner"),
		pin:       opts.PinThreads,
		coreCount: cores,
		pool:      make(map[uint32]*worker),
	}
	if cores == maxCores {
		r.freeCores.Store(^uint64(0))
	} else {
		r.freeCores.Store(uint64(1)<<cores - 1)
	}
	r.SetFrameDelay(opts.FrameDelay)
	return r
}

// CoreCount returns the number of cores the runner was configured with.
func (r *Runner) CoreCount() int { return r.coreCount }

// State returns the lifecycle state.
func (r *Runner) State() State { return State(r.state.Load()) }

// FrameDelay returns the target cycle duration.
func (r *Runner) FrameDelay() time.Duration { return time.Duration(r.frameDelay.Load()) }

// SetFrameDelay changes the target cycle duration. It takes effect at the
// end of the current cycle.
func (r *Runner) SetFrameDelay(d time.Duration) { r.frameDelay.Store(int64(max(d, 0))) }

// CycleDelta returns the measured duration of the last full cycle,
// including the pacing sleep.
func (r *Runner) CycleDelta() time.Duration { return time.Duration(r.cycleDelta.Load()) }

// CycleExec returns how long the last cycle's passes took, excluding the
// pacing sleep.
func (r *Runner) CycleExec() time.Duration { return time.Duration(r.cycleExec.Load()) }

// Cycles returns the number of completed cycles.
func (r *Runner) Cycles() uint64 { return r.cycles.Load() }

// Start validates the pool size, spawns the workers and runs the arbiter.
// In blocking mode it returns once the runner is stopped; it returns
// ctx.Err() when the stop was caused by ctx. Cancelling ctx stops the runner
// in either mode.
func (r *Runner) Start(ctx context.Context, so StartOptions) error {
	if so.Workers < 0 {
		return fmt.Errorf("start with %d workers: %w", so.Workers, ErrInvalidWorkerCount)
	}
	if !r.state.CompareAndSwap(int32(StateStopped), int32(StateRunning)) {
		return ErrAlreadyRunning
	}

	reserve := 0
	if so.Detached {
		reserve = 1
	}
	count := so.Workers
	if count == 0 {
		count = r.coreCount - reserve
	}
	if count+reserve > r.coreCount {
		r.state.Store(int32(StateStopped))
		return fmt.Errorf("%w: %d workers (+%d arbiter) on %d cores", ErrTooManyWorkers, count, reserve, r.coreCount)
	}
	if free := bits.OnesCount64(r.freeCores.Load()); count+reserve > free {
		r.state.Store(int32(StateStopped))
		return fmt.Errorf("%w: need %d, %d unclaimed", ErrNoFreeCores, count+reserve, free)
	}

	rn := &run{stop: make(chan struct{}), done: make(chan struct{})}
	r.runMu.Lock()
	r.current = rn
	r.runMu.Unlock()
	r.active.Store(true)

	for i := 0; i < count; i++ {
		if err := r.PushWorker(); err != nil {
			r.active.Store(false)
			r.shutdown(rn)
			return fmt.Errorf("start worker %d: %w", i, err)
		}
	}

	release := context.AfterFunc(ctx, r.SignalStop)

	r.logger.Info("scheduler started",
		"workers", count,
		"detached", so.Detached,
		"frame_delay", r.FrameDelay(),
		"cores", r.coreCount,
	)

	if so.Detached {
		core, err := r.claimCore()
		if err != nil {
			r.logger.Warn("arbiter core unavailable", "error", err)
		}
		go func() {
			runtime.LockOSThread()
			if r.pin && core >= 0 {
				if err := pinThread(core); err != nil {
					r.logger.Warn("arbiter pinning failed", "core", core, "error", err)
				}
			}
			defer release()
			r.arbitrate(rn)
		}()
		return nil
	}

	r.arbitrate(rn)
	release()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// Stop requests a stop and blocks until every worker has been joined. It
// must not be called from a job body, since the calling worker would wait
// on itself; use SignalStop there.
func (r *Runner) Stop() {
	r.runMu.Lock()
	rn := r.current
	r.runMu.Unlock()
	if rn == nil {
		return
	}
	r.SignalStop()
	<-rn.done
}

// SignalStop asks the arbiter to stop at the top of its next loop. Work in
// the current sub-cycle completes. Safe to call from any goroutine,
// including job bodies.
func (r *Runner) SignalStop() {
	r.active.Store(false)
	r.runMu.Lock()
	rn := r.current
	r.runMu.Unlock()
	if rn != nil {
		rn.signal()
	}
}

// Done returns a channel closed when the current (or last) run has fully
// drained. It is nil before the first Start.
func (r *Runner) Done() <-chan struct{} {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.current == nil {
		return nil
	}
	return r.current.done
}

// shutdown drains the pool and releases anyone blocked in Stop.
func (r *Runner) shutdown(rn *run) {
	r.state.Store(int32(StateDraining))
	for r.PopWorker() {
	}
	r.state.Store(int32(StateStopped))
	rn.signal()
	close(rn.done)
	r.logger.Info("scheduler stopped", "cycles", r.Cycles())
}

// Schedule adds j to the root set.
func (r *Runner) Schedule(j *Job) error {
	if j == nil {
		return ErrNilJob
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.linkedLocked() {
		return fmt.Errorf("schedule %s: %w", j, ErrAlreadyLinked)
	}

	r.rootMu.Lock()
	r.roots = append(r.roots, j)
	r.rootMu.Unlock()
	j.rooted = true
	return nil
}

// Erase removes j from the graph, whether it is a root or a child.
func (r *Runner) Erase(j *Job) error {
	if j == nil {
		return ErrNilJob
	}
	if p := j.Parent(); p != nil {
		return p.Erase(j)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.rooted {
		return fmt.Errorf("erase %s: %w", j, ErrJobNotFound)
	}

	r.rootMu.Lock()
	defer r.rootMu.Unlock()
	idx := slices.Index(r.roots, j)
	if idx < 0 {
		return fmt.Errorf("erase %s: %w", j, ErrJobNotFound)
	}
	r.roots = slices.Delete(r.roots, idx, idx+1)
	j.rooted = false
	return nil
}

// Roots returns a snapshot of the root set.
func (r *Runner) Roots() []*Job {
	return r.snapshotRoots(nil)
}

func (r *Runner) snapshotRoots(dst []*Job) []*Job {
	r.rootMu.Lock()
	defer r.rootMu.Unlock()
	return append(dst, r.roots...)
}

// JobCount returns the number of jobs in the whole graph.
func (r *Runner) JobCount() int {
	roots := r.snapshotRoots(nil)
	n := len(roots)
	for _, j := range roots {
		n += countDescendants(j)
	}
	return n
}

// Stats returns a telemetry snapshot.
func (r *Runner) Stats() model.RunnerStats {
	return model.RunnerStats{
		State:      r.State().String(),
		Cycles:     r.Cycles(),
		SubCycles:  int(r.subCycles.Load()),
		CycleDelta: r.CycleDelta(),
		CycleExec:  r.CycleExec(),
		FrameDelay: r.FrameDelay(),
		Rate:       model.RateOf(r.CycleDelta()),
		Workers:    r.WorkerCount(),
		Jobs:       r.JobCount(),
		Dropped:    r.dropped.Load(),
	}
}
