// Package write serializes shared-state mutations behind one scheduler job.
//
// Jobs running in parallel enqueue mutations instead of writing shared state
// directly. The coordinator applies the batch once per cycle under an
// exclusive lock; anything scheduled as its child observes the result one
// sub-cycle later.
package write

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/me/framesched/internal/scheduler"
)

// Mutation is a deferred write against shared state.
type Mutation func()

// Coordinator queues mutations and applies them when its job runs.
type Coordinator struct {
	logger *slog.Logger
	job    *scheduler.Job

	// state is held exclusively while a batch applies.
	state sync.Mutex

	queueMu sync.Mutex
	queue   []Mutation

	applied  atomic.Uint64
	failures atomic.Uint64
}

// NewCoordinator creates a coordinator and the job that drives it.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	c := &Coordinator{logger: logger.With("component", "write")}
	c.job = scheduler.NewJob("write", c)
	return c
}

// Job returns the scheduler job that applies queued mutations.
func (c *Coordinator) Job() *scheduler.Job { return c.job }

// Enqueue queues fn for the next application. Safe from any goroutine.
func (c *Coordinator) Enqueue(fn Mutation) {
	if fn == nil {
		return
	}
	c.queueMu.Lock()
	c.queue = append(c.queue, fn)
	c.queueMu.Unlock()
}

// Pending returns the number of queued mutations.
func (c *Coordinator) Pending() int {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return len(c.queue)
}

// Applied returns the number of mutations applied so far.
func (c *Coordinator) Applied() uint64 { return c.applied.Load() }

// Failures returns the number of mutations that panicked.
func (c *Coordinator) Failures() uint64 { return c.failures.Load() }

// Execute applies the pending batch in enqueue order. Mutations enqueued
// while the batch applies wait for the next call.
func (c *Coordinator) Execute() {
	c.queueMu.Lock()
	batch := c.queue
	c.queue = nil
	c.queueMu.Unlock()

	if len(batch) == 0 {
		return
	}

	c.state.Lock()
	defer c.state.Unlock()
	for _, fn := range batch {
		c.apply(fn)
	}
}

func (c *Coordinator) apply(fn Mutation) {
	defer func() {
		if rec := recover(); rec != nil {
			c.failures.Add(1)
			c.logger.Error("mutation failed", "error", fmt.Sprint(rec))
			c.logger.Debug("mutation stack", "stack", string(debug.Stack()))
		}
	}()
	fn()
	c.applied.Add(1)
}

// Lock takes the exclusive state lock, blocking the next batch. It is meant
// for goroutines outside the scheduler that must read or write shared state
// directly; jobs should use Enqueue.
func (c *Coordinator) Lock() { c.state.Lock() }

// Unlock releases the state lock.
func (c *Coordinator) Unlock() { c.state.Unlock() }

// Do runs fn while holding the state lock.
func (c *Coordinator) Do(fn func()) {
	c.state.Lock()
	defer c.state.Unlock()
	fn()
}
