package scheduler

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// Executable is the single operation a job payload implements. Execute is
// expected to return in bounded time; a blocking body stalls its worker for
// the rest of the cycle.
type Executable interface {
	Execute()
}

// ExecFunc adapts a plain function to Executable for stateless jobs.
type ExecFunc func()

// Execute calls f.
func (f ExecFunc) Execute() { f() }

const noWorker int64 = -1

// jobIDs hands out job identities. IDs also define the lock order used when
// two jobs are locked together.
var jobIDs atomic.Uint64

// Job is a node in the scheduler's job graph. It owns an ordered list of
// child jobs that run one sub-cycle after it, and holds a non-owning
// reference to the parent it is linked under.
type Job struct {
	id   uint64
	name string
	body Executable

	mu       sync.Mutex
	children []*Job
	rooted   bool

	parent   atomic.Pointer[Job]
	exited   atomic.Bool
	exitCode atomic.Int32
	worker   atomic.Int64
}

// NewJob creates an unlinked job running body. An empty name defaults to
// "job-<id>".
func NewJob(name string, body Executable) *Job {
	j := &Job{id: jobIDs.Add(1), body: body}
	if name == "" {
		name = fmt.Sprintf("job-%d", j.id)
	}
	j.name = name
	j.worker.Store(noWorker)
	return j
}

// NewFunc creates a job whose body receives its own handle, so it can
// schedule children or exit itself.
func NewFunc(name string, fn func(j *Job)) *Job {
	j := NewJob(name, nil)
	j.body = ExecFunc(func() { fn(j) })
	return j
}

// ID returns the job's identity.
func (j *Job) ID() uint64 { return j.id }

// Name returns the display name.
func (j *Job) Name() string { return j.name }

func (j *Job) String() string { return j.name }

// Body returns the payload.
func (j *Job) Body() Executable { return j.body }

// Parent returns the job this one is linked under, or nil for roots and
// unlinked jobs.
func (j *Job) Parent() *Job { return j.parent.Load() }

// Children returns a snapshot of the child list.
func (j *Job) Children() []*Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.children)
}

// appendChildren appends the current children to dst under the job lock.
func (j *Job) appendChildren(dst []*Job) []*Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append(dst, j.children...)
}

// Exit marks the job for removal. The arbiter unlinks it the next time it
// visits the job; the current run is not interrupted.
func (j *Job) Exit(code int) {
	j.exitCode.Store(int32(code))
	j.exited.Store(true)
}

// Exited reports whether Exit has been called.
func (j *Job) Exited() bool { return j.exited.Load() }

// ExitCode returns the code passed to Exit.
func (j *Job) ExitCode() int { return int(j.exitCode.Load()) }

// Worker returns the id of the worker the job was last assigned to.
func (j *Job) Worker() (uint32, bool) {
	id := j.worker.Load()
	if id == noWorker {
		return 0, false
	}
	return uint32(id), true
}

// Schedule links child under j. The child runs one sub-cycle after j in
// every cycle it stays linked.
func (j *Job) Schedule(child *Job) error {
	if child == nil {
		return ErrNilJob
	}
	if child == j {
		return fmt.Errorf("schedule %s: %w", j, ErrSelfSchedule)
	}

	unlock := lockPair(j, child)
	defer unlock()

	if child.linkedLocked() {
		return fmt.Errorf("schedule %s under %s: %w", child, j, ErrAlreadyLinked)
	}
	for p := j.parent.Load(); p != nil; p = p.parent.Load() {
		if p == child {
			return fmt.Errorf("schedule %s under %s: %w", child, j, ErrCycle)
		}
	}

	child.parent.Store(j)
	j.children = append(j.children, child)
	return nil
}

// Erase unlinks child from j and clears its parent reference.
func (j *Job) Erase(child *Job) error {
	if child == nil {
		return ErrNilJob
	}
	if child == j {
		return fmt.Errorf("erase %s from itself: %w", j, ErrJobNotFound)
	}

	unlock := lockPair(j, child)
	defer unlock()

	idx := slices.Index(j.children, child)
	if idx < 0 || child.parent.Load() != j {
		return fmt.Errorf("erase %s from %s: %w", child, j, ErrJobNotFound)
	}
	j.children = slices.Delete(j.children, idx, idx+1)
	child.parent.Store(nil)
	return nil
}

// linkedLocked reports whether j already has an owner. Caller holds j.mu.
func (j *Job) linkedLocked() bool {
	return j.rooted || j.parent.Load() != nil
}

// lockPair locks two distinct jobs in id order.
func lockPair(a, b *Job) func() {
	first, second := a, b
	if b.id < a.id {
		first, second = b, a
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}

// countDescendants returns the number of jobs below j.
func countDescendants(j *Job) int {
	n := 0
	stack := j.appendChildren(nil)
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n++
		stack = top.appendChildren(stack)
	}
	return n
}
