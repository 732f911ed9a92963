package scheduler

import (
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/me/framesched/pkg/model"
)

// worker executes assigned jobs on its own OS thread. The arbiter pushes
// jobs into the inbox; the worker drains it, then counts down the pool's
// shared sub-cycle barrier.
type worker struct {
	id      uint32
	core    int // -1 when not pinned to a core
	pin     bool
	barrier *sync.WaitGroup
	logger  *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	inbox  []*Job
	awake  bool
	active bool
	dead   bool

	elapsed  atomic.Int64
	executed atomic.Uint64
	failures atomic.Uint64
	exited   chan struct{}
}

func newWorker(id uint32, core int, pin bool, barrier *sync.WaitGroup, logger *slog.Logger) *worker {
	w := &worker{
		id:      id,
		core:    core,
		pin:     pin,
		barrier: barrier,
		logger:  logger.With("component", "worker", "worker_id", id),
		exited:  make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// start launches the worker goroutine.
func (w *worker) start() {
	w.mu.Lock()
	w.active = true
	w.mu.Unlock()
	go w.run()
}

// assign queues j and wakes the worker. The first assignment of a sub-cycle
// claims one slot on the barrier. It returns false when the worker can no
// longer accept work.
func (w *worker) assign(j *Job) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dead || !w.active {
		return false
	}
	j.worker.Store(int64(w.id))
	w.inbox = append(w.inbox, j)
	if !w.awake {
		w.awake = true
		w.barrier.Add(1)
		w.cond.Signal()
	}
	return true
}

// stop deactivates the worker and waits for its goroutine to exit. Work
// already queued is drained first.
func (w *worker) stop() {
	w.mu.Lock()
	w.active = false
	w.cond.Broadcast()
	w.mu.Unlock()
	<-w.exited
}

func (w *worker) run() {
	// The goroutine never unlocks, so a pinned thread is discarded when the
	// worker exits instead of returning to the runtime's pool.
	runtime.LockOSThread()
	if w.pin && w.core >= 0 {
		if err := pinThread(w.core); err != nil {
			w.logger.Warn("thread pinning failed", "core", w.core, "error", err)
		} else {
			w.logger.Debug("thread pinned", "core", w.core)
		}
	}

	clean := false
	defer func() { w.finish(clean) }()

	var busy time.Duration
	for {
		batch, ok := w.next()
		if !ok {
			clean = true
			return
		}

		start := time.Now()
		for _, j := range batch {
			w.execute(j)
		}
		busy += time.Since(start)

		if w.settle() {
			w.elapsed.Store(int64(busy))
			busy = 0
		}
	}
}

// next blocks until there is work or the worker is stopped and idle.
func (w *worker) next() ([]*Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for !w.awake && w.active {
		w.cond.Wait()
	}
	if !w.awake {
		return nil, false
	}
	batch := w.inbox
	w.inbox = nil
	return batch, true
}

// settle ends the sub-cycle unless more work arrived while the batch ran.
func (w *worker) settle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.inbox) > 0 {
		return false
	}
	w.awake = false
	w.barrier.Done()
	return true
}

// execute runs one job body. A panic is logged and contained so the rest
// of the batch still runs.
func (w *worker) execute(j *Job) {
	w.executed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			w.failures.Add(1)
			w.logger.Error("job execution failed", "job", j.Name(), "job_id", j.ID(), "panic", r)
			w.logger.Debug("job panic stack", "job", j.Name(), "stack", string(debug.Stack()))
		}
	}()
	if j.body != nil {
		j.body.Execute()
	}
}

// finish runs when the goroutine exits, cleanly or not. A worker that dies
// (for example through runtime.Goexit in a job body) releases its barrier
// slot and refuses further work; nothing replaces it.
func (w *worker) finish(clean bool) {
	w.mu.Lock()
	w.dead = true
	dropped := len(w.inbox)
	w.inbox = nil
	if w.awake {
		w.awake = false
		w.barrier.Done()
	}
	w.mu.Unlock()

	if !clean {
		w.logger.Error("worker exited unexpectedly", "dropped_jobs", dropped)
	}
	close(w.exited)
}

func (w *worker) stats() model.WorkerStats {
	w.mu.Lock()
	awake, active, dead := w.awake, w.active, w.dead
	w.mu.Unlock()
	return model.WorkerStats{
		ID:          w.id,
		Core:        w.core,
		Awake:       awake,
		Active:      active,
		Dead:        dead,
		LastElapsed: time.Duration(w.elapsed.Load()),
		Executed:    w.executed.Load(),
		Failures:    w.failures.Load(),
	}
}
