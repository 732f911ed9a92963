package scheduler

import (
	"cmp"
	"math/bits"
	"slices"

	"github.com/me/framesched/pkg/model"
)

// claimCore takes the lowest free core from the mask. Claimed cores are
// never returned.
func (r *Runner) claimCore() (int, error) {
	for {
		mask := r.freeCores.Load()
		if mask == 0 {
			return -1, ErrNoFreeCores
		}
		low := mask & -mask
		if r.freeCores.CompareAndSwap(mask, mask&^low) {
			return bits.TrailingZeros64(low), nil
		}
	}
}

// PushWorker adds a worker bound to the lowest free core.
func (r *Runner) PushWorker() error {
	core, err := r.claimCore()
	if err != nil {
		return err
	}

	r.poolMu.Lock()
	defer r.poolMu.Unlock()
	id := r.nextID
	r.nextID++
	w := newWorker(id, core, r.pin, &r.barrier, r.logger)
	r.pool[id] = w
	w.start()
	r.logger.Debug("worker added", "worker_id", id, "core", core)
	return nil
}

// PopWorker stops and removes the highest-id worker, waiting for it to
// finish any queued work. It returns false when the pool is empty.
func (r *Runner) PopWorker() bool {
	r.poolMu.Lock()
	if len(r.pool) == 0 {
		r.poolMu.Unlock()
		return false
	}
	r.nextID--
	w, ok := r.pool[r.nextID]
	delete(r.pool, r.nextID)
	r.poolMu.Unlock()

	if ok {
		w.stop()
		r.logger.Debug("worker removed", "worker_id", w.id)
	}
	return true
}

// WorkerCount returns the number of workers in the pool.
func (r *Runner) WorkerCount() int {
	r.poolMu.Lock()
	defer r.poolMu.Unlock()
	return len(r.pool)
}

// WorkerStats returns per-worker telemetry ordered by id.
func (r *Runner) WorkerStats() []model.WorkerStats {
	r.poolMu.Lock()
	workers := make([]*worker, 0, len(r.pool))
	for _, w := range r.pool {
		workers = append(workers, w)
	}
	r.poolMu.Unlock()

	out := make([]model.WorkerStats, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.stats())
	}
	slices.SortFunc(out, func(a, b model.WorkerStats) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// dispatch assigns j to the next worker in round-robin order. A missing
// worker id (the pool shrank) wraps the cursor and retries; an empty pool or
// a dead worker drops the job for this pass.
func (r *Runner) dispatch(j *Job) bool {
	r.poolMu.Lock()
	defer r.poolMu.Unlock()

	for tries := 0; tries <= len(r.pool); tries++ {
		if len(r.pool) == 0 {
			return false
		}
		if r.cursor >= r.nextID {
			r.cursor = 0
		}
		w, ok := r.pool[r.cursor]
		r.cursor++
		if !ok {
			r.cursor = 0
			continue
		}
		return w.assign(j)
	}
	return false
}
