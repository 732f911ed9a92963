package scheduler

import "time"

// arbitrate is the runner's control loop. It never runs job bodies; it only
// assigns, waits and paces.
func (r *Runner) arbitrate(rn *run) {
	defer r.shutdown(rn)

	// current holds the jobs of the pass being dispatched, next collects the
	// children deferred to the following pass, sent the jobs that ran.
	var current, next, sent []*Job

	for r.active.Load() {
		start := time.Now()
		current = r.snapshotRoots(current[:0])

		passes := 0
		for len(current) > 0 {
			sent = r.pass(current, sent[:0])
			r.barrier.Wait()
			passes++

			// Children are read only after the pass quiesced, so a child
			// scheduled during its parent's run is picked up in this cycle.
			// A job that exited during the pass still hands over its
			// children; its own exit is handled on its next visit.
			next = next[:0]
			for _, j := range sent {
				next = j.appendChildren(next)
			}
			current, next = next, current
		}
		clear(sent)

		exec := time.Since(start)
		r.cycleExec.Store(int64(exec))
		if remaining := r.FrameDelay() - exec; remaining > 0 {
			r.sleep(remaining, rn.stop)
		}

		r.cycleDelta.Store(int64(time.Since(start)))
		r.subCycles.Store(int64(passes))
		r.cycles.Add(1)
	}
}

// pass dispatches one sub-cycle. Exited jobs are unlinked and dropped. It
// returns the jobs that were handed to a worker, appended to sent.
func (r *Runner) pass(jobs, sent []*Job) []*Job {
	for _, j := range jobs {
		if j.Exited() {
			if err := r.Erase(j); err != nil {
				r.logger.Debug("erase exited job", "job", j.Name(), "error", err)
			} else {
				r.logger.Debug("job exited", "job", j.Name(), "exit_code", j.ExitCode())
			}
			continue
		}
		if !r.dispatch(j) {
			r.dropped.Add(1)
			r.logger.Debug("job skipped, no worker available", "job", j.Name())
			continue
		}
		sent = append(sent, j)
	}
	return sent
}

// sleep waits for d or until the run is asked to stop.
func (r *Runner) sleep(d time.Duration, stop <-chan struct{}) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-stop:
	}
}
