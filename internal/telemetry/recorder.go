// Package telemetry samples the scheduler's cycle pacing.
package telemetry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/me/framesched/pkg/model"
)

// Source is what the recorder reads each cycle. *scheduler.Runner
// satisfies it.
type Source interface {
	CycleDelta() time.Duration
	CycleExec() time.Duration
	FrameDelay() time.Duration
	Cycles() uint64
}

// Recorder is a job body that samples the previous cycle's duration once
// per cycle into a bounded ring and periodically logs the achieved rate.
type Recorder struct {
	src      Source
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	ring    []model.CycleSample
	written uint64 // total samples ever recorded
	drained uint64 // samples handed out by Drain
	lost    uint64

	lastReport time.Time
	sumRate    float64
	nRate      int
}

// NewRecorder creates a recorder keeping capacity samples. A positive
// interval logs the mean rate once per interval.
func NewRecorder(src Source, capacity int, interval time.Duration, logger *slog.Logger) *Recorder {
	capacity = max(capacity, 1)
	return &Recorder{
		src:      src,
		logger:   logger.With("component", "telemetry"),
		interval: interval,
		now:      time.Now,
		ring:     make([]model.CycleSample, capacity),
	}
}

// Execute records one sample. The first cycle has no measured delta and is
// skipped.
func (r *Recorder) Execute() {
	delta := r.src.CycleDelta()
	if delta <= 0 {
		return
	}
	now := r.now()
	s := model.CycleSample{
		Cycle:      r.src.Cycles(),
		Delta:      delta,
		Exec:       r.src.CycleExec(),
		FrameDelay: r.src.FrameDelay(),
		Rate:       model.RateOf(delta),
		At:         now,
	}

	r.mu.Lock()
	r.ring[r.written%uint64(len(r.ring))] = s
	r.written++
	if r.written-r.drained > uint64(len(r.ring)) {
		r.drained++
		r.lost++
	}
	r.sumRate += s.Rate
	r.nRate++

	var report bool
	var mean float64
	if r.interval > 0 {
		if r.lastReport.IsZero() {
			r.lastReport = now
		} else if now.Sub(r.lastReport) >= r.interval {
			report, mean = true, r.sumRate/float64(r.nRate)
			r.lastReport, r.sumRate, r.nRate = now, 0, 0
		}
	}
	r.mu.Unlock()

	if report {
		r.logger.Info("cycle rate", "fps", mean, "target_fps", model.RateOf(s.FrameDelay), "cycle", s.Cycle)
	}
}

// Latest returns the most recent sample.
func (r *Recorder) Latest() (model.CycleSample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.written == 0 {
		return model.CycleSample{}, false
	}
	return r.ring[(r.written-1)%uint64(len(r.ring))], true
}

// Recent returns up to n of the newest samples, oldest first.
func (r *Recorder) Recent(n int) []model.CycleSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	avail := min(r.written, uint64(len(r.ring)))
	k := min(uint64(max(n, 0)), avail)
	return r.copyRange(r.written-k, r.written)
}

// Drain returns the samples recorded since the previous Drain, oldest
// first. Samples overwritten before they were drained are counted by Lost.
func (r *Recorder) Drain() []model.CycleSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.copyRange(r.drained, r.written)
	r.drained = r.written
	return out
}

// Lost returns the number of samples overwritten before being drained.
func (r *Recorder) Lost() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lost
}

func (r *Recorder) copyRange(from, to uint64) []model.CycleSample {
	out := make([]model.CycleSample, 0, to-from)
	size := uint64(len(r.ring))
	for i := from; i < to; i++ {
		out = append(out, r.ring[i%size])
	}
	return out
}
