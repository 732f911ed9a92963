package model

import "time"

// RunnerStats is a point-in-time snapshot of the scheduler.
type RunnerStats struct {
	State      string        `json:"state"`
	Cycles     uint64        `json:"cycles"`
	SubCycles  int           `json:"sub_cycles"`
	CycleDelta time.Duration `json:"cycle_delta_ns"`
	CycleExec  time.Duration `json:"cycle_exec_ns"`
	FrameDelay time.Duration `json:"frame_delay_ns"`
	Rate       float64       `json:"rate"`
	Workers    int           `json:"workers"`
	Jobs       int           `json:"jobs"`
	Dropped    uint64        `json:"dropped"`
}

// WorkerStats describes one worker of the pool.
type WorkerStats struct {
	ID          uint32        `json:"id"`
	Core        int           `json:"core"`
	Awake       bool          `json:"awake"`
	Active      bool          `json:"active"`
	Dead        bool          `json:"dead"`
	LastElapsed time.Duration `json:"last_elapsed_ns"`
	Executed    uint64        `json:"executed"`
	Failures    uint64        `json:"failures"`
}

// CycleSample is one telemetry reading of the cycle pacer. Delta covers the
// whole cycle including the pacing sleep; Exec stops before the sleep.
type CycleSample struct {
	Cycle      uint64        `json:"cycle"`
	Delta      time.Duration `json:"delta_ns"`
	Exec       time.Duration `json:"exec_ns"`
	FrameDelay time.Duration `json:"frame_delay_ns"`
	Rate       float64       `json:"rate"`
	At         time.Time     `json:"at"`
}

// Overrun reports whether the cycle's work alone ran past its budget.
func (s CycleSample) Overrun() bool {
	return s.FrameDelay > 0 && s.Exec > s.FrameDelay
}

// Run is one recorded scheduler session.
type Run struct {
	ID          string        `json:"id"`
	Host        string        `json:"host"`
	Workers     int           `json:"workers"`
	FrameDelay  time.Duration `json:"frame_delay_ns"`
	StartedAt   time.Time     `json:"started_at"`
	StoppedAt   *time.Time    `json:"stopped_at,omitempty"`
	Cycles      uint64        `json:"cycles"`
	SampleCount int           `json:"sample_count"`
}

// RateOf converts a cycle duration into cycles per second.
func RateOf(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(time.Second) / float64(d)
}
