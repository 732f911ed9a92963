package scheduler

import "errors"

// Configuration errors, returned at the call site.
var (
	ErrAlreadyRunning     = errors.New("scheduler is already running")
	ErrTooManyWorkers     = errors.New("requested more workers than available cores")
	ErrNoFreeCores        = errors.New("no more cores available")
	ErrInvalidWorkerCount = errors.New("worker count must not be negative")
)

// Graph mutation errors.
var (
	ErrNilJob        = errors.New("job is nil")
	ErrSelfSchedule  = errors.New("job cannot schedule itself")
	ErrCycle         = errors.New("cyclic job dependency detected")
	ErrAlreadyLinked = errors.New("job is already linked into the graph")
	ErrJobNotFound   = errors.New("job not found")
)
