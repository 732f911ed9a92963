// Package script runs JavaScript job bodies through goja.
//
// A script is compiled once and re-run every cycle on the same runtime, so
// globals persist between cycles. The runtime exposes:
//
//	cycle        number of completed scheduler cycles
//	log(...)     log the arguments at INFO
//	exit(code)   mark the job exited; it is unlinked before its next run
//	spawn(src)   schedule src as a one-shot child, run one sub-cycle later
package script

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"

	"github.com/me/framesched/internal/scheduler"
)

// Clock reports the scheduler's cycle count. *scheduler.Runner satisfies it.
type Clock interface {
	Cycles() uint64
}

// Options tunes a script job.
type Options struct {
	// Timeout interrupts a run that takes longer. Zero disables it.
	Timeout time.Duration
	// OneShot exits the job after its first run.
	OneShot bool
}

// Script is a job body backed by a goja runtime.
type Script struct {
	name   string
	clock  Clock
	opts   Options
	base   *slog.Logger
	logger *slog.Logger

	prog *goja.Program
	vm   *goja.Runtime
	job  *scheduler.Job

	runs     atomic.Uint64
	failures atomic.Uint64
	spawned  atomic.Uint64
}

// New compiles src and returns the script with its job.
func New(name, src string, clock Clock, opts Options, logger *slog.Logger) (*Script, error) {
	prog, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, fmt.Errorf("compile script %s: %w", name, err)
	}
	s := &Script{
		name:   name,
		clock:  clock,
		opts:   opts,
		base:   logger,
		logger: logger.With("component", "script", "script", name),
		prog:   prog,
	}
	s.job = scheduler.NewJob(name, s)
	if err := s.setupVM(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Script) setupVM() error {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	if err := vm.Set("log", s.jsLog); err != nil {
		return fmt.Errorf("set log: %w", err)
	}
	if err := vm.Set("exit", func(code int) { s.job.Exit(code) }); err != nil {
		return fmt.Errorf("set exit: %w", err)
	}
	if err := vm.Set("spawn", func(call goja.FunctionCall) goja.Value {
		return s.jsSpawn(vm, call)
	}); err != nil {
		return fmt.Errorf("set spawn: %w", err)
	}
	s.vm = vm
	return nil
}

// Job returns the scheduler job running this script.
func (s *Script) Job() *scheduler.Job { return s.job }

// Runs returns the number of completed runs, failed ones included.
func (s *Script) Runs() uint64 { return s.runs.Load() }

// Failures returns the number of runs that threw or were interrupted.
func (s *Script) Failures() uint64 { return s.failures.Load() }

// Execute runs the program once. A job never runs concurrently with itself,
// so the runtime is only touched by one worker at a time.
func (s *Script) Execute() {
	defer s.runs.Add(1)
	if s.opts.OneShot {
		defer s.job.Exit(0)
	}

	if err := s.vm.Set("cycle", s.clock.Cycles()); err != nil {
		s.fail(err)
		return
	}

	if s.opts.Timeout > 0 {
		// finished keeps a late timer from interrupting the next run.
		var mu sync.Mutex
		finished := false
		t := time.AfterFunc(s.opts.Timeout, func() {
			mu.Lock()
			defer mu.Unlock()
			if !finished {
				s.vm.Interrupt("timeout")
			}
		})
		defer func() {
			mu.Lock()
			finished = true
			mu.Unlock()
			t.Stop()
			s.vm.ClearInterrupt()
		}()
	}

	if _, err := s.vm.RunProgram(s.prog); err != nil {
		s.fail(err)
	}
}

func (s *Script) fail(err error) {
	s.failures.Add(1)
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		s.logger.Warn("script interrupted", "timeout", s.opts.Timeout)
		return
	}
	s.logger.Warn("script failed", "error", err)
}

func (s *Script) jsLog(call goja.FunctionCall) goja.Value {
	parts := make([]string, len(call.Arguments))
	for i, a := range call.Arguments {
		parts[i] = a.String()
	}
	s.logger.Info(strings.Join(parts, " "), "cycle", s.clock.Cycles())
	return goja.Undefined()
}

// jsSpawn compiles its argument and schedules it as a one-shot child.
func (s *Script) jsSpawn(vm *goja.Runtime, call goja.FunctionCall) goja.Value {
	src := call.Argument(0).String()
	n := s.spawned.Add(1)
	child, err := New(fmt.Sprintf("%s/%d", s.name, n), src, s.clock,
		Options{Timeout: s.opts.Timeout, OneShot: true}, s.base)
	if err != nil {
		panic(vm.NewGoError(err))
	}
	if err := s.job.Schedule(child.job); err != nil {
		panic(vm.NewGoError(err))
	}
	return vm.ToValue(child.job.Name())
}
