// Package config holds the framesched configuration: scheduler sizing, log
// output, telemetry persistence, the HTTP API and the job workload.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFPS is the rate used when none (or zero) is configured.
const DefaultFPS = 60

// Config is the top-level configuration file.
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Server    ServerConfig    `yaml:"server"`
	Workload  WorkloadConfig  `yaml:"workload"`
}

// SchedulerConfig sizes the runner.
type SchedulerConfig struct {
	FPS        int  `yaml:"fps"`         // Target cycles per second (0 = 60)
	Workers    int  `yaml:"workers"`     // Pool size (0 = one per core)
	Cores      int  `yaml:"cores"`       // Core count override (0 = all)
	Detached   bool `yaml:"detached"`    // Run the arbiter on its own core
	PinThreads bool `yaml:"pin_threads"` // Pin workers to their cores
}

// LogConfig selects log output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json, auto
}

// TelemetryConfig controls rate sampling and its persistence.
type TelemetryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	DBPath         string        `yaml:"db_path"`         // SQLite path (empty = ~/.framesched/framesched.db, ":memory:" for testing)
	Capacity       int           `yaml:"capacity"`        // Samples kept in memory
	ReportInterval time.Duration `yaml:"report_interval"` // Rate log period (0 = never)
	FlushInterval  time.Duration `yaml:"flush_interval"`  // Store flush period
}

// ServerConfig holds configuration for the telemetry API.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"` // Listen address (default "127.0.0.1:8090")
}

// WorkloadConfig lists the root jobs to schedule at startup.
type WorkloadConfig struct {
	Jobs []JobSpec `yaml:"jobs"`
}

// Job kinds understood by the workload builder.
const (
	KindSpin    = "spin"
	KindCounter = "counter"
	KindScript  = "script"
	KindChain   = "chain"
)

// JobSpec describes one job (or Count identical jobs).
type JobSpec struct {
	Name     string        `yaml:"name"`
	Kind     string        `yaml:"kind"`
	Count    int           `yaml:"count"`    // Copies to schedule (0 = 1)
	Duration time.Duration `yaml:"duration"` // spin: busy time per run
	Script   string        `yaml:"script"`   // script: inline source
	File     string        `yaml:"file"`     // script: source file
	Depth    int           `yaml:"depth"`    // chain: one-shot children per run
	// AfterWrites runs the job one sub-cycle after the write coordinator
	// instead of as a root.
	AfterWrites bool `yaml:"after_writes"`
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		Scheduler: SchedulerConfig{
			FPS:        DefaultFPS,
			PinThreads: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Enabled:        true,
			Capacity:       1024,
			ReportInterval: 5 * time.Second,
			FlushInterval:  time.Second,
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8090",
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// FrameDelay converts the configured rate into a cycle budget.
func (c SchedulerConfig) FrameDelay() time.Duration {
	return FrameDelayFor(c.FPS)
}

// FrameDelayFor returns the cycle budget for fps; zero or negative falls
// back to DefaultFPS.
func FrameDelayFor(fps int) time.Duration {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return time.Second / time.Duration(fps)
}

// Validate reports every problem found in the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.Scheduler.FPS < 0 {
		errs = append(errs, fmt.Errorf("scheduler.fps must be >= 0, got %d", c.Scheduler.FPS))
	}
	if c.Scheduler.Workers < 0 {
		errs = append(errs, fmt.Errorf("scheduler.workers must be >= 0, got %d", c.Scheduler.Workers))
	}
	if c.Scheduler.Cores < 0 {
		errs = append(errs, fmt.Errorf("scheduler.cores must be >= 0, got %d", c.Scheduler.Cores))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json", "auto":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json, auto", c.Log.Format))
	}
	if c.Telemetry.Enabled && c.Telemetry.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("telemetry.capacity must be > 0, got %d", c.Telemetry.Capacity))
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required when the server is enabled"))
	}
	for i, js := range c.Workload.Jobs {
		if err := js.validate(); err != nil {
			errs = append(errs, fmt.Errorf("workload.jobs[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (js JobSpec) validate() error {
	if js.Count < 0 {
		return fmt.Errorf("count must be >= 0, got %d", js.Count)
	}
	switch js.Kind {
	case KindSpin:
		if js.Duration < 0 {
			return fmt.Errorf("spin duration must be >= 0, got %s", js.Duration)
		}
	case KindCounter:
	case KindScript:
		if (js.Script == "") == (js.File == "") {
			return errors.New("script jobs need exactly one of script or file")
		}
	case KindChain:
		if js.Depth < 0 {
			return fmt.Errorf("chain depth must be >= 0, got %d", js.Depth)
		}
	default:
		return fmt.Errorf("unknown kind %q", js.Kind)
	}
	return nil
}

// ResolveDBPath returns the telemetry database path, creating the default
// ~/.framesched directory when no path is configured.
func (c TelemetryConfig) ResolveDBPath() (string, error) {
	if c.DBPath != "" {
		return c.DBPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".framesched")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create %s: %w", dir, err)
	}
	return filepath.Join(dir, "framesched.db"), nil
}
