package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Scheduler.FrameDelay() != time.Second/60 {
		t.Errorf("FrameDelay() = %s, want 1/60s", cfg.Scheduler.FrameDelay())
	}
}

func TestFrameDelayFor(t *testing.T) {
	tests := []struct {
		fps  int
		want time.Duration
	}{
		{0, time.Second / 60},
		{-5, time.Second / 60},
		{100, 10 * time.Millisecond},
		{1, time.Second},
	}
	for _, tt := range tests {
		if got := FrameDelayFor(tt.fps); got != tt.want {
			t.Errorf("FrameDelayFor(%d) = %s, want %s", tt.fps, got, tt.want)
		}
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framesched.yaml")
	data := `
scheduler:
  fps: 100
  workers: 2
log:
  format: json
telemetry:
  report_interval: 250ms
workload:
  jobs:
    - name: busy
      kind: spin
      count: 4
      duration: 1ms
    - name: hello
      kind: script
      script: "log('hi')"
      after_writes: true
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.FPS != 100 || cfg.Scheduler.Workers != 2 {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	// Unset keys keep their defaults.
	if !cfg.Scheduler.PinThreads {
		t.Error("pin_threads default lost")
	}
	if cfg.Server.Addr != "127.0.0.1:8090" {
		t.Errorf("server.addr = %q, want default", cfg.Server.Addr)
	}
	if cfg.Telemetry.ReportInterval != 250*time.Millisecond {
		t.Errorf("report_interval = %s, want 250ms", cfg.Telemetry.ReportInterval)
	}
	if len(cfg.Workload.Jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(cfg.Workload.Jobs))
	}
	if j := cfg.Workload.Jobs[0]; j.Kind != KindSpin || j.Count != 4 || j.Duration != time.Millisecond {
		t.Errorf("jobs[0] = %+v", j)
	}
	if !cfg.Workload.Jobs[1].AfterWrites {
		t.Error("jobs[1].after_writes not parsed")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("scheduler: [1, 2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"negative fps", func(c *Config) { c.Scheduler.FPS = -1 }, "scheduler.fps"},
		{"negative workers", func(c *Config) { c.Scheduler.Workers = -2 }, "scheduler.workers"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"zero capacity", func(c *Config) { c.Telemetry.Capacity = 0 }, "telemetry.capacity"},
		{"no addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"unknown kind", func(c *Config) {
			c.Workload.Jobs = []JobSpec{{Kind: "teleport"}}
		}, `unknown kind "teleport"`},
		{"script without source", func(c *Config) {
			c.Workload.Jobs = []JobSpec{{Kind: KindScript}}
		}, "exactly one of script or file"},
		{"script with both", func(c *Config) {
			c.Workload.Jobs = []JobSpec{{Kind: KindScript, Script: "1", File: "a.js"}}
		}, "exactly one of script or file"},
		{"negative count", func(c *Config) {
			c.Workload.Jobs = []JobSpec{{Kind: KindCounter, Count: -1}}
		}, "count must be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolveDBPath_Explicit(t *testing.T) {
	c := TelemetryConfig{DBPath: ":memory:"}
	got, err := c.ResolveDBPath()
	if err != nil || got != ":memory:" {
		t.Errorf("ResolveDBPath() = %q, %v", got, err)
	}
}
