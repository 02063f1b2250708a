package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:7163" {
		t.Errorf("Expected default listen addr, got %s", cfg.ListenAddr)
	}
	if cfg.Executor != "simcell" {
		t.Errorf("Expected default executor simcell, got %s", cfg.Executor)
	}
	if cfg.Tolerance.Absolute != 1e-9 || cfg.Tolerance.Relative != 1e-6 {
		t.Errorf("Expected default tolerances, got %+v", cfg.Tolerance)
	}
	if cfg.Scheduler.Workers != 2 {
		t.Errorf("Expected 2 workers, got %d", cfg.Scheduler.Workers)
	}
	if cfg.Scheduler.PollInterval != 2*time.Second {
		t.Errorf("Expected 2s poll interval, got %s", cfg.Scheduler.PollInterval)
	}
	if !cfg.RecordStatesEnabled() {
		t.Error("Expected record_states to default on")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
listen_addr: "0.0.0.0:8000"
executor: procexec
record_states: false
tolerance:
  absolute: 1e-6
  relative: 1e-4
scheduler:
  workers: 4
  poll_interval: 500ms
  by_executor:
    procexec: 1
export:
  dsn: "postgres://localhost/aurora"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:8000" {
		t.Errorf("Expected listen addr from file, got %s", cfg.ListenAddr)
	}
	if cfg.Executor != "procexec" {
		t.Errorf("Expected executor procexec, got %s", cfg.Executor)
	}
	if cfg.RecordStatesEnabled() {
		t.Error("Expected record_states false to stick")
	}
	if cfg.Tolerance.Absolute != 1e-6 {
		t.Errorf("Expected absolute tolerance 1e-6, got %g", cfg.Tolerance.Absolute)
	}
	if cfg.Scheduler.PollInterval != 500*time.Millisecond {
		t.Errorf("Expected 500ms poll interval, got %s", cfg.Scheduler.PollInterval)
	}
	if cfg.ExecutorLimit("procexec") != 1 {
		t.Errorf("Expected procexec limit 1, got %d", cfg.ExecutorLimit("procexec"))
	}
	if cfg.ExecutorLimit("simcell") != 4 {
		t.Errorf("Expected fallback limit 4, got %d", cfg.ExecutorLimit("simcell"))
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AURORA_LISTEN_ADDR", "127.0.0.1:9999")
	t.Setenv("AURORA_EXECUTOR", "procexec")
	t.Setenv("AURORA_WORKERS", "8")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("Expected env listen addr, got %s", cfg.ListenAddr)
	}
	if cfg.Executor != "procexec" {
		t.Errorf("Expected env executor, got %s", cfg.Executor)
	}
	if cfg.Scheduler.Workers != 8 {
		t.Errorf("Expected env workers 8, got %d", cfg.Scheduler.Workers)
	}
}

func TestValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("scheduler:\n  workers: -1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected validation error for negative workers")
	}
}
