// Package config loads the daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration. Values come from the YAML file,
// AURORA_* environment variables override the file, and anything left unset
// falls back to a default.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	DBPath      string `yaml:"db_path"`
	WorkRoot    string `yaml:"work_root"`
	Executor    string `yaml:"executor"`
	APIToken    string `yaml:"api_token"`

	// RecordStates controls SampleState emission on matching runs. Pointer so
	// an absent key defaults to on without clobbering an explicit false.
	RecordStates *bool `yaml:"record_states"`

	Tolerance ToleranceConfig `yaml:"tolerance"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Export    ExportConfig    `yaml:"export"`
	Audit     AuditConfig     `yaml:"audit"`
}

// ToleranceConfig is the numeric comparison envelope for classification.
type ToleranceConfig struct {
	Absolute float64 `yaml:"absolute"`
	Relative float64 `yaml:"relative"`
}

// SchedulerConfig bounds the daemon's worker pool.
type SchedulerConfig struct {
	Workers      int            `yaml:"workers"`
	PollInterval time.Duration  `yaml:"poll_interval"`
	ByExecutor   map[string]int `yaml:"by_executor"`
}

// ExportConfig points the state export sink at a Postgres/Timescale DSN.
type ExportConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// AuditConfig locates the provenance trail file.
type AuditConfig struct {
	TrailPath string `yaml:"trail_path"`
}

// Load reads the configuration file at path. A missing file is not an error:
// defaults plus environment overrides apply.
func Load(path string) (*Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with no file and no environment applied
// beyond what the process carries.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg
}

// DefaultPath is the conventional config file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".aurora", "config.yaml")
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AURORA_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("AURORA_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("AURORA_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("AURORA_WORK_ROOT"); v != "" {
		c.WorkRoot = v
	}
	if v := os.Getenv("AURORA_EXECUTOR"); v != "" {
		c.Executor = v
	}
	if v := os.Getenv("AURORA_API_TOKEN"); v != "" {
		c.APIToken = v
	}
	if v := os.Getenv("AURORA_EXPORT_DSN"); v != "" {
		c.Export.DSN = v
	}
	if v := os.Getenv("AURORA_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scheduler.Workers = n
		}
	}
}

func (c *Config) applyDefaults() {
	home, _ := os.UserHomeDir()
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:7163"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = "127.0.0.1:9163"
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(home, ".aurora", "aurora.db")
	}
	if c.WorkRoot == "" {
		c.WorkRoot = filepath.Join(home, ".aurora", "jobs")
	}
	if c.Executor == "" {
		c.Executor = "simcell"
	}
	if c.Tolerance.Absolute == 0 {
		c.Tolerance.Absolute = 1e-9
	}
	if c.Tolerance.Relative == 0 {
		c.Tolerance.Relative = 1e-6
	}
	if c.Scheduler.Workers == 0 {
		c.Scheduler.Workers = 2
	}
	if c.Scheduler.PollInterval == 0 {
		c.Scheduler.PollInterval = 2 * time.Second
	}
	if c.Export.Table == "" {
		c.Export.Table = "sample_states"
	}
	if c.Audit.TrailPath == "" {
		c.Audit.TrailPath = filepath.Join(home, ".aurora", "provenance.jsonl")
	}
	if c.RecordStates == nil {
		on := true
		c.RecordStates = &on
	}
}

// RecordStatesEnabled reports whether matching runs emit a SampleState.
func (c *Config) RecordStatesEnabled() bool {
	return c.RecordStates != nil && *c.RecordStates
}

func (c *Config) validate() error {
	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be at least 1")
	}
	if c.Tolerance.Absolute < 0 || c.Tolerance.Relative < 0 {
		return fmt.Errorf("tolerance values must be non-negative")
	}
	if c.Executor == "" {
		return fmt.Errorf("executor is required")
	}
	return nil
}

// ExecutorLimit returns the concurrency cap for an executor, defaulting to
// the global worker count when no per-executor cap is set.
func (c *Config) ExecutorLimit(name string) int {
	if limit, ok := c.Scheduler.ByExecutor[name]; ok {
		return limit
	}
	return c.Scheduler.Workers
}
