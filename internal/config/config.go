// Package config defines the daemon configuration loaded from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines the orchestrator daemon configuration.
type Config struct {
	// ListenAddr is the control plane bind address.
	ListenAddr string `yaml:"listen_addr"`
	// DBPath is the SQLite database location.
	DBPath string `yaml:"db_path"`
	// WorkDir is the working directory handed to the execution engine.
	WorkDir string `yaml:"work_dir"`
	// MaxActiveTasks caps concurrently executing tasks across all sessions.
	MaxActiveTasks int `yaml:"max_active_tasks"`
	// ScheduleTickSeconds is how often due schedules are evaluated.
	ScheduleTickSeconds int `yaml:"schedule_tick_seconds"`
}

// Tick returns the schedule evaluation interval.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.ScheduleTickSeconds) * time.Second
}

// DefaultConfig returns the default daemon configuration.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		ListenAddr:          "127.0.0.1:9180",
		DBPath:              filepath.Join(home, ".vibesurf", "orchestrator.db"),
		WorkDir:             ".",
		MaxActiveTasks:      10,
		ScheduleTickSeconds: 30,
	}
}

// Load reads a YAML config file over the defaults. A missing file is not an
// error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.MaxActiveTasks < 0 {
		return fmt.Errorf("max_active_tasks must not be negative")
	}
	if c.ScheduleTickSeconds < 0 {
		return fmt.Errorf("schedule_tick_seconds must not be negative")
	}
	return nil
}
