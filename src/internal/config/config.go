// Package config loads supervisor settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/laborany/sidecar/src/internal/portmanager"
)

const (
	// DefaultConfigFile is read from the working directory when no path is given.
	DefaultConfigFile = "sidecar.yaml"

	DefaultName      = "laborany-api"
	DefaultPort      = 3620
	DefaultMode      = "production"
	DevelopmentMode  = "development"
	DefaultKillWait  = 2 * time.Second
	defaultStateDir  = ".sidecar"
	defaultHistoryDB = "history.db"
)

// Environment variable overrides.
const (
	EnvPort        = "SIDECAR_PORT"
	EnvExecutable  = "SIDECAR_EXECUTABLE"
	EnvMode        = "SIDECAR_MODE"
	EnvSettleDelay = "SIDECAR_SETTLE_DELAY"
	EnvInspector   = "SIDECAR_INSPECTOR"
	EnvHistoryPath = "SIDECAR_HISTORY_PATH"
	EnvMetricsAddr = "SIDECAR_METRICS_ADDR"
)

// Config describes the single sidecar this process supervises.
type Config struct {
	Name       string            `yaml:"name"`
	Port       int               `yaml:"port"`
	Executable string            `yaml:"executable"`
	Args       []string          `yaml:"args"`
	Dir        string            `yaml:"dir"`
	Mode       string            `yaml:"mode"`
	Env        map[string]string `yaml:"env"`

	// SettleDelay is the pause after killing port listeners.
	SettleDelay time.Duration `yaml:"settle_delay"`
	// ReleaseTimeout bounds the wait for a reaped port to lose its listener.
	ReleaseTimeout time.Duration `yaml:"release_timeout"`
	// KillWait bounds how long shutdown waits for the final Terminated event.
	KillWait time.Duration `yaml:"kill_wait"`

	// Inspector selects the port inspector: auto, psutil, lsof or netstat.
	Inspector string `yaml:"inspector"`

	// HistoryPath is the SQLite journal location. Empty disables the journal.
	HistoryPath string `yaml:"history_path"`
	// MetricsAddr serves Prometheus metrics when set, e.g. "127.0.0.1:9620".
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Name:           DefaultName,
		Port:           DefaultPort,
		Executable:     DefaultName,
		Mode:           DefaultMode,
		SettleDelay:    portmanager.DefaultSettleDelay,
		ReleaseTimeout: portmanager.DefaultReleaseTimeout,
		KillWait:       DefaultKillWait,
		Inspector:      portmanager.InspectorAuto,
		HistoryPath:    filepath.Join(defaultStateDir, defaultHistoryDB),
	}
}

// Load builds the configuration from defaults, the YAML file at path and
// environment overrides, in that order. An empty path reads DefaultConfigFile
// if it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// No config file is fine; defaults apply.
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		c.Port = port
	}
	if v, ok := lookup(EnvExecutable); ok && v != "" {
		c.Executable = v
	}
	if v, ok := lookup(EnvMode); ok && v != "" {
		c.Mode = v
	}
	if v, ok := lookup(EnvSettleDelay); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvSettleDelay, v, err)
		}
		c.SettleDelay = d
	}
	if v, ok := lookup(EnvInspector); ok && v != "" {
		c.Inspector = v
	}
	// Present-but-empty disables the journal.
	if v, ok := lookup(EnvHistoryPath); ok {
		c.HistoryPath = v
	}
	if v, ok := lookup(EnvMetricsAddr); ok {
		c.MetricsAddr = v
	}
	return nil
}

// IsDevelopment reports whether the sidecar should be left to the developer.
func (c *Config) IsDevelopment() bool {
	return c.Mode == DevelopmentMode
}

// Validate checks the configuration for values the supervisor cannot use.
func (c *Config) Validate() error {
	switch {
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("port %d is outside valid range 1-65535", c.Port)
	case c.Executable == "" && !c.IsDevelopment():
		return fmt.Errorf("executable is required")
	case c.SettleDelay < 0:
		return fmt.Errorf("settle_delay must not be negative")
	case c.ReleaseTimeout < 0:
		return fmt.Errorf("release_timeout must not be negative")
	case c.KillWait < 0:
		return fmt.Errorf("kill_wait must not be negative")
	}

	switch c.Inspector {
	case "", portmanager.InspectorAuto, portmanager.InspectorPsutil,
		portmanager.InspectorLsof, portmanager.InspectorNetstat:
	default:
		return fmt.Errorf("unknown inspector %q (must be auto, psutil, lsof or netstat)", c.Inspector)
	}
	return nil
}
