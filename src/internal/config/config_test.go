package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sidecar.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.Mode != DefaultMode {
		t.Errorf("Mode = %q, want %q", cfg.Mode, DefaultMode)
	}
	if cfg.SettleDelay != 500*time.Millisecond {
		t.Errorf("SettleDelay = %v, want 500ms", cfg.SettleDelay)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
name: api
port: 4100
executable: ./bin/api
args: ["--quiet"]
mode: staging
env:
  LOG_LEVEL: debug
settle_delay: 250ms
release_timeout: 1s
kill_wait: 3s
inspector: psutil
history_path: ""
metrics_addr: 127.0.0.1:9620
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Name != "api" || cfg.Port != 4100 || cfg.Executable != "./bin/api" {
		t.Errorf("Load() = %+v, unexpected identity fields", cfg)
	}
	if len(cfg.Args) != 1 || cfg.Args[0] != "--quiet" {
		t.Errorf("Args = %v, want [--quiet]", cfg.Args)
	}
	if cfg.Env["LOG_LEVEL"] != "debug" {
		t.Errorf("Env = %v, want LOG_LEVEL=debug", cfg.Env)
	}
	if cfg.SettleDelay != 250*time.Millisecond {
		t.Errorf("SettleDelay = %v, want 250ms", cfg.SettleDelay)
	}
	if cfg.ReleaseTimeout != time.Second || cfg.KillWait != 3*time.Second {
		t.Errorf("ReleaseTimeout/KillWait = %v/%v, want 1s/3s", cfg.ReleaseTimeout, cfg.KillWait)
	}
	if cfg.Inspector != "psutil" {
		t.Errorf("Inspector = %q, want psutil", cfg.Inspector)
	}
	if cfg.HistoryPath != "" {
		t.Errorf("HistoryPath = %q, want disabled", cfg.HistoryPath)
	}
	if cfg.MetricsAddr != "127.0.0.1:9620" {
		t.Errorf("MetricsAddr = %q", cfg.MetricsAddr)
	}
}

func TestLoad_MissingDefaultFileUsesDefaults(t *testing.T) {
	testChdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want default", cfg.Port)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Error("Load() expected error for missing explicit file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "port: [not a number")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("Load() error = %v, want parse error", err)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "port: 4100\nmode: staging\n")
	t.Setenv(EnvPort, "4200")
	t.Setenv(EnvMode, DevelopmentMode)
	t.Setenv(EnvSettleDelay, "1s")
	t.Setenv(EnvExecutable, "/opt/api")
	t.Setenv(EnvInspector, "lsof")
	t.Setenv(EnvHistoryPath, "")
	t.Setenv(EnvMetricsAddr, ":9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 4200 {
		t.Errorf("Port = %d, want 4200 from env", cfg.Port)
	}
	if !cfg.IsDevelopment() {
		t.Errorf("Mode = %q, want development from env", cfg.Mode)
	}
	if cfg.SettleDelay != time.Second {
		t.Errorf("SettleDelay = %v, want 1s", cfg.SettleDelay)
	}
	if cfg.Executable != "/opt/api" || cfg.Inspector != "lsof" {
		t.Errorf("Executable/Inspector = %q/%q", cfg.Executable, cfg.Inspector)
	}
	if cfg.HistoryPath != "" || cfg.MetricsAddr != ":9999" {
		t.Errorf("HistoryPath/MetricsAddr = %q/%q", cfg.HistoryPath, cfg.MetricsAddr)
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{EnvPort, "abc"},
		{EnvSettleDelay, "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			testChdir(t, t.TempDir())
			t.Setenv(tt.key, tt.value)
			if _, err := Load(""); err == nil {
				t.Errorf("Load() expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"port zero", func(c *Config) { c.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Port = 70000 }, true},
		{"port max", func(c *Config) { c.Port = 65535 }, false},
		{"no executable", func(c *Config) { c.Executable = "" }, true},
		{"no executable in development", func(c *Config) { c.Executable = ""; c.Mode = DevelopmentMode }, false},
		{"negative settle", func(c *Config) { c.SettleDelay = -time.Second }, true},
		{"negative release", func(c *Config) { c.ReleaseTimeout = -time.Second }, true},
		{"negative kill wait", func(c *Config) { c.KillWait = -time.Second }, true},
		{"unknown inspector", func(c *Config) { c.Inspector = "ss" }, true},
		{"netstat inspector", func(c *Config) { c.Inspector = "netstat" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// testChdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains: it
// changes the working directory and restores it when the test ends.
func testChdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
