package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spokelab/airtime/internal/config"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  public_url: "https://airtime.example.com"

provider:
  name: pyannote
  api_key: sk-test
  base_url: "https://api.pyannote.ai/v1"
  poll_interval: 2s
  poll_max_attempts: 30

session:
  max_buffer_bytes: 1048576
`

// ── loading ──────────────────────────────────────────────────────────────────

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Server.PublicURL != "https://airtime.example.com" {
		t.Errorf("public_url = %q", cfg.Server.PublicURL)
	}
	if cfg.Provider.Name != "pyannote" {
		t.Errorf("provider.name = %q, want pyannote", cfg.Provider.Name)
	}
	if cfg.Provider.APIKey != "sk-test" {
		t.Errorf("provider.api_key = %q, want sk-test", cfg.Provider.APIKey)
	}
	if cfg.Provider.BaseURL != "https://api.pyannote.ai/v1" {
		t.Errorf("provider.base_url = %q", cfg.Provider.BaseURL)
	}
	if got := cfg.Provider.PollInterval.Std(); got != 2*time.Second {
		t.Errorf("poll_interval = %v, want 2s", got)
	}
	if cfg.Provider.PollMaxAttempts != 30 {
		t.Errorf("poll_max_attempts = %d, want 30", cfg.Provider.PollMaxAttempts)
	}
	if cfg.Session.MaxBufferBytes != 1048576 {
		t.Errorf("max_buffer_bytes = %d, want 1048576", cfg.Session.MaxBufferBytes)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_address: ":8080"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "listen_address") {
		t.Errorf("error should name the unknown field, got: %v", err)
	}
}

func TestLoadFromReader_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestLoadFromReader_InvalidDuration(t *testing.T) {
	t.Parallel()
	yaml := `
provider:
  poll_interval: soon
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unparseable duration, got nil")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("error should mention the invalid duration, got: %v", err)
	}
}

func TestLoad_ReadsFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/airtime.yaml")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("error = %v, want os.ErrNotExist", err)
	}
}

// ── validation ───────────────────────────────────────────────────────────────

func TestValidate_RelativePublicURL(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  public_url: "/webhook/base"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for relative public_url, got nil")
	}
	if !strings.Contains(err.Error(), "public_url") {
		t.Errorf("error should mention public_url, got: %v", err)
	}
}

func TestValidate_NegativePollSettings(t *testing.T) {
	t.Parallel()
	yaml := `
provider:
  poll_interval: -1s
  poll_max_attempts: -3
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors for negative poll settings, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "poll_interval") {
		t.Errorf("error should mention poll_interval, got: %v", err)
	}
	if !strings.Contains(errStr, "poll_max_attempts") {
		t.Errorf("error should mention poll_max_attempts, got: %v", err)
	}
}

func TestValidate_NegativeBufferCap(t *testing.T) {
	t.Parallel()
	yaml := `
session:
  max_buffer_bytes: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative buffer cap, got nil")
	}
	if !strings.Contains(err.Error(), "max_buffer_bytes") {
		t.Errorf("error should mention max_buffer_bytes, got: %v", err)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level config.LogLevel
		want  bool
	}{
		{config.LogDebug, true},
		{config.LogInfo, true},
		{config.LogWarn, true},
		{config.LogError, true},
		{config.LogLevel(""), false},
		{config.LogLevel("trace"), false},
	}
	for _, tc := range tests {
		if got := tc.level.IsValid(); got != tc.want {
			t.Errorf("LogLevel(%q).IsValid() = %v, want %v", tc.level, got, tc.want)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	found := false
	for _, n := range config.ValidProviderNames {
		if n == "pyannote" {
			found = true
			break
		}
	}
	if !found {
		t.Error(`ValidProviderNames should contain "pyannote"`)
	}
}
