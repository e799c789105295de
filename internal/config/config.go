// Package config provides the configuration schema, loader, and file watcher
// for the airtime server.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the airtime server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration so YAML values use Go duration strings
// ("1s", "500ms") instead of raw nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a standard time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for airtime.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Session  SessionConfig  `yaml:"session"`
}

// ServerConfig holds network and logging settings for the airtime server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// PublicURL is the externally reachable base URL of this server
	// (e.g., "https://airtime.example.com"). When set, diarization jobs are
	// submitted with a webhook pointing back at it so results arrive as soon
	// as the provider finishes. When empty, results arrive by polling only.
	PublicURL string `yaml:"public_url"`
}

// ProviderConfig configures the diarization provider.
type ProviderConfig struct {
	// Name selects the provider implementation. Currently "pyannote".
	// Defaults to "pyannote" when empty.
	Name string `yaml:"name"`

	// APIKey authenticates against the provider's API. The PYANNOTE_API_KEY
	// environment variable takes precedence when set.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// PollInterval is the delay between job status polls.
	// Zero uses the provider's built-in default.
	PollInterval Duration `yaml:"poll_interval"`

	// PollMaxAttempts bounds how many status polls are made before a job is
	// abandoned. Zero uses the provider's built-in default.
	PollMaxAttempts int `yaml:"poll_max_attempts"`
}

// SessionConfig holds limits for the meeting session state.
type SessionConfig struct {
	// MaxBufferBytes caps the accumulated audio buffer. Zero uses the
	// session's built-in default.
	MaxBufferBytes int `yaml:"max_buffer_bytes"`
}
