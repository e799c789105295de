package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the diarization providers this binary can
// construct. Used by [Validate] to warn about likely typos.
var ValidProviderNames = []string{"pyannote"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.PublicURL != "" {
		u, err := url.Parse(cfg.Server.PublicURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.public_url %q is not an absolute URL", cfg.Server.PublicURL))
		}
	} else {
		slog.Warn("server.public_url is empty; diarization results will arrive by polling only")
	}

	// Provider
	validateProviderName(cfg.Provider.Name)
	if cfg.Provider.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("provider.poll_interval must not be negative, got %s", cfg.Provider.PollInterval.Std()))
	}
	if cfg.Provider.PollMaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("provider.poll_max_attempts must not be negative, got %d", cfg.Provider.PollMaxAttempts))
	}

	// Session
	if cfg.Session.MaxBufferBytes < 0 {
		errs = append(errs, fmt.Errorf("session.max_buffer_bytes must not be negative, got %d", cfg.Session.MaxBufferBytes))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidProviderNames].
func validateProviderName(name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo",
		"name", name,
		"known", ValidProviderNames,
	)
}
