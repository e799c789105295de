package config

// ConfigDiff describes what changed between two configs. Only the log level
// can be applied to a running server; the provider client, session, and
// listener are built once at startup from the old values.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the yaml paths of changed settings that take
	// effect only after a restart.
	RestartRequired []string
}

// Changed reports whether the diff contains any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.PublicURL != new.Server.PublicURL {
		d.RestartRequired = append(d.RestartRequired, "server.public_url")
	}
	if old.Provider.Name != new.Provider.Name {
		d.RestartRequired = append(d.RestartRequired, "provider.name")
	}
	if old.Provider.APIKey != new.Provider.APIKey {
		d.RestartRequired = append(d.RestartRequired, "provider.api_key")
	}
	if old.Provider.BaseURL != new.Provider.BaseURL {
		d.RestartRequired = append(d.RestartRequired, "provider.base_url")
	}
	if old.Provider.PollInterval != new.Provider.PollInterval {
		d.RestartRequired = append(d.RestartRequired, "provider.poll_interval")
	}
	if old.Provider.PollMaxAttempts != new.Provider.PollMaxAttempts {
		d.RestartRequired = append(d.RestartRequired, "provider.poll_max_attempts")
	}
	if old.Session.MaxBufferBytes != new.Session.MaxBufferBytes {
		d.RestartRequired = append(d.RestartRequired, "session.max_buffer_bytes")
	}

	return d
}
