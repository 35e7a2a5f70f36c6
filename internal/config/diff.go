package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LiveChanged is true if any per-session setting (model, voice,
	// instructions) changed. These apply to the next session.
	LiveChanged bool

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the changed settings that only take effect after
	// a process restart.
	RestartRequired []string
}

// Changed reports whether d carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LiveChanged || d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Live.Session() != new.Live.Session() {
		d.LiveChanged = true
	}

	restart := func(name string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.log_format", old.Server.LogFormat != new.Server.LogFormat)
	restart("server.tls", !sameTLS(old.Server.TLS, new.Server.TLS))
	restart("live.provider", old.Live.Provider != new.Live.Provider)
	restart("live.api_key", old.Live.APIKey != new.Live.APIKey)
	restart("live.base_url", old.Live.BaseURL != new.Live.BaseURL)
	restart("live.connect_timeout", old.Live.ConnectTimeout != new.Live.ConnectTimeout)
	restart("audio", old.Audio != new.Audio)

	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
