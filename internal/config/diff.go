package config

import (
	"reflect"
	"slices"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PracticeChanged is true if any hot-reloadable practice setting changed.
	PracticeChanged     bool
	NewAdvanceDelay     time.Duration
	NewPhoneticFallback bool

	// RestartRequired lists settings that changed but only take effect after
	// a restart (e.g., "server.listen_addr").
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Practice
	if old.Practice.AdvanceDelay != new.Practice.AdvanceDelay ||
		old.Practice.PhoneticFallback != new.Practice.PhoneticFallback {
		d.PracticeChanged = true
		d.NewAdvanceDelay = new.Practice.AdvanceDelay
		d.NewPhoneticFallback = new.Practice.PhoneticFallback
	}

	// Settings that need a restart.
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !equalTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if !equalEntry(old.Providers.STT, new.Providers.STT) ||
		!slices.EqualFunc(old.Providers.STTFallbacks, new.Providers.STTFallbacks, equalEntry) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Practice.Language != new.Practice.Language ||
		old.Practice.SampleRate != new.Practice.SampleRate ||
		old.Practice.AudioFormat != new.Practice.AudioFormat {
		d.RestartRequired = append(d.RestartRequired, "practice")
	}
	if !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server.allowed_origins")
	}
	if old.Store.PostgresDSN != new.Store.PostgresDSN {
		d.RestartRequired = append(d.RestartRequired, "store.postgres_dsn")
	}
	if !slices.Equal(old.Store.Seed.Words, new.Store.Seed.Words) ||
		!slices.Equal(old.Store.Seed.Sentences, new.Store.Seed.Sentences) {
		d.RestartRequired = append(d.RestartRequired, "store.seed")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

// Empty reports whether the two configs were equivalent.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PracticeChanged && len(d.RestartRequired) == 0
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && reflect.DeepEqual(a.Options, b.Options)
}
