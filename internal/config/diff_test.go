package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/lexicdys/internal/config"
	"github.com/MrWong99/lexicdys/pkg/audio"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "deepgram", APIKey: "dg", Options: map[string]any{"language": "en"}},
		},
		Practice: config.PracticeConfig{
			AdvanceDelay: 1500 * time.Millisecond,
			Language:     "en-US",
			SampleRate:   16000,
			AudioFormat:  audio.EncodingPCM,
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.PracticeChanged {
		t.Error("expected PracticeChanged=false for identical configs")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("expected no restart-required settings, got %v", d.RestartRequired)
	}
	if !d.Empty() {
		t.Errorf("Empty() = false for %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_PracticeChanged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"advance delay", func(c *config.Config) { c.Practice.AdvanceDelay = 3 * time.Second }},
		{"phonetic fallback", func(c *config.Config) { c.Practice.PhoneticFallback = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := baseConfig()
			new := baseConfig()
			tt.mutate(new)

			d := config.Diff(old, new)
			if !d.PracticeChanged {
				t.Fatal("expected PracticeChanged=true")
			}
			if d.NewAdvanceDelay != new.Practice.AdvanceDelay {
				t.Errorf("NewAdvanceDelay = %v, want %v", d.NewAdvanceDelay, new.Practice.AdvanceDelay)
			}
			if d.NewPhoneticFallback != new.Practice.PhoneticFallback {
				t.Errorf("NewPhoneticFallback = %v, want %v", d.NewPhoneticFallback, new.Practice.PhoneticFallback)
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":9090" }, "server.listen_addr"},
		{"tls", func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"} }, "server.tls"},
		{"stt name", func(c *config.Config) { c.Providers.STT.Name = "whisper" }, "providers"},
		{"stt option", func(c *config.Config) { c.Providers.STT.Options["language"] = "de" }, "providers"},
		{"fallback", func(c *config.Config) {
			c.Providers.STTFallbacks = []config.ProviderEntry{{Name: "whisper"}}
		}, "providers"},
		{"audio format", func(c *config.Config) { c.Practice.AudioFormat = audio.EncodingOpus }, "practice"},
		{"postgres", func(c *config.Config) { c.Store.PostgresDSN = "postgres://db" }, "store.postgres_dsn"},
		{"origins", func(c *config.Config) { c.Server.AllowedOrigins = []string{"app.example.com"} }, "server.allowed_origins"},
		{"seed", func(c *config.Config) { c.Store.Seed.Words = []string{"cat"} }, "store.seed"},
		{"telemetry", func(c *config.Config) { c.Telemetry.TraceSampleRatio = 0.1 }, "telemetry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := baseConfig()
			new := baseConfig()
			tt.mutate(new)

			d := config.Diff(old, new)
			if !slices.Contains(d.RestartRequired, tt.want) {
				t.Errorf("RestartRequired = %v, want to contain %q", d.RestartRequired, tt.want)
			}
			if d.PracticeChanged || d.LogLevelChanged {
				t.Errorf("unexpected hot-reload change: %+v", d)
			}
			if d.Empty() {
				t.Error("Empty() = true for a changed config")
			}
		})
	}
}
