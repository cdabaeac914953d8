package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// minimal returns a valid descriptor: defaults plus the fields that have
// no default.
func minimal() *Config {
	cfg := Default()
	cfg.STT.Endpoint = "http://localhost:9000/transcribe"
	cfg.STT.APIKeyEnv = "SONA_STT_KEY"
	cfg.LLM.Endpoint = "http://localhost:9001/v1/chat/completions"
	cfg.LLM.APIKeyEnv = "SONA_LLM_KEY"
	return cfg
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sona.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[stt]
endpoint = "http://localhost:9000/transcribe"

[llm]
endpoint = "http://localhost:9001/v1/chat/completions"
api_key_env = "SONA_LLM_KEY"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bus.SpeakPrefix != "sona.tts" {
		t.Errorf("speak prefix = %q", cfg.Bus.SpeakPrefix)
	}
	if cfg.Governor.RequestsPerMinute != 20 {
		t.Errorf("requests per minute = %d", cfg.Governor.RequestsPerMinute)
	}
	if cfg.Pipeline.ConfidenceThreshold != 0.8 {
		t.Errorf("confidence threshold = %g", cfg.Pipeline.ConfidenceThreshold)
	}
	if cfg.TTS.CacheSize != 128 {
		t.Errorf("cache size = %d", cfg.TTS.CacheSize)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

[stt]
endpoint = "http://localhost:9000/transcribe"

[llm]
endpoint = "http://localhost:9001/v1/chat/completions"
api_key_env = "SONA_LLM_KEY"
model = "local-llama"
max_tokens = 512

[governor]
requests_per_minute = 5

[persona]
wit = 0.9

[persona.phrases]
apology = ["Oh dear.", "Hm."]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
	if cfg.LLM.Model != "local-llama" || cfg.LLM.MaxTokens != 512 {
		t.Errorf("llm = %q/%d", cfg.LLM.Model, cfg.LLM.MaxTokens)
	}
	if cfg.Governor.RequestsPerMinute != 5 {
		t.Errorf("requests per minute = %d", cfg.Governor.RequestsPerMinute)
	}
	if cfg.Persona.Wit != 0.9 {
		t.Errorf("wit = %g", cfg.Persona.Wit)
	}
	if got := cfg.Persona.Phrases["apology"]; len(got) != 2 {
		t.Errorf("apology phrases = %v", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected an error for a missing file")
	}
	if _, err := Load(""); !errors.Is(err, ErrNoPath) {
		t.Errorf("expected ErrNoPath, got %v", err)
	}
}

func TestLoadMalformedTOML(t *testing.T) {
	path := writeConfig(t, `log_level = `)
	if _, err := Load(path); err == nil {
		t.Error("expected a parse error")
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"trait above one", func(c *Config) { c.Persona.Wit = 1.2 }, ErrTraitRange},
		{"trait below zero", func(c *Config) { c.Persona.Sarcasm = -0.1 }, ErrTraitRange},
		{"threshold above one", func(c *Config) { c.Pipeline.ConfidenceThreshold = 1.5 }, ErrThresholdRange},
		{"volume above one", func(c *Config) { c.Pipeline.Volume = 1.5 }, ErrVolumeRange},
		{"zero rate limit", func(c *Config) { c.Governor.RequestsPerMinute = 0 }, ErrLimitPositive},
		{"negative token budget", func(c *Config) { c.Governor.TokensPerMinute = -1 }, ErrLimitPositive},
		{"zero breaker threshold", func(c *Config) { c.TTS.BreakerThreshold = 0 }, ErrLimitPositive},
		{"zero stage timeout", func(c *Config) { c.Pipeline.CompleteTimeoutSeconds = 0 }, ErrTimeoutPositive},
		{"zero provider timeout", func(c *Config) { c.STT.TimeoutSeconds = 0 }, ErrTimeoutPositive},
		{"missing stt endpoint", func(c *Config) { c.STT.Endpoint = "" }, ErrMissingEndpoint},
		{"missing llm endpoint", func(c *Config) { c.LLM.Endpoint = "" }, ErrMissingEndpoint},
		{"missing llm credential env", func(c *Config) { c.LLM.APIKeyEnv = "" }, ErrMissingCredEnv},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := minimal()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAcceptsBoundaryValues(t *testing.T) {
	cfg := minimal()
	cfg.Persona.Wit = 0
	cfg.Persona.Sarcasm = 1
	cfg.Pipeline.ConfidenceThreshold = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("boundary values must validate: %v", err)
	}
}

func TestAPIKeyResolvesFromEnvironment(t *testing.T) {
	t.Setenv("SONA_TEST_KEY", "secret-value")

	p := ProviderConfig{APIKeyEnv: "SONA_TEST_KEY"}
	if got := p.APIKey(); got != "secret-value" {
		t.Errorf("api key = %q", got)
	}

	empty := ProviderConfig{}
	if got := empty.APIKey(); got != "" {
		t.Errorf("expected empty key without an env name, got %q", got)
	}
}
