// Package config loads the sona service descriptor from a TOML file.
//
// Credentials are never stored in the descriptor itself; each provider
// section names the environment variable holding its key. Validation is
// strict: out-of-range values are rejected at load time, not clamped.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Sentinel errors for configuration problems.
var (
	ErrNoPath          = errors.New("config: path required")
	ErrTraitRange      = errors.New("config: trait weight must be in [0,1]")
	ErrThresholdRange  = errors.New("config: confidence threshold must be in [0,1]")
	ErrVolumeRange     = errors.New("config: volume must be in [0,1]")
	ErrLimitPositive   = errors.New("config: rate limit must be positive")
	ErrTimeoutPositive = errors.New("config: timeout must be positive")
	ErrMissingEndpoint = errors.New("config: provider endpoint required")
	ErrMissingCredEnv  = errors.New("config: credential env var name required")
)

// Config is the root service descriptor.
type Config struct {
	LogLevel string         `toml:"log_level"`
	Bus      BusConfig      `toml:"bus"`
	STT      ProviderConfig `toml:"stt"`
	LLM      LLMConfig      `toml:"llm"`
	TTS      TTSConfig      `toml:"tts"`
	Governor GovernorConfig `toml:"governor"`
	Session  SessionConfig  `toml:"session"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Persona  PersonaConfig  `toml:"persona"`
	Web      WebConfig      `toml:"web"`
}

// BusConfig configures the NATS dispatch bus.
type BusConfig struct {
	URL            string   `toml:"url"`
	IntakeSubject  string   `toml:"intake_subject"` // captured utterances in
	SpeakPrefix    string   `toml:"speak_prefix"`   // "sona.tts" → sona.tts.<target>
	StatusSubject  string   `toml:"status_subject"` // delivery acknowledgements
	DefaultTargets []string `toml:"default_targets"`
}

// ProviderConfig describes a single HTTP provider endpoint.
type ProviderConfig struct {
	Endpoint       string `toml:"endpoint"`
	APIKeyEnv      string `toml:"api_key_env"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// APIKey resolves the provider credential from the environment.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// Timeout returns the provider timeout as a duration.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// LLMConfig configures the completion provider.
type LLMConfig struct {
	ProviderConfig
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`
}

// TTSConfig configures the synthesis engines and artifact cache.
type TTSConfig struct {
	Voice    string `toml:"voice"`
	Language string `toml:"language"`

	// Primary: local subprocess engine.
	LocalBinary         string `toml:"local_binary"`
	LocalModelPath      string `toml:"local_model_path"`
	LocalTimeoutSeconds int    `toml:"local_timeout_seconds"`

	// Secondary: network streaming engine.
	Remote ProviderConfig `toml:"remote"`

	// Circuit breaker for the primary engine.
	BreakerThreshold       int `toml:"breaker_threshold"`
	BreakerWindowSeconds   int `toml:"breaker_window_seconds"`
	BreakerCooldownSeconds int `toml:"breaker_cooldown_seconds"`

	// Artifact cache.
	CacheSize          int `toml:"cache_size"`
	ArtifactTTLSeconds int `toml:"artifact_ttl_seconds"`
}

// GovernorConfig holds the shared provider usage budgets.
type GovernorConfig struct {
	RequestsPerMinute int `toml:"requests_per_minute"`
	TokensPerMinute   int `toml:"tokens_per_minute"`
	RequestsPerHour   int `toml:"requests_per_hour"`
}

// SessionConfig bounds per-conversation state.
type SessionConfig struct {
	MaxHistoryTokens   int `toml:"max_history_tokens"`
	IdleTimeoutSeconds int `toml:"idle_timeout_seconds"`
}

// PipelineConfig holds orchestrator thresholds and per-stage timeouts.
type PipelineConfig struct {
	ConfidenceThreshold float64 `toml:"confidence_threshold"`

	TranscribeTimeoutSeconds int `toml:"transcribe_timeout_seconds"`
	CompleteTimeoutSeconds   int `toml:"complete_timeout_seconds"`
	SynthesizeTimeoutSeconds int `toml:"synthesize_timeout_seconds"`
	DispatchTimeoutSeconds   int `toml:"dispatch_timeout_seconds"`

	// Volume for dispatched playback, 0..1.
	Volume float64 `toml:"volume"`

	ApologyPhrase       string `toml:"apology_phrase"`
	ClarificationPhrase string `toml:"clarification_phrase"`
}

// PersonaConfig holds trait weights and the embellishment phrase table.
type PersonaConfig struct {
	Wit         float64             `toml:"wit"`
	Sarcasm     float64             `toml:"sarcasm"`
	Helpfulness float64             `toml:"helpfulness"`
	Phrases     map[string][]string `toml:"phrases"`
}

// WebConfig configures the operational status endpoint.
type WebConfig struct {
	Addr string `toml:"addr"`
}

// Load reads and validates the descriptor at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, ErrNoPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a descriptor with sensible defaults for every field a
// deployment is allowed to omit. Provider endpoints have no default.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Bus: BusConfig{
			URL:            "nats://127.0.0.1:4222",
			IntakeSubject:  "sona.audio.captured",
			SpeakPrefix:    "sona.tts",
			StatusSubject:  "sona.tts.status",
			DefaultTargets: []string{"living-room"},
		},
		STT: ProviderConfig{TimeoutSeconds: 10},
		LLM: LLMConfig{
			ProviderConfig: ProviderConfig{TimeoutSeconds: 30},
			Model:          "gpt-4o-mini",
			MaxTokens:      256,
			Temperature:    0.7,
		},
		TTS: TTSConfig{
			Voice:                  "default",
			Language:               "en",
			LocalBinary:            "piper",
			LocalTimeoutSeconds:    5,
			Remote:                 ProviderConfig{TimeoutSeconds: 15},
			BreakerThreshold:       3,
			BreakerWindowSeconds:   60,
			BreakerCooldownSeconds: 30,
			CacheSize:              128,
			ArtifactTTLSeconds:     300,
		},
		Governor: GovernorConfig{
			RequestsPerMinute: 20,
			TokensPerMinute:   10000,
			RequestsPerHour:   300,
		},
		Session: SessionConfig{
			MaxHistoryTokens:   1024,
			IdleTimeoutSeconds: 600,
		},
		Pipeline: PipelineConfig{
			ConfidenceThreshold:      0.8,
			TranscribeTimeoutSeconds: 10,
			CompleteTimeoutSeconds:   30,
			SynthesizeTimeoutSeconds: 20,
			DispatchTimeoutSeconds:   10,
			Volume:                   0.8,
			ApologyPhrase:            "Sorry, I'm having trouble right now. Please try again in a moment.",
			ClarificationPhrase:      "I didn't quite catch that. Could you say it again?",
		},
		Persona: PersonaConfig{
			Wit:         0.5,
			Sarcasm:     0.2,
			Helpfulness: 0.8,
			Phrases:     map[string][]string{},
		},
		Web: WebConfig{Addr: ":8090"},
	}
}

// Validate rejects descriptors that are out of range or incomplete.
func (c *Config) Validate() error {
	for _, t := range []float64{c.Persona.Wit, c.Persona.Sarcasm, c.Persona.Helpfulness} {
		if t < 0 || t > 1 {
			return fmt.Errorf("%w: got %g", ErrTraitRange, t)
		}
	}

	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: got %g", ErrThresholdRange, c.Pipeline.ConfidenceThreshold)
	}

	if c.Pipeline.Volume < 0 || c.Pipeline.Volume > 1 {
		return fmt.Errorf("%w: got %g", ErrVolumeRange, c.Pipeline.Volume)
	}

	limits := map[string]int{
		"governor.requests_per_minute": c.Governor.RequestsPerMinute,
		"governor.tokens_per_minute":   c.Governor.TokensPerMinute,
		"governor.requests_per_hour":   c.Governor.RequestsPerHour,
		"session.max_history_tokens":   c.Session.MaxHistoryTokens,
		"tts.cache_size":               c.TTS.CacheSize,
		"tts.breaker_threshold":        c.TTS.BreakerThreshold,
	}
	for name, v := range limits {
		if v <= 0 {
			return fmt.Errorf("%w: %s = %d", ErrLimitPositive, name, v)
		}
	}

	timeouts := map[string]int{
		"stt.timeout_seconds":                 c.STT.TimeoutSeconds,
		"llm.timeout_seconds":                 c.LLM.TimeoutSeconds,
		"tts.local_timeout_seconds":           c.TTS.LocalTimeoutSeconds,
		"tts.remote.timeout_seconds":          c.TTS.Remote.TimeoutSeconds,
		"tts.artifact_ttl_seconds":            c.TTS.ArtifactTTLSeconds,
		"session.idle_timeout_seconds":        c.Session.IdleTimeoutSeconds,
		"pipeline.transcribe_timeout_seconds": c.Pipeline.TranscribeTimeoutSeconds,
		"pipeline.complete_timeout_seconds":   c.Pipeline.CompleteTimeoutSeconds,
		"pipeline.synthesize_timeout_seconds": c.Pipeline.SynthesizeTimeoutSeconds,
		"pipeline.dispatch_timeout_seconds":   c.Pipeline.DispatchTimeoutSeconds,
	}
	for name, v := range timeouts {
		if v <= 0 {
			return fmt.Errorf("%w: %s = %d", ErrTimeoutPositive, name, v)
		}
	}

	if c.STT.Endpoint == "" {
		return fmt.Errorf("%w: stt.endpoint", ErrMissingEndpoint)
	}
	if c.LLM.Endpoint == "" {
		return fmt.Errorf("%w: llm.endpoint", ErrMissingEndpoint)
	}
	if c.LLM.APIKeyEnv == "" {
		return fmt.Errorf("%w: llm.api_key_env", ErrMissingCredEnv)
	}

	return nil
}
