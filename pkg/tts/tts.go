// Package tts resolves response text to audio artifacts.
//
// Two engines are configured: a local low-latency subprocess (primary)
// and a network streaming engine (secondary). The manager consults a
// content-addressed cache first, then tries the primary under a bounded
// timeout, falling back to the secondary. A circuit breaker trips the
// primary to degraded after repeated failures so requests stop paying
// the timeout cost. Artifacts carry a TTL and are removed after dispatch
// acknowledgement or expiry; audio is never retained indefinitely.
package tts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Request describes one synthesis job.
type Request struct {
	// Text is the response text to speak.
	Text string

	// Voice is the voice identifier understood by the engines.
	Voice string

	// Language is the language code (e.g., "en").
	Language string
}

// Key returns the content-addressed cache key for the request.
func (r Request) Key() string {
	h := sha256.New()
	h.Write([]byte(r.Text))
	h.Write([]byte{0})
	h.Write([]byte(r.Voice))
	h.Write([]byte{0})
	h.Write([]byte(r.Language))
	return hex.EncodeToString(h.Sum(nil))
}

// Tier identifies which engine produced an artifact.
type Tier string

const (
	TierPrimary   Tier = "primary"
	TierSecondary Tier = "secondary"
)

// Artifact is a synthesized, cached, TTL-bounded audio payload.
type Artifact struct {
	// Audio is the opaque audio payload.
	Audio []byte

	// Format tags the payload encoding (e.g., "wav", "pcm_22050").
	Format string

	// Key is the content-hash cache key.
	Key string

	// Language is the language code the audio was synthesized for.
	Language string

	// Provider is the engine tier that produced the audio.
	Provider Tier

	// CreatedAt is when the artifact was synthesized.
	CreatedAt time.Time

	// TTL bounds how long the artifact may be retained.
	TTL time.Duration
}

// Expired reports whether the artifact's TTL has elapsed.
func (a *Artifact) Expired(now time.Time) bool {
	return now.Sub(a.CreatedAt) > a.TTL
}

// Engine converts a synthesis request into an audio artifact.
type Engine interface {
	// Synthesize produces audio for the request.
	Synthesize(ctx context.Context, req Request) (*Artifact, error)

	// Name identifies the engine for logs and status events.
	Name() string

	// Close releases engine resources.
	Close() error
}
