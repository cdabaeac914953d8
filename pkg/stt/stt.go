// Package stt wraps the speech-to-text provider.
//
// The adapter does not retry and does not judge confidence; both policies
// belong to the pipeline orchestrator. Provider timeouts and server errors
// surface as ErrUnavailable so the orchestrator can distinguish "the
// provider is down" from "the transcript is unusable".
package stt

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrUnavailable = errors.New("stt: transcription provider unavailable")
	ErrEmptyAudio  = errors.New("stt: audio payload empty")
)

// Result is a single transcription.
type Result struct {
	// Text is the raw transcript.
	Text string

	// Confidence is the provider's confidence in [0,1].
	Confidence float64

	// Language is the detected language code (e.g., "en").
	Language string
}

// Transcriber converts captured audio into text.
type Transcriber interface {
	// Transcribe converts raw audio bytes at the given sample rate.
	Transcribe(ctx context.Context, audio []byte, sampleRate int) (*Result, error)
}

// ProviderError wraps an error with provider context.
type ProviderError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("stt [%s]: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}
