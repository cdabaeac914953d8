package tts

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrSynthesisFailed means both engines failed; no artifact exists.
	ErrSynthesisFailed = errors.New("tts: synthesis failed on all engines")

	// ErrEmptyText is returned for a blank synthesis request.
	ErrEmptyText = errors.New("tts: text empty")

	// ErrEngineClosed is returned after Close.
	ErrEngineClosed = errors.New("tts: engine closed")

	// ErrBreakerOpen is returned by the primary path while degraded.
	ErrBreakerOpen = errors.New("tts: primary engine degraded")
)

// EngineError wraps an error with engine context.
type EngineError struct {
	Engine string
	Err    error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("tts [%s]: %v", e.Engine, e.Err)
}

// Unwrap returns the underlying error.
func (e *EngineError) Unwrap() error {
	return e.Err
}
