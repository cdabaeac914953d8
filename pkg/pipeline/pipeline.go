// Package pipeline sequences one captured utterance through transcription,
// completion, synthesis, and dispatch, owning per-stage timeouts,
// cancellation, and stage-level metrics.
//
// Each session run is a small state machine:
//
//	Listening → Transcribing → (Clarifying) → Composing → Completing →
//	Synthesizing → Dispatching → Idle
//
// Idle covers both success and graceful fallback; Aborted is reserved for
// a fatal credential failure. Recoverable stage errors are absorbed with
// a substitute spoken response — the session keeps going.
package pipeline

import (
	"time"
)

// Stage identifies a pipeline state.
type Stage int

const (
	StageListening Stage = iota
	StageTranscribing
	StageClarifying
	StageComposing
	StageCompleting
	StageSynthesizing
	StageDispatching
	StageIdle
	StageAborted
)

// String returns a human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageListening:
		return "listening"
	case StageTranscribing:
		return "transcribing"
	case StageClarifying:
		return "clarifying"
	case StageComposing:
		return "composing"
	case StageCompleting:
		return "completing"
	case StageSynthesizing:
		return "synthesizing"
	case StageDispatching:
		return "dispatching"
	case StageIdle:
		return "idle"
	case StageAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Timeouts are the per-stage ceilings. A stage exceeding its ceiling
// transitions toward a fallback response rather than failing silently.
type Timeouts struct {
	Transcribe time.Duration
	Complete   time.Duration
	Synthesize time.Duration
	Dispatch   time.Duration
}

// Config configures the orchestrator.
type Config struct {
	// ConfidenceThreshold gates the completion call; lower-confidence
	// transcripts get a clarification response instead.
	ConfidenceThreshold float64

	Timeouts Timeouts

	// Voice and Language select the synthesis output.
	Voice    string
	Language string

	// DefaultTargets receive the response when the job names none.
	DefaultTargets []string

	// Volume for dispatched playback, 0..1.
	Volume float64

	// ApologyPhrase is spoken on any provider fallback path.
	ApologyPhrase string

	// ClarificationPhrase is spoken for low-confidence transcripts.
	ClarificationPhrase string
}

// Job is one captured utterance entering the pipeline.
type Job struct {
	SessionID  string
	Audio      []byte
	SampleRate int
	Targets    []string
	Snapshot   map[string]string // device-context refresh, optional
}

// Outcome summarizes a finished run.
type Outcome struct {
	SessionID  string
	State      Stage // StageIdle or StageAborted
	Transcript string
	Response   string
	Confidence float64
	FellBack   bool
	Targets    []string
}
