package stt

import (
	"context"
	"sync"
)

// Mock implements Transcriber for testing.
// Methods can be customized via function fields.
type Mock struct {
	// TranscribeFunc is called when Transcribe is invoked.
	// If nil, returns an empty high-confidence result.
	TranscribeFunc func(ctx context.Context, audio []byte, sampleRate int) (*Result, error)

	mu    sync.Mutex
	calls int
}

// NewMock creates a mock transcriber with a default response.
func NewMock() *Mock {
	return &Mock{
		TranscribeFunc: func(ctx context.Context, audio []byte, sampleRate int) (*Result, error) {
			return &Result{Text: "hello", Confidence: 0.95, Language: "en"}, nil
		},
	}
}

// Transcribe calls TranscribeFunc and records the call.
func (m *Mock) Transcribe(ctx context.Context, audio []byte, sampleRate int) (*Result, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, audio, sampleRate)
	}
	return &Result{Confidence: 1}, nil
}

// Calls returns the number of Transcribe invocations.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Verify Mock implements Transcriber at compile time.
var _ Transcriber = (*Mock)(nil)
