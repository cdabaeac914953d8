package tts

import (
	"context"
	"sync"
	"time"
)

// MockEngine implements Engine for testing.
// Behavior can be customized via function fields.
type MockEngine struct {
	// NameValue is returned by Name. Defaults to "mock".
	NameValue string

	// Tier tags artifacts produced by this mock.
	Tier Tier

	// SynthesizeFunc is called when Synthesize is invoked.
	// If nil, returns a small silent artifact.
	SynthesizeFunc func(ctx context.Context, req Request) (*Artifact, error)

	mu    sync.Mutex
	calls int
}

// NewMockEngine creates a mock engine producing silent audio.
func NewMockEngine(tier Tier) *MockEngine {
	return &MockEngine{NameValue: "mock", Tier: tier}
}

// Synthesize calls SynthesizeFunc and records the call.
func (m *MockEngine) Synthesize(ctx context.Context, req Request) (*Artifact, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, req)
	}

	return &Artifact{
		Audio:     make([]byte, 64),
		Format:    "wav",
		Key:       req.Key(),
		Language:  req.Language,
		Provider:  m.Tier,
		CreatedAt: time.Now(),
		TTL:       time.Minute,
	}, nil
}

// Name identifies the engine.
func (m *MockEngine) Name() string {
	if m.NameValue == "" {
		return "mock"
	}
	return m.NameValue
}

// Close is a no-op.
func (m *MockEngine) Close() error { return nil }

// Calls returns the number of Synthesize invocations.
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Verify MockEngine implements Engine at compile time.
var _ Engine = (*MockEngine)(nil)
