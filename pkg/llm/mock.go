package llm

import (
	"context"
	"sync"
)

// Mock implements Completer for testing.
type Mock struct {
	// CompleteFunc is called when Complete is invoked.
	// If nil, echoes a fixed response.
	CompleteFunc func(ctx context.Context, promptText string) (string, error)

	mu      sync.Mutex
	calls   int
	prompts []string
}

// NewMock creates a mock completer with a fixed response.
func NewMock() *Mock {
	return &Mock{
		CompleteFunc: func(ctx context.Context, promptText string) (string, error) {
			return "Okay, done.", nil
		},
	}
}

// Complete calls CompleteFunc and records the call.
func (m *Mock) Complete(ctx context.Context, promptText string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.prompts = append(m.prompts, promptText)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, promptText)
	}
	return "", ErrCompletionFailed
}

// Calls returns the number of Complete invocations.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Prompts returns the prompts seen so far.
func (m *Mock) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Verify Mock implements Completer at compile time.
var _ Completer = (*Mock)(nil)
