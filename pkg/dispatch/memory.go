package dispatch

import (
	"sync"
)

// MemoryBus implements Bus in memory for tests and local development.
// Delivery is synchronous: Publish invokes matching handlers before
// returning.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]func(data []byte)

	// PublishErr, when set, is returned by Publish for matching
	// subjects, simulating an unreachable target.
	publishErr map[string]error
}

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		handlers:   make(map[string][]func(data []byte)),
		publishErr: make(map[string]error),
	}
}

// FailSubject makes Publish return err for the given subject.
func (b *MemoryBus) FailSubject(subject string, err error) {
	b.mu.Lock()
	b.publishErr[subject] = err
	b.mu.Unlock()
}

// Publish delivers data to every handler subscribed to subject.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	b.mu.RLock()
	err := b.publishErr[subject]
	handlers := append(([]func(data []byte))(nil), b.handlers[subject]...)
	b.mu.RUnlock()

	if err != nil {
		return err
	}
	for _, handler := range handlers {
		handler(data)
	}
	return nil
}

// Subscribe registers a handler for subject.
func (b *MemoryBus) Subscribe(subject string, handler func(data []byte)) (func() error, error) {
	b.mu.Lock()
	b.handlers[subject] = append(b.handlers[subject], handler)
	b.mu.Unlock()

	return func() error { return nil }, nil
}

// Verify MemoryBus implements Bus at compile time.
var _ Bus = (*MemoryBus)(nil)
