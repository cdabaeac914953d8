// Package dispatch publishes synthesized audio to speaker-control
// consumers over the message bus and tracks per-target delivery status.
package dispatch

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// Bus is the minimal publish/subscribe surface the publisher needs.
// Satisfied by NATSBus in production and an in-memory bus in tests.
type Bus interface {
	// Publish sends data to subject.
	Publish(subject string, data []byte) error

	// Subscribe delivers every message on subject to handler.
	// The returned function cancels the subscription.
	Subscribe(subject string, handler func(data []byte)) (func() error, error)
}

// NATSBus implements Bus over a NATS connection.
type NATSBus struct {
	conn *nats.Conn
}

// NewNATSBus wraps an established NATS connection.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{conn: conn}
}

// Publish sends data to subject.
func (b *NATSBus) Publish(subject string, data []byte) error {
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("dispatch: publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers messages on subject to handler.
func (b *NATSBus) Subscribe(subject string, handler func(data []byte)) (func() error, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch: subscribe %s: %w", subject, err)
	}
	return func() error {
		if err := sub.Drain(); err != nil {
			return fmt.Errorf("dispatch: drain %s: %w", subject, err)
		}
		return nil
	}, nil
}

// Verify NATSBus implements Bus at compile time.
var _ Bus = (*NATSBus)(nil)
