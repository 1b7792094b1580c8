package notify

import (
	"context"
	"sync"
)

// Mock implements Sender for testing.
type Mock struct {
	// SendFunc is called when Send is invoked. If nil, the message is accepted.
	SendFunc func(ctx context.Context, msg Message) error

	mu   sync.Mutex
	sent []Message
}

// NewMock creates a mock that accepts every message.
func NewMock() *Mock {
	return &Mock{}
}

// Send records msg and calls SendFunc.
func (m *Mock) Send(ctx context.Context, msg Message) error {
	if m.SendFunc != nil {
		if err := m.SendFunc(ctx, msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return nil
}

// Name returns "mock".
func (m *Mock) Name() string { return "mock" }

// Sent returns the accepted messages.
func (m *Mock) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

// Reset clears recorded messages.
func (m *Mock) Reset() {
	m.mu.Lock()
	m.sent = nil
	m.mu.Unlock()
}

var _ Sender = (*Mock)(nil)
