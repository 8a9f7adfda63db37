package testutil

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrMockClosed is returned by a closed MockNATSClient.
var ErrMockClosed = errors.New("mock nats client closed")

// MockNATSClient stands in for natsclient.Client's Publish and Subscribe.
// Subjects match exactly; handlers run synchronously inside Publish with a
// per-message deadline, as the real client's do.
type MockNATSClient struct {
	mu        sync.Mutex
	published map[string][][]byte
	handlers  map[string][]func(context.Context, []byte)
	closed    bool
}

// NewMockNATSClient returns an open client with no subscriptions.
func NewMockNATSClient() *MockNATSClient {
	return &MockNATSClient{
		published: make(map[string][][]byte),
		handlers:  make(map[string][]func(context.Context, []byte)),
	}
}

// Publish records data and hands it to the subject's subscribers.
func (c *MockNATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrMockClosed
	}
	c.published[subject] = append(c.published[subject], data)
	handlers := append([]func(context.Context, []byte){}, c.handlers[subject]...)
	c.mu.Unlock()

	for _, h := range handlers {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		h(msgCtx, data)
		cancel()
	}
	return nil
}

// Subscribe registers handler for subject.
func (c *MockNATSClient) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrMockClosed
	}
	c.handlers[subject] = append(c.handlers[subject], handler)
	return nil
}

// GetMessages returns a copy of everything published on subject.
func (c *MockNATSClient) GetMessages(subject string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.published[subject]...)
}

// GetMessageCount returns how many messages were published on subject.
func (c *MockNATSClient) GetMessageCount(subject string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published[subject])
}

// Close makes later calls fail.
func (c *MockNATSClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}
