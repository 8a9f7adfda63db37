// Package natsline publishes protocol lines on a NATS subject for the
// sensor producer.
package natsline

import (
	"context"
	stderrors "errors"
	"strings"
	"sync/atomic"

	"github.com/c360/thermstream/errors"
	"github.com/c360/thermstream/natsclient"
)

// Publisher is the part of natsclient.Client the writer needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Writer publishes one message per line.
type Writer struct {
	client  Publisher
	subject string

	written atomic.Int64
	skipped atomic.Int64
}

// NewWriter returns a writer for subject.
func NewWriter(client Publisher, subject string) (*Writer, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "natsline", "NewWriter", "client is required")
	}
	if strings.TrimSpace(subject) == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "natsline", "NewWriter", "subject is required")
	}
	return &Writer{client: client, subject: subject}, nil
}

// WriteLine publishes line without a terminator. While the client is
// disconnected the line is skipped and a transient error matching
// errors.ErrNoReader is returned, as the FIFO writer does.
func (w *Writer) WriteLine(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := w.client.Publish(ctx, w.subject, []byte(strings.TrimRight(line, "\r\n")))
	if err == nil {
		w.written.Add(1)
		return nil
	}
	w.skipped.Add(1)
	if stderrors.Is(err, natsclient.ErrNotConnected) {
		return errors.WrapTransient(errors.ErrNoReader, "natsline", "WriteLine", "publish "+w.subject)
	}
	return errors.WrapTransient(err, "natsline", "WriteLine", "publish "+w.subject)
}

// Written returns the number of published lines.
func (w *Writer) Written() int64 {
	return w.written.Load()
}

// Skipped returns the number of lines that could not be published.
func (w *Writer) Skipped() int64 {
	return w.skipped.Load()
}

// Close is a no-op; the client is owned by the caller.
func (w *Writer) Close() error {
	return nil
}
