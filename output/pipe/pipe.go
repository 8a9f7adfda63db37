// Package pipe writes protocol lines into the named pipe read by the consumer.
package pipe

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/c360/thermstream/errors"
	"github.com/c360/thermstream/pkg/fifo"
)

// Config holds FIFO writer settings.
type Config struct {
	Path string `json:"path" yaml:"path"`
	// WriteTimeout bounds a write while the pipe buffer is full.
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// DefaultConfig returns the well-known pipe path.
func DefaultConfig() Config {
	return Config{
		Path:         "/tmp/sensor_data_pipe",
		WriteTimeout: time.Second,
	}
}

// Writer delivers one line per open/write/close cycle, so the consumer may
// come and go between lines. With no consumer attached WriteLine returns a
// Transient error matching errors.ErrNoReader and the line is not kept.
type Writer struct {
	config Config
	logger *slog.Logger

	written atomic.Int64
	skipped atomic.Int64
}

// NewWriter creates the FIFO if needed and returns a writer for it.
func NewWriter(cfg Config, logger *slog.Logger) (*Writer, error) {
	if cfg.Path == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: path", errors.ErrMissingConfig), "pipe.Writer", "NewWriter", "path check")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if err := fifo.Ensure(cfg.Path); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		config: cfg,
		logger: logger.With("component", "fifo-writer", "path", cfg.Path),
	}, nil
}

// WriteLine writes line in a single write call.
func (w *Writer) WriteLine(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := fifo.OpenWriter(w.config.Path)
	if err != nil {
		if errors.IsTransient(err) {
			w.skipped.Add(1)
		}
		return err
	}
	defer f.Close()

	deadline := time.Now().Add(w.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = f.SetWriteDeadline(deadline)

	if _, err := f.Write([]byte(line)); err != nil {
		return errors.WrapTransient(err, "pipe.Writer", "WriteLine", "write")
	}
	w.written.Add(1)
	return nil
}

// Written returns the number of lines accepted by the pipe.
func (w *Writer) Written() int64 {
	return w.written.Load()
}

// Skipped returns the number of lines dropped for lack of a reader.
func (w *Writer) Skipped() int64 {
	return w.skipped.Load()
}

// Close is a no-op; no descriptor is held between writes.
func (w *Writer) Close() error {
	return nil
}
