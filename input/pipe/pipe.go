// Package pipe receives protocol lines from the sensor producer over a named pipe.
package pipe

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/thermstream/errors"
	"github.com/c360/thermstream/health"
	"github.com/c360/thermstream/metric"
	"github.com/c360/thermstream/pkg/fifo"
)

// TransportName labels this transport in metrics and health.
const TransportName = "fifo"

// Config holds FIFO reader settings.
type Config struct {
	Path string `json:"path" yaml:"path"`
	// ReopenDelay is waited after open and read failures.
	ReopenDelay time.Duration `json:"reopen_delay" yaml:"reopen_delay"`
	// MaxLineBytes bounds an unterminated line before it is discarded.
	MaxLineBytes int `json:"max_line_bytes" yaml:"max_line_bytes"`
}

// DefaultConfig returns the well-known pipe path and a 1s reopen delay.
func DefaultConfig() Config {
	return Config{
		Path:         "/tmp/sensor_data_pipe",
		ReopenDelay:  time.Second,
		MaxLineBytes: 64 * 1024,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Path == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: path", errors.ErrMissingConfig), "pipe.Config", "Validate", "path check")
	}
	if c.ReopenDelay <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: reopen_delay must be positive", errors.ErrInvalidConfig),
			"pipe.Config", "Validate", "reopen delay check")
	}
	return nil
}

// TransportError reports a failed FIFO session. The reader recovers by
// reopening after ReopenDelay.
type TransportError struct {
	Path string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fifo %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap exposes ErrConnectionLost and the cause.
func (e *TransportError) Unwrap() []error {
	return []error{errors.ErrConnectionLost, e.Err}
}

// Handler receives one complete line, without its terminator.
type Handler = func(ctx context.Context, line string)

// Deps holds runtime dependencies for the reader.
type Deps struct {
	Config  Config
	Metrics *metric.Metrics // optional
	Monitor *health.Monitor // optional
	Logger  *slog.Logger
}

// Reader consumes lines from a FIFO. The read end stays open while producers
// come and go; it is reopened only after an open or read failure.
type Reader struct {
	config  Config
	metrics *metric.Metrics
	monitor *health.Monitor
	logger  *slog.Logger

	assembler lineAssembler

	mu      sync.Mutex
	file    *os.File
	closed  bool
	closeCh chan struct{}

	running   atomic.Bool
	connected atomic.Bool
	reopens   atomic.Int64
	lines     atomic.Int64
	overflows atomic.Int64
	partial   atomic.Int64
	lastErr   atomic.Value // string
}

// NewReader validates config and creates the FIFO if needed. A FIFO that
// cannot be created is a Fatal error.
func NewReader(deps Deps) (*Reader, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if err := fifo.Ensure(deps.Config.Path); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Reader{
		config:    deps.Config,
		metrics:   deps.Metrics,
		monitor:   deps.Monitor,
		logger:    logger.With("component", "fifo-reader", "path", deps.Config.Path),
		assembler: lineAssembler{max: deps.Config.MaxLineBytes},
		closeCh:   make(chan struct{}),
	}
	r.lastErr.Store("")
	return r, nil
}

// Run reads until ctx ends or Close is called, calling handler for each
// line in arrival order from this goroutine.
func (r *Reader) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.WrapInvalid(fmt.Errorf("nil handler"), "Reader", "Run", "handler check")
	}
	if !r.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Reader", "Run", "start")
	}
	defer r.running.Store(false)

	stop := context.AfterFunc(ctx, func() { r.release() })
	defer stop()

	r.logger.Info("FIFO reader started", "reopen_delay", r.config.ReopenDelay)

	for {
		if r.stopped(ctx) {
			r.logger.Info("FIFO reader stopped", "reopens", r.reopens.Load(), "lines", r.lines.Load())
			return nil
		}

		f, err := fifo.OpenReader(r.config.Path)
		if err != nil {
			r.noteError(&TransportError{Path: r.config.Path, Op: "open", Err: err})
			r.logger.Warn("FIFO open failed, retrying", "error", err, "delay", r.config.ReopenDelay)
			r.monitor.Update(TransportName, health.FromError(TransportName, err, false))
			r.wait(ctx)
			continue
		}

		if !r.hold(ctx, f) {
			_ = f.Close()
			continue
		}
		r.setConnected(true)
		r.monitor.UpdateHealthy(TransportName, "listening")

		err = r.session(ctx, f, handler)
		r.release()
		r.setConnected(false)

		if r.stopped(ctx) {
			continue
		}
		r.reopens.Add(1)
		r.recordReconnect()

		// The reader holds its own write reference, so EOF only shows up if
		// the FIFO was swapped underneath it. Reopen at once.
		if stderrors.Is(err, io.EOF) {
			r.logger.Info("FIFO reached EOF, reopening")
			continue
		}

		terr := &TransportError{Path: r.config.Path, Op: "read", Err: err}
		r.noteError(terr)
		r.logger.Warn("FIFO read failed, reopening", "error", err, "delay", r.config.ReopenDelay)
		r.monitor.Update(TransportName, health.FromError(TransportName, terr, false))
		r.wait(ctx)
	}
}

// session reads from f until an error and hands complete lines to handler.
// Producers attach and detach freely while it runs.
func (r *Reader) session(ctx context.Context, f *os.File, handler Handler) error {
	buf := make([]byte, 4096)

	for {
		n, err := f.Read(buf)
		if n > 0 {
			lines, overflowed := r.assembler.feed(buf[:n])
			r.partial.Store(int64(r.assembler.partial()))
			if overflowed {
				r.overflows.Add(1)
				r.logger.Warn("Discarded unterminated line over size limit", "max_bytes", r.config.MaxLineBytes)
			}
			for _, line := range lines {
				r.lines.Add(1)
				if r.metrics != nil {
					r.metrics.RecordLineReceived(TransportName)
				}
				handler(ctx, line)
			}
		}
		if err != nil {
			return err
		}
	}
}

// Close stops Run and releases the FIFO. Safe to call more than once.
func (r *Reader) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.closeCh)
	}
	r.mu.Unlock()
	r.release()
	return nil
}

// Connected reports whether the reader holds the FIFO open.
func (r *Reader) Connected() bool {
	return r.connected.Load()
}

// Stats is a snapshot of reader counters.
type Stats struct {
	Connected    bool   `json:"connected"`
	Reopens      int64  `json:"reopens"`
	Lines        int64  `json:"lines"`
	Overflows    int64  `json:"overflows"`
	PartialBytes int64  `json:"partial_bytes"`
	LastError    string `json:"last_error,omitempty"`
}

// Stats returns the reader counters.
func (r *Reader) Stats() Stats {
	lastErr, _ := r.lastErr.Load().(string)
	return Stats{
		Connected:    r.connected.Load(),
		Reopens:      r.reopens.Load(),
		Lines:        r.lines.Load(),
		Overflows:    r.overflows.Load(),
		PartialBytes: r.partial.Load(),
		LastError:    lastErr,
	}
}

// hold records f as the open session unless the reader is stopping.
func (r *Reader) hold(ctx context.Context, f *os.File) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || ctx.Err() != nil {
		return false
	}
	r.file = f
	return true
}

// release closes the current session file, if any. Idempotent.
func (r *Reader) release() {
	r.mu.Lock()
	f := r.file
	r.file = nil
	r.mu.Unlock()
	if f != nil {
		_ = f.Close()
	}
}

func (r *Reader) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-r.closeCh:
		return true
	default:
		return false
	}
}

// wait sleeps ReopenDelay; it returns false if the reader was stopped meanwhile.
func (r *Reader) wait(ctx context.Context) bool {
	timer := time.NewTimer(r.config.ReopenDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-r.closeCh:
		return false
	case <-timer.C:
		return true
	}
}

func (r *Reader) setConnected(v bool) {
	r.connected.Store(v)
	if r.metrics != nil {
		r.metrics.RecordTransportState(TransportName, v)
	}
}

func (r *Reader) recordReconnect() {
	if r.metrics != nil {
		r.metrics.RecordTransportReconnect(TransportName)
	}
}

func (r *Reader) noteError(err error) {
	r.lastErr.Store(err.Error())
}
