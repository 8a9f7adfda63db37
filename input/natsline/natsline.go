// Package natsline receives protocol lines from a NATS subject. It is the
// alternative to the FIFO reader; connection recovery belongs to the NATS
// client, so Run only subscribes once and hands lines over in order.
package natsline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/c360/thermstream/errors"
	"github.com/c360/thermstream/health"
	"github.com/c360/thermstream/metric"
)

// TransportName labels this transport in metrics and health.
const TransportName = "nats"

// DefaultSubject is where the producer publishes lines.
const DefaultSubject = "thermal.lines"

// Handler receives one complete line, without its terminator.
type Handler = func(ctx context.Context, line string)

// Subscriber is the part of natsclient.Client the source needs.
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
}

// Config holds the subscription settings.
type Config struct {
	Subject string `json:"subject" yaml:"subject"`
	// QueueDepth bounds messages waiting for the handler. When full the
	// subscription callback blocks, and NATS applies its slow-consumer limits.
	QueueDepth int `json:"queue_depth" yaml:"queue_depth"`
}

// DefaultConfig returns the default subscription settings.
func DefaultConfig() Config {
	return Config{Subject: DefaultSubject, QueueDepth: 1024}
}

// Validate checks the config.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Subject) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "natsline", "Validate", "subject is required")
	}
	if c.QueueDepth < 1 {
		return errors.WrapInvalid(fmt.Errorf("%w: queue_depth must be at least 1", errors.ErrInvalidConfig),
			"natsline", "Validate", "queue depth")
	}
	return nil
}

// Deps holds runtime dependencies for the source.
type Deps struct {
	Config  Config
	Client  Subscriber
	Metrics *metric.Metrics // optional
	Monitor *health.Monitor // optional
	Logger  *slog.Logger
}

// Source delivers lines published on a subject.
type Source struct {
	config  Config
	client  Subscriber
	metrics *metric.Metrics
	monitor *health.Monitor
	logger  *slog.Logger

	running    atomic.Bool
	subscribed atomic.Bool
	closeCh    chan struct{}
	closeMu    sync.Once
	messages   atomic.Int64
	lines      atomic.Int64
}

// NewSource validates deps.
func NewSource(deps Deps) (*Source, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if deps.Client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "natsline", "NewSource", "client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		config:  deps.Config,
		client:  deps.Client,
		metrics: deps.Metrics,
		monitor: deps.Monitor,
		logger:  logger.With("component", "nats-source", "subject", deps.Config.Subject),
		closeCh: make(chan struct{}),
	}, nil
}

// Run subscribes and calls handler for each line, one at a time from this
// goroutine, until ctx ends or Close is called. A failed subscribe is
// returned; later connection loss is handled by the client.
func (s *Source) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.WrapInvalid(fmt.Errorf("nil handler"), "Source", "Run", "handler check")
	}
	if !s.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Source", "Run", "start")
	}
	defer s.running.Store(false)
	defer s.subscribed.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan []byte, s.config.QueueDepth)
	err := s.client.Subscribe(ctx, s.config.Subject, func(msgCtx context.Context, data []byte) {
		select {
		case queue <- data:
		case <-ctx.Done():
		case <-msgCtx.Done():
			s.logger.Warn("Dropped message, handler queue full", "bytes", len(data))
		}
	})
	if err != nil {
		s.monitor.Update(TransportName, health.FromError(TransportName, err, false))
		return errors.WrapTransient(err, "Source", "Run", "subscribe")
	}

	s.subscribed.Store(true)
	s.logger.Info("NATS source started")
	s.monitor.UpdateHealthy(TransportName, "subscribed")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("NATS source stopped", "messages", s.messages.Load(), "lines", s.lines.Load())
			return nil
		case <-s.closeCh:
			s.logger.Info("NATS source closed", "messages", s.messages.Load(), "lines", s.lines.Load())
			return nil
		case data := <-queue:
			s.messages.Add(1)
			s.dispatch(ctx, data, handler)
		}
	}
}

// dispatch splits a message into lines; producers send one line per
// message but a batch is accepted.
func (s *Source) dispatch(ctx context.Context, data []byte, handler Handler) {
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		s.lines.Add(1)
		if s.metrics != nil {
			s.metrics.RecordLineReceived(TransportName)
		}
		handler(ctx, line)
	}
}

// Connected reports whether Run holds a subscription and, when the client
// can tell, whether the connection is up.
func (s *Source) Connected() bool {
	if !s.subscribed.Load() {
		return false
	}
	if h, ok := s.client.(interface{ IsHealthy() bool }); ok {
		return h.IsHealthy()
	}
	return true
}

// Close stops Run. Safe to call more than once.
func (s *Source) Close() error {
	s.closeMu.Do(func() { close(s.closeCh) })
	return nil
}

// Stats is a point-in-time view of the source.
type Stats struct {
	Messages int64 `json:"messages"`
	Lines    int64 `json:"lines"`
}

// Stats returns counters since creation.
func (s *Source) Stats() Stats {
	return Stats{Messages: s.messages.Load(), Lines: s.lines.Load()}
}
