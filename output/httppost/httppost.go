// Package httppost delivers outbound records to the remote collector over HTTP POST,
// buffering records that cannot be delivered and replaying them in order.
package httppost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/thermstream/errors"
	"github.com/c360/thermstream/health"
	"github.com/c360/thermstream/message"
	"github.com/c360/thermstream/metric"
	"github.com/c360/thermstream/pkg/buffer"
	"github.com/c360/thermstream/pkg/retry"
)

// ComponentName labels the queue in logs and health.
const ComponentName = "delivery"

// RecordIDHeader carries the record id so the collector can discard redeliveries.
const RecordIDHeader = "X-Record-ID"

// Config holds configuration for the delivery queue
type Config struct {
	BaseURL         string            `json:"base_url"         yaml:"base_url"`
	TemperaturePath string            `json:"temperature_path" yaml:"temperature_path"`
	AlertPath       string            `json:"alert_path"       yaml:"alert_path"`
	Headers         map[string]string `json:"headers"          yaml:"headers"`

	// Timeout bounds each HTTP request.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// RetryLimit is the number of attempts after the first live attempt.
	RetryLimit int `json:"retry_limit" yaml:"retry_limit"`
	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`
	// MaxBuffered caps the buffer; the oldest record is dropped when full. 0 is unbounded.
	MaxBuffered int `json:"max_buffered" yaml:"max_buffered"`
	// DrainInterval, when positive, makes an idle queue retry its buffer periodically.
	DrainInterval time.Duration `json:"drain_interval" yaml:"drain_interval"`
}

// DefaultConfig returns default configuration for the delivery queue
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://localhost:3000",
		TemperaturePath: "/api/temperature",
		AlertPath:       "/api/alert",
		Headers:         make(map[string]string),
		Timeout:         5 * time.Second,
		RetryLimit:      3,
		RetryDelay:      time.Second,
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "invalid base_url format")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "base_url scheme must be http or https")
	}
	if !strings.HasPrefix(c.TemperaturePath, "/") || !strings.HasPrefix(c.AlertPath, "/") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "endpoint paths must start with /")
	}
	if c.Timeout <= 0 || c.Timeout > 5*time.Minute {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"timeout must be between 0 and 5m")
	}
	if c.RetryLimit < 0 || c.RetryLimit > 100 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retry_limit must be between 0 and 100")
	}
	if c.RetryDelay < 0 || c.DrainInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retry_delay and drain_interval cannot be negative")
	}
	if c.MaxBuffered < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "max_buffered cannot be negative")
	}
	return nil
}

// DeliveryError reports a failed delivery attempt. Every DeliveryError is
// retryable: transport failures and non-2xx responses alike.
type DeliveryError struct {
	RecordID   string
	Kind       message.Kind
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("deliver %s %s to %s: HTTP %d", e.Kind, e.RecordID, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("deliver %s %s to %s: %v", e.Kind, e.RecordID, e.URL, e.Err)
}

// Unwrap exposes ErrDeliveryFailed and the underlying cause.
func (e *DeliveryError) Unwrap() []error {
	if e.Err == nil {
		return []error{errors.ErrDeliveryFailed}
	}
	return []error{errors.ErrDeliveryFailed, e.Err}
}

// Deps holds runtime dependencies for the queue.
type Deps struct {
	Config   Config
	Registry *metric.MetricsRegistry // optional; enables Prometheus metrics
	Monitor  *health.Monitor         // optional
	Logger   *slog.Logger
	Client   *http.Client // optional; built from Config.Timeout when nil
}

// Queue sends records to the collector. A live record is attempted at once
// and retried with a fixed delay; once retries are exhausted it joins the
// tail of the buffer. After any live success the buffer is replayed head
// first until it is empty or an attempt fails, in which case the failed
// record goes back to the head. Only one live delivery runs at a time;
// records submitted meanwhile are buffered.
type Queue struct {
	config     Config
	httpClient *http.Client
	buffer     buffer.Queue[message.Record]
	metrics    *metric.Metrics
	monitor    *health.Monitor
	logger     *slog.Logger

	inFlight atomic.Bool

	// Lifecycle management
	ctx         context.Context
	cancel      context.CancelFunc
	running     bool
	lifecycleMu sync.Mutex
	wg          sync.WaitGroup

	// Counters
	delivered atomic.Int64
	retried   atomic.Int64
	buffered  atomic.Int64
	dropped   atomic.Int64
	failures  atomic.Int64

	mu           sync.RWMutex
	lastActivity time.Time
	lastError    string
}

// NewQueue validates the configuration and builds a stopped queue.
func NewQueue(deps Deps) (*Queue, error) {
	cfg := deps.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", ComponentName)

	q := &Queue{
		config:     cfg,
		httpClient: deps.Client,
		monitor:    deps.Monitor,
		logger:     logger,
	}
	if q.httpClient == nil {
		q.httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if deps.Registry != nil {
		q.metrics = deps.Registry.CoreMetrics()
	}

	buf, err := buffer.NewDeque[message.Record](cfg.MaxBuffered,
		buffer.WithOverflowPolicy[message.Record](buffer.DropOldest),
		buffer.WithMetrics[message.Record](deps.Registry, ComponentName),
		buffer.WithDropCallback[message.Record](q.onDrop),
	)
	if err != nil {
		return nil, errors.WrapFatal(err, "Queue", "NewQueue", "create buffer")
	}
	q.buffer = buf

	return q, nil
}

// Start enables submissions and, when DrainInterval is set, the idle drain loop.
func (q *Queue) Start(ctx context.Context) error {
	q.lifecycleMu.Lock()
	defer q.lifecycleMu.Unlock()

	if q.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Queue", "Start", "check running state")
	}

	q.ctx, q.cancel = context.WithCancel(ctx)
	q.running = true

	if q.config.DrainInterval > 0 {
		q.wg.Add(1)
		go q.drainLoop()
	}

	q.monitor.UpdateHealthy(ComponentName, "ready")
	q.logger.Info("Delivery queue started",
		"base_url", q.config.BaseURL,
		"retry_limit", q.config.RetryLimit,
		"retry_delay", q.config.RetryDelay,
		"max_buffered", q.config.MaxBuffered)
	return nil
}

// Stop cancels any pending retry wait and waits up to timeout for the
// running delivery to give up. Records still buffered are lost with the
// process.
func (q *Queue) Stop(timeout time.Duration) error {
	q.lifecycleMu.Lock()
	defer q.lifecycleMu.Unlock()

	if !q.running {
		return nil
	}
	q.cancel()

	waitCh := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("shutdown timeout after %v", timeout), "Queue", "Stop", "shutdown")
	}

	q.running = false
	if n := q.buffer.Len(); n > 0 {
		q.logger.Warn("Delivery queue stopped with undelivered records", "buffered", n)
	} else {
		q.logger.Info("Delivery queue stopped")
	}
	return nil
}

// Submit hands a record to the queue without waiting for delivery. The
// error only reports records that were rejected outright.
func (q *Queue) Submit(rec message.Record) error {
	if rec == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Queue", "Submit", "nil record")
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	q.lifecycleMu.Lock()
	if !q.running || q.ctx.Err() != nil {
		q.lifecycleMu.Unlock()
		return errors.WrapTransient(errors.ErrNotStarted, "Queue", "Submit", "check running state")
	}
	if !q.inFlight.CompareAndSwap(false, true) {
		q.lifecycleMu.Unlock()
		q.enqueue(rec)
		return nil
	}
	q.wg.Add(1)
	q.lifecycleMu.Unlock()

	q.reportState()
	go q.deliverLive(rec)
	return nil
}

// deliverLive runs one live delivery and, on success, the buffer replay.
func (q *Queue) deliverLive(rec message.Record) {
	defer q.wg.Done()
	defer q.endFlight()

	err := retry.Do(q.ctx, q.retryConfig(rec), func() error {
		return q.send(q.ctx, rec)
	})
	if err != nil {
		q.failures.Add(1)
		q.noteError(err)
		q.logger.Warn("Delivery failed, buffering record",
			"record_id", rec.ID(), "kind", rec.Kind(), "sensor_id", rec.Sensor(), "error", err)
		q.enqueue(rec)
		return
	}

	q.drain()
}

// drain replays buffered records head first, one attempt each. The first
// failure puts the record back at the head and ends the pass.
func (q *Queue) drain() {
	replayed := 0
	for q.ctx.Err() == nil {
		rec, ok := q.buffer.PopFront()
		if !ok {
			break
		}
		if err := q.send(q.ctx, rec); err != nil {
			if pushErr := q.buffer.PushFront(rec); pushErr != nil {
				q.logger.Error("Could not return record to buffer", "record_id", rec.ID(), "error", pushErr)
			}
			q.noteError(err)
			q.logger.Info("Buffer replay stopped", "replayed", replayed, "remaining", q.buffer.Len(), "error", err)
			q.reportState()
			return
		}
		replayed++
		q.reportState()
	}
	if replayed > 0 {
		q.logger.Info("Buffer replayed", "replayed", replayed)
	}
	q.monitor.UpdateHealthy(ComponentName, "delivering")
}

// drainLoop periodically replays the buffer while no live delivery runs.
func (q *Queue) drainLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			if q.buffer.Len() == 0 || !q.inFlight.CompareAndSwap(false, true) {
				continue
			}
			q.reportState()
			q.drain()
			q.endFlight()
		}
	}
}

// send makes a single delivery attempt.
func (q *Queue) send(ctx context.Context, rec message.Record) error {
	endpoint := q.endpoint(rec.Kind())
	start := time.Now()

	err := q.post(ctx, endpoint, rec)

	if q.metrics != nil {
		q.metrics.RecordDelivery(string(rec.Kind()), err == nil, time.Since(start))
	}
	q.mu.Lock()
	q.lastActivity = time.Now()
	q.mu.Unlock()

	if err != nil {
		return err
	}
	q.delivered.Add(1)
	q.logger.Debug("Record delivered", "record_id", rec.ID(), "kind", rec.Kind(), "sensor_id", rec.Sensor())
	return nil
}

func (q *Queue) post(ctx context.Context, endpoint string, rec message.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return retry.NonRetryable(errors.WrapInvalid(err, "Queue", "post", "marshal record"))
	}

	reqCtx, cancel := context.WithTimeout(ctx, q.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{RecordID: rec.ID(), Kind: rec.Kind(), URL: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range q.config.Headers {
		req.Header.Set(key, value)
	}
	req.Header.Set(RecordIDHeader, rec.ID())

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return &DeliveryError{RecordID: rec.ID(), Kind: rec.Kind(), URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	// Read and discard body to reuse connection
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{
			RecordID:   rec.ID(),
			Kind:       rec.Kind(),
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status),
		}
	}
	return nil
}

func (q *Queue) retryConfig(rec message.Record) retry.Config {
	// RetryLimit counts attempts after the first.
	cfg := retry.Fixed(q.config.RetryLimit+1, q.config.RetryDelay)
	cfg.OnRetry = func(attempt int, err error, next time.Duration) {
		q.retried.Add(1)
		q.logger.Debug("Retrying delivery",
			"record_id", rec.ID(), "attempt", attempt, "next_in", next, "error", err)
	}
	return cfg
}

func (q *Queue) endpoint(kind message.Kind) string {
	if kind == message.KindAlert {
		return q.config.BaseURL + q.config.AlertPath
	}
	return q.config.BaseURL + q.config.TemperaturePath
}

func (q *Queue) enqueue(rec message.Record) {
	if err := q.buffer.PushBack(rec); err != nil {
		q.dropped.Add(1)
		q.logger.Error("Record lost, buffer rejected it", "record_id", rec.ID(), "kind", rec.Kind(), "error", err)
		return
	}
	q.buffered.Add(1)
	q.reportState()
}

func (q *Queue) onDrop(rec message.Record) {
	q.dropped.Add(1)
	q.logger.Warn("Buffer full, dropped oldest record",
		"record_id", rec.ID(), "kind", rec.Kind(), "sensor_id", rec.Sensor(), "max_buffered", q.config.MaxBuffered)
}

func (q *Queue) endFlight() {
	q.inFlight.Store(false)
	q.reportState()
}

func (q *Queue) reportState() {
	if q.metrics != nil {
		q.metrics.RecordDeliveryState(q.inFlight.Load(), q.buffer.Len())
	}
}

func (q *Queue) noteError(err error) {
	q.mu.Lock()
	q.lastError = err.Error()
	q.mu.Unlock()
	q.monitor.Update(ComponentName, health.FromError(ComponentName, err, false))
}

// Buffered returns the number of records waiting in the buffer.
func (q *Queue) Buffered() int {
	return q.buffer.Len()
}

// InFlight reports whether a live delivery or buffer replay is running.
func (q *Queue) InFlight() bool {
	return q.inFlight.Load()
}

// Pending returns the buffered records in replay order.
func (q *Queue) Pending() []message.Record {
	return q.buffer.Snapshot()
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Delivered    int64     `json:"delivered"`
	Retried      int64     `json:"retried"`
	Failures     int64     `json:"failures"`
	Buffered     int       `json:"buffered"`
	BufferedEver int64     `json:"buffered_total"`
	Dropped      int64     `json:"dropped"`
	InFlight     bool      `json:"in_flight"`
	LastActivity time.Time `json:"last_activity,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// Stats returns current counters.
func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return Stats{
		Delivered:    q.delivered.Load(),
		Retried:      q.retried.Load(),
		Failures:     q.failures.Load(),
		Buffered:     q.buffer.Len(),
		BufferedEver: q.buffered.Load(),
		Dropped:      q.dropped.Load(),
		InFlight:     q.inFlight.Load(),
		LastActivity: q.lastActivity,
		LastError:    q.lastError,
	}
}
