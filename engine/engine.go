package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/thermstream/errors"
	"github.com/c360/thermstream/health"
	"github.com/c360/thermstream/message"
	"github.com/c360/thermstream/metric"
	"github.com/c360/thermstream/output/httppost"
	"github.com/c360/thermstream/processor/alert"
	"github.com/c360/thermstream/processor/anomaly"
	"github.com/c360/thermstream/processor/parser"
)

// ComponentName is the engine's name in health and logs.
const ComponentName = "engine"

// DefaultStopTimeout bounds how long Run waits for in-flight delivery after
// the source stops.
const DefaultStopTimeout = 5 * time.Second

// LineSource produces protocol lines. input/pipe.Reader and
// input/natsline.Source both satisfy it.
type LineSource interface {
	Run(ctx context.Context, handler func(ctx context.Context, line string)) error
}

// Queue is the delivery side of the pipeline; httppost.Queue satisfies it.
type Queue interface {
	Submit(rec message.Record) error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	Stats() httppost.Stats
}

// AlertFeed receives every alert transition; output/websocket.Hub satisfies it.
type AlertFeed interface {
	BroadcastAlert(rec *message.AlertRecord)
}

// Deps holds the engine's collaborators.
type Deps struct {
	Source     LineSource
	SourceName string
	Classifier *anomaly.Classifier
	Tracker    *alert.Tracker // optional, a fresh tracker when nil
	Queue      Queue
	Feed       AlertFeed               // optional
	Registry   *metric.MetricsRegistry // optional
	Monitor    *health.Monitor         // optional
	Logger     *slog.Logger
	// StopTimeout bounds the queue shutdown in Run; 0 means DefaultStopTimeout.
	StopTimeout time.Duration
}

// Outcome describes what HandleLine did with one line.
type Outcome struct {
	Reading  message.Reading
	Analysis anomaly.Analysis
	Record   *message.TemperatureRecord
	// Alert is set only when the line changed the sensor's alert state.
	Alert *message.AlertRecord
}

// Engine drives lines from a source through classification and alert
// tracking into the delivery queue. Lines are handled one at a time, so the
// tracker and queue see a single ordered sequence of events even when
// lines also arrive through the status API.
type Engine struct {
	source      LineSource
	sourceName  string
	classifier  *anomaly.Classifier
	tracker     *alert.Tracker
	queue       Queue
	feed        AlertFeed
	core        *metric.Metrics
	metrics     *engineMetrics
	monitor     *health.Monitor
	logger      *slog.Logger
	stopTimeout time.Duration

	handleMu sync.Mutex
	running  atomic.Bool
	started  atomic.Value // time.Time

	lines    atomic.Int64
	accepted atomic.Int64
	rejected atomic.Int64
	abnormal atomic.Int64
	alerts   atomic.Int64
}

// New validates deps and builds an engine.
func New(deps Deps) (*Engine, error) {
	if deps.Source == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, ComponentName, "New", "source is required")
	}
	if deps.Classifier == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, ComponentName, "New", "classifier is required")
	}
	if deps.Queue == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, ComponentName, "New", "queue is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics, err := newEngineMetrics(deps.Registry)
	if err != nil {
		return nil, errors.Wrap(err, ComponentName, "New", "register metrics")
	}

	e := &Engine{
		source:      deps.Source,
		sourceName:  deps.SourceName,
		classifier:  deps.Classifier,
		tracker:     deps.Tracker,
		queue:       deps.Queue,
		feed:        deps.Feed,
		metrics:     metrics,
		monitor:     deps.Monitor,
		logger:      logger.With("component", ComponentName),
		stopTimeout: deps.StopTimeout,
	}
	if e.tracker == nil {
		e.tracker = alert.NewTracker()
	}
	if e.stopTimeout <= 0 {
		e.stopTimeout = DefaultStopTimeout
	}
	if deps.Registry != nil {
		e.core = deps.Registry.CoreMetrics()
	}
	e.started.Store(time.Time{})
	return e, nil
}

// Run starts the queue and runs the source until ctx ends or the source
// fails, then stops the queue. Retries still waiting are abandoned; records
// left in the buffer are lost.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, ComponentName, "Run", "start")
	}
	defer e.running.Store(false)

	if err := e.queue.Start(ctx); err != nil {
		return errors.Wrap(err, ComponentName, "Run", "start delivery queue")
	}
	e.started.Store(time.Now())
	e.monitor.UpdateHealthy(ComponentName, "running")
	e.logger.Info("Pipeline started", "transport", e.sourceName,
		"min", e.classifier.Thresholds().Min, "max", e.classifier.Thresholds().Max)

	runErr := e.source.Run(ctx, func(ctx context.Context, line string) {
		_, _ = e.HandleLine(ctx, line)
	})

	stats := e.queue.Stats()
	if err := e.queue.Stop(e.stopTimeout); err != nil {
		e.logger.Warn("Delivery queue did not stop cleanly", "error", err)
	}
	if stats.Buffered > 0 || stats.InFlight {
		e.logger.Warn("Shutting down with undelivered records",
			"buffered", stats.Buffered, "in_flight", stats.InFlight)
	}

	if runErr != nil {
		e.monitor.Update(ComponentName, health.FromError(ComponentName, runErr, errors.IsFatal(runErr)))
		e.logger.Error("Source stopped with error", "error", runErr)
		return errors.Wrap(runErr, ComponentName, "Run", "run source")
	}
	e.monitor.UpdateHealthy(ComponentName, "stopped")
	e.logger.Info("Pipeline stopped", "lines", e.lines.Load(), "rejected", e.rejected.Load())
	return nil
}

// HandleLine decodes one line, classifies it, submits its TemperatureRecord
// and, when the sensor's alert state flips, an AlertRecord. A line that does
// not decode is counted and returned as an Invalid error; nothing is sent.
func (e *Engine) HandleLine(_ context.Context, line string) (Outcome, error) {
	e.handleMu.Lock()
	defer e.handleMu.Unlock()

	started := time.Now()
	e.lines.Add(1)

	reading, err := parser.Decode(line)
	if err != nil {
		e.reject(line, err)
		return Outcome{}, err
	}
	analysis, err := e.classifier.AnalyzeReading(reading)
	if err != nil {
		e.reject(line, err)
		return Outcome{}, err
	}

	e.accepted.Add(1)
	if analysis.Abnormal {
		e.abnormal.Add(1)
	}
	if e.core != nil {
		e.core.RecordReading(analysis.Abnormal)
	}

	out := Outcome{
		Reading:  reading,
		Analysis: analysis,
		Record:   message.NewTemperatureRecord(reading, analysis.Summary()),
	}
	e.submit(out.Record)

	if tr, changed := e.tracker.Observe(reading.SensorID, analysis.Abnormal, analysis.Reason); changed {
		out.Alert = message.NewAlertRecord(reading, tr.Abnormal, tr.Reason)
		e.raise(out.Alert)
	}

	e.metrics.recordLine(true, started)
	return out, nil
}

func (e *Engine) raise(rec *message.AlertRecord) {
	e.alerts.Add(1)
	if e.core != nil {
		e.core.RecordAlertTransition(rec.Abnormal())
	}
	e.metrics.setActiveAlerts(len(e.tracker.Active()))

	if rec.Abnormal() {
		e.logger.Warn("Sensor entered abnormal state", "sensor_id", rec.SensorID, "reason", rec.AlertReason)
	} else {
		e.logger.Info("Sensor returned to normal", "sensor_id", rec.SensorID)
	}

	e.submit(rec)
	if e.feed != nil {
		e.feed.BroadcastAlert(rec)
	}
}

func (e *Engine) submit(rec message.Record) {
	if err := e.queue.Submit(rec); err != nil {
		e.metrics.recordSubmitError(string(rec.Kind()))
		e.logger.Error("Record not queued", "kind", rec.Kind(), "id", rec.ID(), "error", err)
	}
}

func (e *Engine) reject(line string, err error) {
	e.rejected.Add(1)
	if e.core != nil {
		e.core.RecordParseError()
	}
	e.metrics.recordLine(false, time.Time{})
	e.logger.Warn("Dropped line", "line", truncate(line, 120), "error", err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...(%d bytes)", s[:n], len(s))
}

// Counters are totals since the engine was created.
type Counters struct {
	Lines    int64 `json:"lines"`
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
	Abnormal int64 `json:"abnormal_readings"`
	Alerts   int64 `json:"alert_transitions"`
}

// Status is the view served on /status.
type Status struct {
	Running            bool           `json:"running"`
	Transport          string         `json:"transport"`
	TransportConnected bool           `json:"transport_connected"`
	Buffered           int            `json:"buffered"`
	InFlight           bool           `json:"in_flight"`
	ActiveAlerts       []string       `json:"active_alerts"`
	Sensors            []alert.State  `json:"sensors"`
	Counters           Counters       `json:"counters"`
	Delivery           httppost.Stats `json:"delivery"`
	StartedAt          time.Time      `json:"started_at,omitempty"`
}

// Status returns a snapshot of the pipeline.
func (e *Engine) Status() Status {
	delivery := e.queue.Stats()
	active := e.tracker.Active()
	if active == nil {
		active = []string{}
	}
	sensors := e.tracker.Snapshot()
	if sensors == nil {
		sensors = []alert.State{}
	}

	connected := false
	if c, ok := e.source.(interface{ Connected() bool }); ok {
		connected = c.Connected()
	}

	return Status{
		Running:            e.running.Load(),
		Transport:          e.sourceName,
		TransportConnected: connected,
		Buffered:           delivery.Buffered,
		InFlight:           delivery.InFlight,
		ActiveAlerts:       active,
		Sensors:            sensors,
		Counters: Counters{
			Lines:    e.lines.Load(),
			Accepted: e.accepted.Load(),
			Rejected: e.rejected.Load(),
			Abnormal: e.abnormal.Load(),
			Alerts:   e.alerts.Load(),
		},
		Delivery:  delivery,
		StartedAt: e.started.Load().(time.Time),
	}
}

// ActiveAlerts lists sensors currently abnormal, sorted. It matches
// output/websocket.SnapshotFunc.
func (e *Engine) ActiveAlerts() []string {
	return e.tracker.Active()
}
