// Package websocket broadcasts alert transitions to connected WebSocket clients.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/thermstream/errors"
	"github.com/c360/thermstream/message"
	"github.com/c360/thermstream/metric"
)

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 60 * time.Second
)

// Config holds hub settings.
type Config struct {
	// PingInterval is how often idle clients are pinged.
	PingInterval time.Duration `json:"ping_interval" yaml:"ping_interval"`
	// AllowedOrigins restricts browser origins; empty allows any.
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// DefaultConfig returns a 30s ping interval and no origin restriction.
func DefaultConfig() Config {
	return Config{PingInterval: 30 * time.Second}
}

// Envelope wraps every message sent to clients.
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Message types
const (
	TypeAlert    = "alert"
	TypeSnapshot = "snapshot"
)

// SnapshotFunc returns the ids of sensors currently alerting; sent to each
// client on connect.
type SnapshotFunc func() []string

// Metrics holds Prometheus metrics for the hub
type Metrics struct {
	clientsConnected   prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
	messagesSent       prometheus.Counter
	errorsTotal        *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Number of currently connected alert feed clients",
		}),
		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "client_connections_total",
			Help:      "Total client connections (including disconnected)",
		}),
		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "client_disconnections_total",
			Help:      "Total client disconnections",
		}, []string{"disconnect_reason"}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Messages written to alert feed clients",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "errors_total",
			Help:      "Alert feed errors",
		}, []string{"error_type"}),
	}

	if err := registry.RegisterGauge("websocket", "clients_connected", m.clientsConnected); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("websocket", "client_connections", m.connectionTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("websocket", "client_disconnections", m.disconnectionTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("websocket", "messages_sent", m.messagesSent); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("websocket", "errors", m.errorsTotal); err != nil {
		return nil, err
	}
	return m, nil
}

// clientInfo holds information about a connected WebSocket client
type clientInfo struct {
	conn        *websocket.Conn
	connectedAt time.Time
	closed      atomic.Bool
	closeOnce   sync.Once
	writeMutex  sync.Mutex // gorilla/websocket panics on concurrent writes
}

// Hub upgrades HTTP requests to WebSocket connections and fans alert
// records out to every client. Clients only receive; anything they send is
// read and discarded so control frames are processed.
type Hub struct {
	config   Config
	upgrader websocket.Upgrader
	snapshot SnapshotFunc
	logger   *slog.Logger
	metrics  *Metrics

	clients   map[*websocket.Conn]*clientInfo
	clientsMu sync.RWMutex

	shutdown    chan struct{}
	running     bool
	lifecycleMu sync.Mutex
	wg          sync.WaitGroup

	messageIDCounter atomic.Uint64
	sent             atomic.Int64
}

// NewHub creates a hub. snapshot and registry may be nil.
func NewHub(cfg Config, snapshot SnapshotFunc, registry *metric.MetricsRegistry, logger *slog.Logger) (*Hub, error) {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultConfig().PingInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	metrics, err := newMetrics(registry)
	if err != nil {
		return nil, errors.WrapFatal(err, "Hub", "NewHub", "register metrics")
	}

	h := &Hub{
		config:   cfg,
		snapshot: snapshot,
		logger:   logger.With("component", "alert-feed"),
		metrics:  metrics,
		clients:  make(map[*websocket.Conn]*clientInfo),
		shutdown: make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h, nil
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

// Start runs the ping loop until ctx ends or Stop is called.
func (h *Hub) Start(ctx context.Context) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	if h.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Hub", "Start", "check running state")
	}
	h.running = true

	h.wg.Add(1)
	go h.maintainClients(ctx)
	return nil
}

// Stop closes every client and waits for their goroutines.
func (h *Hub) Stop(timeout time.Duration) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	if !h.running {
		return nil
	}
	close(h.shutdown)
	h.closeAllClients()

	waitCh := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrShuttingDown, "Hub", "Stop", "wait for clients")
	}
	h.running = false
	return nil
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.shutdown:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.recordError("connection_upgrade")
		h.logger.Debug("WebSocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	info := &clientInfo{conn: conn, connectedAt: time.Now()}

	h.clientsMu.Lock()
	h.clients[conn] = info
	clientCount := len(h.clients)
	h.clientsMu.Unlock()

	if h.metrics != nil {
		h.metrics.connectionTotal.Inc()
		h.metrics.clientsConnected.Set(float64(clientCount))
	}
	h.logger.Debug("Alert feed client connected", "remote", r.RemoteAddr, "clients", clientCount)

	if h.snapshot != nil {
		if data, err := h.envelope(TypeSnapshot, map[string][]string{"active_alerts": h.snapshot()}); err == nil {
			if err := h.sendToClient(info, data); err != nil {
				h.removeClient(info, "write_error")
				return
			}
		}
	}

	h.wg.Add(1)
	go h.handleClient(info)
}

// handleClient reads until the connection fails, keeping pong and close
// handling alive.
func (h *Hub) handleClient(info *clientInfo) {
	defer h.wg.Done()

	conn := info.conn
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			reason := "normal"
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "read_error"
			}
			h.removeClient(info, reason)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
}

// BroadcastAlert sends rec to every connected client.
func (h *Hub) BroadcastAlert(rec *message.AlertRecord) {
	data, err := h.envelope(TypeAlert, rec)
	if err != nil {
		h.recordError("envelope_marshal")
		h.logger.Error("Failed to encode alert for feed", "record_id", rec.ID(), "error", err)
		return
	}
	h.broadcast(data)
}

func (h *Hub) broadcast(data []byte) {
	clients := h.snapshotClients()

	var wg sync.WaitGroup
	for _, info := range clients {
		wg.Add(1)
		go func(info *clientInfo) {
			defer wg.Done()
			if err := h.sendToClient(info, data); err != nil {
				h.recordError("write")
				h.removeClient(info, "write_error")
			}
		}(info)
	}
	wg.Wait()
}

func (h *Hub) envelope(kind string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Type:      kind,
		ID:        h.generateMessageID(),
		Timestamp: time.Now().UnixMilli(),
		Payload:   raw,
	})
}

func (h *Hub) generateMessageID() string {
	return "alert-feed-" + strconv.FormatUint(h.messageIDCounter.Add(1), 10)
}

func (h *Hub) sendToClient(info *clientInfo, data []byte) error {
	if info.closed.Load() {
		return nil
	}
	info.writeMutex.Lock()
	defer info.writeMutex.Unlock()

	_ = info.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := info.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	h.sent.Add(1)
	if h.metrics != nil {
		h.metrics.messagesSent.Inc()
	}
	return nil
}

func (h *Hub) snapshotClients() []*clientInfo {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	out := make([]*clientInfo, 0, len(h.clients))
	for _, info := range h.clients {
		if !info.closed.Load() {
			out = append(out, info)
		}
	}
	return out
}

// removeClient safely removes a client connection with atomic cleanup
func (h *Hub) removeClient(info *clientInfo, reason string) {
	info.closeOnce.Do(func() {
		info.closed.Store(true)

		h.clientsMu.Lock()
		delete(h.clients, info.conn)
		clientCount := len(h.clients)
		h.clientsMu.Unlock()

		if h.metrics != nil {
			h.metrics.disconnectionTotal.WithLabelValues(reason).Inc()
			h.metrics.clientsConnected.Set(float64(clientCount))
		}
		_ = info.conn.Close()
	})
}

func (h *Hub) closeAllClients() {
	for _, info := range h.snapshotClients() {
		info.writeMutex.Lock()
		_ = info.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		info.writeMutex.Unlock()
		h.removeClient(info, "shutdown")
	}
}

// maintainClients pings clients periodically so dead peers are dropped.
func (h *Hub) maintainClients(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.shutdown:
			return
		case <-ticker.C:
			for _, info := range h.snapshotClients() {
				info.writeMutex.Lock()
				err := info.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
				info.writeMutex.Unlock()
				if err != nil {
					h.recordError("ping")
					h.removeClient(info, "ping_failed")
				}
			}
		}
	}
}

func (h *Hub) recordError(kind string) {
	if h.metrics != nil {
		h.metrics.errorsTotal.WithLabelValues(kind).Inc()
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Sent returns the number of messages written to clients.
func (h *Hub) Sent() int64 {
	return h.sent.Load()
}
