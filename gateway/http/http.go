// Package http serves the consumer's status surface.
package http

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/c360/thermstream/engine"
	"github.com/c360/thermstream/errors"
	"github.com/c360/thermstream/gateway"
	"github.com/c360/thermstream/health"
	"github.com/c360/thermstream/metric"
	"github.com/c360/thermstream/processor/parser"
)

// SystemName is the root of the aggregated health tree.
const SystemName = "thermstream"

// RequestIDHeader carries the per-request id set by the server.
const RequestIDHeader = "X-Request-ID"

// Pipeline is the engine surface the server needs.
type Pipeline interface {
	Status() engine.Status
	HandleLine(ctx context.Context, line string) (engine.Outcome, error)
}

// Deps holds the server's collaborators.
type Deps struct {
	Config   gateway.Config
	Pipeline Pipeline
	Monitor  *health.Monitor
	Registry *metric.MetricsRegistry // optional, /metrics is 404 without it
	Feed     http.Handler            // optional, /ws/alerts is 404 without it
	TLS      *tls.Config             // optional, serves HTTPS when set
	Logger   *slog.Logger
	// AccessLog receives combined-format access lines when Config.AccessLog
	// is set; nil means stdout.
	AccessLog io.Writer
}

// LineResult reports what happened to one submitted line.
type LineResult struct {
	Line     int    `json:"line"`
	SensorID string `json:"sensor_id,omitempty"`
	Abnormal bool   `json:"abnormal,omitempty"`
	Alert    bool   `json:"alert,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SubmitResponse is the body returned by POST /api/lines.
type SubmitResponse struct {
	Accepted int          `json:"accepted"`
	Rejected int          `json:"rejected"`
	Results  []LineResult `json:"results"`
}

// Server is the HTTP status surface.
type Server struct {
	config     gateway.Config
	pipeline   Pipeline
	monitor    *health.Monitor
	registry   *metric.MetricsRegistry
	feed       http.Handler
	tlsConfig  *tls.Config
	logger     *slog.Logger
	handler    http.Handler
	limiter    *rate.Limiter // nil when unlimited
	jsonParser *parser.JSONParser

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
	serveErr error

	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
}

// NewServer validates the configuration and builds the router.
func NewServer(deps Deps) (*Server, error) {
	cfg := deps.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Pipeline == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Server", "NewServer", "pipeline is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:     cfg,
		pipeline:   deps.Pipeline,
		monitor:    deps.Monitor,
		registry:   deps.Registry,
		feed:       deps.Feed,
		tlsConfig:  deps.TLS,
		jsonParser: parser.NewJSONParser(),
		logger:     logger.With("component", "http-gateway"),
	}
	if s.monitor == nil {
		s.monitor = health.NewMonitor()
	}
	if cfg.SubmitRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRate), cfg.SubmitBurst)
	}

	accessLog := deps.AccessLog
	if accessLog == nil {
		accessLog = os.Stdout
	}
	s.handler = s.routes(accessLog)
	return s, nil
}

func (s *Server) routes(accessLog io.Writer) http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestID)

	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/lines", s.handleLines).Methods(http.MethodPost)
	if s.registry != nil {
		r.Handle("/metrics", s.registry.Handler()).Methods(http.MethodGet)
	}
	if s.feed != nil {
		r.Handle("/ws/alerts", s.feed).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
	})

	var h http.Handler = r
	if s.config.EnableCORS {
		h = handlers.CORS(
			handlers.AllowedOrigins(s.config.CORSOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type", RequestIDHeader}),
			handlers.MaxAge(3600),
		)(h)
	}
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(false),
	)(h)
	if s.config.AccessLog {
		h = handlers.CombinedLoggingHandler(accessLog, h)
	}
	return h
}

// Handler returns the fully wrapped router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listener and serves in the background. Bind errors are
// returned directly.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "status server start")
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", "listen "+s.config.Addr)
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}

	s.listener = ln
	s.done = make(chan struct{})
	s.serveErr = nil
	s.server = &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}

	server, done := s.server, s.done
	go func() {
		defer close(done)
		if err := server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server stopped", "error", err)
			s.monitor.UpdateUnhealthy("http-gateway", "server stopped")
			s.mu.Lock()
			s.serveErr = errors.WrapFatal(err, "Server", "Serve", "serve "+ln.Addr().String())
			s.mu.Unlock()
		}
	}()

	s.monitor.UpdateHealthy("http-gateway", "listening")
	s.logger.Info("Status server listening", "addr", ln.Addr().String(), "tls", s.tlsConfig != nil)
	return nil
}

// Wait blocks until the server stops serving or ctx ends. It returns the
// error that ended Serve, or nil after Stop or when ctx ends first.
func (s *Server) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return nil
	case <-done:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting up to timeout for open requests.
// Hijacked websocket connections are not tracked; the hub closes those.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	server, done := s.server, s.done
	s.server, s.listener = nil, nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = s.config.ShutdownTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := server.Shutdown(ctx)
	<-done
	s.monitor.Remove("http-gateway")
	if err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "shutdown")
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.pipeline.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.monitor.AggregateHealth(SystemName)
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

// handleLines feeds each non-blank line of a text/plain body through the
// pipeline, in order.
func (s *Server) handleLines(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		s.fail(w, http.StatusTooManyRequests, "submission rate exceeded")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize+1))
	if err != nil {
		s.fail(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > s.config.MaxRequestSize {
		s.fail(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", s.config.MaxRequestSize))
		return
	}

	jsonBody := isJSON(r.Header.Get("Content-Type"))
	resp := SubmitResponse{Results: []LineResult{}}
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 4096), int(s.config.MaxRequestSize)+1)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		result := LineResult{Line: n}
		if jsonBody {
			if line, err = s.jsonToLine(line); err != nil {
				resp.Rejected++
				result.Error = s.sanitizeError(err)
				resp.Results = append(resp.Results, result)
				continue
			}
		}
		out, err := s.pipeline.HandleLine(r.Context(), line)
		if err != nil {
			resp.Rejected++
			result.Error = s.sanitizeError(err)
		} else {
			resp.Accepted++
			result.SensorID = out.Reading.SensorID
			result.Abnormal = out.Analysis.Abnormal
			result.Alert = out.Alert != nil
		}
		resp.Results = append(resp.Results, result)
	}

	switch {
	case resp.Accepted+resp.Rejected == 0:
		s.fail(w, http.StatusBadRequest, "no lines in request body")
	case resp.Accepted == 0:
		s.requestsFailed.Add(1)
		s.writeJSON(w, http.StatusBadRequest, resp)
	default:
		s.writeJSON(w, http.StatusOK, resp)
	}
}

// jsonToLine converts one JSON reading into the line protocol so manual
// submissions take the same path as transport lines.
func (s *Server) jsonToLine(raw string) (string, error) {
	reading, err := s.jsonParser.Parse([]byte(raw))
	if err != nil {
		return "", err
	}
	line, err := parser.Encode(reading)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\n"), nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || mediaType == "application/x-ndjson"
}

// requestID tags every request and response with an id for correlating
// access and application logs.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestsTotal.Add(1)
		id := getOrGenerateRequestID(r)
		w.Header().Set(RequestIDHeader, id)
		r.Header.Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// getOrGenerateRequestID returns the caller's X-Request-ID or a random one.
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get(RequestIDHeader); reqID != "" {
		return reqID
	}
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// sanitizeError returns a message safe for external clients. Parse errors
// are the caller's own input, so they are returned as is.
func (s *Server) sanitizeError(err error) string {
	if err == nil {
		return "internal server error"
	}
	if errors.IsInvalid(err) {
		return err.Error()
	}
	if errors.IsTransient(err) {
		return "service temporarily unavailable"
	}
	return "internal server error"
}

func (s *Server) fail(w http.ResponseWriter, statusCode int, message string) {
	s.requestsFailed.Add(1)
	s.writeError(w, statusCode, message)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, map[string]any{
		"error":  message,
		"status": statusCode,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Response write failed", "error", err)
	}
}

// Stats counts requests since the server was built.
type Stats struct {
	Requests uint64 `json:"requests"`
	Failed   uint64 `json:"failed"`
}

// Stats returns request counters.
func (s *Server) Stats() Stats {
	return Stats{Requests: s.requestsTotal.Load(), Failed: s.requestsFailed.Load()}
}

// recoveryLogger adapts slog to handlers.RecoveryHandlerLogger.
type recoveryLogger struct {
	logger *slog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("Recovered from panic in handler", "panic", fmt.Sprint(v...))
}
