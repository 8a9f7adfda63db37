package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// CollectedRequest is one POST received by a Collector.
type CollectedRequest struct {
	Path     string
	RecordID string
	Header   http.Header
	Body     []byte
	Status   int
}

// Decode unmarshals the request body into v.
func (r CollectedRequest) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Responder picks the status code for the n-th request (0-based).
type Responder func(n int, req CollectedRequest) int

// Collector is a programmable stand-in for the remote record collector.
// Every request is recorded along with the status it was answered with.
type Collector struct {
	server *httptest.Server

	mu        sync.Mutex
	requests  []CollectedRequest
	responder Responder
	gate      chan struct{}
	active    int
	maxActive int
}

// NewCollector starts a collector that answers 200 until told otherwise.
// It is closed when the test ends.
func NewCollector(t testing.TB) *Collector {
	t.Helper()
	c := &Collector{}
	c.server = httptest.NewServer(http.HandlerFunc(c.handle))
	t.Cleanup(c.Close)
	return c
}

// URL returns the collector base URL.
func (c *Collector) URL() string {
	return c.server.URL
}

// Close releases blocked requests and shuts the server down.
func (c *Collector) Close() {
	c.Release()
	c.server.Close()
}

// Respond installs a responder; nil restores always-200.
func (c *Collector) Respond(r Responder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responder = r
}

// RespondStatus answers every following request with status.
func (c *Collector) RespondStatus(status int) {
	c.Respond(func(int, CollectedRequest) int { return status })
}

// Block makes requests wait until Release is called.
func (c *Collector) Block() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gate == nil {
		c.gate = make(chan struct{})
	}
}

// Release lets blocked requests proceed. Safe to call when not blocked.
func (c *Collector) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gate != nil {
		close(c.gate)
		c.gate = nil
	}
}

// Requests returns every request received so far.
func (c *Collector) Requests() []CollectedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CollectedRequest(nil), c.requests...)
}

// Accepted returns the requests answered with a 2xx status.
func (c *Collector) Accepted() []CollectedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []CollectedRequest
	for _, r := range c.requests {
		if r.Status >= 200 && r.Status < 300 {
			out = append(out, r)
		}
	}
	return out
}

// AcceptedIDs returns the record ids of accepted requests in arrival order.
func (c *Collector) AcceptedIDs() []string {
	accepted := c.Accepted()
	ids := make([]string, len(accepted))
	for i, r := range accepted {
		ids[i] = r.RecordID
	}
	return ids
}

// Count returns the number of requests received.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// MaxConcurrent returns the highest number of requests handled at once.
func (c *Collector) MaxConcurrent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxActive
}

func (c *Collector) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	req := CollectedRequest{
		Path:     r.URL.Path,
		RecordID: r.Header.Get("X-Record-ID"),
		Header:   r.Header.Clone(),
		Body:     body,
	}

	c.mu.Lock()
	c.active++
	if c.active > c.maxActive {
		c.maxActive = c.active
	}
	gate := c.gate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
		}
	}

	c.mu.Lock()
	c.active--
	req.Status = http.StatusOK
	if c.responder != nil {
		req.Status = c.responder(len(c.requests), req)
	}
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	w.WriteHeader(req.Status)
}
