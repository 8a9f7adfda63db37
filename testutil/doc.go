// Package testutil provides shared test helpers for thermstream packages.
//
// Collector is an httptest server standing in for the remote record
// collector. It records every POST with its X-Record-ID header and lets a
// test choose the response status per request, block requests to observe
// in-flight behavior, and read back what was accepted:
//
//	c := testutil.NewCollector(t)
//	c.RespondStatus(http.StatusServiceUnavailable)
//	// ... submit records ...
//	c.Respond(nil) // back to 200
//	ids := c.AcceptedIDs()
//
// MockNATSClient is an in-memory Publish/Subscribe pair for unit tests of the
// NATS line transport. Integration tests use a real server through
// testcontainers instead.
//
// SampleLine, Reading, HotReading and Frame build protocol lines, readings and
// raw sensor frames with valid checksums.
package testutil
