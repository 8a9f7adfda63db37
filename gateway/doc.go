// Package gateway holds the configuration of the consumer's HTTP status
// surface. The server itself lives in gateway/http.
//
// The surface is a thin wrapper over the engine: it reports status and
// health, exposes Prometheus metrics, accepts manually submitted readings
// (protocol lines, or JSON objects with the same fields) and upgrades the
// live alert feed. Manual submissions can be rate limited with SubmitRate.
// The only access control is TLS with optional client certificates, so the
// surface is meant for a trusted network; error messages are sanitized.
package gateway
