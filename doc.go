// Package thermstream is a two-process pipeline for a 4x4 thermopile array
// sensor (D6T class) on an I2C bus.
//
// # Processes
//
// thermsensor (cmd/thermsensor) is the producer. Every cycle it reads one
// 35-byte frame from the sensor, checks its CRC-8 packet error code, and
// writes the reading as one protocol line to the transport:
//
//	id: sensor_1, date: 2024-05-01, time: 10:00:00:123, PTAT: 26.5 [degC], Temperature: 22.0, ..., 21.0 [degC]
//
// thermstream (cmd/thermstream) is the consumer. It decodes each line,
// classifies the sixteen values against a [min, max] range, tracks a
// per-sensor alert state and delivers temperature and alert records to an
// HTTP collector with bounded retry and an in-memory backlog.
//
//	┌──────────────┐   FIFO or NATS    ┌───────────────────────────────┐
//	│  sensor/     │ ───────────────▶  │ input/pipe | input/natsline   │
//	│  producer    │  protocol lines   │        engine.HandleLine      │
//	└──────────────┘                   │ parser → anomaly → alert      │
//	                                   └──────┬──────────────┬─────────┘
//	                                          │              │
//	                              output/httppost     output/websocket
//	                              (collector POST)    (/ws/alerts feed)
//
// # Packages
//
//   - sensor: frame codec, I2C and simulated buses, the producer loop
//   - processor/parser: the line protocol and its JSON form
//   - processor/anomaly, processor/alert: classification and edge detection
//   - input/*, output/*: transports, delivery queue and live feed
//   - engine: the consumer pipeline driver
//   - gateway/http: status, health, metrics and manual submission
//   - config, errors, health, metric, natsclient, pkg/*: shared plumbing
//
// # Transports
//
// The default transport is a named pipe (/tmp/sensor_data_pipe). The
// producer opens it non-blocking for each line and skips the line while no
// consumer is attached. The consumer holds the read end open (read-write, so
// a departing producer never ends its session) and reopens only after a
// failure. Setting
// transport.kind to "nats" publishes and subscribes on a NATS subject
// instead, with reconnects handled by the client.
//
// # Delivery
//
// Records are posted one at a time. A failed record is retried up to
// retry_limit times and then buffered; the backlog is drained oldest first
// after the next success. Delivery is at least once: every record carries an
// X-Record-ID header so the collector can drop duplicates.
package thermstream
