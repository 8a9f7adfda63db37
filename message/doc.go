// Package message defines the data that flows through the pipeline: the
// decoded sensor Reading and the outbound Records sent to the collector.
//
// A Record is either a TemperatureRecord (every reading, with its min, max,
// average and status) or an AlertRecord (only when a sensor's alert state
// flips). Each record gets a UUID at creation so the collector can drop
// duplicates produced by at-least-once delivery.
package message
