package testutil

import (
	"time"

	"github.com/c360/thermstream/message"
	"github.com/c360/thermstream/sensor"
)

// SampleLine is a well-formed protocol line for sensor_1.
const SampleLine = "id: sensor_1, date: 2025-04-08, time: 14:25:23:171, PTAT: 26.5 [degC], " +
	"Temperature: 22.0, 23.0, 24.0, 25.0, 26.0, 27.0, 28.0, 29.0, 30.0, 29.5, 28.5, 27.5, 26.5, 25.5, 24.5, 21.0 [degC]"

// SampleTime is a fixed local timestamp with millisecond precision.
var SampleTime = time.Date(2025, 4, 8, 14, 25, 23, 171*int(time.Millisecond), time.Local)

// Reading returns a reading with every pixel set to value.
func Reading(sensorID string, value float64) message.Reading {
	r := message.Reading{
		SensorID:  sensorID,
		Timestamp: SampleTime,
		Reference: 26.5,
	}
	for i := range r.Pixels {
		r.Pixels[i] = value
	}
	return r
}

// HotReading returns a reading with one pixel raised to peak.
func HotReading(sensorID string, base, peak float64) message.Reading {
	r := Reading(sensorID, base)
	r.Pixels[5] = peak
	return r
}

// Frame builds a raw frame with a valid checksum for the default bus address.
func Frame(reference float64, pixels [message.PixelCount]float64) []byte {
	return sensor.Encode(sensor.Frame{Reference: reference, Pixels: pixels}, sensor.DefaultAddress)
}

// CorruptFrame returns a copy of raw with bit flipped in byte idx.
func CorruptFrame(raw []byte, idx int, bit uint) []byte {
	out := append([]byte(nil), raw...)
	out[idx] ^= 1 << bit
	return out
}
