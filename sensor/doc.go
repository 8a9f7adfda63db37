// Package sensor reads the 4x4 thermal array and turns its raw frames into
// protocol lines.
//
// A frame is 35 bytes: the reference (PTAT) temperature, sixteen pixel
// temperatures (signed little-endian tenths of a degree) and a CRC-8 byte.
// Decode is fail-open: a checksum mismatch is reported as *ChecksumError
// alongside the decoded values, and the producer logs it and forwards the
// reading anyway.
//
// Producer runs the acquisition loop: warm up, then every Interval read a
// frame from a Bus, decode it, stamp it with the sensor id and local time,
// encode it with the line protocol and hand it to a LineWriter. I2CBus talks
// to /dev/i2c-N on Linux; SimulatedBus generates frames for development.
package sensor
