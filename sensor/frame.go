package sensor

import (
	"encoding/binary"
	"fmt"

	"github.com/c360/thermstream/errors"
	"github.com/c360/thermstream/message"
)

const (
	// DefaultAddress is the 7-bit bus address of the thermal array.
	DefaultAddress uint8 = 0x0A
	// ReadCommand is the register that returns a full measurement.
	ReadCommand uint8 = 0x4C
	// FrameSize is reference + 16 pixels (2 bytes each) + checksum byte.
	FrameSize = 2*(message.PixelCount+1) + 1

	crcPolynomial = 0x07
)

// Frame is the temperature content of one raw frame.
type Frame struct {
	Reference float64
	Pixels    [message.PixelCount]float64
}

// ChecksumError reports a frame whose trailing byte does not match the
// computed CRC-8. The frame values are still usable.
type ChecksumError struct {
	Computed byte
	Received byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("frame checksum mismatch: computed 0x%02X, received 0x%02X", e.Computed, e.Received)
}

// Unwrap lets errors.Is match ErrChecksumFailed.
func (e *ChecksumError) Unwrap() error {
	return errors.ErrChecksumFailed
}

func crcStep(b byte) byte {
	for i := 0; i < 8; i++ {
		top := b & 0x80
		b <<= 1
		if top != 0 {
			b ^= crcPolynomial
		}
	}
	return b
}

// Checksum computes the CRC-8 (poly 0x07) the sensor appends to a frame. The
// read address byte ((addr<<1)|1) seeds the CRC, then each payload byte is folded in.
func Checksum(addr uint8, payload []byte) byte {
	crc := crcStep((addr << 1) | 1)
	for _, b := range payload {
		crc = crcStep(b ^ crc)
	}
	return crc
}

// Decode converts a raw frame into temperatures in degC.
//
// A wrong-length frame returns an Invalid error and no values. A checksum
// mismatch returns the decoded frame together with a *ChecksumError; callers
// log it and keep the values.
func Decode(raw []byte, addr uint8) (Frame, error) {
	var f Frame
	if len(raw) != FrameSize {
		return f, errors.WrapInvalid(
			fmt.Errorf("%w: frame is %d bytes, want %d", errors.ErrInvalidData, len(raw), FrameSize),
			"sensor", "Decode", "frame length check")
	}

	f.Reference = tenths(raw[0:2])
	for i := range f.Pixels {
		off := 2 + 2*i
		f.Pixels[i] = tenths(raw[off : off+2])
	}

	computed := Checksum(addr, raw[:FrameSize-1])
	if received := raw[FrameSize-1]; computed != received {
		return f, &ChecksumError{Computed: computed, Received: received}
	}
	return f, nil
}

// Encode builds a raw frame with a valid checksum. Values are rounded to the
// nearest tenth of a degree.
func Encode(f Frame, addr uint8) []byte {
	raw := make([]byte, FrameSize)
	putTenths(raw[0:2], f.Reference)
	for i, v := range f.Pixels {
		off := 2 + 2*i
		putTenths(raw[off:off+2], v)
	}
	raw[FrameSize-1] = Checksum(addr, raw[:FrameSize-1])
	return raw
}

func tenths(b []byte) float64 {
	return float64(int16(binary.LittleEndian.Uint16(b))) / 10.0
}

func putTenths(b []byte, v float64) {
	n := v * 10
	if n < 0 {
		n -= 0.5
	} else {
		n += 0.5
	}
	binary.LittleEndian.PutUint16(b, uint16(int16(n)))
}
