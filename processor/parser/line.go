package parser

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/c360/thermstream/message"
	"github.com/c360/thermstream/pkg/timestamp"
)

// Field markers of the sensor line protocol, in order.
const (
	markerID          = "id:"
	markerDate        = ", date:"
	markerTime        = ", time:"
	markerPTAT        = ", PTAT:"
	markerTemperature = ", Temperature:"
	unitSuffix        = "[degC]"
)

// Encode renders a reading as one protocol line terminated by "\n":
//
//	id: sensor_1, date: 2024-05-01, time: 10:00:00:123, PTAT: 26.5 [degC], Temperature: 22.0, ..., 21.0 [degC]
func Encode(r message.Reading) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(64 + message.PixelCount*7)

	b.WriteString("id: ")
	b.WriteString(r.SensorID)
	b.WriteString(", date: ")
	b.WriteString(timestamp.FormatDate(r.Timestamp))
	b.WriteString(", time: ")
	b.WriteString(timestamp.FormatClock(r.Timestamp))
	b.WriteString(", PTAT: ")
	b.WriteString(strconv.FormatFloat(r.Reference, 'f', 1, 64))
	b.WriteString(" [degC], Temperature: ")
	for i, v := range r.Pixels {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatFloat(v, 'f', 1, 64))
	}
	b.WriteString(" [degC]\n")
	return b.String(), nil
}

// LineParser decodes protocol lines. Date and time fields are interpreted in
// Location (time.Local when nil), matching the producer's wall clock.
type LineParser struct {
	Location *time.Location
}

// NewLineParser returns a parser using the local time zone.
func NewLineParser() *LineParser {
	return &LineParser{Location: time.Local}
}

// Decode parses a line with the local time zone.
func Decode(line string) (message.Reading, error) {
	return NewLineParser().ParseLine(line)
}

// Format returns the format name
func (p *LineParser) Format() string {
	return "line"
}

// Parse implements Parser.
func (p *LineParser) Parse(data []byte) (message.Reading, error) {
	return p.ParseLine(string(data))
}

// ParseLine tokenizes a line over its fixed markers. Values may carry the
// space padding older producers emit ("PTAT:  9.5").
func (p *LineParser) ParseLine(line string) (message.Reading, error) {
	var r message.Reading

	s := strings.TrimSpace(strings.TrimRight(line, "\r\n"))
	if s == "" {
		return r, newParseError("line", "", line, ErrEmptyData)
	}

	rest, ok := strings.CutPrefix(s, markerID)
	if !ok {
		return r, newParseError("line", "id", line, fmt.Errorf("missing %q marker", markerID))
	}

	id, rest, ok := strings.Cut(rest, markerDate)
	if !ok {
		return r, newParseError("line", "date", line, fmt.Errorf("missing %q marker", strings.TrimPrefix(markerDate, ", ")))
	}
	r.SensorID = strings.TrimSpace(id)
	if r.SensorID == "" {
		return r, newParseError("line", "id", line, errors.New("empty sensor id"))
	}

	date, rest, ok := strings.Cut(rest, markerTime)
	if !ok {
		return r, newParseError("line", "time", line, errors.New(`missing "time:" marker`))
	}

	clock, rest, ok := strings.Cut(rest, markerPTAT)
	if !ok {
		return r, newParseError("line", "PTAT", line, errors.New(`missing "PTAT:" marker`))
	}

	ts, err := timestamp.Parse(date, clock, p.Location)
	if err != nil {
		return r, newParseError("line", "date/time", line, err)
	}
	r.Timestamp = ts

	ptat, temps, ok := strings.Cut(rest, markerTemperature)
	if !ok {
		return r, newParseError("line", "Temperature", line, errors.New(`missing "Temperature:" marker`))
	}

	ptat, ok = cutUnit(ptat)
	if !ok {
		return r, newParseError("line", "PTAT", line, fmt.Errorf("missing %s unit", unitSuffix))
	}
	if r.Reference, err = parseValue(ptat); err != nil {
		return r, newParseError("line", "PTAT", line, err)
	}

	temps, ok = cutUnit(temps)
	if !ok {
		return r, newParseError("line", "Temperature", line, fmt.Errorf("missing trailing %s", unitSuffix))
	}

	tokens := strings.Split(temps, ",")
	if len(tokens) != message.PixelCount {
		return r, newParseError("line", "Temperature", line,
			fmt.Errorf("got %d values, want %d", len(tokens), message.PixelCount))
	}
	for i, tok := range tokens {
		v, err := parseValue(tok)
		if err != nil {
			return r, newParseError("line", fmt.Sprintf("Temperature[%d]", i), line, err)
		}
		r.Pixels[i] = v
	}

	return r, nil
}

func cutUnit(s string) (string, bool) {
	s = strings.TrimSpace(s)
	v, ok := strings.CutSuffix(s, unitSuffix)
	return strings.TrimSpace(v), ok
}

func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty value")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("value %q: %w", s, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("value %q is not finite", s)
	}
	return v, nil
}
