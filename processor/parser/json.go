package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/c360/thermstream/message"
	"github.com/c360/thermstream/pkg/timestamp"
)

// Parser turns raw input into a Reading.
type Parser interface {
	Parse(data []byte) (message.Reading, error)
	Format() string
}

// readingJSON is the JSON shape accepted for manual submissions. It mirrors
// the line protocol fields.
type readingJSON struct {
	SensorID string    `json:"sensor_id"`
	Date     string    `json:"date"`
	Time     string    `json:"time"`
	PTAT     *float64  `json:"ptat"`
	Values   []float64 `json:"values"`
}

// JSONParser handles JSON-encoded readings
type JSONParser struct {
	Location *time.Location
}

// NewJSONParser creates a new JSON parser using the local time zone.
func NewJSONParser() *JSONParser {
	return &JSONParser{Location: time.Local}
}

// Parse decodes one JSON object into a Reading.
func (p *JSONParser) Parse(data []byte) (message.Reading, error) {
	var r message.Reading
	if len(data) == 0 {
		return r, newParseError("json", "", "", ErrEmptyData)
	}

	var in readingJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return r, newParseError("json", "", string(data), err)
	}

	r.SensorID = in.SensorID
	if r.SensorID == "" {
		return r, newParseError("json", "sensor_id", string(data), errors.New("missing"))
	}

	ts, err := timestamp.Parse(in.Date, in.Time, p.Location)
	if err != nil {
		return r, newParseError("json", "date/time", string(data), err)
	}
	r.Timestamp = ts

	if in.PTAT == nil {
		return r, newParseError("json", "ptat", string(data), errors.New("missing"))
	}
	r.Reference = *in.PTAT

	if len(in.Values) != message.PixelCount {
		return r, newParseError("json", "values", string(data),
			fmt.Errorf("got %d values, want %d", len(in.Values), message.PixelCount))
	}
	copy(r.Pixels[:], in.Values)

	return r, nil
}

// Format returns the format name
func (p *JSONParser) Format() string {
	return "json"
}
