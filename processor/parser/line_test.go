package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/thermstream/errors"
	"github.com/c360/thermstream/message"
)

const exampleLine = "id: sensor_1, date: 2024-05-01, time: 10:00:00:123, PTAT: 26.5 [degC], " +
	"Temperature: 22.0, 23.0, 22.5, 22.1, 21.9, 22.0, 22.3, 22.4, 22.2, 22.0, 21.8, 22.6, 22.7, 22.1, 21.5, 21.0 [degC]\n"

func sampleReading() message.Reading {
	r := message.Reading{
		SensorID:  "sensor_1",
		Timestamp: time.Date(2024, time.May, 1, 10, 0, 0, 123*int(time.Millisecond), time.Local),
		Reference: 26.5,
	}
	values := []float64{22.0, 23.0, 22.5, 22.1, 21.9, 22.0, 22.3, 22.4, 22.2, 22.0, 21.8, 22.6, 22.7, 22.1, 21.5, 21.0}
	copy(r.Pixels[:], values)
	return r
}

func TestEncode_Format(t *testing.T) {
	line, err := Encode(sampleReading())
	require.NoError(t, err)
	assert.Equal(t, exampleLine, line)
}

func TestEncode_NegativeAndSmallValues(t *testing.T) {
	r := sampleReading()
	r.Reference = 9.5
	r.Pixels[0] = -3.2
	r.Pixels[15] = 0

	line, err := Encode(r)
	require.NoError(t, err)
	assert.Contains(t, line, "PTAT: 9.5 [degC]")
	assert.Contains(t, line, "Temperature: -3.2, ")
	assert.True(t, strings.HasSuffix(line, ", 0.0 [degC]\n"))
}

func TestEncode_RejectsInvalidReading(t *testing.T) {
	r := sampleReading()
	r.SensorID = ""
	_, err := Encode(r)
	assert.Error(t, err)
}

func TestDecode_ExampleLine(t *testing.T) {
	r, err := Decode(exampleLine)
	require.NoError(t, err)

	want := sampleReading()
	assert.Equal(t, want.SensorID, r.SensorID)
	assert.True(t, want.Timestamp.Equal(r.Timestamp))
	assert.Equal(t, want.Reference, r.Reference)
	assert.Equal(t, want.Pixels, r.Pixels)
}

func TestRoundTrip(t *testing.T) {
	readings := []message.Reading{sampleReading()}

	hot := sampleReading()
	hot.SensorID = "lab-7"
	hot.Timestamp = time.Date(2023, time.December, 31, 23, 59, 59, 999*int(time.Millisecond), time.Local)
	for i := range hot.Pixels {
		hot.Pixels[i] = float64(i*7-20) / 10
	}
	hot.Pixels[3] = 101.3
	readings = append(readings, hot)

	for _, want := range readings {
		line, err := Encode(want)
		require.NoError(t, err)

		got, err := Decode(line)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDecode_PaddedValues(t *testing.T) {
	line := "id: sensor_1, date: 2024-05-01, time: 10:00:00:123, PTAT:  9.5 [degC], " +
		"Temperature:  9.0,  9.1, 22.5, 22.1, 21.9, 22.0, 22.3, 22.4, 22.2, 22.0, 21.8, 22.6, 22.7, 22.1, 21.5,  8.0 [degC]\r\n"

	r, err := Decode(line)
	require.NoError(t, err)
	assert.Equal(t, 9.5, r.Reference)
	assert.Equal(t, 9.0, r.Pixels[0])
	assert.Equal(t, 8.0, r.Pixels[15])
}

func TestDecode_Malformed(t *testing.T) {
	fifteen := strings.Repeat("22.0, ", 14) + "22.0"
	seventeen := strings.Repeat("22.0, ", 16) + "22.0"

	tests := []struct {
		name  string
		line  string
		field string
	}{
		{"empty", "", ""},
		{"garbage", "hello world", "id"},
		{"missing date", "id: s1, time: 10:00:00:000, PTAT: 1.0 [degC], Temperature: 1.0 [degC]", "date"},
		{"empty id", strings.Replace(exampleLine, "sensor_1", " ", 1), "id"},
		{"bad date", strings.Replace(exampleLine, "2024-05-01", "2024-5-1x", 1), "date/time"},
		{"bad time", strings.Replace(exampleLine, "10:00:00:123", "10:00:00.123", 1), "date/time"},
		{"missing PTAT marker", strings.Replace(exampleLine, "PTAT:", "REF:", 1), "PTAT"},
		{"PTAT not a number", strings.Replace(exampleLine, "26.5", "hot", 1), "PTAT"},
		{"PTAT missing unit", strings.Replace(exampleLine, "26.5 [degC]", "26.5", 1), "PTAT"},
		{"missing Temperature marker", strings.Replace(exampleLine, "Temperature:", "Temps:", 1), "Temperature"},
		{"missing trailing unit", strings.TrimSuffix(exampleLine, " [degC]\n"), "Temperature"},
		{"too few values", "id: s1, date: 2024-05-01, time: 10:00:00:000, PTAT: 1.0 [degC], Temperature: " + fifteen + " [degC]", "Temperature"},
		{"too many values", "id: s1, date: 2024-05-01, time: 10:00:00:000, PTAT: 1.0 [degC], Temperature: " + seventeen + " [degC]", "Temperature"},
		{"value not a number", strings.Replace(exampleLine, "23.0", "abc", 1), "Temperature[1]"},
		{"empty value", strings.Replace(exampleLine, "23.0", "", 1), "Temperature[1]"},
		{"NaN value", strings.Replace(exampleLine, "23.0", "NaN", 1), "Temperature[1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.line)
			require.Error(t, err)

			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.field, pe.Field)
			assert.Equal(t, "line", pe.Format)
			assert.ErrorIs(t, err, errors.ErrParsingFailed)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestLineParser_Location(t *testing.T) {
	p := &LineParser{Location: time.UTC}
	r, err := p.Parse([]byte(exampleLine))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, r.Timestamp.Location())
	assert.Equal(t, "line", p.Format())
}

func TestParseError_TruncatesInput(t *testing.T) {
	long := strings.Repeat("x", 500)
	_, err := Decode(long)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Less(t, len(pe.Input), 200)
}
