package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	ts := time.Date(2024, time.March, 5, 7, 8, 9, 45*int(time.Millisecond), time.UTC)

	assert.Equal(t, "2024-03-05", FormatDate(ts))
	assert.Equal(t, "07:08:09:045", FormatClock(ts))
}

func TestParse_RoundTrip(t *testing.T) {
	ts := time.Date(2024, time.December, 31, 23, 59, 59, 999*int(time.Millisecond), time.UTC)

	got, err := Parse(FormatDate(ts), FormatClock(ts), time.UTC)
	require.NoError(t, err)
	assert.True(t, ts.Equal(got))
}

func TestParse_DefaultsToLocal(t *testing.T) {
	got, err := Parse("2024-01-01", "12:00:00:000", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Local, got.Location())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		date  string
		clock string
	}{
		{"bad date", "2024-13-01", "12:00:00:000"},
		{"slashes", "2024/01/01", "12:00:00:000"},
		{"three clock fields", "2024-01-01", "12:00:00"},
		{"dot millis", "2024-01-01", "12:00:00.000"},
		{"hour out of range", "2024-01-01", "24:00:00:000"},
		{"millis out of range", "2024-01-01", "12:00:00:1000"},
		{"non numeric", "2024-01-01", "12:xx:00:000"},
		{"empty field", "2024-01-01", "12::00:000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.date, tt.clock, time.UTC)
			assert.Error(t, err)
		})
	}
}

func TestUnixMs(t *testing.T) {
	assert.Equal(t, int64(0), ToUnixMs(time.Time{}))
	assert.True(t, FromUnixMs(0).IsZero())

	ts := time.UnixMilli(1700000000123)
	assert.Equal(t, int64(1700000000123), ToUnixMs(ts))
	assert.True(t, ts.Equal(FromUnixMs(1700000000123)))
}

func TestNow_MillisecondPrecision(t *testing.T) {
	now := Now()
	assert.Equal(t, 0, now.Nanosecond()%int(time.Millisecond))
}
