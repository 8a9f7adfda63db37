// Package timestamp converts between time.Time and the wall-clock fields the
// sensor line protocol carries: a YYYY-MM-DD date and an HH:MM:SS:mmm clock
// with millisecond precision. Unix millisecond helpers cover the JSON records.
package timestamp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the Go layout of the protocol's date field.
const DateLayout = "2006-01-02"

// Now returns the current local time truncated to millisecond precision.
func Now() time.Time {
	return time.Now().Truncate(time.Millisecond).Round(0)
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// FormatClock renders t as HH:MM:SS:mmm. The millisecond group is separated
// by a colon, which Go layouts cannot express.
func FormatClock(t time.Time) string {
	return fmt.Sprintf("%02d:%02d:%02d:%03d",
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/int(time.Millisecond))
}

// Parse combines a protocol date and clock into a time in loc.
func Parse(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}

	day, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", date, err)
	}

	parts := strings.Split(strings.TrimSpace(clock), ":")
	if len(parts) != 4 {
		return time.Time{}, fmt.Errorf("clock %q: want HH:MM:SS:mmm", clock)
	}

	limits := [4]int{23, 59, 59, 999}
	var fields [4]int
	for i, p := range parts {
		if p == "" {
			return time.Time{}, fmt.Errorf("clock %q: empty field", clock)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return time.Time{}, fmt.Errorf("clock %q: field %d out of range", clock, i+1)
		}
		fields[i] = n
	}

	y, m, d := day.Date()
	return time.Date(y, m, d, fields[0], fields[1], fields[2], fields[3]*int(time.Millisecond), loc), nil
}

// ToUnixMs converts a time.Time to Unix milliseconds; the zero time maps to 0.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time; 0 maps to the zero time.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
