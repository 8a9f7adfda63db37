package pipe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineAssembler_Feed(t *testing.T) {
	tests := []struct {
		name    string
		chunks  []string
		want    []string
		partial int
	}{
		{
			name:   "single complete line",
			chunks: []string{"id:a\n"},
			want:   []string{"id:a"},
		},
		{
			name:   "two lines in one chunk",
			chunks: []string{"one\ntwo\n"},
			want:   []string{"one", "two"},
		},
		{
			name:   "line split across chunks",
			chunks: []string{"id:a, da", "te:2024", "0101\n"},
			want:   []string{"id:a, date:20240101"},
		},
		{
			name:    "trailing partial is held",
			chunks:  []string{"one\ntw"},
			want:    []string{"one"},
			partial: 2,
		},
		{
			name:   "blank lines skipped and CR trimmed",
			chunks: []string{"\n\r\none\r\n\n"},
			want:   []string{"one"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &lineAssembler{max: 1024}
			var got []string
			for _, c := range tt.chunks {
				lines, overflowed := a.feed([]byte(c))
				assert.False(t, overflowed)
				got = append(got, lines...)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.partial, a.partial())
		})
	}
}

func TestLineAssembler_Overflow(t *testing.T) {
	a := &lineAssembler{max: 8}

	lines, overflowed := a.feed([]byte(strings.Repeat("x", 9)))
	assert.Empty(t, lines)
	assert.True(t, overflowed)
	assert.Zero(t, a.partial())

	lines, overflowed = a.feed([]byte("ok\n"))
	assert.Equal(t, []string{"ok"}, lines)
	assert.False(t, overflowed)
}

func TestLineAssembler_LongCompleteLineAllowed(t *testing.T) {
	a := &lineAssembler{max: 4}
	lines, overflowed := a.feed([]byte("longer-than-max\n"))
	assert.Equal(t, []string{"longer-than-max"}, lines)
	assert.False(t, overflowed)
}
