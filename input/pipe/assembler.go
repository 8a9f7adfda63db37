package pipe

import "bytes"

// lineAssembler splits a byte stream into complete lines. Bytes after the
// last newline are held until a later chunk terminates them.
type lineAssembler struct {
	pending []byte
	max     int
}

// feed appends chunk and returns the complete lines it finished, without
// terminators. Blank lines are skipped. overflowed reports whether a partial
// line grew past max and was discarded.
func (a *lineAssembler) feed(chunk []byte) (lines []string, overflowed bool) {
	a.pending = append(a.pending, chunk...)

	for {
		i := bytes.IndexByte(a.pending, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(a.pending[:i], "\r")
		if len(line) > 0 {
			lines = append(lines, string(line))
		}
		a.pending = a.pending[i+1:]
	}

	if a.max > 0 && len(a.pending) > a.max {
		a.pending = nil
		overflowed = true
	}
	if len(a.pending) == 0 {
		a.pending = nil
	}
	return lines, overflowed
}

// partial returns the number of buffered bytes awaiting a terminator.
func (a *lineAssembler) partial() int {
	return len(a.pending)
}
