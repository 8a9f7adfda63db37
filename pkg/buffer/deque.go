package buffer

import (
	"fmt"
	"sync"

	"github.com/c360/thermstream/errors"
)

const minRing = 16

// deque is a growable ring buffer guarded by a mutex.
type deque[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int
	count    int
	capacity int
	closed   bool

	overflowPolicy OverflowPolicy
	dropCallback   DropCallback[T]

	stats   *Statistics
	metrics *bufferMetrics
}

func newDeque[T any](capacity int, opts *bufferOptions[T]) (*deque[T], error) {
	if capacity < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("capacity %d is negative", capacity),
			"Deque", "New", "capacity validation")
	}

	initial := minRing
	if capacity > 0 && capacity < initial {
		initial = capacity
	}

	d := &deque[T]{
		items:          make([]T, initial),
		capacity:       capacity,
		overflowPolicy: opts.overflowPolicy,
		dropCallback:   opts.dropCallback,
		stats:          NewStatistics(),
	}

	if opts.metricsReg != nil {
		m, err := newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.Wrap(err, "Deque", "New", "metrics registration")
		}
		d.metrics = m
	}

	return d, nil
}

func (d *deque[T]) PushBack(item T) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Deque", "PushBack", "push")
	}
	d.stats.Write()
	if d.metrics != nil {
		d.metrics.recordWrite()
	}

	if d.full() {
		d.stats.Overflow()
		d.recordOverflow()
		switch d.overflowPolicy {
		case DropNewest:
			d.drop(item)
			return nil
		default:
			oldest, _ := d.popFrontLocked()
			d.drop(oldest)
		}
	}

	d.grow()
	d.items[(d.head+d.count)%len(d.items)] = item
	d.count++
	d.sizeChanged()
	return nil
}

func (d *deque[T]) PushFront(item T) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Deque", "PushFront", "push")
	}
	d.stats.Requeue()
	if d.metrics != nil {
		d.metrics.recordRequeue()
	}

	if d.full() {
		d.stats.Overflow()
		d.recordOverflow()
		switch d.overflowPolicy {
		case DropNewest:
			newest := d.popBackLocked()
			d.drop(newest)
		default:
			// The re-inserted item is itself the oldest.
			d.drop(item)
			return nil
		}
	}

	d.grow()
	d.head = (d.head - 1 + len(d.items)) % len(d.items)
	d.items[d.head] = item
	d.count++
	d.sizeChanged()
	return nil
}

func (d *deque[T]) PopFront() (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	item, ok := d.popFrontLocked()
	if ok {
		d.stats.Read()
		if d.metrics != nil {
			d.metrics.recordRead()
		}
		d.sizeChanged()
	}
	return item, ok
}

func (d *deque[T]) Peek() (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var zero T
	if d.count == 0 {
		return zero, false
	}
	d.stats.Peek()
	return d.items[d.head], true
}

func (d *deque[T]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

func (d *deque[T]) Capacity() int {
	return d.capacity
}

func (d *deque[T]) Snapshot() []T {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]T, d.count)
	for i := 0; i < d.count; i++ {
		out[i] = d.items[(d.head+i)%len(d.items)]
	}
	return out
}

func (d *deque[T]) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	var zero T
	for i := range d.items {
		d.items[i] = zero
	}
	d.head = 0
	d.count = 0
	d.sizeChanged()
}

func (d *deque[T]) Stats() *Statistics {
	return d.stats
}

func (d *deque[T]) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *deque[T]) full() bool {
	return d.capacity > 0 && d.count >= d.capacity
}

// grow doubles the ring when it has no free slot. Callers hold mu.
func (d *deque[T]) grow() {
	if d.count < len(d.items) {
		return
	}
	size := len(d.items) * 2
	if size == 0 {
		size = minRing
	}
	if d.capacity > 0 && size > d.capacity {
		size = d.capacity
	}
	items := make([]T, size)
	for i := 0; i < d.count; i++ {
		items[i] = d.items[(d.head+i)%len(d.items)]
	}
	d.items = items
	d.head = 0
}

func (d *deque[T]) popFrontLocked() (T, bool) {
	var zero T
	if d.count == 0 {
		return zero, false
	}
	item := d.items[d.head]
	d.items[d.head] = zero
	d.head = (d.head + 1) % len(d.items)
	d.count--
	return item, true
}

func (d *deque[T]) popBackLocked() T {
	var zero T
	idx := (d.head + d.count - 1) % len(d.items)
	item := d.items[idx]
	d.items[idx] = zero
	d.count--
	return item
}

func (d *deque[T]) drop(item T) {
	d.stats.Drop()
	if d.metrics != nil {
		d.metrics.recordDrop()
	}
	if d.dropCallback != nil {
		d.dropCallback(item)
	}
}

func (d *deque[T]) recordOverflow() {
	if d.metrics != nil {
		d.metrics.recordOverflow()
	}
}

func (d *deque[T]) sizeChanged() {
	d.stats.UpdateSize(int64(d.count))
	if d.metrics != nil {
		d.metrics.updateSize(d.count)
	}
}
