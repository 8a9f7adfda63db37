// Package buffer provides a thread-safe, generic double-ended FIFO used to hold
// records that could not be delivered yet.
package buffer

// Queue is a FIFO that also accepts items back at its head, so a consumer can
// return an item it popped but failed to process without losing its position.
type Queue[T any] interface {
	// PushBack appends an item at the tail.
	PushBack(item T) error

	// PushFront re-inserts an item at the head.
	PushFront(item T) error

	// PopFront removes and returns the head item.
	PopFront() (T, bool)

	// Peek returns the head item without removing it.
	Peek() (T, bool)

	// Len returns the number of queued items.
	Len() int

	// Capacity returns the configured cap; 0 means unbounded.
	Capacity() int

	// Snapshot copies the queued items in head-to-tail order.
	Snapshot() []T

	// Clear removes all items.
	Clear()

	// Stats returns queue statistics (always collected).
	Stats() *Statistics

	// Close rejects further pushes. Queued items remain readable.
	Close() error
}

// OverflowPolicy defines what a capped queue does when it is full.
type OverflowPolicy int

const (
	// DropOldest evicts the head item to make room.
	DropOldest OverflowPolicy = iota

	// DropNewest rejects the incoming item.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// ParseOverflowPolicy maps a configuration string to a policy.
func ParseOverflowPolicy(s string) (OverflowPolicy, bool) {
	switch s {
	case "", "drop_oldest", "DropOldest":
		return DropOldest, true
	case "drop_newest", "DropNewest":
		return DropNewest, true
	default:
		return DropOldest, false
	}
}

// DropCallback is called with each item discarded by the overflow policy.
type DropCallback[T any] func(item T)

// NewDeque creates a queue. capacity 0 means unbounded; a positive capacity
// engages the overflow policy (DropOldest unless WithOverflowPolicy says otherwise).
func NewDeque[T any](capacity int, options ...Option[T]) (Queue[T], error) {
	opts := applyOptions(options...)
	return newDeque(capacity, opts)
}
