package buffer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/c360/thermstream/errors"
	"github.com/c360/thermstream/metric"
)

func newUnbounded(t *testing.T) Queue[string] {
	t.Helper()
	q, err := NewDeque[string](0)
	require.NoError(t, err)
	return q
}

func TestDeque_FIFO(t *testing.T) {
	q := newUnbounded(t)

	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, q.PushBack(s))
	}
	assert.Equal(t, 3, q.Len())

	head, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "a", head)

	var got []string
	for {
		item, ok := q.PopFront()
		if !ok {
			break
		}
		got = append(got, item)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, 0, q.Len())
}

func TestDeque_PushFrontRestoresOrder(t *testing.T) {
	q := newUnbounded(t)
	for _, s := range []string{"r1", "r2", "r3"} {
		require.NoError(t, q.PushBack(s))
	}

	item, ok := q.PopFront()
	require.True(t, ok)
	require.Equal(t, "r1", item)

	require.NoError(t, q.PushFront(item))
	assert.Equal(t, []string{"r1", "r2", "r3"}, q.Snapshot())
	assert.Equal(t, int64(1), q.Stats().Requeues())
}

func TestDeque_GrowsPastInitialRing(t *testing.T) {
	q := newUnbounded(t)

	// Mix head and tail inserts so the ring wraps before it grows.
	for i := 0; i < 100; i++ {
		if i%10 == 0 {
			require.NoError(t, q.PushFront(fmt.Sprintf("f%d", i)))
			continue
		}
		require.NoError(t, q.PushBack(fmt.Sprintf("b%d", i)))
	}
	assert.Equal(t, 100, q.Len())

	snap := q.Snapshot()
	assert.Equal(t, "f90", snap[0])
	assert.Equal(t, "f0", snap[9])
	assert.Equal(t, "b1", snap[10])
	assert.Equal(t, "b99", snap[99])
	assert.Equal(t, int64(100), q.Stats().MaxSize())
}

func TestDeque_CapDropOldest(t *testing.T) {
	var dropped []string
	q, err := NewDeque[string](2, WithDropCallback[string](func(s string) {
		dropped = append(dropped, s)
	}))
	require.NoError(t, err)

	require.NoError(t, q.PushBack("a"))
	require.NoError(t, q.PushBack("b"))
	require.NoError(t, q.PushBack("c"))

	assert.Equal(t, []string{"b", "c"}, q.Snapshot())
	assert.Equal(t, []string{"a"}, dropped)
	assert.Equal(t, int64(1), q.Stats().Overflows())
	assert.Equal(t, int64(1), q.Stats().Drops())

	// A re-inserted head is the oldest item, so it is the one dropped.
	require.NoError(t, q.PushFront("z"))
	assert.Equal(t, []string{"b", "c"}, q.Snapshot())
	assert.Equal(t, []string{"a", "z"}, dropped)
}

func TestDeque_CapDropNewest(t *testing.T) {
	q, err := NewDeque[string](2, WithOverflowPolicy[string](DropNewest))
	require.NoError(t, err)

	require.NoError(t, q.PushBack("a"))
	require.NoError(t, q.PushBack("b"))
	require.NoError(t, q.PushBack("c"))
	assert.Equal(t, []string{"a", "b"}, q.Snapshot())

	require.NoError(t, q.PushFront("z"))
	assert.Equal(t, []string{"z", "a"}, q.Snapshot())
	assert.Equal(t, int64(2), q.Stats().Drops())
}

func TestDeque_NegativeCapacity(t *testing.T) {
	_, err := NewDeque[int](-1)
	require.Error(t, err)
	assert.True(t, cerrors.IsInvalid(err))
}

func TestDeque_CloseRejectsPushes(t *testing.T) {
	q := newUnbounded(t)
	require.NoError(t, q.PushBack("kept"))
	require.NoError(t, q.Close())

	assert.Error(t, q.PushBack("late"))
	assert.Error(t, q.PushFront("late"))

	item, ok := q.PopFront()
	assert.True(t, ok)
	assert.Equal(t, "kept", item)
}

func TestDeque_Clear(t *testing.T) {
	q := newUnbounded(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.PushBack("x"))
	}
	q.Clear()
	assert.Equal(t, 0, q.Len())
	_, ok := q.Peek()
	assert.False(t, ok)
	assert.Equal(t, int64(0), q.Stats().CurrentSize())
}

func TestDeque_ConcurrentAccess(t *testing.T) {
	q, err := NewDeque[int](0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				_ = q.PushBack(i)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, q.Len())

	popped := 0
	for {
		if _, ok := q.PopFront(); !ok {
			break
		}
		popped++
	}
	assert.Equal(t, 1000, popped)
}

func TestDeque_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	q, err := NewDeque[string](1, WithMetrics[string](registry, "delivery"))
	require.NoError(t, err)

	require.NoError(t, q.PushBack("a"))
	require.NoError(t, q.PushBack("b"))

	d := q.(*deque[string])
	assert.Equal(t, 2.0, testutil.ToFloat64(d.metrics.writes))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.drops))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.size))

	// Same prefix twice collides in the registry.
	_, err = NewDeque[string](0, WithMetrics[string](registry, "delivery"))
	assert.Error(t, err)
}

func TestParseOverflowPolicy(t *testing.T) {
	tests := []struct {
		in     string
		policy OverflowPolicy
		ok     bool
	}{
		{"", DropOldest, true},
		{"drop_oldest", DropOldest, true},
		{"drop_newest", DropNewest, true},
		{"block", DropOldest, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, ok := ParseOverflowPolicy(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.policy, p)
		})
	}
	assert.Equal(t, "DropNewest", DropNewest.String())
}
