package asio

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRingOrder(t *testing.T) {
	r := NewEventRing(4)
	require.Equal(t, 4, r.Capacity())

	for i := 1; i <= 3; i++ {
		require.True(t, r.push(newDriverEvent(Output, 3, i*64, 0, nil), 3, false))
	}

	var values []int
	n := r.Drain(func(rec EventRecord) { values = append(values, rec.Value) })
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{64, 128, 192}, values)

	_, ok := r.Pop()
	assert.False(t, ok)
}

func TestEventRingDropsWhenFull(t *testing.T) {
	r := NewEventRing(2)
	ev := newDriverEvent(Output, 1, 0, 0, nil)

	assert.True(t, r.push(ev, 1, true))
	assert.True(t, r.push(ev, 1, true))
	assert.False(t, r.push(ev, 1, true))
	assert.Equal(t, uint64(1), r.Dropped())

	rec, ok := r.Pop()
	require.True(t, ok)
	assert.Equal(t, ResetRequest, rec.Kind)
	assert.True(t, rec.Handled)

	assert.True(t, r.push(ev, 1, false))
}

func TestEventRingCapacityRounding(t *testing.T) {
	assert.Equal(t, 2, NewEventRing(0).Capacity())
	assert.Equal(t, 8, NewEventRing(5).Capacity())
}

func TestEventRingConcurrentProducers(t *testing.T) {
	const producers, each = 4, 200
	r := NewEventRing(producers * each)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				r.push(newDriverEvent(Input, 5, 0, 0, nil), 5, false)
			}
		}()
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	r.Drain(func(rec EventRecord) {
		assert.False(t, seen[rec.Seq], "duplicate seq %d", rec.Seq)
		seen[rec.Seq] = true
	})
	assert.Len(t, seen, producers*each)
	assert.Zero(t, r.Dropped())
}

func TestEventRingPushDoesNotAllocate(t *testing.T) {
	r := NewEventRing(1024)
	ev := newDriverEvent(Output, 3, 256, 0, nil)
	allocs := testing.AllocsPerRun(100, func() {
		r.push(ev, 3, false)
		r.Pop()
	})
	assert.Zero(t, allocs)
}
