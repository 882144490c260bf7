package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/glove_capture/internal/glove"
)

func sample(i int64) glove.Sample {
	return glove.Sample{Index: i}
}

func TestPushNeverExceedsCapacity(t *testing.T) {
	b := New(3)
	for i := int64(0); i < 3; i++ {
		assert.False(t, b.Push(sample(i)))
	}
	require.Equal(t, 3, b.Len())

	for i := int64(3); i < 10; i++ {
		assert.True(t, b.Push(sample(i)), "insert %d should evict", i)
		assert.Equal(t, 3, b.Len())
	}
	assert.Equal(t, uint64(7), b.Evicted())

	got := b.Drain()
	require.Len(t, got, 3)
	assert.Equal(t, []int64{7, 8, 9}, []int64{got[0].Index, got[1].Index, got[2].Index})
}

func TestDrainEmptiesInFIFOOrder(t *testing.T) {
	b := New(DefaultCapacity)
	for i := int64(0); i < 5; i++ {
		b.Push(sample(i))
	}

	got := b.Drain()
	require.Len(t, got, 5)
	for i, s := range got {
		assert.Equal(t, int64(i), s.Index)
	}
	assert.Equal(t, 0, b.Len())
	assert.Nil(t, b.Drain())
}

func TestDrainedBatchIsNotAliased(t *testing.T) {
	b := New(4)
	b.Push(sample(1))
	batch := b.Drain()

	b.Push(sample(2))
	require.Len(t, batch, 1)
	assert.Equal(t, int64(1), batch[0].Index)
}

func TestClear(t *testing.T) {
	b := New(4)
	b.Push(sample(1))
	b.Push(sample(2))
	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.Nil(t, b.Drain())
}

func TestZeroCapacityUsesDefault(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Cap())
}

func TestConcurrentPushAndDrain(t *testing.T) {
	b := New(50)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(0); i < 10000; i++ {
			b.Push(sample(i))
		}
	}()

	var last int64 = -1
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	check := func(batch []glove.Sample) {
		assert.LessOrEqual(t, len(batch), 50)
		for _, s := range batch {
			assert.Greater(t, s.Index, last)
			last = s.Index
		}
	}
	for {
		select {
		case <-done:
			check(b.Drain())
			assert.Equal(t, int64(9999), last)
			return
		default:
			check(b.Drain())
		}
	}
}
