package series

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/glove_capture/internal/glove"
)

func TestWindowMeanOverAvailableValues(t *testing.T) {
	w := NewWindow(5)
	assert.Equal(t, 0.0, w.Mean())

	assert.InDelta(t, 2.0, w.Push(2), 1e-9)
	assert.InDelta(t, 3.0, w.Push(4), 1e-9)
	assert.InDelta(t, 4.0, w.Push(6), 1e-9)
	assert.InDelta(t, 5.0, w.Push(8), 1e-9)
	assert.InDelta(t, 6.0, w.Push(10), 1e-9)
	require.Equal(t, 5, w.Len())

	// window slides: mean of 4,6,8,10,12
	assert.InDelta(t, 8.0, w.Push(12), 1e-9)
	assert.Equal(t, 5, w.Len())
}

func TestWindowReset(t *testing.T) {
	w := NewWindow(3)
	w.Push(100)
	w.Reset()
	assert.InDelta(t, 1.0, w.Push(1), 1e-9)
}

func TestSeriesEvictsOldestFirst(t *testing.T) {
	s := NewSeries(3)
	for i := int64(0); i < 5; i++ {
		s.Append(Point{Index: i, Value: float64(i)})
		assert.LessOrEqual(t, s.Len(), 3)
	}

	pts := s.Points()
	require.Len(t, pts, 3)
	assert.Equal(t, int64(2), pts[0].Index)
	assert.Equal(t, int64(4), pts[2].Index)

	s.Reset()
	assert.Empty(t, s.Points())
}

func frame(v float64) glove.Frame {
	var f glove.Frame
	for i := range f {
		f[i] = v + float64(i)
	}
	return f
}

func TestStoreApplyFiltersAndPublishesCopies(t *testing.T) {
	st := NewStore(5, 1000)
	require.True(t, st.Snapshot().Empty())

	batch := []glove.Sample{
		{Index: 0, Values: frame(10)},
		{Index: 1, Values: frame(20)},
	}
	require.True(t, st.Apply(batch))
	assert.False(t, st.Apply(nil))

	snap := st.Snapshot()
	require.False(t, snap.Empty())
	assert.Equal(t, int64(2), snap.Samples)

	flex := snap.Channels[glove.Flex1]
	require.Len(t, flex, 2)
	assert.Equal(t, Point{Index: 0, Value: 11}, flex[0])
	assert.Equal(t, Point{Index: 1, Value: 16}, flex[1]) // mean(11, 21)

	// mutating the snapshot must not leak into the store
	flex[0].Value = -1
	assert.Equal(t, 11.0, st.Snapshot().Channels[glove.Flex1][0].Value)

	lo, hi, ok := snap.IndexRange()
	require.True(t, ok)
	assert.Equal(t, int64(0), lo)
	assert.Equal(t, int64(1), hi)
}

func TestStoreSeriesBound(t *testing.T) {
	st := NewStore(5, 10)
	var batch []glove.Sample
	for i := int64(0); i < 25; i++ {
		batch = append(batch, glove.Sample{Index: i, Values: frame(1)})
	}
	st.Apply(batch)

	for ch, pts := range st.Snapshot().Channels {
		require.Len(t, pts, 10, "channel %d", ch)
		assert.Equal(t, int64(15), pts[0].Index)
	}
}

func TestStoreResetPublishesEmptySnapshot(t *testing.T) {
	st := NewStore(5, 10)
	st.Apply([]glove.Sample{{Index: 0, Values: frame(1)}})
	st.Reset()
	assert.True(t, st.Snapshot().Empty())

	// windows were cleared too
	st.Apply([]glove.Sample{{Index: 0, Values: frame(3)}})
	assert.Equal(t, 4.0, st.Snapshot().Channels[glove.Flex1][0].Value)
}

func TestStoreSubscribeLatestWins(t *testing.T) {
	st := NewStore(5, 10)
	ch, cancel := st.Subscribe(1)
	defer cancel()

	for i := int64(0); i < 3; i++ {
		st.Apply([]glove.Sample{{Index: i, Values: frame(1)}})
	}

	snap := <-ch
	assert.Equal(t, int64(3), snap.Samples)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
}

type fakeSource struct {
	mu    sync.Mutex
	items []glove.Sample
	calls atomic.Int32
}

func (f *fakeSource) Drain() []glove.Sample {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.items
	f.items = nil
	return out
}

func TestDrainerGateClosedDoesNoWork(t *testing.T) {
	src := &fakeSource{items: []glove.Sample{{Index: 0, Values: frame(1)}}}
	st := NewStore(5, 10)
	d := &Drainer{
		Source:       src,
		Store:        st,
		Gate:         func() bool { return false },
		Interval:     5 * time.Millisecond,
		IdleInterval: 10 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	err := d.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, int32(0), src.calls.Load())
	assert.True(t, st.Snapshot().Empty())
}

func TestDrainerMovesSamplesWhenOpen(t *testing.T) {
	src := &fakeSource{items: []glove.Sample{{Index: 0, Values: frame(1)}, {Index: 1, Values: frame(1)}}}
	st := NewStore(5, 10)
	var open atomic.Bool
	open.Store(true)
	d := &Drainer{Source: src, Store: st, Gate: open.Load, Interval: 5 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return st.Snapshot().Samples == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
