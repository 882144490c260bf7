package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/glove_capture/internal/glove"
	"github.com/relabs-tech/glove_capture/internal/result"
	"github.com/relabs-tech/glove_capture/internal/series"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisWithClient(client, time.Hour), mr
}

func testRecord(t *testing.T) *result.Record {
	t.Helper()
	st := series.NewStore(1, 100)
	var f glove.Frame
	for i := range f {
		f[i] = float64(i + 1)
	}
	st.Apply([]glove.Sample{{Index: 0, Values: f}, {Index: 1, Values: f}})
	rec, err := result.Export(st.Snapshot())
	require.NoError(t, err)
	return rec
}

func TestRedisPutAndLoad(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()
	rec := testRecord(t)

	loc, err := r.Put(ctx, "session_20260101_000000_aaaa0000", rec)
	require.NoError(t, err)
	assert.Equal(t, "sessions:session_20260101_000000_aaaa0000", loc)
	assert.Equal(t, time.Hour, mr.TTL(loc))

	blob, err := mr.Get(loc)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(blob, "Timestamp,Flex1,"))

	back, err := r.LoadRecord(ctx, "session_20260101_000000_aaaa0000")
	require.NoError(t, err)
	assert.Equal(t, rec.Rows, back.Rows)

	_, err = r.LoadRecord(ctx, "missing")
	assert.ErrorIs(t, err, result.ErrNoData)
}

func TestRedisStatusRoundTrip(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	rec, err := r.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, rec, "no job has reported yet")

	require.NoError(t, r.SetStatus(ctx, "k1", result.StatusRecord{Status: result.StatusProcessing, Result: "AI algorithm processing..."}))
	rec, err = r.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, result.StatusProcessing, rec.Status)
	assert.Nil(t, rec.HealthScores)

	require.NoError(t, r.SetStatus(ctx, "k1", result.StatusRecord{
		Status:       result.StatusCompleted,
		Result:       "Finger Healthiness Analysis:",
		HealthScores: map[string]float64{"Thumb": 87.5},
		Plots:        []string{"plots/k1/thumb.png"},
	}))
	rec, err = r.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, result.StatusCompleted, rec.Status)
	assert.Equal(t, 87.5, rec.HealthScores["Thumb"])
	assert.Equal(t, []string{"plots/k1/thumb.png"}, rec.Plots)
}

func TestRedisCrossReferenceAndSubjectIndex(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()
	id := result.Identity{SubjectID: "p-1", Contact: "p1@example.org", DisplayName: "P One", Role: result.RolePatient}

	require.NoError(t, r.SetCrossReference(ctx, "session_20260101_000000_aaaa0000", id))
	require.NoError(t, r.SetCrossReference(ctx, "session_20260102_000000_bbbb0000", id))

	assert.Equal(t, "p1@example.org", mr.HGet("processingResults:session_20260101_000000_aaaa0000", "patientEmail"))

	// identity alone is not a status
	rec, err := r.Get(ctx, "session_20260101_000000_aaaa0000")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, r.SetStatus(ctx, "session_20260102_000000_bbbb0000", result.StatusRecord{
		Status:       result.StatusCompleted,
		Result:       "done",
		HealthScores: map[string]float64{"Index": 50},
	}))

	list, err := r.ListBySubject(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "session_20260102_000000_bbbb0000", list[0].Key)
	assert.Equal(t, result.StatusCompleted, list[0].Status)
	assert.Equal(t, 50.0, list[0].HealthScores["Index"])
	assert.NotEmpty(t, list[1].RequestedAt)

	empty, err := r.ListBySubject(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)

	assert.Error(t, r.SetCrossReference(ctx, "k", result.Identity{}))
}

func TestRedisPutFailsWhenServerGone(t *testing.T) {
	r, mr := newTestRedis(t)
	mr.Close()
	_, err := r.Put(context.Background(), "k", testRecord(t))
	assert.Error(t, err)
}

func TestFileSinkWritesCSV(t *testing.T) {
	dir := t.TempDir()
	sink := &FileSink{Dir: dir}

	path, err := sink.Put(context.Background(), "session_x", testRecord(t))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sessions", "session_x.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 3)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
