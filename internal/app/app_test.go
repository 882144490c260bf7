package app

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"

	"github.com/relabs-tech/glove_capture/internal/capture"
	"github.com/relabs-tech/glove_capture/internal/glove"
	"github.com/relabs-tech/glove_capture/internal/result"
	"github.com/relabs-tech/glove_capture/internal/store"
)

func newRedisStore(t *testing.T) *store.Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	st := store.NewRedisWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 0)
	t.Cleanup(func() { st.Close() })
	return st
}

func swingRecord(rows int, amp float64) *result.Record {
	rec := &result.Record{Columns: glove.ExportColumns()}
	for i := 0; i < rows; i++ {
		row := make([]float64, len(rec.Columns))
		row[0] = float64(i)
		for f := 1; f <= 5; f++ {
			row[f] = 300 + amp*math.Sin(2*math.Pi*float64(i)/100)
		}
		rec.Rows = append(rec.Rows, row)
	}
	return rec
}

func TestAnalyzerCompletesJob(t *testing.T) {
	st := newRedisStore(t)
	ctx := context.Background()
	key := "session_20260101_120000_abcd1234"

	_, err := st.Put(ctx, key, swingRecord(500, 200))
	require.NoError(t, err)

	a := &Analyzer{Store: st, Timeout: 5 * time.Second}
	require.NoError(t, a.Handle(ctx, key))

	rec, err := st.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, result.StatusCompleted, rec.Status)
	assert.Contains(t, rec.Result, "Finger Healthiness Analysis:")
	require.Len(t, rec.HealthScores, 5)
	for name, score := range rec.HealthScores {
		assert.Equal(t, 100.0, score, name)
	}
}

func TestAnalyzerReportsMissingSession(t *testing.T) {
	st := newRedisStore(t)
	ctx := context.Background()
	key := "session_20260101_120000_deadbeef"

	a := &Analyzer{Store: st}
	err := a.Handle(ctx, key)
	require.ErrorIs(t, err, result.ErrNoData)

	rec, err := st.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, result.StatusError, rec.Status)
	assert.True(t, strings.HasPrefix(rec.Result, "Error processing data:"))
}

type fakePin struct {
	mu     sync.Mutex
	levels []gpio.Level
}

func (p *fakePin) Out(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levels = append(p.levels, l)
	return nil
}

func (p *fakePin) seen() []gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]gpio.Level(nil), p.levels...)
}

func TestCueFollowsGraspPhase(t *testing.T) {
	pin := &fakePin{}
	c := &Cue{pin: pin}
	updates := make(chan capture.Update, 8)

	updates <- capture.Update{State: capture.Active, Phase: capture.Grasp}
	updates <- capture.Update{State: capture.Active, Phase: capture.Grasp}
	updates <- capture.Update{State: capture.Active, Phase: capture.Release}
	updates <- capture.Update{State: capture.Active, Phase: capture.Grasp}
	updates <- capture.Update{State: capture.Paused, Phase: capture.Grasp}
	close(updates)

	c.Run(context.Background(), updates)
	assert.Equal(t, []gpio.Level{gpio.High, gpio.Low, gpio.High, gpio.Low}, pin.seen())
}

func TestCueDropsLowOnShutdown(t *testing.T) {
	pin := &fakePin{}
	c := &Cue{pin: pin}
	updates := make(chan capture.Update, 1)
	updates <- capture.Update{State: capture.Active, Phase: capture.Grasp}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, updates)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(pin.seen()) == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, []gpio.Level{gpio.High, gpio.Low}, pin.seen())
}

func TestStatusLines(t *testing.T) {
	assert.Equal(t, []string{"Session", "Waiting..."}, statusLines(capture.Update{}, false))

	lines := statusLines(capture.Update{State: capture.GetReady, CountdownMS: 4200, Message: "Get ready"}, true)
	assert.Equal(t, []string{"GET READY", "Start in 5s", "Get ready"}, lines)

	lines = statusLines(capture.Update{
		State: capture.Active, Phase: capture.Grasp,
		ElapsedMS: 12500, RemainingMS: 107500,
	}, true)
	assert.Equal(t, []string{"ACTIVE", ">> GRASP <<", "T  12s L 107s"}, lines)

	lines = statusLines(capture.Update{
		State:    capture.Exporting,
		Progress: "Waiting for analysis results (attempt 3/30)",
	}, true)
	require.Len(t, lines, 3)
	assert.Equal(t, "Processing...", lines[1])
	assert.Len(t, lines[2], 16)

	lines = statusLines(capture.Update{
		State:  capture.Finished,
		Result: &result.Result{Outcome: result.OutcomeCompleted, HealthScores: map[string]float64{"Thumb": 100, "Index": 50}},
	}, true)
	assert.Equal(t, []string{"FINISHED", "completed", "Avg 75%"}, lines)
}

func TestRenderLinesDrawsText(t *testing.T) {
	img := renderLines([]string{"ACTIVE", ">> GRASP <<"})
	lit := 0
	for _, b := range img.Pix {
		if b != 0 {
			lit++
		}
	}
	assert.Greater(t, lit, 0)

	blank := renderLines(nil)
	for _, b := range blank.Pix {
		require.Zero(t, b)
	}
}

func TestFormatStatus(t *testing.T) {
	line := formatStatus(capture.Update{State: capture.GetReady, CountdownMS: 2001, Message: "Get ready"})
	assert.Contains(t, line, "[SESS] get_ready")
	assert.Contains(t, line, "countdown=3s")
	assert.True(t, strings.HasSuffix(line, "Get ready"))

	line = formatStatus(capture.Update{State: capture.Active, Phase: capture.Release, ElapsedMS: 1500, RemainingMS: 118500})
	assert.Contains(t, line, "t=   1.5s")
	assert.Contains(t, line, "left= 118.5s")
	assert.Contains(t, line, "cue=RELEASE")

	line = formatStatus(capture.Update{State: capture.Exporting, Message: "Processing data...", Progress: "Uploading"})
	assert.True(t, strings.HasSuffix(line, "Uploading"))
}

func TestFormatResult(t *testing.T) {
	out := formatResult(result.Result{
		Key:          "session_x",
		Outcome:      result.OutcomeCompleted,
		Attempts:     2,
		HealthScores: map[string]float64{"Thumb": 100, "Index": 42.5},
		Message:      "Finger Healthiness Analysis:",
	})
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "[RSLT] key=session_x outcome=completed polls=2", lines[0])
	assert.Contains(t, lines[1], "Index")
	assert.Contains(t, lines[1], "42.5")
	assert.Contains(t, lines[2], "Thumb")
	assert.Equal(t, "Finger Healthiness Analysis:", lines[3])
}

type published struct {
	topic    string
	retained bool
	payload  interface{}
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []published
}

func (p *recordingPublisher) Publish(topic string, retained bool, v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{topic, retained, v})
	return nil
}

func TestPublishSessionSendsResultOnce(t *testing.T) {
	pub := &recordingPublisher{}
	updates := make(chan capture.Update, 4)
	res := &result.Result{Key: "k", Outcome: result.OutcomeCompleted}

	updates <- capture.Update{State: capture.Exporting}
	updates <- capture.Update{State: capture.Finished, Result: res}
	close(updates)

	publishSession(context.Background(), updates, pub, "glove/status", "glove/result")

	require.Len(t, pub.sent, 3)
	assert.Equal(t, "glove/status", pub.sent[0].topic)
	assert.True(t, pub.sent[0].retained)
	assert.Equal(t, "glove/status", pub.sent[1].topic)
	assert.Equal(t, "glove/result", pub.sent[2].topic)
	assert.False(t, pub.sent[2].retained)
	assert.Equal(t, res, pub.sent[2].payload)
}
