package telemetry

import (
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/waterlevel/internal/measurement"
	"github.com/banshee-data/waterlevel/internal/monitoring"
	"github.com/banshee-data/waterlevel/internal/timeutil"
)

type recordingSink struct {
	mu     sync.Mutex
	points []Point
	err    error
}

func (s *recordingSink) WritePoint(_ context.Context, p Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.points = append(s.points, p)
	return nil
}

func (s *recordingSink) Points() []Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Point(nil), s.points...)
}

func quietLogs(t *testing.T) {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })
}

func TestTick_SkipsWhileUnset(t *testing.T) {
	quietLogs(t)
	var cell measurement.Cell
	sink := &recordingSink{}
	e := NewEmitter(&cell, sink)

	assert.False(t, e.Tick(context.Background()))
	assert.Empty(t, sink.Points())
	assert.Equal(t, uint64(1), e.Stats().Skipped)
}

func TestTick_WritesLatestReading(t *testing.T) {
	quietLogs(t)
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(now)

	var cell measurement.Cell
	cell.Store(measurement.Reading{Level: 1.40, Row: 1080})
	cell.Store(measurement.Reading{Level: 1.45, Row: 1062})

	sink := &recordingSink{}
	e := NewEmitter(&cell, sink, WithClock(clock), WithLocation("gauge_north"))
	require.True(t, e.Tick(context.Background()))

	want := Point{
		Name:   "water_level",
		Tags:   map[string]string{"location": "gauge_north"},
		Fields: map[string]float64{"level": 1.45},
		Time:   now,
	}
	assert.Equal(t, []Point{want}, sink.Points())
	assert.Equal(t, now, e.Stats().LastAt)
}

func TestTick_SinkFailureIsCounted(t *testing.T) {
	quietLogs(t)
	var cell measurement.Cell
	cell.Store(measurement.Reading{Level: 2})
	e := NewEmitter(&cell, &recordingSink{err: errors.New("influx down")})

	assert.False(t, e.Tick(context.Background()))
	s := e.Stats()
	assert.Equal(t, uint64(1), s.Failed)
	assert.Equal(t, uint64(0), s.Written)
	assert.True(t, s.LastAt.IsZero())
}

func TestRun_Schedule(t *testing.T) {
	quietLogs(t)
	clock := timeutil.NewMockClock(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	var cell measurement.Cell
	sink := &recordingSink{}
	e := NewEmitter(&cell, sink, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	// Start delay: nothing happens before it elapses.
	require.Eventually(t, func() bool { return clock.Waiters() == 1 }, 2*time.Second, time.Millisecond)
	clock.Advance(DefaultStartDelay - time.Millisecond)
	assert.Equal(t, EmitterStats{}, e.Stats())

	// First tick with the cell still unset is skipped; the ticker then arms.
	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool {
		return e.Stats().Skipped == 1 && clock.Waiters() == 1
	}, 2*time.Second, time.Millisecond)
	assert.Empty(t, sink.Points())

	// Only the last value before the boundary is written.
	cell.Store(measurement.Reading{Level: 1.40})
	cell.Store(measurement.Reading{Level: 1.50})
	clock.Advance(DefaultInterval)
	require.Eventually(t, func() bool { return len(sink.Points()) == 1 }, 2*time.Second, time.Millisecond)
	lvl, _ := sink.Points()[0].Level()
	assert.Equal(t, 1.50, lvl)

	// The value persists across ticks without new detections.
	clock.Advance(DefaultInterval)
	require.Eventually(t, func() bool { return len(sink.Points()) == 2 }, 2*time.Second, time.Millisecond)
	lvl, _ = sink.Points()[1].Level()
	assert.Equal(t, 1.50, lvl)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestRun_CancelDuringStartDelay(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	var cell measurement.Cell
	e := NewEmitter(&cell, &recordingSink{}, WithClock(clock), WithStartDelay(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, e.Run(ctx), context.Canceled)
	assert.Equal(t, uint64(0), e.Stats().Skipped)
}

func TestMultiSink_JoinsErrors(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{err: errors.New("unreachable")}
	m := MultiSink{bad, ok}

	err := m.WritePoint(context.Background(), LevelPoint(DefaultLocation, 1.2, time.Unix(0, 0)))
	require.Error(t, err)
	assert.ErrorIs(t, err, bad.err)
	assert.Len(t, ok.Points(), 1, "a failing sink must not stop the others")

	assert.NoError(t, MultiSink{ok}.WritePoint(context.Background(), Point{}))
}

func TestSinkFunc(t *testing.T) {
	var got Point
	s := SinkFunc(func(_ context.Context, p Point) error { got = p; return nil })
	p := LevelPoint("x", 3, time.Unix(5, 0))
	require.NoError(t, s.WritePoint(context.Background(), p))
	assert.Equal(t, p, got)
}
