package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/waterlevel/internal/measurement"
	"github.com/banshee-data/waterlevel/internal/monitoring"
	"github.com/banshee-data/waterlevel/internal/timeutil"
)

const (
	DefaultInterval     = 5 * time.Minute
	DefaultStartDelay   = 2 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// EmitterStats counts emitter ticks by outcome.
type EmitterStats struct {
	Written uint64    `json:"written"`
	Skipped uint64    `json:"skipped"`
	Failed  uint64    `json:"failed"`
	LastAt  time.Time `json:"last_written_at"`
}

type Option func(*Emitter)

func WithInterval(d time.Duration) Option {
	return func(e *Emitter) {
		if d > 0 {
			e.interval = d
		}
	}
}

func WithStartDelay(d time.Duration) Option {
	return func(e *Emitter) {
		if d >= 0 {
			e.startDelay = d
		}
	}
}

func WithLocation(loc string) Option {
	return func(e *Emitter) {
		if loc != "" {
			e.location = loc
		}
	}
}

// WithWriteTimeout bounds a single sink write.
func WithWriteTimeout(d time.Duration) Option {
	return func(e *Emitter) {
		if d > 0 {
			e.writeTimeout = d
		}
	}
}

func WithClock(c timeutil.Clock) Option {
	return func(e *Emitter) { e.clock = c }
}

// Emitter reads the measurement cell on its own schedule and writes the
// latest reading to the sink. It never touches the frame pipeline.
type Emitter struct {
	cell         *measurement.Cell
	sink         Sink
	interval     time.Duration
	startDelay   time.Duration
	writeTimeout time.Duration
	location     string
	clock        timeutil.Clock

	written, skipped, failed atomic.Uint64
	lastAt                   atomic.Pointer[time.Time]
}

func NewEmitter(cell *measurement.Cell, sink Sink, opts ...Option) *Emitter {
	e := &Emitter{
		cell:         cell,
		sink:         sink,
		interval:     DefaultInterval,
		startDelay:   DefaultStartDelay,
		writeTimeout: DefaultWriteTimeout,
		location:     DefaultLocation,
		clock:        timeutil.RealClock{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run waits for the start delay, emits once, then emits every interval
// until ctx is cancelled.
func (e *Emitter) Run(ctx context.Context) error {
	start := e.clock.NewTimer(e.startDelay)
	select {
	case <-ctx.Done():
		start.Stop()
		return ctx.Err()
	case <-start.C():
	}
	e.Tick(ctx)

	ticker := e.clock.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			e.Tick(ctx)
		}
	}
}

// Tick performs one emission attempt and reports whether a point was
// written.
func (e *Emitter) Tick(ctx context.Context) bool {
	r, ok := e.cell.Load()
	if !ok {
		e.skipped.Add(1)
		return false
	}

	now := e.clock.Now()
	wctx, cancel := context.WithTimeout(ctx, e.writeTimeout)
	defer cancel()
	if err := e.sink.WritePoint(wctx, LevelPoint(e.location, r.Level, now)); err != nil {
		e.failed.Add(1)
		monitoring.Logf("telemetry: write water level: %v", err)
		return false
	}

	e.written.Add(1)
	e.lastAt.Store(&now)
	monitoring.Logf("telemetry: water level %.2fm written", r.Level)
	return true
}

func (e *Emitter) Stats() EmitterStats {
	s := EmitterStats{
		Written: e.written.Load(),
		Skipped: e.skipped.Load(),
		Failed:  e.failed.Load(),
	}
	if t := e.lastAt.Load(); t != nil {
		s.LastAt = *t
	}
	return s
}
