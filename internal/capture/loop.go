// Package capture runs the producer side of the pipeline: it pulls frames
// from the camera, runs detection, publishes readings and hands annotated
// frames to the frame buffer.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/waterlevel/internal/camera"
	"github.com/banshee-data/waterlevel/internal/measurement"
	"github.com/banshee-data/waterlevel/internal/monitoring"
	"github.com/banshee-data/waterlevel/internal/vision"
)

var (
	// ErrSourceExhausted wraps the error returned when the camera reports
	// end of stream.
	ErrSourceExhausted = errors.New("capture: video source exhausted")
	// ErrSourceRead wraps any other camera read failure.
	ErrSourceRead = errors.New("capture: video source read failed")
)

// FrameDetector turns a raw frame into an annotated frame and a result.
type FrameDetector interface {
	Detect(frame *vision.Frame) (*vision.Frame, vision.Result)
}

// FramePusher receives annotated frames. Push must not block.
type FramePusher interface {
	Push(frame *vision.Frame)
	Close()
}

// Observer is told about every detection, successful or not.
type Observer func(seq uint64, res vision.Result, at time.Time)

// Stats counts loop activity since Run started.
type Stats struct {
	Read     uint64 `json:"frames_read"`
	Skipped  uint64 `json:"frames_skipped"`
	Detected uint64 `json:"markers_detected"`
	Measured uint64 `json:"levels_measured"`
	Running  bool   `json:"running"`
}

type Option func(*Loop)

// WithFrameSkip processes only every nth frame; the others are discarded.
func WithFrameSkip(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.frameSkip = uint64(n)
		}
	}
}

func WithObserver(o Observer) Option {
	return func(l *Loop) { l.observers = append(l.observers, o) }
}

// Loop is the single writer of the measurement cell.
type Loop struct {
	src       camera.Source
	det       FrameDetector
	buf       FramePusher
	cell      *measurement.Cell
	frameSkip uint64
	observers []Observer

	read, skipped, detected, measured atomic.Uint64
	running                           atomic.Bool
}

func New(src camera.Source, det FrameDetector, buf FramePusher, cell *measurement.Cell, opts ...Option) *Loop {
	l := &Loop{src: src, det: det, buf: buf, cell: cell, frameSkip: 1}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run reads until the source ends, a read fails or ctx is cancelled. The
// frame buffer is closed on return so consumers can drain it and stop. A
// source failure is returned wrapped in ErrSourceExhausted or ErrSourceRead;
// cancellation returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	l.running.Store(true)
	defer l.running.Store(false)
	defer l.buf.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := l.src.Read(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, camera.ErrEndOfStream) {
				monitoring.Logf("capture: video source ended after %d frames", l.read.Load())
				return fmt.Errorf("%w: %w", ErrSourceExhausted, err)
			}
			monitoring.Logf("capture: read failed after %d frames: %v", l.read.Load(), err)
			return fmt.Errorf("%w: %w", ErrSourceRead, err)
		}

		n := l.read.Add(1)
		if (n-1)%l.frameSkip != 0 {
			l.skipped.Add(1)
			frame.Close()
			continue
		}
		l.process(frame)
	}
}

func (l *Loop) process(frame *vision.Frame) {
	annotated, res := l.det.Detect(frame)
	frame.Close()

	at := annotated.Captured
	if at.IsZero() {
		at = time.Now()
	}
	if res.Found {
		l.detected.Add(1)
	}
	if res.HasLevel {
		l.measured.Add(1)
		l.cell.Store(measurement.Reading{Level: res.Level, Row: res.Row, At: at})
	}
	for _, o := range l.observers {
		o(annotated.Seq, res, at)
	}

	l.buf.Push(annotated)
}

func (l *Loop) Stats() Stats {
	return Stats{
		Read:     l.read.Load(),
		Skipped:  l.skipped.Load(),
		Detected: l.detected.Load(),
		Measured: l.measured.Load(),
		Running:  l.running.Load(),
	}
}
