// Package telemetry periodically forwards the latest water level reading to
// one or more write-only metric sinks.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	MeasurementName = "water_level"
	LevelField      = "level"
	LocationTag     = "location"
	DefaultLocation = "camera_1"
)

// Point is one labelled measurement, shaped like an InfluxDB point.
type Point struct {
	Name   string             `json:"name" cbor:"name"`
	Tags   map[string]string  `json:"tags" cbor:"tags"`
	Fields map[string]float64 `json:"fields" cbor:"fields"`
	Time   time.Time          `json:"time" cbor:"time"`
}

// LevelPoint builds the water_level point for one reading.
func LevelPoint(location string, level float64, at time.Time) Point {
	return Point{
		Name:   MeasurementName,
		Tags:   map[string]string{LocationTag: location},
		Fields: map[string]float64{LevelField: level},
		Time:   at,
	}
}

// Level returns the level field and whether the point carries one.
func (p Point) Level() (float64, bool) {
	v, ok := p.Fields[LevelField]
	return v, ok
}

// Sink accepts points. Writes are fire-and-forget from the emitter's point
// of view: a failed write is logged and never retried.
type Sink interface {
	WritePoint(ctx context.Context, p Point) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, p Point) error

func (f SinkFunc) WritePoint(ctx context.Context, p Point) error { return f(ctx, p) }

// MultiSink writes every point to each sink in turn. One failing sink does
// not stop the others; all failures are joined into the returned error.
type MultiSink []Sink

func (m MultiSink) WritePoint(ctx context.Context, p Point) error {
	var errs []error
	for i, s := range m {
		if err := s.WritePoint(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("sink %d (%T): %w", i, s, err))
		}
	}
	return errors.Join(errs...)
}
