// Package calibration maps the pixel row of the gauge marker to a physical
// water level using an empirically measured table.
package calibration

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"
)

var (
	ErrTooFewPoints = errors.New("calibration: at least two points are required")
	ErrDuplicateRow = errors.New("calibration: duplicate pixel row")
	ErrInvalidLevel = errors.New("calibration: level must be a finite number")
)

// Point is one measured pixel-row/level pair.
type Point struct {
	Row   int     `json:"row"`
	Level float64 `json:"level"`
}

// Curve is an immutable, row-sorted calibration table. It is safe for
// concurrent use.
type Curve struct {
	points []Point
	fit    interp.PiecewiseLinear
}

// New builds a Curve from points after adding offset to every row. The
// offset models a one-time physical recalibration of the camera and is never
// applied again at lookup time.
func New(points []Point, offset int) (*Curve, error) {
	if len(points) < 2 {
		return nil, ErrTooFewPoints
	}

	shifted := make([]Point, len(points))
	for i, p := range points {
		if math.IsNaN(p.Level) || math.IsInf(p.Level, 0) {
			return nil, fmt.Errorf("%w: row %d has %v", ErrInvalidLevel, p.Row, p.Level)
		}
		shifted[i] = Point{Row: p.Row + offset, Level: p.Level}
	}
	sort.Slice(shifted, func(i, j int) bool { return shifted[i].Row < shifted[j].Row })

	xs := make([]float64, len(shifted))
	ys := make([]float64, len(shifted))
	for i, p := range shifted {
		if i > 0 && p.Row == shifted[i-1].Row {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateRow, p.Row)
		}
		xs[i] = float64(p.Row)
		ys[i] = p.Level
	}

	c := &Curve{points: shifted}
	if err := c.fit.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("calibration: fit curve: %w", err)
	}
	return c, nil
}

// Interpolate returns the level for the given pixel row. Rows outside the
// calibrated band, above or below it, resolve to no measurement.
func (c *Curve) Interpolate(row int) (float64, bool) {
	minRow, maxRow := c.Band()
	if row < minRow || row > maxRow {
		return 0, false
	}
	i := sort.Search(len(c.points), func(i int) bool { return c.points[i].Row >= row })
	if c.points[i].Row == row {
		return c.points[i].Level, true
	}
	return c.fit.Predict(float64(row)), true
}

// Band returns the smallest and largest calibrated rows.
func (c *Curve) Band() (minRow, maxRow int) {
	return c.points[0].Row, c.points[len(c.points)-1].Row
}

// Points returns a copy of the offset-adjusted table in ascending row order.
func (c *Curve) Points() []Point {
	out := make([]Point, len(c.points))
	copy(out, c.points)
	return out
}

func (c *Curve) Len() int { return len(c.points) }
