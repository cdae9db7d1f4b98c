package camera

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/waterlevel/internal/vision"
)

// SyntheticOptions configures a Synthetic source.
type SyntheticOptions struct {
	Options

	// ColumnStart and ColumnEnd place the marker horizontally.
	ColumnStart int
	ColumnEnd   int

	// TopRow and BottomRow bound the marker's vertical travel.
	TopRow    int
	BottomRow int
	Step      int

	// Frames limits the number of frames; zero means unlimited.
	Frames int
	// FPS paces Read; zero returns frames as fast as they are requested.
	FPS float64
}

// yellow sits in the middle of the detector's default hue range.
var yellow = color.RGBA{R: 255, G: 255, A: 255}

// Synthetic renders a yellow marker that sweeps up and down a black frame,
// standing in for a camera in development mode and tests.
type Synthetic struct {
	opts SyntheticOptions

	mu     sync.Mutex
	seq    uint64
	row    int
	dir    int
	closed bool
	last   time.Time
}

func NewSynthetic(opts SyntheticOptions) (*Synthetic, error) {
	base, err := opts.Options.Normalize()
	if err != nil {
		return nil, err
	}
	opts.Options = base
	if opts.ColumnEnd <= opts.ColumnStart {
		opts.ColumnStart, opts.ColumnEnd = base.Width/2-20, base.Width/2+20
	}
	if opts.BottomRow <= opts.TopRow {
		opts.TopRow, opts.BottomRow = base.Height/4, base.Height*3/4
	}
	if opts.Step <= 0 {
		opts.Step = 2
	}
	return &Synthetic{opts: opts, row: opts.BottomRow, dir: -1}, nil
}

// Read renders the next frame, or returns ErrEndOfStream once the frame
// limit is reached or the source is closed.
func (s *Synthetic) Read(ctx context.Context) (*vision.Frame, error) {
	if err := s.pace(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.opts.Frames > 0 && s.seq >= uint64(s.opts.Frames)) {
		return nil, ErrEndOfStream
	}

	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), s.opts.Height, s.opts.Width, gocv.MatTypeCV8UC3)
	marker := image.Rect(s.opts.ColumnStart, s.row, s.opts.ColumnEnd, s.row+12)
	gocv.Rectangle(&mat, marker, yellow, -1)

	s.seq++
	s.advance()
	return vision.NewFrame(mat, s.seq, time.Now()), nil
}

func (s *Synthetic) FrameWidth() int { return s.opts.Width }

// nextRow reports where the marker's top edge will be drawn on the next Read.
func (s *Synthetic) nextRow() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.row
}

func (s *Synthetic) advance() {
	next := s.row + s.dir*s.opts.Step
	if next < s.opts.TopRow || next > s.opts.BottomRow {
		s.dir = -s.dir
		next = s.row + s.dir*s.opts.Step
	}
	s.row = next
}

func (s *Synthetic) pace(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.opts.FPS <= 0 {
		return nil
	}
	interval := time.Duration(float64(time.Second) / s.opts.FPS)

	s.mu.Lock()
	wait := time.Until(s.last.Add(interval))
	s.mu.Unlock()

	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	s.mu.Lock()
	s.last = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
