// Package vision holds the frame type that flows through the pipeline and the
// marker detector that turns a frame into a water level reading.
package vision

import (
	"errors"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

var ErrEmptyFrame = errors.New("vision: empty frame")

// Frame is a BGR image owned by exactly one pipeline stage at a time. The
// owner releases the native memory with Close.
type Frame struct {
	Mat      gocv.Mat
	Seq      uint64
	Captured time.Time

	once sync.Once
}

// NewFrame takes ownership of mat.
func NewFrame(mat gocv.Mat, seq uint64, captured time.Time) *Frame {
	return &Frame{Mat: mat, Seq: seq, Captured: captured}
}

func (f *Frame) Width() int  { return f.Mat.Cols() }
func (f *Frame) Height() int { return f.Mat.Rows() }

// Close releases the underlying Mat. It is safe to call more than once.
func (f *Frame) Close() error {
	var err error
	f.once.Do(func() { err = f.Mat.Close() })
	return err
}

// EncodeJPEG compresses the frame at the given quality (1-100).
func EncodeJPEG(f *Frame, quality int) ([]byte, error) {
	if f == nil || f.Mat.Empty() {
		return nil, ErrEmptyFrame
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, f.Mat, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	// The native buffer is released on Close; keep a Go-owned copy.
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
