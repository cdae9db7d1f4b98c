package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/waterlevel/internal/monitoring"
	"github.com/banshee-data/waterlevel/internal/vision"
)

// RTSPSource reads frames from a network camera or any other address OpenCV
// can open (files included).
type RTSPSource struct {
	url   string
	width int

	mu  sync.Mutex
	cap *gocv.VideoCapture
	seq uint64
}

// OpenRTSP opens the stream at url and requests the capture resolution in
// opts. Cameras are free to ignore the request.
func OpenRTSP(url string, opts Options) (*RTSPSource, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	vc, err := gocv.OpenVideoCapture(url)
	if err != nil {
		return nil, fmt.Errorf("open video source %s: %w", Redact(url), err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open video source %s: not opened", Redact(url))
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(opts.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(opts.Height))

	width := vc.Get(gocv.VideoCaptureFrameWidth)
	monitoring.Logf("camera: opened %s (%.0fx%.0f)", Redact(url),
		width, vc.Get(gocv.VideoCaptureFrameHeight))
	return &RTSPSource{url: url, width: int(width), cap: vc}, nil
}

// Read blocks on the camera for the next frame. VideoCapture.Read only
// reports success as a bool, so a read error cannot be told apart from the
// end of the stream; both are reported as ErrEndOfStream. Reconnecting is
// left to the caller.
func (s *RTSPSource) Read(ctx context.Context) (*vision.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cap == nil {
		return nil, ErrEndOfStream
	}

	mat := gocv.NewMat()
	if ok := s.cap.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, ErrEndOfStream
	}
	s.seq++
	return vision.NewFrame(mat, s.seq, time.Now()), nil
}

func (s *RTSPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cap == nil {
		return nil
	}
	err := s.cap.Close()
	s.cap = nil
	return err
}

// FrameWidth is the width the camera reported after the resolution request,
// or 0 when the backend does not say.
func (s *RTSPSource) FrameWidth() int { return s.width }

func (s *RTSPSource) String() string { return Redact(s.url) }
