// Package stream publishes annotated frames to live MJPEG viewers. A single
// pump drains the frame buffer, encodes each frame once and fans the chunk
// out to every connected viewer.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/waterlevel/internal/framebuffer"
	"github.com/banshee-data/waterlevel/internal/monitoring"
	"github.com/banshee-data/waterlevel/internal/timeutil"
	"github.com/banshee-data/waterlevel/internal/vision"
)

const (
	Boundary    = "frame"
	ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

	DefaultQuality      = 70
	DefaultPollInterval = 50 * time.Millisecond
)

// FrameSource is the consumer side of the frame buffer.
type FrameSource interface {
	Pop() (*vision.Frame, error)
	Ready() <-chan struct{}
}

// Chunk wraps one JPEG image as a part of the multipart stream.
func Chunk(jpeg []byte) []byte {
	head := "--" + Boundary + "\r\nContent-Type: image/jpeg\r\n\r\n"
	out := make([]byte, 0, len(head)+len(jpeg)+2)
	out = append(out, head...)
	out = append(out, jpeg...)
	return append(out, "\r\n"...)
}

// Stats counts publisher activity.
type Stats struct {
	Viewers   int    `json:"viewers"`
	Published uint64 `json:"frames_published"`
	Discarded uint64 `json:"frames_discarded"`
	Failed    uint64 `json:"encode_failures"`
	Ended     bool   `json:"ended"`
}

type Option func(*Publisher)

// WithQuality sets the JPEG quality (1-100).
func WithQuality(q int) Option {
	return func(p *Publisher) {
		if q > 0 && q <= 100 {
			p.quality = q
		}
	}
}

// WithPollInterval bounds how long the pump sleeps when the buffer is empty.
func WithPollInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.poll = d
		}
	}
}

func WithClock(c timeutil.Clock) Option {
	return func(p *Publisher) { p.clock = c }
}

// Publisher multiplexes the frame buffer to any number of viewers.
type Publisher struct {
	src     FrameSource
	quality int
	poll    time.Duration
	clock   timeutil.Clock

	viewers  map[string]*Viewer
	viewerMu sync.Mutex
	closing  bool // set by Close
	stopped  bool // set once the source is drained
	ended    chan struct{}

	logEncode func(format string, v ...any)

	published, discarded, failed atomic.Uint64
}

func NewPublisher(src FrameSource, opts ...Option) *Publisher {
	p := &Publisher{
		src:     src,
		quality: DefaultQuality,
		poll:    DefaultPollInterval,
		clock:   timeutil.RealClock{},
		viewers: make(map[string]*Viewer),
		ended:   make(chan struct{}),

		logEncode: monitoring.Every(100),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Subscribe registers a new viewer. A viewer that joins after the stream
// ended or the publisher closed is returned already finished.
func (p *Publisher) Subscribe() *Viewer {
	v := newViewer(p.clock.Now())

	p.viewerMu.Lock()
	defer p.viewerMu.Unlock()
	if p.closing || p.stopped {
		v.finish()
		return v
	}
	p.viewers[v.id] = v
	return v
}

// Unsubscribe removes a viewer and wakes any pending Next call.
func (p *Publisher) Unsubscribe(id string) {
	p.viewerMu.Lock()
	v, ok := p.viewers[id]
	delete(p.viewers, id)
	p.viewerMu.Unlock()
	if ok {
		v.finish()
	}
}

// Monitor drains the frame source until it is closed and empty, the
// publisher is closed or ctx is cancelled. It returns nil when the source
// ended normally.
func (p *Publisher) Monitor(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.isClosing() {
			return nil
		}

		frame, err := p.src.Pop()
		switch {
		case errors.Is(err, framebuffer.ErrEmpty):
			if err := p.wait(ctx); err != nil {
				return err
			}
			continue
		case errors.Is(err, framebuffer.ErrClosed):
			monitoring.Logf("stream: frame source closed, ending %d viewer streams", p.Viewers())
			p.end()
			return nil
		case err != nil:
			return fmt.Errorf("stream: pop frame: %w", err)
		}

		p.publish(frame)
	}
}

// wait blocks until the source signals a push, the poll interval elapses or
// ctx is done.
func (p *Publisher) wait(ctx context.Context) error {
	t := p.clock.NewTimer(p.poll)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.src.Ready():
	case <-t.C():
	}
	return nil
}

func (p *Publisher) publish(frame *vision.Frame) {
	defer frame.Close()

	p.viewerMu.Lock()
	n := len(p.viewers)
	p.viewerMu.Unlock()
	if n == 0 {
		p.discarded.Add(1)
		return
	}

	jpeg, err := vision.EncodeJPEG(frame, p.quality)
	if err != nil {
		p.failed.Add(1)
		p.logEncode("stream: encode frame %d: %v", frame.Seq, err)
		return
	}
	chunk := Chunk(jpeg)

	p.viewerMu.Lock()
	for _, v := range p.viewers {
		v.offer(chunk)
	}
	p.viewerMu.Unlock()
	p.published.Add(1)
}

// end marks the stream finished; viewers drain their mailbox and then see
// ErrStreamEnded.
func (p *Publisher) end() {
	p.viewerMu.Lock()
	defer p.viewerMu.Unlock()
	if !p.stopped {
		p.stopped = true
		close(p.ended)
	}
	p.finishAll()
}

// Ended is closed once the frame source has been fully drained.
func (p *Publisher) Ended() <-chan struct{} {
	return p.ended
}

// Close disconnects every viewer and stops Monitor at its next iteration.
func (p *Publisher) Close() error {
	p.viewerMu.Lock()
	defer p.viewerMu.Unlock()
	p.closing = true
	p.finishAll()
	return nil
}

func (p *Publisher) finishAll() {
	for id, v := range p.viewers {
		v.finish()
		delete(p.viewers, id)
	}
}

func (p *Publisher) isClosing() bool {
	p.viewerMu.Lock()
	defer p.viewerMu.Unlock()
	return p.closing
}

func (p *Publisher) Viewers() int {
	p.viewerMu.Lock()
	defer p.viewerMu.Unlock()
	return len(p.viewers)
}

// ViewerList snapshots the connected viewers.
func (p *Publisher) ViewerList() []ViewerInfo {
	p.viewerMu.Lock()
	defer p.viewerMu.Unlock()
	out := make([]ViewerInfo, 0, len(p.viewers))
	for _, v := range p.viewers {
		out = append(out, v.Info())
	}
	return out
}

func (p *Publisher) Stats() Stats {
	s := Stats{
		Viewers:   p.Viewers(),
		Published: p.published.Load(),
		Discarded: p.discarded.Load(),
		Failed:    p.failed.Load(),
	}
	select {
	case <-p.ended:
		s.Ended = true
	default:
	}
	return s
}
