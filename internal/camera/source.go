// Package camera provides the video sources the capture loop pulls frames
// from: an RTSP camera opened through OpenCV and a synthetic source for
// development and tests.
package camera

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/banshee-data/waterlevel/internal/vision"
)

// ErrEndOfStream is returned by Read once a source has no more frames.
var ErrEndOfStream = errors.New("camera: end of stream")

// Source is a pull-based frame source. Read blocks until the next frame is
// available; the caller owns the returned frame.
type Source interface {
	Read(ctx context.Context) (*vision.Frame, error)
	Close() error
}

// Options describes the capture resolution requested when a source opens.
type Options struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Normalize validates the options and fills in 720x480 for unset values.
func (o Options) Normalize() (Options, error) {
	opts := o
	if opts.Width == 0 {
		opts.Width = 720
	}
	if opts.Height == 0 {
		opts.Height = 480
	}
	if opts.Width < 0 || opts.Height < 0 {
		return opts, fmt.Errorf("invalid capture size %dx%d", opts.Width, opts.Height)
	}
	return opts, nil
}

// RTSPURL builds the stream address of the reference camera model.
func RTSPURL(user, password, host string) string {
	u := url.URL{
		Scheme: "rtsp",
		User:   url.UserPassword(user, password),
		Host:   host + ":554",
		Path:   "/profile1",
	}
	return u.String()
}

// Redact hides the password in a source URL so it can be logged.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	return u.Redacted()
}
