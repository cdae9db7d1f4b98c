package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrStreamEnded is returned by Viewer.Next once no further chunks will be
// delivered.
var ErrStreamEnded = errors.New("stream: ended")

// Viewer is one subscriber of the publisher. It holds at most one pending
// chunk; a newer chunk replaces an unread older one, so a slow viewer sees
// fresh frames rather than a backlog.
type Viewer struct {
	id        string
	connected time.Time
	mailbox   chan []byte
	done      chan struct{}
	doneOnce  sync.Once

	delivered, dropped atomic.Uint64
}

// ViewerInfo is the admin view of a Viewer.
type ViewerInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	Delivered uint64    `json:"delivered"`
	Dropped   uint64    `json:"dropped"`
}

func newViewer(now time.Time) *Viewer {
	return &Viewer{
		id:        uuid.NewString(),
		connected: now,
		mailbox:   make(chan []byte, 1),
		done:      make(chan struct{}),
	}
}

func (v *Viewer) ID() string { return v.id }

// Next returns the next chunk, waiting for one if necessary. Once the viewer
// is finished any pending chunk is still returned before ErrStreamEnded.
func (v *Viewer) Next(ctx context.Context) ([]byte, error) {
	select {
	case c := <-v.mailbox:
		v.delivered.Add(1)
		return c, nil
	default:
	}

	select {
	case c := <-v.mailbox:
		v.delivered.Add(1)
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-v.done:
		select {
		case c := <-v.mailbox:
			v.delivered.Add(1)
			return c, nil
		default:
			return nil, ErrStreamEnded
		}
	}
}

func (v *Viewer) Info() ViewerInfo {
	return ViewerInfo{
		ID:        v.id,
		Connected: v.connected,
		Delivered: v.delivered.Load(),
		Dropped:   v.dropped.Load(),
	}
}

// offer stores chunk without blocking, evicting an unread chunk. Only the
// publisher pump calls it.
func (v *Viewer) offer(chunk []byte) {
	for {
		select {
		case v.mailbox <- chunk:
			return
		default:
		}
		select {
		case <-v.mailbox:
			v.dropped.Add(1)
		default:
		}
	}
}

func (v *Viewer) finish() {
	v.doneOnce.Do(func() { close(v.done) })
}
