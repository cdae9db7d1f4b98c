package stream

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/waterlevel/internal/framebuffer"
	"github.com/banshee-data/waterlevel/internal/testutil"
	"github.com/banshee-data/waterlevel/internal/vision"
)

const chunkHead = "--frame\r\nContent-Type: image/jpeg\r\n\r\n"

func newFrame(seq uint64) *vision.Frame {
	return vision.NewFrame(testutil.MarkerMat(32, 24, image.Rect(4, 4, 12, 12)), seq, time.Time{})
}

func startMonitor(t *testing.T, p *Publisher) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Monitor(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func nextWithin(t *testing.T, v *Viewer, d time.Duration) ([]byte, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return v.Next(ctx)
}

func TestChunk(t *testing.T) {
	got := Chunk([]byte{0xFF, 0xD8, 0xFF, 0xD9})
	want := append([]byte(chunkHead), 0xFF, 0xD8, 0xFF, 0xD9, '\r', '\n')
	assert.Equal(t, want, got)
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", ContentType)
}

func TestPublisher_FansOutToEveryViewer(t *testing.T) {
	buf := framebuffer.New[*vision.Frame](10)
	p := NewPublisher(buf, WithPollInterval(5*time.Millisecond))
	a, b := p.Subscribe(), p.Subscribe()
	require.NotEqual(t, a.ID(), b.ID())
	startMonitor(t, p)

	buf.Push(newFrame(1))

	for _, v := range []*Viewer{a, b} {
		chunk, err := nextWithin(t, v, 2*time.Second)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(chunk, []byte(chunkHead)), "chunk missing multipart header")
		assert.True(t, bytes.HasPrefix(chunk[len(chunkHead):], []byte{0xFF, 0xD8}), "chunk body is not a JPEG")
		assert.True(t, bytes.HasSuffix(chunk, []byte("\r\n")))
	}
}

func TestPublisher_DiscardsWithoutViewers(t *testing.T) {
	buf := framebuffer.New[*vision.Frame](10)
	p := NewPublisher(buf)

	buf.Push(newFrame(1))
	buf.Push(newFrame(2))
	buf.Close()

	require.NoError(t, p.Monitor(context.Background()))
	s := p.Stats()
	assert.Equal(t, uint64(2), s.Discarded)
	assert.Equal(t, uint64(0), s.Published)
	assert.True(t, s.Ended)
}

func TestPublisher_EndsViewersAfterDrain(t *testing.T) {
	buf := framebuffer.New[*vision.Frame](10)
	p := NewPublisher(buf)
	v := p.Subscribe()

	buf.Push(newFrame(1))
	buf.Close()
	require.NoError(t, p.Monitor(context.Background()))

	chunk, err := nextWithin(t, v, time.Second)
	require.NoError(t, err, "pending chunk must be delivered before the end")
	assert.NotEmpty(t, chunk)

	_, err = nextWithin(t, v, time.Second)
	assert.ErrorIs(t, err, ErrStreamEnded)
	assert.Equal(t, 0, p.Viewers())

	late := p.Subscribe()
	_, err = nextWithin(t, late, time.Second)
	assert.ErrorIs(t, err, ErrStreamEnded, "viewer joining after the end")

	select {
	case <-p.Ended():
	default:
		t.Error("Ended() not closed")
	}
}

func TestViewer_KeepsOnlyNewestChunk(t *testing.T) {
	v := newViewer(time.Now())
	v.offer([]byte("one"))
	v.offer([]byte("two"))
	v.offer([]byte("three"))

	got, err := nextWithin(t, v, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "three", string(got))

	info := v.Info()
	assert.Equal(t, uint64(2), info.Dropped)
	assert.Equal(t, uint64(1), info.Delivered)
}

func TestViewer_NextHonoursContext(t *testing.T) {
	v := newViewer(time.Now())
	_, err := nextWithin(t, v, 20*time.Millisecond)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestPublisher_UnsubscribeWakesNext(t *testing.T) {
	p := NewPublisher(framebuffer.New[*vision.Frame](1))
	v := p.Subscribe()
	assert.Equal(t, 1, p.Viewers())

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Unsubscribe(v.ID())
	}()
	_, err := nextWithin(t, v, 2*time.Second)
	assert.ErrorIs(t, err, ErrStreamEnded)
	assert.Equal(t, 0, p.Viewers())

	// unknown ids are ignored
	p.Unsubscribe("missing")
}

func TestPublisher_CloseStopsMonitor(t *testing.T) {
	buf := framebuffer.New[*vision.Frame](10)
	p := NewPublisher(buf, WithPollInterval(5*time.Millisecond))
	v := p.Subscribe()
	_, done := startMonitor(t, p)

	require.NoError(t, p.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not stop after Close")
	}
	_, err := nextWithin(t, v, time.Second)
	assert.ErrorIs(t, err, ErrStreamEnded)
}

func TestPublisher_MonitorCancellation(t *testing.T) {
	p := NewPublisher(framebuffer.New[*vision.Frame](10), WithPollInterval(time.Hour))
	cancel, done := startMonitor(t, p)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancellation")
	}
}

func TestServeHTTP_StreamsMJPEG(t *testing.T) {
	buf := framebuffer.New[*vision.Frame](10)
	p := NewPublisher(buf, WithPollInterval(5*time.Millisecond), WithQuality(80))
	startMonitor(t, p)

	srv := httptest.NewServer(p)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ContentType, resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return p.Viewers() == 1 }, 2*time.Second, 5*time.Millisecond)
	buf.Push(newFrame(1))

	head := make([]byte, len(chunkHead)+2)
	_, err = io.ReadFull(resp.Body, head)
	require.NoError(t, err)
	assert.Equal(t, chunkHead, string(head[:len(chunkHead)]))
	assert.Equal(t, []byte{0xFF, 0xD8}, head[len(chunkHead):])

	buf.Close()
	rest, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "response must end cleanly with the stream")
	assert.True(t, bytes.HasSuffix(rest, []byte{0xFF, 0xD9, '\r', '\n'}))
}

func TestServeHTTP_MethodNotAllowed(t *testing.T) {
	p := NewPublisher(framebuffer.New[*vision.Frame](1))
	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/video_feed", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
}

func TestAttachAdminRoutes_Viewers(t *testing.T) {
	p := NewPublisher(framebuffer.New[*vision.Frame](1))
	v := p.Subscribe()

	mux := http.NewServeMux()
	p.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/stream-viewers", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	if !strings.Contains(w.Body.String(), v.ID()) {
		t.Errorf("viewer page does not list %s", v.ID())
	}
}
