package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pebbe/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfluxSink_WritesLineProtocol(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/write" {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		queries = append(queries, r.URL.RawQuery)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink, err := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "t", Org: "river", Bucket: "levels"})
	require.NoError(t, err)
	defer sink.Close()

	at := time.Unix(1700000000, 0)
	require.NoError(t, sink.WritePoint(context.Background(), LevelPoint(DefaultLocation, 1.45, at)))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 1)
	assert.Equal(t, "water_level,location=camera_1 level=1.45 1700000000000000000", strings.TrimSpace(bodies[0]))
	assert.Contains(t, queries[0], "bucket=levels")
	assert.Contains(t, queries[0], "org=river")
}

func TestInfluxSink_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"unauthorized","message":"bad token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	sink, err := NewInfluxSink(InfluxConfig{URL: srv.URL, Org: "o", Bucket: "b"})
	require.NoError(t, err)
	defer sink.Close()

	assert.Error(t, sink.WritePoint(context.Background(), LevelPoint(DefaultLocation, 1, time.Unix(0, 0))))
}

func TestInfluxConfig_Validate(t *testing.T) {
	assert.Error(t, InfluxConfig{}.Validate())
	assert.Error(t, InfluxConfig{URL: "http://x", Org: "o"}.Validate())
	assert.NoError(t, InfluxConfig{URL: "http://x", Org: "o", Bucket: "b"}.Validate())
}

func TestZMQSink_PublishesCBOR(t *testing.T) {
	endpoint := fmt.Sprintf("inproc://telemetry-%d", time.Now().UnixNano())
	sink, err := NewZMQSink(endpoint)
	require.NoError(t, err)
	defer sink.Close()

	sub, err := zmq4.NewSocket(zmq4.SUB)
	require.NoError(t, err)
	defer sub.Close()
	require.NoError(t, sub.Connect(endpoint))
	require.NoError(t, sub.SetSubscribe(""))
	require.NoError(t, sub.SetRcvtimeo(50*time.Millisecond))

	want := LevelPoint(DefaultLocation, 2.25, time.Unix(1700000000, 0))

	// PUB drops messages until the subscription has propagated.
	var msg []byte
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, sink.WritePoint(context.Background(), want))
		if msg, err = sub.RecvBytes(0); err == nil {
			break
		}
	}
	require.NoError(t, err, "no message received")

	got, err := DecodePoint(msg)
	require.NoError(t, err)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Tags, got.Tags)
	assert.Equal(t, want.Fields, got.Fields)
	assert.True(t, want.Time.Equal(got.Time), "time = %v, want %v", got.Time, want.Time)
}

func TestDecodePoint_Garbage(t *testing.T) {
	_, err := DecodePoint([]byte{0xff, 0x00})
	assert.Error(t, err)
}
