package telemetry

import (
	"context"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"
)

// pointEncoding keeps nanosecond timestamps; the default CBOR time encoding
// is whole Unix seconds.
var pointEncoding = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// ZMQSink publishes CBOR-encoded points on a ZeroMQ PUB socket so other
// processes on the site can follow the level without polling the API.
type ZMQSink struct {
	mu   sync.Mutex
	sock *zmq4.Socket
}

// NewZMQSink binds a PUB socket at endpoint, e.g. "tcp://*:5557".
func NewZMQSink(endpoint string) (*ZMQSink, error) {
	sock, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, err
	}
	if err := sock.Bind(endpoint); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("zmq: bind %s: %w", endpoint, err)
	}
	return &ZMQSink{sock: sock}, nil
}

// WritePoint never blocks: PUB sockets drop messages nobody subscribes to.
func (s *ZMQSink) WritePoint(_ context.Context, p Point) error {
	msg, err := pointEncoding.Marshal(p)
	if err != nil {
		return fmt.Errorf("zmq: encode point: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.sock.SendBytes(msg, zmq4.DONTWAIT); err != nil {
		return fmt.Errorf("zmq: send: %w", err)
	}
	return nil
}

func (s *ZMQSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sock.Close()
}

// DecodePoint parses a message published by ZMQSink.
func DecodePoint(msg []byte) (Point, error) {
	var p Point
	if err := cbor.Unmarshal(msg, &p); err != nil {
		return Point{}, err
	}
	return p, nil
}
