package main

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/banshee-data/waterlevel/internal/capture"
)

type runner interface {
	Run(ctx context.Context) error
}

type monitor interface {
	Monitor(ctx context.Context) error
}

// workers are the long-running pipeline routines.
type workers struct {
	capture   runner
	publisher monitor
	emitter   runner
}

// start launches capture, the stream pump and telemetry, each tracked by wg.
// Only ctx ends them all: when capture stops on its own, the pump drains
// what is buffered and the emitter keeps writing the last level. The
// returned channel receives capture's error once it returns.
func (w workers) start(ctx context.Context, wg *sync.WaitGroup) <-chan error {
	captureDone := make(chan error, 1)

	// capture routine: the only writer of the cell and the frame buffer
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := w.capture.Run(ctx)
		switch {
		case errors.Is(err, context.Canceled):
		case errors.Is(err, capture.ErrSourceExhausted):
			log.Printf("capture stopped: %v", err)
		default:
			log.Printf("capture failed: %v", err)
		}
		log.Print("capture routine terminated")
		captureDone <- err
	}()

	// publisher routine: encodes frames for the MJPEG viewers
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := w.publisher.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("publisher error: %v", err)
		}
		log.Print("publisher routine terminated")
	}()

	// telemetry routine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := w.emitter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("telemetry error: %v", err)
		}
		log.Print("telemetry routine terminated")
	}()

	return captureDone
}
