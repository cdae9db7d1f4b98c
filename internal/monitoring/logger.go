// Package monitoring holds the diagnostic logger shared by the capture, stream
// and telemetry loops.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger so tests can capture or mute pipeline output.
var Logf func(format string, v ...any) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}

// Every returns a logger that forwards only the first and then every nth call
// to Logf. Per-frame loops use it so a persistent fault does not flood the log.
func Every(n int) func(format string, v ...any) {
	if n < 1 {
		n = 1
	}
	var calls atomic.Uint64
	return func(format string, v ...any) {
		c := calls.Add(1)
		if (c-1)%uint64(n) == 0 {
			Logf(format, v...)
		}
	}
}
