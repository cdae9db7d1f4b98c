// Package measurement holds the most recent successful water level reading,
// shared between the capture loop and its readers.
package measurement

import (
	"sync/atomic"
	"time"
)

// Reading is one successful, calibrated detection.
type Reading struct {
	Level float64   `json:"level"`
	Row   int       `json:"row"`
	At    time.Time `json:"at"`
}

// Cell stores the latest Reading. It has a single writer and any number of
// readers; a read never observes a partially written value. The zero Cell is
// unset and ready to use.
type Cell struct {
	latest  atomic.Pointer[Reading]
	updates atomic.Uint64
}

// Store publishes r as the latest reading.
func (c *Cell) Store(r Reading) {
	c.latest.Store(&r)
	c.updates.Add(1)
}

// Load returns the latest reading, or false if nothing has been stored yet.
func (c *Cell) Load() (Reading, bool) {
	r := c.latest.Load()
	if r == nil {
		return Reading{}, false
	}
	return *r, true
}

// Updates counts Store calls; readers use it to detect a new value cheaply.
func (c *Cell) Updates() uint64 {
	return c.updates.Load()
}
