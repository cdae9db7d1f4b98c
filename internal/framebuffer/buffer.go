// Package framebuffer implements the bounded drop-oldest queue between the
// capture loop and the stream publisher.
package framebuffer

import (
	"errors"
	"io"
	"sync"
)

var (
	// ErrEmpty means nothing is queued right now; more may arrive.
	ErrEmpty = errors.New("framebuffer: empty")
	// ErrClosed means the producer has finished and the queue is drained.
	ErrClosed = errors.New("framebuffer: closed")
)

// DefaultCapacity is the number of frames held before the oldest is dropped.
const DefaultCapacity = 10

// Stats counts buffer traffic since creation.
type Stats struct {
	Capacity int    `json:"capacity"`
	Length   int    `json:"length"`
	Pushed   uint64 `json:"pushed"`
	Dropped  uint64 `json:"dropped"`
	Popped   uint64 `json:"popped"`
	Closed   bool   `json:"closed"`
}

// Buffer is a fixed-capacity FIFO. Push never blocks: when the buffer is
// full the oldest item is evicted and closed. Pop never blocks either.
type Buffer[T io.Closer] struct {
	mu     sync.Mutex
	items  []T // ring storage, len == capacity
	head   int
	size   int
	closed bool

	pushed, dropped, popped uint64

	ready chan struct{}
}

// New creates a buffer holding at most capacity items. A non-positive
// capacity selects DefaultCapacity.
func New[T io.Closer](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer[T]{
		items: make([]T, capacity),
		ready: make(chan struct{}, 1),
	}
}

// Push appends item, evicting the oldest entry first when full. Ownership of
// item passes to the buffer. After Close the item is closed and discarded.
func (b *Buffer[T]) Push(item T) {
	var evicted T
	var drop bool

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		item.Close()
		return
	}
	if b.size == len(b.items) {
		evicted, drop = b.items[b.head], true
		var zero T
		b.items[b.head] = zero
		b.head = (b.head + 1) % len(b.items)
		b.size--
		b.dropped++
	}
	b.items[(b.head+b.size)%len(b.items)] = item
	b.size++
	b.pushed++
	b.mu.Unlock()

	if drop {
		evicted.Close()
	}
	b.notify()
}

// Pop removes and returns the oldest item. It returns ErrEmpty when nothing
// is queued and ErrClosed once the buffer is closed and drained. Ownership of
// the returned item passes to the caller.
func (b *Buffer[T]) Pop() (T, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if b.size == 0 {
		if b.closed {
			return zero, ErrClosed
		}
		return zero, ErrEmpty
	}
	item := b.items[b.head]
	b.items[b.head] = zero
	b.head = (b.head + 1) % len(b.items)
	b.size--
	b.popped++
	return item, nil
}

// Ready is signalled after every Push and on Close. It holds at most one
// pending signal, so a consumer must drain with Pop until ErrEmpty.
func (b *Buffer[T]) Ready() <-chan struct{} {
	return b.ready
}

// Close marks the producer side finished. Queued items remain poppable.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.notify()
}

// Drain closes the buffer and releases every queued item.
func (b *Buffer[T]) Drain() int {
	b.Close()
	n := 0
	for {
		item, err := b.Pop()
		if err != nil {
			return n
		}
		item.Close()
		n++
	}
}

func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *Buffer[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Capacity: len(b.items),
		Length:   b.size,
		Pushed:   b.pushed,
		Dropped:  b.dropped,
		Popped:   b.popped,
		Closed:   b.closed,
	}
}

func (b *Buffer[T]) notify() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}
