// Package ringbuf provides a fixed-capacity overwrite ring holding the
// most recent OHLC bars for one instrument. Once full, each push evicts
// the oldest bar, so the buffer always holds a sliding window of history
// for volatility estimation.
package ringbuf

import (
	"sync"

	"tradeledgerv1/internal/model"
)

// Ring is a bounded bar-history window. One writer (the aggregator) and
// any number of concurrent readers.
type Ring struct {
	mu    sync.RWMutex
	buf   []model.Bar
	mask  uint64
	head  uint64 // total bars ever pushed
	count int
}

// New creates a ring. capacity is rounded up to the next power of two for
// fast bitwise modulo. Minimum capacity is 2.
func New(capacity int) *Ring {
	c := nextPow2(capacity)
	if c < 2 {
		c = 2
	}
	return &Ring{
		buf:  make([]model.Bar, c),
		mask: uint64(c - 1),
	}
}

// Push appends a bar, evicting the oldest once the ring is full.
func (r *Ring) Push(b model.Bar) {
	r.mu.Lock()
	r.buf[r.head&r.mask] = b
	r.head++
	if r.count < len(r.buf) {
		r.count++
	}
	r.mu.Unlock()
}

// Last returns up to n most recent bars, oldest first. Returns nil when
// the ring is empty.
func (r *Ring) Last(n int) []model.Bar {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]model.Bar, n)
	start := r.head - uint64(n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+uint64(i))&r.mask]
	}
	return out
}

// Len returns the number of bars currently held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
