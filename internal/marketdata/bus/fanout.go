// Package bus broadcasts tickers from a single input channel to multiple
// consumers (latest-quote store, bar aggregator, shared cache writer).
package bus

import (
	"context"
	"log"
	"sync"

	"tradeledgerv1/internal/model"
)

// FanOut broadcasts tickers to N output channels. If an output channel is
// full, the ticker is dropped for that consumer so a slow consumer cannot
// block the pipeline — the next quote supersedes it anyway.
type FanOut struct {
	mu      sync.RWMutex
	outputs []chan model.Ticker
	bufSize int

	// OnDrop is called when a ticker is dropped for a subscriber.
	// subscriberIdx is the 0-based index of the slow consumer.
	OnDrop func(subscriberIdx int)
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{bufSize: outputBufferSize}
}

// Subscribe creates and returns a new output channel. All subscriptions
// must happen before Run starts consuming.
func (f *FanOut) Subscribe() <-chan model.Ticker {
	ch := make(chan model.Ticker, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Ticker) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for i, ch := range f.outputs {
				select {
				case ch <- t:
				default:
					if f.OnDrop != nil {
						f.OnDrop(i)
					} else {
						log.Printf("[bus] output channel %d full, dropping ticker %s", i, t.Symbol)
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}
