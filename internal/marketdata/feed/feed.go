// Package feed maintains the in-process view of upstream market data: the
// latest ticker per symbol and a sliding window of 1-minute bars per
// symbol. It implements the model.MarketData port consumed by mark
// resolution and volatility estimation.
package feed

import (
	"context"
	"sync"

	"tradeledgerv1/internal/model"
	"tradeledgerv1/internal/ringbuf"
)

// defaultBarCapacity holds ~4 hours of 1-minute bars, comfortably more
// than any volatility lookback in use.
const defaultBarCapacity = 256

// Feed is the in-memory market-data state. One writer per channel
// (ticker updates, finalized bars); GetTicker/GetOHLCV are safe from any
// number of concurrent readers.
type Feed struct {
	mu      sync.RWMutex
	tickers map[string]model.Ticker
	bars    map[string]*ringbuf.Ring

	barCap int
}

// New creates an empty Feed.
func New() *Feed {
	return &Feed{
		tickers: make(map[string]model.Ticker),
		bars:    make(map[string]*ringbuf.Ring),
		barCap:  defaultBarCapacity,
	}
}

// GetTicker returns the latest quote snapshot for a symbol.
func (f *Feed) GetTicker(symbol string) (model.Ticker, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tickers[symbol]
	return t, ok
}

// GetOHLCV returns up to limit most recent bars for a symbol, oldest
// first. Returns nil when no history is available.
func (f *Feed) GetOHLCV(symbol string, limit int) []model.Bar {
	f.mu.RLock()
	ring, ok := f.bars[symbol]
	f.mu.RUnlock()
	if !ok {
		return nil
	}
	return ring.Last(limit)
}

// ApplyTicker records the latest quote for a symbol.
func (f *Feed) ApplyTicker(t model.Ticker) {
	f.mu.Lock()
	f.tickers[t.Symbol] = t
	f.mu.Unlock()
}

// ApplyBar appends a finalized bar to the symbol's history window.
func (f *Feed) ApplyBar(b model.Bar) {
	f.mu.Lock()
	ring, ok := f.bars[b.Symbol]
	if !ok {
		ring = ringbuf.New(f.barCap)
		f.bars[b.Symbol] = ring
	}
	f.mu.Unlock()
	ring.Push(b)
}

// RunTickers consumes ticker updates until ctx is cancelled or the
// channel is closed.
func (f *Feed) RunTickers(ctx context.Context, tickerCh <-chan model.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-tickerCh:
			if !ok {
				return
			}
			f.ApplyTicker(t)
		}
	}
}

// RunBars consumes finalized bars until ctx is cancelled or the channel
// is closed.
func (f *Feed) RunBars(ctx context.Context, barCh <-chan model.Bar) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-barCh:
			if !ok {
				return
			}
			f.ApplyBar(b)
		}
	}
}
