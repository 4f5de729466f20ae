// Package agg builds 1-minute OHLC bars from a stream of quote updates.
// The bars feed the volatility estimator, which only needs a recent
// window of coarse history rather than tick-level granularity.
package agg

import (
	"context"
	"sync"
	"time"

	"tradeledgerv1/internal/model"
)

// barState holds the in-progress bar for one instrument in the current
// minute bucket.
type barState struct {
	bucket int64 // Unix minute-aligned second of this bucket
	bar    model.Bar
}

// Aggregator folds tickers into 1-minute OHLC bars. It runs in a single
// goroutine and emits finalized bars when the minute rolls over.
type Aggregator struct {
	mu     sync.Mutex
	states map[string]*barState

	flushInterval time.Duration

	// OnDropped is called when a late ticker (older bucket) is dropped.
	OnDropped func()
}

// New creates a new Aggregator.
func New() *Aggregator {
	return &Aggregator{
		states:        make(map[string]*barState),
		flushInterval: time.Second, // check frequency for bucket rollover
	}
}

// Run consumes tickers from tickerCh, aggregates them into 1m bars, and
// sends finalized bars to barCh. Blocks until ctx is cancelled or
// tickerCh is closed.
func (a *Aggregator) Run(ctx context.Context, tickerCh <-chan model.Ticker, barCh chan<- model.Bar) {
	flush := time.NewTicker(a.flushInterval)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flushAll(barCh)
			return

		case t, ok := <-tickerCh:
			if !ok {
				a.flushAll(barCh)
				return
			}
			a.process(t, barCh)

		case <-flush.C:
			a.flushOld(barCh)
		}
	}
}

// process folds one ticker into its bar. The bar price is the ticker's
// best available price: mid when both sides are quoted, otherwise last,
// otherwise the generic price field.
func (a *Aggregator) process(t model.Ticker, barCh chan<- model.Bar) {
	price := barPrice(t)
	if price <= 0 {
		return // nothing usable on this update
	}

	ts := t.TS
	if ts.IsZero() {
		ts = time.Now()
	}
	bucket := ts.UTC().Truncate(time.Minute).Unix()

	a.mu.Lock()
	state, exists := a.states[t.Symbol]

	if exists && bucket < state.bucket {
		a.mu.Unlock()
		if a.OnDropped != nil {
			a.OnDropped()
		}
		return
	}

	if exists && bucket > state.bucket {
		// Minute rolled over — finalize the old bar first.
		finished := state.bar
		delete(a.states, t.Symbol)
		exists = false
		a.mu.Unlock()
		send(barCh, finished)
		a.mu.Lock()
	}

	if !exists {
		a.states[t.Symbol] = &barState{
			bucket: bucket,
			bar: model.Bar{
				Symbol: t.Symbol,
				TS:     time.Unix(bucket, 0).UTC(),
				Open:   price,
				High:   price,
				Low:    price,
				Close:  price,
				Volume: 1,
			},
		}
		a.mu.Unlock()
		return
	}

	b := &state.bar
	if price > b.High {
		b.High = price
	}
	if price < b.Low {
		b.Low = price
	}
	b.Close = price
	b.Volume++
	a.mu.Unlock()
}

// flushOld emits bars whose minute bucket is in the past.
func (a *Aggregator) flushOld(barCh chan<- model.Bar) {
	current := time.Now().UTC().Truncate(time.Minute).Unix()

	a.mu.Lock()
	var done []model.Bar
	for sym, state := range a.states {
		if state.bucket < current {
			done = append(done, state.bar)
			delete(a.states, sym)
		}
	}
	a.mu.Unlock()

	for _, b := range done {
		send(barCh, b)
	}
}

// flushAll emits every open bar. Called on shutdown.
func (a *Aggregator) flushAll(barCh chan<- model.Bar) {
	a.mu.Lock()
	var open []model.Bar
	for sym, state := range a.states {
		open = append(open, state.bar)
		delete(a.states, sym)
	}
	a.mu.Unlock()

	for _, b := range open {
		send(barCh, b)
	}
}

func send(barCh chan<- model.Bar, b model.Bar) {
	select {
	case barCh <- b:
	default:
		// bar channel full, drop; the next bar supersedes it
	}
}

// barPrice picks the representative price from a ticker for bar building.
func barPrice(t model.Ticker) float64 {
	if t.Bid > 0 && t.Ask > 0 {
		return (t.Bid + t.Ask) / 2
	}
	if t.Last > 0 {
		return t.Last
	}
	return t.Price
}
