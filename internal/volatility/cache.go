package volatility

import (
	"sync"
	"time"

	"tradeledgerv1/internal/model"
)

// cacheKey identifies one cached estimate. Keying on a structured tuple
// (rather than a formatted string prefix) keeps invalidation exact.
type cacheKey struct {
	Symbol string
	Period int
}

type cacheEntry struct {
	value  float64
	lastTS time.Time // timestamp of the newest bar the estimate was computed from
}

// Estimator computes ATR estimates with per-(symbol, period) memoization.
// The cache is owned by the instance — there is no process-wide state.
// Safe for concurrent use.
type Estimator struct {
	mu    sync.Mutex
	cache map[cacheKey]cacheEntry

	// Optional metrics hooks.
	OnHit  func()
	OnMiss func()
}

// NewEstimator creates an Estimator with an empty cache.
func NewEstimator() *Estimator {
	return &Estimator{cache: make(map[cacheKey]cacheEntry)}
}

// Estimate returns the ATR estimate for symbol over the given bars
// (oldest first). A cached value is reused as long as the newest bar's
// timestamp is unchanged; a new bar recomputes and replaces the entry.
func (e *Estimator) Estimate(symbol string, bars []model.Bar, period int) (float64, bool) {
	if len(bars) == 0 {
		return 0, false
	}
	key := cacheKey{Symbol: symbol, Period: period}
	lastTS := bars[len(bars)-1].TS

	e.mu.Lock()
	if ent, ok := e.cache[key]; ok && ent.lastTS.Equal(lastTS) {
		e.mu.Unlock()
		if e.OnHit != nil {
			e.OnHit()
		}
		return ent.value, true
	}
	e.mu.Unlock()

	if e.OnMiss != nil {
		e.OnMiss()
	}

	v, ok := EstimateBars(bars, period)
	if !ok {
		// Failed estimates are not cached: the next call may have more bars.
		return 0, false
	}

	e.mu.Lock()
	e.cache[key] = cacheEntry{value: v, lastTS: lastTS}
	e.mu.Unlock()
	return v, true
}

// Invalidate drops all cached estimates for a symbol (any period).
func (e *Estimator) Invalidate(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.cache {
		if key.Symbol == symbol {
			delete(e.cache, key)
		}
	}
}

// InvalidateAll drops every cached estimate.
func (e *Estimator) InvalidateAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[cacheKey]cacheEntry)
}
