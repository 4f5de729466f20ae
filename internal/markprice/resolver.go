// Package markprice resolves a trustworthy current valuation price for an
// instrument from a noisy quote snapshot.
//
// Resolution walks an ordered fallback chain (bid/ask mid → last trade →
// generic price) and validates the winning candidate before accepting it.
// A resolution that fails validation is "no mark available" — the resolver
// never raises and never substitutes a stale or zero price.
package markprice

import (
	"context"
	"log"
	"math"

	"tradeledgerv1/internal/model"
)

// Tier identifies which fallback step produced a mark.
type Tier int

const (
	TierNone  Tier = iota // no mark available
	TierMid               // mid of bid/ask
	TierLast              // last trade price
	TierPrice             // generic price field
)

func (t Tier) String() string {
	switch t {
	case TierMid:
		return "mid"
	case TierLast:
		return "last"
	case TierPrice:
		return "price"
	default:
		return "none"
	}
}

// Resolver produces validated mark prices from ticker snapshots.
// It is a pure function of its inputs and safe for concurrent use.
type Resolver struct {
	validator *Validator

	// OnResolve, if set, is called with the tier that fired (including
	// TierNone on failure). Used for metrics.
	OnResolve func(symbol string, tier Tier)
}

// NewResolver creates a Resolver with the given validation rules.
// A nil validator accepts any finite positive price.
func NewResolver(v *Validator) *Resolver {
	if v == nil {
		v = NewValidator(nil)
	}
	return &Resolver{validator: v}
}

// Resolve returns the mark price for symbol from the given ticker snapshot.
// ok=false means no trustworthy price could be resolved; callers must treat
// that as "no mark" and never fall back to zero or a previous value.
func (r *Resolver) Resolve(symbol string, t model.Ticker) (price float64, tier Tier, ok bool) {
	price, tier = r.candidate(t)
	if tier == TierNone {
		r.emit(symbol, TierNone)
		return 0, TierNone, false
	}

	if !r.validator.Valid(symbol, price) {
		log.Printf("[markprice] %s: candidate %.8f from tier=%s rejected by validation", symbol, price, tier)
		r.emit(symbol, TierNone)
		return 0, TierNone, false
	}

	r.emit(symbol, tier)
	return price, tier, true
}

// candidate selects the first satisfied fallback step.
func (r *Resolver) candidate(t model.Ticker) (float64, Tier) {
	if positive(t.Bid) && positive(t.Ask) {
		return (t.Bid + t.Ask) / 2, TierMid
	}
	if positive(t.Last) {
		return t.Last, TierLast
	}
	if positive(t.Price) {
		return t.Price, TierPrice
	}
	return 0, TierNone
}

func (r *Resolver) emit(symbol string, tier Tier) {
	if r.OnResolve != nil {
		r.OnResolve(symbol, tier)
	}
}

// positive reports whether v is present and strictly positive.
// Zero means "field absent" on the wire, so it is excluded here.
func positive(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Source composes a market-data collaborator with a Resolver so callers
// can fetch current marks by symbol.
type Source struct {
	md  model.MarketData
	res *Resolver
}

// NewSource creates a mark source over the given market-data feed.
func NewSource(md model.MarketData, res *Resolver) *Source {
	return &Source{md: md, res: res}
}

// Mark resolves the current mark for one symbol.
func (s *Source) Mark(symbol string) (float64, bool) {
	t, ok := s.md.GetTicker(symbol)
	if !ok {
		return 0, false
	}
	px, _, ok := s.res.Resolve(symbol, t)
	return px, ok
}

// Marks resolves current marks for all given symbols. Symbols that cannot
// be priced are simply absent from the returned map.
func (s *Source) Marks(ctx context.Context, symbols []string) map[string]float64 {
	marks := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		select {
		case <-ctx.Done():
			return marks
		default:
		}
		if px, ok := s.Mark(sym); ok {
			marks[sym] = px
		}
	}
	return marks
}
