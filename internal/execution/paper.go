// Package execution turns strategy signals into ledger fills.
//
// The paper trader is the only component that crosses the boundary from
// "signal" to "account mutation": it resolves the entry mark, derives
// stop/take, sizes the position against current equity and deployment,
// applies simulated slippage and fees, and hands the fill to the ledger.
// A signal that cannot be priced, sized, or committed is skipped — never
// partially applied.
package execution

import (
	"context"
	"log"
	"math"
	"time"

	"tradeledgerv1/internal/ledger"
	"tradeledgerv1/internal/markprice"
	"tradeledgerv1/internal/model"
	"tradeledgerv1/internal/risk"
	"tradeledgerv1/internal/strategy"
	"tradeledgerv1/internal/volatility"
)

// PaperConfig configures the paper trader.
type PaperConfig struct {
	// SlippageBps is simulated slippage in basis points, applied against
	// the trade (long entries fill higher, short entries lower).
	SlippageBps float64

	// FeeBps is the taker fee in basis points of filled notional.
	FeeBps float64

	// ATRPeriod is the lookback used for volatility-derived stops.
	// Defaults to 14.
	ATRPeriod int

	// ATRBars is how many bars of history to request for the estimate.
	// Defaults to 3 × ATRPeriod.
	ATRBars int

	// MinNotional discards sized orders below this quote-currency value.
	MinNotional float64
}

func (c *PaperConfig) defaults() {
	if c.ATRPeriod == 0 {
		c.ATRPeriod = 14
	}
	if c.ATRBars == 0 {
		c.ATRBars = 3 * c.ATRPeriod
	}
}

// PaperTrader consumes signals and applies simulated fills to the ledger.
type PaperTrader struct {
	cfg    PaperConfig
	params risk.Params

	ledger  *ledger.Ledger
	marks   *markprice.Source
	md      model.MarketData
	vol     *volatility.Estimator
	journal *Journal // optional

	// Optional metrics hooks.
	OnFill func(symbol string, side risk.Side)
	OnSkip func(symbol, reason string)

	now func() time.Time
}

// NewPaperTrader creates a paper trader. journal may be nil.
func NewPaperTrader(cfg PaperConfig, params risk.Params, led *ledger.Ledger,
	marks *markprice.Source, md model.MarketData, vol *volatility.Estimator, journal *Journal) *PaperTrader {
	cfg.defaults()
	return &PaperTrader{
		cfg:     cfg,
		params:  params,
		ledger:  led,
		marks:   marks,
		md:      md,
		vol:     vol,
		journal: journal,
		now:     time.Now,
	}
}

// Run consumes signals until ctx is cancelled or the channel closes.
func (pt *PaperTrader) Run(ctx context.Context, signals <-chan strategy.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if err := pt.Execute(ctx, sig); err != nil {
				log.Printf("[paper] %s: signal not executed: %v", sig.Symbol, err)
			}
		}
	}
}

// Execute turns one signal into a ledger fill, or skips it with a logged
// reason. Returned errors are persistence failures; pricing and sizing
// rejections are skips, not errors.
func (pt *PaperTrader) Execute(ctx context.Context, sig strategy.Signal) error {
	side := risk.DetermineSide(sig.Score)

	entry, ok := pt.marks.Mark(sig.Symbol)
	if !ok {
		pt.skip(sig.Symbol, "no_mark")
		log.Printf("[paper] %s: no mark available, skipping signal", sig.Symbol)
		return nil
	}

	// Volatility estimate feeds the ATR stop path; absence is fine, the
	// derivation falls through to the percent fallback if enabled.
	var volPtr *float64
	bars := pt.md.GetOHLCV(sig.Symbol, pt.cfg.ATRBars)
	if v, ok := pt.vol.Estimate(sig.Symbol, bars, pt.cfg.ATRPeriod); ok {
		volPtr = &v
	}

	st, err := risk.DeriveStopTake(entry, side, volPtr, sig.Stop, sig.Take, pt.params)
	if err != nil {
		pt.skip(sig.Symbol, "stop_take")
		log.Printf("[paper] %s: stop/take derivation rejected: %v", sig.Symbol, err)
		return nil
	}

	equity := pt.ledger.Equity()
	notional, err := risk.SizePosition(equity, entry, st, pt.deployedNotional(), pt.params)
	if err != nil {
		pt.skip(sig.Symbol, "sizing")
		log.Printf("[paper] %s: sizing rejected: %v", sig.Symbol, err)
		return nil
	}
	if notional < pt.cfg.MinNotional || notional <= 0 {
		pt.skip(sig.Symbol, "below_min_notional")
		return nil
	}

	price := pt.slipped(entry, side)
	qty := notional / price
	fee := notional * pt.cfg.FeeBps / 10000

	if err := pt.ledger.ApplyFill(ctx, sig.Symbol, side, qty, price, fee); err != nil {
		return err
	}

	if pt.OnFill != nil {
		pt.OnFill(sig.Symbol, side)
	}
	log.Printf("[paper] filled %s %s qty=%.8f price=%.8f stop=%.8f take=%.8f src=%s strategy=%s",
		side, sig.Symbol, qty, price, st.Stop, st.Take, st.Source, sig.StrategyName)

	if pt.journal != nil {
		rec := TradeRecord{
			Session:  pt.ledger.Session(),
			TS:       pt.now().UTC(),
			Symbol:   sig.Symbol,
			Side:     side.String(),
			Qty:      qty,
			Price:    price,
			Fee:      fee,
			Stop:     st.Stop,
			Take:     st.Take,
			StopSrc:  string(st.Source),
			Strategy: sig.StrategyName,
			Reason:   sig.Reason,
		}
		if err := pt.journal.Record(ctx, rec); err != nil {
			log.Printf("[paper] journal write failed: %v (fill already committed)", err)
		}
	}
	return nil
}

// deployedNotional sums |qty| × mark over open positions. Positions
// without a current mark are valued at their average cost so deployment
// never under-counts just because a quote is missing.
func (pt *PaperTrader) deployedNotional() float64 {
	var total float64
	for _, pos := range pt.ledger.Positions() {
		px, ok := pt.marks.Mark(pos.Symbol)
		if !ok {
			px = pos.AvgPrice
		}
		total += math.Abs(pos.Qty) * px
	}
	return total
}

// slipped applies slippage against the trade.
func (pt *PaperTrader) slipped(entry float64, side risk.Side) float64 {
	adj := entry * pt.cfg.SlippageBps / 10000
	if side == risk.Long {
		return entry + adj
	}
	return entry - adj
}

func (pt *PaperTrader) skip(symbol, reason string) {
	if pt.OnSkip != nil {
		pt.OnSkip(symbol, reason)
	}
}
