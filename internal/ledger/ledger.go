// Package ledger owns the trading account state: cash, open positions,
// cumulative fees, and realized P&L.
//
// The Ledger is the sole mutator of account state. Fills and lifecycle
// transitions take its lock exclusively; valuation passes and snapshots
// take it shared, so any number of readers can run concurrently while
// fills are serialized. Equity is never stored authoritatively — it is
// always recomputed as cash + Σ(qty × mark) at the instant it is needed.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"tradeledgerv1/internal/model"
	"tradeledgerv1/internal/risk"
)

// State is the ledger lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateBootstrapped
	StateActive
)

func (s State) String() string {
	switch s {
	case StateBootstrapped:
		return "bootstrapped"
	case StateActive:
		return "active"
	default:
		return "uninitialized"
	}
}

// reconcileTolerance is the maximum acceptable drift between a record's
// equity and a recomputation of cash + Σ(qty × mark). Anything beyond it
// is a programmer error and is logged loudly.
const reconcileTolerance = 1.0

var (
	// ErrNotActive is returned when a mutation is attempted before
	// LoadOrInitialize has run.
	ErrNotActive = errors.New("ledger: not active, call LoadOrInitialize first")

	// ErrFillNotCommitted wraps a store failure during fill persistence.
	// The in-memory mutation has been rolled back; the fill must not be
	// treated as applied.
	ErrFillNotCommitted = errors.New("ledger: fill not committed")
)

// MarkSource supplies current mark prices. ok=false means no trustworthy
// price is available for the symbol right now.
type MarkSource interface {
	Mark(symbol string) (float64, bool)
}

// MarkFunc adapts a function to the MarkSource interface.
type MarkFunc func(symbol string) (float64, bool)

func (f MarkFunc) Mark(symbol string) (float64, bool) { return f(symbol) }

// Marks is a fixed symbol → mark price mapping, useful as an explicit
// MarkSource for valuation passes and tests.
type Marks map[string]float64

func (m Marks) Mark(symbol string) (float64, bool) {
	px, ok := m[symbol]
	return px, ok
}

// AuditFunc receives lifecycle audit events ("bootstrap", "reset",
// "resume") with a human-readable detail line. Optional.
type AuditFunc func(event, detail string)

// Config configures a Ledger.
type Config struct {
	Session string

	// CapitalChangeThreshold is the relative capital change beyond which
	// a load becomes a destructive reset instead of a resume. The usual
	// value is 0.20; it is configuration, not a constant the rest of the
	// system may rely on.
	CapitalChangeThreshold float64

	// NegligibleQty is the absolute quantity below which a position is
	// considered closed. Defaults to 1e-8.
	NegligibleQty float64
}

func (c *Config) defaults() {
	if c.CapitalChangeThreshold == 0 {
		c.CapitalChangeThreshold = 0.20
	}
	if c.NegligibleQty == 0 {
		c.NegligibleQty = 1e-8
	}
}

// Ledger tracks cash, positions, fees, and realized P&L for one session.
type Ledger struct {
	mu    sync.RWMutex
	state State
	cfg   Config

	cash      float64
	fees      float64
	realized  float64
	positions map[string]*model.Position

	store model.LedgerStore
	marks MarkSource

	// OnAudit, if set, receives lifecycle audit events.
	OnAudit AuditFunc

	// OnRecord, if set, is called after each successful record append.
	// Used for metrics (equity/cash gauges).
	OnRecord func(rec model.CashEquityRecord)

	now func() time.Time
}

// New creates a Ledger in the uninitialized state.
func New(cfg Config, store model.LedgerStore, marks MarkSource) *Ledger {
	cfg.defaults()
	return &Ledger{
		cfg:       cfg,
		positions: make(map[string]*model.Position),
		store:     store,
		marks:     marks,
		now:       time.Now,
	}
}

// State returns the current lifecycle state.
func (l *Ledger) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

// Session returns the session identifier.
func (l *Ledger) Session() string { return l.cfg.Session }

// Symbols returns the symbols of all open positions.
func (l *Ledger) Symbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		out = append(out, sym)
	}
	return out
}

// Equity returns cash + Σ(qty × mark) using current marks. Positions
// without a mark contribute zero but remain in the ledger.
func (l *Ledger) Equity() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	eq, _ := l.equityLocked()
	return eq
}

// equityLocked computes equity and the count of positions that received a
// valid mark. Caller must hold at least the read lock.
func (l *Ledger) equityLocked() (equity float64, priced int) {
	equity = l.cash
	for sym, pos := range l.positions {
		if px, ok := l.marks.Mark(sym); ok {
			equity += pos.Qty * px
			priced++
		}
	}
	return equity, priced
}

// LoadOrInitialize brings the ledger to the active state.
//
// With no usable persisted state the ledger bootstraps fresh at
// targetCapital. With persisted state, a capital change beyond the
// configured threshold triggers a destructive reset (positions cleared,
// cash = equity = target); otherwise the stored cash, fees, and positions
// are adopted verbatim and equity is recomputed live from current marks —
// the stored equity figure is never trusted.
//
// Store failures during load are absorbed: the ledger falls back to the
// fresh-bootstrap branch so the process can always start.
func (l *Ledger) LoadOrInitialize(ctx context.Context, targetCapital float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.store.GetLatestCashEquity(ctx, l.cfg.Session)
	if err != nil {
		log.Printf("[ledger] load degraded, store unreadable (%v); bootstrapping at %.2f", err, targetCapital)
		return l.bootstrapLocked(ctx, targetCapital, model.EventBootstrap,
			fmt.Sprintf("store unreadable, fresh bootstrap at %.2f", targetCapital))
	}
	if rec == nil {
		log.Printf("[ledger] no prior state for session %s; bootstrapping at %.2f", l.cfg.Session, targetCapital)
		return l.bootstrapLocked(ctx, targetCapital, model.EventBootstrap,
			fmt.Sprintf("fresh session at %.2f", targetCapital))
	}

	base := math.Max(rec.Cash, rec.Equity)
	if base <= 0 {
		log.Printf("[ledger] stored capital non-positive (cash=%.2f equity=%.2f); resetting to %.2f",
			rec.Cash, rec.Equity, targetCapital)
		return l.resetLocked(ctx, targetCapital)
	}

	ratio := math.Abs(targetCapital-base) / base
	if ratio > l.cfg.CapitalChangeThreshold {
		log.Printf("[ledger] capital change %.1f%% exceeds threshold %.1f%%; destructive reset to %.2f",
			ratio*100, l.cfg.CapitalChangeThreshold*100, targetCapital)
		return l.resetLocked(ctx, targetCapital)
	}

	// Resume: adopt stored figures verbatim, rehydrate positions.
	positions, err := l.store.GetPositions(ctx, l.cfg.Session)
	if err != nil {
		log.Printf("[ledger] position rehydration failed (%v); bootstrapping at %.2f", err, targetCapital)
		return l.bootstrapLocked(ctx, targetCapital, model.EventBootstrap,
			fmt.Sprintf("positions unreadable, fresh bootstrap at %.2f", targetCapital))
	}

	l.cash = rec.Cash
	l.fees = rec.Fees
	l.realized = rec.RealizedPnL
	l.positions = make(map[string]*model.Position, len(positions))
	for i := range positions {
		pos := positions[i]
		if math.Abs(pos.Qty) < l.cfg.NegligibleQty {
			continue
		}
		l.positions[pos.Symbol] = &pos
	}
	l.state = StateActive

	// Equity is recomputed live and held in memory only; a resume does
	// not append a record.
	eq, priced := l.equityLocked()
	log.Printf("[ledger] resumed session %s: cash=%.2f fees=%.2f positions=%d equity=%.2f (%d/%d priced)",
		l.cfg.Session, l.cash, l.fees, len(l.positions), eq, priced, len(l.positions))
	l.audit("resume", fmt.Sprintf("cash=%.2f positions=%d equity=%.2f", l.cash, len(l.positions), eq))
	return nil
}

// bootstrapLocked initializes fresh state and persists the first record.
// A persistence failure here is logged but not fatal: the ledger stays
// usable in memory.
func (l *Ledger) bootstrapLocked(ctx context.Context, target float64, event, detail string) error {
	l.cash = target
	l.fees = 0
	l.realized = 0
	l.positions = make(map[string]*model.Position)
	l.state = StateBootstrapped

	rec := model.CashEquityRecord{
		Session: l.cfg.Session,
		TS:      l.now().UTC(),
		Cash:    l.cash,
		Equity:  l.cash,
		Event:   event,
	}
	if err := l.store.AppendCashEquity(ctx, rec); err != nil {
		log.Printf("[ledger] bootstrap record append failed: %v (continuing in memory)", err)
	} else if l.OnRecord != nil {
		l.OnRecord(rec)
	}

	l.state = StateActive
	l.audit(event, detail)
	return nil
}

// resetLocked clears persisted positions and re-bootstraps at the target.
// This is destructive and irreversible; the audit event distinguishes it
// from an ordinary resume.
func (l *Ledger) resetLocked(ctx context.Context, target float64) error {
	if err := l.store.ClearAllPositions(ctx, l.cfg.Session); err != nil {
		log.Printf("[ledger] clear positions during reset failed: %v (continuing)", err)
	}
	return l.bootstrapLocked(ctx, target, model.EventReset,
		fmt.Sprintf("significant capital change, positions cleared, reset to %.2f", target))
}

// ApplyFill applies one trade fill to the account.
//
// Cash moves by ∓(qty × price) − fee depending on side; the position is
// created, averaged up, reduced (crediting realized P&L), or closed; and
// a cash/equity record with equity recomputed from current marks is
// appended. If any persistence step fails, the entire in-memory mutation
// is rolled back and the fill must not be treated as applied.
func (l *Ledger) ApplyFill(ctx context.Context, symbol string, side risk.Side, qty, price, fee float64) error {
	if qty <= 0 || price <= 0 || math.IsNaN(qty) || math.IsNaN(price) {
		return fmt.Errorf("ledger: invalid fill qty=%v price=%v", qty, price)
	}
	if fee < 0 || math.IsNaN(fee) {
		return fmt.Errorf("ledger: invalid fee %v", fee)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateActive {
		return ErrNotActive
	}

	// Snapshot for rollback on persistence failure.
	prevCash, prevFees, prevRealized := l.cash, l.fees, l.realized
	prevPos, hadPos := l.clonePositionLocked(symbol)

	signedQty := qty * side.Sign()
	l.cash -= signedQty * price
	l.cash -= fee
	l.fees += fee

	realized := l.applyToPositionLocked(symbol, signedQty, price)
	l.realized += realized

	rollback := func() {
		l.cash, l.fees, l.realized = prevCash, prevFees, prevRealized
		if hadPos {
			l.positions[symbol] = prevPos
		} else {
			delete(l.positions, symbol)
		}
	}

	// Persist the position change first, then append the record.
	pos, open := l.positions[symbol]
	var perr error
	if open {
		perr = l.store.UpsertPosition(ctx, l.cfg.Session, *pos)
	} else {
		perr = l.store.RemovePosition(ctx, l.cfg.Session, symbol)
	}
	if perr != nil {
		rollback()
		return fmt.Errorf("%w: persist position: %v", ErrFillNotCommitted, perr)
	}

	equity, _ := l.equityLocked()
	rec := model.CashEquityRecord{
		Session:       l.cfg.Session,
		TS:            l.now().UTC(),
		Cash:          l.cash,
		Equity:        equity,
		Fees:          l.fees,
		RealizedPnL:   l.realized,
		UnrealizedPnL: l.unrealizedLocked(),
		Event:         model.EventFill,
	}
	l.reconcileLocked(rec)
	if err := l.store.AppendCashEquity(ctx, rec); err != nil {
		// Best-effort restore of the persisted position before rollback.
		if hadPos {
			if rerr := l.store.UpsertPosition(ctx, l.cfg.Session, *prevPos); rerr != nil {
				log.Printf("[ledger] WARNING: position restore after failed append also failed: %v", rerr)
			}
		} else {
			if rerr := l.store.RemovePosition(ctx, l.cfg.Session, symbol); rerr != nil {
				log.Printf("[ledger] WARNING: position restore after failed append also failed: %v", rerr)
			}
		}
		rollback()
		return fmt.Errorf("%w: append record: %v", ErrFillNotCommitted, err)
	}

	if l.OnRecord != nil {
		l.OnRecord(rec)
	}
	log.Printf("[ledger] fill %s %s qty=%.8f price=%.8f fee=%.4f realized=%.4f cash=%.2f equity=%.2f",
		side, symbol, qty, price, fee, realized, l.cash, equity)
	return nil
}

// applyToPositionLocked merges a signed fill quantity into the position
// map and returns the realized P&L of any reduction. Weighted-average
// cost on same-direction adds; a fill through zero closes the old
// position and opens the remainder at the fill price.
func (l *Ledger) applyToPositionLocked(symbol string, signedQty, price float64) float64 {
	pos, ok := l.positions[symbol]
	if !ok || math.Abs(pos.Qty) < l.cfg.NegligibleQty {
		l.positions[symbol] = &model.Position{Symbol: symbol, Qty: signedQty, AvgPrice: price}
		return 0
	}

	sameDirection := (pos.Qty > 0) == (signedQty > 0)
	if sameDirection {
		totalCost := pos.AvgPrice*pos.Qty + price*signedQty
		pos.Qty += signedQty
		pos.AvgPrice = totalCost / pos.Qty
		return 0
	}

	// Reduction (possibly through zero).
	closeQty := math.Min(math.Abs(signedQty), math.Abs(pos.Qty))
	direction := 1.0
	if pos.Qty < 0 {
		direction = -1
	}
	realized := (price - pos.AvgPrice) * closeQty * direction

	remainder := pos.Qty + signedQty
	switch {
	case math.Abs(remainder) < l.cfg.NegligibleQty:
		delete(l.positions, symbol)
	case (remainder > 0) == (pos.Qty > 0):
		// Partial reduction: average cost is unchanged.
		pos.Qty = remainder
	default:
		// Flip: remainder opens a new position at the fill price.
		l.positions[symbol] = &model.Position{Symbol: symbol, Qty: remainder, AvgPrice: price}
	}
	return realized
}

// clonePositionLocked returns a deep copy of the position for rollback.
func (l *Ledger) clonePositionLocked(symbol string) (*model.Position, bool) {
	pos, ok := l.positions[symbol]
	if !ok {
		return nil, false
	}
	cp := *pos
	return &cp, true
}

// unrealizedLocked sums unrealized P&L over positions that have a mark.
func (l *Ledger) unrealizedLocked() float64 {
	var total float64
	for sym, pos := range l.positions {
		if px, ok := l.marks.Mark(sym); ok {
			total += pos.UnrealizedPnL(px)
		}
	}
	return total
}

// reconcileLocked verifies the equity invariant on an outgoing record.
// A violation is a programmer error: it is logged loudly rather than
// silently accepted.
func (l *Ledger) reconcileLocked(rec model.CashEquityRecord) {
	recomputed, _ := l.equityLocked()
	if math.Abs(recomputed-rec.Equity) > reconcileTolerance {
		log.Printf("[ledger] INVARIANT VIOLATION: record equity %.6f vs recomputed %.6f (cash=%.6f)",
			rec.Equity, recomputed, l.cash)
	}
}

// Valuation is the result of a mark-to-market pass.
type Valuation struct {
	TS            time.Time `json:"ts"`
	Equity        float64   `json:"equity"`
	Cash          float64   `json:"cash"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Priced        int       `json:"priced"`    // positions with a valid mark
	Positions     int       `json:"positions"` // open positions
}

// MarkToMarket revalues the account against the supplied marks without
// mutating cash, positions, or fees. It appends a "mark" record; an
// append failure is logged and the valuation is still returned, since no
// account state changed.
//
// The read lock is held across the append. Fills append their record
// under the exclusive lock, so releasing before the append would let a
// fill commit in between and leave the stale mark record as the newest
// row — the row a restart resumes from.
func (l *Ledger) MarkToMarket(ctx context.Context, marks Marks) (Valuation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state != StateActive {
		return Valuation{}, ErrNotActive
	}

	val := Valuation{TS: l.now().UTC(), Cash: l.cash, Equity: l.cash, Positions: len(l.positions)}
	for sym, pos := range l.positions {
		px, ok := marks.Mark(sym)
		if !ok {
			continue
		}
		val.Equity += pos.Qty * px
		val.UnrealizedPnL += pos.UnrealizedPnL(px)
		val.Priced++
	}
	rec := model.CashEquityRecord{
		Session:       l.cfg.Session,
		TS:            val.TS,
		Cash:          l.cash,
		Equity:        val.Equity,
		Fees:          l.fees,
		RealizedPnL:   l.realized,
		UnrealizedPnL: val.UnrealizedPnL,
		Event:         model.EventMark,
	}

	if err := l.store.AppendCashEquity(ctx, rec); err != nil {
		log.Printf("[ledger] mark-to-market record append failed: %v", err)
		return val, nil
	}
	if l.OnRecord != nil {
		l.OnRecord(rec)
	}
	return val, nil
}

func (l *Ledger) audit(event, detail string) {
	if l.OnAudit != nil {
		l.OnAudit(event, detail)
	}
}
