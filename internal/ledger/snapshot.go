package ledger

import (
	"time"

	"tradeledgerv1/internal/model"
)

// PositionView is one position inside a snapshot, priced at the mark that
// was available when the snapshot was taken.
type PositionView struct {
	Symbol        string  `json:"symbol"`
	Qty           float64 `json:"qty"`
	AvgPrice      float64 `json:"avg_price"`
	Mark          float64 `json:"mark,omitempty"`
	HasMark       bool    `json:"has_mark"`
	Notional      float64 `json:"notional"` // zero when no mark is available
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// View is an immutable, timestamped read-model of the account. It is
// derived on demand from the ledger plus a set of marks and has no
// lifecycle of its own.
type View struct {
	Session       string         `json:"session"`
	TS            time.Time      `json:"ts"`
	Cash          float64        `json:"cash"`
	Equity        float64        `json:"equity"`
	Fees          float64        `json:"fees"`
	RealizedPnL   float64        `json:"realized_pnl"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	LongNotional  float64        `json:"long_notional"`
	ShortNotional float64        `json:"short_notional"`
	Positions     []PositionView `json:"positions"`
	Priced        int            `json:"priced"` // positions with a valid mark
}

// Snapshot derives a read-only view of the account against the supplied
// marks. Negligible-quantity positions are filtered out; positions
// without a mark appear with HasMark=false and contribute zero notional,
// but are never dropped.
func (l *Ledger) Snapshot(marks Marks, ts time.Time) View {
	l.mu.RLock()
	defer l.mu.RUnlock()

	v := View{
		Session:     l.cfg.Session,
		TS:          ts.UTC(),
		Cash:        l.cash,
		Equity:      l.cash,
		Fees:        l.fees,
		RealizedPnL: l.realized,
		Positions:   make([]PositionView, 0, len(l.positions)),
	}

	for sym, pos := range l.positions {
		if abs(pos.Qty) < l.cfg.NegligibleQty {
			continue
		}
		pv := PositionView{Symbol: sym, Qty: pos.Qty, AvgPrice: pos.AvgPrice}
		if px, ok := marks.Mark(sym); ok {
			pv.Mark = px
			pv.HasMark = true
			pv.Notional = pos.Notional(px)
			pv.UnrealizedPnL = pos.UnrealizedPnL(px)

			v.Equity += pv.Notional
			v.UnrealizedPnL += pv.UnrealizedPnL
			if pv.Notional >= 0 {
				v.LongNotional += pv.Notional
			} else {
				v.ShortNotional += -pv.Notional
			}
			v.Priced++
		}
		v.Positions = append(v.Positions, pv)
	}
	return v
}

// Positions returns copies of all open positions. External readers never
// receive a mutable reference into the ledger.
func (l *Ledger) Positions() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		if abs(pos.Qty) < l.cfg.NegligibleQty {
			continue
		}
		out = append(out, *pos)
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
