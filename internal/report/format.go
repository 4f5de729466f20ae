// Package report renders read-only text summaries of a portfolio snapshot
// for logs, terminals, and notification payloads.
package report

import (
	"fmt"
	"strings"

	"tradeledgerv1/internal/ledger"
)

// FormatPositionSummary renders one line per open position plus a totals
// footer. Positions without a mark are shown explicitly as unpriced
// rather than silently valued at zero.
func FormatPositionSummary(v ledger.View) string {
	var b strings.Builder

	fmt.Fprintf(&b, "POSITIONS — session %s @ %s\n", v.Session, v.TS.Format("2006-01-02 15:04:05 MST"))
	if len(v.Positions) == 0 {
		b.WriteString("  (no open positions)\n")
		return b.String()
	}

	fmt.Fprintf(&b, "  %-12s %14s %14s %14s %14s\n", "SYMBOL", "QTY", "AVG PRICE", "MARK", "UNREAL P&L")
	for _, p := range v.Positions {
		if p.HasMark {
			fmt.Fprintf(&b, "  %-12s %14.8f %14.4f %14.4f %+14.4f\n",
				p.Symbol, p.Qty, p.AvgPrice, p.Mark, p.UnrealizedPnL)
		} else {
			fmt.Fprintf(&b, "  %-12s %14.8f %14.4f %14s %14s\n",
				p.Symbol, p.Qty, p.AvgPrice, "no mark", "—")
		}
	}
	fmt.Fprintf(&b, "  %d position(s), %d priced | long %.2f short %.2f\n",
		len(v.Positions), v.Priced, v.LongNotional, v.ShortNotional)
	return b.String()
}

// FormatEquitySummary renders the account-level figures.
func FormatEquitySummary(v ledger.View) string {
	var b strings.Builder

	fmt.Fprintf(&b, "EQUITY — session %s @ %s\n", v.Session, v.TS.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "  cash:           %14.2f\n", v.Cash)
	fmt.Fprintf(&b, "  equity:         %14.2f\n", v.Equity)
	fmt.Fprintf(&b, "  unrealized P&L: %+14.2f\n", v.UnrealizedPnL)
	fmt.Fprintf(&b, "  realized P&L:   %+14.2f\n", v.RealizedPnL)
	fmt.Fprintf(&b, "  fees paid:      %14.2f\n", v.Fees)
	return b.String()
}
