package model

import "time"

// Cash/equity record event kinds. The event tag is the audit trail that
// distinguishes a destructive capital reset from an ordinary resume.
const (
	EventBootstrap = "bootstrap" // fresh session, no prior state
	EventReset     = "reset"     // significant capital change, positions cleared
	EventFill      = "fill"      // equity-affecting trade fill
	EventMark      = "mark"      // mark-to-market valuation pass
)

// CashEquityRecord is one append-only row of the per-session account
// history. Records are never mutated in place; the "current" state of a
// session is its most recently appended record.
type CashEquityRecord struct {
	Session       string    `json:"session"`
	TS            time.Time `json:"ts"`
	Cash          float64   `json:"cash"`
	Equity        float64   `json:"equity"`
	Fees          float64   `json:"fees"`
	RealizedPnL   float64   `json:"realized_pnl"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Event         string    `json:"event"`
}
