// Package model holds the core domain types (tickers, bars, positions,
// cash/equity records) and the port interfaces that decouple the ledger
// and valuation logic from concrete storage and market-data backends.
package model

import "context"

// ── Port Interfaces ──
// These interfaces decouple business logic from concrete implementations
// (SQLite, Redis, WebSocket feed). Each implementation satisfies one or
// more of these interfaces.

// LedgerStore persists per-session account state: the append-only
// cash/equity history and the current position set.
type LedgerStore interface {
	// GetLatestCashEquity returns the most recent record for a session.
	// Returns nil, nil if the session has no history yet.
	GetLatestCashEquity(ctx context.Context, session string) (*CashEquityRecord, error)

	// AppendCashEquity appends one record. Records are never updated in place.
	AppendCashEquity(ctx context.Context, rec CashEquityRecord) error

	// GetPositions returns all persisted positions for a session.
	GetPositions(ctx context.Context, session string) ([]Position, error)

	// UpsertPosition creates or replaces the persisted position for a symbol.
	UpsertPosition(ctx context.Context, session string, pos Position) error

	// RemovePosition deletes the persisted position for a symbol.
	RemovePosition(ctx context.Context, session, symbol string) error

	// ClearAllPositions deletes every persisted position for a session.
	ClearAllPositions(ctx context.Context, session string) error

	// Close releases underlying resources.
	Close() error
}

// MarketData is the narrow read surface of the market-data collaborator.
// Both methods report absence via ok=false / nil rather than errors:
// "no data right now" is an expected state, not a fault.
type MarketData interface {
	// GetTicker returns the latest quote snapshot for a symbol.
	GetTicker(symbol string) (Ticker, bool)

	// GetOHLCV returns up to limit most recent bars for a symbol,
	// oldest first. Returns nil when no history is available.
	GetOHLCV(symbol string, limit int) []Bar
}

// TickerCache shares latest tickers across processes (e.g. Redis) so that
// reporting tools can resolve marks without their own feed connection.
type TickerCache interface {
	// Put stores the latest ticker for its symbol.
	Put(ctx context.Context, t Ticker) error

	// Get returns the cached ticker for a symbol.
	// Returns nil, nil when the symbol has no cached ticker.
	Get(ctx context.Context, symbol string) (*Ticker, error)

	// Close releases underlying resources.
	Close() error
}
