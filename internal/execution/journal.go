package execution

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// TradeRecord is one journaled paper trade.
type TradeRecord struct {
	ID       int64     `json:"id"`
	Session  string    `json:"session"`
	TS       time.Time `json:"ts"`
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	Qty      float64   `json:"qty"`
	Price    float64   `json:"price"`
	Fee      float64   `json:"fee"`
	Stop     float64   `json:"stop"`
	Take     float64   `json:"take"`
	StopSrc  string    `json:"stop_src"`
	Strategy string    `json:"strategy"`
	Reason   string    `json:"reason"`
}

// Journal persists every executed paper trade to SQLite, keeping a
// durable audit trail alongside the ledger's cash/equity history.
type Journal struct {
	db *sql.DB
}

// NewJournal opens (or creates) the trade journal database. The parent
// directory of the path is created if missing.
func NewJournal(dbPath string) (*Journal, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			session  TEXT    NOT NULL,
			ts       INTEGER NOT NULL,
			symbol   TEXT    NOT NULL,
			side     TEXT    NOT NULL,
			qty      REAL    NOT NULL,
			price    REAL    NOT NULL,
			fee      REAL    NOT NULL,
			stop     REAL    NOT NULL,
			take     REAL    NOT NULL,
			stop_src TEXT    NOT NULL,
			strategy TEXT    NOT NULL,
			reason   TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trades_session ON trades(session, id);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// Record appends one trade. Journal failures never block execution; the
// caller logs and continues.
func (j *Journal) Record(ctx context.Context, rec TradeRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO trades (session, ts, symbol, side, qty, price, fee, stop, take, stop_src, strategy, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Session, rec.TS.Unix(), rec.Symbol, rec.Side, rec.Qty, rec.Price, rec.Fee,
		rec.Stop, rec.Take, rec.StopSrc, rec.Strategy, rec.Reason)
	if err != nil {
		return fmt.Errorf("journal insert: %w", err)
	}
	return nil
}

// Trades returns all journaled trades for a session, oldest first.
func (j *Journal) Trades(ctx context.Context, session string) ([]TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, session, ts, symbol, side, qty, price, fee, stop, take, stop_src, strategy, reason
		FROM trades
		WHERE session = ?
		ORDER BY id ASC
	`, session)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var rec TradeRecord
		var tsUnix int64
		if err := rows.Scan(&rec.ID, &rec.Session, &tsUnix, &rec.Symbol, &rec.Side, &rec.Qty,
			&rec.Price, &rec.Fee, &rec.Stop, &rec.Take, &rec.StopSrc, &rec.Strategy, &rec.Reason); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		rec.TS = time.Unix(tsUnix, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error { return j.db.Close() }
