// Package sqlite persists per-session ledger state: the append-only
// cash/equity history and the current position set.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"tradeledgerv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite ledger store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/ledger.db"
}

// Store implements model.LedgerStore on a single SQLite database with WAL
// mode. The ledger is a single writer, so the pool is kept at one
// connection.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens (or creates) the ledger database and initializes the schema.
// The parent directory of the database path is created if missing.
func New(cfg Config) (*Store, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened ledger database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cash_equity (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			session        TEXT    NOT NULL,
			ts             INTEGER NOT NULL,
			cash           REAL    NOT NULL,
			equity         REAL    NOT NULL,
			fees           REAL    NOT NULL DEFAULT 0,
			realized_pnl   REAL    NOT NULL DEFAULT 0,
			unrealized_pnl REAL    NOT NULL DEFAULT 0,
			event          TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cash_equity_session ON cash_equity(session, id);

		CREATE TABLE IF NOT EXISTS positions (
			session   TEXT NOT NULL,
			symbol    TEXT NOT NULL,
			qty       REAL NOT NULL,
			avg_price REAL NOT NULL,
			PRIMARY KEY (session, symbol)
		);
	`)
	return err
}

// GetLatestCashEquity returns the most recently appended record for a
// session, or nil, nil when the session has no history.
func (s *Store) GetLatestCashEquity(ctx context.Context, session string) (*model.CashEquityRecord, error) {
	var rec model.CashEquityRecord
	var tsUnix int64
	err := s.db.QueryRowContext(ctx, `
		SELECT session, ts, cash, equity, fees, realized_pnl, unrealized_pnl, event
		FROM cash_equity
		WHERE session = ?
		ORDER BY id DESC
		LIMIT 1
	`, session).Scan(&rec.Session, &tsUnix, &rec.Cash, &rec.Equity, &rec.Fees,
		&rec.RealizedPnL, &rec.UnrealizedPnL, &rec.Event)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite latest cash_equity: %w", err)
	}
	rec.TS = time.Unix(tsUnix, 0).UTC()
	return &rec, nil
}

// AppendCashEquity appends one record. Rows are never updated in place.
func (s *Store) AppendCashEquity(ctx context.Context, rec model.CashEquityRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_equity (session, ts, cash, equity, fees, realized_pnl, unrealized_pnl, event)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Session, rec.TS.Unix(), rec.Cash, rec.Equity, rec.Fees,
		rec.RealizedPnL, rec.UnrealizedPnL, rec.Event)
	if err != nil {
		return fmt.Errorf("sqlite append cash_equity: %w", err)
	}
	return nil
}

// GetPositions returns all persisted positions for a session.
func (s *Store) GetPositions(ctx context.Context, session string) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, qty, avg_price FROM positions WHERE session = ?
	`, session)
	if err != nil {
		return nil, fmt.Errorf("sqlite query positions: %w", err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		if err := rows.Scan(&p.Symbol, &p.Qty, &p.AvgPrice); err != nil {
			return nil, fmt.Errorf("sqlite scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// UpsertPosition creates or replaces the persisted position for a symbol.
func (s *Store) UpsertPosition(ctx context.Context, session string, pos model.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO positions (session, symbol, qty, avg_price)
		VALUES (?, ?, ?, ?)
	`, session, pos.Symbol, pos.Qty, pos.AvgPrice)
	if err != nil {
		return fmt.Errorf("sqlite upsert position: %w", err)
	}
	return nil
}

// RemovePosition deletes the persisted position for a symbol.
func (s *Store) RemovePosition(ctx context.Context, session, symbol string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE session = ? AND symbol = ?`, session, symbol)
	if err != nil {
		return fmt.Errorf("sqlite remove position: %w", err)
	}
	return nil
}

// ClearAllPositions deletes every persisted position for a session.
// Used by the destructive capital-reset path.
func (s *Store) ClearAllPositions(ctx context.Context, session string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE session = ?`, session)
	if err != nil {
		return fmt.Errorf("sqlite clear positions: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Printf("[sqlite] cleared %d position(s) for session %s", n, session)
	}
	return nil
}

// History returns the full cash/equity history for a session, oldest
// first. Used by reporting tools.
func (s *Store) History(ctx context.Context, session string) ([]model.CashEquityRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session, ts, cash, equity, fees, realized_pnl, unrealized_pnl, event
		FROM cash_equity
		WHERE session = ?
		ORDER BY id ASC
	`, session)
	if err != nil {
		return nil, fmt.Errorf("sqlite query history: %w", err)
	}
	defer rows.Close()

	var records []model.CashEquityRecord
	for rows.Next() {
		var rec model.CashEquityRecord
		var tsUnix int64
		if err := rows.Scan(&rec.Session, &tsUnix, &rec.Cash, &rec.Equity, &rec.Fees,
			&rec.RealizedPnL, &rec.UnrealizedPnL, &rec.Event); err != nil {
			return nil, fmt.Errorf("sqlite scan history: %w", err)
		}
		rec.TS = time.Unix(tsUnix, 0).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
