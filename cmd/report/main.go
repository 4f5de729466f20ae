// cmd/report — one-shot portfolio report.
//
// Reads the persisted ledger state for a session, resolves current marks
// from the shared Redis ticker cache, and prints equity and position
// summaries. Resuming the stored state never writes: a report run leaves
// the ledger history untouched.
//
// Config (env vars):
//
//	SESSION_ID      — session to report on (default: current UTC day)
//	SQLITE_PATH     — ledger database (default: "data/ledger.db")
//	REDIS_ADDR      — ticker cache (default: "localhost:6379")
//	REDIS_PASSWORD
//	PRICE_BANDS     — same format as ledgerd
//	HISTORY_TAIL    — how many recent ledger events to print (default: 10)
package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"time"

	"tradeledgerv1/config"
	"tradeledgerv1/internal/ledger"
	"tradeledgerv1/internal/markprice"
	"tradeledgerv1/internal/model"
	"tradeledgerv1/internal/report"
	"tradeledgerv1/internal/session"
	redisstore "tradeledgerv1/internal/store/redis"
	sqlitestore "tradeledgerv1/internal/store/sqlite"
)

func main() {
	log.SetFlags(0)

	cfg := config.Load()
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = session.Current()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("report: open ledger database: %v", err)
	}
	defer store.Close()

	latest, err := store.GetLatestCashEquity(ctx, sessionID)
	if err != nil {
		log.Fatalf("report: read ledger state: %v", err)
	}
	if latest == nil {
		fmt.Printf("no ledger history for session %s\n", sessionID)
		os.Exit(0)
	}

	// Marks come from the shared ticker cache; without Redis the report
	// still runs, positions just show as unpriced.
	marks := resolveMarks(ctx, cfg, sessionID, store)

	// Resuming at the stored capital base keeps the load on the resume
	// path, which adopts state verbatim and appends nothing. The store is
	// wrapped read-only anyway, so even a degraded load cannot write.
	base := math.Max(latest.Cash, latest.Equity)
	led := ledger.New(ledger.Config{
		Session:                sessionID,
		CapitalChangeThreshold: cfg.CapitalChangeThreshold,
		NegligibleQty:          cfg.NegligibleQty,
	}, readonlyStore{store}, marks)
	if err := led.LoadOrInitialize(ctx, base); err != nil {
		log.Fatalf("report: load ledger: %v", err)
	}

	view := led.Snapshot(toMarks(marks, led.Symbols()), time.Now())
	fmt.Print(report.FormatEquitySummary(view))
	fmt.Println()
	fmt.Print(report.FormatPositionSummary(view))

	printHistoryTail(ctx, store, sessionID)
}

// resolveMarks reads cached tickers from Redis and resolves each through
// the validation chain. Returns an empty mark set when Redis is down.
func resolveMarks(ctx context.Context, cfg *config.Config, sessionID string, store *sqlitestore.Store) ledger.Marks {
	marks := ledger.Marks{}

	cache, err := redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("report: ticker cache unavailable (%v); positions will be unpriced", err)
		return marks
	}
	defer cache.Close()

	resolver := markprice.NewResolver(markprice.NewValidator(cfg.ParseBands()))

	positions, err := store.GetPositions(ctx, sessionID)
	if err != nil {
		log.Printf("report: read positions: %v", err)
		return marks
	}
	for _, pos := range positions {
		t, err := cache.Get(ctx, pos.Symbol)
		if err != nil || t == nil {
			continue
		}
		if px, _, ok := resolver.Resolve(pos.Symbol, *t); ok {
			marks[pos.Symbol] = px
		}
	}
	return marks
}

// toMarks narrows a mark set to the given symbols. Symbols without a
// resolved mark stay absent, which the snapshot shows as "no mark".
func toMarks(all ledger.Marks, symbols []string) ledger.Marks {
	out := ledger.Marks{}
	for _, sym := range symbols {
		if px, ok := all[sym]; ok {
			out[sym] = px
		}
	}
	return out
}

// readonlyStore blocks every mutation so a report run can never touch
// the ledger history, whichever load branch fires.
type readonlyStore struct {
	*sqlitestore.Store
}

func (readonlyStore) AppendCashEquity(context.Context, model.CashEquityRecord) error { return nil }
func (readonlyStore) UpsertPosition(context.Context, string, model.Position) error  { return nil }
func (readonlyStore) RemovePosition(context.Context, string, string) error          { return nil }
func (readonlyStore) ClearAllPositions(context.Context, string) error               { return nil }

func printHistoryTail(ctx context.Context, store *sqlitestore.Store, sessionID string) {
	tail := 10
	if v := os.Getenv("HISTORY_TAIL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			tail = n
		}
	}
	if tail == 0 {
		return
	}

	history, err := store.History(ctx, sessionID)
	if err != nil {
		log.Printf("report: read history: %v", err)
		return
	}
	if len(history) > tail {
		history = history[len(history)-tail:]
	}

	fmt.Printf("\nRECENT LEDGER EVENTS (last %d)\n", len(history))
	for _, rec := range history {
		fmt.Printf("  %s %-9s cash=%12.2f equity=%12.2f realized=%+10.2f fees=%8.2f\n",
			rec.TS.Format("2006-01-02 15:04:05"), rec.Event, rec.Cash, rec.Equity, rec.RealizedPnL, rec.Fees)
	}
}
