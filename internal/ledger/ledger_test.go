package ledger

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"tradeledgerv1/internal/model"
	"tradeledgerv1/internal/risk"
)

// fakeStore is an in-memory model.LedgerStore with fault injection.
type fakeStore struct {
	records   []model.CashEquityRecord
	positions map[string]model.Position

	failLatest bool
	failAppend bool
	failGetPos bool
	failUpsert bool

	// When set, a mark-record append signals markEntered and then parks
	// until markRelease closes, so tests can hold a valuation append open.
	markEntered chan struct{}
	markRelease chan struct{}

	cleared int
}

func newFakeStore() *fakeStore {
	return &fakeStore{positions: make(map[string]model.Position)}
}

func (s *fakeStore) GetLatestCashEquity(ctx context.Context, session string) (*model.CashEquityRecord, error) {
	if s.failLatest {
		return nil, errors.New("store down")
	}
	if len(s.records) == 0 {
		return nil, nil
	}
	rec := s.records[len(s.records)-1]
	return &rec, nil
}

func (s *fakeStore) AppendCashEquity(ctx context.Context, rec model.CashEquityRecord) error {
	if s.failAppend {
		return errors.New("append failed")
	}
	if rec.Event == model.EventMark && s.markEntered != nil {
		s.markEntered <- struct{}{}
		<-s.markRelease
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeStore) GetPositions(ctx context.Context, session string) ([]model.Position, error) {
	if s.failGetPos {
		return nil, errors.New("positions unreadable")
	}
	out := make([]model.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) UpsertPosition(ctx context.Context, session string, pos model.Position) error {
	if s.failUpsert {
		return errors.New("upsert failed")
	}
	s.positions[pos.Symbol] = pos
	return nil
}

func (s *fakeStore) RemovePosition(ctx context.Context, session, symbol string) error {
	delete(s.positions, symbol)
	return nil
}

func (s *fakeStore) ClearAllPositions(ctx context.Context, session string) error {
	s.cleared++
	s.positions = make(map[string]model.Position)
	return nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) lastRecord(t *testing.T) model.CashEquityRecord {
	t.Helper()
	if len(s.records) == 0 {
		t.Fatal("no records appended")
	}
	return s.records[len(s.records)-1]
}

func newActiveLedger(t *testing.T, store *fakeStore, marks Marks, capital float64) *Ledger {
	t.Helper()
	l := New(Config{Session: "2026-02-03"}, store, marks)
	if err := l.LoadOrInitialize(context.Background(), capital); err != nil {
		t.Fatalf("LoadOrInitialize: %v", err)
	}
	return l
}

func TestLoadOrInitialize_FreshBootstrap(t *testing.T) {
	store := newFakeStore()
	l := newActiveLedger(t, store, Marks{}, 10000)

	if l.State() != StateActive {
		t.Errorf("expected active state, got %s", l.State())
	}
	if l.Cash() != 10000 {
		t.Errorf("expected cash=10000, got %v", l.Cash())
	}
	rec := store.lastRecord(t)
	if rec.Event != model.EventBootstrap || rec.Cash != 10000 || rec.Equity != 10000 {
		t.Errorf("unexpected bootstrap record: %+v", rec)
	}
}

func TestLoadOrInitialize_StoreDownStillStarts(t *testing.T) {
	store := newFakeStore()
	store.failLatest = true
	store.failAppend = true

	l := New(Config{Session: "s"}, store, Marks{})
	if err := l.LoadOrInitialize(context.Background(), 5000); err != nil {
		t.Fatalf("expected degraded start, got %v", err)
	}
	if l.State() != StateActive || l.Cash() != 5000 {
		t.Errorf("expected active at target capital, got state=%s cash=%v", l.State(), l.Cash())
	}
}

func TestLoadOrInitialize_ResumeWithinThreshold(t *testing.T) {
	store := newFakeStore()
	store.records = []model.CashEquityRecord{{
		Session: "s", Cash: 9500, Equity: 10200, Fees: 12.5, RealizedPnL: 150,
	}}
	store.positions["BTCUSDT"] = model.Position{Symbol: "BTCUSDT", Qty: 0.01, AvgPrice: 60000}

	marks := Marks{"BTCUSDT": 62000}
	l := New(Config{Session: "s"}, store, marks)
	var audits []string
	l.OnAudit = func(event, detail string) { audits = append(audits, event) }

	// 10200 → 11000 is ~7.8%, within the 20% threshold → resume.
	if err := l.LoadOrInitialize(context.Background(), 11000); err != nil {
		t.Fatal(err)
	}

	if l.Cash() != 9500 {
		t.Errorf("resume must adopt stored cash verbatim, got %v", l.Cash())
	}
	positions := l.Positions()
	if len(positions) != 1 || positions[0].Qty != 0.01 {
		t.Fatalf("expected rehydrated position, got %+v", positions)
	}
	// Equity recomputed live, never trusted from the store:
	// 9500 + 0.01×62000 = 10120, not the stale stored 10200.
	if eq := l.Equity(); math.Abs(eq-10120) > 1e-9 {
		t.Errorf("expected live equity 10120, got %v", eq)
	}
	// Resume appends no record.
	if len(store.records) != 1 {
		t.Errorf("resume must not append records, got %d", len(store.records))
	}
	if len(audits) != 1 || audits[0] != "resume" {
		t.Errorf("expected resume audit event, got %v", audits)
	}
}

func TestLoadOrInitialize_SignificantChangeResets(t *testing.T) {
	store := newFakeStore()
	store.records = []model.CashEquityRecord{{Session: "s", Cash: 10000, Equity: 10000}}
	store.positions["BTCUSDT"] = model.Position{Symbol: "BTCUSDT", Qty: 1, AvgPrice: 100}

	l := New(Config{Session: "s"}, store, Marks{})
	var audits []string
	l.OnAudit = func(event, detail string) { audits = append(audits, event) }

	// 10000 → 20000 is 100% change → destructive reset.
	if err := l.LoadOrInitialize(context.Background(), 20000); err != nil {
		t.Fatal(err)
	}

	if store.cleared != 1 {
		t.Error("expected persisted positions to be cleared")
	}
	if len(l.Positions()) != 0 {
		t.Error("expected in-memory positions to be empty after reset")
	}
	if l.Cash() != 20000 {
		t.Errorf("expected cash=20000, got %v", l.Cash())
	}
	rec := store.lastRecord(t)
	if rec.Event != model.EventReset {
		t.Errorf("reset must be audit-distinguishable, got event=%q", rec.Event)
	}
	if rec.Fees != 0 || rec.RealizedPnL != 0 {
		t.Errorf("reset must start fees/realized fresh: %+v", rec)
	}
	if len(audits) != 1 || audits[0] != "reset" {
		t.Errorf("expected reset audit event, got %v", audits)
	}
}

func TestLoadOrInitialize_ThresholdBoundary(t *testing.T) {
	// Exactly 20% is not "greater than" the threshold → resume.
	store := newFakeStore()
	store.records = []model.CashEquityRecord{{Session: "s", Cash: 10000, Equity: 10000}}

	l := New(Config{Session: "s"}, store, Marks{})
	if err := l.LoadOrInitialize(context.Background(), 12000); err != nil {
		t.Fatal(err)
	}
	if l.Cash() != 10000 {
		t.Errorf("20%% change should resume, got cash=%v", l.Cash())
	}
	if store.cleared != 0 {
		t.Error("20% change must not clear positions")
	}
}

func TestApplyFill_ExampleScenario(t *testing.T) {
	// Initial capital 10,000; one long fill of notional 100 with a 5 bps
	// fee (0.05). Cash 9,899.95; equity 9,999.95 at mark == fill price.
	marks := Marks{"BTCUSDT": 50000}
	store := newFakeStore()
	l := newActiveLedger(t, store, marks, 10000)

	qty := 100.0 / 50000.0
	if err := l.ApplyFill(context.Background(), "BTCUSDT", risk.Long, qty, 50000, 0.05); err != nil {
		t.Fatal(err)
	}

	if math.Abs(l.Cash()-9899.95) > 1e-6 {
		t.Errorf("expected cash=9899.95, got %v", l.Cash())
	}
	if math.Abs(l.Equity()-9999.95) > 1e-6 {
		t.Errorf("expected equity=9999.95, got %v", l.Equity())
	}

	rec := store.lastRecord(t)
	if rec.Event != model.EventFill {
		t.Errorf("expected fill record, got %q", rec.Event)
	}
	if math.Abs(rec.Equity-9999.95) > 1e-6 || math.Abs(rec.Fees-0.05) > 1e-9 {
		t.Errorf("unexpected fill record: %+v", rec)
	}
}

func TestApplyFill_EquityInvariantAcrossSequence(t *testing.T) {
	marks := Marks{"BTCUSDT": 50000, "ETHUSDT": 3000}
	store := newFakeStore()
	l := newActiveLedger(t, store, marks, 100000)

	fills := []struct {
		symbol string
		side   risk.Side
		qty    float64
		price  float64
		fee    float64
	}{
		{"BTCUSDT", risk.Long, 0.5, 50000, 12.5},
		{"ETHUSDT", risk.Short, 10, 3000, 1.5},
		{"BTCUSDT", risk.Long, 0.25, 51000, 6.4}, // marks unchanged, avg up
		{"BTCUSDT", risk.Short, 0.6, 50500, 15.2}, // partial reduce
		{"ETHUSDT", risk.Long, 10, 2900, 1.45},    // close short at profit
	}

	for i, f := range fills {
		if err := l.ApplyFill(context.Background(), f.symbol, f.side, f.qty, f.price, f.fee); err != nil {
			t.Fatalf("fill %d: %v", i, err)
		}
		// equity == cash + Σ qty×mark, every mark available
		want := l.Cash()
		for _, pos := range l.Positions() {
			px, _ := marks.Mark(pos.Symbol)
			want += pos.Qty * px
		}
		if got := l.Equity(); math.Abs(got-want) > 1e-6 {
			t.Errorf("fill %d: equity %v != cash+positions %v", i, got, want)
		}
	}
}

func TestApplyFill_WeightedAverageAdd(t *testing.T) {
	marks := Marks{"ETHUSDT": 3000}
	l := newActiveLedger(t, newFakeStore(), marks, 100000)

	ctx := context.Background()
	if err := l.ApplyFill(ctx, "ETHUSDT", risk.Long, 2, 3000, 0); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyFill(ctx, "ETHUSDT", risk.Long, 2, 3100, 0); err != nil {
		t.Fatal(err)
	}

	pos := l.Positions()[0]
	if pos.Qty != 4 {
		t.Errorf("expected qty=4, got %v", pos.Qty)
	}
	if math.Abs(pos.AvgPrice-3050) > 1e-9 {
		t.Errorf("expected avg=3050, got %v", pos.AvgPrice)
	}
}

func TestApplyFill_ReductionRealizesPnL(t *testing.T) {
	marks := Marks{"ETHUSDT": 3000}
	store := newFakeStore()
	l := newActiveLedger(t, store, marks, 100000)

	ctx := context.Background()
	if err := l.ApplyFill(ctx, "ETHUSDT", risk.Long, 4, 3000, 0); err != nil {
		t.Fatal(err)
	}
	// Sell 1 at 3200 → realized (3200-3000)×1 = 200; avg unchanged.
	if err := l.ApplyFill(ctx, "ETHUSDT", risk.Short, 1, 3200, 0); err != nil {
		t.Fatal(err)
	}

	rec := store.lastRecord(t)
	if math.Abs(rec.RealizedPnL-200) > 1e-9 {
		t.Errorf("expected realized=200, got %v", rec.RealizedPnL)
	}
	pos := l.Positions()[0]
	if pos.Qty != 3 || pos.AvgPrice != 3000 {
		t.Errorf("partial reduce must keep avg cost: %+v", pos)
	}
}

func TestApplyFill_ShortReductionRealizesPnL(t *testing.T) {
	marks := Marks{"ETHUSDT": 3000}
	store := newFakeStore()
	l := newActiveLedger(t, store, marks, 100000)

	ctx := context.Background()
	// Short 5 at 3000, cover 5 at 2800 → realized (3000-2800)×5 = 1000.
	if err := l.ApplyFill(ctx, "ETHUSDT", risk.Short, 5, 3000, 0); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyFill(ctx, "ETHUSDT", risk.Long, 5, 2800, 0); err != nil {
		t.Fatal(err)
	}

	rec := store.lastRecord(t)
	if math.Abs(rec.RealizedPnL-1000) > 1e-9 {
		t.Errorf("expected realized=1000, got %v", rec.RealizedPnL)
	}
	if len(l.Positions()) != 0 {
		t.Error("expected position closed")
	}
	// Full round trip with no fees: cash back to start + profit.
	if math.Abs(l.Cash()-101000) > 1e-6 {
		t.Errorf("expected cash=101000, got %v", l.Cash())
	}
}

func TestApplyFill_FlipThroughZero(t *testing.T) {
	marks := Marks{"ETHUSDT": 3000}
	l := newActiveLedger(t, newFakeStore(), marks, 100000)

	ctx := context.Background()
	if err := l.ApplyFill(ctx, "ETHUSDT", risk.Long, 2, 3000, 0); err != nil {
		t.Fatal(err)
	}
	// Sell 5: closes the 2-long, opens a 3-short at the fill price.
	if err := l.ApplyFill(ctx, "ETHUSDT", risk.Short, 5, 3100, 0); err != nil {
		t.Fatal(err)
	}

	pos := l.Positions()[0]
	if pos.Qty != -3 {
		t.Errorf("expected qty=-3 after flip, got %v", pos.Qty)
	}
	if pos.AvgPrice != 3100 {
		t.Errorf("flip remainder must open at fill price, got %v", pos.AvgPrice)
	}
}

func TestApplyFill_NegligibleRemainderCloses(t *testing.T) {
	marks := Marks{"BTCUSDT": 50000}
	store := newFakeStore()
	l := newActiveLedger(t, store, marks, 100000)

	ctx := context.Background()
	if err := l.ApplyFill(ctx, "BTCUSDT", risk.Long, 0.5, 50000, 0); err != nil {
		t.Fatal(err)
	}
	// Sell all but a float-dust remainder.
	if err := l.ApplyFill(ctx, "BTCUSDT", risk.Short, 0.5-1e-12, 50000, 0); err != nil {
		t.Fatal(err)
	}

	if len(l.Positions()) != 0 {
		t.Errorf("expected dust position removed, got %+v", l.Positions())
	}
	if _, ok := store.positions["BTCUSDT"]; ok {
		t.Error("expected persisted position removed")
	}
}

func TestApplyFill_PersistenceFailureRollsBack(t *testing.T) {
	marks := Marks{"BTCUSDT": 50000}
	store := newFakeStore()
	l := newActiveLedger(t, store, marks, 10000)

	store.failAppend = true
	err := l.ApplyFill(context.Background(), "BTCUSDT", risk.Long, 0.1, 50000, 1)
	if !errors.Is(err, ErrFillNotCommitted) {
		t.Fatalf("expected ErrFillNotCommitted, got %v", err)
	}

	if l.Cash() != 10000 {
		t.Errorf("cash must roll back to 10000, got %v", l.Cash())
	}
	if len(l.Positions()) != 0 {
		t.Errorf("positions must roll back, got %+v", l.Positions())
	}

	// Upsert failure rolls back too, before any record is attempted.
	store.failAppend = false
	store.failUpsert = true
	err = l.ApplyFill(context.Background(), "BTCUSDT", risk.Long, 0.1, 50000, 1)
	if !errors.Is(err, ErrFillNotCommitted) {
		t.Fatalf("expected ErrFillNotCommitted, got %v", err)
	}
	if l.Cash() != 10000 || len(l.Positions()) != 0 {
		t.Error("expected full rollback after upsert failure")
	}
}

func TestApplyFill_RequiresActive(t *testing.T) {
	l := New(Config{Session: "s"}, newFakeStore(), Marks{})
	err := l.ApplyFill(context.Background(), "BTCUSDT", risk.Long, 1, 100, 0)
	if !errors.Is(err, ErrNotActive) {
		t.Errorf("expected ErrNotActive, got %v", err)
	}
}

func TestApplyFill_RejectsBadInput(t *testing.T) {
	l := newActiveLedger(t, newFakeStore(), Marks{}, 10000)
	ctx := context.Background()

	if err := l.ApplyFill(ctx, "X", risk.Long, 0, 100, 0); err == nil {
		t.Error("expected error for zero qty")
	}
	if err := l.ApplyFill(ctx, "X", risk.Long, 1, -5, 0); err == nil {
		t.Error("expected error for negative price")
	}
	if err := l.ApplyFill(ctx, "X", risk.Long, 1, 100, -1); err == nil {
		t.Error("expected error for negative fee")
	}
}

func TestMarkToMarket(t *testing.T) {
	marks := Marks{"BTCUSDT": 50000, "ETHUSDT": 3000}
	store := newFakeStore()
	l := newActiveLedger(t, store, marks, 100000)

	ctx := context.Background()
	if err := l.ApplyFill(ctx, "BTCUSDT", risk.Long, 1, 48000, 0); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyFill(ctx, "ETHUSDT", risk.Long, 10, 3100, 0); err != nil {
		t.Fatal(err)
	}

	cashBefore := l.Cash()
	val, err := l.MarkToMarket(ctx, Marks{"BTCUSDT": 51000, "ETHUSDT": 3050})
	if err != nil {
		t.Fatal(err)
	}

	// Valuation pass mutates nothing.
	if l.Cash() != cashBefore {
		t.Error("mark-to-market must not touch cash")
	}
	// unrealized = (51000-48000)×1 + (3050-3100)×10 = 3000 - 500 = 2500
	if math.Abs(val.UnrealizedPnL-2500) > 1e-6 {
		t.Errorf("expected unrealized=2500, got %v", val.UnrealizedPnL)
	}
	if val.Priced != 2 || val.Positions != 2 {
		t.Errorf("expected 2/2 priced, got %d/%d", val.Priced, val.Positions)
	}
	if got := store.lastRecord(t); got.Event != model.EventMark {
		t.Errorf("expected mark record, got %q", got.Event)
	}

	// Missing mark: position contributes zero but is not dropped.
	val, err = l.MarkToMarket(ctx, Marks{"BTCUSDT": 51000})
	if err != nil {
		t.Fatal(err)
	}
	if val.Priced != 1 || val.Positions != 2 {
		t.Errorf("expected 1 priced of 2 positions, got %d/%d", val.Priced, val.Positions)
	}
	wantEquity := cashBefore + 51000.0
	if math.Abs(val.Equity-wantEquity) > 1e-6 {
		t.Errorf("unpriced position must contribute zero: equity=%v want=%v", val.Equity, wantEquity)
	}

	// Append failure is absorbed: valuation still returned.
	store.failAppend = true
	if _, err := l.MarkToMarket(ctx, Marks{"BTCUSDT": 51000}); err != nil {
		t.Errorf("append failure must not fail a valuation pass: %v", err)
	}
}

func TestMarkToMarket_FillWaitsForMarkRecord(t *testing.T) {
	// The mark record must be appended before any fill taken after the
	// valuation can append its own. Otherwise the stale mark row lands
	// last and becomes the row a restart resumes cash from.
	marks := Marks{"BTCUSDT": 50000}
	store := newFakeStore()
	l := newActiveLedger(t, store, marks, 10000)

	store.markEntered = make(chan struct{})
	store.markRelease = make(chan struct{})

	valErr := make(chan error, 1)
	go func() {
		_, err := l.MarkToMarket(context.Background(), marks)
		valErr <- err
	}()
	<-store.markEntered // valuation computed, record append in flight

	fillErr := make(chan error, 1)
	go func() {
		fillErr <- l.ApplyFill(context.Background(), "BTCUSDT", risk.Long, 0.1, 50000, 5)
	}()

	select {
	case err := <-fillErr:
		t.Fatalf("fill committed while a mark record was in flight (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(store.markRelease)
	if err := <-valErr; err != nil {
		t.Fatal(err)
	}
	if err := <-fillErr; err != nil {
		t.Fatal(err)
	}

	rec := store.lastRecord(t)
	if rec.Event != model.EventFill {
		t.Errorf("expected the fill record newest, got %q", rec.Event)
	}
	if math.Abs(rec.Cash-l.Cash()) > 1e-9 {
		t.Errorf("newest record cash %v != ledger cash %v", rec.Cash, l.Cash())
	}
}
