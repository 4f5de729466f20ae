package markprice

import (
	"context"
	"math"
	"testing"

	"tradeledgerv1/internal/model"
)

func TestResolve_MidOfBidAsk(t *testing.T) {
	r := NewResolver(nil)
	px, tier, ok := r.Resolve("BTCUSDT", model.Ticker{Bid: 100, Ask: 102})
	if !ok {
		t.Fatal("expected a mark")
	}
	if px != 101 {
		t.Errorf("expected mid=101, got %v", px)
	}
	if tier != TierMid {
		t.Errorf("expected tier=mid, got %s", tier)
	}
}

func TestResolve_FallsBackToLast(t *testing.T) {
	r := NewResolver(nil)
	px, tier, ok := r.Resolve("BTCUSDT", model.Ticker{Last: 105})
	if !ok || px != 105 {
		t.Fatalf("expected last=105, got %v ok=%v", px, ok)
	}
	if tier != TierLast {
		t.Errorf("expected tier=last, got %s", tier)
	}
}

func TestResolve_FallsBackToGenericPrice(t *testing.T) {
	r := NewResolver(nil)
	px, tier, ok := r.Resolve("BTCUSDT", model.Ticker{Price: 99.5})
	if !ok || px != 99.5 {
		t.Fatalf("expected price=99.5, got %v ok=%v", px, ok)
	}
	if tier != TierPrice {
		t.Errorf("expected tier=price, got %s", tier)
	}
}

func TestResolve_EmptyTickerFails(t *testing.T) {
	r := NewResolver(nil)
	if _, tier, ok := r.Resolve("BTCUSDT", model.Ticker{}); ok || tier != TierNone {
		t.Errorf("expected no mark, got ok=%v tier=%s", ok, tier)
	}
}

func TestResolve_NegativeBidSkipsMid(t *testing.T) {
	r := NewResolver(nil)

	// bid not strictly positive → mid tier unsatisfied, no other fields → none
	if _, _, ok := r.Resolve("BTCUSDT", model.Ticker{Bid: -1, Ask: 5}); ok {
		t.Error("expected no mark with negative bid and nothing else")
	}

	// same bad bid but a usable last → falls through to last
	px, tier, ok := r.Resolve("BTCUSDT", model.Ticker{Bid: -1, Ask: 5, Last: 4.8})
	if !ok || px != 4.8 || tier != TierLast {
		t.Errorf("expected fallthrough to last=4.8, got px=%v tier=%s ok=%v", px, tier, ok)
	}
}

func TestResolve_NaNRejected(t *testing.T) {
	r := NewResolver(nil)
	if _, _, ok := r.Resolve("BTCUSDT", model.Ticker{Last: math.NaN()}); ok {
		t.Error("expected NaN last to be rejected")
	}
	if _, _, ok := r.Resolve("BTCUSDT", model.Ticker{Bid: math.Inf(1), Ask: 5}); ok {
		t.Error("expected Inf bid to be rejected")
	}
}

func TestResolve_SanityBandRejects(t *testing.T) {
	v := NewValidator(map[string]Band{"BTCUSDT": {Min: 1000, Max: 200000}})
	r := NewResolver(v)

	// a plausible price passes
	if _, _, ok := r.Resolve("BTCUSDT", model.Ticker{Last: 50000}); !ok {
		t.Error("expected in-band price to pass")
	}

	// fat-finger print outside the band is equivalent to "no mark",
	// not an error and not a fallthrough to another tier
	if _, tier, ok := r.Resolve("BTCUSDT", model.Ticker{Bid: 1, Ask: 3, Last: 50000}); ok || tier != TierNone {
		t.Errorf("expected out-of-band mid to yield no mark, got tier=%s ok=%v", tier, ok)
	}

	// symbols without a band only need to be finite and positive
	if _, _, ok := r.Resolve("ETHUSDT", model.Ticker{Last: 50000}); !ok {
		t.Error("expected unbanded symbol to pass")
	}
}

func TestResolve_EmitsTier(t *testing.T) {
	r := NewResolver(nil)
	var got []Tier
	r.OnResolve = func(symbol string, tier Tier) { got = append(got, tier) }

	r.Resolve("X", model.Ticker{Bid: 1, Ask: 2})
	r.Resolve("X", model.Ticker{Last: 3})
	r.Resolve("X", model.Ticker{})

	want := []Tier{TierMid, TierLast, TierNone}
	if len(got) != len(want) {
		t.Fatalf("expected %d emissions, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("emission %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

type fakeMD struct {
	tickers map[string]model.Ticker
}

func (f *fakeMD) GetTicker(symbol string) (model.Ticker, bool) {
	t, ok := f.tickers[symbol]
	return t, ok
}

func (f *fakeMD) GetOHLCV(symbol string, limit int) []model.Bar { return nil }

func TestSource_Marks(t *testing.T) {
	md := &fakeMD{tickers: map[string]model.Ticker{
		"BTCUSDT": {Symbol: "BTCUSDT", Bid: 100, Ask: 102},
		"ETHUSDT": {Symbol: "ETHUSDT"}, // ticker present but unpriceable
	}}
	src := NewSource(md, NewResolver(nil))

	marks := src.Marks(context.Background(), []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})
	if len(marks) != 1 {
		t.Fatalf("expected 1 mark, got %d", len(marks))
	}
	if marks["BTCUSDT"] != 101 {
		t.Errorf("expected BTCUSDT mark=101, got %v", marks["BTCUSDT"])
	}
}
