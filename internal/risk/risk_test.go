package risk

import (
	"errors"
	"math"
	"testing"
)

func fptr(v float64) *float64 { return &v }

func TestDetermineSide(t *testing.T) {
	cases := []struct {
		score float64
		want  Side
	}{
		{1.0, Long},
		{0.0001, Long},
		{math.SmallestNonzeroFloat64, Long},
		{0, Short}, // zero is short by contract
		{-0.0001, Short},
		{-5, Short},
	}
	for _, tc := range cases {
		if got := DetermineSide(tc.score); got != tc.want {
			t.Errorf("DetermineSide(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

// TestDeriveStopTake_OrderingInvariant sweeps entries, sides, and all three
// derivation paths and checks the directional placement contract on every
// output: long → stop < entry < take, short → take < entry < stop.
func TestDeriveStopTake_OrderingInvariant(t *testing.T) {
	p := DefaultParams()
	entries := []float64{0.0042, 1, 99.5, 2500, 68000}
	vols := []*float64{nil, fptr(0.5), fptr(12), fptr(800)}

	check := func(entry float64, side Side, st StopTake) {
		t.Helper()
		switch side {
		case Long:
			if !(st.Stop < entry && entry < st.Take) {
				t.Errorf("long ordering violated: stop=%v entry=%v take=%v source=%s",
					st.Stop, entry, st.Take, st.Source)
			}
		case Short:
			if !(st.Take < entry && entry < st.Stop) {
				t.Errorf("short ordering violated: stop=%v entry=%v take=%v source=%s",
					st.Stop, entry, st.Take, st.Source)
			}
		}
	}

	for _, entry := range entries {
		for _, side := range []Side{Long, Short} {
			for _, vol := range vols {
				st, err := DeriveStopTake(entry, side, vol, nil, nil, p)
				if err != nil {
					t.Fatalf("entry=%v side=%s vol=%v: %v", entry, side, vol, err)
				}
				check(entry, side, st)

				wantSource := SourcePercentFallback
				if vol != nil {
					wantSource = SourceATR
				}
				if st.Source != wantSource {
					t.Errorf("expected source=%s, got %s", wantSource, st.Source)
				}
			}

			// strategy-supplied path
			var stop, take float64
			if side == Long {
				stop, take = entry*0.97, entry*1.05
			} else {
				stop, take = entry*1.03, entry*0.95
			}
			st, err := DeriveStopTake(entry, side, nil, fptr(stop), fptr(take), p)
			if err != nil {
				t.Fatalf("strategy path entry=%v side=%s: %v", entry, side, err)
			}
			if st.Source != SourceStrategy {
				t.Errorf("expected source=strategy, got %s", st.Source)
			}
			if st.Stop != stop || st.Take != take {
				t.Errorf("strategy levels must pass through unchanged")
			}
			check(entry, side, st)
		}
	}
}

func TestDeriveStopTake_ATRDistances(t *testing.T) {
	p := DefaultParams()
	p.StopATRMult, p.TakeATRMult = 2, 3

	st, err := DeriveStopTake(100, Long, fptr(1.5), nil, nil, p)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(st.Stop-97) > 1e-9 || math.Abs(st.Take-104.5) > 1e-9 {
		t.Errorf("expected stop=97 take=104.5, got %v / %v", st.Stop, st.Take)
	}

	st, err = DeriveStopTake(100, Short, fptr(1.5), nil, nil, p)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(st.Stop-103) > 1e-9 || math.Abs(st.Take-95.5) > 1e-9 {
		t.Errorf("short: expected stop=103 take=95.5, got %v / %v", st.Stop, st.Take)
	}
}

func TestDeriveStopTake_MinDistanceFloor(t *testing.T) {
	p := DefaultParams()
	p.MinStopDistance = 5
	p.MinTakeDistance = 8

	// Tiny ATR → floors kick in.
	st, err := DeriveStopTake(100, Long, fptr(0.001), nil, nil, p)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(st.Stop-95) > 1e-9 {
		t.Errorf("expected floored stop=95, got %v", st.Stop)
	}
	if math.Abs(st.Take-108) > 1e-9 {
		t.Errorf("expected floored take=108, got %v", st.Take)
	}
}

func TestDeriveStopTake_NoSource(t *testing.T) {
	p := DefaultParams()
	p.UsePercentFallback = false

	_, err := DeriveStopTake(100, Long, nil, nil, nil, p)
	if !errors.Is(err, ErrNoStopSource) {
		t.Errorf("expected ErrNoStopSource, got %v", err)
	}
}

func TestDeriveStopTake_ReversedStrategyLevelsRejected(t *testing.T) {
	p := DefaultParams()

	// Stop above entry on a long is a contract violation, not a valid output.
	_, err := DeriveStopTake(100, Long, nil, fptr(105), fptr(110), p)
	if !errors.Is(err, ErrInvariantViolation) {
		t.Errorf("expected ErrInvariantViolation, got %v", err)
	}

	// Short with levels on the long side.
	_, err = DeriveStopTake(100, Short, nil, fptr(95), fptr(105), p)
	if !errors.Is(err, ErrInvariantViolation) {
		t.Errorf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestDeriveStopTake_MinRewardRisk(t *testing.T) {
	p := DefaultParams()
	p.MinRewardRisk = 2.0
	p.StopATRMult, p.TakeATRMult = 2, 3 // RR 1.5 < 2.0

	_, err := DeriveStopTake(100, Long, fptr(1), nil, nil, p)
	if !errors.Is(err, ErrRewardRisk) {
		t.Errorf("expected ErrRewardRisk, got %v", err)
	}

	p.TakeATRMult = 5 // RR 2.5 passes
	if _, err := DeriveStopTake(100, Long, fptr(1), nil, nil, p); err != nil {
		t.Errorf("expected RR=2.5 to pass, got %v", err)
	}
}

func TestDeriveStopTake_InvalidEntry(t *testing.T) {
	p := DefaultParams()
	if _, err := DeriveStopTake(0, Long, fptr(1), nil, nil, p); err == nil {
		t.Error("expected error for zero entry")
	}
	if _, err := DeriveStopTake(-5, Short, fptr(1), nil, nil, p); err == nil {
		t.Error("expected error for negative entry")
	}
}

func TestSizePosition_RiskBased(t *testing.T) {
	p := DefaultParams()
	p.RiskPerTradePct = 0.01
	p.PerSymbolCap = 1e9
	p.MaxPositionValuePct = 10
	p.SessionCapPct = 10

	// equity 10000, 1% risk = 100. Stop 2% away → size = 100 / 0.02 = 5000.
	st := StopTake{Stop: 98, Take: 104}
	size, err := SizePosition(10000, 100, st, 0, p)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(size-5000) > 1e-9 {
		t.Errorf("expected 5000, got %v", size)
	}
}

func TestSizePosition_Caps(t *testing.T) {
	p := DefaultParams()
	p.RiskPerTradePct = 0.10 // huge risk appetite → caps bind
	st := StopTake{Stop: 99, Take: 103}

	// per-symbol cap binds
	p.PerSymbolCap = 1200
	p.MaxPositionValuePct = 1
	p.SessionCapPct = 1
	size, err := SizePosition(10000, 100, st, 0, p)
	if err != nil {
		t.Fatal(err)
	}
	if size != 1200 {
		t.Errorf("expected per-symbol cap 1200, got %v", size)
	}

	// equity-fraction cap binds
	p.PerSymbolCap = 1e9
	p.MaxPositionValuePct = 0.05
	size, _ = SizePosition(10000, 100, st, 0, p)
	if size != 500 {
		t.Errorf("expected equity cap 500, got %v", size)
	}

	// session headroom binds
	p.MaxPositionValuePct = 1
	p.SessionCapPct = 0.5
	size, _ = SizePosition(10000, 100, st, 4800, p)
	if size != 200 {
		t.Errorf("expected session headroom 200, got %v", size)
	}

	// exhausted session cap floors at zero
	size, _ = SizePosition(10000, 100, st, 99999, p)
	if size != 0 {
		t.Errorf("expected 0 with exhausted session cap, got %v", size)
	}
}

func TestSizePosition_ZeroStopDistance(t *testing.T) {
	p := DefaultParams()
	if _, err := SizePosition(10000, 100, StopTake{Stop: 100, Take: 105}, 0, p); err == nil {
		t.Error("expected error for zero stop distance")
	}
	if _, err := SizePosition(10000, 0, StopTake{Stop: 98, Take: 105}, 0, p); err == nil {
		t.Error("expected error for zero entry")
	}
}
