package ringbuf

import (
	"testing"
	"time"

	"tradeledgerv1/internal/model"
)

func bar(close float64, i int) model.Bar {
	return model.Bar{
		Symbol: "BTCUSDT",
		TS:     time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute),
		Close:  close,
	}
}

func TestRing_LastReturnsOldestFirst(t *testing.T) {
	r := New(8)
	for i := 0; i < 5; i++ {
		r.Push(bar(float64(i), i))
	}

	out := r.Last(3)
	if len(out) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(out))
	}
	for i, want := range []float64{2, 3, 4} {
		if out[i].Close != want {
			t.Errorf("bar %d: expected close=%v, got %v", i, want, out[i].Close)
		}
	}
}

func TestRing_OverwritesOldest(t *testing.T) {
	r := New(4) // capacity 4
	for i := 0; i < 10; i++ {
		r.Push(bar(float64(i), i))
	}

	if r.Len() != 4 {
		t.Fatalf("expected len=4, got %d", r.Len())
	}
	out := r.Last(100) // more than held → clamps
	if len(out) != 4 {
		t.Fatalf("expected 4 bars, got %d", len(out))
	}
	for i, want := range []float64{6, 7, 8, 9} {
		if out[i].Close != want {
			t.Errorf("bar %d: expected close=%v, got %v", i, want, out[i].Close)
		}
	}
}

func TestRing_Empty(t *testing.T) {
	r := New(4)
	if out := r.Last(3); out != nil {
		t.Errorf("expected nil from empty ring, got %v", out)
	}
	if r.Len() != 0 {
		t.Errorf("expected len=0, got %d", r.Len())
	}
}

func TestRing_CapacityRoundsToPow2(t *testing.T) {
	r := New(5)
	if r.Cap() != 8 {
		t.Errorf("expected capacity 8, got %d", r.Cap())
	}
	r = New(0)
	if r.Cap() != 2 {
		t.Errorf("expected minimum capacity 2, got %d", r.Cap())
	}
}
