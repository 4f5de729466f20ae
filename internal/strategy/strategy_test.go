package strategy

import (
	"context"
	"testing"
	"time"

	"tradeledgerv1/internal/model"
)

func barAt(symbol string, i int, close float64) model.Bar {
	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	return model.Bar{Symbol: symbol, TS: base.Add(time.Duration(i) * time.Minute), Close: close}
}

func TestMomentum_WarmupEmitsNothing(t *testing.T) {
	m := NewMomentum(5, 0)
	for i := 0; i < 5; i++ {
		if sig := m.OnBar(barAt("BTCUSDT", i, 100+float64(i))); sig != nil {
			t.Fatalf("bar %d: expected nil during warmup, got %+v", i, sig)
		}
	}
}

func TestMomentum_ScoreIsRateOfChange(t *testing.T) {
	m := NewMomentum(3, 0)
	closes := []float64{100, 101, 102, 106}
	var sig *Signal
	for i, c := range closes {
		sig = m.OnBar(barAt("BTCUSDT", i, c))
	}
	if sig == nil {
		t.Fatal("expected a signal on the first post-warmup bar")
	}
	// (106 - 100) / 100
	if sig.Score != 0.06 {
		t.Errorf("expected score 0.06, got %v", sig.Score)
	}
	if sig.Symbol != "BTCUSDT" || sig.StrategyName != "Momentum" {
		t.Errorf("unexpected signal metadata: %+v", sig)
	}
}

func TestMomentum_DowntrendScoresNegative(t *testing.T) {
	m := NewMomentum(3, 0)
	closes := []float64{100, 99, 98, 95}
	var sig *Signal
	for i, c := range closes {
		sig = m.OnBar(barAt("ETHUSDT", i, c))
	}
	if sig == nil || sig.Score >= 0 {
		t.Fatalf("expected negative score for a downtrend, got %+v", sig)
	}
}

func TestMomentum_MinAbsFiltersNoise(t *testing.T) {
	m := NewMomentum(3, 0.05)
	closes := []float64{100, 100, 100, 101} // roc = 1%, below the 5% floor
	var sig *Signal
	for i, c := range closes {
		sig = m.OnBar(barAt("BTCUSDT", i, c))
	}
	if sig != nil {
		t.Errorf("expected weak signal to be suppressed, got %+v", sig)
	}
}

func TestMomentum_SymbolsAreIndependent(t *testing.T) {
	m := NewMomentum(2, 0)
	m.OnBar(barAt("BTCUSDT", 0, 100))
	m.OnBar(barAt("BTCUSDT", 1, 100))

	// ETHUSDT has seen nothing yet; its warmup starts fresh.
	if sig := m.OnBar(barAt("ETHUSDT", 0, 3000)); sig != nil {
		t.Errorf("expected nil for cold symbol, got %+v", sig)
	}
	if sig := m.OnBar(barAt("BTCUSDT", 2, 110)); sig == nil {
		t.Error("expected warm symbol to keep emitting")
	}
}

func TestEngine_RoutesBarsToStrategies(t *testing.T) {
	eng := NewEngine(16)
	eng.Register(NewMomentum(2, 0))

	barCh := make(chan model.Bar)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		eng.Run(ctx, barCh)
		close(done)
	}()

	closes := []float64{100, 101, 105}
	for i, c := range closes {
		barCh <- barAt("BTCUSDT", i, c)
	}
	close(barCh)
	<-done

	select {
	case sig := <-eng.Signals():
		if sig.Symbol != "BTCUSDT" {
			t.Errorf("unexpected signal: %+v", sig)
		}
	default:
		t.Error("expected a signal after warmup bars")
	}
}
