package strategy

import (
	"fmt"

	"tradeledgerv1/internal/model"
)

// Momentum scores the rate of change of closes over a lookback window.
//
// Score = (close - close[lookback]) / close[lookback], emitted once per
// bar once warm. A zero-or-negative score signals short per the risk
// engine's contract, so a flat market oscillates around zero instead of
// producing no signal.
type Momentum struct {
	name     string
	lookback int
	minAbs   float64 // minimum |score| to emit, filters noise

	// per-symbol close history ring
	closes map[string][]float64
	idx    map[string]int
	count  map[string]int
}

// NewMomentum creates a momentum strategy with the given lookback in bars.
// minAbsScore suppresses signals weaker than the threshold (0 emits all).
func NewMomentum(lookback int, minAbsScore float64) *Momentum {
	return &Momentum{
		name:     "Momentum",
		lookback: lookback,
		minAbs:   minAbsScore,
		closes:   make(map[string][]float64),
		idx:      make(map[string]int),
		count:    make(map[string]int),
	}
}

func (m *Momentum) Name() string { return m.name }

func (m *Momentum) OnBar(bar model.Bar) *Signal {
	buf, ok := m.closes[bar.Symbol]
	if !ok {
		buf = make([]float64, m.lookback)
		m.closes[bar.Symbol] = buf
	}

	i := m.idx[bar.Symbol]
	m.count[bar.Symbol]++

	// Not warm yet: record and wait.
	if m.count[bar.Symbol] <= m.lookback {
		buf[i] = bar.Close
		m.idx[bar.Symbol] = (i + 1) % m.lookback
		return nil
	}

	// buf[i] currently holds the close from exactly lookback bars ago.
	oldest := buf[i]
	buf[i] = bar.Close
	m.idx[bar.Symbol] = (i + 1) % m.lookback

	if oldest <= 0 {
		return nil
	}
	score := (bar.Close - oldest) / oldest
	if m.minAbs > 0 && score < m.minAbs && score > -m.minAbs {
		return nil
	}

	return &Signal{
		StrategyName: m.name,
		Symbol:       bar.Symbol,
		Score:        score,
		Reason:       fmt.Sprintf("roc(%d)=%.4f%%", m.lookback, score*100),
	}
}
