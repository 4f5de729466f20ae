// Package strategy provides the signal engine that runs trading
// strategies over finalized bars.
//
// A Strategy receives bars and emits Signals carrying a composite
// directional score. The score is raw strategy output: direction is NOT
// decided here — the risk engine maps score to side exactly once, and
// everything downstream carries that tagged side.
package strategy

import (
	"context"

	"tradeledgerv1/internal/model"
)

// Signal is a directional trading signal emitted by a strategy.
type Signal struct {
	StrategyName string  `json:"strategy_name"`
	Symbol       string  `json:"symbol"`
	Score        float64 `json:"score"` // composite directional strength, sign = direction
	Reason       string  `json:"reason"`

	// Optional strategy-supplied stop/take levels. When set, they take
	// precedence over derived levels.
	Stop *float64 `json:"stop,omitempty"`
	Take *float64 `json:"take,omitempty"`
}

// Strategy is the interface that all trading strategies implement.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// OnBar is called for each finalized bar. Return a Signal if the
	// strategy wants to act, or nil to skip.
	OnBar(bar model.Bar) *Signal
}

// Engine manages registered strategies and routes bars to them.
type Engine struct {
	strategies []Strategy
	signalCh   chan Signal
}

// NewEngine creates a new strategy engine.
func NewEngine(signalBufferSize int) *Engine {
	return &Engine{
		signalCh: make(chan Signal, signalBufferSize),
	}
}

// Register adds a strategy to the engine.
func (e *Engine) Register(s Strategy) {
	e.strategies = append(e.strategies, s)
}

// Signals returns the channel of signals emitted by strategies.
func (e *Engine) Signals() <-chan Signal {
	return e.signalCh
}

// Run consumes bars and routes them to all registered strategies.
// Blocks until ctx is cancelled or barCh is closed.
func (e *Engine) Run(ctx context.Context, barCh <-chan model.Bar) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-barCh:
			if !ok {
				return
			}
			for _, s := range e.strategies {
				if sig := s.OnBar(bar); sig != nil {
					select {
					case e.signalCh <- *sig:
					default:
						// signal channel full, drop
					}
				}
			}
		}
	}
}
