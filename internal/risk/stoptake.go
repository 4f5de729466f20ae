package risk

import (
	"errors"
	"fmt"
	"log"
	"math"
)

// Errors returned by stop/take derivation.
var (
	// ErrNoStopSource means no stop/take could be derived: the caller
	// supplied none, no volatility estimate was available, and the percent
	// fallback is disabled. A configuration problem, surfaced, not retried.
	ErrNoStopSource = errors.New("risk: no stop/take source available")

	// ErrInvariantViolation means a computed stop/take ordering contradicts
	// the side contract. This is a programmer error, never a valid output.
	ErrInvariantViolation = errors.New("risk: stop/take ordering violates side contract")

	// ErrRewardRisk means the derived take distance pays too little for
	// the stop distance risked.
	ErrRewardRisk = errors.New("risk: reward:risk below configured minimum")
)

// Source tags which derivation path produced a stop/take pair.
type Source string

const (
	SourceStrategy        Source = "strategy"
	SourceATR             Source = "atr"
	SourcePercentFallback Source = "percent_fallback"
)

// StopTake is a derived stop-loss / take-profit pair.
type StopTake struct {
	Stop   float64 `json:"stop"`
	Take   float64 `json:"take"`
	Source Source  `json:"source"`
}

// StopDistance returns the absolute distance between entry and stop.
func (st StopTake) StopDistance(entry float64) float64 {
	return math.Abs(entry - st.Stop)
}

// DeriveStopTake computes stop-loss and take-profit prices for a trade.
//
// Precedence: caller-supplied strategy levels win outright; otherwise ATR
// distances when a volatility estimate is available; otherwise the percent
// fallback when enabled. vol, strategyStop, and strategyTake are nil when
// unavailable.
//
// Directional placement is the invariant this engine exists to protect:
// long → stop < entry < take; short → take < entry < stop. It is verified
// before returning regardless of which path fired.
func DeriveStopTake(entry float64, side Side, vol, strategyStop, strategyTake *float64, p Params) (StopTake, error) {
	if entry <= 0 || math.IsNaN(entry) {
		return StopTake{}, fmt.Errorf("risk: invalid entry price %v", entry)
	}
	if side != Long && side != Short {
		return StopTake{}, fmt.Errorf("risk: invalid side %d", side)
	}

	var st StopTake
	switch {
	case strategyStop != nil && strategyTake != nil:
		st = StopTake{Stop: *strategyStop, Take: *strategyTake, Source: SourceStrategy}

	case vol != nil && *vol > 0:
		st = place(entry, side, *vol*p.StopATRMult, *vol*p.TakeATRMult, p)
		st.Source = SourceATR

	case p.UsePercentFallback:
		st = place(entry, side, entry*p.FallbackStopPct, entry*p.FallbackTakePct, p)
		st.Source = SourcePercentFallback

	default:
		return StopTake{}, ErrNoStopSource
	}

	if err := verifyOrdering(entry, side, st); err != nil {
		// Fail loudly: a reversed stop silently destroys the strategy's edge.
		log.Printf("[risk] INVARIANT VIOLATION side=%s entry=%.8f stop=%.8f take=%.8f source=%s",
			side, entry, st.Stop, st.Take, st.Source)
		return StopTake{}, err
	}

	if p.MinRewardRisk > 0 {
		stopDist := math.Abs(entry - st.Stop)
		takeDist := math.Abs(st.Take - entry)
		if takeDist < p.MinRewardRisk*stopDist {
			return StopTake{}, fmt.Errorf("%w: take distance %.8f vs stop distance %.8f",
				ErrRewardRisk, takeDist, stopDist)
		}
	}

	return st, nil
}

// place positions stop and take around the entry for the given side,
// flooring each distance at its configured minimum.
func place(entry float64, side Side, stopDist, takeDist float64, p Params) StopTake {
	stopDist = math.Max(stopDist, p.MinStopDistance)
	takeDist = math.Max(takeDist, p.MinTakeDistance)
	if side == Long {
		return StopTake{Stop: entry - stopDist, Take: entry + takeDist}
	}
	return StopTake{Stop: entry + stopDist, Take: entry - takeDist}
}

// verifyOrdering checks the side contract: an output violating it is an
// engine defect, returned as ErrInvariantViolation.
func verifyOrdering(entry float64, side Side, st StopTake) error {
	switch side {
	case Long:
		if !(st.Stop < entry && entry < st.Take) {
			return fmt.Errorf("%w: long requires stop < entry < take (stop=%v entry=%v take=%v)",
				ErrInvariantViolation, st.Stop, entry, st.Take)
		}
	case Short:
		if !(st.Take < entry && entry < st.Stop) {
			return fmt.Errorf("%w: short requires take < entry < stop (stop=%v entry=%v take=%v)",
				ErrInvariantViolation, st.Stop, entry, st.Take)
		}
	}
	return nil
}
