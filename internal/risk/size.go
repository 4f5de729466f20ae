package risk

import (
	"fmt"
	"math"
)

// SizePosition computes a bounded position size (notional, in quote
// currency) for a trade with the given derived stop.
//
// The risk-based size solves: losing the full stop distance should cost
// exactly equity × RiskPerTradePct. It is then capped by the per-symbol
// limit, the per-position equity fraction, and whatever headroom remains
// under the session deployment cap. The result is floored at zero.
func SizePosition(equity, entry float64, st StopTake, alreadyDeployed float64, p Params) (float64, error) {
	if entry <= 0 || math.IsNaN(entry) {
		return 0, fmt.Errorf("risk: size: invalid entry price %v", entry)
	}

	stopDist := st.StopDistance(entry)
	if stopDist <= 0 {
		return 0, fmt.Errorf("risk: size: zero stop distance (entry=%v stop=%v)", entry, st.Stop)
	}

	riskAmount := equity * p.RiskPerTradePct
	sizeFromRisk := riskAmount / (stopDist / entry)

	sizeFromCaps := math.Min(p.PerSymbolCap, equity*p.MaxPositionValuePct)
	sessionHeadroom := math.Max(0, equity*p.SessionCapPct-alreadyDeployed)
	sizeFromCaps = math.Min(sizeFromCaps, sessionHeadroom)

	size := math.Min(sizeFromRisk, sizeFromCaps)
	if size < 0 || math.IsNaN(size) {
		size = 0
	}
	return size, nil
}
