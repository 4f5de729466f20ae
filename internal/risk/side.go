// Package risk derives order parameters from a directional signal,
// a volatility estimate, and account-level risk limits.
//
// Side is decided exactly once, by DetermineSide, and carried as a tagged
// value through every downstream derivation. No other code path may
// re-derive direction from a raw score — two call sites disagreeing on
// sign convention is exactly the class of bug this package exists to
// prevent.
package risk

// Side is the direction of a position or intended trade.
type Side int

const (
	Long Side = iota + 1
	Short
)

func (s Side) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "unknown"
	}
}

// Sign returns +1 for long, -1 for short.
func (s Side) Sign() float64 {
	if s == Long {
		return 1
	}
	return -1
}

// DetermineSide maps a composite directional score to a Side.
// Strictly positive → Long; zero or negative → Short. This mapping is a
// hard contract: callers thread the returned Side explicitly from here on.
func DetermineSide(compositeScore float64) Side {
	if compositeScore > 0 {
		return Long
	}
	return Short
}
