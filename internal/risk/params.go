package risk

// Params holds the static risk configuration. Supplied by the caller,
// read-only to this package.
type Params struct {
	// Stop/take distance derivation
	StopATRMult        float64 // stop distance = ATR × StopATRMult
	TakeATRMult        float64 // take distance = ATR × TakeATRMult
	UsePercentFallback bool    // enable percent-of-entry fallback when no ATR
	FallbackStopPct    float64 // stop distance = entry × FallbackStopPct
	FallbackTakePct    float64 // take distance = entry × FallbackTakePct
	MinStopDistance    float64 // absolute floor on stop distance
	MinTakeDistance    float64 // absolute floor on take distance
	MinRewardRisk      float64 // reject when takeDist/stopDist falls below (0 = disabled)

	// Position sizing
	RiskPerTradePct     float64 // fraction of equity risked per trade, e.g. 0.01
	PerSymbolCap        float64 // max notional per symbol
	MaxPositionValuePct float64 // max notional as fraction of equity
	SessionCapPct       float64 // max total deployed notional as fraction of equity
}

// DefaultParams returns conservative defaults.
func DefaultParams() Params {
	return Params{
		StopATRMult:         2.0,
		TakeATRMult:         3.0,
		UsePercentFallback:  true,
		FallbackStopPct:     0.02,
		FallbackTakePct:     0.04,
		MinStopDistance:     0.0,
		MinTakeDistance:     0.0,
		MinRewardRisk:       0.0,
		RiskPerTradePct:     0.01,
		PerSymbolCap:        25000,
		MaxPositionValuePct: 0.25,
		SessionCapPct:       0.80,
	}
}
