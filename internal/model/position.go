package model

// Position represents a tracked trading position.
// Qty is signed: positive = long, negative = short. Fractional quantities
// are allowed (crypto-style instruments), so all amounts are float64.
type Position struct {
	Symbol   string  `json:"symbol"`
	Qty      float64 `json:"qty"`       // positive = long, negative = short
	AvgPrice float64 `json:"avg_price"` // average entry price per unit
}

// UnrealizedPnL computes unrealized profit/loss at the given mark price.
func (p *Position) UnrealizedPnL(mark float64) float64 {
	return (mark - p.AvgPrice) * p.Qty
}

// Notional returns the mark-valued size of the position (signed).
func (p *Position) Notional(mark float64) float64 {
	return p.Qty * mark
}
