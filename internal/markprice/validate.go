package markprice

import "math"

// Band is an inclusive sanity range for an instrument's plausible price.
type Band struct {
	Min float64
	Max float64
}

// Validator rejects implausible mark candidates. Symbols with a configured
// band must fall inside it; symbols without one only need to be finite and
// strictly positive.
type Validator struct {
	bands map[string]Band
}

// NewValidator creates a Validator with per-symbol sanity bands.
// bands may be nil.
func NewValidator(bands map[string]Band) *Validator {
	return &Validator{bands: bands}
}

// Valid reports whether px is an acceptable mark for symbol.
func (v *Validator) Valid(symbol string, px float64) bool {
	if px <= 0 || math.IsNaN(px) || math.IsInf(px, 0) {
		return false
	}
	if band, ok := v.bands[symbol]; ok {
		if px < band.Min || px > band.Max {
			return false
		}
	}
	return true
}
