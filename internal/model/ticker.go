package model

import (
	"encoding/json"
	"time"
)

// Ticker is a point-in-time quote snapshot for one instrument.
// A field value of 0 (or NaN) means the upstream feed did not supply it;
// consumers must treat only strictly positive values as present.
type Ticker struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid,omitempty"`
	Ask    float64   `json:"ask,omitempty"`
	Last   float64   `json:"last,omitempty"`
	Price  float64   `json:"price,omitempty"` // generic price field, lowest-priority fallback
	TS     time.Time `json:"ts"`              // UTC timestamp
}

// JSON returns the JSON-encoded ticker (ignoring errors for hot-path usage).
func (t *Ticker) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}
