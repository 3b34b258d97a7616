package models

// Quote is the latest bid/ask for a symbol. Quotes are transient; the
// evaluator never persists them.
type Quote struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

// Midpoint returns the canonical reference price for comparisons.
func (q Quote) Midpoint() float64 {
	return (q.Bid + q.Ask) / 2
}
