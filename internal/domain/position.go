package domain

import "time"

// Position is the central entity: a virtual LONG/SHORT exposure against a
// live mark-price feed.
type Position struct {
	ID     int64
	Symbol string // uppercase quote-denominated pair, e.g. "BTCUSDT"
	Side   Side

	// Immutable after creation.
	Qty        float64
	EntryPrice float64
	EntryTime  time.Time
	Leverage   int
	FeesOpen   float64
	Notes      string

	// Mutable while OPEN.
	SL *float64
	TP *float64

	// Terminal fields, set exactly once on close.
	Status      Status
	ClosePrice  *float64
	CloseTime   *time.Time
	FeesClose   float64
	RealizedPnl float64
	FundingPnl  float64
}

// IsOpen reports whether the position has not yet been closed.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}
