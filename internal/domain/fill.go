package domain

import "time"

// Fill is an append-only audit record of entry/exit economics. Exactly one
// OPEN fill exists per position; at most one CLOSE fill exists. PARTIAL is
// reserved for future partial-close support and unused in the MVP.
type Fill struct {
	ID         int64
	PositionID int64
	Type       FillType
	Price      float64
	Qty        float64
	Fee        float64
	Ts         time.Time
}
