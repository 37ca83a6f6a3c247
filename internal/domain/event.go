package domain

import "time"

// Event is an append-only audit log entry for a position's state
// transitions. Events are historical and never mutated after insertion.
type Event struct {
	ID         int64
	PositionID int64
	Event      EventType
	Payload    map[string]interface{}
	Ts         time.Time
}
