// Package domain holds the core entities of the paper-trading engine:
// positions, fills, events and settings. Nothing here touches I/O.
package domain

// Side is the direction of a position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Status is the lifecycle state of a position.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// EntryType selects how a position's entry price is resolved.
type EntryType string

const (
	EntryMarket EntryType = "MARKET"
	EntryLimit  EntryType = "LIMIT"
)

// SizeMode selects how sizeValue is interpreted when creating a position.
type SizeMode string

const (
	SizeUSDT SizeMode = "USDT"
	SizeQty  SizeMode = "QTY"
)

// PriceMode selects whether sl/tp are given as a percent of entry or an
// absolute price.
type PriceMode string

const (
	PriceModePercent PriceMode = "PERCENT"
	PriceModePrice   PriceMode = "PRICE"
)

// FillType distinguishes the economics of a fill row.
type FillType string

const (
	FillOpen    FillType = "OPEN"
	FillClose   FillType = "CLOSE"
	FillPartial FillType = "PARTIAL" // reserved, unused in MVP
)

// EventType enumerates the lifecycle transitions recorded in the audit log.
type EventType string

const (
	EventPositionCreated EventType = "POSITION_CREATED"
	EventSLTriggered     EventType = "SL_TRIGGERED"
	EventTPTriggered     EventType = "TP_TRIGGERED"
	EventManualClose     EventType = "MANUAL_CLOSE"
	EventSLUpdated       EventType = "SL_UPDATED"
	EventTPUpdated       EventType = "TP_UPDATED"
)

// IsCloseEvent reports whether an event type represents a position closure.
func (e EventType) IsCloseEvent() bool {
	switch e {
	case EventSLTriggered, EventTPTriggered, EventManualClose:
		return true
	default:
		return false
	}
}
