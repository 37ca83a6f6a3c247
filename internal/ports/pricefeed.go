package ports

import (
	"context"
	"time"
)

// Tick is a single mark-price observation for a symbol.
type Tick struct {
	Symbol    string
	MarkPrice float64
	Ts        time.Time
}

// PriceFeed is the upstream market-data boundary. One implementation backs
// the whole process; Supervisor owns its lifecycle and TriggerEngine is its
// only tick consumer. Subscribe/Unsubscribe are idempotent and safe to call
// from multiple goroutines.
type PriceFeed interface {
	// Subscribe adds symbol to the live stream. A symbol already subscribed
	// is a no-op.
	Subscribe(ctx context.Context, symbol string) error

	// Unsubscribe removes symbol from the live stream. Unsubscribing a
	// symbol that isn't subscribed is a no-op.
	Unsubscribe(ctx context.Context, symbol string) error

	// Ticks returns the channel every mark-price update is published on.
	// Close does not necessarily close the channel; consumers stop reading
	// when their own context is cancelled.
	Ticks() <-chan Tick

	// LastPrice returns the most recently observed mark price for symbol
	// and whether one has been observed yet.
	LastPrice(symbol string) (float64, bool)

	// FetchPrice resolves a price via REST, bypassing the stream cache.
	// Broker uses this at position-creation time when no tick has arrived
	// yet for a symbol still warming up.
	FetchPrice(ctx context.Context, symbol string) (float64, error)

	// IsConnected reports whether the underlying session is currently up.
	// It is false while a dropped session waits in the reconnect backoff
	// window and after Close.
	IsConnected() bool

	// Close tears down the session and stops all background goroutines.
	Close() error
}
