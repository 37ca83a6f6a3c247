package ports

import (
	"context"

	"github.com/ArialBlack/binance-virtual-trader-tool/internal/domain"
)

// CreatePositionRequest carries everything the Store needs to persist a new
// position and its paired OPEN fill/event in a single transaction. Percent
// SL/TP and REST/mark-price resolution happen upstream in Broker; the Store
// only ever sees absolute prices.
type CreatePositionRequest struct {
	Symbol   string
	Side     domain.Side
	SizeMode domain.SizeMode
	// SizeValue is either a USDT notional or a base-asset quantity,
	// depending on SizeMode.
	SizeValue float64
	Leverage  int
	SL        *float64
	TP        *float64
	Notes     string
}

// SLTPPatch updates the mutable SL/TP fields of an OPEN position. A nil
// field is left untouched.
type SLTPPatch struct {
	SL *float64
	TP *float64
}

// Store is the sole durable state boundary: positions, fills, events and
// settings. Every mutation that touches more than one row is atomic.
// Concurrent readers are always safe; writes are serialized by the
// implementation (single physical writer for SQLite).
type Store interface {
	// CreatePosition derives qty from SizeMode, writes the position with
	// status OPEN, feesOpen=openFee, and writes the paired OPEN fill and
	// POSITION_CREATED event in one transaction.
	CreatePosition(ctx context.Context, req CreatePositionRequest, entryPrice, openFee float64) (*domain.Position, error)

	GetPosition(ctx context.Context, id int64) (*domain.Position, error)
	// ListPositions returns positions ordered by entryTime descending. A nil
	// status returns all positions.
	ListPositions(ctx context.Context, status *domain.Status) ([]*domain.Position, error)

	// UpdateSLTP updates only the provided fields on an OPEN position and
	// emits SL_UPDATED or TP_UPDATED (naming the first-updated field when
	// both change). Fails with ErrConflict if the position is CLOSED.
	UpdateSLTP(ctx context.Context, id int64, patch SLTPPatch) (*domain.Position, error)

	// ClosePosition is a guarded, idempotent write: if the row is already
	// CLOSED it returns (nil, nil) and writes nothing. Otherwise it computes
	// realizedPnl, sets the terminal fields, and appends a CLOSE fill and
	// the given event, atomically.
	ClosePosition(ctx context.Context, id int64, closePrice, closeFee float64, event domain.EventType) (*domain.Position, error)

	// DeletePosition unconditionally deletes a position, cascading to its
	// fills and events. Returns false if the position did not exist.
	DeletePosition(ctx context.Context, id int64) (bool, error)

	ListEvents(ctx context.Context, positionID *int64, limit int) ([]*domain.Event, error)

	GetSettings(ctx context.Context) (domain.Settings, error)
	UpdateSettings(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error)

	Close() error
}
