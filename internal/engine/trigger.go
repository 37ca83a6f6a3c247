// Package engine implements the per-tick trigger evaluator that closes
// positions when their stop-loss or take-profit level is crossed.
package engine

import (
	"context"
	"sync"

	"github.com/ArialBlack/binance-virtual-trader-tool/internal/calc"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/domain"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/ports"
)

// PriceUpdate is emitted for every accepted tick.
type PriceUpdate struct {
	Symbol    string
	MarkPrice float64
	Ts        int64
}

// TriggerExecuted is emitted whenever a position is closed by the engine.
type TriggerExecuted struct {
	PositionID  int64
	Event       domain.EventType
	ClosePrice  float64
	RealizedPnl float64
}

// Engine evaluates SL/TP predicates on every tick and closes matching
// positions exactly once. It keeps an in-memory symbol -> position-id index
// so a tick only loads the rows it needs instead of scanning every OPEN
// position.
type Engine struct {
	store    ports.Store
	feed     ports.PriceFeed
	logger   ports.Logger
	takerFee func() float64

	mu    sync.RWMutex
	index map[string]map[int64]struct{}

	priceUpdates    chan PriceUpdate
	triggerExecuted chan TriggerExecuted
}

// New constructs an Engine. takerFee resolves the current taker fee rate
// lazily so Settings changes take effect without restarting the engine.
func New(store ports.Store, feed ports.PriceFeed, logger ports.Logger, takerFee func() float64) *Engine {
	return &Engine{
		store:           store,
		feed:            feed,
		logger:          logger,
		takerFee:        takerFee,
		index:           make(map[string]map[int64]struct{}),
		priceUpdates:    make(chan PriceUpdate, 256),
		triggerExecuted: make(chan TriggerExecuted, 256),
	}
}

// PriceUpdates returns the channel every accepted tick is published on.
func (e *Engine) PriceUpdates() <-chan PriceUpdate { return e.priceUpdates }

// TriggerExecutedCh returns the channel successful closures are published on.
func (e *Engine) TriggerExecutedCh() <-chan TriggerExecuted { return e.triggerExecuted }

// Track registers an OPEN position in the in-memory index. Called by Broker
// after CreatePosition.
func (e *Engine) Track(symbol string, positionID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index[symbol] == nil {
		e.index[symbol] = make(map[int64]struct{})
	}
	e.index[symbol][positionID] = struct{}{}
}

// Untrack removes a position from the in-memory index. Called by Broker
// after a manual close or delete.
func (e *Engine) Untrack(symbol string, positionID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if set, ok := e.index[symbol]; ok {
		delete(set, positionID)
		if len(set) == 0 {
			delete(e.index, symbol)
		}
	}
}

func (e *Engine) trackedIDs(symbol string) []int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	set := e.index[symbol]
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// Run consumes ticks from feed until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-e.feed.Ticks():
			if !ok {
				return
			}
			e.handleTick(ctx, tick)
		}
	}
}

func (e *Engine) handleTick(ctx context.Context, tick ports.Tick) {
	e.publish(PriceUpdate{Symbol: tick.Symbol, MarkPrice: tick.MarkPrice, Ts: tick.Ts.UnixMilli()})

	ids := e.trackedIDs(tick.Symbol)
	// Sorted ascending by id so evaluation order is deterministic.
	sortInt64s(ids)

	for _, id := range ids {
		pos, err := e.store.GetPosition(ctx, id)
		if err != nil {
			e.logger.Error(ctx, err, "engine: failed to load position", map[string]interface{}{"positionId": id})
			continue
		}
		if !pos.IsOpen() {
			e.Untrack(tick.Symbol, id)
			continue
		}

		if calc.ShouldTriggerSL(pos.Side, tick.MarkPrice, pos.SL) {
			e.close(ctx, pos, tick.MarkPrice, domain.EventSLTriggered)
			continue
		}
		if calc.ShouldTriggerTP(pos.Side, tick.MarkPrice, pos.TP) {
			e.close(ctx, pos, tick.MarkPrice, domain.EventTPTriggered)
		}
	}

	if len(e.trackedIDs(tick.Symbol)) == 0 {
		if err := e.feed.Unsubscribe(ctx, tick.Symbol); err != nil {
			e.logger.Warn(ctx, "engine: unsubscribe failed", map[string]interface{}{"symbol": tick.Symbol, "error": err.Error()})
		}
	}
}

func (e *Engine) close(ctx context.Context, pos *domain.Position, markPrice float64, event domain.EventType) {
	fee := calc.Fee(calc.Notional(pos.Qty, markPrice), e.takerFee())
	closed, err := e.store.ClosePosition(ctx, pos.ID, markPrice, fee, event)
	if err != nil {
		e.logger.Error(ctx, err, "engine: close failed", map[string]interface{}{"positionId": pos.ID})
		return
	}
	if closed == nil {
		// Already closed by a concurrent attempt; treated as handled.
		e.Untrack(pos.Symbol, pos.ID)
		return
	}
	e.Untrack(pos.Symbol, pos.ID)
	e.publishTrigger(TriggerExecuted{
		PositionID:  closed.ID,
		Event:       event,
		ClosePrice:  markPrice,
		RealizedPnl: closed.RealizedPnl,
	})
}

func (e *Engine) publish(u PriceUpdate) {
	select {
	case e.priceUpdates <- u:
	default:
		e.logger.Warn(context.Background(), "engine: priceUpdate channel full, dropping", map[string]interface{}{"symbol": u.Symbol})
	}
}

func (e *Engine) publishTrigger(t TriggerExecuted) {
	select {
	case e.triggerExecuted <- t:
	default:
		e.logger.Warn(context.Background(), "engine: triggerExecuted channel full, dropping", map[string]interface{}{"positionId": t.PositionID})
	}
}

func sortInt64s(s []int64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
