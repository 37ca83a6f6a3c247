// Package broker implements the public operations exposed to the HTTP API:
// creating, closing, modifying, listing and deleting positions, stats,
// events, CSV export and settings.
package broker

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/ArialBlack/binance-virtual-trader-tool/internal/calc"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/csvexport"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/domain"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/engine"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/ports"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{5,20}$`)

// CreateRequest is the public-facing request to open a position.
type CreateRequest struct {
	Symbol     string
	Side       domain.Side
	SizeMode   domain.SizeMode
	SizeValue  float64
	Leverage   int
	EntryType  domain.EntryType
	LimitPrice *float64
	SL         *float64
	TP         *float64
	SLMode     domain.PriceMode
	TPMode     domain.PriceMode
	Notes      string
}

// Stats summarizes realized performance across closed positions.
type Stats struct {
	Total          int
	Open           int
	Closed         int
	TotalPnl       float64
	WinRatePercent float64
	AvgRMultiple   float64
	BestSymbol     string
	WorstSymbol    string
	CurrentBalance float64
}

// Broker orchestrates Store, Calc, PriceFeed and the TriggerEngine on behalf
// of the HTTP API.
type Broker struct {
	store      ports.Store
	feed       ports.PriceFeed
	engine     *engine.Engine
	logger     ports.Logger
	quoteAsset string
}

// New constructs a Broker. quoteAsset is the required symbol suffix (e.g.
// "USDT").
func New(store ports.Store, feed ports.PriceFeed, eng *engine.Engine, logger ports.Logger, quoteAsset string) *Broker {
	return &Broker{store: store, feed: feed, engine: eng, logger: logger, quoteAsset: quoteAsset}
}

func (b *Broker) validateSymbol(symbol string) error {
	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("%w: symbol must be 5-20 uppercase alphanumeric characters", ports.ErrValidation)
	}
	if len(symbol) <= len(b.quoteAsset) || symbol[len(symbol)-len(b.quoteAsset):] != b.quoteAsset {
		return fmt.Errorf("%w: symbol must end in quote asset %s", ports.ErrValidation, b.quoteAsset)
	}
	return nil
}

// CreatePosition validates req, resolves the entry price, converts
// percent-mode SL/TP to absolute prices, persists the position and
// subscribes the feed to its symbol.
func (b *Broker) CreatePosition(ctx context.Context, req CreateRequest) (*domain.Position, error) {
	if err := b.validateSymbol(req.Symbol); err != nil {
		return nil, err
	}
	if req.Side != domain.Long && req.Side != domain.Short {
		return nil, fmt.Errorf("%w: side must be LONG or SHORT", ports.ErrValidation)
	}
	if req.Leverage < 1 || req.Leverage > 125 {
		return nil, fmt.Errorf("%w: leverage must be between 1 and 125", ports.ErrValidation)
	}
	if req.SizeValue <= 0 {
		return nil, fmt.Errorf("%w: sizeValue must be positive", ports.ErrValidation)
	}
	if req.EntryType == domain.EntryLimit && (req.LimitPrice == nil || *req.LimitPrice <= 0) {
		return nil, fmt.Errorf("%w: limitPrice must be positive for LIMIT entries", ports.ErrValidation)
	}

	var entryPrice float64
	switch req.EntryType {
	case domain.EntryLimit:
		entryPrice = *req.LimitPrice
	default:
		price, err := b.resolvePrice(ctx, req.Symbol)
		if err != nil {
			return nil, err
		}
		entryPrice = price
	}

	// Percent-mode SL/TP for LIMIT entries uses entryPrice (which equals
	// limitPrice for LIMIT) as the conversion reference.
	sl, err := b.resolveLevel(req.SL, req.SLMode, req.Side, entryPrice, false)
	if err != nil {
		return nil, err
	}
	tp, err := b.resolveLevel(req.TP, req.TPMode, req.Side, entryPrice, true)
	if err != nil {
		return nil, err
	}

	settings, err := b.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	sizeValueForFee := req.SizeValue
	if req.SizeMode == domain.SizeQty {
		sizeValueForFee = calc.Notional(req.SizeValue, entryPrice)
	}
	openFee := calc.Fee(sizeValueForFee, settings.TakerFee)

	pos, err := b.store.CreatePosition(ctx, ports.CreatePositionRequest{
		Symbol: req.Symbol, Side: req.Side, SizeMode: req.SizeMode, SizeValue: req.SizeValue,
		Leverage: req.Leverage, SL: sl, TP: tp, Notes: req.Notes,
	}, entryPrice, openFee)
	if err != nil {
		return nil, err
	}

	if err := b.feed.Subscribe(ctx, pos.Symbol); err != nil {
		b.logger.Warn(ctx, "broker: subscribe failed", map[string]interface{}{"symbol": pos.Symbol, "error": err.Error()})
	}
	b.engine.Track(pos.Symbol, pos.ID)

	return pos, nil
}

func (b *Broker) resolveLevel(value *float64, mode domain.PriceMode, side domain.Side, entryPrice float64, isTP bool) (*float64, error) {
	if value == nil {
		return nil, nil
	}
	if mode == domain.PriceModePrice || mode == "" {
		v := *value
		return &v, nil
	}
	var price float64
	if isTP {
		price = calc.TPPriceFromPercent(side, entryPrice, *value)
	} else {
		price = calc.SLPriceFromPercent(side, entryPrice, *value)
	}
	return &price, nil
}

func (b *Broker) resolvePrice(ctx context.Context, symbol string) (float64, error) {
	if price, ok := b.feed.LastPrice(symbol); ok {
		return price, nil
	}
	price, err := b.feed.FetchPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("%w: fetch price for %s: %v", ports.ErrUpstream, symbol, err)
	}
	return price, nil
}

// ClosePositionManual closes an OPEN position at the current price.
func (b *Broker) ClosePositionManual(ctx context.Context, id int64) (*domain.Position, error) {
	pos, err := b.store.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	if !pos.IsOpen() {
		return nil, fmt.Errorf("%w: position %d already closed", ports.ErrConflict, id)
	}

	closePrice, err := b.resolvePrice(ctx, pos.Symbol)
	if err != nil {
		return nil, err
	}

	settings, err := b.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	closeFee := calc.Fee(calc.Notional(pos.Qty, closePrice), settings.TakerFee)

	closed, err := b.store.ClosePosition(ctx, id, closePrice, closeFee, domain.EventManualClose)
	if err != nil {
		return nil, err
	}
	if closed == nil {
		return nil, fmt.Errorf("%w: position %d already closed", ports.ErrConflict, id)
	}
	b.engine.Untrack(pos.Symbol, id)
	return closed, nil
}

// UpdateSLTP updates an OPEN position's SL/TP.
func (b *Broker) UpdateSLTP(ctx context.Context, id int64, sl, tp *float64) (*domain.Position, error) {
	return b.store.UpdateSLTP(ctx, id, ports.SLTPPatch{SL: sl, TP: tp})
}

// DeletePosition hard-deletes a position, cascading to fills and events.
func (b *Broker) DeletePosition(ctx context.Context, id int64) error {
	pos, err := b.store.GetPosition(ctx, id)
	if err != nil {
		return err
	}
	ok, err := b.store.DeletePosition(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: position %d", ports.ErrNotFound, id)
	}
	b.engine.Untrack(pos.Symbol, id)
	return nil
}

// GetPosition returns a single position.
func (b *Broker) GetPosition(ctx context.Context, id int64) (*domain.Position, error) {
	return b.store.GetPosition(ctx, id)
}

// ListPositions lists positions, optionally filtered by status.
func (b *Broker) ListPositions(ctx context.Context, status *domain.Status) ([]*domain.Position, error) {
	return b.store.ListPositions(ctx, status)
}

// GetEvents returns audit events, optionally filtered by position.
func (b *Broker) GetEvents(ctx context.Context, positionID *int64, limit int) ([]*domain.Event, error) {
	return b.store.ListEvents(ctx, positionID, limit)
}

// GetSettings returns the current settings.
func (b *Broker) GetSettings(ctx context.Context) (domain.Settings, error) {
	return b.store.GetSettings(ctx)
}

// UpdateSettings applies a partial settings update.
func (b *Broker) UpdateSettings(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error) {
	return b.store.UpdateSettings(ctx, patch)
}

// GetStats computes aggregate performance statistics across all positions.
func (b *Broker) GetStats(ctx context.Context) (Stats, error) {
	positions, err := b.store.ListPositions(ctx, nil)
	if err != nil {
		return Stats{}, err
	}
	settings, err := b.store.GetSettings(ctx)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	stats.Total = len(positions)

	var wins, closedCount int
	var rSum float64
	var rCount int
	symbolPnl := map[string]float64{}
	var symbolOrder []string

	for _, p := range positions {
		if p.IsOpen() {
			stats.Open++
			continue
		}
		closedCount++
		stats.TotalPnl += p.RealizedPnl
		if p.RealizedPnl > 0 {
			wins++
		}
		if p.SL != nil {
			risk := p.EntryPrice - *p.SL
			if risk < 0 {
				risk = -risk
			}
			if risk != 0 {
				rSum += (p.RealizedPnl / p.Qty) / risk
				rCount++
			}
		}
		if _, seen := symbolPnl[p.Symbol]; !seen {
			symbolOrder = append(symbolOrder, p.Symbol)
		}
		symbolPnl[p.Symbol] += p.RealizedPnl
	}
	stats.Closed = closedCount

	if closedCount > 0 {
		stats.WinRatePercent = float64(wins) / float64(closedCount) * 100
	}
	if rCount > 0 {
		stats.AvgRMultiple = rSum / float64(rCount)
	}

	stats.BestSymbol, stats.WorstSymbol = bestWorstSymbols(symbolOrder, symbolPnl)
	stats.CurrentBalance = settings.BaseBalance + stats.TotalPnl
	return stats, nil
}

func bestWorstSymbols(order []string, pnl map[string]float64) (best, worst string) {
	if len(order) == 0 {
		return "", ""
	}
	best, worst = order[0], order[0]
	for _, s := range order {
		if pnl[s] > pnl[best] {
			best = s
		}
		if pnl[s] < pnl[worst] {
			worst = s
		}
	}
	return best, worst
}

// ExportCsvRange returns the CSV payload for positions entered within
// [start, end] (both bounds inclusive), optionally filtered by symbol. A zero start/end is
// unbounded on that side.
func (b *Broker) ExportCsvRange(ctx context.Context, start, end time.Time, symbol string) ([]byte, error) {
	positions, err := b.store.ListPositions(ctx, nil)
	if err != nil {
		return nil, err
	}

	filtered := make([]*domain.Position, 0, len(positions))
	for _, p := range positions {
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		if !start.IsZero() && p.EntryTime.Before(start) {
			continue
		}
		if !end.IsZero() && p.EntryTime.After(end) {
			continue
		}
		filtered = append(filtered, p)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].EntryTime.Before(filtered[j].EntryTime) })

	return csvexport.Export(filtered)
}
