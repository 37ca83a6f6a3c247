// Package stream implements LiveStream: a Server-Sent Events fan-out hub
// that pushes position updates and trigger events to connected UI clients.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ArialBlack/binance-virtual-trader-tool/internal/calc"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/domain"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/engine"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/ports"
)

const (
	heartbeatPeriod = 30 * time.Second
	clientQueueSize = 64
)

// client is a single connected SSE session. send is a bounded queue;
// overflow drops the oldest queued frame rather than blocking the hub.
type client struct {
	id   uuid.UUID
	send chan []byte
	mu   sync.Mutex
}

func (c *client) enqueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case c.send <- frame:
		return
	default:
	}
	// Drop the oldest queued frame and retry once.
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- frame:
	default:
	}
}

// Hub fans out priceUpdate and triggerExecuted events from an engine.Engine
// to every connected SSE client.
type Hub struct {
	store  ports.Store
	feed   ports.PriceFeed
	engine *engine.Engine
	logger ports.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub constructs a Hub.
func NewHub(store ports.Store, feed ports.PriceFeed, eng *engine.Engine, logger ports.Logger) *Hub {
	return &Hub{
		store:   store,
		feed:    feed,
		engine:  eng,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Run consumes engine events and fans them out until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-h.engine.PriceUpdates():
			if !ok {
				return
			}
			h.broadcastPriceUpdate(ctx, u)
		case t, ok := <-h.engine.TriggerExecutedCh():
			if !ok {
				return
			}
			h.broadcastTriggerExecuted(t)
		}
	}
}

func (h *Hub) broadcastPriceUpdate(ctx context.Context, u engine.PriceUpdate) {
	statusOpen := domain.StatusOpen
	positions, err := h.store.ListPositions(ctx, &statusOpen)
	if err != nil {
		h.logger.Error(ctx, err, "stream: failed to list open positions")
		return
	}
	for _, p := range positions {
		if p.Symbol != u.Symbol {
			continue
		}
		unrealized := calc.UnrealizedPnl(p.Side, p.EntryPrice, u.MarkPrice, p.Qty)
		frame := map[string]interface{}{
			"type": "position-update",
			"payload": map[string]interface{}{
				"id":            p.ID,
				"symbol":        p.Symbol,
				"markPrice":     u.MarkPrice,
				"unrealizedPnl": unrealized,
				"pnlPercent":    calc.PnlPercent(unrealized, p.Qty, p.EntryPrice),
				"ts":            u.Ts,
			},
		}
		h.broadcast(frame)
	}
}

func (h *Hub) broadcastTriggerExecuted(t engine.TriggerExecuted) {
	h.broadcast(map[string]interface{}{
		"type": "trigger-executed",
		"payload": map[string]interface{}{
			"positionId":  t.PositionID,
			"event":       t.Event,
			"closePrice":  t.ClosePrice,
			"realizedPnl": t.RealizedPnl,
		},
	})
}

func (h *Hub) broadcast(v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		h.logger.Error(context.Background(), err, "stream: marshal frame failed")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.enqueue(raw)
	}
}

// ServeHTTP upgrades the request into a Server-Sent Events session: a
// connected frame, an initial snapshot, then a live feed of frames until
// the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c := &client{id: uuid.New(), send: make(chan []byte, clientQueueSize)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
	}()

	writeFrame(w, map[string]interface{}{"type": "connected", "payload": map[string]interface{}{"clientId": c.id.String()}})
	flusher.Flush()

	h.writeInitialSnapshot(r.Context(), w)
	flusher.Flush()

	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.send:
			if _, err := w.Write(sseLine(frame)); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			writeFrame(w, map[string]interface{}{"type": "heartbeat", "payload": map[string]interface{}{"ts": time.Now().UTC().Unix()}})
			flusher.Flush()
		}
	}
}

func (h *Hub) writeInitialSnapshot(ctx context.Context, w http.ResponseWriter) {
	statusOpen := domain.StatusOpen
	positions, err := h.store.ListPositions(ctx, &statusOpen)
	if err != nil {
		h.logger.Error(ctx, err, "stream: failed to build initial snapshot")
		return
	}

	snapshot := make([]map[string]interface{}, 0, len(positions))
	for _, p := range positions {
		entry := map[string]interface{}{
			"id": p.ID, "symbol": p.Symbol, "side": p.Side, "qty": p.Qty,
			"entryPrice": p.EntryPrice, "leverage": p.Leverage, "entryTime": p.EntryTime,
			"sl": p.SL, "tp": p.TP,
		}
		if mark, ok := h.feed.LastPrice(p.Symbol); ok {
			unrealized := calc.UnrealizedPnl(p.Side, p.EntryPrice, mark, p.Qty)
			entry["markPrice"] = mark
			entry["unrealizedPnl"] = unrealized
			entry["pnlPercent"] = calc.PnlPercent(unrealized, p.Qty, p.EntryPrice)
		}
		snapshot = append(snapshot, entry)
	}
	writeFrame(w, map[string]interface{}{"type": "initial", "payload": snapshot})
}

func writeFrame(w http.ResponseWriter, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	w.Write(sseLine(raw))
}

func sseLine(data []byte) []byte {
	return []byte(fmt.Sprintf("data: %s\n\n", data))
}
