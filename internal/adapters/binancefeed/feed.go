// Package binancefeed implements ports.PriceFeed over a hand-rolled
// WebSocket session to Binance's futures mark-price stream, with REST
// fallback for cold-start price resolution.
package binancefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/ArialBlack/binance-virtual-trader-tool/internal/ports"
)

const (
	writeWait         = 10 * time.Second
	pingPeriod        = 30 * time.Second
	maxReconnectTries = 10
)

// Config configures a Feed.
type Config struct {
	WSURL      string // e.g. wss://fstream.binance.com/ws
	RESTClient *futures.Client
	Logger     ports.Logger
}

// Feed implements ports.PriceFeed.
type Feed struct {
	wsURL  string
	rest   *futures.Client
	logger ports.Logger

	mu         sync.RWMutex
	conn       *websocket.Conn
	subscribed map[string]struct{}
	lastPrices map[string]float64
	connected  bool
	nextID     int64

	ticks   chan ports.Tick
	done    chan struct{}
	closeMu sync.Once
}

// New constructs a Feed and starts its connection goroutine.
func New(cfg Config) *Feed {
	f := &Feed{
		wsURL:      cfg.WSURL,
		rest:       cfg.RESTClient,
		logger:     cfg.Logger,
		subscribed: make(map[string]struct{}),
		lastPrices: make(map[string]float64),
		ticks:      make(chan ports.Tick, 256),
		done:       make(chan struct{}),
	}
	go f.run()
	return f
}

type subscribeFrame struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type markPriceMessage struct {
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
	EventTime int64  `json:"E"`
}

// Subscribe adds symbol to the live stream.
func (f *Feed) Subscribe(ctx context.Context, symbol string) error {
	f.mu.Lock()
	if _, ok := f.subscribed[symbol]; ok {
		f.mu.Unlock()
		return nil
	}
	f.subscribed[symbol] = struct{}{}
	conn := f.conn
	f.mu.Unlock()

	if conn == nil {
		return nil // queued; sent as part of the bulk resubscribe on connect
	}
	return f.send(conn, subscribeFrame{Method: "SUBSCRIBE", Params: []string{streamName(symbol)}, ID: f.newID()})
}

// Unsubscribe removes symbol from the live stream.
func (f *Feed) Unsubscribe(ctx context.Context, symbol string) error {
	f.mu.Lock()
	if _, ok := f.subscribed[symbol]; !ok {
		f.mu.Unlock()
		return nil
	}
	delete(f.subscribed, symbol)
	delete(f.lastPrices, symbol)
	conn := f.conn
	f.mu.Unlock()

	if conn == nil {
		return nil
	}
	return f.send(conn, subscribeFrame{Method: "UNSUBSCRIBE", Params: []string{streamName(symbol)}, ID: f.newID()})
}

func streamName(symbol string) string {
	return strings.ToLower(symbol) + "@markPrice"
}

func (f *Feed) newID() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return f.nextID
}

func (f *Feed) send(conn *websocket.Conn, frame subscribeFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("%w: marshal subscribe frame: %v", ports.ErrInternal, err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: write subscribe frame: %v", ports.ErrUpstream, err)
	}
	return nil
}

// Ticks returns the channel mark-price updates are published on.
func (f *Feed) Ticks() <-chan ports.Tick { return f.ticks }

// LastPrice returns the most recent cached mark price for symbol.
func (f *Feed) LastPrice(symbol string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.lastPrices[symbol]
	return p, ok
}

// FetchPrice resolves a price via REST, bypassing the stream cache.
func (f *Feed) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := f.rest.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: fetch price for %s: %v", ports.ErrUpstream, symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("%w: no price returned for %s", ports.ErrUpstream, symbol)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse price for %s: %v", ports.ErrUpstream, symbol, err)
	}
	return price, nil
}

// IsConnected reports whether the underlying session is currently up.
func (f *Feed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// Close tears down the session permanently, suppressing reconnect.
func (f *Feed) Close() error {
	f.closeMu.Do(func() {
		close(f.done)
		f.mu.Lock()
		conn := f.conn
		f.connected = false
		f.mu.Unlock()
		if conn != nil {
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		}
		// f.ticks is deliberately never closed: handleMessage may still be
		// mid-send from the read goroutine when Close returns, and closing a
		// channel a concurrent sender can still write to panics. Consumers
		// must stop reading via their own ctx.Done(), not a closed channel.
	})
	return nil
}

func (f *Feed) run() {
	b := &backoff.Backoff{Min: 1 * time.Second, Max: 30 * time.Second, Factor: 2}
	attempts := 0

	for {
		select {
		case <-f.done:
			return
		default:
		}

		if err := f.connectOnce(); err != nil {
			attempts++
			f.logger.Warn(context.Background(), "binancefeed: connect failed", map[string]interface{}{"attempt": attempts, "error": err.Error()})
			if attempts >= maxReconnectTries {
				f.logger.Error(context.Background(), err, "binancefeed: max reconnect attempts reached, giving up")
				return
			}
			select {
			case <-f.done:
				return
			case <-time.After(b.Duration()):
			}
			continue
		}

		attempts = 0
		b.Reset()
		f.readLoop() // blocks until the connection drops
	}
}

func (f *Feed) connectOnce() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.wsURL, err)
	}

	f.mu.Lock()
	f.conn = conn
	f.connected = true
	symbols := make([]string, 0, len(f.subscribed))
	for s := range f.subscribed {
		symbols = append(symbols, streamName(s))
	}
	f.mu.Unlock()

	if len(symbols) > 0 {
		if err := f.send(conn, subscribeFrame{Method: "SUBSCRIBE", Params: symbols, ID: f.newID()}); err != nil {
			conn.Close()
			return fmt.Errorf("resubscribe: %w", err)
		}
	}

	go f.pingLoop(conn)
	return nil
}

func (f *Feed) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.mu.RLock()
			current := f.conn
			f.mu.RUnlock()
			if current != conn {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *Feed) readLoop() {
	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()

	defer func() {
		f.mu.Lock()
		f.connected = false
		f.conn = nil
		f.mu.Unlock()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
			default:
				f.logger.Warn(context.Background(), "binancefeed: read error, reconnecting", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		f.handleMessage(raw)
	}
}

func (f *Feed) handleMessage(raw []byte) {
	var msg markPriceMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Symbol == "" {
		return // subscription ack or unparseable frame; log-free drop
	}

	price, err := strconv.ParseFloat(msg.MarkPrice, 64)
	if err != nil {
		f.logger.Warn(context.Background(), "binancefeed: bad mark price", map[string]interface{}{"raw": string(raw)})
		return
	}

	symbol := strings.ToUpper(msg.Symbol)
	ts := time.UnixMilli(msg.EventTime)

	f.mu.Lock()
	f.lastPrices[symbol] = price
	f.mu.Unlock()

	select {
	case f.ticks <- ports.Tick{Symbol: symbol, MarkPrice: price, Ts: ts}:
	default:
		f.logger.Warn(context.Background(), "binancefeed: tick channel full, dropping", map[string]interface{}{"symbol": symbol})
	}
}
