package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArialBlack/binance-virtual-trader-tool/internal/adapters/sqlitestore"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/domain"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// fakeFeed is a minimal ports.PriceFeed stand-in driven entirely by test code.
type fakeFeed struct {
	mu            sync.Mutex
	ticks         chan ports.Tick
	unsubscribed  []string
	lastPrices    map[string]float64
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{ticks: make(chan ports.Tick, 16), lastPrices: make(map[string]float64)}
}

func (f *fakeFeed) Subscribe(ctx context.Context, symbol string) error   { return nil }
func (f *fakeFeed) Unsubscribe(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, symbol)
	return nil
}
func (f *fakeFeed) Ticks() <-chan ports.Tick { return f.ticks }
func (f *fakeFeed) LastPrice(symbol string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.lastPrices[symbol]
	return p, ok
}
func (f *fakeFeed) FetchPrice(ctx context.Context, symbol string) (float64, error) { return 0, nil }
func (f *fakeFeed) IsConnected() bool                                             { return true }
func (f *fakeFeed) Close() error                                                  { close(f.ticks); return nil }

func (f *fakeFeed) send(symbol string, price float64) {
	f.mu.Lock()
	f.lastPrices[symbol] = price
	f.mu.Unlock()
	f.ticks <- ports.Tick{Symbol: symbol, MarkPrice: price, Ts: time.Now()}
}

func setupEngine(t *testing.T) (*Engine, *sqlitestore.Store, *fakeFeed) {
	t.Helper()
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: t.TempDir() + "/test.db", Logger: nopLogger{}})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	feed := newFakeFeed()
	eng := New(store, feed, nopLogger{}, func() float64 { return 0.0004 })
	return eng, store, feed
}

func TestEngine_SLPriorityOverTP(t *testing.T) {
	eng, store, feed := setupEngine(t)

	sl, tp := 95.0, 94.0 // misconfigured, per scenario S3
	pos, err := store.CreatePosition(context.Background(), ports.CreatePositionRequest{
		Symbol: "BTCUSDT", Side: domain.Long, SizeMode: domain.SizeQty, SizeValue: 1, Leverage: 1,
		SL: &sl, TP: &tp,
	}, 100, 0.04)
	require.NoError(t, err)
	eng.Track("BTCUSDT", pos.ID)

	go eng.Run(contextWithCancel(t))
	feed.send("BTCUSDT", 94)

	select {
	case ev := <-eng.TriggerExecutedCh():
		assert.Equal(t, domain.EventSLTriggered, ev.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trigger")
	}
}

func TestEngine_AtMostOnceClosure(t *testing.T) {
	eng, store, feed := setupEngine(t)

	sl := 95.0
	pos, err := store.CreatePosition(context.Background(), ports.CreatePositionRequest{
		Symbol: "ETHUSDT", Side: domain.Long, SizeMode: domain.SizeQty, SizeValue: 1, Leverage: 1, SL: &sl,
	}, 100, 0.04)
	require.NoError(t, err)
	eng.Track("ETHUSDT", pos.ID)

	go eng.Run(contextWithCancel(t))
	feed.send("ETHUSDT", 90)
	feed.send("ETHUSDT", 89)

	select {
	case <-eng.TriggerExecutedCh():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trigger")
	}

	select {
	case ev := <-eng.TriggerExecutedCh():
		t.Fatalf("unexpected second trigger: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}

	final, err := store.GetPosition(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, final.Status)

	events, err := store.ListEvents(context.Background(), &pos.ID, 0)
	require.NoError(t, err)
	closeEvents := 0
	for _, e := range events {
		if e.Event.IsCloseEvent() {
			closeEvents++
		}
	}
	assert.Equal(t, 1, closeEvents)
}

func contextWithCancel(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
