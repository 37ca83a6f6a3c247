package binancefeed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ArialBlack/binance-virtual-trader-tool/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func TestStreamName(t *testing.T) {
	assert.Equal(t, "btcusdt@markPrice", streamName("BTCUSDT"))
}

func TestHandleMessage_UpdatesLastPriceAndPublishesTick(t *testing.T) {
	f := &Feed{
		logger:     nopLogger{},
		subscribed: make(map[string]struct{}),
		lastPrices: make(map[string]float64),
		ticks:      make(chan ports.Tick, 1),
		done:       make(chan struct{}),
	}

	f.handleMessage([]byte(`{"s":"BTCUSDT","p":"50000.5","E":1700000000000}`))

	price, ok := f.LastPrice("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, 50000.5, price)

	select {
	case tick := <-f.Ticks():
		assert.Equal(t, "BTCUSDT", tick.Symbol)
		assert.Equal(t, 50000.5, tick.MarkPrice)
	default:
		t.Fatal("expected a tick to be published")
	}
}

func TestHandleMessage_IgnoresSubscriptionAck(t *testing.T) {
	f := &Feed{
		logger:     nopLogger{},
		subscribed: make(map[string]struct{}),
		lastPrices: make(map[string]float64),
		ticks:      make(chan ports.Tick, 1),
		done:       make(chan struct{}),
	}

	f.handleMessage([]byte(`{"result":null,"id":1}`))

	select {
	case <-f.Ticks():
		t.Fatal("did not expect a tick for a subscription ack")
	default:
	}
}
