package calc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ArialBlack/binance-virtual-trader-tool/internal/domain"
)

func TestUnrealizedPnl(t *testing.T) {
	assert.Equal(t, 100.0, UnrealizedPnl(domain.Long, 100, 110, 10))
	assert.Equal(t, -100.0, UnrealizedPnl(domain.Short, 100, 110, 10))
}

func TestSLTPPriceFromPercent(t *testing.T) {
	assert.Equal(t, 95.0, SLPriceFromPercent(domain.Long, 100, 5))
	assert.Equal(t, 110.0, TPPriceFromPercent(domain.Long, 100, 10))
	assert.Equal(t, 105.0, SLPriceFromPercent(domain.Short, 100, 5))
	assert.Equal(t, 90.0, TPPriceFromPercent(domain.Short, 100, 10))
}

// Percent<->price round trip (invariant 4): the stored SL price must itself
// trigger, and a favorable epsilon away from it must not.
func TestPercentPriceRoundTrip(t *testing.T) {
	for _, side := range []domain.Side{domain.Long, domain.Short} {
		entry := 100.0
		percent := 5.0
		sl := SLPriceFromPercent(side, entry, percent)

		assert.True(t, ShouldTriggerSL(side, sl, &sl))

		favorable := sl + 1.0
		if side == domain.Long {
			favorable = sl + 1.0
		} else {
			favorable = sl - 1.0
		}
		assert.False(t, ShouldTriggerSL(side, favorable, &sl))
	}
}

func TestShouldTriggerSLTP_NilLevelsNeverTrigger(t *testing.T) {
	assert.False(t, ShouldTriggerSL(domain.Long, 50, nil))
	assert.False(t, ShouldTriggerTP(domain.Short, 50, nil))
}

func TestRealizedPnl_S1(t *testing.T) {
	pnl := RealizedPnl(domain.Long, 100, 110, 10, 0.4, 0.44, 0)
	assert.InDelta(t, 99.16, pnl, 1e-9)
}

func TestRealizedPnl_S2(t *testing.T) {
	pnl := RealizedPnl(domain.Short, 50, 52, 2, 0.04, 0.0416, 0)
	assert.InDelta(t, -4.0816, pnl, 1e-9)
}

func TestFeeAndNotional(t *testing.T) {
	n := Notional(10, 110)
	assert.Equal(t, 1100.0, n)
	assert.InDelta(t, 0.44, Fee(n, 0.0004), 1e-9)
}
