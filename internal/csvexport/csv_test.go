package csvexport

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArialBlack/binance-virtual-trader-tool/internal/domain"
)

func TestExport_ColumnOrderAndEscaping(t *testing.T) {
	closePrice := 110.0
	closeTime := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	positions := []*domain.Position{
		{
			ID: 1, Symbol: "BTCUSDT", Side: domain.Long, Qty: 10, EntryPrice: 100,
			EntryTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			ClosePrice: &closePrice, CloseTime: &closeTime,
			RealizedPnl: 99.16, FeesOpen: 0.4, FeesClose: 0.44, Leverage: 1,
			Notes: `has, a comma and "quotes"`,
		},
	}

	out, err := Export(positions)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "ID,Symbol,Side,Quantity,Entry Price,Close Price,Entry Time,Close Time,Realized PnL,Fees Open,Fees Close,Funding PnL,Leverage,Notes", lines[0])
	assert.Contains(t, lines[1], `"has, a comma and ""quotes"""`)
}

func TestExport_OpenPositionHasBlankCloseFields(t *testing.T) {
	positions := []*domain.Position{
		{ID: 2, Symbol: "ETHUSDT", Side: domain.Short, Qty: 1, EntryPrice: 2000, EntryTime: time.Now().UTC()},
	}
	out, err := Export(positions)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "<nil>")
}
