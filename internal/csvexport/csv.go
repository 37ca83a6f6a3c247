// Package csvexport writes positions to CSV in the fixed column order the
// operator UI expects for download.
package csvexport

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"

	"github.com/ArialBlack/binance-virtual-trader-tool/internal/domain"
)

var header = []string{
	"ID", "Symbol", "Side", "Quantity", "Entry Price", "Close Price",
	"Entry Time", "Close Time", "Realized PnL", "Fees Open", "Fees Close",
	"Funding PnL", "Leverage", "Notes",
}

// Export renders positions as CSV bytes with the exact 14-column order.
func Export(positions []*domain.Position) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, p := range positions {
		if err := w.Write(row(p)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func row(p *domain.Position) []string {
	closePrice, closeTime := "", ""
	if p.ClosePrice != nil {
		closePrice = formatFloat(*p.ClosePrice)
	}
	if p.CloseTime != nil {
		closeTime = p.CloseTime.UTC().Format(time.RFC3339)
	}
	return []string{
		strconv.FormatInt(p.ID, 10),
		p.Symbol,
		string(p.Side),
		formatFloat(p.Qty),
		formatFloat(p.EntryPrice),
		closePrice,
		p.EntryTime.UTC().Format(time.RFC3339),
		closeTime,
		formatFloat(p.RealizedPnl),
		formatFloat(p.FeesOpen),
		formatFloat(p.FeesClose),
		formatFloat(p.FundingPnl),
		strconv.Itoa(p.Leverage),
		p.Notes,
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
