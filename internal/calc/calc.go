// Package calc implements the pure PnL, fee and SL/TP arithmetic shared by
// Broker and TriggerEngine. Every function is side-effect free.
package calc

import (
	"github.com/shopspring/decimal"

	"github.com/ArialBlack/binance-virtual-trader-tool/internal/domain"
)

// Notional returns qty * price.
func Notional(qty, price float64) float64 {
	return decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(price)).InexactFloat64()
}

// Fee returns notional * rate.
func Fee(notional, rate float64) float64 {
	return decimal.NewFromFloat(notional).Mul(decimal.NewFromFloat(rate)).InexactFloat64()
}

// UnrealizedPnl returns the mark-to-market PnL for an open position.
func UnrealizedPnl(side domain.Side, entryPrice, markPrice, qty float64) float64 {
	diff := decimal.NewFromFloat(markPrice).Sub(decimal.NewFromFloat(entryPrice))
	if side == domain.Short {
		diff = diff.Neg()
	}
	return diff.Mul(decimal.NewFromFloat(qty)).InexactFloat64()
}

// PnlPercent returns unrealizedPnl expressed as a percentage of the entry
// notional, 0 when the notional is zero.
func PnlPercent(unrealizedPnl, qty, entryPrice float64) float64 {
	notional := decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(entryPrice))
	if notional.IsZero() {
		return 0
	}
	return decimal.NewFromFloat(unrealizedPnl).Div(notional).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

// RealizedPnl returns the terminal PnL on close: the gross move
// (closePrice - entryPrice) * qty for LONG, negated for SHORT, minus
// feesOpen, feesClose and fundingPnl.
func RealizedPnl(side domain.Side, entryPrice, closePrice, qty, feesOpen, feesClose, fundingPnl float64) float64 {
	gross := UnrealizedPnl(side, entryPrice, closePrice, qty)
	return decimal.NewFromFloat(gross).
		Sub(decimal.NewFromFloat(feesOpen)).
		Sub(decimal.NewFromFloat(feesClose)).
		Sub(decimal.NewFromFloat(fundingPnl)).
		InexactFloat64()
}

// SLPriceFromPercent converts a stop-loss percentage into an absolute price,
// relative to entryPrice.
func SLPriceFromPercent(side domain.Side, entryPrice, percent float64) float64 {
	sign := decimal.NewFromInt(-1)
	if side == domain.Short {
		sign = decimal.NewFromInt(1)
	}
	return priceFromPercent(entryPrice, percent, sign)
}

// TPPriceFromPercent converts a take-profit percentage into an absolute
// price, relative to entryPrice.
func TPPriceFromPercent(side domain.Side, entryPrice, percent float64) float64 {
	sign := decimal.NewFromInt(1)
	if side == domain.Short {
		sign = decimal.NewFromInt(-1)
	}
	return priceFromPercent(entryPrice, percent, sign)
}

func priceFromPercent(entryPrice, percent float64, sign decimal.Decimal) float64 {
	factor := decimal.NewFromInt(1).Add(sign.Mul(decimal.NewFromFloat(percent)).Div(decimal.NewFromInt(100)))
	return decimal.NewFromFloat(entryPrice).Mul(factor).InexactFloat64()
}

// ShouldTriggerSL reports whether mark has reached the stop-loss level.
func ShouldTriggerSL(side domain.Side, mark float64, sl *float64) bool {
	if sl == nil {
		return false
	}
	if side == domain.Long {
		return mark <= *sl
	}
	return mark >= *sl
}

// ShouldTriggerTP reports whether mark has reached the take-profit level.
func ShouldTriggerTP(side domain.Side, mark float64, tp *float64) bool {
	if tp == nil {
		return false
	}
	if side == domain.Long {
		return mark >= *tp
	}
	return mark <= *tp
}
