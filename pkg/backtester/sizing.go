package backtester

import (
	"github.com/shopspring/decimal"

	"github.com/ridopark/JonBuhQuant/pkg/strategy"
)

// shortMarginMultiplier is the Regulation T analog: opening or enlarging
// a short requires 1.5x notional in cash collateral.
var shortMarginMultiplier = decimal.RequireFromString("1.5")

// sizingPrecision bounds the division before flooring to whole shares
const sizingPrecision = 28

// sizeSignal translates allocation dollars into a whole share count.
//
//	long:  shares = floor(A / (p + c))
//	short: shares = floor(A / (p*1.5 + c))
//
// A positive risk-per-share overrides both: shares = floor(A / r), for
// strategies that size by volatility stops. Cash and margin constraints
// are enforced separately after sizing.
func sizeSignal(side strategy.SignalSide, allocation, price, commissionPerShare, riskPerShare decimal.Decimal) int64 {
	if !allocation.IsPositive() {
		return 0
	}

	var perShare decimal.Decimal
	switch {
	case riskPerShare.IsPositive():
		perShare = riskPerShare
	case side == strategy.SignalSell:
		perShare = price.Mul(shortMarginMultiplier).Add(commissionPerShare)
	default:
		perShare = price.Add(commissionPerShare)
	}

	if !perShare.IsPositive() {
		return 0
	}

	shares := allocation.DivRound(perShare, sizingPrecision).Floor().IntPart()
	if shares < 0 {
		return 0
	}
	return shares
}
