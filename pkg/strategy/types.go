package strategy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BarData represents OHLCV data for a single time period
type BarData struct {
	Symbol    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Timeframe string
}

// Validate checks the bar invariants: timezone-aware UTC timestamp,
// low <= min(open, close) <= max(open, close) <= high, volume >= 0.
func (b BarData) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("bar has empty symbol")
	}
	if b.Timestamp.IsZero() {
		return fmt.Errorf("bar %s has zero timestamp", b.Symbol)
	}
	if b.Timestamp.Location() != time.UTC {
		return fmt.Errorf("bar %s @ %s: timestamp must be timezone-aware UTC", b.Symbol, b.Timestamp)
	}
	lo := decimal.Min(b.Open, b.Close)
	hi := decimal.Max(b.Open, b.Close)
	if b.Low.GreaterThan(lo) || hi.GreaterThan(b.High) {
		return fmt.Errorf("bar %s @ %s: OHLC invariant violated (O=%s H=%s L=%s C=%s)",
			b.Symbol, b.Timestamp.Format(time.RFC3339), b.Open, b.High, b.Low, b.Close)
	}
	if b.Volume.IsNegative() {
		return fmt.Errorf("bar %s @ %s: negative volume %s", b.Symbol, b.Timestamp.Format(time.RFC3339), b.Volume)
	}
	return nil
}

// SignalSide represents the direction of a signal
type SignalSide string

const (
	SignalBuy  SignalSide = "BUY"
	SignalSell SignalSide = "SELL"
)

// Signal is an allocation intent emitted by a strategy: put
// PortfolioPercent of current total portfolio value into a position in
// this direction on this symbol. A percent of zero liquidates any
// existing position regardless of side.
type Signal struct {
	Symbol           string
	Side             SignalSide
	Timestamp        time.Time
	PortfolioPercent decimal.Decimal

	// RiskPerShare, when positive, overrides price-based position sizing:
	// shares = floor(allocation / RiskPerShare). Used for volatility-stop
	// sizing; cash and margin constraints still apply afterward.
	RiskPerShare decimal.Decimal
}

// Validate checks that the signal is well-formed.
func (s Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("signal has empty symbol")
	}
	if s.Side != SignalBuy && s.Side != SignalSell {
		return fmt.Errorf("signal %s: invalid side %q", s.Symbol, s.Side)
	}
	if s.PortfolioPercent.IsNegative() || s.PortfolioPercent.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("signal %s: portfolio percent %s outside [0, 1]", s.Symbol, s.PortfolioPercent)
	}
	if s.RiskPerShare.IsNegative() {
		return fmt.Errorf("signal %s: negative risk per share %s", s.Symbol, s.RiskPerShare)
	}
	return nil
}

// IsLiquidation reports whether the signal asks to flatten the position.
func (s Signal) IsLiquidation() bool {
	return s.PortfolioPercent.IsZero()
}

// DecisionContext is the strategy's decision snapshot captured before a
// signal is emitted. Symbol must be the trade symbol the coming signal
// targets, not the signal asset, or the trade-logger join will miss.
type DecisionContext struct {
	Timestamp      time.Time
	Symbol         string
	BarNumber      int
	StateLabel     string
	DecisionReason string
	Indicators     map[string]decimal.Decimal
	Thresholds     map[string]decimal.Decimal
}

// PortfolioSnapshot is the copy of portfolio state handed to a strategy
// before each OnBar call. Mutating it has no effect on the simulation.
type PortfolioSnapshot struct {
	Cash      decimal.Decimal
	Positions map[string]int64
}

// Position returns the signed share count for a symbol, zero when flat.
func (ps PortfolioSnapshot) Position(symbol string) int64 {
	return ps.Positions[symbol]
}
