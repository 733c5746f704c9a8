package backtester

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the immutable per-run configuration. It is passed by value;
// the kernel never reads process-wide state.
type Config struct {
	StrategyName string
	Symbols      []string
	Timeframe    string
	StartDate    time.Time
	EndDate      time.Time

	InitialCapital     decimal.Decimal
	CommissionPerShare decimal.Decimal
	Slippage           decimal.Decimal

	// BaselineSymbol is the buy-and-hold comparator; empty disables the
	// baseline.
	BaselineSymbol string

	// PeriodsPerYear annualizes the Sharpe ratio. It depends on the
	// timeframe (252 for daily bars) and is required, not assumed.
	PeriodsPerYear int

	OutputDir string
}

// Validate checks the configuration before a run starts
func (c Config) Validate() error {
	if c.StrategyName == "" {
		return &InputValidationError{Msg: "strategy name is empty"}
	}
	if len(c.Symbols) == 0 {
		return &InputValidationError{Msg: "no symbols configured"}
	}
	if !c.EndDate.After(c.StartDate) {
		return &InputValidationError{Msg: fmt.Sprintf("end date %s not after start date %s",
			c.EndDate.Format("2006-01-02"), c.StartDate.Format("2006-01-02"))}
	}
	if !c.InitialCapital.IsPositive() {
		return &InputValidationError{Msg: fmt.Sprintf("initial capital %s must be positive", c.InitialCapital)}
	}
	if c.CommissionPerShare.IsNegative() {
		return &InputValidationError{Msg: fmt.Sprintf("commission per share %s must not be negative", c.CommissionPerShare)}
	}
	if c.PeriodsPerYear <= 0 {
		return &InputValidationError{Msg: "periods per year must be positive"}
	}
	return nil
}
