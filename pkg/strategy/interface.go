package strategy

import (
	"github.com/shopspring/decimal"
)

// Context provides strategy access to market history, portfolio state and
// signal emission. Implemented by the backtester; strategies never touch
// cash or positions directly.
type Context interface {
	// Signal emission. Signals are queued and executed in emission order
	// after OnBar returns. A portfolio percent of zero liquidates.
	Buy(symbol string, portfolioPercent decimal.Decimal)
	Sell(symbol string, portfolioPercent decimal.Decimal)
	BuyWithRisk(symbol string, portfolioPercent, riskPerShare decimal.Decimal)
	SellWithRisk(symbol string, portfolioPercent, riskPerShare decimal.Decimal)

	// Windowed history access. A strategy trading multiple symbols MUST
	// pass the symbol; the mixed-symbol history is unusable for indicator
	// math. Passing "" returns the interleaved history of all symbols.
	GetCloses(lookback int, symbol string) []decimal.Decimal
	GetHighs(lookback int, symbol string) []decimal.Decimal
	GetLows(lookback int, symbol string) []decimal.Decimal

	// ObservedSymbols returns the sorted set of symbols seen so far.
	ObservedSymbols() []string

	// RequireSymbols fails with a message listing missing vs available
	// symbols when any of the named symbols has not been observed yet.
	RequireSymbols(symbols []string) error

	// BarNumber returns the global sequential bar counter.
	BarNumber() int

	// Portfolio state (copies, refreshed before each OnBar call).
	HasPosition(symbol string) bool
	GetPosition(symbol string) int64
	GetCash() decimal.Decimal

	// LogStrategyContext records the decision snapshot that the trade
	// logger joins with the next matching fill.
	LogStrategyContext(dc DecisionContext)

	// Log emits a structured log message
	Log(level string, message string, fields map[string]interface{})
}

// Strategy defines the interface that all trading strategies must implement
type Strategy interface {
	// Initialize is called once before the strategy starts
	Initialize(ctx Context) error

	// OnBar is called for each bar of market data, after the bar has been
	// appended to the strategy history and the portfolio snapshot has been
	// refreshed. Signals are emitted through the context.
	OnBar(ctx Context, bar BarData) error

	// Cleanup is called when the run ends
	Cleanup(ctx Context) error

	// GetName returns the strategy name
	GetName() string

	// GetParameters returns the strategy parameters
	GetParameters() map[string]interface{}
}
