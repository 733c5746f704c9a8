package backtester

import (
	"github.com/shopspring/decimal"

	"github.com/ridopark/JonBuhQuant/pkg/strategy"
)

// StrategyContext implements the strategy.Context interface for
// backtesting. It owns the per-tick signal queue and the state copies
// the strategy is allowed to see.
type StrategyContext struct {
	engine   *Engine
	pending  []strategy.Signal
	snapshot strategy.PortfolioSnapshot
}

// NewStrategyContext creates a new strategy context
func NewStrategyContext(engine *Engine) *StrategyContext {
	return &StrategyContext{
		engine:  engine,
		pending: make([]strategy.Signal, 0, 4),
	}
}

// refreshPortfolioState copies cash and positions for the coming OnBar call
func (sc *StrategyContext) refreshPortfolioState() {
	sc.snapshot = strategy.PortfolioSnapshot{
		Cash:      sc.engine.portfolio.GetCash(),
		Positions: sc.engine.portfolio.GetPositions(),
	}
}

// takeSignals drains the per-tick queue in emission order
func (sc *StrategyContext) takeSignals() []strategy.Signal {
	signals := sc.pending
	sc.pending = make([]strategy.Signal, 0, 4)
	return signals
}

func (sc *StrategyContext) emit(symbol string, side strategy.SignalSide, pct, risk decimal.Decimal) {
	sc.pending = append(sc.pending, strategy.Signal{
		Symbol:           symbol,
		Side:             side,
		Timestamp:        sc.engine.currentTime,
		PortfolioPercent: pct,
		RiskPerShare:     risk,
	})
}

// Buy emits a BUY signal for the current tick
func (sc *StrategyContext) Buy(symbol string, portfolioPercent decimal.Decimal) {
	sc.emit(symbol, strategy.SignalBuy, portfolioPercent, decimal.Zero)
}

// Sell emits a SELL signal for the current tick
func (sc *StrategyContext) Sell(symbol string, portfolioPercent decimal.Decimal) {
	sc.emit(symbol, strategy.SignalSell, portfolioPercent, decimal.Zero)
}

// BuyWithRisk emits a BUY signal sized by risk per share
func (sc *StrategyContext) BuyWithRisk(symbol string, portfolioPercent, riskPerShare decimal.Decimal) {
	sc.emit(symbol, strategy.SignalBuy, portfolioPercent, riskPerShare)
}

// SellWithRisk emits a SELL signal sized by risk per share
func (sc *StrategyContext) SellWithRisk(symbol string, portfolioPercent, riskPerShare decimal.Decimal) {
	sc.emit(symbol, strategy.SignalSell, portfolioPercent, riskPerShare)
}

// GetCloses returns the last lookback closes, filtered by symbol
func (sc *StrategyContext) GetCloses(lookback int, symbol string) []decimal.Decimal {
	return sc.engine.history.Closes(lookback, symbol)
}

// GetHighs returns the last lookback highs, filtered by symbol
func (sc *StrategyContext) GetHighs(lookback int, symbol string) []decimal.Decimal {
	return sc.engine.history.Highs(lookback, symbol)
}

// GetLows returns the last lookback lows, filtered by symbol
func (sc *StrategyContext) GetLows(lookback int, symbol string) []decimal.Decimal {
	return sc.engine.history.Lows(lookback, symbol)
}

// ObservedSymbols returns the sorted set of symbols seen so far
func (sc *StrategyContext) ObservedSymbols() []string {
	return sc.engine.history.ObservedSymbols()
}

// RequireSymbols verifies all named symbols have been observed
func (sc *StrategyContext) RequireSymbols(symbols []string) error {
	return sc.engine.history.RequireSymbols(symbols)
}

// BarNumber returns the global sequential bar counter
func (sc *StrategyContext) BarNumber() int {
	return sc.engine.barNumber
}

// HasPosition reports whether there is a nonzero position in the symbol
func (sc *StrategyContext) HasPosition(symbol string) bool {
	return sc.snapshot.Position(symbol) != 0
}

// GetPosition returns the signed share count for a symbol
func (sc *StrategyContext) GetPosition(symbol string) int64 {
	return sc.snapshot.Position(symbol)
}

// GetCash returns the cash balance as of the last snapshot
func (sc *StrategyContext) GetCash() decimal.Decimal {
	return sc.snapshot.Cash
}

// LogStrategyContext forwards the decision snapshot to the trade logger
func (sc *StrategyContext) LogStrategyContext(dc strategy.DecisionContext) {
	if sc.engine.tradeLogger != nil {
		sc.engine.tradeLogger.LogStrategyContext(dc)
	}
}

// Log emits a structured log message on the engine's strategy logger
func (sc *StrategyContext) Log(level string, message string, fields map[string]interface{}) {
	var ev = sc.engine.strategyLogger.Debug()
	switch level {
	case "info":
		ev = sc.engine.strategyLogger.Info()
	case "warn":
		ev = sc.engine.strategyLogger.Warn()
	case "error":
		ev = sc.engine.strategyLogger.Error()
	}
	ev.Fields(fields).Msg(message)
}

var _ strategy.Context = (*StrategyContext)(nil)
