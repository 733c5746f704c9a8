package backtester

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ridopark/JonBuhQuant/pkg/logging"
	"github.com/ridopark/JonBuhQuant/pkg/strategy"
)

// contextJoinWindow bounds the symbol+timestamp join between a strategy
// context and the fill it explains.
const contextJoinWindow = 60 * time.Second

// unknownState labels trade records whose fill had no matching context
const unknownState = "Unknown"

// TradeRecord joins one fill with the strategy's decision context and
// the portfolio before/after snapshots. Records are append-only and
// globally numbered.
type TradeRecord struct {
	TradeID        int
	Date           time.Time
	BarNumber      int
	StrategyState  string
	Ticker         string
	Decision       strategy.SignalSide
	DecisionReason string
	OrderType      string
	Shares         int64
	FillPrice      decimal.Decimal
	PositionValue  decimal.Decimal
	Slippage       decimal.Decimal
	Commission     decimal.Decimal

	PortfolioValueBefore decimal.Decimal
	PortfolioValueAfter  decimal.Decimal
	CashBefore           decimal.Decimal
	CashAfter            decimal.Decimal
	AllocationBefore     decimal.Decimal
	AllocationAfter      decimal.Decimal
	CumulativeReturnPct  decimal.Decimal

	Indicators map[string]decimal.Decimal
	Thresholds map[string]decimal.Decimal
}

// TradeLogger correlates strategy decision context with portfolio fills
// in two phases: the strategy logs its context before emitting a signal,
// and the portfolio reports the resulting fill. The join is by trade
// symbol within a small timestamp window, keeping Signal a narrow domain
// type while decision context stays strategy-specific and open-ended.
type TradeLogger struct {
	initialCapital decimal.Decimal
	window         time.Duration
	contexts       []strategy.DecisionContext
	records        []TradeRecord
	logger         zerolog.Logger
}

// NewTradeLogger creates a trade logger for one run
func NewTradeLogger(initialCapital decimal.Decimal) *TradeLogger {
	return &TradeLogger{
		initialCapital: initialCapital,
		window:         contextJoinWindow,
		contexts:       make([]strategy.DecisionContext, 0),
		records:        make([]TradeRecord, 0),
		logger:         logging.GetLogger("tradelog"),
	}
}

// LogStrategyContext is phase 1: the strategy records its decision
// snapshot before emitting a signal. The context symbol must be the
// trade symbol, not the signal asset.
func (tl *TradeLogger) LogStrategyContext(dc strategy.DecisionContext) {
	tl.contexts = append(tl.contexts, dc)
}

// LogTradeExecution is phase 2: the portfolio reports a fill together
// with before/after snapshots. The most recent context matching the
// fill symbol within the join window is attached; without a match the
// record still lands, labeled Unknown.
func (tl *TradeLogger) LogTradeExecution(fill Fill, before, after Snapshot) {
	record := TradeRecord{
		TradeID:              len(tl.records) + 1,
		Date:                 fill.Timestamp,
		StrategyState:        unknownState,
		Ticker:               fill.Symbol,
		Decision:             fill.Direction,
		OrderType:            "MARKET",
		Shares:               fill.Quantity,
		FillPrice:            fill.Price,
		PositionValue:        fill.Price.Mul(decimal.NewFromInt(fill.Quantity)),
		Slippage:             decimal.Zero,
		Commission:           fill.Commission,
		PortfolioValueBefore: before.TotalValue,
		PortfolioValueAfter:  after.TotalValue,
		CashBefore:           before.Cash,
		CashAfter:            after.Cash,
		AllocationBefore:     before.Allocations[fill.Symbol],
		AllocationAfter:      after.Allocations[fill.Symbol],
	}

	if tl.initialCapital.IsPositive() {
		record.CumulativeReturnPct = after.TotalValue.
			DivRound(tl.initialCapital, 8).
			Sub(decimal.NewFromInt(1)).
			Mul(decimal.NewFromInt(100))
	}

	if dc, ok := tl.matchContext(fill); ok {
		record.BarNumber = dc.BarNumber
		record.StrategyState = dc.StateLabel
		record.DecisionReason = dc.DecisionReason
		record.Indicators = dc.Indicators
		record.Thresholds = dc.Thresholds
	} else {
		tl.logger.Debug().
			Str("symbol", fill.Symbol).
			Time("timestamp", fill.Timestamp).
			Msg("No strategy context matched fill")
	}

	tl.records = append(tl.records, record)
}

// matchContext finds the most recent context for the fill's symbol
// within the join window.
func (tl *TradeLogger) matchContext(fill Fill) (strategy.DecisionContext, bool) {
	for i := len(tl.contexts) - 1; i >= 0; i-- {
		dc := tl.contexts[i]
		if dc.Symbol != fill.Symbol {
			continue
		}
		delta := fill.Timestamp.Sub(dc.Timestamp)
		if delta < 0 {
			delta = -delta
		}
		if delta <= tl.window {
			return dc, true
		}
		// Contexts are appended in time order; once past the window on
		// this symbol, older ones cannot match either.
		return strategy.DecisionContext{}, false
	}
	return strategy.DecisionContext{}, false
}

// Records returns all trade records in order
func (tl *TradeLogger) Records() []TradeRecord {
	return tl.records
}
