package examples

import (
	"github.com/shopspring/decimal"

	"github.com/ridopark/JonBuhQuant/pkg/strategy"
)

// BuyAndHoldStrategy buys the signal symbol on its first bar and holds it
// for the whole run. It is the simplest possible strategy and doubles as
// a sanity check: its report should track the baseline for the same
// symbol almost exactly, off only by commissions and the cash remainder.
type BuyAndHoldStrategy struct {
	*strategy.BaseStrategy
	symbol     string
	allocation decimal.Decimal
	entered    bool
}

// NewBuyAndHoldStrategy creates a buy-and-hold strategy on one symbol
func NewBuyAndHoldStrategy(symbol string, allocation decimal.Decimal) *BuyAndHoldStrategy {
	base := strategy.NewBaseStrategy("buy_and_hold", map[string]interface{}{
		"allocation": allocation,
	})
	return &BuyAndHoldStrategy{
		BaseStrategy: base,
		symbol:       symbol,
		allocation:   allocation,
	}
}

// OnBar enters once on the symbol's first bar and does nothing after
func (s *BuyAndHoldStrategy) OnBar(ctx strategy.Context, bar strategy.BarData) error {
	if s.entered || bar.Symbol != s.symbol {
		return nil
	}

	ctx.LogStrategyContext(strategy.DecisionContext{
		Timestamp:      bar.Timestamp,
		Symbol:         s.symbol,
		BarNumber:      ctx.BarNumber(),
		StateLabel:     "Entering",
		DecisionReason: "first bar of the run",
	})
	ctx.Buy(s.symbol, s.allocation)
	s.entered = true

	ctx.Log("info", "Buy and hold entry", map[string]interface{}{
		"symbol":     s.symbol,
		"price":      bar.Close.String(),
		"allocation": s.allocation.String(),
	})
	return nil
}

func init() {
	strategy.Register(strategy.Descriptor{
		Name:    "buy_and_hold",
		Version: "v1",
		Params: []strategy.ParamSpec{
			{Name: "allocation", Kind: strategy.ParamFloat, Default: 1.0},
		},
		New: func(params map[string]interface{}, symbols strategy.SymbolBindings) (strategy.Strategy, error) {
			alloc := decimal.NewFromFloat(params["allocation"].(float64))
			return NewBuyAndHoldStrategy(symbols.Signal, alloc), nil
		},
	})
}
