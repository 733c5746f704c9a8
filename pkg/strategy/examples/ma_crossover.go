package examples

import (
	"fmt"

	talib "github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"github.com/ridopark/JonBuhQuant/pkg/strategy"
)

// MACrossoverStrategy trades a single symbol on simple moving average
// crossovers: long when the fast MA crosses above the slow MA, flat when
// it crosses back below. Indicator math runs on floats; account effects
// stay decimal in the portfolio.
type MACrossoverStrategy struct {
	*strategy.BaseStrategy
	symbol     string
	fastPeriod int
	slowPeriod int
	allocation decimal.Decimal

	prevFast float64
	prevSlow float64
	primed   bool
}

// NewMACrossoverStrategy creates a moving average crossover strategy
func NewMACrossoverStrategy(symbol string, fastPeriod, slowPeriod int, allocation decimal.Decimal) (*MACrossoverStrategy, error) {
	if fastPeriod >= slowPeriod {
		return nil, fmt.Errorf("fast period %d must be less than slow period %d", fastPeriod, slowPeriod)
	}

	base := strategy.NewBaseStrategy("ma_crossover", map[string]interface{}{
		"fast_period": fastPeriod,
		"slow_period": slowPeriod,
		"allocation":  allocation,
	})

	return &MACrossoverStrategy{
		BaseStrategy: base,
		symbol:       symbol,
		fastPeriod:   fastPeriod,
		slowPeriod:   slowPeriod,
		allocation:   allocation,
	}, nil
}

// Initialize logs the configured periods
func (s *MACrossoverStrategy) Initialize(ctx strategy.Context) error {
	ctx.Log("info", "Strategy initialized", map[string]interface{}{
		"strategy":    s.GetName(),
		"symbol":      s.symbol,
		"fast_period": s.fastPeriod,
		"slow_period": s.slowPeriod,
	})
	return nil
}

// OnBar updates the moving averages and trades the crossovers
func (s *MACrossoverStrategy) OnBar(ctx strategy.Context, bar strategy.BarData) error {
	if bar.Symbol != s.symbol {
		return nil
	}

	closes := ctx.GetCloses(s.slowPeriod, s.symbol)
	if len(closes) < s.slowPeriod {
		return nil
	}

	series := toFloats(closes)
	fast := last(talib.Sma(series, s.fastPeriod))
	slow := last(talib.Sma(series, s.slowPeriod))

	defer func() {
		s.prevFast = fast
		s.prevSlow = slow
		s.primed = true
	}()

	if !s.primed {
		return nil
	}

	wasAbove := s.prevFast > s.prevSlow
	isAbove := fast > slow

	switch {
	case !wasAbove && isAbove && !ctx.HasPosition(s.symbol):
		s.logDecision(ctx, bar, "Long", "fast MA crossed above slow MA", fast, slow)
		ctx.Buy(s.symbol, s.allocation)

	case wasAbove && !isAbove && ctx.HasPosition(s.symbol):
		s.logDecision(ctx, bar, "Flat", "fast MA crossed below slow MA", fast, slow)
		ctx.Sell(s.symbol, decimal.Zero)
	}

	return nil
}

func (s *MACrossoverStrategy) logDecision(ctx strategy.Context, bar strategy.BarData, state, reason string, fast, slow float64) {
	ctx.LogStrategyContext(strategy.DecisionContext{
		Timestamp:      bar.Timestamp,
		Symbol:         s.symbol,
		BarNumber:      ctx.BarNumber(),
		StateLabel:     state,
		DecisionReason: reason,
		Indicators: map[string]decimal.Decimal{
			"FastMA": decimal.NewFromFloat(fast),
			"SlowMA": decimal.NewFromFloat(slow),
			"Close":  bar.Close,
		},
	})
	ctx.Log("info", "MA crossover", map[string]interface{}{
		"symbol": s.symbol,
		"state":  state,
		"fast":   fast,
		"slow":   slow,
		"price":  bar.Close.String(),
	})
}

func toFloats(values []decimal.Decimal) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v.InexactFloat64()
	}
	return out
}

func last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

func init() {
	strategy.Register(strategy.Descriptor{
		Name:    "ma_crossover",
		Version: "v1",
		Params: []strategy.ParamSpec{
			{Name: "fast_period", Kind: strategy.ParamInt, Default: 20},
			{Name: "slow_period", Kind: strategy.ParamInt, Default: 50},
			{Name: "allocation", Kind: strategy.ParamFloat, Default: 0.95},
		},
		New: func(params map[string]interface{}, symbols strategy.SymbolBindings) (strategy.Strategy, error) {
			alloc := decimal.NewFromFloat(params["allocation"].(float64))
			return NewMACrossoverStrategy(symbols.Signal, params["fast_period"].(int), params["slow_period"].(int), alloc)
		},
	})
}
