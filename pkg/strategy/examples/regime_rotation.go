package examples

import (
	"fmt"

	talib "github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"github.com/ridopark/JonBuhQuant/pkg/strategy"
)

// RegimeRotationStrategy is the signal-asset pattern: indicators run on
// the signal symbol while trades go to separate vehicles. A bull regime
// (signal close above its trend MA, volatility calm) holds the bull
// vehicle; a bear regime rotates into the defense vehicle. Entries are
// risk-sized from the signal symbol's ATR.
//
// The volatility filter reads the VIX index series, which must be in the
// feed alongside the trading vehicles.
type RegimeRotationStrategy struct {
	*strategy.BaseStrategy
	symbols strategy.SymbolBindings

	trendPeriod  int
	atrPeriod    int
	vixThreshold decimal.Decimal
	allocation   decimal.Decimal

	validated bool
	regime    string
}

const (
	regimeBull    = "Bull"
	regimeDefense = "Defense"
)

// NewRegimeRotationStrategy creates a regime rotation strategy
func NewRegimeRotationStrategy(symbols strategy.SymbolBindings, trendPeriod, atrPeriod int, vixThreshold, allocation decimal.Decimal) (*RegimeRotationStrategy, error) {
	if symbols.Signal == "" || symbols.Bull == "" || symbols.Defense == "" {
		return nil, fmt.Errorf("regime rotation needs signal, bull and defense symbols")
	}
	if symbols.Vix == "" {
		return nil, fmt.Errorf("regime rotation needs a vix symbol for the volatility filter")
	}

	base := strategy.NewBaseStrategy("regime_rotation", map[string]interface{}{
		"trend_period":  trendPeriod,
		"atr_period":    atrPeriod,
		"vix_threshold": vixThreshold,
		"allocation":    allocation,
	})

	return &RegimeRotationStrategy{
		BaseStrategy: base,
		symbols:      symbols,
		trendPeriod:  trendPeriod,
		atrPeriod:    atrPeriod,
		vixThreshold: vixThreshold,
		allocation:   allocation,
	}, nil
}

// Initialize logs the symbol bindings
func (s *RegimeRotationStrategy) Initialize(ctx strategy.Context) error {
	ctx.Log("info", "Strategy initialized", map[string]interface{}{
		"strategy": s.GetName(),
		"signal":   s.symbols.Signal,
		"bull":     s.symbols.Bull,
		"defense":  s.symbols.Defense,
		"vix":      s.symbols.Vix,
	})
	return nil
}

// OnBar evaluates the regime on the signal symbol's bars only; bars of
// the trading vehicles just advance the clock.
func (s *RegimeRotationStrategy) OnBar(ctx strategy.Context, bar strategy.BarData) error {
	if bar.Symbol != s.symbols.Signal {
		return nil
	}

	closes := ctx.GetCloses(s.trendPeriod, s.symbols.Signal)
	if len(closes) < s.trendPeriod {
		return nil
	}

	// All bound symbols must be in the feed before the first decision
	if !s.validated {
		required := []string{s.symbols.Signal, s.symbols.Bull, s.symbols.Defense, s.symbols.Vix}
		if err := ctx.RequireSymbols(required); err != nil {
			return err
		}
		s.validated = true
	}

	series := toFloats(closes)
	trendMA := last(talib.Sma(series, s.trendPeriod))
	price := bar.Close.InexactFloat64()

	vixCloses := ctx.GetCloses(1, s.symbols.Vix)
	if len(vixCloses) == 0 {
		return nil
	}
	vix := vixCloses[0]

	calm := vix.LessThan(s.vixThreshold)
	trending := price > trendMA

	regime := regimeDefense
	if trending && calm {
		regime = regimeBull
	}
	if regime == s.regime {
		return nil
	}

	ctx.Log("info", "Regime change", map[string]interface{}{
		"from":     s.regime,
		"to":       regime,
		"price":    bar.Close.String(),
		"trend_ma": trendMA,
		"vix":      vix.String(),
	})

	indicators := map[string]decimal.Decimal{
		"TrendMA":     decimal.NewFromFloat(trendMA),
		"SignalClose": bar.Close,
		"VIX":         vix,
	}
	thresholds := map[string]decimal.Decimal{
		"VIXThreshold": s.vixThreshold,
	}

	switch regime {
	case regimeBull:
		s.rotate(ctx, bar, s.symbols.Defense, s.symbols.Bull, indicators, thresholds,
			"signal above trend MA with calm volatility")
	case regimeDefense:
		reason := "signal below trend MA"
		if !calm {
			reason = fmt.Sprintf("VIX %s above threshold %s", vix, s.vixThreshold)
		}
		s.rotate(ctx, bar, s.symbols.Bull, s.symbols.Defense, indicators, thresholds, reason)
	}

	s.regime = regime
	return nil
}

// rotate liquidates the outgoing vehicle and risk-sizes an entry into
// the incoming one from the signal symbol's ATR.
func (s *RegimeRotationStrategy) rotate(ctx strategy.Context, bar strategy.BarData, exit, enter string, indicators, thresholds map[string]decimal.Decimal, reason string) {
	if ctx.HasPosition(exit) {
		ctx.LogStrategyContext(strategy.DecisionContext{
			Timestamp:      bar.Timestamp,
			Symbol:         exit,
			BarNumber:      ctx.BarNumber(),
			StateLabel:     "Rotating out",
			DecisionReason: reason,
			Indicators:     indicators,
			Thresholds:     thresholds,
		})
		ctx.Sell(exit, decimal.Zero)
	}

	ctx.LogStrategyContext(strategy.DecisionContext{
		Timestamp:      bar.Timestamp,
		Symbol:         enter,
		BarNumber:      ctx.BarNumber(),
		StateLabel:     "Rotating in",
		DecisionReason: reason,
		Indicators:     indicators,
		Thresholds:     thresholds,
	})
	ctx.BuyWithRisk(enter, s.allocation, s.riskPerShare(ctx))
}

// riskPerShare is the signal symbol's latest ATR; zero (price-based
// sizing) until enough bars exist.
func (s *RegimeRotationStrategy) riskPerShare(ctx strategy.Context) decimal.Decimal {
	lookback := s.atrPeriod + 1
	highs := ctx.GetHighs(lookback, s.symbols.Signal)
	lows := ctx.GetLows(lookback, s.symbols.Signal)
	closes := ctx.GetCloses(lookback, s.symbols.Signal)
	if len(closes) < lookback {
		return decimal.Zero
	}

	atr := last(talib.Atr(toFloats(highs), toFloats(lows), toFloats(closes), s.atrPeriod))
	if atr <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(atr)
}

func init() {
	strategy.Register(strategy.Descriptor{
		Name:        "regime_rotation",
		Version:     "v1",
		RequiresVix: true,
		Params: []strategy.ParamSpec{
			{Name: "trend_period", Kind: strategy.ParamInt, Default: 200},
			{Name: "atr_period", Kind: strategy.ParamInt, Default: 14},
			{Name: "vix_threshold", Kind: strategy.ParamFloat, Default: 25.0},
			{Name: "allocation", Kind: strategy.ParamFloat, Default: 0.95},
		},
		New: func(params map[string]interface{}, symbols strategy.SymbolBindings) (strategy.Strategy, error) {
			return NewRegimeRotationStrategy(
				symbols,
				params["trend_period"].(int),
				params["atr_period"].(int),
				decimal.NewFromFloat(params["vix_threshold"].(float64)),
				decimal.NewFromFloat(params["allocation"].(float64)),
			)
		},
	})
}
