package backtester

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridopark/JonBuhQuant/pkg/strategy"
)

func curveOf(start time.Time, values ...string) []EquityPoint {
	curve := make([]EquityPoint, len(values))
	for i, v := range values {
		curve[i] = EquityPoint{Timestamp: start.Add(time.Duration(i) * 24 * time.Hour), Value: dec(v)}
	}
	return curve
}

func TestAnalyzerTotalReturn(t *testing.T) {
	a := NewAnalyzer(252)
	curve := curveOf(t0, "10000", "11000", "12100")

	r := a.Analyze("test", curve, nil, dec("10000"), 0, nil)

	require.True(t, r.TotalReturn.Valid)
	assert.True(t, r.TotalReturn.Value.Equal(dec("0.21")), "got %s", r.TotalReturn.Value)
	assert.True(t, r.FinalValue.Equal(dec("12100")))
	require.True(t, r.AnnualizedReturn.Valid, "two elapsed days annualize")
	assert.True(t, r.AnnualizedReturn.Value.GreaterThan(decimal.Zero))
}

func TestAnalyzerEmptyCurveAllNA(t *testing.T) {
	a := NewAnalyzer(252)
	r := a.Analyze("test", nil, nil, dec("10000"), 3, nil)

	assert.False(t, r.TotalReturn.Valid)
	assert.False(t, r.AnnualizedReturn.Valid)
	assert.False(t, r.MaxDrawdown.Valid)
	assert.False(t, r.SharpeRatio.Valid)
	assert.False(t, r.WinRate.Valid)
	assert.Equal(t, 3, r.Rejections)
}

func TestAnalyzerMaxDrawdown(t *testing.T) {
	a := NewAnalyzer(252)
	curve := curveOf(t0, "10000", "12000", "9000", "11000")

	r := a.Analyze("test", curve, nil, dec("10000"), 0, nil)

	require.True(t, r.MaxDrawdown.Valid)
	// 9000 / 12000 - 1 = -0.25
	assert.True(t, r.MaxDrawdown.Value.Equal(dec("-0.25")), "got %s", r.MaxDrawdown.Value)
	assert.False(t, r.DrawdownClamped)
}

func TestAnalyzerDrawdownClampedAtZeroEquity(t *testing.T) {
	a := NewAnalyzer(252)
	curve := curveOf(t0, "10000", "0", "5000")

	r := a.Analyze("test", curve, nil, dec("10000"), 0, nil)

	require.True(t, r.MaxDrawdown.Valid)
	assert.True(t, r.MaxDrawdown.Value.Equal(dec("-0.99999999")), "clamped inside (-1, 0], got %s", r.MaxDrawdown.Value)
	assert.True(t, r.DrawdownClamped)
}

func TestAnalyzerSharpeUndefined(t *testing.T) {
	a := NewAnalyzer(252)

	// One return observation
	r := a.Analyze("test", curveOf(t0, "10000", "10100"), nil, dec("10000"), 0, nil)
	assert.False(t, r.SharpeRatio.Valid)

	// Zero deviation
	r = a.Analyze("test", curveOf(t0, "10000", "10000", "10000", "10000"), nil, dec("10000"), 0, nil)
	assert.False(t, r.SharpeRatio.Valid)
}

func TestAnalyzerSharpeDefined(t *testing.T) {
	a := NewAnalyzer(252)
	r := a.Analyze("test", curveOf(t0, "10000", "10100", "10050", "10200", "10300"), nil, dec("10000"), 0, nil)
	assert.True(t, r.SharpeRatio.Valid)
}

func TestAnalyzerRoundTripsAndWinStats(t *testing.T) {
	a := NewAnalyzer(252)
	fills := []Fill{
		{ID: 1, Symbol: "AAPL", Direction: strategy.SignalBuy, Quantity: 10, Price: dec("100"), Commission: dec("1"), Timestamp: t0},
		{ID: 2, Symbol: "AAPL", Direction: strategy.SignalSell, Quantity: 10, Price: dec("110"), Commission: dec("1"), Timestamp: t0.Add(24 * time.Hour)},
		{ID: 3, Symbol: "TSLA", Direction: strategy.SignalBuy, Quantity: 5, Price: dec("200"), Commission: decimal.Zero, Timestamp: t0},
		{ID: 4, Symbol: "TSLA", Direction: strategy.SignalSell, Quantity: 5, Price: dec("190"), Commission: decimal.Zero, Timestamp: t0.Add(24 * time.Hour)},
	}

	r := a.Analyze("test", curveOf(t0, "10000", "10048"), fills, dec("10000"), 0, nil)

	require.Len(t, r.RoundTrips, 2)
	// AAPL: (110-100)*10 - 1 - 1 = 98
	assert.True(t, r.RoundTrips[0].PnL.Equal(dec("98")), "got %s", r.RoundTrips[0].PnL)
	// TSLA: (190-200)*5 = -50
	assert.True(t, r.RoundTrips[1].PnL.Equal(dec("-50")), "got %s", r.RoundTrips[1].PnL)

	assert.Equal(t, 2, r.TotalTrades)
	assert.Equal(t, 1, r.WinningTrades)
	assert.Equal(t, 1, r.LosingTrades)
	require.True(t, r.WinRate.Valid)
	assert.True(t, r.WinRate.Value.Equal(dec("0.5")))
	require.True(t, r.ProfitFactor.Valid)
	assert.True(t, r.ProfitFactor.Value.Equal(dec("1.96")), "98 / 50, got %s", r.ProfitFactor.Value)
	assert.Equal(t, 4, r.FillCount)
}

func TestAnalyzerShortRoundTrip(t *testing.T) {
	fills := []Fill{
		{ID: 1, Symbol: "TSLA", Direction: strategy.SignalSell, Quantity: 10, Price: dec("200"), Commission: decimal.Zero, Timestamp: t0},
		{ID: 2, Symbol: "TSLA", Direction: strategy.SignalBuy, Quantity: 10, Price: dec("180"), Commission: decimal.Zero, Timestamp: t0.Add(24 * time.Hour)},
	}

	trips := pairRoundTrips(fills)
	require.Len(t, trips, 1)
	assert.Equal(t, strategy.SignalSell, trips[0].Direction)
	// Short 200, cover 180: +20 per share
	assert.True(t, trips[0].PnL.Equal(dec("200")), "got %s", trips[0].PnL)
}

func TestAnalyzerPartialCloseExtendsLot(t *testing.T) {
	fills := []Fill{
		{ID: 1, Symbol: "AAPL", Direction: strategy.SignalBuy, Quantity: 10, Price: dec("100"), Commission: decimal.Zero, Timestamp: t0},
		{ID: 2, Symbol: "AAPL", Direction: strategy.SignalBuy, Quantity: 10, Price: dec("120"), Commission: decimal.Zero, Timestamp: t0.Add(time.Hour)},
		{ID: 3, Symbol: "AAPL", Direction: strategy.SignalSell, Quantity: 5, Price: dec("130"), Commission: decimal.Zero, Timestamp: t0.Add(2 * time.Hour)},
	}

	trips := pairRoundTrips(fills)
	require.Len(t, trips, 1)
	assert.Equal(t, int64(5), trips[0].Quantity)
	// Weighted average entry (10*100 + 10*120) / 20 = 110
	assert.True(t, trips[0].EntryPrice.Equal(dec("110")))
	assert.True(t, trips[0].PnL.Equal(dec("100")), "(130-110)*5, got %s", trips[0].PnL)
}

func TestAnalyzerBaselineAndAlpha(t *testing.T) {
	a := NewAnalyzer(252)
	curve := curveOf(t0, "10000", "12100")

	r := a.Analyze("test", curve, nil, dec("10000"), 0, &BaselineQuote{
		Symbol:     "SPY",
		FirstClose: dec("100"),
		LastClose:  dec("120"),
	})

	require.NotNil(t, r.Baseline)
	assert.True(t, r.Baseline.TotalReturn.Equal(dec("0.2")), "got %s", r.Baseline.TotalReturn)
	assert.True(t, r.Baseline.FinalValue.Equal(dec("12000")))
	require.True(t, r.Alpha.Valid)
	// 0.21 / 0.2 = 1.05
	assert.True(t, r.Alpha.Value.Equal(dec("1.05")), "got %s", r.Alpha.Value)
}

func TestAnalyzeBaselineStandalone(t *testing.T) {
	br := AnalyzeBaseline(&BaselineQuote{
		Symbol: "SPY", FirstClose: dec("100"), LastClose: dec("110"),
	}, dec("10000"), t0, t0.Add(365*24*time.Hour))

	require.NotNil(t, br)
	assert.True(t, br.TotalReturn.Equal(dec("0.1")))
	assert.True(t, br.FinalValue.Equal(dec("11000")))
	assert.True(t, br.AnnualizedReturn.Valid)

	assert.Nil(t, AnalyzeBaseline(nil, dec("10000"), t0, t0), "nil quote degrades to absent")
}
