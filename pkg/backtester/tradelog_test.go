package backtester

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridopark/JonBuhQuant/pkg/strategy"
)

func snapshotAt(total, cash string) Snapshot {
	return Snapshot{
		TotalValue:  dec(total),
		Cash:        dec(cash),
		Allocations: map[string]decimal.Decimal{},
	}
}

func TestTradeLoggerJoinsContextWithinWindow(t *testing.T) {
	tl := NewTradeLogger(dec("10000"))

	tl.LogStrategyContext(strategy.DecisionContext{
		Timestamp:      t0,
		Symbol:         "TQQQ",
		BarNumber:      42,
		StateLabel:     "Bull",
		DecisionReason: "signal above trend MA",
		Indicators:     map[string]decimal.Decimal{"TrendMA": dec("430.5")},
		Thresholds:     map[string]decimal.Decimal{"VIXThreshold": dec("25")},
	})

	tl.LogTradeExecution(Fill{
		ID: 1, Symbol: "TQQQ", Direction: strategy.SignalBuy,
		Quantity: 10, Price: dec("50"), Commission: dec("0.05"),
		Timestamp: t0.Add(30 * time.Second),
	}, snapshotAt("10000", "10000"), snapshotAt("10999.95", "10499.95"))

	records := tl.Records()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, 1, rec.TradeID)
	assert.Equal(t, "Bull", rec.StrategyState)
	assert.Equal(t, "signal above trend MA", rec.DecisionReason)
	assert.Equal(t, 42, rec.BarNumber)
	assert.True(t, rec.Indicators["TrendMA"].Equal(dec("430.5")))
	assert.True(t, rec.PositionValue.Equal(dec("500")))
	// (10999.95 / 10000 - 1) * 100
	assert.True(t, rec.CumulativeReturnPct.Equal(dec("9.9995")), "got %s", rec.CumulativeReturnPct)
}

func TestTradeLoggerUnknownOutsideWindow(t *testing.T) {
	tl := NewTradeLogger(dec("10000"))

	tl.LogStrategyContext(strategy.DecisionContext{
		Timestamp: t0, Symbol: "TQQQ", StateLabel: "Bull",
	})

	tl.LogTradeExecution(Fill{
		ID: 1, Symbol: "TQQQ", Direction: strategy.SignalBuy,
		Quantity: 10, Price: dec("50"),
		Timestamp: t0.Add(2 * time.Minute),
	}, snapshotAt("10000", "10000"), snapshotAt("10000", "9500"))

	records := tl.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "Unknown", records[0].StrategyState)
	assert.Empty(t, records[0].DecisionReason)
}

func TestTradeLoggerJoinIsPerSymbol(t *testing.T) {
	tl := NewTradeLogger(dec("10000"))

	tl.LogStrategyContext(strategy.DecisionContext{
		Timestamp: t0, Symbol: "SQQQ", StateLabel: "Defense",
	})
	tl.LogStrategyContext(strategy.DecisionContext{
		Timestamp: t0, Symbol: "TQQQ", StateLabel: "Bull",
	})

	tl.LogTradeExecution(Fill{
		ID: 1, Symbol: "SQQQ", Direction: strategy.SignalSell,
		Quantity: 5, Price: dec("20"), Timestamp: t0,
	}, snapshotAt("10000", "10000"), snapshotAt("10000", "10100"))

	records := tl.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "Defense", records[0].StrategyState, "join must match the trade symbol, not the latest context")
}

func TestTradeLoggerMostRecentContextWins(t *testing.T) {
	tl := NewTradeLogger(dec("10000"))

	tl.LogStrategyContext(strategy.DecisionContext{
		Timestamp: t0.Add(-10 * time.Second), Symbol: "TQQQ", StateLabel: "Old",
	})
	tl.LogStrategyContext(strategy.DecisionContext{
		Timestamp: t0, Symbol: "TQQQ", StateLabel: "New",
	})

	tl.LogTradeExecution(Fill{
		ID: 1, Symbol: "TQQQ", Direction: strategy.SignalBuy,
		Quantity: 1, Price: dec("50"), Timestamp: t0,
	}, snapshotAt("10000", "10000"), snapshotAt("10000", "9950"))

	require.Len(t, tl.Records(), 1)
	assert.Equal(t, "New", tl.Records()[0].StrategyState)
}
