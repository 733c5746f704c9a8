package backtester

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridopark/JonBuhQuant/pkg/feed"
	"github.com/ridopark/JonBuhQuant/pkg/strategy"
)

// runnerProvider serves canned bars per symbol and a fixed baseline quote
type runnerProvider struct {
	bars        map[string][]strategy.BarData
	baselineErr error
}

func (p *runnerProvider) GetBars(symbol, timeframe string, start, end time.Time) ([]strategy.BarData, error) {
	return p.bars[symbol], nil
}

func (p *runnerProvider) FirstAndLastClose(symbol, timeframe string, start, end time.Time) (decimal.Decimal, decimal.Decimal, error) {
	if p.baselineErr != nil {
		return decimal.Zero, decimal.Zero, p.baselineErr
	}
	return dec("100"), dec("105"), nil
}

func risingBars(symbol string, closes ...string) []strategy.BarData {
	day := 24 * time.Hour
	bars := make([]strategy.BarData, 0, len(closes))
	for i, c := range closes {
		bars = append(bars, testBar(symbol, t0.Add(time.Duration(i)*day), c))
	}
	return bars
}

func TestRunnerEndToEnd(t *testing.T) {
	out := t.TempDir()
	cfg := testConfig()
	cfg.OutputDir = out
	cfg.BaselineSymbol = "SPY"

	provider := &runnerProvider{bars: map[string][]strategy.BarData{
		"AAPL": risingBars("AAPL", "100", "110", "120"),
	}}
	s := newScriptStrategy(func(ctx strategy.Context, bar strategy.BarData) error {
		if ctx.BarNumber() == 1 {
			ctx.Buy("AAPL", decimal.NewFromInt(1))
		}
		return nil
	})

	result, err := NewRunner(cfg, s, provider).Run(context.Background(), "20240102_210000")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	require.NotNil(t, result.Report)
	assert.Equal(t, "script", result.Report.StrategyName)
	require.NotNil(t, result.Report.Baseline, "baseline quote resolves from the provider")
	assert.True(t, result.Report.Baseline.TotalReturn.Equal(dec("0.05")))

	assert.Equal(t, filepath.Join(out, "script_20240102_210000.csv"), result.DailyCSVPath)
	assert.Equal(t, filepath.Join(out, "trades", "script_20240102_210000_trades.csv"), result.TradeLogPath)
	assert.Equal(t, filepath.Join(out, "script_20240102_210000_summary.csv"), result.SummaryCSVPath)
	assert.FileExists(t, result.DailyCSVPath)
	assert.FileExists(t, result.TradeLogPath)
	assert.FileExists(t, result.SummaryCSVPath)

	rows := readCSVFile(t, result.DailyCSVPath)
	assert.Len(t, rows, 4, "header plus one row per bar")
}

func TestRunnerNoOutputDirSkipsArtifacts(t *testing.T) {
	cfg := testConfig()
	provider := &runnerProvider{bars: map[string][]strategy.BarData{
		"AAPL": risingBars("AAPL", "100", "110"),
	}}
	s := newScriptStrategy(func(ctx strategy.Context, bar strategy.BarData) error { return nil })

	result, err := NewRunner(cfg, s, provider).Run(context.Background(), "stamp")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Empty(t, result.DailyCSVPath)
	assert.Empty(t, result.TradeLogPath)
}

func TestRunnerBaselineUnavailableDegrades(t *testing.T) {
	cfg := testConfig()
	cfg.BaselineSymbol = "SPY"
	provider := &runnerProvider{
		bars:        map[string][]strategy.BarData{"AAPL": risingBars("AAPL", "100", "110")},
		baselineErr: feed.ErrDataUnavailable,
	}
	s := newScriptStrategy(func(ctx strategy.Context, bar strategy.BarData) error { return nil })

	result, err := NewRunner(cfg, s, provider).Run(context.Background(), "stamp")
	require.NoError(t, err, "a missing baseline never fails the run")
	assert.Nil(t, result.Report.Baseline)
	assert.False(t, result.Report.Alpha.Valid)
}

func TestRunnerFailedRunKeepsPartialArtifacts(t *testing.T) {
	out := t.TempDir()
	cfg := testConfig()
	cfg.OutputDir = out

	provider := &runnerProvider{bars: map[string][]strategy.BarData{
		"AAPL": risingBars("AAPL", "100", "110", "120"),
	}}
	boom := errors.New("indicator blew up")
	s := newScriptStrategy(func(ctx strategy.Context, bar strategy.BarData) error {
		switch ctx.BarNumber() {
		case 1:
			ctx.Buy("AAPL", decimal.NewFromInt(1))
			return nil
		case 2:
			return boom
		}
		return nil
	})

	result, err := NewRunner(cfg, s, provider).Run(context.Background(), "stamp")
	require.Error(t, err)
	var sErr *StrategyError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, StatusFailed, result.Status)

	// The partial curve still gets analyzed and written out
	require.NotNil(t, result.Report)
	assert.Equal(t, 1, result.Report.FillCount)

	rows := readCSVFile(t, result.DailyCSVPath)
	assert.Len(t, rows, 2, "header plus the bar processed before the failure")

	raw, err := os.ReadFile(result.TradeLogPath)
	require.NoError(t, err)
	table, _, found := strings.Cut(string(raw), "\n\nSummary Statistics:\n")
	require.True(t, found)
	trades, err := csv.NewReader(strings.NewReader(table)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, trades, 2, "header plus the fill before the failure")
	assert.FileExists(t, result.SummaryCSVPath)
}

func TestRunnerArtifactsByteIdentical(t *testing.T) {
	newStrategy := func() *scriptStrategy {
		return newScriptStrategy(func(ctx strategy.Context, bar strategy.BarData) error {
			switch ctx.BarNumber() {
			case 1:
				ctx.LogStrategyContext(strategy.DecisionContext{
					Timestamp:      bar.Timestamp,
					Symbol:         "AAPL",
					BarNumber:      ctx.BarNumber(),
					StateLabel:     "Entry",
					DecisionReason: "scripted entry",
					Indicators:     map[string]decimal.Decimal{"FastMA": dec("101.5"), "SlowMA": dec("100.1")},
					Thresholds:     map[string]decimal.Decimal{"Cross": dec("0")},
				})
				ctx.Buy("AAPL", dec("0.9"))
			case 3:
				ctx.Sell("AAPL", decimal.Zero)
			}
			return nil
		})
	}
	runOnce := func(out string) *RunResult {
		cfg := testConfig()
		cfg.OutputDir = out
		cfg.BaselineSymbol = "SPY"
		provider := &runnerProvider{bars: map[string][]strategy.BarData{
			"AAPL": risingBars("AAPL", "100", "110", "120"),
		}}
		result, err := NewRunner(cfg, newStrategy(), provider).Run(context.Background(), "20240102_210000")
		require.NoError(t, err)
		return result
	}

	first := runOnce(t.TempDir())
	second := runOnce(t.TempDir())

	// Identical inputs produce byte-identical artifacts
	for _, pair := range [][2]string{
		{first.DailyCSVPath, second.DailyCSVPath},
		{first.TradeLogPath, second.TradeLogPath},
	} {
		left, err := os.ReadFile(pair[0])
		require.NoError(t, err)
		right, err := os.ReadFile(pair[1])
		require.NoError(t, err)
		assert.Equal(t, left, right, pair[0])
	}
}

func TestRunnerInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Symbols = nil
	s := newScriptStrategy(func(ctx strategy.Context, bar strategy.BarData) error { return nil })

	result, err := NewRunner(cfg, s, &runnerProvider{}).Run(context.Background(), "stamp")
	require.Error(t, err)
	var vErr *InputValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.Equal(t, StatusFailed, result.Status)
}
