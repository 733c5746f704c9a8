package gridsearch

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridopark/JonBuhQuant/pkg/feed"
	"github.com/ridopark/JonBuhQuant/pkg/strategy"
)

// gridProvider synthesizes rising daily bars for every symbol except
// those listed as missing, and counts GetBars calls per symbol.
type gridProvider struct {
	missing map[string]bool
	calls   map[string]int
}

func newGridProvider(missing ...string) *gridProvider {
	m := map[string]bool{}
	for _, sym := range missing {
		m[sym] = true
	}
	return &gridProvider{missing: m, calls: map[string]int{}}
}

func (p *gridProvider) GetBars(symbol, timeframe string, start, end time.Time) ([]strategy.BarData, error) {
	p.calls[symbol]++
	if p.missing[symbol] {
		return nil, nil
	}
	bars := make([]strategy.BarData, 0, 5)
	for i := 0; i < 5; i++ {
		c := decimal.NewFromInt(int64(100 + i))
		bars = append(bars, strategy.BarData{
			Symbol:    symbol,
			Timestamp: start.Add(time.Duration(i) * 24 * time.Hour).UTC(),
			Open:      c, High: c, Low: c, Close: c,
			Volume:    decimal.NewFromInt(1000),
			Timeframe: timeframe,
		})
	}
	return bars, nil
}

func (p *gridProvider) FirstAndLastClose(symbol, timeframe string, start, end time.Time) (decimal.Decimal, decimal.Decimal, error) {
	if p.missing[symbol] {
		return decimal.Zero, decimal.Zero, feed.ErrDataUnavailable
	}
	return decimal.NewFromInt(100), decimal.NewFromInt(104), nil
}

func gridConfig(t *testing.T, outputDir string, signals ...string) *Config {
	t.Helper()
	sets := ""
	for _, sym := range signals {
		sets += fmt.Sprintf("  - signal_symbol: %s\n", sym)
	}
	yaml := `
strategy: buy_and_hold
symbol_sets:
` + sets + `
base_config:
  start_date: "2023-01-02"
  end_date: "2023-01-09"
  timeframe: 1d
  initial_capital: "10000"
  commission: "0"
  baseline_symbol: SPY
  periods_per_year: 252
parameters:
  allocation: [0.5, 1.0]
checkpoint_interval: 1
output_dir: ` + outputDir + "\n"

	cfg, err := LoadConfig(writeConfig(t, yaml))
	require.NoError(t, err)
	return cfg
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCombinationsDeterministic(t *testing.T) {
	cfg := gridConfig(t, t.TempDir(), "QQQ", "SPY")
	o := NewOrchestrator(cfg, newGridProvider())

	combos := o.Combinations()
	require.Len(t, combos, 4)
	assert.Equal(t, "001", combos[0].ID)
	assert.Equal(t, "004", combos[3].ID)

	// Symbol sets outer, sorted parameter values in config order inner
	assert.Equal(t, "QQQ", combos[0].Set.Signal)
	assert.Equal(t, 0.5, combos[0].Params["allocation"])
	assert.Equal(t, 1.0, combos[1].Params["allocation"])
	assert.Equal(t, "SPY", combos[2].Set.Signal)

	// Expansion is a pure function of the config
	again := NewOrchestrator(cfg, newGridProvider()).Combinations()
	assert.Equal(t, combos, again)
}

func TestOrchestratorRunWritesArtifacts(t *testing.T) {
	out := t.TempDir()
	cfg := gridConfig(t, out, "QQQ")
	o := NewOrchestrator(cfg, newGridProvider())

	require.NoError(t, o.Run(context.Background()))

	rows := readCSV(t, filepath.Join(out, summaryFile))
	require.Len(t, rows, 4, "header + baseline + 2 runs")
	assert.Equal(t, "Run_ID", rows[0][0])
	assert.Equal(t, baselineRunID, rows[1][0])
	assert.Contains(t, rows[1][1], "buy-and-hold")
	assert.Equal(t, "001", rows[2][0])
	assert.Equal(t, "002", rows[3][0])

	statusCol := indexOf(t, rows[0], "Status")
	assert.Equal(t, "COMPLETED", rows[2][statusCol])
	assert.Equal(t, "COMPLETED", rows[3][statusCol])

	// Per-run artifact directories
	runCfg := readCSV(t, filepath.Join(out, "run_001", "run_config.csv"))
	assert.Equal(t, []string{"Key", "Value"}, runCfg[0])
	assert.FileExists(t, filepath.Join(out, "run_001", "buy_and_hold_001.csv"))
	assert.FileExists(t, filepath.Join(out, "run_001", "trades", "buy_and_hold_001_trades.csv"))
	assert.FileExists(t, filepath.Join(out, "run_001", "buy_and_hold_001_summary.csv"))
	assert.FileExists(t, filepath.Join(out, checkpointFile))
	assert.FileExists(t, filepath.Join(out, readmeFile))

	// Grid-level run index: one row per combination
	index := readCSV(t, filepath.Join(out, runIndexFile))
	require.Len(t, index, 3)
	assert.Equal(t, "Run_ID", index[0][0])
	assert.Contains(t, index[0], "allocation")
	assert.Equal(t, "001", index[1][0])
	assert.Equal(t, "0.5", index[1][indexOf(t, index[0], "allocation")])
	assert.Equal(t, "002", index[2][0])
}

func TestOrchestratorRejectsEmptyOutputDir(t *testing.T) {
	cfg := gridConfig(t, t.TempDir(), "QQQ")
	cfg.OutputDir = ""

	err := NewOrchestrator(cfg, newGridProvider()).Run(context.Background())
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestOrchestratorResumeSkipsCompleted(t *testing.T) {
	out := t.TempDir()
	cfg := gridConfig(t, out, "QQQ")

	first := newGridProvider()
	require.NoError(t, NewOrchestrator(cfg, first).Run(context.Background()))
	require.Greater(t, first.calls["QQQ"], 0)

	// Same output directory: the checkpoint marks everything done
	second := newGridProvider()
	require.NoError(t, NewOrchestrator(cfg, second).Run(context.Background()))
	assert.Zero(t, second.calls["QQQ"], "completed runs are not re-executed")

	rows := readCSV(t, filepath.Join(out, summaryFile))
	assert.Len(t, rows, 4, "resumed summary still carries every run from the checkpoint")
}

func TestOrchestratorCheckpointStrategyMismatch(t *testing.T) {
	out := t.TempDir()
	cfg := gridConfig(t, out, "QQQ")
	require.NoError(t, NewOrchestrator(cfg, newGridProvider()).Run(context.Background()))

	mismatched := gridConfig(t, out, "QQQ")
	mismatched.Strategy = "ma_crossover"
	err := NewOrchestrator(mismatched, newGridProvider()).Run(context.Background())
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestOrchestratorFailureIsolation(t *testing.T) {
	out := t.TempDir()
	cfg := gridConfig(t, out, "QQQ", "NODATA")
	o := NewOrchestrator(cfg, newGridProvider("NODATA"))

	require.NoError(t, o.Run(context.Background()), "a failing cell does not abort the sweep")

	rows := readCSV(t, filepath.Join(out, summaryFile))
	statusCol := indexOf(t, rows[0], "Status")
	errCol := indexOf(t, rows[0], "Error")

	byID := map[string][]string{}
	for _, row := range rows[1:] {
		byID[row[0]] = row
	}
	assert.Equal(t, "COMPLETED", byID["001"][statusCol])
	assert.Equal(t, "COMPLETED", byID["002"][statusCol])
	assert.Equal(t, "FAILED", byID["003"][statusCol])
	assert.Contains(t, byID["003"][errCol], "NODATA")
}

func TestOrchestratorCancellation(t *testing.T) {
	out := t.TempDir()
	cfg := gridConfig(t, out, "QQQ")
	o := NewOrchestrator(cfg, newGridProvider())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, o.Run(ctx))

	rows := readCSV(t, filepath.Join(out, summaryFile))
	statusCol := indexOf(t, rows[0], "Status")
	for _, row := range rows[2:] {
		assert.Equal(t, "PENDING", row[statusCol], "cancelled before any run started")
	}
}

func TestOrchestratorParallelMode(t *testing.T) {
	out := t.TempDir()
	cfg := gridConfig(t, out, "QQQ", "SPY")
	cfg.Workers = 2
	o := NewOrchestrator(cfg, newGridProvider())

	require.NoError(t, o.Run(context.Background()))

	rows := readCSV(t, filepath.Join(out, summaryFile))
	require.Len(t, rows, 6, "header + baseline + 4 runs")
	statusCol := indexOf(t, rows[0], "Status")
	for _, row := range rows[2:] {
		assert.Equal(t, "COMPLETED", row[statusCol])
	}
	// Summary order is by ID regardless of completion order
	assert.Equal(t, []string{"000", "001", "002", "003", "004"},
		[]string{rows[1][0], rows[2][0], rows[3][0], rows[4][0], rows[5][0]})
}

func indexOf(t *testing.T, header []string, name string) int {
	t.Helper()
	for i, h := range header {
		if h == name {
			return i
		}
	}
	t.Fatalf("column %q not in header %v", name, header)
	return -1
}
