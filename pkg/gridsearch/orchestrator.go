package gridsearch

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ridopark/JonBuhQuant/pkg/backtester"
	"github.com/ridopark/JonBuhQuant/pkg/feed"
	"github.com/ridopark/JonBuhQuant/pkg/logging"
	"github.com/ridopark/JonBuhQuant/pkg/strategy"
)

const (
	checkpointFile = "checkpoint.json"
	summaryFile    = "summary_comparison.csv"
	runIndexFile   = "run_config.csv"
	readmeFile     = "README.txt"
	baselineRunID  = "000"
)

// Combination is one grid cell: a symbol set crossed with one value per
// swept parameter. IDs are sequential and zero padded so artifact
// directories sort in run order.
type Combination struct {
	ID     string
	Set    SymbolSet
	Params map[string]interface{}
}

// Outcome is the recorded result of one cell. Failed cells carry the
// error text and keep their row in the summary; they never abort the
// sweep.
type Outcome struct {
	ID     string                 `json:"id"`
	Label  string                 `json:"label"`
	Params map[string]interface{} `json:"params"`
	Status string                 `json:"status"`
	Error  string                 `json:"error,omitempty"`
	Report *summaryMetrics        `json:"metrics,omitempty"`
}

// summaryMetrics is the subset of the analyzer report the summary and
// checkpoint keep, pre-rendered to strings so resume never re-analyzes.
type summaryMetrics struct {
	FinalValue          string `json:"final_value"`
	TotalReturnPct      string `json:"total_return_pct"`
	AnnualizedReturnPct string `json:"annualized_return_pct"`
	MaxDrawdownPct      string `json:"max_drawdown_pct"`
	SharpeRatio         string `json:"sharpe_ratio"`
	WinRatePct          string `json:"win_rate_pct"`
	RoundTrips          int    `json:"round_trips"`
	Rejections          int    `json:"rejections"`
	Alpha               string `json:"alpha"`
}

// checkpoint is the resume state persisted between runs
type checkpoint struct {
	Strategy string             `json:"strategy"`
	Outcomes map[string]Outcome `json:"outcomes"`
}

// Orchestrator sweeps a parameter grid: one independent backtest per
// combination, each in its own artifact directory, with a comparison
// summary across all of them.
type Orchestrator struct {
	cfg      *Config
	provider feed.BarProvider
	logger   zerolog.Logger

	mu       sync.Mutex
	outcomes map[string]Outcome
	done     int
}

// NewOrchestrator creates an orchestrator for one grid configuration
func NewOrchestrator(cfg *Config, provider feed.BarProvider) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		provider: provider,
		logger:   logging.GetLogger("gridsearch"),
		outcomes: make(map[string]Outcome),
	}
}

// Combinations expands the grid deterministically: symbol sets in config
// order, then parameter values odometer-style over sorted parameter
// names. The same config always yields the same IDs.
func (o *Orchestrator) Combinations() []Combination {
	names := make([]string, 0, len(o.cfg.Parameters))
	for name := range o.cfg.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	total := o.cfg.CombinationCount()
	width := len(fmt.Sprintf("%d", total))
	if width < 3 {
		width = 3
	}

	combos := make([]Combination, 0, total)
	for _, set := range o.cfg.SymbolSets {
		indices := make([]int, len(names))
		for {
			params := make(map[string]interface{}, len(names))
			for i, name := range names {
				params[name] = o.cfg.Parameters[name][indices[i]]
			}
			combos = append(combos, Combination{
				ID:     fmt.Sprintf("%0*d", width, len(combos)+1),
				Set:    set,
				Params: params,
			})

			// Advance the odometer, last name fastest
			i := len(names) - 1
			for ; i >= 0; i-- {
				indices[i]++
				if indices[i] < len(o.cfg.Parameters[names[i]]) {
					break
				}
				indices[i] = 0
			}
			if i < 0 {
				break
			}
		}
	}
	return combos
}

// Run executes the sweep. Previously completed cells found in the
// checkpoint are skipped; cancellation stops between cells and preserves
// the checkpoint and summary of everything finished so far.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.cfg.OutputDir == "" {
		return &ConfigError{Msg: "no output directory resolved"}
	}
	if err := os.MkdirAll(o.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create grid output directory: %w", err)
	}

	if err := o.loadCheckpoint(); err != nil {
		return err
	}

	combos := o.Combinations()
	pending := make([]Combination, 0, len(combos))
	for _, combo := range combos {
		if out, ok := o.outcomes[combo.ID]; ok && out.Status == string(backtester.StatusCompleted) {
			continue
		}
		pending = append(pending, combo)
	}

	o.logger.Info().
		Str("strategy", o.cfg.Strategy).
		Int("combinations", len(combos)).
		Int("pending", len(pending)).
		Int("workers", o.cfg.Workers).
		Msg("Starting grid search")

	var runErr error
	if o.cfg.Workers > 1 {
		runErr = o.runParallel(ctx, pending)
	} else {
		runErr = o.runSerial(ctx, pending)
	}

	// Summary and checkpoint always reflect what finished, even on
	// cancellation.
	if err := o.saveCheckpoint(); err != nil {
		return err
	}
	if err := o.writeRunIndex(combos); err != nil {
		return err
	}
	if err := o.writeSummary(combos); err != nil {
		return err
	}
	if err := o.writeReadme(combos); err != nil {
		return err
	}
	return runErr
}

func (o *Orchestrator) runSerial(ctx context.Context, pending []Combination) error {
	for _, combo := range pending {
		select {
		case <-ctx.Done():
			o.logger.Warn().Int("completed", o.done).Msg("Grid search cancelled")
			return nil
		default:
		}
		o.record(o.runOne(ctx, combo))
	}
	return nil
}

func (o *Orchestrator) runParallel(ctx context.Context, pending []Combination) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)

	for _, combo := range pending {
		combo := combo
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			default:
			}
			o.record(o.runOne(gctx, combo))
			return nil
		})
	}
	return g.Wait()
}

// runOne executes a single cell in its own run_<ID> directory. Errors
// become the cell's outcome; they do not propagate.
func (o *Orchestrator) runOne(ctx context.Context, combo Combination) Outcome {
	outcome := Outcome{
		ID:     combo.ID,
		Label:  combo.Set.Label(),
		Params: combo.Params,
		Status: string(backtester.StatusFailed),
	}

	runDir := filepath.Join(o.cfg.OutputDir, "run_"+combo.ID)
	runCfg := o.cfg.RunConfig(combo.Set, runDir)

	desc, ok := strategy.Lookup(o.cfg.Strategy)
	if !ok {
		outcome.Error = fmt.Sprintf("strategy %q not registered", o.cfg.Strategy)
		return outcome
	}

	params, err := desc.BuildParams(combo.Params)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	strat, err := desc.New(params, combo.Set.Bindings())
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	if err := os.MkdirAll(runDir, 0o755); err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	if err := o.writeRunConfig(runDir, combo, runCfg); err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	runner := backtester.NewRunner(runCfg, strat, o.provider)
	result, err := runner.Run(ctx, combo.ID)
	if err != nil {
		outcome.Status = string(result.Status)
		outcome.Error = err.Error()
		o.logger.Error().Err(err).Str("run", combo.ID).Msg("Grid cell failed")
		return outcome
	}

	outcome.Status = string(result.Status)
	if result.Report != nil {
		outcome.Report = metricsOf(result.Report)
	}
	o.logger.Info().
		Str("run", combo.ID).
		Str("symbols", combo.Set.Label()).
		Str("status", outcome.Status).
		Msg("Grid cell finished")
	return outcome
}

func metricsOf(r *backtester.Report) *summaryMetrics {
	return &summaryMetrics{
		FinalValue:          r.FinalValue.StringFixed(2),
		TotalReturnPct:      statPct(r.TotalReturn),
		AnnualizedReturnPct: statPct(r.AnnualizedReturn),
		MaxDrawdownPct:      statPct(r.MaxDrawdown),
		SharpeRatio:         statFixed(r.SharpeRatio, 4),
		WinRatePct:          statPct(r.WinRate),
		RoundTrips:          r.TotalTrades,
		Rejections:          r.Rejections,
		Alpha:               statFixed(r.Alpha, 4),
	}
}

var pctScale = decimal.NewFromInt(100)

func statPct(s backtester.Stat) string {
	if !s.Valid {
		return "N/A"
	}
	return s.Value.Mul(pctScale).StringFixed(2)
}

func statFixed(s backtester.Stat, places int32) string {
	if !s.Valid {
		return "N/A"
	}
	return s.Value.StringFixed(places)
}

// record stores an outcome and checkpoints every CheckpointInterval runs
func (o *Orchestrator) record(outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.outcomes[outcome.ID] = outcome
	o.done++
	if o.cfg.CheckpointInterval > 0 && o.done%o.cfg.CheckpointInterval == 0 {
		if err := o.saveCheckpointLocked(); err != nil {
			o.logger.Error().Err(err).Msg("Checkpoint write failed")
		}
	}
}

func (o *Orchestrator) loadCheckpoint() error {
	path := filepath.Join(o.cfg.OutputDir, checkpointFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	if cp.Strategy != o.cfg.Strategy {
		return &ConfigError{Msg: fmt.Sprintf(
			"checkpoint in %s is for strategy %q, not %q; use a fresh output directory",
			o.cfg.OutputDir, cp.Strategy, o.cfg.Strategy)}
	}

	o.outcomes = cp.Outcomes
	if o.outcomes == nil {
		o.outcomes = make(map[string]Outcome)
	}
	o.logger.Info().Int("recorded", len(o.outcomes)).Msg("Resuming from checkpoint")
	return nil
}

func (o *Orchestrator) saveCheckpoint() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.saveCheckpointLocked()
}

func (o *Orchestrator) saveCheckpointLocked() error {
	cp := checkpoint{Strategy: o.cfg.Strategy, Outcomes: o.outcomes}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(o.cfg.OutputDir, checkpointFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return os.Rename(tmp, path)
}

// writeRunConfig records the cell's exact settings next to its artifacts
func (o *Orchestrator) writeRunConfig(runDir string, combo Combination, runCfg backtester.Config) error {
	f, err := os.Create(filepath.Join(runDir, "run_config.csv"))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	rows := [][]string{
		{"Key", "Value"},
		{"run_id", combo.ID},
		{"strategy", runCfg.StrategyName},
		{"symbols", combo.Set.Label()},
		{"signal", combo.Set.Signal},
		{"bull", combo.Set.Bull},
		{"defense", combo.Set.Defense},
		{"vix", combo.Set.Vix},
		{"timeframe", runCfg.Timeframe},
		{"start_date", runCfg.StartDate.Format("2006-01-02")},
		{"end_date", runCfg.EndDate.Format("2006-01-02")},
		{"initial_capital", runCfg.InitialCapital.StringFixed(2)},
		{"commission", runCfg.CommissionPerShare.String()},
		{"slippage", runCfg.Slippage.String()},
		{"baseline_symbol", runCfg.BaselineSymbol},
		{"periods_per_year", fmt.Sprintf("%d", runCfg.PeriodsPerYear)},
	}
	for _, name := range sortedParamNames(combo.Params) {
		rows = append(rows, []string{name, fmt.Sprintf("%v", combo.Params[name])})
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// writeRunIndex emits the grid-level run_config.csv: one row per run
// listing its symbol set and parameter values.
func (o *Orchestrator) writeRunIndex(combos []Combination) error {
	names := make([]string, 0, len(o.cfg.Parameters))
	for name := range o.cfg.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	f, err := os.Create(filepath.Join(o.cfg.OutputDir, runIndexFile))
	if err != nil {
		return fmt.Errorf("failed to create run index: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"Run_ID", "Symbol_Set", "Signal", "Bull", "Defense", "Vix"}
	header = append(header, names...)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, combo := range combos {
		row := []string{
			combo.ID, combo.Set.Label(),
			combo.Set.Signal, combo.Set.Bull, combo.Set.Defense, combo.Set.Vix,
		}
		for _, name := range names {
			row = append(row, fmt.Sprintf("%v", combo.Params[name]))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// writeSummary emits summary_comparison.csv: the baseline row 000 first,
// then one row per combination in ID order.
func (o *Orchestrator) writeSummary(combos []Combination) error {
	names := make([]string, 0, len(o.cfg.Parameters))
	for name := range o.cfg.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	f, err := os.Create(filepath.Join(o.cfg.OutputDir, summaryFile))
	if err != nil {
		return fmt.Errorf("failed to create summary: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"Run_ID", "Symbol_Set"}
	header = append(header, names...)
	header = append(header,
		"Status", "Final_Value", "Total_Return_Pct", "Annualized_Return_Pct",
		"Max_Drawdown_Pct", "Sharpe_Ratio", "Win_Rate_Pct", "Round_Trips",
		"Rejected_Signals", "Alpha", "Error")
	if err := w.Write(header); err != nil {
		return err
	}

	if row := o.baselineRow(names); row != nil {
		if err := w.Write(row); err != nil {
			return err
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, combo := range combos {
		out, ok := o.outcomes[combo.ID]
		if !ok {
			out = Outcome{
				ID:     combo.ID,
				Label:  combo.Set.Label(),
				Params: combo.Params,
				Status: string(backtester.StatusPending),
			}
		}

		row := []string{out.ID, out.Label}
		for _, name := range names {
			row = append(row, fmt.Sprintf("%v", combo.Params[name]))
		}
		m := out.Report
		if m == nil {
			m = &summaryMetrics{
				FinalValue: "", TotalReturnPct: "", AnnualizedReturnPct: "",
				MaxDrawdownPct: "", SharpeRatio: "", WinRatePct: "", Alpha: "",
			}
		}
		row = append(row,
			out.Status, m.FinalValue, m.TotalReturnPct, m.AnnualizedReturnPct,
			m.MaxDrawdownPct, m.SharpeRatio, m.WinRatePct,
			fmt.Sprintf("%d", m.RoundTrips), fmt.Sprintf("%d", m.Rejections),
			m.Alpha, out.Error)
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// baselineRow is the buy-and-hold reference across the whole grid window
func (o *Orchestrator) baselineRow(paramNames []string) []string {
	if o.cfg.Base.BaselineSymbol == "" {
		return nil
	}

	first, last, err := o.provider.FirstAndLastClose(
		o.cfg.Base.BaselineSymbol, o.cfg.Base.Timeframe, o.cfg.startDate, o.cfg.endDate)
	if err != nil {
		o.logger.Warn().Err(err).
			Str("symbol", o.cfg.Base.BaselineSymbol).
			Msg("No baseline row for grid summary")
		return nil
	}

	br := backtester.AnalyzeBaseline(&backtester.BaselineQuote{
		Symbol:     o.cfg.Base.BaselineSymbol,
		FirstClose: first,
		LastClose:  last,
	}, o.cfg.Base.InitialCapital.Decimal, o.cfg.startDate, o.cfg.endDate)
	if br == nil {
		return nil
	}

	row := []string{baselineRunID, br.Symbol + " (buy-and-hold)"}
	for range paramNames {
		row = append(row, "")
	}
	row = append(row,
		string(backtester.StatusCompleted),
		br.FinalValue.StringFixed(2),
		br.TotalReturn.Mul(pctScale).StringFixed(2),
		statPct(br.AnnualizedReturn),
		"", "", "", "", "", "", "")
	return row
}

func (o *Orchestrator) writeReadme(combos []Combination) error {
	content := fmt.Sprintf(`Grid search results for strategy %q
Window: %s to %s, timeframe %s

Combinations: %d (%d symbol sets)
run_config.csv at this level lists every run with its parameters.
Each run_<ID>/ directory holds one combination's artifacts:
  run_config.csv            exact settings of the run
  %s_<ID>.csv               per-bar portfolio values
  trades/                   trade log with decision context
  %s_<ID>_summary.csv       per-run metric comparison

%s ranks every combination; row %s is the %s buy-and-hold
reference over the same window. checkpoint.json allows re-running the
same config against the same output directory to resume after an
interruption.
`,
		o.cfg.Strategy,
		o.cfg.Base.StartDate, o.cfg.Base.EndDate, o.cfg.Base.Timeframe,
		len(combos), len(o.cfg.SymbolSets),
		o.cfg.Strategy, o.cfg.Strategy,
		summaryFile, baselineRunID, o.cfg.Base.BaselineSymbol)

	return os.WriteFile(filepath.Join(o.cfg.OutputDir, readmeFile), []byte(content), 0o644)
}

func sortedParamNames(params map[string]interface{}) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
