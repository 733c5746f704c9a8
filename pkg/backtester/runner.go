package backtester

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ridopark/JonBuhQuant/pkg/feed"
	"github.com/ridopark/JonBuhQuant/pkg/logging"
	"github.com/ridopark/JonBuhQuant/pkg/strategy"
)

// RunResult bundles a run's terminal status, analysis and artifact paths
type RunResult struct {
	Status RunStatus
	Report *Report

	DailyCSVPath   string
	TradeLogPath   string
	SummaryCSVPath string
}

// Runner executes one configured backtest end to end: feed construction,
// engine pass, baseline lookup, analysis and CSV artifacts. The stamp is
// supplied by the caller so artifact names stay deterministic under test
// and across grid runs.
type Runner struct {
	cfg      Config
	strategy strategy.Strategy
	provider feed.BarProvider
	logger   zerolog.Logger
}

// NewRunner creates a runner for one configuration
func NewRunner(cfg Config, s strategy.Strategy, provider feed.BarProvider) *Runner {
	return &Runner{
		cfg:      cfg,
		strategy: s,
		provider: provider,
		logger:   logging.GetLogger("runner"),
	}
}

// Run executes the backtest and writes artifacts under cfg.OutputDir.
// A run that fails partway still gets its partial curve analyzed and its
// artifacts written before the error is returned; only a configuration
// rejected up front produces nothing.
func (r *Runner) Run(ctx context.Context, stamp string) (*RunResult, error) {
	if err := r.cfg.Validate(); err != nil {
		return &RunResult{Status: StatusFailed}, err
	}

	dataFeed := feed.NewHistoricalFeed(r.provider, r.cfg.Symbols, r.cfg.Timeframe, r.cfg.StartDate, r.cfg.EndDate)
	engine := NewEngine(r.cfg, r.strategy, dataFeed)
	runErr := engine.Run(ctx)

	baseline := r.lookupBaseline()
	analyzer := NewAnalyzer(r.cfg.PeriodsPerYear)
	report := analyzer.Analyze(
		r.strategy.GetName(),
		engine.EquityCurve(),
		engine.Portfolio().GetFills(),
		r.cfg.InitialCapital,
		engine.Portfolio().RejectionCount(),
		baseline,
	)

	result := &RunResult{
		Status: engine.Status(),
		Report: report,
	}

	if r.cfg.OutputDir != "" {
		if err := r.writeArtifacts(result, engine, baseline, stamp); err != nil {
			if runErr != nil {
				r.logger.Error().Err(err).Msg("Could not write artifacts of failed run")
				return result, runErr
			}
			return result, err
		}
	}

	return result, runErr
}

// lookupBaseline fetches the buy-and-hold quote. A missing range is not
// an error; the baseline degrades to absent.
func (r *Runner) lookupBaseline() *BaselineQuote {
	if r.cfg.BaselineSymbol == "" {
		return nil
	}

	first, last, err := r.provider.FirstAndLastClose(r.cfg.BaselineSymbol, r.cfg.Timeframe, r.cfg.StartDate, r.cfg.EndDate)
	if err != nil {
		if errors.Is(err, feed.ErrDataUnavailable) {
			r.logger.Warn().
				Str("symbol", r.cfg.BaselineSymbol).
				Msg("No baseline data for range; omitting baseline comparison")
			return nil
		}
		r.logger.Error().Err(err).
			Str("symbol", r.cfg.BaselineSymbol).
			Msg("Baseline lookup failed; omitting baseline comparison")
		return nil
	}

	return &BaselineQuote{
		Symbol:     r.cfg.BaselineSymbol,
		FirstClose: first,
		LastClose:  last,
	}
}

func (r *Runner) writeArtifacts(result *RunResult, engine *Engine, baseline *BaselineQuote, stamp string) error {
	tradesDir := filepath.Join(r.cfg.OutputDir, "trades")
	if err := os.MkdirAll(tradesDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	base := fmt.Sprintf("%s_%s", r.strategy.GetName(), stamp)
	result.DailyCSVPath = filepath.Join(r.cfg.OutputDir, base+".csv")
	result.TradeLogPath = filepath.Join(tradesDir, base+"_trades.csv")
	result.SummaryCSVPath = filepath.Join(r.cfg.OutputDir, base+"_summary.csv")

	if err := WriteDailyCSV(result.DailyCSVPath, engine.DailyRecords(), r.cfg, baseline); err != nil {
		return fmt.Errorf("failed to write daily csv: %w", err)
	}
	if err := WriteTradeLog(result.TradeLogPath, engine.TradeLogger().Records(), result.Report); err != nil {
		return fmt.Errorf("failed to write trade log: %w", err)
	}
	if err := WriteSummaryCSV(result.SummaryCSVPath, result.Report); err != nil {
		return fmt.Errorf("failed to write summary csv: %w", err)
	}

	r.logger.Info().
		Str("daily", result.DailyCSVPath).
		Str("trades", result.TradeLogPath).
		Str("summary", result.SummaryCSVPath).
		Msg("Backtest artifacts written")
	return nil
}
