package backtester

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ridopark/JonBuhQuant/pkg/feed"
	"github.com/ridopark/JonBuhQuant/pkg/logging"
	"github.com/ridopark/JonBuhQuant/pkg/strategy"
)

// EquityPoint represents total portfolio value at a point in time
type EquityPoint struct {
	Timestamp time.Time
	Value     decimal.Decimal
}

// DailyRecord captures the per-bar portfolio state the daily CSV needs
type DailyRecord struct {
	Timestamp  time.Time
	TotalValue decimal.Decimal
	Cash       decimal.Decimal
	Positions  map[string]int64
	Prices     map[string]decimal.Decimal
}

// Engine coordinates the backtest execution: one chronological pass over
// the merged bar stream. Per bar: update marks, feed the strategy,
// execute its signals in emission order, record the equity point. This
// ordering is the kernel's central invariant.
type Engine struct {
	cfg         Config
	strategy    strategy.Strategy
	feed        feed.DataFeed
	portfolio   *Portfolio
	tradeLogger *TradeLogger
	history     *strategy.BarHistory
	sctx        *StrategyContext

	currentBars map[string]strategy.BarData
	currentTime time.Time
	barNumber   int
	equity      []EquityPoint
	daily       []DailyRecord
	status      RunStatus

	logger         zerolog.Logger
	strategyLogger zerolog.Logger
}

// NewEngine creates a new backtesting engine. All state is created here
// and destroyed with the engine; nothing is shared across runs.
func NewEngine(cfg Config, s strategy.Strategy, f feed.DataFeed) *Engine {
	portfolio := NewPortfolio(cfg.InitialCapital, cfg.CommissionPerShare)
	tradeLogger := NewTradeLogger(cfg.InitialCapital)
	portfolio.SetTradeLogger(tradeLogger)

	engine := &Engine{
		cfg:            cfg,
		strategy:       s,
		feed:           f,
		portfolio:      portfolio,
		tradeLogger:    tradeLogger,
		history:        strategy.NewBarHistory(),
		currentBars:    make(map[string]strategy.BarData),
		equity:         make([]EquityPoint, 0),
		daily:          make([]DailyRecord, 0),
		status:         StatusPending,
		logger:         logging.GetLogger("backtester"),
		strategyLogger: logging.GetLogger("strategy"),
	}

	// Create context after engine is initialized
	engine.sctx = NewStrategyContext(engine)

	return engine
}

// Run executes the backtest. Cancellation via ctx is honored at bar
// boundaries; the partial equity curve and fills are preserved and the
// run is marked CANCELLED.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().
		Str("strategy", e.strategy.GetName()).
		Str("initial_capital", e.cfg.InitialCapital.String()).
		Msg("Starting backtest execution")

	if err := e.cfg.Validate(); err != nil {
		e.status = StatusFailed
		return err
	}

	if err := e.strategy.Initialize(e.sctx); err != nil {
		e.status = StatusFailed
		return fmt.Errorf("failed to initialize strategy: %w", err)
	}

	if err := e.feed.Initialize(); err != nil {
		e.status = StatusFailed
		return fmt.Errorf("failed to initialize data feed: %w", err)
	}
	defer e.feed.Close()

	for e.feed.HasMoreData() {
		select {
		case <-ctx.Done():
			e.status = StatusCancelled
			e.logger.Warn().Int("bars_processed", e.barNumber).Msg("Backtest cancelled")
			return nil
		default:
		}

		bar, err := e.feed.GetNextBar()
		if err != nil {
			e.status = StatusFailed
			return fmt.Errorf("error reading market data: %w", err)
		}
		if bar == nil {
			break
		}

		if err := e.processBar(*bar); err != nil {
			e.status = StatusFailed
			return err
		}
	}

	if err := e.strategy.Cleanup(e.sctx); err != nil {
		e.logger.Error().Err(err).Msg("Strategy cleanup error")
	}

	e.status = StatusCompleted
	e.logger.Info().
		Int("bars_processed", e.barNumber).
		Int("fills", len(e.portfolio.GetFills())).
		Int("rejections", e.portfolio.RejectionCount()).
		Str("final_value", e.portfolio.TotalValue().String()).
		Msg("Backtest completed")
	return nil
}

// processBar runs one tick in the mandated order: marks first, then the
// strategy, then its signals, then the equity point.
func (e *Engine) processBar(bar strategy.BarData) error {
	if err := bar.Validate(); err != nil {
		return &InputValidationError{Msg: "bad bar from feed", Err: err}
	}
	if !e.currentTime.IsZero() && bar.Timestamp.Before(e.currentTime) {
		return &InputValidationError{Msg: fmt.Sprintf(
			"timestamp regression in bar stream: %s at %s after %s",
			bar.Symbol, bar.Timestamp.Format(time.RFC3339), e.currentTime.Format(time.RFC3339))}
	}

	e.currentBars[bar.Symbol] = bar
	e.currentTime = bar.Timestamp
	e.barNumber++

	e.portfolio.UpdateMarketValue(e.currentBars)

	e.history.Append(bar)
	e.sctx.refreshPortfolioState()

	if err := e.strategy.OnBar(e.sctx, bar); err != nil {
		return &StrategyError{
			Timestamp: bar.Timestamp,
			Symbol:    bar.Symbol,
			BarNumber: e.barNumber,
			Err:       err,
		}
	}

	for _, sig := range e.sctx.takeSignals() {
		if err := sig.Validate(); err != nil {
			return &InputValidationError{Msg: "bad signal from strategy", Err: err}
		}
		fill, rejection := e.portfolio.ExecuteSignal(sig, bar)
		if fill == nil && rejection != nil {
			continue // rejected; expected in normal operation
		}
	}

	e.recordEquity(bar.Timestamp)
	return nil
}

// recordEquity appends an equity point and daily record, keeping exactly
// one point per timestamp (the last one, after all that tick's fills).
func (e *Engine) recordEquity(ts time.Time) {
	point := EquityPoint{Timestamp: ts, Value: e.portfolio.TotalValue()}
	record := DailyRecord{
		Timestamp:  ts,
		TotalValue: point.Value,
		Cash:       e.portfolio.GetCash(),
		Positions:  e.portfolio.GetPositions(),
		Prices:     make(map[string]decimal.Decimal, len(e.currentBars)),
	}
	for sym, bar := range e.currentBars {
		record.Prices[sym] = bar.Close
	}

	if n := len(e.equity); n > 0 && e.equity[n-1].Timestamp.Equal(ts) {
		e.equity[n-1] = point
		e.daily[n-1] = record
		return
	}
	e.equity = append(e.equity, point)
	e.daily = append(e.daily, record)
}

// Status returns the run's terminal state
func (e *Engine) Status() RunStatus {
	return e.status
}

// EquityCurve returns the per-tick total value series
func (e *Engine) EquityCurve() []EquityPoint {
	return e.equity
}

// DailyRecords returns the per-tick portfolio state series
func (e *Engine) DailyRecords() []DailyRecord {
	return e.daily
}

// Portfolio returns the portfolio simulator
func (e *Engine) Portfolio() *Portfolio {
	return e.portfolio
}

// TradeLogger returns the trade logger
func (e *Engine) TradeLogger() *TradeLogger {
	return e.tradeLogger
}

// BarCount returns the number of bars processed
func (e *Engine) BarCount() int {
	return e.barNumber
}
