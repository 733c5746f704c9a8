package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ridopark/JonBuhQuant/internal/data"
	"github.com/ridopark/JonBuhQuant/pkg/backtester"
	"github.com/ridopark/JonBuhQuant/pkg/feed"
	"github.com/ridopark/JonBuhQuant/pkg/logging"
	"github.com/ridopark/JonBuhQuant/pkg/strategy"
	_ "github.com/ridopark/JonBuhQuant/pkg/strategy/examples" // register strategies
)

// Exit codes: 0 on a completed run, 1 on a failed run, 2 on bad input or
// configuration.
const (
	exitOK         = 0
	exitRunFailed  = 1
	exitBadRequest = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load environment variables from .env file
	envErr := godotenv.Load()

	var (
		strategyFlag   = flag.String("strategy", "buy_and_hold", "Registered strategy to run")
		signalFlag     = flag.String("signal", "SPY", "Signal symbol (indicators are computed on it)")
		bullFlag       = flag.String("bull", "", "Bull trading vehicle (defaults to the signal symbol)")
		defenseFlag    = flag.String("defense", "", "Defense trading vehicle")
		vixFlag        = flag.String("vix", "", "Volatility index symbol (e.g. VIX)")
		startDate      = flag.String("start", "2024-01-01", "Start date (YYYY-MM-DD)")
		endDate        = flag.String("end", "2024-12-31", "End date (YYYY-MM-DD)")
		capitalFlag    = flag.String("capital", getEnv("INITIAL_CAPITAL_DEFAULT", "100000"), "Initial capital")
		commissionFlag = flag.String("commission", "0.005", "Commission per share")
		timeframe      = flag.String("timeframe", "1d", "Timeframe (1m, 5m, 15m, 1h, 1d)")
		baselineFlag   = flag.String("baseline", "QQQ", "Buy-and-hold baseline symbol (empty disables)")
		periodsFlag    = flag.Int("periods-per-year", 252, "Bar periods per year for Sharpe annualization")
		outputFlag     = flag.String("output", "results", "Artifact output directory (empty disables)")
	)
	params := map[string]interface{}{}
	flag.Func("param", "Strategy parameter override as name=value (repeatable)", func(raw string) error {
		name, value, ok := strings.Cut(raw, "=")
		if !ok {
			return fmt.Errorf("expected name=value, got %q", raw)
		}
		params[name] = parseParamValue(value)
		return nil
	})
	flag.Parse()

	// Get logging configuration from environment variables
	logConfig := logging.DefaultConfig()
	logConfig.Level = logging.LogLevel(getEnv("LOG_LEVEL", "info"))
	logConfig.Pretty = getEnvBool("LOG_PRETTY", true)
	logConfig.EnableFile = getEnvBool("LOG_TO_FILE", true)
	logConfig.LogDir = getEnv("LOG_DIR", "logs")
	logConfig.LogFileName = getEnv("LOG_FILE", "backtester.log")
	logging.Initialize(logConfig)

	logger := logging.GetLogger("main")

	if envErr != nil {
		logger.Debug().Err(envErr).Msg("Could not load .env file, using system environment variables")
	}

	logger.Info().Msg("JonBuhQuant Backtester")
	logger.Info().Msg("======================")

	start, err := time.Parse("2006-01-02", *startDate)
	if err != nil {
		logger.Error().Err(err).Str("start_date", *startDate).Msg("Invalid start date")
		return exitBadRequest
	}
	end, err := time.Parse("2006-01-02", *endDate)
	if err != nil {
		logger.Error().Err(err).Str("end_date", *endDate).Msg("Invalid end date")
		return exitBadRequest
	}
	// Include the entire end day
	end = end.Add(24 * time.Hour)

	capital, err := decimal.NewFromString(*capitalFlag)
	if err != nil {
		logger.Error().Err(err).Str("capital", *capitalFlag).Msg("Invalid initial capital")
		return exitBadRequest
	}
	commission, err := decimal.NewFromString(*commissionFlag)
	if err != nil {
		logger.Error().Err(err).Str("commission", *commissionFlag).Msg("Invalid commission")
		return exitBadRequest
	}

	symbols := strategy.SymbolBindings{
		Signal:  strings.TrimSpace(*signalFlag),
		Bull:    strings.TrimSpace(*bullFlag),
		Defense: strings.TrimSpace(*defenseFlag),
	}
	if symbols.Bull == "" {
		symbols.Bull = symbols.Signal
	}
	if v := strings.TrimSpace(*vixFlag); v != "" {
		symbols.Vix = feed.NormalizeIndexSymbol(v)
	}

	desc, ok := strategy.Lookup(*strategyFlag)
	if !ok {
		logger.Error().
			Str("strategy", *strategyFlag).
			Strs("available", strategy.Names()).
			Msg("Unknown strategy")
		return exitBadRequest
	}
	if desc.RequiresVix && symbols.Vix == "" {
		logger.Error().Str("strategy", desc.Name).Msg("Strategy requires a -vix symbol")
		return exitBadRequest
	}

	resolved, err := desc.BuildParams(params)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid strategy parameters")
		return exitBadRequest
	}
	strategyInstance, err := desc.New(resolved, symbols)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to construct strategy")
		return exitBadRequest
	}

	// Get database configuration from environment variables
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_USER", "postgres"),
		getEnv("POSTGRES_PASSWORD", "trading_password_2025"),
		getEnv("POSTGRES_DB", "trading_data"))

	logger.Info().Msg("Connecting to database...")
	provider, err := data.NewPostgresProvider(connStr)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create data provider")
		return exitRunFailed
	}
	defer provider.Close()

	cfg := backtester.Config{
		StrategyName:       desc.Name,
		Symbols:            feedSymbols(symbols),
		Timeframe:          *timeframe,
		StartDate:          start,
		EndDate:            end,
		InitialCapital:     capital,
		CommissionPerShare: commission,
		BaselineSymbol:     strings.TrimSpace(*baselineFlag),
		PeriodsPerYear:     *periodsFlag,
		OutputDir:          *outputFlag,
	}

	logger.Info().
		Strs("symbols", cfg.Symbols).
		Str("start_date", *startDate).
		Str("end_date", *endDate).
		Str("strategy", desc.Name).
		Str("initial_capital", capital.String()).
		Str("commission_per_share", commission.String()).
		Msg("Running backtest")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := backtester.NewRunner(cfg, strategyInstance, provider)
	stamp := time.Now().UTC().Format("20060102_150405")
	result, err := runner.Run(ctx, stamp)
	if err != nil {
		var inputErr *backtester.InputValidationError
		if errors.As(err, &inputErr) {
			logger.Error().Err(err).Msg("Invalid backtest input")
			return exitBadRequest
		}
		logger.Error().Err(err).Msg("Backtest failed")
		return exitRunFailed
	}

	printReport(logger, result)
	if result.Status != backtester.StatusCompleted {
		return exitRunFailed
	}
	return exitOK
}

// printReport logs the headline metrics and artifact paths
func printReport(logger zerolog.Logger, result *backtester.RunResult) {
	r := result.Report
	if r == nil {
		logger.Info().Str("status", string(result.Status)).Msg("Backtest finished without a report")
		return
	}

	ev := logger.Info().
		Str("status", string(result.Status)).
		Str("initial_capital", r.InitialCapital.StringFixed(2)).
		Str("final_value", r.FinalValue.StringFixed(2)).
		Str("total_return", statText(r.TotalReturn)).
		Str("annualized_return", statText(r.AnnualizedReturn)).
		Str("max_drawdown", statText(r.MaxDrawdown)).
		Str("sharpe", statText(r.SharpeRatio)).
		Str("win_rate", statText(r.WinRate)).
		Int("round_trips", r.TotalTrades).
		Int("fills", r.FillCount).
		Int("rejected_signals", r.Rejections)
	if r.Baseline != nil {
		ev = ev.
			Str("baseline", r.Baseline.Symbol).
			Str("baseline_return", r.Baseline.TotalReturn.StringFixed(6)).
			Str("alpha", statText(r.Alpha))
	}
	ev.Msg("Backtest results")

	if result.DailyCSVPath != "" {
		logger.Info().
			Str("daily", result.DailyCSVPath).
			Str("trades", result.TradeLogPath).
			Str("summary", result.SummaryCSVPath).
			Msg("Artifacts")
	}
}

func statText(s backtester.Stat) string {
	if !s.Valid {
		return "N/A"
	}
	return s.Value.StringFixed(6)
}

func feedSymbols(b strategy.SymbolBindings) []string {
	symbols := make([]string, 0, 4)
	seen := map[string]struct{}{}
	for _, sym := range []string{b.Signal, b.Bull, b.Defense, b.Vix} {
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		symbols = append(symbols, sym)
	}
	return symbols
}

// parseParamValue types a -param value: int, then float, then bool, else
// string. BuildParams validates against the declared kind afterward.
func parseParamValue(raw string) interface{} {
	if v, err := strconv.Atoi(raw); err == nil {
		return v
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseBool(raw); err == nil {
		return v
	}
	return raw
}

// Helper function to get environment variable with default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Helper function to get boolean environment variable with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
