package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ridopark/JonBuhQuant/internal/data"
	"github.com/ridopark/JonBuhQuant/pkg/gridsearch"
	"github.com/ridopark/JonBuhQuant/pkg/logging"
	_ "github.com/ridopark/JonBuhQuant/pkg/strategy/examples" // register strategies
)

// Exit codes: 0 when the sweep finished, 1 when it could not run, 2 on a
// bad configuration.
const (
	exitOK         = 0
	exitRunFailed  = 1
	exitBadRequest = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	envErr := godotenv.Load()

	configPath := flag.String("config", "grid.yaml", "Grid search YAML configuration")
	flag.Parse()

	logConfig := logging.DefaultConfig()
	logConfig.Level = logging.LogLevel(getEnv("LOG_LEVEL", "info"))
	logConfig.Pretty = getEnvBool("LOG_PRETTY", true)
	logConfig.EnableFile = getEnvBool("LOG_TO_FILE", true)
	logConfig.LogDir = getEnv("LOG_DIR", "logs")
	logConfig.LogFileName = getEnv("LOG_FILE", "gridsearch.log")
	logging.Initialize(logConfig)

	logger := logging.GetLogger("main")

	if envErr != nil {
		logger.Debug().Err(envErr).Msg("Could not load .env file, using system environment variables")
	}

	logger.Info().Msg("JonBuhQuant Grid Search")
	logger.Info().Msg("=======================")

	cfg, err := gridsearch.LoadConfig(*configPath)
	if err != nil {
		logger.Error().Err(err).Str("config", *configPath).Msg("Invalid grid configuration")
		return exitBadRequest
	}
	if cfg.OutputDir == "" {
		stamp := time.Now().UTC().Format("20060102_150405")
		cfg.OutputDir = gridsearch.DefaultOutputDir(cfg.Strategy, stamp)
		logger.Info().Str("output_dir", cfg.OutputDir).Msg("No output_dir configured, using default")
	}

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchestrator := gridsearch.NewOrchestrator(cfg, provider)
	if err := orchestrator.Run(ctx); err != nil {
		var cfgErr *gridsearch.ConfigError
		if errors.As(err, &cfgErr) {
			logger.Error().Err(err).Msg("Grid configuration rejected")
			return exitBadRequest
		}
		logger.Error().Err(err).Msg("Grid search failed")
		return exitRunFailed
	}

	logger.Info().
		Str("output", cfg.OutputDir).
		Int("combinations", cfg.CombinationCount()).
		Msg("Grid search finished")
	return exitOK
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
