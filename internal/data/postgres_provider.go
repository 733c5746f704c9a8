package data

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/shopspring/decimal"

	"github.com/ridopark/JonBuhQuant/pkg/feed"
	"github.com/ridopark/JonBuhQuant/pkg/strategy"
)

// PostgresProvider provides historical data from a PostgreSQL/TimescaleDB
// ohlcv_data table. Prices are scanned as text and parsed into decimals
// so the numeric column values survive exactly.
type PostgresProvider struct {
	db *sql.DB
}

// NewPostgresProvider creates a new PostgreSQL data provider
func NewPostgresProvider(connectionString string) (*PostgresProvider, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresProvider{
		db: db,
	}, nil
}

// GetBars retrieves historical OHLCV data for the given parameters,
// ordered by timestamp ascending.
func (p *PostgresProvider) GetBars(symbol string, timeframe string, start time.Time, end time.Time) ([]strategy.BarData, error) {
	query := `
		SELECT symbol, timestamp, open::text, high::text, low::text, close::text, volume::text, timeframe
		FROM ohlcv_data
		WHERE symbol = $1 AND timeframe = $2 AND timestamp >= $3 AND timestamp <= $4
		ORDER BY timestamp ASC
	`

	rows, err := p.db.Query(query, symbol, timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query ohlcv_data: %w", err)
	}
	defer rows.Close()

	var bars []strategy.BarData
	for rows.Next() {
		bar, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return bars, nil
}

// FirstAndLastClose returns the closes of the first and last bars in the
// range, for the buy-and-hold baseline. Fewer than two bars count as
// unavailable per the provider contract.
func (p *PostgresProvider) FirstAndLastClose(symbol string, timeframe string, start time.Time, end time.Time) (decimal.Decimal, decimal.Decimal, error) {
	query := `
		SELECT timestamp, close::text FROM ohlcv_data
		WHERE symbol = $1 AND timeframe = $2 AND timestamp >= $3 AND timestamp <= $4
		ORDER BY timestamp %s
		LIMIT 1
	`

	var firstTs, lastTs time.Time
	var firstText, lastText string
	err := p.db.QueryRow(fmt.Sprintf(query, "ASC"), symbol, timeframe, start, end).Scan(&firstTs, &firstText)
	if err == sql.ErrNoRows {
		return decimal.Zero, decimal.Zero, fmt.Errorf("symbol %s, timeframe %s: %w", symbol, timeframe, feed.ErrDataUnavailable)
	}
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to query first close: %w", err)
	}
	if err := p.db.QueryRow(fmt.Sprintf(query, "DESC"), symbol, timeframe, start, end).Scan(&lastTs, &lastText); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to query last close: %w", err)
	}

	return baselineEndpoints(symbol, firstTs, lastTs, firstText, lastText)
}

// baselineEndpoints parses the two range endpoints. A single-bar range
// answers both queries with the same row; that carries no return
// information, so it is reported as unavailable rather than as a
// baseline with zero return.
func baselineEndpoints(symbol string, firstTs, lastTs time.Time, firstText, lastText string) (decimal.Decimal, decimal.Decimal, error) {
	if !lastTs.After(firstTs) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("symbol %s: fewer than two bars in range: %w", symbol, feed.ErrDataUnavailable)
	}

	first, err := decimal.NewFromString(firstText)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("bad close value %q: %w", firstText, err)
	}
	last, err := decimal.NewFromString(lastText)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("bad close value %q: %w", lastText, err)
	}

	return first, last, nil
}

// GetLastBar gets the most recent bar for a symbol
func (p *PostgresProvider) GetLastBar(symbol string, timeframe string) (*strategy.BarData, error) {
	query := `
		SELECT symbol, timestamp, open::text, high::text, low::text, close::text, volume::text, timeframe
		FROM ohlcv_data
		WHERE symbol = $1 AND timeframe = $2
		ORDER BY timestamp DESC
		LIMIT 1
	`

	rows, err := p.db.Query(query, symbol, timeframe)
	if err != nil {
		return nil, fmt.Errorf("failed to query ohlcv_data: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating rows: %w", err)
		}
		return nil, fmt.Errorf("no data found for symbol %s timeframe %s", symbol, timeframe)
	}

	bar, err := scanBar(rows)
	if err != nil {
		return nil, err
	}
	return &bar, nil
}

// scanBar parses one ohlcv_data row. Timestamps are normalized to UTC;
// the feed validates the rest.
func scanBar(rows *sql.Rows) (strategy.BarData, error) {
	var bar strategy.BarData
	var openText, highText, lowText, closeText, volumeText string

	err := rows.Scan(
		&bar.Symbol,
		&bar.Timestamp,
		&openText,
		&highText,
		&lowText,
		&closeText,
		&volumeText,
		&bar.Timeframe,
	)
	if err != nil {
		return strategy.BarData{}, fmt.Errorf("failed to scan row: %w", err)
	}

	bar.Timestamp = bar.Timestamp.UTC()

	for _, field := range []struct {
		text string
		dst  *decimal.Decimal
	}{
		{openText, &bar.Open},
		{highText, &bar.High},
		{lowText, &bar.Low},
		{closeText, &bar.Close},
		{volumeText, &bar.Volume},
	} {
		v, err := decimal.NewFromString(field.text)
		if err != nil {
			return strategy.BarData{}, fmt.Errorf("bad numeric value %q for %s @ %s: %w",
				field.text, bar.Symbol, bar.Timestamp.Format(time.RFC3339), err)
		}
		*field.dst = v
	}

	return bar, nil
}

// Close closes the database connection
func (p *PostgresProvider) Close() error {
	return p.db.Close()
}

var _ feed.BarProvider = (*PostgresProvider)(nil)
