package feed

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ridopark/JonBuhQuant/pkg/strategy"
)

// ErrDataUnavailable reports an empty bar range for a requested
// symbol/period. The baseline degrades to absent on it; a primary run
// fails when the strategy requires those bars.
var ErrDataUnavailable = errors.New("no bars available")

// DataFeed defines the interface for providing market data. The feed is
// finite, single-pass and not restartable; bars come out in
// non-decreasing timestamp order with ties broken by ascending symbol.
type DataFeed interface {
	// Initialize sets up the data feed
	Initialize() error

	// GetNextBar returns the next bar of data, or nil if no more data
	GetNextBar() (*strategy.BarData, error)

	// HasMoreData returns true if there's more data available
	HasMoreData() bool

	// Close closes the data feed
	Close() error

	// GetSymbols returns the symbols available in this feed
	GetSymbols() []string

	// GetTimeframe returns the timeframe of the data
	GetTimeframe() string
}

// BarProvider defines the interface for historical data sources
type BarProvider interface {
	// GetBars retrieves historical OHLCV data for the given parameters,
	// ordered by timestamp ascending
	GetBars(symbol string, timeframe string, start time.Time, end time.Time) ([]strategy.BarData, error)

	// FirstAndLastClose returns the first and last observed closes for a
	// symbol in the range, for the buy-and-hold baseline. Returns
	// ErrDataUnavailable when fewer than two bars exist.
	FirstAndLastClose(symbol string, timeframe string, start time.Time, end time.Time) (first, last decimal.Decimal, err error)
}
