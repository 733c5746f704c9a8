package feed

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/ridopark/JonBuhQuant/pkg/logging"
	"github.com/ridopark/JonBuhQuant/pkg/strategy"
)

// HistoricalFeed merges per-symbol bar sequences from a provider into a
// single chronologically ordered stream for backtesting.
type HistoricalFeed struct {
	provider  BarProvider
	symbols   []string
	timeframe string
	startDate time.Time
	endDate   time.Time

	// Internal state
	allBars     []strategy.BarData
	currentIdx  int
	initialized bool
	logger      zerolog.Logger
}

// NewHistoricalFeed creates a new historical data feed
func NewHistoricalFeed(provider BarProvider, symbols []string, timeframe string, start, end time.Time) *HistoricalFeed {
	return &HistoricalFeed{
		provider:   provider,
		symbols:    symbols,
		timeframe:  timeframe,
		startDate:  start,
		endDate:    end,
		allBars:    make([]strategy.BarData, 0),
		currentIdx: 0,
		logger:     logging.GetLogger("feed"),
	}
}

// Initialize loads bars for every symbol, validates them, and sorts the
// merged stream by (timestamp, symbol). A symbol with zero bars in the
// requested range fails with ErrDataUnavailable.
func (hf *HistoricalFeed) Initialize() error {
	if hf.initialized {
		return nil
	}

	for _, symbol := range hf.symbols {
		bars, err := hf.provider.GetBars(symbol, hf.timeframe, hf.startDate, hf.endDate)
		if err != nil {
			return fmt.Errorf("failed to load data for symbol %s: %w", symbol, err)
		}
		if len(bars) == 0 {
			return fmt.Errorf("symbol %s, timeframe %s, range %s..%s: %w",
				symbol, hf.timeframe,
				hf.startDate.Format("2006-01-02"), hf.endDate.Format("2006-01-02"),
				ErrDataUnavailable)
		}

		for _, bar := range bars {
			if err := bar.Validate(); err != nil {
				return fmt.Errorf("invalid bar from provider: %w", err)
			}
		}

		hf.allBars = append(hf.allBars, bars...)
	}

	// Chronological order; ties within a timestamp by ascending symbol so
	// multi-symbol runs are deterministic.
	sort.SliceStable(hf.allBars, func(i, j int) bool {
		if !hf.allBars[i].Timestamp.Equal(hf.allBars[j].Timestamp) {
			return hf.allBars[i].Timestamp.Before(hf.allBars[j].Timestamp)
		}
		return hf.allBars[i].Symbol < hf.allBars[j].Symbol
	})

	hf.logger.Debug().
		Int("bars", len(hf.allBars)).
		Strs("symbols", hf.symbols).
		Msg("Historical feed initialized")

	hf.initialized = true
	return nil
}

// GetNextBar returns the next chronological bar from any symbol
func (hf *HistoricalFeed) GetNextBar() (*strategy.BarData, error) {
	if !hf.initialized {
		if err := hf.Initialize(); err != nil {
			return nil, err
		}
	}

	if hf.currentIdx >= len(hf.allBars) {
		return nil, nil // No more data
	}

	bar := hf.allBars[hf.currentIdx]
	hf.currentIdx++

	return &bar, nil
}

// HasMoreData returns true if there's more data available
func (hf *HistoricalFeed) HasMoreData() bool {
	if !hf.initialized {
		return true // Assume there's data until we try to initialize
	}

	return hf.currentIdx < len(hf.allBars)
}

// Close closes the data feed (no-op for historical feed)
func (hf *HistoricalFeed) Close() error {
	return nil
}

// GetSymbols returns the symbols in this feed
func (hf *HistoricalFeed) GetSymbols() []string {
	return hf.symbols
}

// GetTimeframe returns the timeframe of the data
func (hf *HistoricalFeed) GetTimeframe() string {
	return hf.timeframe
}

// GetTotalBars returns the total number of bars loaded
func (hf *HistoricalFeed) GetTotalBars() int {
	return len(hf.allBars)
}

// GetDateRange returns the actual date range of the loaded data
func (hf *HistoricalFeed) GetDateRange() (time.Time, time.Time) {
	if len(hf.allBars) == 0 {
		return time.Time{}, time.Time{}
	}

	return hf.allBars[0].Timestamp, hf.allBars[len(hf.allBars)-1].Timestamp
}

var _ DataFeed = (*HistoricalFeed)(nil)
