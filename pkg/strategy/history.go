package strategy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// BarHistory is the strategy-owned buffer of every bar ever delivered,
// all symbols interleaved, plus a per-symbol index so windowed lookups
// cost O(lookback) instead of a scan over the full history.
type BarHistory struct {
	all      []BarData
	bySymbol map[string][]BarData
}

// NewBarHistory creates an empty bar history
func NewBarHistory() *BarHistory {
	return &BarHistory{
		all:      make([]BarData, 0),
		bySymbol: make(map[string][]BarData),
	}
}

// Append adds a bar to the history. Bars are never mutated afterwards.
func (h *BarHistory) Append(bar BarData) {
	h.all = append(h.all, bar)
	h.bySymbol[bar.Symbol] = append(h.bySymbol[bar.Symbol], bar)
}

// Len returns the total number of bars across all symbols
func (h *BarHistory) Len() int {
	return len(h.all)
}

// SymbolLen returns the number of bars observed for one symbol
func (h *BarHistory) SymbolLen(symbol string) int {
	return len(h.bySymbol[symbol])
}

// window returns the last lookback bars, filtered by symbol when non-empty
func (h *BarHistory) window(lookback int, symbol string) []BarData {
	src := h.all
	if symbol != "" {
		src = h.bySymbol[symbol]
	}
	if lookback <= 0 || len(src) == 0 {
		return nil
	}
	if lookback > len(src) {
		lookback = len(src)
	}
	return src[len(src)-lookback:]
}

// Closes returns the closes of the last lookback bars for the symbol,
// oldest first. An empty symbol returns the mixed-symbol history; a
// multi-symbol strategy must always pass the symbol.
func (h *BarHistory) Closes(lookback int, symbol string) []decimal.Decimal {
	bars := h.window(lookback, symbol)
	out := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Highs returns the highs of the last lookback bars for the symbol, oldest first.
func (h *BarHistory) Highs(lookback int, symbol string) []decimal.Decimal {
	bars := h.window(lookback, symbol)
	out := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

// Lows returns the lows of the last lookback bars for the symbol, oldest first.
func (h *BarHistory) Lows(lookback int, symbol string) []decimal.Decimal {
	bars := h.window(lookback, symbol)
	out := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}

// ObservedSymbols returns the sorted set of symbols seen so far
func (h *BarHistory) ObservedSymbols() []string {
	symbols := make([]string, 0, len(h.bySymbol))
	for sym := range h.bySymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

// RequireSymbols verifies that every named symbol has been observed.
// Strategies that name specific symbols call this once their history is
// long enough for indicator math; silently no-opping on a missing symbol
// is forbidden.
func (h *BarHistory) RequireSymbols(symbols []string) error {
	var missing []string
	for _, sym := range symbols {
		if len(h.bySymbol[sym]) == 0 {
			missing = append(missing, sym)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required symbols missing from feed: [%s]; available: [%s]",
			strings.Join(missing, ", "), strings.Join(h.ObservedSymbols(), ", "))
	}
	return nil
}
