package feed

import "strings"

// Index symbols (volatility indices and other non-tradeable levels) are
// stored with a "$" prefix to prevent collision with tickers. User input
// arrives without the prefix; it is normalized once at the ingress
// boundary and strategy code always sees the prefixed form.

// IsIndexSymbol reports whether the symbol is an index level
func IsIndexSymbol(symbol string) bool {
	return strings.HasPrefix(symbol, "$")
}

// NormalizeIndexSymbol adds the "$" prefix to a known index name when
// absent. Non-index symbols pass through unchanged.
func NormalizeIndexSymbol(symbol string) string {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" || IsIndexSymbol(symbol) {
		return symbol
	}
	if _, ok := knownIndices[strings.ToUpper(symbol)]; ok {
		return "$" + strings.ToUpper(symbol)
	}
	return symbol
}

// knownIndices lists index names users commonly type without the prefix
var knownIndices = map[string]struct{}{
	"VIX": {},
	"VXN": {},
	"SPX": {},
	"NDX": {},
	"DJI": {},
	"RUT": {},
	"TNX": {},
}
