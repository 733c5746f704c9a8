package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeIndexSymbol(t *testing.T) {
	assert.Equal(t, "$VIX", NormalizeIndexSymbol("VIX"))
	assert.Equal(t, "$VIX", NormalizeIndexSymbol("vix"))
	assert.Equal(t, "$VIX", NormalizeIndexSymbol("$VIX"), "already prefixed passes through")
	assert.Equal(t, "SPY", NormalizeIndexSymbol("SPY"), "tickers pass through unchanged")
	assert.Equal(t, "$SPX", NormalizeIndexSymbol(" spx "))
	assert.Equal(t, "", NormalizeIndexSymbol(""))
}

func TestIsIndexSymbol(t *testing.T) {
	assert.True(t, IsIndexSymbol("$VIX"))
	assert.False(t, IsIndexSymbol("VIX"))
	assert.False(t, IsIndexSymbol("SPY"))
}
