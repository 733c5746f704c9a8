package backtester

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ridopark/JonBuhQuant/pkg/logging"
	"github.com/ridopark/JonBuhQuant/pkg/strategy"
)

// Fill is an executed order. Fills are append-only; none is ever mutated.
type Fill struct {
	ID         int
	Symbol     string
	Direction  strategy.SignalSide
	Quantity   int64
	Price      decimal.Decimal
	Commission decimal.Decimal
	Timestamp  time.Time
}

// Snapshot captures portfolio state at a point in time: total value,
// cash, and per-symbol allocation fractions of total value.
type Snapshot struct {
	TotalValue  decimal.Decimal
	Cash        decimal.Decimal
	Allocations map[string]decimal.Decimal
}

// RejectionCode classifies why a signal was rejected
type RejectionCode string

const (
	RejectInsufficientCash       RejectionCode = "INSUFFICIENT_CASH"
	RejectDirectionFlip          RejectionCode = "DIRECTION_FLIP"
	RejectOversell               RejectionCode = "OVERSELL"
	RejectInsufficientCollateral RejectionCode = "INSUFFICIENT_COLLATERAL"
)

// Rejection is the structured reason a signal was not executed.
// Rejections are expected in normal operation and are not errors.
type Rejection struct {
	Code      RejectionCode
	Reason    string
	Needed    decimal.Decimal
	Available decimal.Decimal
}

// Portfolio simulates the brokerage account: cash, the signed position
// book, latest observed closes, commission, and fill production. Every
// mutation happens inside one ExecuteSignal call.
type Portfolio struct {
	cash               decimal.Decimal
	initialCash        decimal.Decimal
	positions          map[string]int64
	latestPrices       map[string]decimal.Decimal
	commissionPerShare decimal.Decimal
	fills              []Fill
	rejections         int
	tradeLogger        *TradeLogger
	logger             zerolog.Logger
}

// NewPortfolio creates a portfolio with the given initial capital and
// per-share commission.
func NewPortfolio(initialCapital, commissionPerShare decimal.Decimal) *Portfolio {
	return &Portfolio{
		cash:               initialCapital,
		initialCash:        initialCapital,
		positions:          make(map[string]int64),
		latestPrices:       make(map[string]decimal.Decimal),
		commissionPerShare: commissionPerShare,
		fills:              make([]Fill, 0),
		logger:             logging.GetLogger("portfolio"),
	}
}

// SetTradeLogger attaches the two-phase trade logger. Optional.
func (p *Portfolio) SetTradeLogger(tl *TradeLogger) {
	p.tradeLogger = tl
}

// GetCash returns the current cash balance
func (p *Portfolio) GetCash() decimal.Decimal {
	return p.cash
}

// GetPosition returns the signed share count for a symbol, zero when flat
func (p *Portfolio) GetPosition(symbol string) int64 {
	return p.positions[symbol]
}

// GetPositions returns a copy of the position book (nonzero entries only)
func (p *Portfolio) GetPositions() map[string]int64 {
	book := make(map[string]int64, len(p.positions))
	for sym, qty := range p.positions {
		book[sym] = qty
	}
	return book
}

// GetLatestPrice returns the most recent observed close for a symbol
func (p *Portfolio) GetLatestPrice(symbol string) (decimal.Decimal, bool) {
	price, ok := p.latestPrices[symbol]
	return price, ok
}

// GetFills returns all fills in execution order
func (p *Portfolio) GetFills() []Fill {
	return p.fills
}

// RejectionCount returns the tally of rejected signals
func (p *Portfolio) RejectionCount() int {
	return p.rejections
}

// UpdateMarketValue records the current tick's closes. It must be called
// before any signal on the same tick is executed so total value reflects
// current prices and a signal on symbol X fills at X's own close.
// Idempotent for an unchanged bar map.
func (p *Portfolio) UpdateMarketValue(barsThisTick map[string]strategy.BarData) {
	for symbol, bar := range barsThisTick {
		p.latestPrices[symbol] = bar.Close
	}
}

// TotalValue returns cash plus the mark-to-market value of the book
func (p *Portfolio) TotalValue() decimal.Decimal {
	total := p.cash
	for symbol, qty := range p.positions {
		if price, ok := p.latestPrices[symbol]; ok {
			total = total.Add(price.Mul(decimal.NewFromInt(qty)))
		}
	}
	return total
}

// MarkToMarket returns the current snapshot for the equity curve
func (p *Portfolio) MarkToMarket() Snapshot {
	total := p.TotalValue()
	allocations := make(map[string]decimal.Decimal, len(p.positions))
	if total.IsPositive() {
		for symbol, qty := range p.positions {
			if price, ok := p.latestPrices[symbol]; ok {
				allocations[symbol] = price.Mul(decimal.NewFromInt(qty)).DivRound(total, 8)
			}
		}
	}
	return Snapshot{
		TotalValue:  total,
		Cash:        p.cash,
		Allocations: allocations,
	}
}

// ExecuteSignal translates a signal into shares, validates brokerage
// constraints, and applies the fill. The only state-mutating method.
// Returns (fill, nil) on execution, (nil, rejection) on a constraint
// rejection, and (nil, nil) when the signal is a no-op.
func (p *Portfolio) ExecuteSignal(sig strategy.Signal, currentBar strategy.BarData) (*Fill, *Rejection) {
	// Before-state is captured first so the trade logger sees it.
	before := p.MarkToMarket()

	price, ok := p.latestPrices[sig.Symbol]
	if !ok {
		// Diagnostic fallback for harnesses that never call
		// UpdateMarketValue; wrong for multi-symbol runs.
		price = currentBar.Close
		p.logger.Debug().
			Str("symbol", sig.Symbol).
			Str("fallback_price", price.String()).
			Msg("No latest price for signal symbol, falling back to current bar close")
	}

	current := p.positions[sig.Symbol]

	var direction strategy.SignalSide
	var shares int64

	if sig.IsLiquidation() {
		if current == 0 {
			p.logger.Debug().Str("symbol", sig.Symbol).Msg("Liquidation signal while flat, no-op")
			return nil, nil
		}
		if current > 0 {
			direction = strategy.SignalSell
			shares = current
		} else {
			direction = strategy.SignalBuy
			shares = -current
		}
	} else {
		direction = sig.Side
		allocation := before.TotalValue.Mul(sig.PortfolioPercent)
		shares = sizeSignal(direction, allocation, price, p.commissionPerShare, sig.RiskPerShare)
		if shares == 0 {
			p.logger.Debug().
				Str("symbol", sig.Symbol).
				Str("allocation", allocation.String()).
				Str("price", price.String()).
				Msg("Sized to zero shares, no-op")
			return nil, nil
		}
	}

	if rej := p.validate(direction, sig.Symbol, shares, price, current); rej != nil {
		p.rejections++
		p.logger.Warn().
			Str("symbol", sig.Symbol).
			Str("direction", string(direction)).
			Int64("shares", shares).
			Str("code", string(rej.Code)).
			Str("needed", rej.Needed.String()).
			Str("available", rej.Available.String()).
			Msg(rej.Reason)
		return nil, rej
	}

	// Apply the fill
	qty := decimal.NewFromInt(shares)
	notional := qty.Mul(price)
	commission := qty.Mul(p.commissionPerShare)

	if direction == strategy.SignalBuy {
		p.cash = p.cash.Sub(notional).Sub(commission)
		p.positions[sig.Symbol] = current + shares
	} else {
		p.cash = p.cash.Add(notional).Sub(commission)
		p.positions[sig.Symbol] = current - shares
	}
	if p.positions[sig.Symbol] == 0 {
		delete(p.positions, sig.Symbol)
	}

	fill := Fill{
		ID:         len(p.fills) + 1,
		Symbol:     sig.Symbol,
		Direction:  direction,
		Quantity:   shares,
		Price:      price,
		Commission: commission,
		Timestamp:  currentBar.Timestamp,
	}
	p.fills = append(p.fills, fill)

	p.logger.Debug().
		Int("fill_id", fill.ID).
		Str("symbol", fill.Symbol).
		Str("direction", string(fill.Direction)).
		Int64("shares", fill.Quantity).
		Str("price", fill.Price.String()).
		Str("cash", p.cash.String()).
		Msg("Fill executed")

	if p.tradeLogger != nil {
		after := p.MarkToMarket()
		p.tradeLogger.LogTradeExecution(fill, before, after)
	}

	return &fill, nil
}

// validate applies the trading constraint rules in their fixed order:
//  1. cash for a BUY
//  2. no direct long<->short crossover in a single order
//  3. a SELL while long may not exceed the position
//  4. a short-opening SELL needs 1.5x notional collateral
//  5. a short-enlarging SELL needs the same collateral on the added shares
func (p *Portfolio) validate(direction strategy.SignalSide, symbol string, shares int64, price decimal.Decimal, current int64) *Rejection {
	qty := decimal.NewFromInt(shares)
	commission := qty.Mul(p.commissionPerShare)

	// Rule 1: cash for a BUY
	if direction == strategy.SignalBuy {
		cost := qty.Mul(price).Add(commission)
		if cost.GreaterThan(p.cash) {
			return &Rejection{
				Code:      RejectInsufficientCash,
				Reason:    fmt.Sprintf("insufficient cash for BUY %d %s", shares, symbol),
				Needed:    cost,
				Available: p.cash,
			}
		}
	}

	// Rule 2: no direct direction flip
	target := current
	if direction == strategy.SignalBuy {
		target += shares
	} else {
		target -= shares
	}
	if (current > 0 && target < 0) || (current < 0 && target > 0) {
		return &Rejection{
			Code: RejectDirectionFlip,
			Reason: fmt.Sprintf("order would flip %s from %d to %d shares; liquidate first, reopen on a later tick",
				symbol, current, target),
		}
	}

	if direction == strategy.SignalSell {
		switch {
		case current > 0:
			// Rule 3: selling long may not exceed the position
			if shares > current {
				return &Rejection{
					Code:      RejectOversell,
					Reason:    fmt.Sprintf("SELL %d exceeds long position of %d %s", shares, current, symbol),
					Needed:    qty,
					Available: decimal.NewFromInt(current),
				}
			}
		default:
			// Rules 4 and 5: initial margin collateral for opening or
			// enlarging a short; the formula applies to the added shares.
			collateral := qty.Mul(price).Mul(shortMarginMultiplier).Add(commission)
			if collateral.GreaterThan(p.cash) {
				return &Rejection{
					Code:      RejectInsufficientCollateral,
					Reason:    fmt.Sprintf("insufficient collateral to short %d %s", shares, symbol),
					Needed:    collateral,
					Available: p.cash,
				}
			}
		}
	}

	return nil
}
