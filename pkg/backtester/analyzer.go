package backtester

import (
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/ridopark/JonBuhQuant/pkg/logging"
	"github.com/ridopark/JonBuhQuant/pkg/strategy"
)

// daysPerYear annualizes returns over the run's calendar span
const daysPerYear = 365.25

// minDrawdown clamps the drawdown series when the equity curve touches
// zero, keeping the metric inside (-1, 0] instead of reporting -100%.
var minDrawdown = decimal.RequireFromString("-0.99999999")

// Stat is a metric value that may be undefined; undefined values render
// as N/A rather than a misleading zero.
type Stat struct {
	Value decimal.Decimal
	Valid bool
}

// StatOf wraps a defined metric value
func StatOf(v decimal.Decimal) Stat {
	return Stat{Value: v, Valid: true}
}

// StatNA is the undefined metric
var StatNA = Stat{}

// BaselineQuote holds the first and last observed closes of the
// reference symbol over the run window.
type BaselineQuote struct {
	Symbol     string
	FirstClose decimal.Decimal
	LastClose  decimal.Decimal
}

// BaselineReport is the buy-and-hold comparator over the same window
type BaselineReport struct {
	Symbol           string
	FirstClose       decimal.Decimal
	LastClose        decimal.Decimal
	TotalReturn      decimal.Decimal
	AnnualizedReturn Stat
	FinalValue       decimal.Decimal
}

// RoundTrip is a closed entry/exit pair on one symbol, the unit of the
// win-rate statistics.
type RoundTrip struct {
	Symbol     string
	Direction  strategy.SignalSide // direction of the opening fill
	Quantity   int64
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	PnL        decimal.Decimal
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// Report is the full performance analysis of one run
type Report struct {
	StrategyName   string
	Start          time.Time
	End            time.Time
	InitialCapital decimal.Decimal
	FinalValue     decimal.Decimal

	TotalReturn      Stat
	AnnualizedReturn Stat
	MaxDrawdown      Stat
	DrawdownClamped  bool
	SharpeRatio      Stat

	RoundTrips    []RoundTrip
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       Stat
	AvgWin        Stat
	AvgLoss       Stat
	ProfitFactor  Stat

	FillCount  int
	Rejections int

	Baseline *BaselineReport
	Alpha    Stat
}

// Analyzer computes end-of-run performance metrics. PeriodsPerYear is
// the Sharpe annualization factor for the bar timeframe; it is supplied,
// never assumed.
type Analyzer struct {
	periodsPerYear int
	logger         zerolog.Logger
}

// NewAnalyzer creates an analyzer for the given bar periodicity
func NewAnalyzer(periodsPerYear int) *Analyzer {
	return &Analyzer{
		periodsPerYear: periodsPerYear,
		logger:         logging.GetLogger("analyzer"),
	}
}

// Analyze produces the report. An empty curve yields N/A metrics, never
// a panic or an error.
func (a *Analyzer) Analyze(strategyName string, curve []EquityPoint, fills []Fill, initialCapital decimal.Decimal, rejections int, baseline *BaselineQuote) *Report {
	r := &Report{
		StrategyName:     strategyName,
		InitialCapital:   initialCapital,
		FillCount:        len(fills),
		Rejections:       rejections,
		TotalReturn:      StatNA,
		AnnualizedReturn: StatNA,
		MaxDrawdown:      StatNA,
		SharpeRatio:      StatNA,
		WinRate:          StatNA,
		AvgWin:           StatNA,
		AvgLoss:          StatNA,
		ProfitFactor:     StatNA,
		Alpha:            StatNA,
	}

	if len(curve) > 0 {
		r.Start = curve[0].Timestamp
		r.End = curve[len(curve)-1].Timestamp
		r.FinalValue = curve[len(curve)-1].Value

		if initialCapital.IsPositive() {
			r.TotalReturn = StatOf(r.FinalValue.DivRound(initialCapital, 12).Sub(decimal.NewFromInt(1)))
			r.AnnualizedReturn = annualize(r.FinalValue, initialCapital, r.Start, r.End)
		}

		r.MaxDrawdown, r.DrawdownClamped = maxDrawdown(curve)
		if r.DrawdownClamped {
			a.logger.Warn().Msg("Equity curve touched zero; drawdown clamped")
		}
		r.SharpeRatio = a.sharpe(curve)
	}

	a.tradeStats(r, fills)

	if baseline != nil && baseline.FirstClose.IsPositive() {
		br := &BaselineReport{
			Symbol:      baseline.Symbol,
			FirstClose:  baseline.FirstClose,
			LastClose:   baseline.LastClose,
			TotalReturn: baseline.LastClose.DivRound(baseline.FirstClose, 12).Sub(decimal.NewFromInt(1)),
		}
		br.FinalValue = initialCapital.Mul(decimal.NewFromInt(1).Add(br.TotalReturn))
		if len(curve) > 0 {
			growth := decimal.NewFromInt(1).Add(br.TotalReturn)
			br.AnnualizedReturn = annualizeGrowth(growth, r.Start, r.End)
		} else {
			br.AnnualizedReturn = StatNA
		}
		r.Baseline = br

		if r.TotalReturn.Valid && !br.TotalReturn.IsZero() {
			r.Alpha = StatOf(r.TotalReturn.Value.DivRound(br.TotalReturn, 12))
		}
	}

	return r
}

// AnalyzeBaseline builds the buy-and-hold report on its own, without a
// strategy run behind it. The grid summary uses it for the reference row.
func AnalyzeBaseline(quote *BaselineQuote, initialCapital decimal.Decimal, start, end time.Time) *BaselineReport {
	if quote == nil || !quote.FirstClose.IsPositive() {
		return nil
	}
	br := &BaselineReport{
		Symbol:      quote.Symbol,
		FirstClose:  quote.FirstClose,
		LastClose:   quote.LastClose,
		TotalReturn: quote.LastClose.DivRound(quote.FirstClose, 12).Sub(decimal.NewFromInt(1)),
	}
	br.FinalValue = initialCapital.Mul(decimal.NewFromInt(1).Add(br.TotalReturn))
	br.AnnualizedReturn = annualizeGrowth(decimal.NewFromInt(1).Add(br.TotalReturn), start, end)
	return br
}

// annualize computes (final/initial)^(365.25/days) - 1
func annualize(final, initial decimal.Decimal, start, end time.Time) Stat {
	if !initial.IsPositive() {
		return StatNA
	}
	return annualizeGrowth(final.DivRound(initial, 12), start, end)
}

// annualizeGrowth raises a growth factor to the annual exponent. The
// fractional power is irrational in general, so this is one of the two
// sanctioned float boundaries; the result is a display statistic only.
func annualizeGrowth(growth decimal.Decimal, start, end time.Time) Stat {
	days := end.Sub(start).Hours() / 24
	if days <= 0 || !growth.IsPositive() {
		return StatNA
	}
	annual := math.Pow(growth.InexactFloat64(), daysPerYear/days) - 1
	if math.IsNaN(annual) || math.IsInf(annual, 0) {
		return StatNA
	}
	return StatOf(decimal.NewFromFloat(annual))
}

// maxDrawdown walks the running peak of the equity curve. The returned
// bool reports whether clamping fired (equity at or below zero).
func maxDrawdown(curve []EquityPoint) (Stat, bool) {
	if len(curve) == 0 {
		return StatNA, false
	}

	peak := curve[0].Value
	worst := decimal.Zero
	clamped := false

	for _, pt := range curve {
		if pt.Value.GreaterThan(peak) {
			peak = pt.Value
		}
		if !peak.IsPositive() {
			clamped = true
			continue
		}
		dd := pt.Value.DivRound(peak, 12).Sub(decimal.NewFromInt(1))
		if dd.LessThanOrEqual(minDrawdown) {
			dd = minDrawdown
			clamped = true
		}
		if dd.LessThan(worst) {
			worst = dd
		}
	}

	return StatOf(worst), clamped
}

// sharpe computes mean/stdev of per-bar returns scaled by
// sqrt(periodsPerYear). Undefined for fewer than two return
// observations or zero deviation.
func (a *Analyzer) sharpe(curve []EquityPoint) Stat {
	if len(curve) < 3 {
		return StatNA
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Value
		if !prev.IsPositive() {
			continue
		}
		ret := curve[i].Value.DivRound(prev, 12).Sub(decimal.NewFromInt(1))
		returns = append(returns, ret.InexactFloat64())
	}
	if len(returns) < 2 {
		return StatNA
	}

	mean := stat.Mean(returns, nil)
	stdev := math.Sqrt(stat.Variance(returns, nil))
	if stdev == 0 || math.IsNaN(stdev) {
		return StatNA
	}

	sharpe := mean / stdev * math.Sqrt(float64(a.periodsPerYear))
	return StatOf(decimal.NewFromFloat(sharpe))
}

// tradeStats pairs consecutive opposing fills per symbol into round
// trips and derives the win statistics.
func (a *Analyzer) tradeStats(r *Report, fills []Fill) {
	r.RoundTrips = pairRoundTrips(fills)
	r.TotalTrades = len(r.RoundTrips)
	if r.TotalTrades == 0 {
		return
	}

	grossWins := decimal.Zero
	grossLosses := decimal.Zero

	for _, rt := range r.RoundTrips {
		if rt.PnL.IsPositive() {
			r.WinningTrades++
			grossWins = grossWins.Add(rt.PnL)
		} else {
			r.LosingTrades++
			grossLosses = grossLosses.Add(rt.PnL)
		}
	}

	r.WinRate = StatOf(decimal.NewFromInt(int64(r.WinningTrades)).
		DivRound(decimal.NewFromInt(int64(r.TotalTrades)), 12))

	if r.WinningTrades > 0 {
		r.AvgWin = StatOf(grossWins.DivRound(decimal.NewFromInt(int64(r.WinningTrades)), 12))
	}
	if r.LosingTrades > 0 {
		r.AvgLoss = StatOf(grossLosses.DivRound(decimal.NewFromInt(int64(r.LosingTrades)), 12))
	}
	if grossLosses.IsNegative() {
		r.ProfitFactor = StatOf(grossWins.DivRound(grossLosses.Neg(), 12))
	}
}

// openLot is the running entry-side state while pairing fills
type openLot struct {
	direction strategy.SignalSide
	quantity  int64
	avgPrice  decimal.Decimal
	commPer   decimal.Decimal // entry commission per share
	openedAt  time.Time
}

// pairRoundTrips collapses the fill stream into closed entry/exit pairs
// per symbol. Same-direction fills extend the open lot at a weighted
// average entry; opposing fills close against it FIFO. Commissions of
// both legs are charged to the trip pro rata.
func pairRoundTrips(fills []Fill) []RoundTrip {
	lots := make(map[string]*openLot)
	var trips []RoundTrip

	for _, fill := range fills {
		lot := lots[fill.Symbol]
		qty := decimal.NewFromInt(fill.Quantity)
		commPer := decimal.Zero
		if fill.Quantity > 0 {
			commPer = fill.Commission.DivRound(qty, 12)
		}

		if lot == nil || lot.quantity == 0 || lot.direction == fill.Direction {
			if lot == nil || lot.quantity == 0 {
				lots[fill.Symbol] = &openLot{
					direction: fill.Direction,
					quantity:  fill.Quantity,
					avgPrice:  fill.Price,
					commPer:   commPer,
					openedAt:  fill.Timestamp,
				}
			} else {
				// Extend the lot at a weighted average entry
				oldQty := decimal.NewFromInt(lot.quantity)
				newQty := oldQty.Add(qty)
				lot.avgPrice = lot.avgPrice.Mul(oldQty).Add(fill.Price.Mul(qty)).DivRound(newQty, 12)
				lot.commPer = lot.commPer.Mul(oldQty).Add(commPer.Mul(qty)).DivRound(newQty, 12)
				lot.quantity += fill.Quantity
			}
			continue
		}

		// Opposing fill closes against the open lot
		matched := fill.Quantity
		if matched > lot.quantity {
			matched = lot.quantity
		}
		matchedDec := decimal.NewFromInt(matched)

		var perShare decimal.Decimal
		if lot.direction == strategy.SignalBuy {
			perShare = fill.Price.Sub(lot.avgPrice)
		} else {
			perShare = lot.avgPrice.Sub(fill.Price)
		}
		pnl := perShare.Mul(matchedDec).
			Sub(lot.commPer.Mul(matchedDec)).
			Sub(commPer.Mul(matchedDec))

		trips = append(trips, RoundTrip{
			Symbol:     fill.Symbol,
			Direction:  lot.direction,
			Quantity:   matched,
			EntryPrice: lot.avgPrice,
			ExitPrice:  fill.Price,
			PnL:        pnl,
			OpenedAt:   lot.openedAt,
			ClosedAt:   fill.Timestamp,
		})

		lot.quantity -= matched
		remainder := fill.Quantity - matched
		if remainder > 0 {
			// The excess opens a new lot in the fill's direction. The
			// portfolio's no-flip rule means this only happens for fill
			// streams produced outside it.
			lots[fill.Symbol] = &openLot{
				direction: fill.Direction,
				quantity:  remainder,
				avgPrice:  fill.Price,
				commPer:   commPer,
				openedAt:  fill.Timestamp,
			}
		}
	}

	return trips
}
