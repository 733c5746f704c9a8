package backtester

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
)

// Timestamp formats for CSV emission
const (
	csvDateFormat     = "2006-01-02"
	csvDateTimeFormat = "2006-01-02 15:04:05"
)

// fmtDec is the single decimal-to-text boundary. All kernel arithmetic
// stays decimal; numbers become strings only here.
func fmtDec(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

// fmtStat renders an optional metric, N/A when undefined
func fmtStat(s Stat, places int32) string {
	if !s.Valid {
		return "N/A"
	}
	return fmtDec(s.Value, places)
}

// fmtStatPct renders an optional ratio as a percentage
func fmtStatPct(s Stat) string {
	if !s.Valid {
		return "N/A"
	}
	return fmtDec(s.Value.Mul(decimal.NewFromInt(100)), 2)
}

// tradeLogColumns is the stable column prefix of the trade log CSV
var tradeLogColumns = []string{
	"Trade_ID", "Date", "Bar_Number", "Strategy_State", "Ticker", "Decision",
	"Decision_Reason", "Order_Type", "Shares", "Fill_Price", "Position_Value",
	"Slippage", "Commission", "Portfolio_Value_Before", "Portfolio_Value_After",
	"Cash_Before", "Cash_After", "Allocation_Before", "Allocation_After",
	"Cumulative_Return_Pct",
}

// WriteTradeLog emits one row per fill plus dynamic indicator/threshold
// columns and a Summary Statistics footer.
func WriteTradeLog(path string, records []TradeRecord, report *Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create trade log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)

	// Dynamic columns: sorted union of every indicator and threshold
	// name any row logged, for deterministic output.
	indicatorNames := map[string]struct{}{}
	thresholdNames := map[string]struct{}{}
	for _, rec := range records {
		for name := range rec.Indicators {
			indicatorNames[name] = struct{}{}
		}
		for name := range rec.Thresholds {
			thresholdNames[name] = struct{}{}
		}
	}
	indicators := sortedKeys(indicatorNames)
	thresholds := sortedKeys(thresholdNames)

	header := append([]string{}, tradeLogColumns...)
	for _, name := range indicators {
		header = append(header, "Indicator_"+name)
	}
	for _, name := range thresholds {
		header = append(header, "Threshold_"+name)
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			fmt.Sprintf("%d", rec.TradeID),
			rec.Date.UTC().Format(csvDateTimeFormat),
			fmt.Sprintf("%d", rec.BarNumber),
			rec.StrategyState,
			rec.Ticker,
			string(rec.Decision),
			rec.DecisionReason,
			rec.OrderType,
			fmt.Sprintf("%d", rec.Shares),
			fmtDec(rec.FillPrice, 4),
			fmtDec(rec.PositionValue, 2),
			fmtDec(rec.Slippage, 2),
			fmtDec(rec.Commission, 2),
			fmtDec(rec.PortfolioValueBefore, 2),
			fmtDec(rec.PortfolioValueAfter, 2),
			fmtDec(rec.CashBefore, 2),
			fmtDec(rec.CashAfter, 2),
			fmtStatPct(StatOf(rec.AllocationBefore)),
			fmtStatPct(StatOf(rec.AllocationAfter)),
			fmtDec(rec.CumulativeReturnPct, 2),
		}
		for _, name := range indicators {
			if v, ok := rec.Indicators[name]; ok {
				row = append(row, fmtDec(v, 4))
			} else {
				row = append(row, "")
			}
		}
		for _, name := range thresholds {
			if v, ok := rec.Thresholds[name]; ok {
				row = append(row, fmtDec(v, 4))
			} else {
				row = append(row, "")
			}
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	// Footer: blank line then Key,Value summary pairs
	if _, err := f.WriteString("\nSummary Statistics:\n"); err != nil {
		return err
	}
	fw := csv.NewWriter(f)
	for _, kv := range summaryPairs(report) {
		if err := fw.Write(kv); err != nil {
			return err
		}
	}
	fw.Flush()
	return fw.Error()
}

// summaryPairs lists the Key,Value metric rows of the trade log footer
func summaryPairs(r *Report) [][]string {
	pairs := [][]string{
		{"Initial Capital", fmtDec(r.InitialCapital, 2)},
		{"Final Value", fmtDec(r.FinalValue, 2)},
		{"Total Return Pct", fmtStatPct(r.TotalReturn)},
		{"Annualized Return Pct", fmtStatPct(r.AnnualizedReturn)},
		{"Max Drawdown Pct", fmtStatPct(r.MaxDrawdown)},
		{"Sharpe Ratio", fmtStat(r.SharpeRatio, 4)},
		{"Round Trips", fmt.Sprintf("%d", r.TotalTrades)},
		{"Win Rate Pct", fmtStatPct(r.WinRate)},
		{"Avg Win", fmtStat(r.AvgWin, 2)},
		{"Avg Loss", fmtStat(r.AvgLoss, 2)},
		{"Profit Factor", fmtStat(r.ProfitFactor, 4)},
		{"Fills", fmt.Sprintf("%d", r.FillCount)},
		{"Rejected Signals", fmt.Sprintf("%d", r.Rejections)},
	}
	if r.Baseline != nil {
		pairs = append(pairs,
			[]string{"Baseline Symbol", r.Baseline.Symbol},
			[]string{"Baseline Return Pct", fmtStatPct(StatOf(r.Baseline.TotalReturn))},
			[]string{"Alpha", fmtStat(r.Alpha, 4)},
		)
	}
	return pairs
}

// WriteDailyCSV emits one row per bar: portfolio value and returns,
// optional baseline columns when the baseline symbol was in the feed,
// cash, and per-symbol quantity/value pairs.
func WriteDailyCSV(path string, daily []DailyRecord, cfg Config, baseline *BaselineQuote) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create daily csv: %w", err)
	}
	defer f.Close()

	// Baseline columns require per-bar baseline prices, which exist only
	// when the baseline symbol itself was tracked in the feed.
	withBaseline := baseline != nil && baseline.FirstClose.IsPositive() && baselineTracked(daily, baseline.Symbol)

	header := []string{
		"Date", "Portfolio_Total_Value", "Portfolio_Day_Change_Pct",
		"Portfolio_Overall_Return", "Portfolio_PL_Percent",
	}
	if withBaseline {
		header = append(header,
			fmt.Sprintf("Baseline_%s_Value", baseline.Symbol),
			fmt.Sprintf("Baseline_%s_Return_Pct", baseline.Symbol),
		)
	}
	header = append(header, "Cash")
	for _, sym := range cfg.Symbols {
		header = append(header, sym+"_Qty", sym+"_Value")
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}

	one := decimal.NewFromInt(1)
	hundred := decimal.NewFromInt(100)
	var prevValue decimal.Decimal

	for i, rec := range daily {
		dayChange := decimal.Zero
		if i > 0 && prevValue.IsPositive() {
			dayChange = rec.TotalValue.DivRound(prevValue, 12).Sub(one).Mul(hundred)
		}
		prevValue = rec.TotalValue

		overall := decimal.Zero
		plPct := decimal.Zero
		if cfg.InitialCapital.IsPositive() {
			overall = rec.TotalValue.DivRound(cfg.InitialCapital, 12)
			plPct = overall.Sub(one).Mul(hundred)
		}

		row := []string{
			rec.Timestamp.UTC().Format(csvDateFormat),
			fmtDec(rec.TotalValue, 2),
			fmtDec(dayChange, 4),
			fmtDec(overall, 6),
			fmtDec(plPct, 4),
		}

		if withBaseline {
			if price, ok := rec.Prices[baseline.Symbol]; ok {
				ratio := price.DivRound(baseline.FirstClose, 12)
				row = append(row,
					fmtDec(cfg.InitialCapital.Mul(ratio), 2),
					fmtDec(ratio.Sub(one).Mul(hundred), 4),
				)
			} else {
				row = append(row, "", "")
			}
		}

		row = append(row, fmtDec(rec.Cash, 2))
		for _, sym := range cfg.Symbols {
			qty := rec.Positions[sym]
			value := decimal.Zero
			if price, ok := rec.Prices[sym]; ok {
				value = price.Mul(decimal.NewFromInt(qty))
			}
			row = append(row, fmt.Sprintf("%d", qty), fmtDec(value, 2))
		}

		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// WriteSummaryCSV emits the Category,Metric,Baseline,Strategy,Difference table
func WriteSummaryCSV(path string, report *Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Category", "Metric", "Baseline", "Strategy", "Difference"}); err != nil {
		return err
	}

	baseReturn := StatNA
	baseAnnual := StatNA
	baseFinal := "N/A"
	if report.Baseline != nil {
		baseReturn = StatOf(report.Baseline.TotalReturn)
		baseAnnual = report.Baseline.AnnualizedReturn
		baseFinal = fmtDec(report.Baseline.FinalValue, 2)
	}

	rows := [][]string{
		{"Performance", "Total Return Pct", fmtStatPct(baseReturn), fmtStatPct(report.TotalReturn), diffPct(baseReturn, report.TotalReturn)},
		{"Performance", "Annualized Return Pct", fmtStatPct(baseAnnual), fmtStatPct(report.AnnualizedReturn), diffPct(baseAnnual, report.AnnualizedReturn)},
		{"Performance", "Final Value", baseFinal, fmtDec(report.FinalValue, 2), ""},
		{"Risk", "Max Drawdown Pct", "N/A", fmtStatPct(report.MaxDrawdown), ""},
		{"Risk", "Sharpe Ratio", "N/A", fmtStat(report.SharpeRatio, 4), ""},
		{"Trading", "Round Trips", "N/A", fmt.Sprintf("%d", report.TotalTrades), ""},
		{"Trading", "Win Rate Pct", "N/A", fmtStatPct(report.WinRate), ""},
		{"Trading", "Avg Win", "N/A", fmtStat(report.AvgWin, 2), ""},
		{"Trading", "Avg Loss", "N/A", fmtStat(report.AvgLoss, 2), ""},
		{"Trading", "Profit Factor", "N/A", fmtStat(report.ProfitFactor, 4), ""},
		{"Trading", "Rejected Signals", "N/A", fmt.Sprintf("%d", report.Rejections), ""},
		{"Comparison", "Alpha", "", fmtStat(report.Alpha, 4), ""},
	}

	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func diffPct(baseline, value Stat) string {
	if !baseline.Valid || !value.Valid {
		return "N/A"
	}
	return fmtStatPct(StatOf(value.Value.Sub(baseline.Value)))
}

func baselineTracked(daily []DailyRecord, symbol string) bool {
	for _, rec := range daily {
		if _, ok := rec.Prices[symbol]; ok {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
