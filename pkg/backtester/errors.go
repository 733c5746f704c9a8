package backtester

import (
	"fmt"
	"time"
)

// RunStatus is the terminal state of a backtest run
type RunStatus string

const (
	StatusPending   RunStatus = "PENDING"
	StatusCompleted RunStatus = "COMPLETED"
	StatusFailed    RunStatus = "FAILED"
	StatusCancelled RunStatus = "CANCELLED"
)

// InputValidationError reports malformed input that fails the run
// immediately: naive timestamps, OHLC violations, out-of-range portfolio
// percents, missing required symbols.
type InputValidationError struct {
	Msg string
	Err error
}

func (e *InputValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("input validation: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("input validation: %s", e.Msg)
}

func (e *InputValidationError) Unwrap() error { return e.Err }

// StrategyError wraps an error thrown inside OnBar with the bar context
// it happened on. The run is marked FAILED; artifacts up to that bar are
// preserved.
type StrategyError struct {
	Timestamp time.Time
	Symbol    string
	BarNumber int
	Err       error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("strategy error on bar %d (%s @ %s): %v",
		e.BarNumber, e.Symbol, e.Timestamp.Format(time.RFC3339), e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }
