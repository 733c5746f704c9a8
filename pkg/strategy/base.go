package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BaseStrategy provides a default implementation of common strategy functionality
type BaseStrategy struct {
	name       string
	parameters map[string]interface{}
	timeframe  string
}

// NewBaseStrategy creates a new base strategy
func NewBaseStrategy(name string, parameters map[string]interface{}) *BaseStrategy {
	if parameters == nil {
		parameters = map[string]interface{}{}
	}
	return &BaseStrategy{
		name:       name,
		parameters: parameters,
		timeframe:  "1D",
	}
}

// GetName returns the strategy name
func (s *BaseStrategy) GetName() string {
	return s.name
}

// GetParameters returns the strategy parameters
func (s *BaseStrategy) GetParameters() map[string]interface{} {
	return s.parameters
}

// SetTimeframe sets the timeframe for this strategy
func (s *BaseStrategy) SetTimeframe(timeframe string) {
	s.timeframe = timeframe
}

// GetTimeframe returns the timeframe for this strategy
func (s *BaseStrategy) GetTimeframe() string {
	return s.timeframe
}

// GetParameter returns a raw parameter value
func (s *BaseStrategy) GetParameter(key string) interface{} {
	return s.parameters[key]
}

// GetParameterFloat64 returns a parameter as float64
func (s *BaseStrategy) GetParameterFloat64(key string) (float64, error) {
	val, ok := s.parameters[key]
	if !ok {
		return 0, fmt.Errorf("parameter %s not found", key)
	}

	switch v := val.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case decimal.Decimal:
		return v.InexactFloat64(), nil
	default:
		return 0, fmt.Errorf("parameter %s is not a number", key)
	}
}

// GetParameterInt returns a parameter as int
func (s *BaseStrategy) GetParameterInt(key string) (int, error) {
	val, ok := s.parameters[key]
	if !ok {
		return 0, fmt.Errorf("parameter %s not found", key)
	}

	switch v := val.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("parameter %s is not an integer", key)
	}
}

// GetParameterDecimal returns a parameter as an exact decimal
func (s *BaseStrategy) GetParameterDecimal(key string) (decimal.Decimal, error) {
	val, ok := s.parameters[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("parameter %s not found", key)
	}

	switch v := val.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		return decimal.NewFromString(v)
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	default:
		return decimal.Zero, fmt.Errorf("parameter %s is not a number", key)
	}
}

// GetParameterString returns a parameter as string
func (s *BaseStrategy) GetParameterString(key string) (string, error) {
	val, ok := s.parameters[key]
	if !ok {
		return "", fmt.Errorf("parameter %s not found", key)
	}

	if str, ok := val.(string); ok {
		return str, nil
	}

	return "", fmt.Errorf("parameter %s is not a string", key)
}

// GetParameterBool returns a parameter as bool
func (s *BaseStrategy) GetParameterBool(key string) (bool, error) {
	val, ok := s.parameters[key]
	if !ok {
		return false, fmt.Errorf("parameter %s not found", key)
	}

	if b, ok := val.(bool); ok {
		return b, nil
	}

	return false, fmt.Errorf("parameter %s is not a bool", key)
}

// Default implementations for the strategy interface (to be overridden)

// Initialize provides a default initialization
func (s *BaseStrategy) Initialize(ctx Context) error {
	ctx.Log("info", "Strategy initialized", map[string]interface{}{
		"strategy": s.name,
	})
	return nil
}

// OnBar provides a default implementation that does nothing
func (s *BaseStrategy) OnBar(ctx Context, bar BarData) error {
	return nil
}

// Cleanup provides a default cleanup
func (s *BaseStrategy) Cleanup(ctx Context) error {
	ctx.Log("info", "Strategy cleanup", map[string]interface{}{
		"strategy": s.name,
	})
	return nil
}
