package gridsearch

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ridopark/JonBuhQuant/pkg/backtester"
	"github.com/ridopark/JonBuhQuant/pkg/feed"
	"github.com/ridopark/JonBuhQuant/pkg/strategy"
)

const (
	defaultMaxCombinations    = 500
	defaultCheckpointInterval = 10
)

// ConfigError reports an invalid grid configuration
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("grid config: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("grid config: %s", e.Msg)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Money is a decimal that unmarshals from a YAML scalar exactly, never
// through a float.
type Money struct {
	decimal.Decimal
}

func (m *Money) UnmarshalYAML(node *yaml.Node) error {
	v, err := decimal.NewFromString(node.Value)
	if err != nil {
		return fmt.Errorf("invalid decimal %q: %w", node.Value, err)
	}
	m.Decimal = v
	return nil
}

// SymbolSet is one symbol binding row of the grid. Vix may be written
// without the index prefix in YAML and is normalized on load.
type SymbolSet struct {
	Name    string `yaml:"name"`
	Signal  string `yaml:"signal_symbol"`
	Bull    string `yaml:"bull_symbol"`
	Defense string `yaml:"defense_symbol"`
	Vix     string `yaml:"vix_symbol"`
}

// Bindings converts the YAML row to strategy symbol bindings
func (s SymbolSet) Bindings() strategy.SymbolBindings {
	b := strategy.SymbolBindings{
		Signal:  s.Signal,
		Bull:    s.Bull,
		Defense: s.Defense,
	}
	if s.Vix != "" {
		b.Vix = feed.NormalizeIndexSymbol(s.Vix)
	}
	return b
}

// FeedSymbols lists the symbols a run over this set must load
func (s SymbolSet) FeedSymbols() []string {
	symbols := make([]string, 0, 4)
	seen := map[string]struct{}{}
	add := func(sym string) {
		if sym == "" {
			return
		}
		if _, dup := seen[sym]; dup {
			return
		}
		seen[sym] = struct{}{}
		symbols = append(symbols, sym)
	}
	add(s.Signal)
	add(s.Bull)
	add(s.Defense)
	if s.Vix != "" {
		add(feed.NormalizeIndexSymbol(s.Vix))
	}
	return symbols
}

// Label names the set in run IDs and summary rows
func (s SymbolSet) Label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Bull != "" && s.Bull != s.Signal {
		return s.Signal + "-" + s.Bull
	}
	return s.Signal
}

// BaseConfig carries the per-run settings shared by every grid cell
type BaseConfig struct {
	StartDate          string `yaml:"start_date"`
	EndDate            string `yaml:"end_date"`
	Timeframe          string `yaml:"timeframe"`
	InitialCapital     Money  `yaml:"initial_capital"`
	CommissionPerShare Money  `yaml:"commission"`
	Slippage           Money  `yaml:"slippage"`
	BaselineSymbol     string `yaml:"baseline_symbol"`
	PeriodsPerYear     int    `yaml:"periods_per_year"`
}

// Config is the parsed grid search configuration
type Config struct {
	Strategy   string                   `yaml:"strategy"`
	SymbolSets []SymbolSet              `yaml:"symbol_sets"`
	Base       BaseConfig               `yaml:"base_config"`
	Parameters map[string][]interface{} `yaml:"parameters"`

	MaxCombinations    int    `yaml:"max_combinations"`
	CheckpointInterval int    `yaml:"checkpoint_interval"`
	ConfirmLargeRun    bool   `yaml:"confirm_large_run"`
	Workers            int    `yaml:"workers"`
	OutputDir          string `yaml:"output_dir"`

	// Resolved during validation
	startDate time.Time
	endDate   time.Time
}

// LoadConfig reads, parses and validates a grid YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Msg: "cannot read file", Err: err}
	}

	cfg := &Config{
		Base:               BaseConfig{BaselineSymbol: "QQQ", PeriodsPerYear: 252},
		MaxCombinations:    defaultMaxCombinations,
		CheckpointInterval: defaultCheckpointInterval,
		Workers:            1,
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ConfigError{Msg: "cannot parse yaml", Err: err}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	desc, ok := strategy.Lookup(c.Strategy)
	if !ok {
		return &ConfigError{Msg: fmt.Sprintf("unknown strategy %q (registered: %v)", c.Strategy, strategy.Names())}
	}

	if len(c.SymbolSets) == 0 {
		return &ConfigError{Msg: "no symbol_sets configured"}
	}
	for i, set := range c.SymbolSets {
		if set.Signal == "" {
			return &ConfigError{Msg: fmt.Sprintf("symbol_sets[%d]: signal symbol is empty", i)}
		}
		if desc.RequiresVix && set.Vix == "" {
			return &ConfigError{Msg: fmt.Sprintf("symbol_sets[%d]: strategy %s requires a vix symbol", i, c.Strategy)}
		}
	}

	var err error
	c.startDate, err = time.Parse("2006-01-02", c.Base.StartDate)
	if err != nil {
		return &ConfigError{Msg: "invalid start_date", Err: err}
	}
	c.endDate, err = time.Parse("2006-01-02", c.Base.EndDate)
	if err != nil {
		return &ConfigError{Msg: "invalid end_date", Err: err}
	}
	if !c.endDate.After(c.startDate) {
		return &ConfigError{Msg: "end_date must be after start_date"}
	}

	if !c.Base.InitialCapital.IsPositive() {
		return &ConfigError{Msg: "initial_capital must be positive"}
	}
	if c.Base.PeriodsPerYear <= 0 {
		return &ConfigError{Msg: "periods_per_year must be positive"}
	}
	if c.Base.Timeframe == "" {
		return &ConfigError{Msg: "timeframe is empty"}
	}
	if c.Workers < 1 {
		return &ConfigError{Msg: "workers must be at least 1"}
	}

	for name, values := range c.Parameters {
		if len(values) == 0 {
			return &ConfigError{Msg: fmt.Sprintf("parameter %q has no values", name)}
		}
	}

	total := c.CombinationCount()
	if total > c.MaxCombinations && !c.ConfirmLargeRun {
		return &ConfigError{Msg: fmt.Sprintf(
			"%d combinations exceeds max_combinations %d; set confirm_large_run: true to proceed",
			total, c.MaxCombinations)}
	}

	return nil
}

// DefaultOutputDir is the artifact directory used when the YAML omits
// output_dir. The stamp comes from the caller; pinning it in the config
// would break checkpoint resume across invocations.
func DefaultOutputDir(strategyName, stamp string) string {
	return filepath.Join("output", fmt.Sprintf("grid_search_%s_%s", strategyName, stamp))
}

// CombinationCount is the Cartesian size of the grid: symbol sets times
// every parameter list.
func (c *Config) CombinationCount() int {
	total := len(c.SymbolSets)
	for _, values := range c.Parameters {
		total *= len(values)
	}
	return total
}

// RunConfig builds the backtester configuration for one grid cell
func (c *Config) RunConfig(set SymbolSet, outputDir string) backtester.Config {
	return backtester.Config{
		StrategyName:       c.Strategy,
		Symbols:            set.FeedSymbols(),
		Timeframe:          c.Base.Timeframe,
		StartDate:          c.startDate,
		EndDate:            c.endDate,
		InitialCapital:     c.Base.InitialCapital.Decimal,
		CommissionPerShare: c.Base.CommissionPerShare.Decimal,
		Slippage:           c.Base.Slippage.Decimal,
		BaselineSymbol:     c.Base.BaselineSymbol,
		PeriodsPerYear:     c.Base.PeriodsPerYear,
		OutputDir:          outputDir,
	}
}
