// Package config loads run configuration from YAML files and environment
// variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/atlas-desktop/backtester/internal/metrics"
	"github.com/atlas-desktop/backtester/pkg/types"
)

// DataConfig locates the price table. When Path is empty a deterministic
// sample table is generated instead.
type DataConfig struct {
	Path       string   `mapstructure:"path"`
	Symbols    []string `mapstructure:"symbols"`
	SampleBars int      `mapstructure:"sample_bars"`
	SampleSeed int64    `mapstructure:"sample_seed"`
}

// CostConfig parameterizes the basis-point cost model.
type CostConfig struct {
	FeesBps     float64 `mapstructure:"fees_bps"`
	SlippageBps float64 `mapstructure:"slippage_bps"`
}

// StrategyConfig names a registered strategy and its parameters.
type StrategyConfig struct {
	Name   string         `mapstructure:"name"`
	Params map[string]any `mapstructure:"params"`
}

// RunConfig is the full configuration for one backtest run.
type RunConfig struct {
	Backtest   types.BacktestConfig     `mapstructure:"backtest"`
	Data       DataConfig               `mapstructure:"data"`
	Costs      CostConfig               `mapstructure:"costs"`
	Strategy   StrategyConfig           `mapstructure:"strategy"`
	MonteCarlo metrics.MonteCarloConfig `mapstructure:"monte_carlo"`
	OutputDir  string                   `mapstructure:"output_dir"`
	RiskFree   float64                  `mapstructure:"risk_free_rate"`
}

// Load reads a YAML config file (optional) with BACKTEST_-prefixed
// environment overrides and applies defaults.
func Load(path string) (*RunConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("BACKTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg RunConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the loaded configuration.
func (c *RunConfig) Validate() error {
	if err := c.Backtest.Validate(); err != nil {
		return err
	}
	if c.Costs.FeesBps < 0 || c.Costs.SlippageBps < 0 {
		return fmt.Errorf("cost bps must be >= 0")
	}
	if c.Strategy.Name == "" {
		return fmt.Errorf("strategy name must not be empty")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	def := types.DefaultBacktestConfig()
	v.SetDefault("backtest.initial_cash", def.InitialCash)
	v.SetDefault("backtest.allow_fractional_shares", def.AllowFractionalShares)
	v.SetDefault("backtest.warmup_bars", def.WarmupBars)
	v.SetDefault("backtest.fail_on_missing_marks", def.FailOnMissingMarks)
	v.SetDefault("backtest.max_abs_weight", def.MaxAbsWeight)
	v.SetDefault("backtest.min_order_notional", def.MinOrderNotional)

	v.SetDefault("data.symbols", []string{"AAA", "BBB", "CCC"})
	v.SetDefault("data.sample_bars", 504)
	v.SetDefault("data.sample_seed", 42)

	v.SetDefault("costs.fees_bps", 0.0)
	v.SetDefault("costs.slippage_bps", 0.0)

	v.SetDefault("strategy.name", "buy_and_hold")

	v.SetDefault("monte_carlo.iterations", 1000)
	v.SetDefault("monte_carlo.ruin_level", 0.5)

	v.SetDefault("output_dir", "./out")
	v.SetDefault("risk_free_rate", 0.0)
}
