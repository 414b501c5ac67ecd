package config

import (
	"fmt"
	"strings"

	"dealsim/internal/backtest"
	"dealsim/internal/market"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := validateSymbols(c.SymbolSpecs(), c.Engine.DefaultSymbol); err != nil {
		return err
	}
	return nil
}

func (m *MarketConfig) validate() error {
	active := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	found := active == ""
	for _, src := range m.Sources {
		if src.Enabled && strings.TrimSpace(src.RESTBaseURL) == "" {
			return fmt.Errorf("market.sources.%s missing rest_base_url", src.Name)
		}
		if strings.ToLower(src.Name) == active {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("market.active_source %q is not configured", m.ActiveSource)
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if strings.TrimSpace(b.DataDir) == "" {
		return fmt.Errorf("backtest.data_dir cannot be empty")
	}
	if strings.TrimSpace(b.ResultsDB) == "" {
		return fmt.Errorf("backtest.results_db cannot be empty")
	}
	if b.MaxConcurrent <= 0 || b.FetchConcurrent <= 0 {
		return fmt.Errorf("backtest.max_concurrent/fetch_concurrent must be > 0")
	}
	if b.MaxBatch <= 0 || b.MaxBatch > 1500 {
		return fmt.Errorf("backtest.max_batch must be within (0, 1500]")
	}
	if b.RateLimitPerMin < 0 || b.MaxRetries < 0 {
		return fmt.Errorf("backtest.rate_limit_per_min/max_retries must be >= 0")
	}
	if _, err := backtest.ParseTimeframe(b.DefaultTimeframe); err != nil {
		return fmt.Errorf("backtest.default_timeframe: %w", err)
	}
	return nil
}

func (e *EngineConfig) validate() error {
	if e.InitialBalance <= 0 {
		return fmt.Errorf("engine.initial_balance must be > 0")
	}
	if e.SlippageSteps < 0 {
		return fmt.Errorf("engine.slippage_steps must be >= 0")
	}
	return nil
}

func validateSymbols(specs map[string]market.SymbolSpec, defaultSymbol string) error {
	if len(specs) == 0 {
		return fmt.Errorf("symbols requires at least one entry")
	}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("symbols: %w", err)
		}
	}
	if _, ok := specs[defaultSymbol]; !ok {
		return fmt.Errorf("engine.default_symbol %s is not listed in symbols", defaultSymbol)
	}
	return nil
}
