package config

import (
	"fmt"
	"strings"

	"dealsim/internal/market"
)

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":9991"
	defaultMarketName      = "binance"
	defaultMarketREST      = "https://fapi.binance.com"
	defaultMarketTimeout   = 15
	defaultDataDir         = "data/candles"
	defaultResultsDB       = "data/backtest_results.db"
	defaultMaxConcurrent   = 2
	defaultFetchConcurrent = 2
	defaultRateLimitPerMin = 1200
	defaultMaxBatch        = 1000
	defaultMaxRetries      = 5
	defaultTimeframe       = "1h"
	defaultInitialBalance  = 10000
	defaultStrategyName    = "sma_cross"
	defaultStrategyParams  = "configs/strategies.yaml"
	defaultSymbol          = "BTCUSDT"
	defaultPrecisionAmount = 0.001
	defaultPrecisionPrice  = 0.1
	defaultFeeTaker        = 0.0004
	defaultFeeMaker        = 0.0002
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.applySymbolDefaults()
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	if len(m.Sources) == 0 {
		m.Sources = []MarketSource{{
			Name:        defaultMarketName,
			Enabled:     true,
			RESTBaseURL: defaultMarketREST,
		}}
	}
	for i := range m.Sources {
		src := &m.Sources[i]
		src.RESTBaseURL = strings.TrimSpace(src.RESTBaseURL)
		if strings.TrimSpace(src.Name) == "" {
			if i == 0 {
				src.Name = defaultMarketName
			} else {
				src.Name = fmt.Sprintf("market_%d", i)
			}
		}
		if src.TimeoutSeconds <= 0 {
			src.TimeoutSeconds = defaultMarketTimeout
		}
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.active_source", &m.ActiveSource, m.Sources[0].Name),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("backtest.data_dir", &b.DataDir, defaultDataDir),
		stringFieldDefault("backtest.results_db", &b.ResultsDB, defaultResultsDB),
		stringFieldDefault("backtest.default_timeframe", &b.DefaultTimeframe, defaultTimeframe),
		intFieldDefault("backtest.max_concurrent", &b.MaxConcurrent, defaultMaxConcurrent),
		intFieldDefault("backtest.fetch_concurrent", &b.FetchConcurrent, defaultFetchConcurrent),
		intFieldDefault("backtest.rate_limit_per_min", &b.RateLimitPerMin, defaultRateLimitPerMin),
		intFieldDefault("backtest.max_batch", &b.MaxBatch, defaultMaxBatch),
		intFieldDefault("backtest.max_retries", &b.MaxRetries, defaultMaxRetries),
		boolFieldDefault("backtest.auto_fetch", &b.AutoFetch, true),
	)
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "engine.initial_balance",
			need:  func() bool { return e.InitialBalance <= 0 },
			apply: func() { e.InitialBalance = defaultInitialBalance },
		},
		stringFieldDefault("engine.default_symbol", &e.DefaultSymbol, defaultSymbol),
	)
	e.DefaultSymbol = market.NormalizeSymbol(e.DefaultSymbol)
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("strategy.name", &s.Name, defaultStrategyName),
		stringFieldDefault("strategy.params_path", &s.ParamsPath, defaultStrategyParams),
	)
	s.Name = strings.ToLower(strings.TrimSpace(s.Name))
}

// applySymbolDefaults 在未配置任何交易对时写入默认交易对。
func (c *Config) applySymbolDefaults() {
	if len(c.Symbols) > 0 {
		return
	}
	c.Symbols = map[string]SymbolConfig{
		defaultSymbol: {
			PrecisionAmount: defaultPrecisionAmount,
			PrecisionPrice:  defaultPrecisionPrice,
			FeeTaker:        defaultFeeTaker,
			FeeMaker:        defaultFeeMaker,
		},
	}
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

// boolFieldDefault 只在 key 未出现在配置文件中时生效。
func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
