package config

import (
	"strings"

	"dealsim/internal/market"
)

// Config 是 dealsim 的主配置载体。
type Config struct {
	App      AppConfig               `toml:"app"`
	Market   MarketConfig            `toml:"market"`
	Backtest BacktestConfig          `toml:"backtest"`
	Engine   EngineConfig            `toml:"engine"`
	Symbols  map[string]SymbolConfig `toml:"symbols"`
	Strategy StrategyConfig          `toml:"strategy"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// BacktestConfig 控制 K 线存储、拉取与回测并发。
type BacktestConfig struct {
	DataDir          string `toml:"data_dir"`
	ResultsDB        string `toml:"results_db"`
	MaxConcurrent    int    `toml:"max_concurrent"`
	FetchConcurrent  int    `toml:"fetch_concurrent"`
	RateLimitPerMin  int    `toml:"rate_limit_per_min"`
	MaxBatch         int    `toml:"max_batch"`
	MaxRetries       int    `toml:"max_retries"`
	DefaultTimeframe string `toml:"default_timeframe"`
	AutoFetch        bool   `toml:"auto_fetch"`
}

// EngineConfig 是撮合引擎的默认参数，可被单次请求覆盖。
type EngineConfig struct {
	InitialBalance float64 `toml:"initial_balance"`
	SlippageSteps  float64 `toml:"slippage_steps"`
	DefaultSymbol  string  `toml:"default_symbol"`
}

// SymbolConfig 描述单个交易对的步长与手续费率。
type SymbolConfig struct {
	PrecisionAmount float64 `toml:"precision_amount"`
	PrecisionPrice  float64 `toml:"precision_price"`
	FeeTaker        float64 `toml:"fee_taker"`
	FeeMaker        float64 `toml:"fee_maker"`
}

type StrategyConfig struct {
	Name       string `toml:"name"`
	ParamsPath string `toml:"params_path"`
}

type MarketConfig struct {
	ActiveSource string         `toml:"active_source"`
	Sources      []MarketSource `toml:"sources"`
}

type MarketSource struct {
	Name           string `toml:"name"`
	Enabled        bool   `toml:"enabled"`
	RESTBaseURL    string `toml:"rest_base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ResolveActiveSource 返回 active_source 指定的数据源；未指定时取第一个启用的。
func (m MarketConfig) ResolveActiveSource() MarketSource {
	if len(m.Sources) == 0 {
		return MarketSource{
			Name:           defaultMarketName,
			Enabled:        true,
			RESTBaseURL:    defaultMarketREST,
			TimeoutSeconds: defaultMarketTimeout,
		}
	}
	active := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	var fallback MarketSource
	for _, src := range m.Sources {
		if fallback.Name == "" {
			fallback = src
		}
		if !src.Enabled {
			continue
		}
		if active == "" || strings.ToLower(src.Name) == active {
			return src
		}
	}
	return fallback
}

// SymbolSpecs 把 symbols 段转换成撮合引擎使用的交易对参数，键统一为大写。
func (c *Config) SymbolSpecs() map[string]market.SymbolSpec {
	out := make(map[string]market.SymbolSpec, len(c.Symbols))
	for name, s := range c.Symbols {
		sym := market.NormalizeSymbol(name)
		out[sym] = market.SymbolSpec{
			Symbol:          sym,
			PrecisionAmount: s.PrecisionAmount,
			PrecisionPrice:  s.PrecisionPrice,
			FeeTaker:        s.FeeTaker,
			FeeMaker:        s.FeeMaker,
		}
	}
	return out
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
