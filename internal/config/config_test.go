package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "app:\n  env: test\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, defaultAppHTTPAddr, cfg.App.HTTPAddr)
	assert.Equal(t, defaultTimeframe, cfg.Backtest.DefaultTimeframe)
	assert.True(t, cfg.Backtest.AutoFetch)
	assert.Equal(t, float64(defaultInitialBalance), cfg.Engine.InitialBalance)
	assert.Equal(t, defaultStrategyName, cfg.Strategy.Name)
	assert.Equal(t, "binance", cfg.Market.ResolveActiveSource().Name)

	specs := cfg.SymbolSpecs()
	require.Contains(t, specs, "BTCUSDT")
	assert.Equal(t, defaultPrecisionAmount, specs["BTCUSDT"].PrecisionAmount)
}

func TestLoadExplicitValues(t *testing.T) {
	body := `
backtest:
  auto_fetch: false
  max_concurrent: "4"
engine:
  initial_balance: 500
  slippage_steps: 2
  default_symbol: ethusdt
symbols:
  ETHUSDT:
    precision_amount: 0.01
    precision_price: 0.01
    fee_taker: 0.0005
    fee_maker: 0.0001
`
	cfg, err := Load(writeFile(t, t.TempDir(), "config.yaml", body))
	require.NoError(t, err)
	assert.False(t, cfg.Backtest.AutoFetch)
	assert.Equal(t, 4, cfg.Backtest.MaxConcurrent)
	assert.Equal(t, 500.0, cfg.Engine.InitialBalance)
	assert.Equal(t, 2.0, cfg.Engine.SlippageSteps)
	assert.Equal(t, "ETHUSDT", cfg.Engine.DefaultSymbol)

	spec := cfg.SymbolSpecs()["ETHUSDT"]
	assert.Equal(t, "ETHUSDT", spec.Symbol)
	assert.Equal(t, 0.0005, spec.FeeTaker)
	assert.Equal(t, 0.0001, spec.FeeMaker)
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "app:\n  log_level: debug\n  http_addr: \":8000\"\n")
	path := writeFile(t, dir, "config.yaml", "include:\n  - base.yaml\napp:\n  http_addr: \":9000\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, ":9000", cfg.App.HTTPAddr)

	t.Run("cycle", func(t *testing.T) {
		writeFile(t, dir, "a.yaml", "include:\n  - b.yaml\n")
		writeFile(t, dir, "b.yaml", "include:\n  - a.yaml\n")
		_, err := Load(filepath.Join(dir, "a.yaml"))
		assert.ErrorContains(t, err, "include cycle")
	})
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "bad timeframe", body: "backtest:\n  default_timeframe: 7x\n"},
		{name: "negative slippage", body: "engine:\n  slippage_steps: -1\n"},
		{name: "unknown default symbol", body: "engine:\n  default_symbol: SOLUSDT\n"},
		{name: "symbol without precision", body: "symbols:\n  BTCUSDT:\n    fee_taker: 0.001\n"},
		{name: "oversized batch", body: "backtest:\n  max_batch: 5000\n"},
		{name: "unknown source", body: "market:\n  active_source: okx\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, t.TempDir(), "config.yaml", tc.body))
			assert.Error(t, err)
		})
	}
	_, err := Load("")
	assert.Error(t, err)
}

func TestWatcherReload(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "app:\n  log_level: info\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	w, err := Watch(path, cfg)
	require.NoError(t, err)

	got := make(chan *Config, 4)
	w.Subscribe(func(c *Config) {
		select {
		case got <- c:
		default:
		}
	})
	require.NoError(t, os.WriteFile(path, []byte("app:\n  log_level: warn\n"), 0o644))

	select {
	case c := <-got:
		assert.Equal(t, "warn", c.App.LogLevel)
		assert.Equal(t, "warn", w.Current().App.LogLevel)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}

func TestDefaultsWithoutFile(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, validate(cfg))
	assert.Equal(t, defaultStrategyName, cfg.Strategy.Name)
	assert.Contains(t, cfg.SymbolSpecs(), "BTCUSDT")
}
