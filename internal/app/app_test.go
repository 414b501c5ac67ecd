package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"dealsim/internal/backtest"
	brcfg "dealsim/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct{}

func (stubSource) Name() string { return "stub" }

func (stubSource) Fetch(context.Context, backtest.FetchRequest) ([]backtest.Candle, error) {
	return nil, errors.New("offline")
}

func loadTestConfig(t *testing.T, extra string) *brcfg.Config {
	t.Helper()
	dir := t.TempDir()
	body := "app:\n  http_addr: 127.0.0.1:0\nbacktest:\n  data_dir: " + filepath.Join(dir, "candles") +
		"\n  results_db: " + filepath.Join(dir, "results.db") + "\n" +
		"strategy:\n  params_path: " + filepath.Join(dir, "strategies.yaml") + "\n" + extra
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := brcfg.Load(path)
	require.NoError(t, err)
	return cfg
}

func offline(brcfg.MarketSource) (backtest.CandleSource, error) { return stubSource{}, nil }

func TestBuildApp(t *testing.T) {
	cfg := loadTestConfig(t, "")
	app, err := NewAppBuilder(cfg, WithCandleSource(offline)).Build(context.Background())
	require.NoError(t, err)
	defer app.Close()

	require.NotNil(t, app.Summary)
	assert.Equal(t, []string{"atr_trailing", "buy_hold", "grid_revert", "sma_cross"}, app.Summary.Strategies)
	assert.Contains(t, app.Summary.Symbols, "BTCUSDT")
	assert.Empty(t, app.Summary.Datasets)

	var buf bytes.Buffer
	app.Summary.Print(&buf)
	assert.Contains(t, buf.String(), "BTCUSDT")
	assert.Contains(t, buf.String(), "sma_cross")

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildAppErrors(t *testing.T) {
	t.Run("unknown source", func(t *testing.T) {
		cfg := loadTestConfig(t, "")
		cfg.Market.Sources = []brcfg.MarketSource{{Name: "kraken", Enabled: true, RESTBaseURL: "http://x"}}
		_, err := NewAppBuilder(cfg).Build(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "kraken")
	})
	t.Run("bad params file", func(t *testing.T) {
		cfg := loadTestConfig(t, "")
		require.NoError(t, os.WriteFile(cfg.Strategy.ParamsPath, []byte("bogus: 1\n"), 0o644))
		_, err := NewAppBuilder(cfg, WithCandleSource(offline)).Build(context.Background())
		require.Error(t, err)
	})
	t.Run("nil config", func(t *testing.T) {
		_, err := NewApp(nil)
		require.Error(t, err)
	})
}

func TestApplyConfigReloadsOverrides(t *testing.T) {
	cfg := loadTestConfig(t, "")
	app, err := NewAppBuilder(cfg, WithCandleSource(offline)).Build(context.Background())
	require.NoError(t, err)
	defer app.Close()

	require.NoError(t, os.WriteFile(cfg.Strategy.ParamsPath, []byte("strategies:\n  sma_cross:\n    fast: 5\n"), 0o644))
	app.ApplyConfig(cfg)

	_, params, err := app.backtest.registry.Resolve("sma_cross", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, params.Int("fast", 0))
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := loadTestConfig(t, "")
	app, err := NewAppBuilder(cfg, WithCandleSource(offline)).Build(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, app.Run(ctx))
}
