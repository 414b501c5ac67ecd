package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dealsim/internal/backtest"
	brcfg "dealsim/internal/config"
	"dealsim/internal/logger"
	"dealsim/internal/strategy"
	backtesthttp "dealsim/internal/transport/http/backtest"
)

type AppBuilder struct {
	cfg *brcfg.Config

	sourceFn func(brcfg.MarketSource) (backtest.CandleSource, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *brcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:      cfg,
		sourceFn: buildCandleSource,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithCandleSource 替换远端 K 线数据源，测试中用于注入假数据。
func WithCandleSource(fn func(brcfg.MarketSource) (backtest.CandleSource, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.sourceFn = fn
		}
	}
}

func buildCandleSource(src brcfg.MarketSource) (backtest.CandleSource, error) {
	switch strings.ToLower(strings.TrimSpace(src.Name)) {
	case "binance":
		return backtest.NewBinanceSource(src.RESTBaseURL, time.Duration(src.TimeoutSeconds)*time.Second), nil
	default:
		return nil, fmt.Errorf("不支持的行情源: %s", src.Name)
	}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	registry := strategy.NewRegistry()
	overrides, err := loadStrategyOverrides(cfg.Strategy.ParamsPath)
	if err != nil {
		return nil, fmt.Errorf("加载策略参数失败: %w", err)
	}
	registry.SetOverrides(overrides)
	logger.Infof("✓ 已注册 %d 个策略: %v", len(registry.Names()), registry.Names())

	bt, err := b.buildBacktest(cfg, registry)
	if err != nil {
		return nil, err
	}

	datasets, err := bt.store.Datasets(ctx)
	if err != nil {
		logger.Warnf("读取本地数据集失败: %v", err)
	}
	active := cfg.Market.ResolveActiveSource()

	return &App{
		cfg:      cfg,
		backtest: bt,
		server:   bt.server,
		Summary: &StartupSummary{
			HTTPAddr:        bt.server.Addr(),
			DataDir:         cfg.Backtest.DataDir,
			ResultsDB:       cfg.Backtest.ResultsDB,
			Source:          active.Name,
			AutoFetch:       cfg.Backtest.AutoFetch,
			DefaultStrategy: cfg.Strategy.Name,
			Timeframe:       cfg.Backtest.DefaultTimeframe,
			Strategies:      registry.Names(),
			Symbols:         cfg.SymbolSpecs(),
			Datasets:        datasets,
		},
	}, nil
}

func (b *AppBuilder) buildBacktest(cfg *brcfg.Config, registry *strategy.Registry) (_ *BacktestService, err error) {
	svc := &BacktestService{registry: registry}
	defer func() {
		if err != nil {
			svc.Close()
		}
	}()

	svc.store, err = backtest.NewStore(cfg.Backtest.DataDir)
	if err != nil {
		return nil, fmt.Errorf("初始化 K 线存储失败: %w", err)
	}
	svc.results, err = backtest.NewResultStore(cfg.Backtest.ResultsDB)
	if err != nil {
		return nil, fmt.Errorf("初始化回测结果库失败: %w", err)
	}

	active := cfg.Market.ResolveActiveSource()
	source, err := b.sourceFn(active)
	if err != nil {
		return nil, err
	}
	svc.svc, err = backtest.NewService(backtest.ServiceConfig{
		Store:           svc.store,
		Sources:         map[string]backtest.CandleSource{source.Name(): source},
		DefaultExchange: source.Name(),
		RateLimitPerMin: cfg.Backtest.RateLimitPerMin,
		MaxBatch:        cfg.Backtest.MaxBatch,
		MaxConcurrent:   cfg.Backtest.FetchConcurrent,
		MaxRetries:      cfg.Backtest.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化拉取服务失败: %w", err)
	}

	var fetcher *backtest.Service
	if cfg.Backtest.AutoFetch {
		fetcher = svc.svc
	}
	svc.sim, err = backtest.NewSimulator(backtest.SimulatorConfig{
		CandleStore:   svc.store,
		ResultStore:   svc.results,
		Fetcher:       fetcher,
		Strategies:    registry,
		Symbols:       cfg.SymbolSpecs(),
		Defaults:      runDefaults(cfg),
		MaxConcurrent: cfg.Backtest.MaxConcurrent,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化回测调度失败: %w", err)
	}

	svc.server, err = backtesthttp.NewServer(backtesthttp.Config{
		Addr:       cfg.App.HTTPAddr,
		Store:      svc.store,
		Fetcher:    svc.svc,
		Simulator:  svc.sim,
		Strategies: registry,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}
	return svc, nil
}
