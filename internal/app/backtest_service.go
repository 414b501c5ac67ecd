package app

import (
	"context"
	"errors"
	"os"

	"dealsim/internal/backtest"
	brcfg "dealsim/internal/config"
	"dealsim/internal/logger"
	"dealsim/internal/strategy"
	backtesthttp "dealsim/internal/transport/http/backtest"
)

// BacktestService 管理回测数据、服务与 HTTP 暴露。
type BacktestService struct {
	store    *backtest.Store
	results  *backtest.ResultStore
	svc      *backtest.Service
	sim      *backtest.Simulator
	registry *strategy.Registry
	server   *backtesthttp.Server
}

// Start 绑定上下文，后台任务随 ctx 取消而停止。
func (b *BacktestService) Start(ctx context.Context) {
	if b == nil {
		return
	}
	if b.svc != nil {
		b.svc.SetContext(ctx)
	}
	if b.sim != nil {
		b.sim.SetContext(ctx)
	}
}

// ApplyConfig 应用热更新后的交易对、引擎默认值与策略参数。
func (b *BacktestService) ApplyConfig(cfg *brcfg.Config) {
	if b == nil || cfg == nil {
		return
	}
	b.sim.SetSymbols(cfg.SymbolSpecs())
	b.sim.SetDefaults(runDefaults(cfg))
	overrides, err := loadStrategyOverrides(cfg.Strategy.ParamsPath)
	if err != nil {
		logger.Warnf("策略参数重载失败，沿用旧值: %v", err)
		return
	}
	b.registry.SetOverrides(overrides)
}

// Close 等待后台任务结束并释放存储。
func (b *BacktestService) Close() {
	if b == nil {
		return
	}
	if b.sim != nil {
		b.sim.Wait()
	}
	if b.svc != nil {
		b.svc.Wait()
	}
	if b.results != nil {
		_ = b.results.Close()
	}
	if b.store != nil {
		_ = b.store.Close()
	}
}

func runDefaults(cfg *brcfg.Config) backtest.RunDefaults {
	return backtest.RunDefaults{
		Strategy:       cfg.Strategy.Name,
		Timeframe:      cfg.Backtest.DefaultTimeframe,
		InitialBalance: cfg.Engine.InitialBalance,
		SlippageSteps:  cfg.Engine.SlippageSteps,
	}
}

// loadStrategyOverrides 读取策略参数文件；文件不存在时视为无覆盖。
func loadStrategyOverrides(path string) (map[string]strategy.Params, error) {
	if path == "" {
		return nil, nil
	}
	overrides, err := strategy.LoadParamsFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Infof("策略参数文件 %s 不存在，使用内置默认值", path)
		return nil, nil
	}
	return overrides, err
}
