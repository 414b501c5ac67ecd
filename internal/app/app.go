package app

import (
	"context"
	"fmt"
	"net/http"
	"os"

	brcfg "dealsim/internal/config"
	"dealsim/internal/logger"
	backtesthttp "dealsim/internal/transport/http/backtest"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动回测服务。
type App struct {
	cfg      *brcfg.Config
	backtest *BacktestService
	server   *backtesthttp.Server
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *brcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动 HTTP 服务，ctx 取消后等待在途任务结束并关闭存储。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.server == nil {
		return fmt.Errorf("backtest server not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print(os.Stdout)
	}

	group, ctx := errgroup.WithContext(ctx)
	a.backtest.Start(ctx)
	group.Go(func() error {
		logger.Infof("回测 HTTP 服务监听 %s", a.server.Addr())
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("backtest http server error: %w", err)
		}
		return nil
	})
	err := group.Wait()
	a.backtest.Close()
	return err
}

// ApplyConfig 接收热更新后的配置。
func (a *App) ApplyConfig(cfg *brcfg.Config) {
	if a == nil || cfg == nil {
		return
	}
	a.backtest.ApplyConfig(cfg)
	logger.Infof("配置已热更新: symbols=%d strategy=%s", len(cfg.Symbols), cfg.Strategy.Name)
}

// Handler 暴露 HTTP 路由，便于测试。
func (a *App) Handler() http.Handler {
	if a == nil || a.server == nil {
		return nil
	}
	return a.server.Handler()
}

// Close 释放资源；Run 已经返回时无需调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	a.backtest.Close()
}
