package backtesthttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"dealsim/internal/backtest"
	"dealsim/internal/strategy"

	"github.com/gin-gonic/gin"
)

// StrategyCatalog 提供可用策略及其默认参数。
type StrategyCatalog interface {
	Definitions() []strategy.Definition
}

// Server 提供回测相关的 HTTP API。
type Server struct {
	addr       string
	store      *backtest.Store
	fetcher    *backtest.Service
	sim        *backtest.Simulator
	results    *backtest.ResultStore
	strategies StrategyCatalog
	router     *gin.Engine
}

// Config 描述回测 HTTP Server 的依赖；Fetcher 可为空，此时拉取接口返回 503。
type Config struct {
	Addr       string
	Store      *backtest.Store
	Fetcher    *backtest.Service
	Simulator  *backtest.Simulator
	Strategies StrategyCatalog
}

// NewServer 构建回测 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("candle store 不能为空")
	}
	if cfg.Simulator == nil {
		return nil, errors.New("simulator 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:       cfg.Addr,
		store:      cfg.Store,
		fetcher:    cfg.Fetcher,
		sim:        cfg.Simulator,
		results:    cfg.Simulator.Results(),
		strategies: cfg.Strategies,
		router:     router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) Addr() string { return s.addr }

// Handler 暴露路由，便于测试或挂到外部 http.Server。
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	api := s.router.Group("/api/backtest")
	api.GET("/strategies", s.handleStrategies)

	api.POST("/fetch", s.handleFetch)
	api.GET("/fetch/:id", s.handleFetchStatus)
	api.GET("/jobs", s.handleJobs)
	api.GET("/data", s.handleManifest)
	api.GET("/datasets", s.handleDatasets)
	api.GET("/candles", s.handleCandles)
	api.POST("/import", s.handleImport)

	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/deals", s.handleRunDeals)
	api.GET("/runs/:id/orders", s.handleRunOrders)
	api.GET("/runs/:id/trades", s.handleRunTrades)
	api.GET("/runs/:id/snapshots", s.handleRunSnapshots)
	api.GET("/runs/:id/logs", s.handleRunLogs)
	api.GET("/runs/:id/chart", s.handleRunChart)
}

func (s *Server) handleStrategies(c *gin.Context) {
	if s.strategies == nil {
		c.JSON(http.StatusOK, gin.H{"strategies": s.sim.Strategies()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": s.strategies.Definitions()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func internalError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
