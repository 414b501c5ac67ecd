package backtesthttp

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"dealsim/internal/backtest"
	"dealsim/internal/report"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleRunStart(c *gin.Context) {
	var req backtest.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	run, err := s.sim.StartRun(req)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *Server) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.results.ListRuns(c.Request.Context(), limit)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// loadRun 读取 run，不存在时写 404 并返回 false。
func (s *Server) loadRun(c *gin.Context) (backtest.Run, bool) {
	run, err := s.results.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, backtest.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return backtest.Run{}, false
	}
	if err != nil {
		internalError(c, err)
		return backtest.Run{}, false
	}
	return run, true
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunDeals(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	deals, err := s.results.ListDeals(c.Request.Context(), run.ID)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deals": deals})
}

func dealFilter(c *gin.Context) int64 {
	id, _ := strconv.ParseInt(c.Query("deal_id"), 10, 64)
	return id
}

func (s *Server) handleRunOrders(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	orders, err := s.results.ListOrders(c.Request.Context(), run.ID, dealFilter(c))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) handleRunTrades(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	trades, err := s.results.ListTrades(c.Request.Context(), run.ID, dealFilter(c))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleRunSnapshots(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	snaps, err := s.results.ListSnapshots(c.Request.Context(), run.ID, limit)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

func (s *Server) handleRunLogs(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	logs, err := s.results.ListRunLogs(c.Request.Context(), run.ID, c.Query("level"), limit)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *Server) handleRunChart(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	if run.Status != backtest.RunStatusDone {
		c.JSON(http.StatusConflict, gin.H{"error": "run 尚未完成", "status": run.Status})
		return
	}
	ctx := c.Request.Context()
	snaps, err := s.results.ListSnapshots(ctx, run.ID, 0)
	if err != nil {
		internalError(c, err)
		return
	}
	trades, err := s.results.ListTrades(ctx, run.ID, 0)
	if err != nil {
		internalError(c, err)
		return
	}
	candles, err := s.store.RangeCandles(ctx, run.Symbol, run.Timeframe, run.StartTS, run.EndTS)
	if err != nil {
		internalError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := report.Render(&buf, report.Input{Run: run, Candles: candles, Snapshots: snaps, Trades: trades}); err != nil {
		internalError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}
