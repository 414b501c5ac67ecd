package backtesthttp

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"dealsim/internal/backtest"
	"dealsim/internal/market"

	"github.com/gin-gonic/gin"
)

const maxImportBytes = 64 << 20

func (s *Server) requireFetcher(c *gin.Context) bool {
	if s.fetcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "拉取服务未启用"})
		return false
	}
	return true
}

func (s *Server) handleFetch(c *gin.Context) {
	if !s.requireFetcher(c) {
		return
	}
	var req struct {
		Exchange  string `json:"exchange"`
		Symbol    string `json:"symbol" binding:"required"`
		Timeframe string `json:"timeframe" binding:"required"`
		StartTS   int64  `json:"start_ts" binding:"required"`
		EndTS     int64  `json:"end_ts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	job, err := s.fetcher.SubmitFetch(backtest.FetchParams{
		Exchange:  req.Exchange,
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Start:     req.StartTS,
		End:       req.EndTS,
	})
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *Server) handleFetchStatus(c *gin.Context) {
	if !s.requireFetcher(c) {
		return
	}
	job, ok := s.fetcher.JobSnapshot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) handleJobs(c *gin.Context) {
	if !s.requireFetcher(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": s.fetcher.JobsSnapshot()})
}

// symbolAndTimeframe 读取并规范化 symbol/timeframe 查询参数。
func symbolAndTimeframe(c *gin.Context, get func(string) string) (string, backtest.Timeframe, bool) {
	symbol := market.NormalizeSymbol(get("symbol"))
	tfName := get("timeframe")
	if symbol == "" || tfName == "" {
		badRequest(c, errors.New("symbol/timeframe 必填"))
		return "", backtest.Timeframe{}, false
	}
	tf, err := backtest.ParseTimeframe(tfName)
	if err != nil {
		badRequest(c, err)
		return "", backtest.Timeframe{}, false
	}
	return symbol, tf, true
}

func (s *Server) handleManifest(c *gin.Context) {
	symbol, tf, ok := symbolAndTimeframe(c, c.Query)
	if !ok {
		return
	}
	info, err := s.store.Manifest(c.Request.Context(), symbol, tf.Key)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": info})
}

func (s *Server) handleDatasets(c *gin.Context) {
	list, err := s.store.Datasets(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"datasets": list})
}

func (s *Server) handleCandles(c *gin.Context) {
	symbol, tf, ok := symbolAndTimeframe(c, c.Query)
	if !ok {
		return
	}
	start, _ := strconv.ParseInt(c.Query("start_ts"), 10, 64)
	end, _ := strconv.ParseInt(c.Query("end_ts"), 10, 64)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if err != nil {
		badRequest(c, errors.New("limit 非法"))
		return
	}
	data, err := s.store.QueryCandles(c.Request.Context(), symbol, tf.Key, start, end, limit)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": data})
}

// handleImport 接收 multipart 上传的 CSV 或 Binance klines JSON，写入本地 K 线库。
func (s *Server) handleImport(c *gin.Context) {
	symbol, tf, ok := symbolAndTimeframe(c, c.PostForm)
	if !ok {
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, fmt.Errorf("file 必填: %w", err))
		return
	}
	if header.Size > maxImportBytes {
		badRequest(c, fmt.Errorf("文件过大: %d bytes", header.Size))
		return
	}
	f, err := header.Open()
	if err != nil {
		internalError(c, err)
		return
	}
	defer f.Close()

	var candles []backtest.Candle
	switch format := strings.ToLower(c.DefaultPostForm("format", filepath.Ext(header.Filename))); strings.TrimPrefix(format, ".") {
	case "json":
		raw, err := io.ReadAll(f)
		if err != nil {
			internalError(c, err)
			return
		}
		candles, err = backtest.ParseKlinesJSON(raw, tf)
		if err != nil {
			badRequest(c, err)
			return
		}
	case "csv", "":
		candles, err = backtest.ReadCSV(f, tf)
		if err != nil {
			badRequest(c, err)
			return
		}
	default:
		badRequest(c, fmt.Errorf("不支持的格式: %s", format))
		return
	}
	n, err := s.store.InsertCandles(c.Request.Context(), symbol, tf.Key, candles)
	if err != nil {
		internalError(c, err)
		return
	}
	info, _ := s.store.Manifest(c.Request.Context(), symbol, tf.Key)
	c.JSON(http.StatusOK, gin.H{"inserted": n, "manifest": info})
}
