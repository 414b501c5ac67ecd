package backtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"dealsim/internal/logger"
	"dealsim/internal/market"

	"github.com/google/uuid"
)

// RunDefaults 是 RunRequest 未填写字段时使用的默认值。
type RunDefaults struct {
	Strategy       string
	Timeframe      string
	InitialBalance float64
	SlippageSteps  float64
}

type SimulatorConfig struct {
	CandleStore   *Store
	ResultStore   *ResultStore
	Fetcher       *Service
	Strategies    StrategyFactory
	Symbols       map[string]market.SymbolSpec
	Defaults      RunDefaults
	MaxConcurrent int
}

// Simulator 异步执行回测任务，每个任务独立持有一个 Broker。
type Simulator struct {
	store    *Store
	results  *ResultStore
	fetcher  *Service
	factory  StrategyFactory
	symbols  map[string]market.SymbolSpec
	defaults RunDefaults

	sem     chan struct{}
	wg      sync.WaitGroup
	baseCtx context.Context

	mu sync.RWMutex
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.CandleStore == nil {
		return nil, fmt.Errorf("candle store 不能为空")
	}
	if cfg.ResultStore == nil {
		return nil, fmt.Errorf("result store 不能为空")
	}
	if cfg.Strategies == nil {
		return nil, fmt.Errorf("strategy factory 不能为空")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("symbols 不能为空")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	symbols := make(map[string]market.SymbolSpec, len(cfg.Symbols))
	for k, v := range cfg.Symbols {
		symbols[market.NormalizeSymbol(k)] = v
	}
	return &Simulator{
		store:    cfg.CandleStore,
		results:  cfg.ResultStore,
		fetcher:  cfg.Fetcher,
		factory:  cfg.Strategies,
		symbols:  symbols,
		defaults: normalizeDefaults(cfg.Defaults),
		sem:      make(chan struct{}, maxConcurrent),
		baseCtx:  context.Background(),
	}, nil
}

func (s *Simulator) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Simulator) ctx() context.Context {
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

// SetSymbols 替换交易对参数，只影响之后提交的任务。
func (s *Simulator) SetSymbols(symbols map[string]market.SymbolSpec) {
	next := make(map[string]market.SymbolSpec, len(symbols))
	for k, v := range symbols {
		next[market.NormalizeSymbol(k)] = v
	}
	s.mu.Lock()
	s.symbols = next
	s.mu.Unlock()
}

func normalizeDefaults(d RunDefaults) RunDefaults {
	if d.Timeframe == "" {
		d.Timeframe = "1h"
	}
	if d.InitialBalance <= 0 {
		d.InitialBalance = 10000
	}
	return d
}

// SetDefaults 替换请求缺省值，只影响之后提交的任务。
func (s *Simulator) SetDefaults(d RunDefaults) {
	s.mu.Lock()
	s.defaults = normalizeDefaults(d)
	s.mu.Unlock()
}

func (s *Simulator) symbolSpec(symbol string) (market.SymbolSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.symbols[symbol]
	return spec, ok
}

func (s *Simulator) Results() *ResultStore { return s.results }

func (s *Simulator) Strategies() []string { return s.factory.Names() }

// Wait 等待所有后台任务结束。
func (s *Simulator) Wait() { s.wg.Wait() }

// BuildConfig 校验请求并补全默认值。
func (s *Simulator) BuildConfig(req RunRequest) (RunConfig, error) {
	symbol := market.NormalizeSymbol(req.Symbol)
	if symbol == "" {
		return RunConfig{}, fmt.Errorf("symbol 不能为空")
	}
	spec, ok := s.symbolSpec(symbol)
	if !ok {
		return RunConfig{}, fmt.Errorf("未配置交易对: %s", symbol)
	}
	s.mu.RLock()
	defaults := s.defaults
	s.mu.RUnlock()
	stratName := strings.TrimSpace(req.Strategy)
	if stratName == "" {
		stratName = defaults.Strategy
	}
	if !containsName(s.factory.Names(), stratName) {
		return RunConfig{}, fmt.Errorf("%w: %s", ErrUnknownStrat, stratName)
	}
	tfName := req.Timeframe
	if tfName == "" {
		tfName = defaults.Timeframe
	}
	tf, err := ParseTimeframe(tfName)
	if err != nil {
		return RunConfig{}, fmt.Errorf("timeframe 无效: %w", err)
	}
	start, end := tf.AlignRange(req.StartTS, req.EndTS)
	if start <= 0 || end <= start {
		return RunConfig{}, fmt.Errorf("start/end 非法")
	}
	balance := req.InitialBalance
	if balance <= 0 {
		balance = defaults.InitialBalance
	}
	slippage := defaults.SlippageSteps
	if req.SlippageSteps != nil {
		slippage = *req.SlippageSteps
	}
	if slippage < 0 {
		return RunConfig{}, fmt.Errorf("slippage_steps 不能为负")
	}
	return RunConfig{
		Strategy:        stratName,
		StrategyParams:  req.Params,
		Symbol:          symbol,
		Timeframe:       tf.Key,
		StartTS:         start,
		EndTS:           end,
		InitialBalance:  balance,
		SlippageSteps:   slippage,
		PrecisionAmount: spec.PrecisionAmount,
		PrecisionPrice:  spec.PrecisionPrice,
		FeeTaker:        spec.FeeTaker,
		FeeMaker:        spec.FeeMaker,
		Notes:           req.Notes,
	}, nil
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// StartRun 创建回测任务并立即返回，模拟过程在后台进行。
func (s *Simulator) StartRun(req RunRequest) (Run, error) {
	cfg, err := s.BuildConfig(req)
	if err != nil {
		return Run{}, err
	}
	run := Run{
		ID:             uuid.NewString(),
		Symbol:         cfg.Symbol,
		Strategy:       cfg.Strategy,
		Status:         RunStatusPending,
		Timeframe:      cfg.Timeframe,
		StartTS:        cfg.StartTS,
		EndTS:          cfg.EndTS,
		InitialBalance: cfg.InitialBalance,
		FinalBalance:   cfg.InitialBalance,
		Config:         cfg,
		Stats:          RunStats{FinalBalance: cfg.InitialBalance},
	}
	if err := s.results.InsertRun(s.ctx(), run); err != nil {
		return Run{}, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLoop(run.ID, cfg)
	}()
	return run, nil
}

func (s *Simulator) runLoop(runID string, cfg RunConfig) {
	ctx := s.ctx()
	select {
	case s.sem <- struct{}{}:
	default:
		logger.Warnf("[backtest] run %s 等待可用 worker", runID)
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			_ = s.results.UpdateRunStatus(context.Background(), runID, RunStatusFailed, "服务已关闭")
			return
		}
	}
	defer func() { <-s.sem }()

	if err := s.execute(ctx, runID, cfg); err != nil {
		logger.Warnf("[backtest] run %s 失败: %v", runID, err)
		_ = s.results.UpdateRunStatus(context.Background(), runID, RunStatusFailed, err.Error())
	}
}

func (s *Simulator) execute(ctx context.Context, runID string, cfg RunConfig) error {
	tf, err := ParseTimeframe(cfg.Timeframe)
	if err != nil {
		return err
	}
	if err := s.ensureData(ctx, runID, cfg, tf); err != nil {
		return err
	}
	bars, err := s.store.RangeCandles(ctx, cfg.Symbol, tf.Key, cfg.StartTS, cfg.EndTS)
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		return ErrNoCandles
	}
	strategy, err := s.factory.NewStrategy(StrategySpec{
		RunID:     runID,
		Name:      cfg.Strategy,
		Symbol:    cfg.Symbol,
		Timeframe: cfg.Timeframe,
		Params:    cfg.StrategyParams,
	})
	if err != nil {
		return err
	}
	_ = s.results.UpdateRunStatus(ctx, runID, RunStatusRunning, "初始化策略…")

	runner := NewRunner(cfg, strategy, logger.Named("broker", runID))
	runner.OnProgress(func(done, total int) {
		percent := float64(done) / float64(total) * 100
		msg := fmt.Sprintf("processing %d/%d (%.1f%%)", done, total, percent)
		_ = s.results.UpdateRunStatus(ctx, runID, RunStatusRunning, msg)
	})
	res, err := runner.Run(ctx, runID, bars)
	if err != nil {
		return err
	}
	if err := s.results.SaveResult(context.Background(), runID, res, "完成"); err != nil {
		return err
	}
	logger.Infof("[backtest] run %s 完成: profit=%.4f deals=%d trades=%d", runID, res.Stats.Profit, res.Stats.Deals, res.Stats.Trades)
	return nil
}

// ensureData 检查本地 K 线是否完整，缺失时提交拉取任务并等待。
func (s *Simulator) ensureData(ctx context.Context, runID string, cfg RunConfig, tf Timeframe) error {
	report, err := s.store.CheckIntegrity(ctx, cfg.Symbol, tf.Key, tf, cfg.StartTS, cfg.EndTS)
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("数据 %s %s: %d/%d", cfg.Symbol, tf.Key, report.Present, report.Expected)
	_ = s.results.UpdateRunStatus(ctx, runID, RunStatusPending, msg)
	if report.Complete() {
		return nil
	}
	if s.fetcher == nil {
		if report.Present > 0 {
			logger.Warnf("[backtest] run %s: %s %s 存在 %d 段缺口，按已有数据回放", runID, cfg.Symbol, tf.Key, len(report.Gaps))
			return nil
		}
		return fmt.Errorf("%s %s 数据缺失（%d 段），未配置拉取服务", cfg.Symbol, tf.Key, len(report.Gaps))
	}
	job, err := s.fetcher.SubmitFetch(FetchParams{
		Symbol:    cfg.Symbol,
		Timeframe: tf.Key,
		Start:     cfg.StartTS,
		End:       cfg.EndTS,
	})
	if err != nil {
		return err
	}
	return s.waitFetchJob(ctx, runID, job)
}

func (s *Simulator) waitFetchJob(ctx context.Context, runID string, job FetchJob) error {
	updateProgress := func(j FetchJob) {
		message := fmt.Sprintf("下载 %s %s: %s", j.Params.Symbol, j.Params.Timeframe, j.Status)
		if j.Total > 0 {
			percent := float64(j.Completed) / float64(j.Total) * 100
			message = fmt.Sprintf("下载 %s %s: %.1f%%", j.Params.Symbol, j.Params.Timeframe, percent)
		}
		if j.Message != "" {
			message = message + " " + j.Message
		}
		_ = s.results.UpdateRunStatus(ctx, runID, RunStatusPending, message)
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		updateProgress(job)
		switch job.Status {
		case JobStatusDone:
			return nil
		case JobStatusPartial:
			logger.Warnf("[backtest] run %s: 下载未完成，缺口=%d", runID, len(job.Missing))
			return nil
		case JobStatusFailed:
			if job.Message != "" {
				return fmt.Errorf("下载 %s %s 失败: %s", job.Params.Symbol, job.Params.Timeframe, job.Message)
			}
			return errors.New("下载失败")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		snap, ok := s.fetcher.JobSnapshot(job.ID)
		if ok {
			job = snap
		}
	}
}
