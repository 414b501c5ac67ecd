package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"dealsim/internal/broker"
	"dealsim/internal/logger"
	"dealsim/internal/market"
)

// ProgressFunc 报告已处理的 K 线数量。
type ProgressFunc func(done, total int)

// Runner 把一段 K 线逐根喂给 Broker 与策略，并汇总结果。
type Runner struct {
	cfg      RunConfig
	strategy Strategy
	sink     logger.Sink
	progress ProgressFunc
}

func NewRunner(cfg RunConfig, strategy Strategy, sink logger.Sink) *Runner {
	if sink == nil {
		sink = logger.Default()
	}
	return &Runner{cfg: cfg, strategy: strategy, sink: sink}
}

// OnProgress 设置进度回调，大约每 5% 调用一次。
func (r *Runner) OnProgress(fn ProgressFunc) { r.progress = fn }

func (r *Runner) spec() market.SymbolSpec {
	return market.SymbolSpec{
		Symbol:          r.cfg.Symbol,
		PrecisionAmount: r.cfg.PrecisionAmount,
		PrecisionPrice:  r.cfg.PrecisionPrice,
		FeeTaker:        r.cfg.FeeTaker,
		FeeMaker:        r.cfg.FeeMaker,
	}
}

type equityTracker struct {
	peak, valley, maxDrawdown float64
}

func (e *equityTracker) observe(equity float64) float64 {
	if equity > e.peak {
		e.peak = equity
	}
	if e.valley == 0 || equity < e.valley {
		e.valley = equity
	}
	dd := 0.0
	if e.peak > 0 {
		dd = (e.peak - equity) / e.peak
	}
	e.maxDrawdown = math.Max(e.maxDrawdown, dd)
	return dd
}

// Run 回放 bars，结束时强平所有未平 deal。
func (r *Runner) Run(ctx context.Context, runID string, bars []Candle) (RunResult, error) {
	if r.strategy == nil {
		return RunResult{}, fmt.Errorf("strategy 不能为空")
	}
	if len(bars) == 0 {
		return RunResult{}, ErrNoCandles
	}
	if err := validateSeries(bars); err != nil {
		return RunResult{}, err
	}
	collector := logger.NewCollector(r.sink, logger.LevelInfo)
	b, err := broker.New(broker.Config{
		Spec:           r.spec(),
		InitialBalance: r.cfg.InitialBalance,
		SlippageSteps:  r.cfg.SlippageSteps,
		Sink:           collector,
	})
	if err != nil {
		return RunResult{}, err
	}

	tracker := &equityTracker{peak: r.cfg.InitialBalance, valley: r.cfg.InitialBalance}
	snapshots := make([]Snapshot, 0, len(bars))
	step := max(1, len(bars)/20)

	for i, bar := range bars {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}
		if err := b.ProcessBar(bar); err != nil {
			return RunResult{}, fmt.Errorf("bar %d: %w", i, err)
		}
		bc := BarContext{
			RunID:   runID,
			Index:   i,
			Bar:     bar,
			History: bars[:i+1],
			Trader:  b,
			Log:     collector,
		}
		if err := r.strategy.OnBar(ctx, bc); err != nil {
			if ctx.Err() != nil {
				return RunResult{}, ctx.Err()
			}
			collector.Log(logger.LevelError, fmt.Sprintf("strategy bar %d: %v", i, err))
		}
		snapshots = append(snapshots, r.snapshot(runID, i, bar, b, tracker))
		if r.progress != nil && ((i+1)%step == 0 || i == len(bars)-1) {
			r.progress(i+1, len(bars))
		}
	}

	if _, err := b.ForceCloseAll(); err != nil {
		return RunResult{}, fmt.Errorf("force close: %w", err)
	}
	last := len(bars) - 1
	snapshots[last] = r.snapshot(runID, last, bars[last], b, tracker)

	return r.collect(runID, b, bars, snapshots, tracker, collector), nil
}

func (r *Runner) snapshot(runID string, idx int, bar Candle, b *broker.Broker, tracker *equityTracker) Snapshot {
	pos := b.Position()
	equity := b.Equity()
	return Snapshot{
		RunID:    runID,
		Bar:      idx,
		TS:       bar.CloseTime,
		Close:    bar.Close,
		Equity:   equity,
		Cash:     pos.Cash,
		Quantity: pos.Quantity,
		Drawdown: tracker.observe(equity),
	}
}

func (r *Runner) collect(runID string, b *broker.Broker, bars []Candle, snapshots []Snapshot, tracker *equityTracker, collector *logger.Collector) RunResult {
	res := RunResult{Snapshots: snapshots}
	stats := RunStats{
		Bars:           len(bars),
		Snapshots:      len(snapshots),
		MaxDrawdownPct: tracker.maxDrawdown,
		EquityPeak:     tracker.peak,
		EquityValley:   tracker.valley,
		FinishedAt:     time.Now(),
	}
	for _, d := range b.Deals() {
		res.Deals = append(res.Deals, newDealRecord(runID, d, bars))
		stats.Deals++
		if !d.IsClosed || d.Profit == nil {
			continue
		}
		stats.ClosedDeals++
		if *d.Profit > 0 {
			stats.Wins++
		} else {
			stats.Losses++
		}
	}
	for _, o := range b.Orders() {
		res.Orders = append(res.Orders, newOrderRecord(runID, o))
	}
	for _, t := range b.Trades() {
		res.Trades = append(res.Trades, newTradeRecord(runID, t))
		stats.Fees += t.Fee
	}
	stats.Orders = len(res.Orders)
	stats.Trades = len(res.Trades)
	if stats.ClosedDeals > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.ClosedDeals)
	}
	stats.FinalBalance = b.Equity()
	stats.Profit = stats.FinalBalance - r.cfg.InitialBalance
	if r.cfg.InitialBalance > 0 {
		stats.ReturnPct = stats.Profit / r.cfg.InitialBalance
	}
	for i, e := range collector.Drain() {
		if e.Level == logger.LevelWarn || e.Level == logger.LevelError {
			stats.Warnings++
		}
		res.Logs = append(res.Logs, RunLog{
			RunID:   runID,
			Seq:     i,
			Level:   string(e.Level),
			Message: e.Message,
			At:      e.At,
		})
	}
	res.Stats = stats
	return res
}
