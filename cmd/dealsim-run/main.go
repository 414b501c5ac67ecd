// dealsim-run 对本地 K 线文件执行一次回测并打印统计结果。
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"dealsim/internal/backtest"
	brcfg "dealsim/internal/config"
	"dealsim/internal/logger"
	"dealsim/internal/report"
	"dealsim/internal/strategy"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

type options struct {
	config    string
	data      string
	symbol    string
	timeframe string
	strategy  string
	params    map[string]string
	balance   float64
	slippage  float64
	chart     string
	asJSON    bool
}

func main() {
	var opts options
	pflag.StringVarP(&opts.config, "config", "c", "", "配置文件（可选，提供交易对精度与策略参数）")
	pflag.StringVarP(&opts.data, "data", "d", "", "K 线文件，支持 .csv / .json")
	pflag.StringVar(&opts.symbol, "symbol", "", "交易对")
	pflag.StringVar(&opts.timeframe, "timeframe", "", "K 线周期")
	pflag.StringVarP(&opts.strategy, "strategy", "s", "", "策略名称")
	pflag.StringToStringVarP(&opts.params, "param", "p", nil, "策略参数 key=value，可重复")
	pflag.Float64Var(&opts.balance, "balance", 0, "初始资金")
	pflag.Float64Var(&opts.slippage, "slippage", -1, "滑点（价格步长倍数）")
	pflag.StringVar(&opts.chart, "chart", "", "输出 HTML 图表路径")
	pflag.BoolVar(&opts.asJSON, "json", false, "以 JSON 输出统计")
	pflag.Parse()

	if err := run(context.Background(), opts); err != nil {
		log.Fatalf("回测失败: %v", err)
	}
}

func run(ctx context.Context, opts options) error {
	if strings.TrimSpace(opts.data) == "" {
		return fmt.Errorf("--data 不能为空")
	}
	cfg, err := loadConfig(opts.config)
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.App.LogLevel)

	registry := strategy.NewRegistry()
	if path := cfg.Strategy.ParamsPath; path != "" {
		if overrides, err := strategy.LoadParamsFile(path); err == nil {
			registry.SetOverrides(overrides)
		} else if opts.config != "" {
			logger.Warnf("策略参数文件不可用: %v", err)
		}
	}

	runCfg, err := buildRunConfig(cfg, opts)
	if err != nil {
		return err
	}
	tf, err := backtest.ParseTimeframe(runCfg.Timeframe)
	if err != nil {
		return err
	}
	bars, err := backtest.LoadCandlesFile(opts.data, tf)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	strat, err := registry.NewStrategy(backtest.StrategySpec{
		RunID:     runID,
		Name:      runCfg.Strategy,
		Symbol:    runCfg.Symbol,
		Timeframe: runCfg.Timeframe,
		Params:    runCfg.StrategyParams,
	})
	if err != nil {
		return err
	}
	res, err := backtest.NewRunner(runCfg, strat, logger.Named("dealsim-run", runID)).Run(ctx, runID, bars)
	if err != nil {
		return err
	}

	if err := printStats(runCfg, res, opts.asJSON); err != nil {
		return err
	}
	if opts.chart != "" {
		return writeChart(opts.chart, runID, runCfg, bars, res)
	}
	return nil
}

func loadConfig(path string) (*brcfg.Config, error) {
	if strings.TrimSpace(path) == "" {
		return brcfg.Defaults(), nil
	}
	return brcfg.Load(path)
}

func buildRunConfig(cfg *brcfg.Config, opts options) (backtest.RunConfig, error) {
	symbol := strings.ToUpper(strings.TrimSpace(opts.symbol))
	if symbol == "" {
		symbol = cfg.Engine.DefaultSymbol
	}
	spec, ok := cfg.SymbolSpecs()[symbol]
	if !ok {
		return backtest.RunConfig{}, fmt.Errorf("未配置交易对: %s", symbol)
	}
	out := backtest.RunConfig{
		Strategy:        firstNonEmpty(opts.strategy, cfg.Strategy.Name),
		StrategyParams:  parseParams(opts.params),
		Symbol:          symbol,
		Timeframe:       firstNonEmpty(opts.timeframe, cfg.Backtest.DefaultTimeframe),
		InitialBalance:  cfg.Engine.InitialBalance,
		SlippageSteps:   cfg.Engine.SlippageSteps,
		PrecisionAmount: spec.PrecisionAmount,
		PrecisionPrice:  spec.PrecisionPrice,
		FeeTaker:        spec.FeeTaker,
		FeeMaker:        spec.FeeMaker,
	}
	if opts.balance > 0 {
		out.InitialBalance = opts.balance
	}
	if opts.slippage >= 0 {
		out.SlippageSteps = opts.slippage
	}
	return out, nil
}

// parseParams 把 key=value 转成数字或布尔，无法识别时保留字符串。
func parseParams(raw map[string]string) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		v = strings.TrimSpace(v)
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
		} else if b, err := strconv.ParseBool(v); err == nil {
			out[k] = b
		} else {
			out[k] = v
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func printStats(cfg backtest.RunConfig, res backtest.RunResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Stats)
	}
	s := res.Stats
	fmt.Printf("%s %s %s\n", cfg.Symbol, cfg.Timeframe, cfg.Strategy)
	fmt.Printf("  bars=%d deals=%d closed=%d wins=%d losses=%d\n", s.Bars, s.Deals, s.ClosedDeals, s.Wins, s.Losses)
	fmt.Printf("  balance %.4f -> %.4f  profit=%.4f (%.2f%%)\n", cfg.InitialBalance, s.FinalBalance, s.Profit, s.ReturnPct)
	fmt.Printf("  win_rate=%.2f%% max_drawdown=%.2f%% fees=%.4f\n", s.WinRate, s.MaxDrawdownPct, s.Fees)
	fmt.Printf("  orders=%d trades=%d warnings=%d\n", s.Orders, s.Trades, s.Warnings)
	return nil
}

func writeChart(path, runID string, cfg backtest.RunConfig, bars []backtest.Candle, res backtest.RunResult) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return report.Render(f, report.Input{
		Run: backtest.Run{
			ID:             runID,
			Symbol:         cfg.Symbol,
			Strategy:       cfg.Strategy,
			Timeframe:      cfg.Timeframe,
			InitialBalance: cfg.InitialBalance,
			Config:         cfg,
			Stats:          res.Stats,
		},
		Candles:   bars,
		Snapshots: res.Snapshots,
		Trades:    res.Trades,
	})
}
