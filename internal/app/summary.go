package app

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"dealsim/internal/backtest"
	"dealsim/internal/market"
)

// StartupSummary 汇总启动时的关键配置，便于排查。
type StartupSummary struct {
	HTTPAddr        string
	DataDir         string
	ResultsDB       string
	Source          string
	AutoFetch       bool
	DefaultStrategy string
	Timeframe       string
	Strategies      []string
	Symbols         map[string]market.SymbolSpec
	Datasets        []backtest.Manifest
}

func (s *StartupSummary) Print(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[服务 (SERVICE)]")
	fmt.Fprintf(w, "  HTTP 地址: %s\n", s.HTTPAddr)
	fmt.Fprintf(w, "  K 线目录: %s\n", s.DataDir)
	fmt.Fprintf(w, "  结果库: %s\n", s.ResultsDB)
	fmt.Fprintf(w, "  数据源: %s (自动补数=%v)\n", s.Source, s.AutoFetch)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[策略 (STRATEGIES)]")
	fmt.Fprintf(w, "  默认: %s @ %s\n", s.DefaultStrategy, s.Timeframe)
	fmt.Fprintf(w, "  可用: %s\n", formatList(s.Strategies))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[交易对 (SYMBOLS)]")
	if len(s.Symbols) == 0 {
		fmt.Fprintln(w, "  (无配置)")
	}
	symbols := make([]string, 0, len(s.Symbols))
	for sym := range s.Symbols {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		spec := s.Symbols[sym]
		fmt.Fprintf(w, "  > %s amount_step=%g price_step=%g taker=%g maker=%g\n",
			sym, spec.PrecisionAmount, spec.PrecisionPrice, spec.FeeTaker, spec.FeeMaker)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[本地数据 (DATASETS)]")
	if len(s.Datasets) == 0 {
		fmt.Fprintln(w, "  (无)")
	}
	for _, d := range s.Datasets {
		fmt.Fprintf(w, "  > %s %s rows=%d\n", d.Symbol, d.Timeframe, d.Rows)
	}
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
