// Package report renders a finished backtest run as an HTML page of go-echarts charts.
package report

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"dealsim/internal/backtest"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEquity        = "#3b82f6"
	colorDrawdown      = "#fb7185"

	chartWidthPx     = 1400
	priceHeightPx    = 520
	equityHeightPx   = 320
	drawdownHeightPx = 220
)

// Input 是渲染一次回测所需的全部数据。
type Input struct {
	Run       backtest.Run
	Candles   []backtest.Candle
	Snapshots []backtest.Snapshot
	Trades    []backtest.TradeRecord
}

// Render 把价格（含成交标记）、资金曲线与回撤写成一个 HTML 页面。
func Render(w io.Writer, in Input) error {
	if len(in.Candles) == 0 && len(in.Snapshots) == 0 {
		return fmt.Errorf("run %s 没有可绘制的数据", in.Run.ID)
	}
	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("%s %s %s", in.Run.Symbol, in.Run.Timeframe, in.Run.Strategy)
	page.SetLayout(components.PageFlexLayout)
	if len(in.Candles) > 0 {
		page.AddCharts(priceChart(in))
	}
	if len(in.Snapshots) > 0 {
		x := snapshotAxis(in.Snapshots)
		page.AddCharts(equityChart(in, x), drawdownChart(in, x))
	}
	return page.Render(w)
}

func initOpts(height int) opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", height),
		BackgroundColor: colorBackground,
	}
}

func priceChart(in Input) *charts.Kline {
	minPrice, maxPrice := priceBounds(in.Candles)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxPrice)*0.01)
	}
	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(priceHeightPx)),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s %s", strings.ToUpper(in.Run.Symbol), in.Run.Timeframe),
			Subtitle:      runSubtitle(in.Run),
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 4),
			Max:       round(maxPrice+padding, 4),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)
	x := make([]string, len(in.Candles))
	data := make([]opts.KlineData, len(in.Candles))
	for i, c := range in.Candles {
		x[i] = formatTS(c.OpenTime)
		data[i] = opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}}
	}
	kline.SetXAxis(x)
	kline.AddSeries("Price", data)

	buys, sells := tradeMarkers(in.Trades, len(in.Candles))
	markers := charts.NewScatter()
	markers.SetXAxis(x)
	markers.AddSeries("Buy", buys, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBull}))
	markers.AddSeries("Sell", sells, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBear}))
	kline.Overlap(markers)
	return kline
}

// tradeMarkers 按成交所在 K 线序号放置买卖点，同一根 K 线多笔成交取最后一笔。
func tradeMarkers(trades []backtest.TradeRecord, bars int) (buys, sells []opts.ScatterData) {
	buys = make([]opts.ScatterData, bars)
	sells = make([]opts.ScatterData, bars)
	for i := 0; i < bars; i++ {
		buys[i] = opts.ScatterData{Value: nil}
		sells[i] = opts.ScatterData{Value: nil}
	}
	for _, t := range trades {
		if t.Bar < 0 || t.Bar >= bars {
			continue
		}
		point := opts.ScatterData{Value: round(t.Price, 6), Symbol: "triangle", SymbolSize: 12}
		if t.Side == "buy" {
			buys[t.Bar] = point
		} else {
			point.SymbolRotate = 180
			sells[t.Bar] = point
		}
	}
	return buys, sells
}

func equityChart(in Input, x []string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(equityHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: "Equity", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	equity := make([]opts.LineData, len(in.Snapshots))
	for i, s := range in.Snapshots {
		equity[i] = opts.LineData{Value: round(s.Equity, 4)}
	}
	line.SetXAxis(x)
	line.AddSeries("Equity", equity,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
	)
	return line
}

func drawdownChart(in Input, x []string) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(drawdownHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: "Drawdown %", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary}}),
	)
	dd := make([]opts.BarData, len(in.Snapshots))
	for i, s := range in.Snapshots {
		dd[i] = opts.BarData{
			Value:     round(-s.Drawdown*100, 4),
			ItemStyle: &opts.ItemStyle{Color: colorDrawdown, Opacity: opts.Float(0.7)},
		}
	}
	bar.SetXAxis(x)
	bar.AddSeries("Drawdown", dd)
	return bar
}

func snapshotAxis(snaps []backtest.Snapshot) []string {
	x := make([]string, len(snaps))
	for i, s := range snaps {
		x[i] = formatTS(s.TS)
	}
	return x
}

func runSubtitle(r backtest.Run) string {
	return fmt.Sprintf("%s | 收益 %.2f (%.2f%%) | 胜率 %.1f%% | 最大回撤 %.2f%%",
		r.Strategy, r.Stats.Profit, r.Stats.ReturnPct*100, r.Stats.WinRate*100, r.Stats.MaxDrawdownPct*100)
}

func priceBounds(candles []backtest.Candle) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range candles {
		lo = math.Min(lo, c.Low)
		hi = math.Max(hi, c.High)
	}
	return lo, hi
}

func formatTS(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("01-02 15:04")
}

func round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}
