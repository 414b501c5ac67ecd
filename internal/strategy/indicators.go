package strategy

import (
	"math"

	"dealsim/internal/backtest"

	"github.com/markcheno/go-talib"
)

// 中文说明：
// 基于 go-talib 的指标辅助函数，输入为回测传入的 K 线历史（含当前 K 线）。

type series struct {
	opens, highs, lows, closes []float64
}

func seriesOf(bars []backtest.Candle) series {
	s := series{
		opens:  make([]float64, len(bars)),
		highs:  make([]float64, len(bars)),
		lows:   make([]float64, len(bars)),
		closes: make([]float64, len(bars)),
	}
	for i, b := range bars {
		s.opens[i] = b.Open
		s.highs[i] = b.High
		s.lows[i] = b.Low
		s.closes[i] = b.Close
	}
	return s
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	v := values[len(values)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

type cross int

const (
	crossNone cross = iota
	crossUp
	crossDown
)

// crossOf 比较最后两根的快慢线，任一值未预热（<=0）时视为无信号。
func crossOf(fast, slow []float64) cross {
	n := len(fast)
	if n < 2 || len(slow) != n {
		return crossNone
	}
	pf, ps, cf, cs := fast[n-2], slow[n-2], fast[n-1], slow[n-1]
	if pf <= 0 || ps <= 0 || cf <= 0 || cs <= 0 {
		return crossNone
	}
	switch {
	case pf <= ps && cf > cs:
		return crossUp
	case pf >= ps && cf < cs:
		return crossDown
	}
	return crossNone
}

// SMA 返回最新的简单均线值，数据不足返回 0。
func SMA(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period {
		return 0
	}
	return last(talib.Sma(closes, period))
}

// RSI（Wilder），数据不足返回 0。
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) <= period {
		return 0
	}
	return last(talib.Rsi(closes, period))
}

// ATR 返回最新的平均真实波幅，数据不足返回 0。
func ATR(highs, lows, closes []float64, period int) float64 {
	if period <= 0 || len(closes) <= period {
		return 0
	}
	return last(talib.Atr(highs, lows, closes, period))
}

// Highest 返回最近 period 个值的最大值。
func Highest(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	return last(talib.Max(values, period))
}
