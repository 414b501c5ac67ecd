package strategy

import (
	"context"
	"testing"

	"dealsim/internal/backtest"
	"dealsim/internal/logger"

	"github.com/stretchr/testify/require"
)

const hourMs = int64(3_600_000)

const baseOpen = int64(1_699_999_200_000)

func bar(i int, open, high, low, close float64) backtest.Candle {
	ot := baseOpen + int64(i)*hourMs
	return backtest.Candle{OpenTime: ot, CloseTime: ot + hourMs - 1, Open: open, High: high, Low: low, Close: close, Volume: 1}
}

// barsFromCloses 以前一根收盘为开盘，高低点各外扩 0.5。
func barsFromCloses(closes ...float64) []backtest.Candle {
	out := make([]backtest.Candle, 0, len(closes))
	prev := closes[0]
	for i, c := range closes {
		hi, lo := prev, c
		if c > prev {
			hi, lo = c, prev
		}
		out = append(out, bar(i, prev, hi+0.5, lo-0.5, c))
		prev = c
	}
	return out
}

func runStrategy(t *testing.T, name string, params map[string]any, bars []backtest.Candle) backtest.RunResult {
	t.Helper()
	strat, err := NewRegistry().NewStrategy(backtest.StrategySpec{RunID: "t", Name: name, Params: params})
	require.NoError(t, err)
	cfg := backtest.RunConfig{
		Strategy:        name,
		Symbol:          "BTCUSDT",
		Timeframe:       "1h",
		StartTS:         bars[0].OpenTime,
		EndTS:           bars[len(bars)-1].OpenTime,
		InitialBalance:  10000,
		PrecisionAmount: 0.001,
		PrecisionPrice:  0.01,
	}
	res, err := backtest.NewRunner(cfg, strat, logger.Discard()).Run(context.Background(), "t", bars)
	require.NoError(t, err)
	return res
}
