package strategy

import (
	"testing"

	"dealsim/internal/backtest"
	"dealsim/internal/broker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuyHold(t *testing.T) {
	t.Run("held to the end", func(t *testing.T) {
		res := runStrategy(t, "buy_hold", map[string]any{"quantity": 2}, barsFromCloses(100, 101, 103, 104))
		require.Len(t, res.Deals, 1)
		assert.True(t, res.Deals[0].IsClosed)
		assert.InDelta(t, 8, res.Stats.Profit, 1e-9)
		assert.Equal(t, 2, res.Stats.Trades)
	})
	t.Run("stopped out", func(t *testing.T) {
		res := runStrategy(t, "buy_hold", map[string]any{"quantity": 1, "stop_pct": 0.05}, barsFromCloses(100, 100, 99, 90, 91))
		require.Len(t, res.Deals, 1)
		deal := res.Deals[0]
		require.NotNil(t, deal.Profit)
		assert.InDelta(t, -5, *deal.Profit, 1e-9)
		assert.Equal(t, 3, deal.ClosedAtBar)
	})
}

func TestSMACrossTakesProfitInTiers(t *testing.T) {
	bars := barsFromCloses(100, 99, 98, 97, 96, 97, 99, 102, 105, 108)
	res := runStrategy(t, "sma_cross", map[string]any{"fast": 2, "slow": 4, "quantity": 1}, bars)

	require.Len(t, res.Deals, 1)
	deal := res.Deals[0]
	assert.Equal(t, string(broker.DealLong), deal.Type)
	assert.True(t, deal.IsClosed)
	assert.Equal(t, 6, deal.OpenedAtBar)
	assert.Equal(t, 8, deal.ClosedAtBar)
	require.NotNil(t, deal.Profit)
	assert.InDelta(t, 0.5*(101.97-99)+0.5*(104.94-99), *deal.Profit, 1e-6)
	assert.Equal(t, 3, res.Stats.Trades)
}

func TestSMACrossShortClosesOnReverse(t *testing.T) {
	bars := barsFromCloses(100, 101, 102, 103, 104, 103, 101, 100.5, 101.5, 103, 104)
	res := runStrategy(t, "sma_cross", map[string]any{
		"fast": 2, "slow": 4, "quantity": 1, "stop_pct": 0.2, "allow_short": true, "tiers": []any{},
	}, bars)

	require.NotEmpty(t, res.Deals)
	first := res.Deals[0]
	assert.Equal(t, string(broker.DealShort), first.Type)
	assert.True(t, first.IsClosed)
}

func TestATRTrailingRaisesStop(t *testing.T) {
	bars := []struct{ o, h, l, c float64 }{
		{100, 101, 99, 100},
		{100, 101, 99, 100},
		{100, 101, 99, 100},
		{100, 101, 99, 100},
		{100, 101, 99, 100},
		{100, 103, 99.5, 102.5},
		{102.5, 106, 102, 105.5},
		{105.5, 106, 104, 104.2},
		{104.2, 105, 104, 104.5},
	}
	candles := make([]backtest.Candle, 0, len(bars))
	for i, b := range bars {
		candles = append(candles, bar(i, b.o, b.h, b.l, b.c))
	}
	res := runStrategy(t, "atr_trailing", map[string]any{
		"breakout_period":         3,
		"atr_period":              3,
		"quantity":                1,
		"initial_stop_multiplier": 2,
		"trigger_multiplier":      1,
		"trail_multiplier":        0.5,
	}, candles)

	require.Len(t, res.Deals, 1)
	deal := res.Deals[0]
	assert.Equal(t, 5, deal.OpenedAtBar)
	assert.Equal(t, 7, deal.ClosedAtBar)
	require.NotNil(t, deal.Profit)
	assert.Greater(t, *deal.Profit, 0.0)

	var stops []float64
	for _, o := range res.Orders {
		if o.Role == string(broker.RoleStopExit) {
			stops = append(stops, o.TriggerPrice)
		}
	}
	require.Len(t, stops, 2)
	assert.Greater(t, stops[1], stops[0])
	assert.Greater(t, stops[1], 102.5)
}

func TestGridRevertCancelsStaleEntries(t *testing.T) {
	candles := []backtest.Candle{
		bar(0, 100, 100.5, 99.5, 100),
		bar(1, 100, 100.5, 98.5, 99),
		bar(2, 99, 99.5, 97.5, 98),
		bar(3, 98, 98.5, 96.5, 97),
		bar(4, 97, 97.5, 96, 96.5),
		bar(5, 96.5, 97, 96.2, 96.8),
		bar(6, 96.8, 99.5, 96.5, 99),
	}
	res := runStrategy(t, "grid_revert", map[string]any{
		"rsi_period":  3,
		"oversold":    30,
		"levels":      2,
		"spacing_pct": 0.01,
		"quantity":    1,
		"stop_pct":    0.05,
		"take_pcts":   []any{0.02},
		"entry_ttl":   2,
	}, candles)

	require.Len(t, res.Deals, 1)
	deal := res.Deals[0]
	assert.True(t, deal.IsClosed)
	assert.Equal(t, 6, deal.ClosedAtBar)
	require.NotNil(t, deal.Profit)
	assert.InDelta(t, 0.5*(98.94-96.03), *deal.Profit, 1e-6)

	var canceledEntries int
	for _, o := range res.Orders {
		if o.Role == string(broker.RoleEntry) && o.Status == string(broker.StatusCanceled) {
			canceledEntries++
			assert.InDelta(t, 95.06, o.Price, 1e-9)
		}
	}
	assert.Equal(t, 1, canceledEntries)
}
