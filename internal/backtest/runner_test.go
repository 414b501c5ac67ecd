package backtest

import (
	"context"
	"errors"
	"testing"

	"dealsim/internal/broker"
	"dealsim/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func onFirstBar(fn func(bc BarContext)) Strategy {
	return StrategyFunc(func(_ context.Context, bc BarContext) error {
		if bc.Index == 0 {
			fn(bc)
		}
		return nil
	})
}

func TestRunnerTakeProfitClosesDeal(t *testing.T) {
	bars := []Candle{
		hourBar(0, 100, 101, 99, 100),
		hourBar(1, 100, 112, 99, 111),
		hourBar(2, 111, 112, 110, 111),
	}
	strat := onFirstBar(func(bc BarContext) {
		res := bc.Trader.BuySLTP(broker.Market(1), broker.AtPrice(90), broker.AtPrice(110))
		require.True(t, res.OK(), res.ErrorMessages)
	})
	res, err := NewRunner(testRunConfig(), strat, logger.Discard()).Run(context.Background(), "r1", bars)
	require.NoError(t, err)

	require.Len(t, res.Deals, 1)
	deal := res.Deals[0]
	assert.True(t, deal.IsClosed)
	require.NotNil(t, deal.Profit)
	assert.InDelta(t, 10, *deal.Profit, 1e-9)
	assert.Equal(t, bars[1].OpenTime, deal.ClosedAt)

	assert.Equal(t, 1, res.Stats.Wins)
	assert.Equal(t, 1.0, res.Stats.WinRate)
	assert.Equal(t, 2, res.Stats.Trades)
	assert.Equal(t, 3, res.Stats.Orders)
	assert.InDelta(t, 10010, res.Stats.FinalBalance, 1e-9)
	assert.InDelta(t, 0.001, res.Stats.ReturnPct, 1e-12)

	require.Len(t, res.Snapshots, 3)
	assert.InDelta(t, 10010, res.Snapshots[2].Equity, 1e-9)
	for _, o := range res.Orders {
		if o.Role == string(broker.RoleStopExit) {
			assert.Equal(t, string(broker.StatusCanceled), o.Status)
		}
	}
}

func TestRunnerForceClosesAtEnd(t *testing.T) {
	bars := []Candle{
		hourBar(0, 100, 101, 99, 100),
		hourBar(1, 100, 104, 99, 103),
		hourBar(2, 103, 106, 102, 105),
	}
	strat := onFirstBar(func(bc BarContext) {
		res := bc.Trader.Buy(broker.OrderParams{Quantity: 1})
		require.True(t, res.OK(), res.ErrorMessages)
	})
	res, err := NewRunner(testRunConfig(), strat, logger.Discard()).Run(context.Background(), "r2", bars)
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	last := res.Trades[1]
	assert.Equal(t, 105.0, last.Price)
	assert.Equal(t, bars[2].CloseTime, last.Time)
	assert.Equal(t, 2, last.Bar)
	assert.InDelta(t, 5, res.Stats.Profit, 1e-9)
	assert.Equal(t, 0.0, res.Snapshots[2].Quantity)
	assert.Equal(t, 1, res.Stats.ClosedDeals)
}

func TestRunnerTracksDrawdown(t *testing.T) {
	bars := []Candle{
		hourBar(0, 100, 101, 99, 100),
		hourBar(1, 100, 100, 80, 80),
		hourBar(2, 80, 90, 79, 90),
	}
	strat := onFirstBar(func(bc BarContext) {
		bc.Trader.Buy(broker.OrderParams{Quantity: 100})
	})
	res, err := NewRunner(testRunConfig(), strat, logger.Discard()).Run(context.Background(), "r3", bars)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, res.Stats.MaxDrawdownPct, 1e-9)
	assert.InDelta(t, 8000, res.Stats.EquityValley, 1e-9)
	assert.InDelta(t, 10000, res.Stats.EquityPeak, 1e-9)
	assert.Equal(t, 0, res.Stats.Wins)
	assert.Equal(t, 1, res.Stats.Losses)
}

func TestRunnerStrategyErrorsAreLogged(t *testing.T) {
	bars := flatBars(3, 100)
	strat := StrategyFunc(func(_ context.Context, bc BarContext) error {
		if bc.Index == 1 {
			return errors.New("boom")
		}
		return nil
	})
	res, err := NewRunner(testRunConfig(), strat, logger.Discard()).Run(context.Background(), "r4", bars)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.Warnings)
	require.NotEmpty(t, res.Logs)
	assert.Equal(t, "error", res.Logs[0].Level)
	assert.Contains(t, res.Logs[0].Message, "boom")
}

func TestRunnerRejectsBadInput(t *testing.T) {
	noop := StrategyFunc(func(context.Context, BarContext) error { return nil })
	r := NewRunner(testRunConfig(), noop, logger.Discard())

	_, err := r.Run(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrNoCandles)

	bars := flatBars(2, 100)
	bars[1].OpenTime = bars[0].OpenTime
	_, err = r.Run(context.Background(), "x", bars)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx, "x", flatBars(2, 100))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunnerReportsProgress(t *testing.T) {
	noop := StrategyFunc(func(context.Context, BarContext) error { return nil })
	r := NewRunner(testRunConfig(), noop, logger.Discard())
	var last int
	r.OnProgress(func(done, total int) {
		assert.Equal(t, 40, total)
		last = done
	})
	_, err := r.Run(context.Background(), "p", flatBars(40, 100))
	require.NoError(t, err)
	assert.Equal(t, 40, last)
}
