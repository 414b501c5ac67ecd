package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreInsertAndQuery(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	bars := flatBars(5, 100)

	n, err := s.InsertCandles(ctx, "btcusdt", "1H", bars)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	t.Run("upsert replaces existing rows", func(t *testing.T) {
		changed := bars[2]
		changed.Close = 101
		_, err := s.InsertCandles(ctx, "BTCUSDT", "1h", []Candle{changed})
		require.NoError(t, err)
		got, err := s.RangeCandles(ctx, "BTCUSDT", "1h", bars[2].OpenTime, bars[2].OpenTime)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 101.0, got[0].Close)
	})

	t.Run("manifest", func(t *testing.T) {
		m, err := s.Manifest(ctx, "BTCUSDT", "1h")
		require.NoError(t, err)
		assert.Equal(t, int64(5), m.Rows)
		assert.Equal(t, bars[0].OpenTime, m.MinTime)
		assert.Equal(t, bars[4].OpenTime, m.MaxTime)
		assert.Equal(t, "BTCUSDT", m.Symbol)
	})

	t.Run("latest rows come back ascending", func(t *testing.T) {
		got, err := s.QueryCandles(ctx, "BTCUSDT", "1h", 0, 0, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, bars[3].OpenTime, got[0].OpenTime)
		assert.Equal(t, bars[4].OpenTime, got[1].OpenTime)
	})

	t.Run("datasets", func(t *testing.T) {
		list, err := s.Datasets(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "1h", list[0].Timeframe)
	})

	t.Run("range requires bounds", func(t *testing.T) {
		_, err := s.RangeCandles(ctx, "BTCUSDT", "1h", 0, 10)
		assert.Error(t, err)
	})
}

func TestStoreCheckIntegrity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	bars := flatBars(6, 100)
	_, err := s.InsertCandles(ctx, "ETHUSDT", "1h", append(bars[:2:2], bars[4:]...))
	require.NoError(t, err)

	tf, _ := ParseTimeframe("1h")
	report, err := s.CheckIntegrity(ctx, "ETHUSDT", "1h", tf, bars[0].OpenTime, bars[5].OpenTime)
	require.NoError(t, err)
	assert.Equal(t, int64(6), report.Expected)
	assert.Equal(t, int64(4), report.Present)
	assert.False(t, report.Complete())
	assert.Equal(t, []Gap{{From: bars[2].OpenTime, To: bars[3].OpenTime, Count: 2}}, report.Gaps)
}
