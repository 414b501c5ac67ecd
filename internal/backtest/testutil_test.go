package backtest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const hourMs = int64(3_600_000)

// 2023-11-14 22:00:00 UTC，对齐到整小时。
const baseOpen = int64(1_699_999_200_000)

func hourBar(i int, open, high, low, close float64) Candle {
	ot := baseOpen + int64(i)*hourMs
	return Candle{
		OpenTime:  ot,
		CloseTime: ot + hourMs - 1,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    10,
	}
}

func flatBars(n int, price float64) []Candle {
	out := make([]Candle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, hourBar(i, price, price+1, price-1, price))
	}
	return out
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRunConfig() RunConfig {
	return RunConfig{
		Strategy:        "test",
		Symbol:          "BTCUSDT",
		Timeframe:       "1h",
		StartTS:         baseOpen,
		EndTS:           baseOpen + 10*hourMs,
		InitialBalance:  10000,
		PrecisionAmount: 0.001,
		PrecisionPrice:  0.01,
	}
}
