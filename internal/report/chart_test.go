package report

import (
	"bytes"
	"testing"

	"dealsim/internal/backtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInput() Input {
	const hour = int64(3_600_000)
	base := int64(1_700_000_000_000)
	candles := []backtest.Candle{
		{OpenTime: base, CloseTime: base + hour - 1, Open: 100, High: 102, Low: 99, Close: 101},
		{OpenTime: base + hour, CloseTime: base + 2*hour - 1, Open: 101, High: 105, Low: 100, Close: 104},
	}
	return Input{
		Run:     backtest.Run{ID: "r1", Symbol: "BTCUSDT", Timeframe: "1h", Strategy: "sma_cross"},
		Candles: candles,
		Snapshots: []backtest.Snapshot{
			{Bar: 0, TS: base, Equity: 10000},
			{Bar: 1, TS: base + hour, Equity: 10003, Drawdown: 0.01},
		},
		Trades: []backtest.TradeRecord{
			{Side: "buy", Bar: 0, Price: 101},
			{Side: "sell", Bar: 1, Price: 104},
			{Side: "sell", Bar: 9, Price: 1},
		},
	}
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleInput()))
	html := buf.String()
	assert.Contains(t, html, "BTCUSDT 1h")
	assert.Contains(t, html, "Equity")
	assert.Contains(t, html, "Drawdown")
}

func TestRenderRejectsEmptyRun(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Render(&buf, Input{Run: backtest.Run{ID: "empty"}}))
}

func TestTradeMarkers(t *testing.T) {
	in := sampleInput()
	buys, sells := tradeMarkers(in.Trades, len(in.Candles))
	require.Len(t, buys, 2)
	assert.Equal(t, 101.0, buys[0].Value)
	assert.Nil(t, buys[1].Value)
	assert.Equal(t, 104.0, sells[1].Value)
	assert.Equal(t, 180, sells[1].SymbolRotate)
}
