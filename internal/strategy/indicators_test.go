package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCrossOf(t *testing.T) {
	tests := []struct {
		name       string
		fast, slow []float64
		want       cross
	}{
		{name: "up", fast: []float64{1, 3}, slow: []float64{2, 2}, want: crossUp},
		{name: "down", fast: []float64{3, 1}, slow: []float64{2, 2}, want: crossDown},
		{name: "none", fast: []float64{3, 4}, slow: []float64{2, 2}, want: crossNone},
		{name: "warmup", fast: []float64{0, 3}, slow: []float64{2, 2}, want: crossNone},
		{name: "short", fast: []float64{3}, slow: []float64{2}, want: crossNone},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, crossOf(tc.fast, tc.slow))
		})
	}
}

func TestIndicatorsNeedEnoughData(t *testing.T) {
	closes := []float64{1, 2, 3}
	assert.Zero(t, SMA(closes, 5))
	assert.Zero(t, RSI(closes, 3))
	assert.Zero(t, ATR(closes, closes, closes, 3))
	assert.Zero(t, Highest(closes, 4))
}

func TestIndicatorValues(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	assert.InDelta(t, 4, SMA(closes, 3), 1e-9)
	assert.InDelta(t, 5, Highest(closes, 2), 1e-9)
	assert.InDelta(t, 100, RSI(closes, 3), 1e-9)

	falling := []float64{5, 4, 3, 2}
	assert.InDelta(t, 0, RSI(falling, 3), 1e-9)

	highs := []float64{11, 11, 11, 11, 11}
	lows := []float64{9, 9, 9, 9, 9}
	mid := []float64{10, 10, 10, 10, 10}
	assert.InDelta(t, 2, ATR(highs, lows, mid, 3), 1e-9)
}
