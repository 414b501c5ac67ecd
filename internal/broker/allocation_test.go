package broker

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func sumDec(vals []decimal.Decimal) decimal.Decimal {
	out := decimal.Zero
	for _, v := range vals {
		out = out.Add(v)
	}
	return out
}

func TestAllocateLegs(t *testing.T) {
	t.Run("equal halves", func(t *testing.T) {
		got := allocateLegs([]float64{0.5, 0.5}, decimal.NewFromInt(1), 0.001)
		assert.Equal(t, "0.5", got[0].String())
		assert.Equal(t, "0.5", got[1].String())
	})

	t.Run("last leg takes the rounding remainder", func(t *testing.T) {
		third := 1.0 / 3
		got := allocateLegs([]float64{third, third, third}, decimal.NewFromInt(1), 0.001)
		assert.Equal(t, "0.333", got[0].String())
		assert.Equal(t, "0.333", got[1].String())
		assert.Equal(t, "0.334", got[2].String())
		assert.True(t, sumDec(got).Equal(decimal.NewFromInt(1)))
	})

	t.Run("remaining legs are renormalized", func(t *testing.T) {
		got := allocateLegs([]float64{0.2, 0.6}, decimal.RequireFromString("0.4"), 0.001)
		assert.Equal(t, "0.1", got[0].String())
		assert.Equal(t, "0.3", got[1].String())
	})

	t.Run("tiny remainder lands on the last leg", func(t *testing.T) {
		got := allocateLegs([]float64{0.5, 0.5}, decimal.RequireFromString("0.001"), 0.001)
		assert.True(t, got[0].IsZero())
		assert.Equal(t, "0.001", got[1].String())
	})

	t.Run("non-positive remainder", func(t *testing.T) {
		got := allocateLegs([]float64{0.5, 0.5}, decimal.NewFromInt(-1), 0.001)
		for _, q := range got {
			assert.True(t, q.IsZero())
		}
	})

	t.Run("no legs", func(t *testing.T) {
		assert.Empty(t, allocateLegs(nil, decimal.NewFromInt(1), 0.001))
	})
}
