package precision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloorToPrecision(t *testing.T) {
	cases := []struct {
		name  string
		value float64
		step  float64
		want  float64
	}{
		{"exact", 0.3, 0.1, 0.3},
		{"floors", 1.23456, 0.001, 1.234},
		{"below step", 0.0009, 0.001, 0},
		{"integer step", 17.9, 5, 15},
		{"zero step passthrough", 1.23456, 0, 1.23456},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, FloorToPrecision(tc.value, tc.step), 1e-12)
		})
	}
}

func TestRoundToPrecision(t *testing.T) {
	assert.InDelta(t, 100.13, RoundToPrecision(100.126, 0.01), 1e-12)
	assert.InDelta(t, 100.12, RoundToPrecision(100.124, 0.01), 1e-12)
	assert.InDelta(t, 0.5, RoundToPrecision(0.45, 0.1), 1e-12)
	assert.InDelta(t, 90.0, RoundToPrecision(90.0, 0.5), 1e-12)
}

func TestQuantizerReportsChanges(t *testing.T) {
	q := NewQuantizer(0.001, 0.01)

	assert.InDelta(t, 1.5, q.Quantity("quantity", 1.5), 1e-12)
	assert.InDelta(t, 100.0, q.Price("price", 100.0), 1e-12)
	assert.Empty(t, q.Adjustments())

	assert.InDelta(t, 1.234, q.Quantity("quantity", 1.2349), 1e-12)
	assert.InDelta(t, 99.99, q.Price("price", 99.987), 1e-12)
	assert.Equal(t, 0.0, q.Price("trigger", 0))

	adj := q.Adjustments()
	if assert.Len(t, adj, 2) {
		assert.Equal(t, "quantity", adj[0].Field)
		assert.Equal(t, "price", adj[1].Field)
	}
	assert.Empty(t, q.Adjustments())
}
