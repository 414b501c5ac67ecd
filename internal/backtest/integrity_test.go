package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindGaps(t *testing.T) {
	step := int64(10)
	cases := []struct {
		name  string
		times []int64
		start int64
		end   int64
		want  []Gap
	}{
		{name: "complete", times: []int64{0, 10, 20}, start: 0, end: 20},
		{name: "empty", times: nil, start: 0, end: 20, want: []Gap{{From: 0, To: 20, Count: 3}}},
		{name: "middle", times: []int64{0, 30}, start: 0, end: 30, want: []Gap{{From: 10, To: 20, Count: 2}}},
		{name: "head and tail", times: []int64{20}, start: 0, end: 40, want: []Gap{{From: 0, To: 10, Count: 2}, {From: 30, To: 40, Count: 2}}},
		{name: "inverted range", times: []int64{0}, start: 20, end: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, findGaps(tc.times, tc.start, tc.end, step))
		})
	}
}
