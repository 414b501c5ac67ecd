package backtest

import (
	"errors"
	"fmt"
)

var (
	ErrNoCandles    = errors.New("no candles in range")
	ErrRunNotFound  = errors.New("run not found")
	ErrUnknownStrat = errors.New("unknown strategy")
)

func errBarsNotAscending(i int, ts, prev int64) error {
	return fmt.Errorf("bar %d: open_time %d not after %d", i, ts, prev)
}
