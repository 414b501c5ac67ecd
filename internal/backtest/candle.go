package backtest

import "dealsim/internal/market"

// Candle 与 market.Candle 相同，回测包内直接使用。
type Candle = market.Candle

// validateSeries 检查 K 线严格按 open_time 递增且 OHLC 合法。
func validateSeries(candles []Candle) error {
	var prev int64
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return err
		}
		if i > 0 && c.OpenTime <= prev {
			return errBarsNotAscending(i, c.OpenTime, prev)
		}
		prev = c.OpenTime
	}
	return nil
}
