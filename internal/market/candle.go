package market

import "fmt"

// Candle 是一根已收盘的 K 线，时间均为毫秒时间戳。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// Validate 检查 OHLC 的基本一致性。
func (c Candle) Validate() error {
	if c.High < c.Low {
		return fmt.Errorf("candle %d: high %.8f < low %.8f", c.OpenTime, c.High, c.Low)
	}
	if c.Open <= 0 || c.Close <= 0 || c.Low <= 0 {
		return fmt.Errorf("candle %d: non-positive price", c.OpenTime)
	}
	if c.Open > c.High || c.Open < c.Low || c.Close > c.High || c.Close < c.Low {
		return fmt.Errorf("candle %d: open/close outside [low, high]", c.OpenTime)
	}
	return nil
}
