package backtest

import (
	"context"
	"fmt"
)

// Gap 是一段缺失的 K 线，From/To 为闭区间 open_time。
type Gap struct {
	From  int64 `json:"from"`
	To    int64 `json:"to"`
	Count int64 `json:"count"`
}

// IntegrityReport 描述某区间的数据完整度。
type IntegrityReport struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
	Expected  int64  `json:"expected"`
	Present   int64  `json:"present"`
	Gaps      []Gap  `json:"gaps"`
}

func (r IntegrityReport) Complete() bool { return len(r.Gaps) == 0 }

// CheckIntegrity 对比已有 open_time 与周期网格，找出缺口。
func (s *Store) CheckIntegrity(ctx context.Context, symbol, timeframe string, tf Timeframe, start, end int64) (IntegrityReport, error) {
	start, end = tf.AlignRange(start, end)
	report := IntegrityReport{
		Symbol:    symbol,
		Timeframe: tf.Key,
		Start:     start,
		End:       end,
		Expected:  tf.ExpectedCandles(start, end),
	}
	times, err := s.LoadOpenTimes(ctx, symbol, timeframe, start, end)
	if err != nil {
		return report, fmt.Errorf("load open times: %w", err)
	}
	report.Gaps = findGaps(times, start, end, tf.Millis())
	report.Present = int64(len(times))
	return report, nil
}

func findGaps(times []int64, start, end, step int64) []Gap {
	if step <= 0 || end < start {
		return nil
	}
	var gaps []Gap
	push := func(from, to int64) {
		if to < from {
			return
		}
		gaps = append(gaps, Gap{From: from, To: to, Count: (to-from)/step + 1})
	}
	expect := start
	for _, ts := range times {
		if ts < expect {
			continue
		}
		if ts > expect {
			push(expect, ts-step)
		}
		expect = ts + step
	}
	push(expect, end)
	return gaps
}
