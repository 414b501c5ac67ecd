package strategy

import (
	"context"
	"fmt"
	"math"

	"dealsim/internal/backtest"
	"dealsim/internal/broker"

	"github.com/markcheno/go-talib"
)

const smaCrossSchema = `{
  "type": "object",
  "properties": {
    "fast": {"type": "integer", "minimum": 2},
    "slow": {"type": "integer", "minimum": 3},
    "quantity": {"type": "number", "exclusiveMinimum": 0},
    "stop_pct": {"type": "number", "exclusiveMinimum": 0, "exclusiveMaximum": 1},
    "allow_short": {"type": "boolean"},
    "tiers": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "pct": {"type": "number", "exclusiveMinimum": 0},
          "ratio": {"type": "number", "exclusiveMinimum": 0, "maximum": 1}
        },
        "required": ["pct", "ratio"]
      }
    }
  },
  "required": ["fast", "slow", "quantity", "stop_pct"]
}`

func smaCrossDefinition() Definition {
	return Definition{
		Name:        "sma_cross",
		Description: "快慢均线交叉开仓，固定比例止损加分批止盈，反向交叉平仓",
		Schema:      smaCrossSchema,
		Defaults: Params{
			"fast":        10,
			"slow":        30,
			"quantity":    1.0,
			"stop_pct":    0.03,
			"allow_short": false,
			"tiers": []any{
				map[string]any{"pct": 0.03, "ratio": 0.5},
				map[string]any{"pct": 0.06, "ratio": 0.5},
			},
		},
		New: newSMACross,
	}
}

func newSMACross(p Params) (backtest.Strategy, error) {
	s := &smaCross{
		fast:       p.Int("fast", 10),
		slow:       p.Int("slow", 30),
		qty:        p.Float("quantity", 1),
		stopPct:    p.Float("stop_pct", 0.03),
		allowShort: p.Bool("allow_short", false),
		tiers:      p.Tiers("tiers"),
	}
	if s.fast >= s.slow {
		return nil, fmt.Errorf("fast(%d) 必须小于 slow(%d)", s.fast, s.slow)
	}
	if len(s.tiers) > 0 {
		sum := 0.0
		for _, t := range s.tiers {
			sum += t.Ratio
		}
		if math.Abs(sum-1) > 1e-6 {
			return nil, fmt.Errorf("tiers ratio 之和需为 1，当前 %.4f", sum)
		}
	}
	return s, nil
}

type smaCross struct {
	fast, slow int
	qty        float64
	stopPct    float64
	allowShort bool
	tiers      []Tier

	deal tracked
}

func (s *smaCross) OnBar(_ context.Context, bc backtest.BarContext) error {
	if len(bc.History) <= s.slow {
		return nil
	}
	closes := seriesOf(bc.History).closes
	signal := crossOf(talib.Sma(closes, s.fast), talib.Sma(closes, s.slow))
	if signal == crossNone {
		return nil
	}
	price := bc.Bar.Close
	if d, ok := s.deal.open(bc.Trader); ok {
		sameWay := (d.Type == broker.DealLong) == (signal == crossUp)
		if sameWay {
			return nil
		}
		if d.OpenQuantity() > 0 {
			if err := closeDeal(bc, d); err != nil {
				return err
			}
		}
		s.deal.forget()
	}
	switch {
	case signal == crossUp:
		res := bc.Trader.BuySLTP(broker.Market(s.qty), broker.AtPrice(price*(1-s.stopPct)), tierExits(price, 1, s.tiers))
		s.deal.remember(res)
		return check("sma_cross long", res)
	case s.allowShort:
		res := bc.Trader.SellSLTP(broker.Market(s.qty), broker.AtPrice(price*(1+s.stopPct)), tierExits(price, -1, s.tiers))
		s.deal.remember(res)
		return check("sma_cross short", res)
	}
	return nil
}
