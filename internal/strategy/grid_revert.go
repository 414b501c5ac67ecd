package strategy

import (
	"context"
	"fmt"

	"dealsim/internal/backtest"
	"dealsim/internal/broker"
	"dealsim/internal/logger"
)

const gridRevertSchema = `{
  "type": "object",
  "properties": {
    "rsi_period": {"type": "integer", "minimum": 2},
    "oversold": {"type": "number", "exclusiveMinimum": 0, "exclusiveMaximum": 50},
    "levels": {"type": "integer", "minimum": 1, "maximum": 10},
    "spacing_pct": {"type": "number", "exclusiveMinimum": 0, "exclusiveMaximum": 0.2},
    "quantity": {"type": "number", "exclusiveMinimum": 0},
    "stop_pct": {"type": "number", "exclusiveMinimum": 0, "exclusiveMaximum": 1},
    "take_pcts": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "number", "exclusiveMinimum": 0}
    },
    "entry_ttl": {"type": "integer", "minimum": 1}
  },
  "required": ["rsi_period", "oversold", "levels", "spacing_pct", "quantity", "stop_pct", "take_pcts", "entry_ttl"]
}`

func gridRevertDefinition() Definition {
	return Definition{
		Name:        "grid_revert",
		Description: "RSI 超卖时在现价下方挂多档限价单，统一止损，多个止盈价均分出场，超时撤掉未成交的入场单",
		Schema:      gridRevertSchema,
		Defaults: Params{
			"rsi_period":  14,
			"oversold":    30.0,
			"levels":      3,
			"spacing_pct": 0.01,
			"quantity":    1.0,
			"stop_pct":    0.02,
			"take_pcts":   []any{0.01, 0.02},
			"entry_ttl":   12,
		},
		New: func(p Params) (backtest.Strategy, error) {
			s := &gridRevert{
				rsiPeriod: p.Int("rsi_period", 14),
				oversold:  p.Float("oversold", 30),
				levels:    p.Int("levels", 3),
				spacing:   p.Float("spacing_pct", 0.01),
				qty:       p.Float("quantity", 1),
				stopPct:   p.Float("stop_pct", 0.02),
				takePcts:  p.Floats("take_pcts"),
				ttl:       p.Int("entry_ttl", 12),
			}
			if len(s.takePcts) == 0 {
				return nil, fmt.Errorf("take_pcts 不能为空")
			}
			if float64(s.levels)*s.spacing >= 1 {
				return nil, fmt.Errorf("levels*spacing_pct 需小于 1")
			}
			return s, nil
		},
	}
}

type gridRevert struct {
	rsiPeriod int
	oversold  float64
	levels    int
	spacing   float64
	qty       float64
	stopPct   float64
	takePcts  []float64
	ttl       int

	deal     tracked
	placedAt int
	expired  bool
}

func (s *gridRevert) OnBar(_ context.Context, bc backtest.BarContext) error {
	if d, ok := s.deal.open(bc.Trader); ok {
		return s.manage(bc, d)
	}
	closes := seriesOf(bc.History).closes
	if len(closes) <= s.rsiPeriod {
		return nil
	}
	rsi := RSI(closes, s.rsiPeriod)
	if rsi >= s.oversold {
		return nil
	}
	price := bc.Bar.Close
	legs := make([]broker.LimitLeg, 0, s.levels)
	per := s.qty / float64(s.levels)
	for i := 1; i <= s.levels; i++ {
		legs = append(legs, broker.LimitLeg{Quantity: per, Price: price * (1 - s.spacing*float64(i))})
	}
	lowest := legs[len(legs)-1].Price
	takes := make([]float64, 0, len(s.takePcts))
	for _, pct := range s.takePcts {
		takes = append(takes, price*(1+pct))
	}
	res := bc.Trader.BuySLTP(broker.MultiLimit(legs...), broker.AtPrice(lowest*(1-s.stopPct)), broker.AtPrices(takes...))
	if err := check("grid_revert entry", res); err != nil {
		return err
	}
	s.deal.remember(res)
	s.placedAt, s.expired = bc.Index, false
	bc.Log.Log(logger.LevelInfo, fmt.Sprintf("grid_revert RSI=%.2f，挂 %d 档限价单，最低 %.4f", rsi, s.levels, lowest))
	return nil
}

// manage 在 entry_ttl 根 K 线后撤掉未成交的入场单；没有任何成交的 deal 直接放弃。
func (s *gridRevert) manage(bc backtest.BarContext, d broker.Deal) error {
	if s.expired || bc.Index-s.placedAt < s.ttl {
		return nil
	}
	s.expired = true
	res := bc.Trader.DealOrders(d.ID)
	if err := check("grid_revert orders", res); err != nil {
		return err
	}
	var stale []int64
	for _, o := range res.Orders {
		if o.Role == broker.RoleEntry && o.Status == broker.StatusActive {
			stale = append(stale, o.ID)
		}
	}
	if len(stale) > 0 {
		if err := check("grid_revert cancel", bc.Trader.CancelOrders(stale...)); err != nil {
			return err
		}
		bc.Log.Log(logger.LevelInfo, fmt.Sprintf("grid_revert 撤销 %d 笔过期入场单", len(stale)))
	}
	if d.OpenQuantity() == 0 {
		var rest []int64
		for _, o := range res.Orders {
			if o.Status == broker.StatusActive && o.Role != broker.RoleEntry {
				rest = append(rest, o.ID)
			}
		}
		if len(rest) > 0 {
			_ = bc.Trader.CancelOrders(rest...)
		}
		s.deal.forget()
	}
	return nil
}
