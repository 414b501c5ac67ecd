package strategy

import (
	"context"

	"dealsim/internal/backtest"
	"dealsim/internal/broker"
)

const buyHoldSchema = `{
  "type": "object",
  "properties": {
    "quantity": {"type": "number", "exclusiveMinimum": 0},
    "stop_pct": {"type": "number", "minimum": 0, "exclusiveMaximum": 1}
  },
  "required": ["quantity"]
}`

func buyHoldDefinition() Definition {
	return Definition{
		Name:        "buy_hold",
		Description: "第一根 K 线市价买入并持有到结束，可选固定比例止损",
		Schema:      buyHoldSchema,
		Defaults:    Params{"quantity": 1.0, "stop_pct": 0.0},
		New: func(p Params) (backtest.Strategy, error) {
			return &buyHold{qty: p.Float("quantity", 1), stopPct: p.Float("stop_pct", 0)}, nil
		},
	}
}

type buyHold struct {
	qty     float64
	stopPct float64
	done    bool
}

func (s *buyHold) OnBar(_ context.Context, bc backtest.BarContext) error {
	if s.done {
		return nil
	}
	s.done = true
	if s.stopPct <= 0 {
		return check("buy", bc.Trader.Buy(broker.OrderParams{Quantity: s.qty}))
	}
	stop := bc.Bar.Close * (1 - s.stopPct)
	return check("buy_sltp", bc.Trader.BuySLTP(broker.Market(s.qty), broker.AtPrice(stop), broker.ExitSpec{}))
}
