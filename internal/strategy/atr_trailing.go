package strategy

import (
	"context"
	"fmt"

	"dealsim/internal/backtest"
	"dealsim/internal/broker"
	"dealsim/internal/logger"
)

const (
	minATRTriggerMultiplier = 1.0
	maxATRTriggerMultiplier = 5.0
	minATRTrailMultiplier   = 0.5
)

const atrTrailingSchema = `{
  "type": "object",
  "properties": {
    "breakout_period": {"type": "integer", "minimum": 2},
    "atr_period": {"type": "integer", "minimum": 2},
    "quantity": {"type": "number", "exclusiveMinimum": 0},
    "initial_stop_multiplier": {"type": "number", "minimum": 1},
    "trigger_multiplier": {"type": "number", "minimum": 1, "maximum": 5},
    "trail_multiplier": {"type": "number", "minimum": 0.5}
  },
  "required": ["breakout_period", "atr_period", "quantity", "trigger_multiplier", "trail_multiplier"]
}`

func atrTrailingDefinition() Definition {
	return Definition{
		Name:        "atr_trailing",
		Description: "突破前高做多，ATR 起始止损，浮盈达到触发倍数后按 ATR 追踪止损",
		Schema:      atrTrailingSchema,
		Defaults: Params{
			"breakout_period":         20,
			"atr_period":              14,
			"quantity":                1.0,
			"initial_stop_multiplier": 2.0,
			"trigger_multiplier":      2.0,
			"trail_multiplier":        1.0,
		},
		New: newATRTrailing,
	}
}

func newATRTrailing(p Params) (backtest.Strategy, error) {
	s := &atrTrailing{
		breakout:    p.Int("breakout_period", 20),
		atrPeriod:   p.Int("atr_period", 14),
		qty:         p.Float("quantity", 1),
		initialMult: p.Float("initial_stop_multiplier", 2),
		triggerMult: p.Float("trigger_multiplier", 2),
		trailMult:   p.Float("trail_multiplier", 1),
	}
	if s.triggerMult < minATRTriggerMultiplier || s.triggerMult > maxATRTriggerMultiplier {
		return nil, fmt.Errorf("trigger_multiplier 需位于 [%.1f, %.1f]", minATRTriggerMultiplier, maxATRTriggerMultiplier)
	}
	if s.trailMult < minATRTrailMultiplier {
		return nil, fmt.Errorf("trail_multiplier 需 >= %.1f", minATRTrailMultiplier)
	}
	if s.trailMult >= s.triggerMult {
		return nil, fmt.Errorf("trail_multiplier 需小于 trigger_multiplier")
	}
	return s, nil
}

type atrTrailing struct {
	breakout    int
	atrPeriod   int
	qty         float64
	initialMult float64
	triggerMult float64
	trailMult   float64

	deal  tracked
	// 当前持仓的状态，开仓时重置。
	entry float64
	atr   float64
	stop  float64
	peak  float64
	armed bool
}

func (s *atrTrailing) warmup() int {
	if s.breakout > s.atrPeriod {
		return s.breakout + 1
	}
	return s.atrPeriod + 1
}

func (s *atrTrailing) OnBar(_ context.Context, bc backtest.BarContext) error {
	if len(bc.History) < s.warmup() {
		return nil
	}
	if d, ok := s.deal.open(bc.Trader); ok {
		if d.OpenQuantity() > 0 {
			return s.trail(bc, d)
		}
		return nil
	}
	prev := seriesOf(bc.History[:len(bc.History)-1])
	level := Highest(prev.highs, s.breakout)
	price := bc.Bar.Close
	if level <= 0 || price <= level {
		return nil
	}
	all := seriesOf(bc.History)
	atr := ATR(all.highs, all.lows, all.closes, s.atrPeriod)
	if atr <= 0 {
		return nil
	}
	stop := broker.ExitSpec{}
	s.stop = 0
	if s.initialMult > 0 {
		s.stop = price - atr*s.initialMult
		stop = broker.AtPrice(s.stop)
	}
	res := bc.Trader.BuySLTP(broker.Market(s.qty), stop, broker.ExitSpec{})
	if err := check("atr_trailing entry", res); err != nil {
		return err
	}
	s.deal.remember(res)
	s.entry, s.atr, s.peak, s.armed = price, atr, price, false
	bc.Log.Log(logger.LevelInfo, fmt.Sprintf("atr_trailing 突破 %.4f，入场 %.4f，ATR=%.4f", level, price, atr))
	return nil
}

// trail 在浮盈超过 trigger 倍 ATR 后，把止损上移到 peak - trail 倍 ATR。
func (s *atrTrailing) trail(bc backtest.BarContext, d broker.Deal) error {
	if bc.Bar.High > s.peak {
		s.peak = bc.Bar.High
	}
	if !s.armed && s.peak-s.entry >= s.atr*s.triggerMult {
		s.armed = true
	}
	if !s.armed {
		return nil
	}
	next := s.peak - s.atr*s.trailMult
	if next <= s.stop || next >= bc.Bar.Close {
		return nil
	}
	res := bc.Trader.ModifyDeal(d.ID, broker.EnterSpec{}, broker.AtPrice(next), broker.ExitSpec{})
	if err := check("atr_trailing trail", res); err != nil {
		return err
	}
	bc.Log.Log(logger.LevelDebug, fmt.Sprintf("atr_trailing 止损 %.4f -> %.4f", s.stop, next))
	s.stop = next
	return nil
}
