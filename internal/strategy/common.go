package strategy

import (
	"fmt"
	"strings"

	"dealsim/internal/backtest"
	"dealsim/internal/broker"
	"dealsim/internal/logger"
)

// tracked 记住策略自己开的 deal。
type tracked struct {
	dealID int64
}

// open 返回仍未平仓的 deal；deal 已平仓时清空记录。
func (t *tracked) open(tr backtest.Trader) (broker.Deal, bool) {
	if t.dealID == 0 {
		return broker.Deal{}, false
	}
	d, ok := tr.Deal(t.dealID)
	if !ok || d.IsClosed {
		t.dealID = 0
		return broker.Deal{}, false
	}
	return d, true
}

func (t *tracked) remember(res broker.OrderOperationResult) {
	if res.OK() && res.DealID != 0 {
		t.dealID = res.DealID
	}
}

func (t *tracked) forget() { t.dealID = 0 }

// check 把失败结果转成 error，成功时返回 nil。
func check(op string, res broker.OrderOperationResult) error {
	if res.OK() {
		return nil
	}
	return fmt.Errorf("%s: %s", op, strings.Join(res.ErrorMessages, "; "))
}

// closeDeal 市价平掉 deal 的全部持仓。
func closeDeal(bc backtest.BarContext, d broker.Deal) error {
	res := bc.Trader.ModifyDeal(d.ID, broker.Market(-d.OpenQuantity()), broker.ExitSpec{}, broker.ExitSpec{})
	if err := check("close", res); err != nil {
		return err
	}
	bc.Log.Log(logger.LevelInfo, fmt.Sprintf("strategy closed deal #%d at bar %d", d.ID, bc.Index))
	return nil
}

// tierExits 把分批止盈档位换算成 Weighted 出场；dir 为 1（多）或 -1（空）。
func tierExits(ref float64, dir float64, tiers []Tier) broker.ExitSpec {
	if len(tiers) == 0 {
		return broker.ExitSpec{}
	}
	legs := make([]broker.ExitLeg, 0, len(tiers))
	for _, t := range tiers {
		legs = append(legs, broker.ExitLeg{Fraction: t.Ratio, Price: ref * (1 + dir*t.Pct)})
	}
	return broker.Weighted(legs...)
}
