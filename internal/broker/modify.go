package broker

import "dealsim/internal/logger"

// ModifyDeal 原子地替换 deal 的挂单：撤掉全部 active 订单，可选地加仓或按市价减仓，
// 再以新的 EnterVolume 挂新的止损/止盈。任何校验失败都不会撤单或下单。
//
// enter 为正时按 BuySLTP 的规则下新入场单；Market(负数) 表示市价减仓 |enter|；零值表示不动入场。
func (b *Broker) ModifyDeal(dealID int64, enter EnterSpec, stopLoss, takeProfit ExitSpec) OrderOperationResult {
	const op = "modify_deal"
	b.mu.Lock()
	defer b.mu.Unlock()
	rb := newResult()
	reject := func(d *Deal, err error) OrderOperationResult {
		rb.fail(err)
		b.logf(logger.LevelWarn, "%v", err)
		return rb.build(d)
	}

	d, ok := b.deals[dealID]
	if !ok {
		return reject(nil, invalid(op, ErrUnknownDeal, "deal %d not found", dealID))
	}
	if d.IsClosed {
		return reject(d, invalid(op, ErrDealClosed, "deal %d is closed", dealID))
	}
	open := d.OpenQuantity()
	if open <= b.eps {
		return reject(d, invalid(op, ErrNoPosition, "deal %d has no open quantity", dealID))
	}
	plan, err := b.planOrders(op, d.Type, enter, stopLoss, takeProfit, true)
	if err != nil {
		return reject(d, err)
	}
	if plan.closeQty > 0 {
		if plan.closeQty > open+b.eps {
			return reject(d, invalid(op, ErrOversizeClose, "close %v exceeds open quantity %v", plan.closeQty, open))
		}
		if open-plan.closeQty <= b.eps && plan.hasExits() {
			return reject(d, invalid(op, ErrNoPosition, "closing the whole position leaves nothing for new exits"))
		}
	}

	for _, o := range b.ledger.ordersForDeal(d.ID) {
		if o.IsActive() {
			b.ledger.cancel(o.ID)
			rb.add(o)
		}
	}
	if plan.closeQty > 0 {
		o := b.createOrder(d, Order{
			Side:     d.Type.ExitSide(),
			Type:     OrderMarket,
			Quantity: plan.closeQty,
			Role:     RoleClose,
		})
		rb.add(o)
		b.execute(d, o, b.executePrice(o), b.bar.CloseTime)
		if d.IsClosed {
			return rb.build(d)
		}
	}

	d.Generation++
	d.enterBase = d.OpenQuantity()
	b.placePlan(d, plan, rb)
	b.logf(logger.LevelInfo, "deal #%d modified, generation %d, enter volume %.8g", d.ID, d.Generation, d.EnterVolume)
	return rb.build(d)
}
