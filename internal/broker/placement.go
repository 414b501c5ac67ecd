package broker

import (
	"github.com/shopspring/decimal"

	"dealsim/internal/logger"
	"dealsim/internal/precision"
)

// OrderParams 是 Buy/Sell 的参数。Price 与 TriggerPrice 均为 0 时为市价单。
// DealID 为 0 时加入当前隐式 deal，没有则新建。
type OrderParams struct {
	Quantity     float64 `json:"quantity"`
	Price        float64 `json:"price,omitempty"`
	TriggerPrice float64 `json:"trigger_price,omitempty"`
	DealID       int64   `json:"deal_id,omitempty"`
}

func (b *Broker) Buy(p OrderParams) OrderOperationResult { return b.place("buy", SideBuy, p) }

func (b *Broker) Sell(p OrderParams) OrderOperationResult { return b.place("sell", SideSell, p) }

func (b *Broker) place(op string, side Side, p OrderParams) OrderOperationResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	rb := newResult()
	reject := func(d *Deal, err error) OrderOperationResult {
		rb.fail(err)
		b.logf(logger.LevelWarn, "%v", err)
		return rb.build(d)
	}
	if !b.hasBar {
		return reject(nil, invalid(op, ErrNoMarketPrice, "no bar processed yet"))
	}

	q := precision.NewQuantizer(b.spec.PrecisionAmount, b.spec.PrecisionPrice)
	qty := q.Quantity("quantity", p.Quantity)
	price := q.Price("price", p.Price)
	trigger := q.Price("trigger_price", p.TriggerPrice)
	b.warnAdjusted(op, q)
	switch {
	case p.Quantity <= 0 || qty <= b.eps:
		return reject(nil, invalid(op, ErrQuantity, "quantity %v rounds to zero", p.Quantity))
	case p.Price < 0 || p.TriggerPrice < 0:
		return reject(nil, invalid(op, ErrPrice, "prices must not be negative"))
	case price > 0 && trigger > 0:
		return reject(nil, invalid(op, ErrPrice, "price and trigger_price are mutually exclusive"))
	}

	var d *Deal
	if p.DealID != 0 {
		var ok bool
		if d, ok = b.deals[p.DealID]; !ok {
			return reject(nil, invalid(op, ErrUnknownDeal, "deal %d not found", p.DealID))
		}
		if d.IsClosed {
			return reject(d, invalid(op, ErrDealClosed, "deal %d is closed", p.DealID))
		}
	} else {
		d = b.liveImplicitDeal()
	}

	role := RoleEntry
	if d != nil && side != d.Type.EntrySide() {
		role = RoleClose
		avail := precision.Dec(d.OpenQuantity()).Sub(b.pendingCloses(d)).InexactFloat64()
		if qty > avail+b.eps {
			return reject(d, invalid(op, ErrOversizeClose, "close %v exceeds available %v on deal %d", qty, avail, d.ID))
		}
	}
	if d == nil {
		d = b.newDeal(side, true)
	}

	typ := OrderMarket
	switch {
	case price > 0:
		typ = OrderLimit
	case trigger > 0:
		typ = OrderStop
	}
	o := b.createOrder(d, Order{
		Side:         side,
		Type:         typ,
		Quantity:     qty,
		Price:        price,
		TriggerPrice: trigger,
		Role:         role,
	})
	rb.add(o)
	if role == RoleEntry {
		b.refreshEnterVolume(d)
	}
	if typ == OrderMarket {
		b.execute(d, o, b.executePrice(o), b.bar.CloseTime)
	}
	if !d.IsClosed {
		b.refreshEnterVolume(d)
		b.reallocate(d)
	}
	return rb.build(d)
}

// liveImplicitDeal 返回仍有持仓或挂单的隐式 deal。
func (b *Broker) liveImplicitDeal() *Deal {
	if b.implicitID == 0 {
		return nil
	}
	d := b.deals[b.implicitID]
	if d.IsClosed {
		b.implicitID = 0
		return nil
	}
	if d.OpenQuantity() > b.eps {
		return d
	}
	for _, o := range b.ledger.ordersForDeal(d.ID) {
		if o.IsActive() {
			return d
		}
	}
	b.implicitID = 0
	return nil
}

func (b *Broker) pendingCloses(d *Deal) decimal.Decimal {
	sum := decimal.Zero
	for _, o := range b.ledger.ordersForDeal(d.ID) {
		if o.Role == RoleClose && o.IsActive() && o.Generation == d.Generation {
			sum = sum.Add(precision.Dec(o.Quantity))
		}
	}
	return sum
}

// BuySLTP 开多：入场 + 可选的止损/止盈组。
func (b *Broker) BuySLTP(enter EnterSpec, stopLoss, takeProfit ExitSpec) OrderOperationResult {
	return b.placeSLTP("buy_sltp", SideBuy, enter, stopLoss, takeProfit)
}

// SellSLTP 开空：入场 + 可选的止损/止盈组。
func (b *Broker) SellSLTP(enter EnterSpec, stopLoss, takeProfit ExitSpec) OrderOperationResult {
	return b.placeSLTP("sell_sltp", SideSell, enter, stopLoss, takeProfit)
}

func (b *Broker) placeSLTP(op string, side Side, enter EnterSpec, stopLoss, takeProfit ExitSpec) OrderOperationResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	rb := newResult()
	if enter.IsZero() {
		err := invalid(op, ErrQuantity, "enter is required")
		rb.fail(err)
		b.logf(logger.LevelWarn, "%v", err)
		return rb.build(nil)
	}
	plan, err := b.planOrders(op, dealTypeFor(side), enter, stopLoss, takeProfit, false)
	if err != nil {
		rb.fail(err)
		b.logf(logger.LevelWarn, "%v", err)
		return rb.build(nil)
	}
	d := b.newDeal(side, false)
	b.placePlan(d, plan, rb)
	return rb.build(d)
}

// placePlan 在当前一代下挂入场单与出场腿，再立即执行市价入场。
func (b *Broker) placePlan(d *Deal, plan orderPlan, rb *resultBuilder) {
	var market []*Order
	for _, e := range plan.entries {
		o := b.createOrder(d, Order{
			Side:     d.Type.EntrySide(),
			Type:     e.typ,
			Quantity: e.qty,
			Price:    e.price,
			Role:     RoleEntry,
		})
		rb.add(o)
		if e.typ == OrderMarket {
			market = append(market, o)
		}
	}
	for _, s := range plan.stops {
		rb.add(b.createOrder(d, Order{
			Side:         d.Type.ExitSide(),
			Type:         OrderStop,
			TriggerPrice: s.price,
			Role:         RoleStopExit,
			Fraction:     s.fraction,
		}))
	}
	for _, t := range plan.takes {
		rb.add(b.createOrder(d, Order{
			Side:     d.Type.ExitSide(),
			Type:     OrderLimit,
			Price:    t.price,
			Role:     RoleTakeExit,
			Fraction: t.fraction,
		}))
	}
	b.refreshEnterVolume(d)
	b.reallocate(d)
	for _, o := range market {
		if d.IsClosed {
			break
		}
		b.execute(d, o, b.executePrice(o), b.bar.CloseTime)
	}
}

// CancelOrders 撤单。已终结的订单按原状态返回且不报错，未知 id 记入 Error。
func (b *Broker) CancelOrders(ids ...int64) OrderOperationResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	rb := newResult()
	var touched []*Deal
	seen := make(map[int64]bool)
	var only *Deal
	mixed := false
	for _, id := range ids {
		o, outcome := b.ledger.cancel(id)
		if outcome == cancelNotFound {
			rb.unknownOrder("cancel_orders", id)
			continue
		}
		rb.add(o)
		d := b.deals[o.DealID]
		if only == nil {
			only = d
		} else if only != d {
			mixed = true
		}
		if outcome == cancelDone && !seen[d.ID] {
			seen[d.ID] = true
			touched = append(touched, d)
		}
	}
	for _, d := range touched {
		if d.IsClosed {
			continue
		}
		b.refreshEnterVolume(d)
		b.reallocate(d)
	}
	if mixed {
		only = nil
	}
	return rb.build(only)
}

// DealOrders 返回 deal 的全部订单（按创建顺序）。
func (b *Broker) DealOrders(dealID int64) OrderOperationResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	rb := newResult()
	d, ok := b.deals[dealID]
	if !ok {
		rb.fail(invalid("deal_orders", ErrUnknownDeal, "deal %d not found", dealID))
		return rb.build(nil)
	}
	for _, o := range b.ledger.ordersForDeal(dealID) {
		rb.add(o)
	}
	return rb.build(d)
}
