package broker

import (
	"fmt"

	"dealsim/internal/market"
)

// ProcessBar 推进一根 K 线：先撮合入场，再按止损优先规则撮合出场。
func (b *Broker) ProcessBar(c market.Candle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hasBar && c.OpenTime <= b.bar.OpenTime {
		return fmt.Errorf("%w: %d after %d", ErrBarOrder, c.OpenTime, b.bar.OpenTime)
	}
	b.bar = c
	b.hasBar = true
	b.barIndex++

	open := b.openDeals()
	for _, d := range open {
		b.evaluateEntries(d)
	}
	for _, d := range open {
		b.evaluateExits(d)
	}
	return nil
}

func (b *Broker) openDeals() []*Deal {
	out := make([]*Deal, 0, len(b.dealSeq))
	for _, id := range b.dealSeq {
		if d := b.deals[id]; !d.IsClosed {
			out = append(out, d)
		}
	}
	return out
}

// hit 判断挂单在当前 K 线的 OHLC 范围内是否被触发。
func (b *Broker) hit(o *Order) bool {
	switch o.Type {
	case OrderLimit:
		if o.Side == SideBuy {
			return b.bar.Low <= o.Price
		}
		return b.bar.High >= o.Price
	case OrderStop:
		if o.Side == SideBuy {
			return b.bar.High >= o.TriggerPrice
		}
		return b.bar.Low <= o.TriggerPrice
	}
	return false
}

func (b *Broker) evaluateEntries(d *Deal) {
	for _, o := range b.ledger.ordersForDeal(d.ID) {
		if d.IsClosed {
			return
		}
		if o.Role != RoleEntry || !o.IsActive() || !b.hit(o) {
			continue
		}
		b.execute(d, o, b.executePrice(o), b.bar.OpenTime)
	}
}

// evaluateExits 同一根 K 线上止损与止盈都命中时只执行止损，止盈保持挂单留待之后的 K 线。
func (b *Broker) evaluateExits(d *Deal) {
	stopped := false
	for {
		if d.IsClosed || d.OpenQuantity() <= b.eps {
			return
		}
		var stops, takes []*Order
		for _, o := range b.ledger.ordersForDeal(d.ID) {
			if !o.IsActive() || !b.hit(o) {
				continue
			}
			switch {
			case o.isStopLike():
				stops = append(stops, o)
			case o.isTakeLike():
				takes = append(takes, o)
			}
		}
		batch := stops
		if len(batch) == 0 {
			if stopped {
				return
			}
			batch = takes
		} else {
			stopped = true
		}
		if !b.runBatch(d, batch) {
			return
		}
	}
}

// runBatch 依次执行命中的订单，每次执行前重新确认仍为挂单且仍命中。
func (b *Broker) runBatch(d *Deal, batch []*Order) bool {
	progressed := false
	for _, o := range batch {
		if d.IsClosed {
			return progressed
		}
		if !o.IsActive() || !b.hit(o) {
			continue
		}
		b.execute(d, o, b.executePrice(o), b.bar.OpenTime)
		progressed = true
	}
	return progressed
}
