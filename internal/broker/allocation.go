package broker

import (
	"github.com/shopspring/decimal"

	"dealsim/internal/precision"
)

// allocateLegs 按重新归一化后的原始比例把 remainder 分给仍在挂单的腿。
// 除最后一条外都向下取整到数量步长，最后一条拿剩余，保证总和恰好等于 remainder。
func allocateLegs(fractions []float64, remainder decimal.Decimal, step float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(fractions))
	for i := range out {
		out[i] = decimal.Zero
	}
	if len(fractions) == 0 || !remainder.IsPositive() {
		return out
	}
	total := decimal.Zero
	for _, f := range fractions {
		total = total.Add(precision.Dec(f))
	}
	if !total.IsPositive() {
		out[len(out)-1] = remainder
		return out
	}
	allocated := decimal.Zero
	last := len(fractions) - 1
	for i := 0; i < last; i++ {
		w := precision.Dec(fractions[i]).Div(total)
		q := precision.FloorDec(remainder.Mul(w), step)
		if allocated.Add(q).GreaterThan(remainder) {
			q = remainder.Sub(allocated)
		}
		out[i] = q
		allocated = allocated.Add(q)
	}
	out[last] = remainder.Sub(allocated)
	return out
}

type exitBook struct {
	stops        []*Order
	takes        []*Order
	executedStop decimal.Decimal
	executedTake decimal.Decimal
	executedOut  decimal.Decimal
}

// collectExits 只看当前一代的出场腿与平仓单。
func (b *Broker) collectExits(d *Deal) exitBook {
	book := exitBook{executedStop: decimal.Zero, executedTake: decimal.Zero, executedOut: decimal.Zero}
	for _, o := range b.ledger.ordersForDeal(d.ID) {
		if o.Generation != d.Generation {
			continue
		}
		switch o.Role {
		case RoleStopExit:
			if o.IsActive() {
				book.stops = append(book.stops, o)
			} else if o.Status == StatusExecuted {
				book.executedStop = book.executedStop.Add(precision.Dec(o.Quantity))
			}
		case RoleTakeExit:
			if o.IsActive() {
				book.takes = append(book.takes, o)
			} else if o.Status == StatusExecuted {
				book.executedTake = book.executedTake.Add(precision.Dec(o.Quantity))
			}
		case RoleClose:
			if o.Status == StatusExecuted {
				book.executedOut = book.executedOut.Add(precision.Dec(o.Quantity))
			}
		}
	}
	return book
}

// reallocate 是成交后的同步钩子：重新计算当前一代所有挂单腿的数量。
func (b *Broker) reallocate(d *Deal) {
	if d.IsClosed {
		return
	}
	book := b.collectExits(d)
	ev := precision.Dec(d.EnterVolume)
	stopTarget := ev.Sub(book.executedTake).Sub(book.executedOut)
	takeTarget := ev.Sub(book.executedStop).Sub(book.executedOut)
	b.assign(book.stops, stopTarget.Sub(book.executedStop))
	b.assign(book.takes, takeTarget.Sub(book.executedTake))
}

func (b *Broker) assign(legs []*Order, remainder decimal.Decimal) {
	if len(legs) == 0 {
		return
	}
	if remainder.IsNegative() {
		remainder = decimal.Zero
	}
	fractions := make([]float64, len(legs))
	for i, o := range legs {
		fractions[i] = o.Fraction
	}
	for i, q := range allocateLegs(fractions, remainder, b.spec.PrecisionAmount) {
		legs[i].Quantity = q.InexactFloat64()
	}
}

// refreshEnterVolume: enterBase 加上当前一代仍挂单或已成交的入场数量。
func (b *Broker) refreshEnterVolume(d *Deal) {
	sum := precision.Dec(d.enterBase)
	for _, o := range b.ledger.ordersForDeal(d.ID) {
		if o.Role != RoleEntry || o.Generation != d.Generation {
			continue
		}
		if o.IsActive() || o.Status == StatusExecuted {
			sum = sum.Add(precision.Dec(o.Quantity))
		}
	}
	d.EnterVolume = sum.InexactFloat64()
}
