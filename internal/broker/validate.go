package broker

import (
	"math"
	"sort"

	"dealsim/internal/logger"
	"dealsim/internal/precision"
)

// fractionTolerance 是比例之和与 1 比较时的容差。
const fractionTolerance = 1e-6

type plannedEntry struct {
	typ   OrderType
	qty   float64
	price float64
}

type plannedExit struct {
	fraction float64
	price    float64
}

type orderPlan struct {
	entries  []plannedEntry
	stops    []plannedExit
	takes    []plannedExit
	closeQty float64
}

func (p orderPlan) hasExits() bool { return len(p.stops) > 0 || len(p.takes) > 0 }

// planOrders 量化并校验全部参数，失败时不产生任何副作用。
// 校验顺序：比例 -> 入场价位与保护 -> 止损止盈方向。
func (b *Broker) planOrders(op string, typ DealType, enter EnterSpec, stopLoss, takeProfit ExitSpec, allowClose bool) (orderPlan, error) {
	var plan orderPlan
	if !b.hasBar {
		return plan, invalid(op, ErrNoMarketPrice, "no bar processed yet")
	}
	current := b.bar.Close
	q := precision.NewQuantizer(b.spec.PrecisionAmount, b.spec.PrecisionPrice)
	defer b.warnAdjusted(op, q)

	var err error
	if plan.stops, err = b.normalizeExit(op, "stop_loss", stopLoss, q); err != nil {
		return plan, err
	}
	if plan.takes, err = b.normalizeExit(op, "take_profit", takeProfit, q); err != nil {
		return plan, err
	}
	if plan.entries, plan.closeQty, err = b.normalizeEnter(op, enter, q); err != nil {
		return plan, err
	}
	if plan.closeQty > 0 && !allowClose {
		return plan, invalid(op, ErrQuantity, "enter quantity must be positive")
	}
	if err = checkEntries(op, typ, plan.entries, plan.stops, current); err != nil {
		return plan, err
	}
	if err = checkExits(op, typ, plan.stops, plan.takes, current); err != nil {
		return plan, err
	}
	sortLegs(typ, plan.stops, plan.takes)
	return plan, nil
}

func (b *Broker) normalizeEnter(op string, e EnterSpec, q *precision.Quantizer) ([]plannedEntry, float64, error) {
	switch e.Kind() {
	case EnterNone:
		return nil, 0, nil
	case EnterMarket:
		raw := e.Quantity()
		qty := q.Quantity("enter", math.Abs(raw))
		if math.IsNaN(raw) || qty <= b.eps {
			return nil, 0, invalid(op, ErrQuantity, "enter quantity %v rounds to zero", raw)
		}
		if raw < 0 {
			return nil, qty, nil
		}
		return []plannedEntry{{typ: OrderMarket, qty: qty}}, 0, nil
	}
	legs := e.Legs()
	if len(legs) == 0 {
		return nil, 0, invalid(op, ErrQuantity, "no entry legs")
	}
	out := make([]plannedEntry, 0, len(legs))
	for i, l := range legs {
		if l.Quantity <= 0 {
			return nil, 0, invalid(op, ErrQuantity, "entry %d: quantity must be positive", i)
		}
		qty := q.Quantity("enter.quantity", l.Quantity)
		if qty <= b.eps {
			return nil, 0, invalid(op, ErrQuantity, "entry %d: quantity %v rounds to zero", i, l.Quantity)
		}
		if l.Price <= 0 {
			return nil, 0, invalid(op, ErrPrice, "entry %d: price must be positive", i)
		}
		out = append(out, plannedEntry{typ: OrderLimit, qty: qty, price: q.Price("enter.price", l.Price)})
	}
	return out, 0, nil
}

func (b *Broker) normalizeExit(op, field string, x ExitSpec, q *precision.Quantizer) ([]plannedExit, error) {
	if x.IsZero() {
		return nil, nil
	}
	legs := x.Legs()
	if len(legs) == 0 {
		return nil, invalid(op, ErrFractionSum, "%s: empty leg list", field)
	}
	sum := 0.0
	out := make([]plannedExit, 0, len(legs))
	for i, l := range legs {
		if !(l.Fraction > 0 && l.Fraction <= 1+fractionTolerance) {
			return nil, invalid(op, ErrFraction, "%s[%d]: fraction %v not in (0, 1]", field, i, l.Fraction)
		}
		sum += l.Fraction
	}
	if math.Abs(sum-1) > fractionTolerance {
		return nil, invalid(op, ErrFractionSum, "%s: fractions sum to %v, want 1", field, sum)
	}
	for i, l := range legs {
		if l.Price <= 0 {
			return nil, invalid(op, ErrPrice, "%s[%d]: price must be positive", field, i)
		}
		out = append(out, plannedExit{fraction: l.Fraction, price: q.Price(field, l.Price)})
	}
	return out, nil
}

// checkEntries 限价入场必须严格位于当前价的正确一侧，并严格位于最近止损的受保护一侧。
func checkEntries(op string, typ DealType, entries []plannedEntry, stops []plannedExit, current float64) error {
	for _, e := range entries {
		if e.typ != OrderLimit {
			continue
		}
		if typ == DealLong {
			if e.price >= current {
				return invalid(op, ErrDirection, "buy limit %v must be below current price %v", e.price, current)
			}
			if len(stops) > 0 {
				if guard := minPrice(stops); e.price <= guard {
					return invalid(op, ErrUnprotectedEntry, "buy limit %v must be above stop %v", e.price, guard)
				}
			}
			continue
		}
		if e.price <= current {
			return invalid(op, ErrDirection, "sell limit %v must be above current price %v", e.price, current)
		}
		if len(stops) > 0 {
			if guard := maxPrice(stops); e.price >= guard {
				return invalid(op, ErrUnprotectedEntry, "sell limit %v must be below stop %v", e.price, guard)
			}
		}
	}
	return nil
}

func checkExits(op string, typ DealType, stops, takes []plannedExit, current float64) error {
	for _, s := range stops {
		if typ == DealLong && s.price >= current {
			return invalid(op, ErrDirection, "long stop %v must be below current price %v", s.price, current)
		}
		if typ == DealShort && s.price <= current {
			return invalid(op, ErrDirection, "short stop %v must be above current price %v", s.price, current)
		}
	}
	for _, t := range takes {
		if typ == DealLong && t.price <= current {
			return invalid(op, ErrDirection, "long take %v must be above current price %v", t.price, current)
		}
		if typ == DealShort && t.price >= current {
			return invalid(op, ErrDirection, "short take %v must be below current price %v", t.price, current)
		}
	}
	return nil
}

// sortLegs 按离当前价由近到远排序，最后一条是最极端的腿。
func sortLegs(typ DealType, stops, takes []plannedExit) {
	if typ == DealLong {
		sort.SliceStable(stops, func(i, j int) bool { return stops[i].price > stops[j].price })
		sort.SliceStable(takes, func(i, j int) bool { return takes[i].price < takes[j].price })
		return
	}
	sort.SliceStable(stops, func(i, j int) bool { return stops[i].price < stops[j].price })
	sort.SliceStable(takes, func(i, j int) bool { return takes[i].price > takes[j].price })
}

func minPrice(legs []plannedExit) float64 {
	out := legs[0].price
	for _, l := range legs[1:] {
		out = math.Min(out, l.price)
	}
	return out
}

func maxPrice(legs []plannedExit) float64 {
	out := legs[0].price
	for _, l := range legs[1:] {
		out = math.Max(out, l.price)
	}
	return out
}

func (b *Broker) warnAdjusted(op string, q *precision.Quantizer) {
	for _, a := range q.Adjustments() {
		b.logf(logger.LevelWarn, "%s: %s %.10g adjusted to %.10g by precision", op, a.Field, a.Original, a.Value)
	}
}
