package broker

import "fmt"

type cancelOutcome int

const (
	cancelDone cancelOutcome = iota
	cancelAlreadyFinal
	cancelNotFound
)

// ledger 只负责订单记录与状态流转，不含业务规则。
type ledger struct {
	nextID int64
	orders map[int64]*Order
	seq    []int64
	byDeal map[int64][]int64
}

func newLedger() *ledger {
	return &ledger{
		orders: make(map[int64]*Order),
		byDeal: make(map[int64][]int64),
	}
}

func (l *ledger) create(o Order) *Order {
	l.nextID++
	o.ID = l.nextID
	if _, dup := l.orders[o.ID]; dup {
		panic(fmt.Sprintf("broker: duplicate order id %d", o.ID))
	}
	o.Status = StatusActive
	o.ExecutedAtBar = -1
	rec := &o
	l.orders[o.ID] = rec
	l.seq = append(l.seq, o.ID)
	l.byDeal[o.DealID] = append(l.byDeal[o.DealID], o.ID)
	return rec
}

func (l *ledger) get(id int64) (*Order, bool) {
	o, ok := l.orders[id]
	return o, ok
}

// ordersForDeal 按创建顺序返回。
func (l *ledger) ordersForDeal(dealID int64) []*Order {
	ids := l.byDeal[dealID]
	out := make([]*Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.mustGet(id))
	}
	return out
}

func (l *ledger) all() []*Order {
	out := make([]*Order, 0, len(l.seq))
	for _, id := range l.seq {
		out = append(out, l.mustGet(id))
	}
	return out
}

func (l *ledger) mustGet(id int64) *Order {
	o, ok := l.orders[id]
	if !ok {
		panic(fmt.Sprintf("broker: ledger index references missing order %d", id))
	}
	return o
}

func (l *ledger) cancel(id int64) (*Order, cancelOutcome) {
	o, ok := l.orders[id]
	if !ok {
		return nil, cancelNotFound
	}
	if !o.IsActive() {
		return o, cancelAlreadyFinal
	}
	o.Status = StatusCanceled
	return o, cancelDone
}

func (l *ledger) markExecuted(o *Order, bar int, price float64) {
	l.ensureActive(o)
	o.Status = StatusExecuted
	o.ExecutedAtBar = bar
	o.ExecutedPrice = price
}

func (l *ledger) markError(o *Order, msg string) {
	l.ensureActive(o)
	o.Status = StatusError
	o.Message = msg
}

func (l *ledger) ensureActive(o *Order) {
	if !o.IsActive() {
		panic(fmt.Sprintf("broker: order %d transition from final status %s", o.ID, o.Status))
	}
}
