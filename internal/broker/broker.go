// Package broker 是回测的撮合与仓位（deal）记账引擎。
//
// 一个 Broker 只回放一个交易对的 K 线序列，对应一个模拟账户。所有操作都由
// 内部互斥锁串行化；同一根 K 线上的"同时"成交只由固定顺序与止损优先规则决定。
package broker

import (
	"fmt"
	"math"
	"sync"

	"dealsim/internal/logger"
	"dealsim/internal/market"
	"dealsim/internal/precision"
)

// Config 创建 Broker 所需的参数。
type Config struct {
	Spec           market.SymbolSpec
	InitialBalance float64
	// SlippageSteps 以价格步长计的滑点，市价与止损单买入加、卖出减。
	SlippageSteps float64
	Sink          logger.Sink
}

type Broker struct {
	mu sync.Mutex

	spec     market.SymbolSpec
	slippage float64
	eps      float64
	sink     logger.Sink

	ledger      *ledger
	deals       map[int64]*Deal
	dealSeq     []int64
	nextDealID  int64
	nextTradeID int64
	implicitID  int64
	trades      []Trade

	position Position
	bar      market.Candle
	hasBar   bool
	barIndex int
}

func New(cfg Config) (*Broker, error) {
	if err := cfg.Spec.Validate(); err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}
	if cfg.SlippageSteps < 0 {
		return nil, fmt.Errorf("broker: slippage_steps 不能为负")
	}
	sink := cfg.Sink
	if sink == nil {
		sink = logger.Default()
	}
	return &Broker{
		spec:     cfg.Spec,
		slippage: precision.Dec(cfg.SlippageSteps).Mul(precision.Dec(cfg.Spec.PrecisionPrice)).InexactFloat64(),
		eps:      cfg.Spec.PrecisionAmount / 2,
		sink:     sink,
		ledger:   newLedger(),
		deals:    make(map[int64]*Deal),
		position: Position{Cash: cfg.InitialBalance},
		barIndex: -1,
	}, nil
}

func (b *Broker) Spec() market.SymbolSpec { return b.spec }

// Epsilon 是数量归零判定的容差（数量步长的一半）。
func (b *Broker) Epsilon() float64 { return b.eps }

func (b *Broker) logf(level logger.Level, format string, args ...any) {
	b.sink.Log(level, fmt.Sprintf(format, args...))
}

func (b *Broker) newDeal(side Side, implicit bool) *Deal {
	b.nextDealID++
	d := newDeal(b.nextDealID, dealTypeFor(side), b.barIndex, implicit)
	b.deals[d.ID] = d
	b.dealSeq = append(b.dealSeq, d.ID)
	if implicit {
		b.implicitID = d.ID
	}
	return d
}

func (b *Broker) createOrder(d *Deal, o Order) *Order {
	o.DealID = d.ID
	o.CreatedAtBar = b.barIndex
	o.Generation = d.Generation
	rec := b.ledger.create(o)
	d.Orders = append(d.Orders, rec.ID)
	return rec
}

func (b *Broker) slip(side Side, ref float64) float64 {
	if side == SideBuy {
		return precision.Dec(ref).Add(precision.Dec(b.slippage)).InexactFloat64()
	}
	return precision.Dec(ref).Sub(precision.Dec(b.slippage)).InexactFloat64()
}

// executePrice 返回订单在当前 K 线上的成交价。
func (b *Broker) executePrice(o *Order) float64 {
	switch o.Type {
	case OrderLimit:
		return o.Price
	case OrderStop:
		return b.slip(o.Side, o.TriggerPrice)
	default:
		return b.slip(o.Side, b.bar.Close)
	}
}

// execute 成交一笔订单并触发后续记账：平仓清理或重新分配出场腿。
func (b *Broker) execute(d *Deal, o *Order, price float64, at int64) {
	qty := o.Quantity
	if o.Role != RoleEntry {
		if open := d.OpenQuantity(); qty > open {
			qty = open
		}
		if qty <= b.eps {
			b.ledger.markError(o, "nothing to close")
			b.logf(logger.LevelWarn, "order #%d (%s) deal #%d: nothing to close", o.ID, o.Role, d.ID)
			return
		}
		o.Quantity = qty
	} else if qty <= b.eps {
		b.ledger.markError(o, "zero volume")
		b.logf(logger.LevelWarn, "order #%d deal #%d: zero volume entry", o.ID, d.ID)
		return
	}

	rate := b.spec.FeeTaker
	if o.Type == OrderLimit {
		rate = b.spec.FeeMaker
	}
	sum := precision.Dec(qty).Mul(precision.Dec(price))
	fee := sum.Mul(precision.Dec(rate))

	b.nextTradeID++
	t := Trade{
		ID:       b.nextTradeID,
		OrderID:  o.ID,
		DealID:   d.ID,
		Side:     o.Side,
		Price:    price,
		Quantity: qty,
		Sum:      sum.InexactFloat64(),
		Fee:      fee.InexactFloat64(),
		Bar:      b.barIndex,
		Time:     at,
	}
	b.ledger.markExecuted(o, b.barIndex, price)

	cash := precision.Dec(b.position.Cash)
	pos := precision.Dec(b.position.Quantity)
	if o.Side == SideBuy {
		cash = cash.Sub(sum).Sub(fee)
		pos = pos.Add(precision.Dec(qty))
	} else {
		cash = cash.Add(sum).Sub(fee)
		pos = pos.Sub(precision.Dec(qty))
	}
	b.position.Cash = cash.InexactFloat64()
	b.position.Quantity = pos.InexactFloat64()
	if math.Abs(b.position.Quantity) <= b.eps {
		b.position.Quantity = 0
	}

	b.trades = append(b.trades, t)
	closed := d.applyTrade(t, b.eps)
	b.logf(logger.LevelInfo, "deal #%d %s order #%d %s %s %.8g @ %.8g fee %.8g",
		d.ID, o.Role, o.ID, o.Type, o.Side, qty, price, t.Fee)
	if closed {
		b.onDealClosed(d)
		return
	}
	b.reallocate(d)
}

// onDealClosed 撤掉该 deal 剩余的挂单，使 EnterVolume 回落到实际成交的入场量。
func (b *Broker) onDealClosed(d *Deal) {
	for _, o := range b.ledger.ordersForDeal(d.ID) {
		if o.IsActive() {
			b.ledger.cancel(o.ID)
		}
	}
	b.refreshEnterVolume(d)
	if b.implicitID == d.ID {
		b.implicitID = 0
	}
	profit := 0.0
	if d.Profit != nil {
		profit = *d.Profit
	}
	b.logf(logger.LevelInfo, "deal #%d closed, profit %.8g", d.ID, profit)
}

// ForceCloseAll 以最后一根 K 线收盘价市价平掉所有未平 deal，返回产生的成交。
func (b *Broker) ForceCloseAll() ([]Trade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasBar {
		return nil, ErrNoMarketPrice
	}
	var out []Trade
	for _, id := range b.dealSeq {
		d := b.deals[id]
		if d.IsClosed {
			continue
		}
		for _, o := range b.ledger.ordersForDeal(d.ID) {
			if o.IsActive() {
				b.ledger.cancel(o.ID)
			}
		}
		if d.OpenQuantity() <= b.eps {
			b.refreshEnterVolume(d)
			continue
		}
		o := b.createOrder(d, Order{
			Side:     d.Type.ExitSide(),
			Type:     OrderMarket,
			Quantity: d.OpenQuantity(),
			Role:     RoleClose,
		})
		before := len(b.trades)
		b.execute(d, o, b.executePrice(o), b.bar.CloseTime)
		out = append(out, b.trades[before:]...)
		b.logf(logger.LevelInfo, "deal #%d force closed at %.8g", d.ID, o.ExecutedPrice)
	}
	return out, nil
}

// Position 返回当前带符号持仓与现金。
func (b *Broker) Position() Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position
}

// Equity 返回按当前收盘价计算的权益。
func (b *Broker) Equity() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return precision.Dec(b.position.Cash).
		Add(precision.Dec(b.position.Quantity).Mul(precision.Dec(b.bar.Close))).
		InexactFloat64()
}

// CurrentBar 返回当前 K 线及其序号。
func (b *Broker) CurrentBar() (market.Candle, int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bar, b.barIndex, b.hasBar
}

func (b *Broker) Deal(id int64) (Deal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.deals[id]
	if !ok {
		return Deal{}, false
	}
	return d.clone(), true
}

// Deals 按创建顺序返回所有 deal 的副本。
func (b *Broker) Deals() []Deal {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Deal, 0, len(b.dealSeq))
	for _, id := range b.dealSeq {
		out = append(out, b.deals[id].clone())
	}
	return out
}

// OpenDeals 返回未平仓 deal 的副本。
func (b *Broker) OpenDeals() []Deal {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Deal
	for _, id := range b.dealSeq {
		if d := b.deals[id]; !d.IsClosed {
			out = append(out, d.clone())
		}
	}
	return out
}

func (b *Broker) Order(id int64) (Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.ledger.get(id)
	if !ok {
		return Order{}, false
	}
	return *o, true
}

func (b *Broker) Orders() []Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	all := b.ledger.all()
	out := make([]Order, 0, len(all))
	for _, o := range all {
		out = append(out, *o)
	}
	return out
}

func (b *Broker) Trades() []Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Trade(nil), b.trades...)
}
