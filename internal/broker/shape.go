package broker

// EnterKind 区分入场的三种形态。
type EnterKind int

const (
	EnterNone EnterKind = iota
	EnterMarket
	EnterLimit
	EnterMultiLimit
)

// LimitLeg 是一笔限价入场。
type LimitLeg struct {
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

// EnterSpec 入场参数：市价数量、单笔限价或多笔限价。零值表示不入场。
type EnterSpec struct {
	kind     EnterKind
	quantity float64
	legs     []LimitLeg
}

// Market 市价入场；ModifyDeal 中负数表示按市价减仓。
func Market(qty float64) EnterSpec { return EnterSpec{kind: EnterMarket, quantity: qty} }

func Limit(qty, price float64) EnterSpec {
	return EnterSpec{kind: EnterLimit, legs: []LimitLeg{{Quantity: qty, Price: price}}}
}

func MultiLimit(legs ...LimitLeg) EnterSpec {
	return EnterSpec{kind: EnterMultiLimit, legs: append([]LimitLeg(nil), legs...)}
}

func (e EnterSpec) Kind() EnterKind { return e.kind }

func (e EnterSpec) IsZero() bool { return e.kind == EnterNone }

// Quantity 返回市价数量；限价形态返回 0。
func (e EnterSpec) Quantity() float64 { return e.quantity }

// Legs 返回限价腿的副本。
func (e EnterSpec) Legs() []LimitLeg { return append([]LimitLeg(nil), e.legs...) }

// Total 返回全部入场数量之和。
func (e EnterSpec) Total() float64 {
	if e.kind == EnterMarket {
		return e.quantity
	}
	var sum float64
	for _, l := range e.legs {
		sum += l.Quantity
	}
	return sum
}

// ExitKind 区分止损/止盈的三种形态。
type ExitKind int

const (
	ExitNone ExitKind = iota
	ExitPrice
	ExitPrices
	ExitWeighted
)

// ExitLeg 是止损或止盈组里的一条腿。
type ExitLeg struct {
	Fraction float64 `json:"fraction"`
	Price    float64 `json:"price"`
}

// ExitSpec 止损/止盈参数。零值表示不设置。
type ExitSpec struct {
	kind ExitKind
	legs []ExitLeg
}

func AtPrice(price float64) ExitSpec {
	return ExitSpec{kind: ExitPrice, legs: []ExitLeg{{Fraction: 1, Price: price}}}
}

// AtPrices 多个价格平均分配。
func AtPrices(prices ...float64) ExitSpec {
	legs := make([]ExitLeg, 0, len(prices))
	if n := len(prices); n > 0 {
		for _, p := range prices {
			legs = append(legs, ExitLeg{Fraction: 1 / float64(n), Price: p})
		}
	}
	return ExitSpec{kind: ExitPrices, legs: legs}
}

func Weighted(legs ...ExitLeg) ExitSpec {
	return ExitSpec{kind: ExitWeighted, legs: append([]ExitLeg(nil), legs...)}
}

func (x ExitSpec) Kind() ExitKind { return x.kind }

func (x ExitSpec) IsZero() bool { return x.kind == ExitNone }

func (x ExitSpec) Legs() []ExitLeg { return append([]ExitLeg(nil), x.legs...) }
