package broker

// Side 订单方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType 订单类型。
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
	OrderStop   OrderType = "stop"
)

// OrderStatus 订单状态；离开 active 后不可再变。
type OrderStatus string

const (
	StatusActive   OrderStatus = "active"
	StatusExecuted OrderStatus = "executed"
	StatusCanceled OrderStatus = "canceled"
	StatusError    OrderStatus = "error"
)

// Role 标记订单在 deal 中的用途，仅供分配计算使用。
type Role string

const (
	RoleEntry    Role = "entry"
	RoleStopExit Role = "stop_exit"
	RoleTakeExit Role = "take_exit"
	RoleClose    Role = "close"
)

// DealType 由首个入场方向决定，之后不再改变。
type DealType string

const (
	DealLong  DealType = "long"
	DealShort DealType = "short"
)

func dealTypeFor(side Side) DealType {
	if side == SideSell {
		return DealShort
	}
	return DealLong
}

// EntrySide 返回加仓方向。
func (t DealType) EntrySide() Side {
	if t == DealShort {
		return SideSell
	}
	return SideBuy
}

// ExitSide 返回减仓方向。
func (t DealType) ExitSide() Side { return t.EntrySide().Opposite() }

// Order 一条挂单或历史指令。
type Order struct {
	ID            int64       `json:"id"`
	DealID        int64       `json:"deal_id"`
	Side          Side        `json:"side"`
	Type          OrderType   `json:"type"`
	Quantity      float64     `json:"quantity"`
	Price         float64     `json:"price,omitempty"`
	TriggerPrice  float64     `json:"trigger_price,omitempty"`
	Status        OrderStatus `json:"status"`
	Role          Role        `json:"role"`
	Fraction      float64     `json:"fraction,omitempty"`
	CreatedAtBar  int         `json:"created_at_bar"`
	ExecutedAtBar int         `json:"executed_at_bar"`
	ExecutedPrice float64     `json:"executed_price,omitempty"`
	Message       string      `json:"message,omitempty"`
	Generation    int         `json:"generation"`
}

func (o *Order) IsActive() bool { return o.Status == StatusActive }

func (o *Order) isStopLike() bool {
	return o.Role == RoleStopExit || (o.Role == RoleClose && o.Type == OrderStop)
}

func (o *Order) isTakeLike() bool {
	return o.Role == RoleTakeExit || (o.Role == RoleClose && o.Type == OrderLimit)
}

// Trade 不可变的成交记录，每个执行的订单恰好一条。
type Trade struct {
	ID       int64   `json:"id"`
	OrderID  int64   `json:"order_id"`
	DealID   int64   `json:"deal_id"`
	Side     Side    `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Sum      float64 `json:"sum"`
	Fee      float64 `json:"fee"`
	Bar      int     `json:"bar"`
	Time     int64   `json:"time"`
}

// Position 是账户在该交易对上的带符号持仓与现金。
type Position struct {
	Quantity float64 `json:"quantity"`
	Cash     float64 `json:"cash"`
}
