package broker

import (
	"math"

	"github.com/shopspring/decimal"

	"dealsim/internal/precision"
)

// Deal 聚合同一方向的一组入场与出场成交。
type Deal struct {
	ID           int64    `json:"id"`
	Type         DealType `json:"type"`
	Quantity     float64  `json:"quantity"`
	EnterVolume  float64  `json:"enter_volume"`
	BuyQuantity  float64  `json:"buy_quantity"`
	BuyCost      float64  `json:"buy_cost"`
	SellQuantity float64  `json:"sell_quantity"`
	SellProceeds float64  `json:"sell_proceeds"`
	AvgBuyPrice  float64  `json:"avg_buy_price"`
	AvgSellPrice float64  `json:"avg_sell_price"`
	Fee          float64  `json:"fee"`
	Profit       *float64 `json:"profit"`
	IsClosed     bool     `json:"is_closed"`
	Orders       []int64  `json:"orders"`
	Trades       []Trade  `json:"trades"`
	OpenedAtBar  int      `json:"opened_at_bar"`
	ClosedAtBar  int      `json:"closed_at_bar"`
	Implicit     bool     `json:"implicit"`
	Generation   int      `json:"generation"`

	// enterBase 是本代之前已持有的数量，ModifyDeal 开新一代时写入。
	enterBase float64
}

func newDeal(id int64, typ DealType, bar int, implicit bool) *Deal {
	return &Deal{
		ID:          id,
		Type:        typ,
		OpenedAtBar: bar,
		ClosedAtBar: -1,
		Implicit:    implicit,
	}
}

// OpenQuantity 返回 |Quantity|。
func (d *Deal) OpenQuantity() float64 { return math.Abs(d.Quantity) }

// applyTrade 累加成交并在数量归零时结算利润，返回本次是否平仓。
func (d *Deal) applyTrade(t Trade, eps float64) bool {
	qty := precision.Dec(t.Quantity)
	sum := precision.Dec(t.Sum)
	signed := precision.Dec(d.Quantity)
	switch t.Side {
	case SideBuy:
		d.BuyQuantity, d.BuyCost, d.AvgBuyPrice = accumulate(d.BuyQuantity, d.BuyCost, qty, sum)
		signed = signed.Add(qty)
	case SideSell:
		d.SellQuantity, d.SellProceeds, d.AvgSellPrice = accumulate(d.SellQuantity, d.SellProceeds, qty, sum)
		signed = signed.Sub(qty)
	}
	d.Fee = precision.Dec(d.Fee).Add(precision.Dec(t.Fee)).InexactFloat64()
	d.Quantity = signed.InexactFloat64()
	d.Trades = append(d.Trades, t)

	if d.IsClosed || math.Abs(d.Quantity) > eps {
		return false
	}
	d.Quantity = 0
	d.IsClosed = true
	d.ClosedAtBar = t.Bar
	profit := precision.Dec(d.SellProceeds).
		Sub(precision.Dec(d.BuyCost)).
		Sub(precision.Dec(d.Fee)).
		InexactFloat64()
	d.Profit = &profit
	return true
}

func accumulate(prevQty, prevSum float64, qty, sum decimal.Decimal) (float64, float64, float64) {
	totalQty := precision.Dec(prevQty).Add(qty)
	totalSum := precision.Dec(prevSum).Add(sum)
	avg := 0.0
	if totalQty.IsPositive() {
		avg = totalSum.Div(totalQty).InexactFloat64()
	}
	return totalQty.InexactFloat64(), totalSum.InexactFloat64(), avg
}

func (d *Deal) clone() Deal {
	out := *d
	out.Orders = append([]int64(nil), d.Orders...)
	out.Trades = append([]Trade(nil), d.Trades...)
	if d.Profit != nil {
		p := *d.Profit
		out.Profit = &p
	}
	return out
}
