package backtest

import (
	"encoding/json"

	"dealsim/internal/broker"

	"gorm.io/datatypes"
)

// DealRecord 是回测结束时 deal 的落库形态。
type DealRecord struct {
	ID           uint           `gorm:"column:id;primaryKey" json:"-"`
	RunID        string         `gorm:"column:run_id;index" json:"run_id"`
	DealID       int64          `gorm:"column:deal_id" json:"deal_id"`
	Type         string         `gorm:"column:type" json:"type"`
	Quantity     float64        `gorm:"column:quantity" json:"quantity"`
	EnterVolume  float64        `gorm:"column:enter_volume" json:"enter_volume"`
	BuyQuantity  float64        `gorm:"column:buy_quantity" json:"buy_quantity"`
	BuyCost      float64        `gorm:"column:buy_cost" json:"buy_cost"`
	SellQuantity float64        `gorm:"column:sell_quantity" json:"sell_quantity"`
	SellProceeds float64        `gorm:"column:sell_proceeds" json:"sell_proceeds"`
	AvgBuyPrice  float64        `gorm:"column:avg_buy_price" json:"avg_buy_price"`
	AvgSellPrice float64        `gorm:"column:avg_sell_price" json:"avg_sell_price"`
	Fee          float64        `gorm:"column:fee" json:"fee"`
	Profit       *float64       `gorm:"column:profit" json:"profit"`
	IsClosed     bool           `gorm:"column:is_closed" json:"is_closed"`
	Implicit     bool           `gorm:"column:implicit" json:"implicit"`
	Generation   int            `gorm:"column:generation" json:"generation"`
	OpenedAtBar  int            `gorm:"column:opened_at_bar" json:"opened_at_bar"`
	ClosedAtBar  int            `gorm:"column:closed_at_bar" json:"closed_at_bar"`
	OpenedAt     int64          `gorm:"column:opened_at" json:"opened_at"`
	ClosedAt     int64          `gorm:"column:closed_at" json:"closed_at"`
	OrderIDs     datatypes.JSON `gorm:"column:order_ids;type:TEXT" json:"order_ids"`
}

func (DealRecord) TableName() string { return "backtest_deals" }

// OrderRecord 是订单的落库形态。
type OrderRecord struct {
	ID            uint    `gorm:"column:id;primaryKey" json:"-"`
	RunID         string  `gorm:"column:run_id;index" json:"run_id"`
	OrderID       int64   `gorm:"column:order_id" json:"order_id"`
	DealID        int64   `gorm:"column:deal_id;index" json:"deal_id"`
	Side          string  `gorm:"column:side" json:"side"`
	Type          string  `gorm:"column:type" json:"type"`
	Role          string  `gorm:"column:role" json:"role"`
	Status        string  `gorm:"column:status" json:"status"`
	Quantity      float64 `gorm:"column:quantity" json:"quantity"`
	Price         float64 `gorm:"column:price" json:"price,omitempty"`
	TriggerPrice  float64 `gorm:"column:trigger_price" json:"trigger_price,omitempty"`
	Fraction      float64 `gorm:"column:fraction" json:"fraction,omitempty"`
	Generation    int     `gorm:"column:generation" json:"generation"`
	CreatedAtBar  int     `gorm:"column:created_at_bar" json:"created_at_bar"`
	ExecutedAtBar int     `gorm:"column:executed_at_bar" json:"executed_at_bar"`
	ExecutedPrice float64 `gorm:"column:executed_price" json:"executed_price,omitempty"`
	Message       string  `gorm:"column:message" json:"message,omitempty"`
}

func (OrderRecord) TableName() string { return "backtest_orders" }

// TradeRecord 是成交的落库形态。
type TradeRecord struct {
	ID       uint    `gorm:"column:id;primaryKey" json:"-"`
	RunID    string  `gorm:"column:run_id;index" json:"run_id"`
	TradeID  int64   `gorm:"column:trade_id" json:"trade_id"`
	OrderID  int64   `gorm:"column:order_id" json:"order_id"`
	DealID   int64   `gorm:"column:deal_id;index" json:"deal_id"`
	Side     string  `gorm:"column:side" json:"side"`
	Price    float64 `gorm:"column:price" json:"price"`
	Quantity float64 `gorm:"column:quantity" json:"quantity"`
	Sum      float64 `gorm:"column:sum" json:"sum"`
	Fee      float64 `gorm:"column:fee" json:"fee"`
	Bar      int     `gorm:"column:bar" json:"bar"`
	Time     int64   `gorm:"column:time" json:"time"`
}

func (TradeRecord) TableName() string { return "backtest_trades" }

func barTime(bars []Candle, idx int) int64 {
	if idx < 0 || idx >= len(bars) {
		return 0
	}
	return bars[idx].OpenTime
}

func newDealRecord(runID string, d broker.Deal, bars []Candle) DealRecord {
	ids, _ := json.Marshal(d.Orders)
	rec := DealRecord{
		RunID:        runID,
		DealID:       d.ID,
		Type:         string(d.Type),
		Quantity:     d.Quantity,
		EnterVolume:  d.EnterVolume,
		BuyQuantity:  d.BuyQuantity,
		BuyCost:      d.BuyCost,
		SellQuantity: d.SellQuantity,
		SellProceeds: d.SellProceeds,
		AvgBuyPrice:  d.AvgBuyPrice,
		AvgSellPrice: d.AvgSellPrice,
		Fee:          d.Fee,
		Profit:       d.Profit,
		IsClosed:     d.IsClosed,
		Implicit:     d.Implicit,
		Generation:   d.Generation,
		OpenedAtBar:  d.OpenedAtBar,
		ClosedAtBar:  d.ClosedAtBar,
		OpenedAt:     barTime(bars, d.OpenedAtBar),
		OrderIDs:     datatypes.JSON(ids),
	}
	if d.IsClosed && len(d.Trades) > 0 {
		rec.ClosedAt = d.Trades[len(d.Trades)-1].Time
	}
	return rec
}

func newOrderRecord(runID string, o broker.Order) OrderRecord {
	return OrderRecord{
		RunID:         runID,
		OrderID:       o.ID,
		DealID:        o.DealID,
		Side:          string(o.Side),
		Type:          string(o.Type),
		Role:          string(o.Role),
		Status:        string(o.Status),
		Quantity:      o.Quantity,
		Price:         o.Price,
		TriggerPrice:  o.TriggerPrice,
		Fraction:      o.Fraction,
		Generation:    o.Generation,
		CreatedAtBar:  o.CreatedAtBar,
		ExecutedAtBar: o.ExecutedAtBar,
		ExecutedPrice: o.ExecutedPrice,
		Message:       o.Message,
	}
}

func newTradeRecord(runID string, t broker.Trade) TradeRecord {
	return TradeRecord{
		RunID:    runID,
		TradeID:  t.ID,
		OrderID:  t.OrderID,
		DealID:   t.DealID,
		Side:     string(t.Side),
		Price:    t.Price,
		Quantity: t.Quantity,
		Sum:      t.Sum,
		Fee:      t.Fee,
		Bar:      t.Bar,
		Time:     t.Time,
	}
}
