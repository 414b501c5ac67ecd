package backtest

import (
	"context"

	"dealsim/internal/broker"
	"dealsim/internal/logger"
)

// Trader 是策略可调用的下单与查询接口，由 *broker.Broker 实现。
type Trader interface {
	Buy(p broker.OrderParams) broker.OrderOperationResult
	Sell(p broker.OrderParams) broker.OrderOperationResult
	BuySLTP(enter broker.EnterSpec, stopLoss, takeProfit broker.ExitSpec) broker.OrderOperationResult
	SellSLTP(enter broker.EnterSpec, stopLoss, takeProfit broker.ExitSpec) broker.OrderOperationResult
	ModifyDeal(dealID int64, enter broker.EnterSpec, stopLoss, takeProfit broker.ExitSpec) broker.OrderOperationResult
	CancelOrders(ids ...int64) broker.OrderOperationResult
	DealOrders(dealID int64) broker.OrderOperationResult
	Position() broker.Position
	Deal(id int64) (broker.Deal, bool)
	OpenDeals() []broker.Deal
}

var _ Trader = (*broker.Broker)(nil)

// BarContext 是每根 K 线交给策略的上下文，History 包含当前 K 线。
type BarContext struct {
	RunID   string
	Index   int
	Bar     Candle
	History []Candle
	Trader  Trader
	Log     logger.Sink
}

// Strategy 在每根 K 线撮合之后被调用一次。
type Strategy interface {
	OnBar(ctx context.Context, bc BarContext) error
}

// StrategyFactory 按 run 级别创建策略实例（可携带状态）。
type StrategyFactory interface {
	NewStrategy(spec StrategySpec) (Strategy, error)
	Names() []string
}

// StrategySpec 表示一次 run 的上下文。
type StrategySpec struct {
	RunID     string
	Name      string
	Symbol    string
	Timeframe string
	Params    map[string]any
}

// StrategyFunc 允许普通函数充当 Strategy。
type StrategyFunc func(ctx context.Context, bc BarContext) error

func (f StrategyFunc) OnBar(ctx context.Context, bc BarContext) error { return f(ctx, bc) }
