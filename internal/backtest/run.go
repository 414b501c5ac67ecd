package backtest

import (
	"time"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunConfig 记录本次回测的参数快照，便于重放。
type RunConfig struct {
	Strategy        string         `json:"strategy"`
	StrategyParams  map[string]any `json:"strategy_params,omitempty"`
	Symbol          string         `json:"symbol"`
	Timeframe       string         `json:"timeframe"`
	StartTS         int64          `json:"start_ts"`
	EndTS           int64          `json:"end_ts"`
	InitialBalance  float64        `json:"initial_balance"`
	SlippageSteps   float64        `json:"slippage_steps"`
	PrecisionAmount float64        `json:"precision_amount"`
	PrecisionPrice  float64        `json:"precision_price"`
	FeeTaker        float64        `json:"fee_taker"`
	FeeMaker        float64        `json:"fee_maker"`
	Notes           string         `json:"notes,omitempty"`
}

// RunStats 汇总收益、风控指标，供前端展示。
type RunStats struct {
	FinalBalance   float64   `json:"final_balance"`
	Profit         float64   `json:"profit"`
	ReturnPct      float64   `json:"return_pct"`
	WinRate        float64   `json:"win_rate"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	Bars           int       `json:"bars"`
	Deals          int       `json:"deals"`
	ClosedDeals    int       `json:"closed_deals"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	Orders         int       `json:"orders"`
	Trades         int       `json:"trades"`
	Fees           float64   `json:"fees"`
	Snapshots      int       `json:"snapshots"`
	EquityPeak     float64   `json:"equity_peak"`
	EquityValley   float64   `json:"equity_valley"`
	Warnings       int       `json:"warnings"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Run 表示一次回测任务。
type Run struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Strategy       string    `json:"strategy"`
	Status         string    `json:"status"`
	Timeframe      string    `json:"timeframe"`
	StartTS        int64     `json:"start_ts"`
	EndTS          int64     `json:"end_ts"`
	InitialBalance float64   `json:"initial_balance"`
	FinalBalance   float64   `json:"final_balance"`
	Profit         float64   `json:"profit"`
	ReturnPct      float64   `json:"return_pct"`
	WinRate        float64   `json:"win_rate"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	Message        string    `json:"message"`
	Config         RunConfig `json:"config"`
	Stats          RunStats  `json:"stats"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Snapshot 是每根 K 线收盘后的资金曲线点。
type Snapshot struct {
	ID       uint    `gorm:"column:id;primaryKey" json:"-"`
	RunID    string  `gorm:"column:run_id;index" json:"run_id"`
	Bar      int     `gorm:"column:bar" json:"bar"`
	TS       int64   `gorm:"column:ts" json:"ts"`
	Close    float64 `gorm:"column:close" json:"close"`
	Equity   float64 `gorm:"column:equity" json:"equity"`
	Cash     float64 `gorm:"column:cash" json:"cash"`
	Quantity float64 `gorm:"column:quantity" json:"quantity"`
	Drawdown float64 `gorm:"column:drawdown" json:"drawdown"`
}

func (Snapshot) TableName() string { return "backtest_snapshots" }

// RunLog 是引擎或策略在回测中输出的一条消息。
type RunLog struct {
	ID      uint      `gorm:"column:id;primaryKey" json:"-"`
	RunID   string    `gorm:"column:run_id;index" json:"run_id"`
	Seq     int       `gorm:"column:seq" json:"seq"`
	Level   string    `gorm:"column:level" json:"level"`
	Message string    `gorm:"column:message" json:"message"`
	At      time.Time `gorm:"column:at" json:"at"`
}

func (RunLog) TableName() string { return "backtest_logs" }

// RunRequest 为 HTTP/CLI 提交使用，零值字段取配置默认。
type RunRequest struct {
	Symbol         string         `json:"symbol" binding:"required"`
	Strategy       string         `json:"strategy"`
	Params         map[string]any `json:"params"`
	Timeframe      string         `json:"timeframe"`
	StartTS        int64          `json:"start_ts" binding:"required"`
	EndTS          int64          `json:"end_ts" binding:"required"`
	InitialBalance float64        `json:"initial_balance"`
	SlippageSteps  *float64       `json:"slippage_steps"`
	Notes          string         `json:"notes"`
}

// RunResult 是一次回放的完整产出。
type RunResult struct {
	Stats     RunStats
	Deals     []DealRecord
	Orders    []OrderRecord
	Trades    []TradeRecord
	Snapshots []Snapshot
	Logs      []RunLog
}
