package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type runModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	Symbol         string         `gorm:"column:symbol;index"`
	Strategy       string         `gorm:"column:strategy"`
	Status         string         `gorm:"column:status"`
	Timeframe      string         `gorm:"column:timeframe"`
	StartTS        int64          `gorm:"column:start_ts"`
	EndTS          int64          `gorm:"column:end_ts"`
	InitialBalance float64        `gorm:"column:initial_balance"`
	FinalBalance   float64        `gorm:"column:final_balance"`
	Profit         float64        `gorm:"column:profit"`
	ReturnPct      float64        `gorm:"column:return_pct"`
	WinRate        float64        `gorm:"column:win_rate"`
	MaxDrawdown    float64        `gorm:"column:max_drawdown"`
	Message        string         `gorm:"column:message"`
	ConfigJSON     datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	StatsJSON      datatypes.JSON `gorm:"column:stats_json;type:TEXT"`
	CreatedAtUnix  int64          `gorm:"column:created_at;index"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`
	CompletedUnix  int64          `gorm:"column:completed_at"`
}

func (runModel) TableName() string { return "backtest_runs" }

// ResultStore 管理 backtest_runs/deals/orders/trades/snapshots/logs 表。
type ResultStore struct {
	db   *gorm.DB
	path string
}

func NewResultStore(path string) (*ResultStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("result store 路径不能为空")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&runModel{},
		&DealRecord{},
		&OrderRecord{},
		&TradeRecord{},
		&Snapshot{},
		&RunLog{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRunModel(run Run) (runModel, error) {
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return runModel{}, err
	}
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return runModel{}, err
	}
	m := runModel{
		ID:             run.ID,
		Symbol:         run.Symbol,
		Strategy:       run.Strategy,
		Status:         run.Status,
		Timeframe:      run.Timeframe,
		StartTS:        run.StartTS,
		EndTS:          run.EndTS,
		InitialBalance: run.InitialBalance,
		FinalBalance:   run.FinalBalance,
		Profit:         run.Profit,
		ReturnPct:      run.ReturnPct,
		WinRate:        run.WinRate,
		MaxDrawdown:    run.MaxDrawdownPct,
		Message:        run.Message,
		ConfigJSON:     datatypes.JSON(cfg),
		StatsJSON:      datatypes.JSON(stats),
		CreatedAtUnix:  run.CreatedAt.UnixMilli(),
		UpdatedAtUnix:  run.UpdatedAt.UnixMilli(),
	}
	if !run.CompletedAt.IsZero() {
		m.CompletedUnix = run.CompletedAt.UnixMilli()
	}
	return m, nil
}

func (m runModel) toRun() Run {
	run := Run{
		ID:             m.ID,
		Symbol:         m.Symbol,
		Strategy:       m.Strategy,
		Status:         m.Status,
		Timeframe:      m.Timeframe,
		StartTS:        m.StartTS,
		EndTS:          m.EndTS,
		InitialBalance: m.InitialBalance,
		FinalBalance:   m.FinalBalance,
		Profit:         m.Profit,
		ReturnPct:      m.ReturnPct,
		WinRate:        m.WinRate,
		MaxDrawdownPct: m.MaxDrawdown,
		Message:        m.Message,
		CreatedAt:      timeFromMillis(m.CreatedAtUnix),
		UpdatedAt:      timeFromMillis(m.UpdatedAtUnix),
		CompletedAt:    timeFromMillis(m.CompletedUnix),
	}
	if len(m.ConfigJSON) > 0 {
		_ = json.Unmarshal(m.ConfigJSON, &run.Config)
	}
	if len(m.StatsJSON) > 0 {
		_ = json.Unmarshal(m.StatsJSON, &run.Stats)
	}
	return run
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	m, err := toRunModel(run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// UpdateRunStatus 更新状态与进度消息。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	res := s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":     status,
		"message":    message,
		"updated_at": time.Now().UnixMilli(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// SaveResult 在一个事务内写入最终统计与全部明细。
func (s *ResultStore) SaveResult(ctx context.Context, id string, res RunResult, message string) error {
	stats, err := json.Marshal(res.Stats)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upd := tx.Model(&runModel{}).Where("id = ?", id).Updates(map[string]any{
			"status":        RunStatusDone,
			"message":       message,
			"final_balance": res.Stats.FinalBalance,
			"profit":        res.Stats.Profit,
			"return_pct":    res.Stats.ReturnPct,
			"win_rate":      res.Stats.WinRate,
			"max_drawdown":  res.Stats.MaxDrawdownPct,
			"stats_json":    datatypes.JSON(stats),
			"updated_at":    now,
			"completed_at":  now,
		})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return ErrRunNotFound
		}
		if len(res.Deals) > 0 {
			if err := tx.CreateInBatches(res.Deals, 200).Error; err != nil {
				return fmt.Errorf("insert deals: %w", err)
			}
		}
		if len(res.Orders) > 0 {
			if err := tx.CreateInBatches(res.Orders, 200).Error; err != nil {
				return fmt.Errorf("insert orders: %w", err)
			}
		}
		if len(res.Trades) > 0 {
			if err := tx.CreateInBatches(res.Trades, 200).Error; err != nil {
				return fmt.Errorf("insert trades: %w", err)
			}
		}
		if len(res.Snapshots) > 0 {
			if err := tx.CreateInBatches(res.Snapshots, 500).Error; err != nil {
				return fmt.Errorf("insert snapshots: %w", err)
			}
		}
		if len(res.Logs) > 0 {
			if err := tx.CreateInBatches(res.Logs, 500).Error; err != nil {
				return fmt.Errorf("insert logs: %w", err)
			}
		}
		return nil
	})
}

func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []runModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRun())
	}
	return out, nil
}

func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	var m runModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, err
	}
	return m.toRun(), nil
}

func (s *ResultStore) ListDeals(ctx context.Context, runID string) ([]DealRecord, error) {
	var out []DealRecord
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("deal_id ASC").Find(&out).Error
	return out, err
}

// ListOrders 返回 run 的订单；dealID>0 时只看该 deal。
func (s *ResultStore) ListOrders(ctx context.Context, runID string, dealID int64) ([]OrderRecord, error) {
	q := s.db.WithContext(ctx).Where("run_id = ?", runID)
	if dealID > 0 {
		q = q.Where("deal_id = ?", dealID)
	}
	var out []OrderRecord
	err := q.Order("order_id ASC").Find(&out).Error
	return out, err
}

func (s *ResultStore) ListTrades(ctx context.Context, runID string, dealID int64) ([]TradeRecord, error) {
	q := s.db.WithContext(ctx).Where("run_id = ?", runID)
	if dealID > 0 {
		q = q.Where("deal_id = ?", dealID)
	}
	var out []TradeRecord
	err := q.Order("trade_id ASC").Find(&out).Error
	return out, err
}

func (s *ResultStore) ListSnapshots(ctx context.Context, runID string, limit int) ([]Snapshot, error) {
	q := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("bar ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []Snapshot
	err := q.Find(&out).Error
	return out, err
}

// ListRunLogs 按级别过滤日志，level 为空时返回全部。
func (s *ResultStore) ListRunLogs(ctx context.Context, runID, level string, limit int) ([]RunLog, error) {
	q := s.db.WithContext(ctx).Where("run_id = ?", runID)
	if level != "" {
		q = q.Where("level = ?", strings.ToLower(level))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []RunLog
	err := q.Order("seq ASC").Find(&out).Error
	return out, err
}
