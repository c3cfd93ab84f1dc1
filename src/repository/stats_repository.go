package repository

import (
	"context"

	"gorm.io/gorm"

	"signalrelay/src/model"
)

type StatsRepository struct {
	db *gorm.DB
}

func NewStatsRepository(db *gorm.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// Stats aggregates subscriber and signal counters.
func (r *StatsRepository) Stats(ctx context.Context) (model.Stats, error) {
	var stats model.Stats

	var agg struct {
		Total       int64   `gorm:"column:total"`
		Active      int64   `gorm:"column:active"`
		TotalTrades int64   `gorm:"column:total_trades"`
		TotalPnL    float64 `gorm:"column:total_pnl"`
	}
	err := r.db.WithContext(ctx).
		Model(&model.Subscriber{}).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN is_active THEN 1 ELSE 0 END), 0) AS active,
			COALESCE(SUM(total_trades), 0) AS total_trades,
			COALESCE(SUM(total_pnl), 0) AS total_pnl`).
		Scan(&agg).Error
	if err != nil {
		return stats, err
	}

	stats.TotalSubscribers = agg.Total
	stats.ActiveSubscribers = agg.Active
	stats.TotalTrades = agg.TotalTrades
	stats.TotalPnL = agg.TotalPnL

	if err := r.db.WithContext(ctx).
		Model(&model.SignalRecord{}).
		Where("status = ?", model.SignalStatusActive).
		Count(&stats.ActiveSignals).Error; err != nil {
		return stats, err
	}
	return stats, nil
}
