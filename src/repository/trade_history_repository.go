package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"signalrelay/src/model"
)

// TradeHistoryRepository is the append-only audit log of executions.
type TradeHistoryRepository struct {
	db *gorm.DB
}

func NewTradeHistoryRepository(db *gorm.DB) *TradeHistoryRepository {
	return &TradeHistoryRepository{db: db}
}

// Record appends one row. A SUCCESS row also bumps the subscriber's
// total_trades counter in the same transaction.
func (r *TradeHistoryRepository) Record(ctx context.Context, h *model.TradeHistory) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(h).Error; err != nil {
			return err
		}
		if h.Status != model.TradeStatusSuccess {
			return nil
		}
		return tx.Model(&model.Subscriber{}).
			Where("telegram_id = ?", h.TelegramID).
			UpdateColumn("total_trades", gorm.Expr("total_trades + ?", 1)).Error
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "TradeHistoryRepository",
			"op":          "Record",
			"telegram_id": h.TelegramID,
			"signal_id":   h.SignalID,
			"status":      h.Status,
		}).WithError(err).Error("Failed to record trade")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "TradeHistoryRepository",
		"op":          "Record",
		"telegram_id": h.TelegramID,
		"signal_id":   h.SignalID,
		"status":      h.Status,
	}).Debug("Trade recorded")

	return nil
}

// ListBySubscriber returns the latest rows of one subscriber, newest first.
func (r *TradeHistoryRepository) ListBySubscriber(ctx context.Context, telegramID int64, limit int) ([]model.TradeHistory, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []model.TradeHistory
	err := r.db.WithContext(ctx).
		Where("telegram_id = ?", telegramID).
		Order("executed_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListBySignal returns every row written for a signal.
func (r *TradeHistoryRepository) ListBySignal(ctx context.Context, signalID string) ([]model.TradeHistory, error) {
	var rows []model.TradeHistory
	err := r.db.WithContext(ctx).
		Where("signal_id = ?", signalID).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}
