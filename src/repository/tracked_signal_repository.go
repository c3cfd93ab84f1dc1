package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"signalrelay/src/model"
)

// TrackedSignalRepository keeps the lifecycle of signals executed by the
// single-account runner.
type TrackedSignalRepository struct {
	db *gorm.DB
}

func NewTrackedSignalRepository(db *gorm.DB) *TrackedSignalRepository {
	return &TrackedSignalRepository{db: db}
}

// Save inserts or replaces the tracked signal.
func (r *TrackedSignalRepository) Save(ctx context.Context, ts *model.TrackedSignal) error {
	err := r.db.WithContext(ctx).Save(ts).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "TrackedSignalRepository",
			"op":        "Save",
			"signal_id": ts.SignalID,
		}).WithError(err).Error("Failed to save tracked signal")
	}
	return err
}

// Get returns (nil, nil) if the signal is not tracked.
func (r *TrackedSignalRepository) Get(ctx context.Context, signalID string) (*model.TrackedSignal, error) {
	var ts model.TrackedSignal
	err := r.db.WithContext(ctx).
		Where("signal_id = ?", signalID).
		First(&ts).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ts, nil
}

// UpdateLevels records new SL/TP values on an open signal.
func (r *TrackedSignalRepository) UpdateLevels(ctx context.Context, signalID string, stopLoss, takeProfit *float64) (bool, error) {
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if stopLoss != nil {
		updates["stop_loss"] = *stopLoss
	}
	if takeProfit != nil {
		updates["take_profit"] = *takeProfit
	}

	res := r.db.WithContext(ctx).
		Model(&model.TrackedSignal{}).
		Where("signal_id = ? AND status IN ?", signalID, []model.TrackedStatus{model.TrackedPending, model.TrackedFilled}).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateStatus moves the signal to status, optionally recording pnl.
func (r *TrackedSignalRepository) UpdateStatus(ctx context.Context, signalID string, status model.TrackedStatus, pnl *float64) (bool, error) {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if pnl != nil {
		updates["pnl"] = *pnl
	}

	res := r.db.WithContext(ctx).
		Model(&model.TrackedSignal{}).
		Where("signal_id = ?", signalID).
		Updates(updates)
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "TrackedSignalRepository",
			"op":        "UpdateStatus",
			"signal_id": signalID,
		}).WithError(res.Error).Error("Failed to update tracked signal")
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListOpen returns PENDING and FILLED signals, oldest first.
func (r *TrackedSignalRepository) ListOpen(ctx context.Context) ([]model.TrackedSignal, error) {
	var rows []model.TrackedSignal
	err := r.db.WithContext(ctx).
		Where("status IN ?", []model.TrackedStatus{model.TrackedPending, model.TrackedFilled}).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *TrackedSignalRepository) Stats(ctx context.Context) (model.TrackedStats, error) {
	var stats model.TrackedStats
	base := r.db.WithContext(ctx).Model(&model.TrackedSignal{})

	if err := base.Session(&gorm.Session{}).Count(&stats.Total).Error; err != nil {
		return stats, err
	}
	if err := base.Session(&gorm.Session{}).
		Where("status IN ?", []model.TrackedStatus{model.TrackedPending, model.TrackedFilled}).
		Count(&stats.Active).Error; err != nil {
		return stats, err
	}
	if err := base.Session(&gorm.Session{}).
		Where("status = ?", model.TrackedClosed).
		Count(&stats.Closed).Error; err != nil {
		return stats, err
	}
	return stats, nil
}
