package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"signalrelay/src/model"
)

// SignalRepository persists signals so they can be rebuilt after the
// original chat message is gone.
type SignalRepository struct {
	db *gorm.DB
}

func NewSignalRepository(db *gorm.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

// Save upserts the signal keyed by signal_id. A second signal for the same
// symbol on the same day overwrites the first and reopens it.
func (r *SignalRepository) Save(ctx context.Context, sig *model.Signal) error {
	rec := model.NewSignalRecord(sig)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "signal_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"symbol",
				"signal_type",
				"order_type",
				"entry_price",
				"stop_loss",
				"take_profit",
				"leverage",
				"raw_text",
				"status",
				"created_at",
				"closed_at",
			}),
		}).
		Create(rec).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "SignalRepository",
			"op":        "Save",
			"signal_id": sig.SignalID,
		}).WithError(err).Error("Failed to save signal")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":      "SignalRepository",
		"op":        "Save",
		"signal_id": sig.SignalID,
	}).Debug("Signal saved")
	return nil
}

// Get returns the stored signal record.
// Returns (nil, nil) if the signal does not exist.
func (r *SignalRepository) Get(ctx context.Context, signalID string) (*model.SignalRecord, error) {
	var rec model.SignalRecord
	err := r.db.WithContext(ctx).
		Where("signal_id = ?", signalID).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Close marks the signal CLOSED.
func (r *SignalRepository) Close(ctx context.Context, signalID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.SignalRecord{}).
		Where("signal_id = ?", signalID).
		Updates(map[string]interface{}{
			"status":    model.SignalStatusClosed,
			"closed_at": at,
		})
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "SignalRepository",
			"op":        "Close",
			"signal_id": signalID,
		}).WithError(res.Error).Error("Failed to close signal")
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ApplyUpdate patches the levels carried by upd.
func (r *SignalRepository) ApplyUpdate(ctx context.Context, upd *model.SignalUpdate) (bool, error) {
	updates := map[string]interface{}{}
	if upd.StopLoss != nil {
		updates["stop_loss"] = *upd.StopLoss
	}
	if upd.TakeProfit != nil {
		updates["take_profit"] = *upd.TakeProfit
	}
	if upd.EntryPrice != nil {
		updates["entry_price"] = *upd.EntryPrice
		updates["order_type"] = model.OrderKindLimit
	}
	if len(updates) == 0 {
		return false, nil
	}

	res := r.db.WithContext(ctx).
		Model(&model.SignalRecord{}).
		Where("signal_id = ?", upd.SignalID).
		Updates(updates)
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "SignalRepository",
			"op":        "ApplyUpdate",
			"signal_id": upd.SignalID,
		}).WithError(res.Error).Error("Failed to update signal")
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CountActive returns the number of ACTIVE signals.
func (r *SignalRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.SignalRecord{}).
		Where("status = ?", model.SignalStatusActive).
		Count(&count).Error
	return count, err
}
