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

// ConfirmationRepository stores pending manual decisions keyed by
// (signal_id, telegram_id).
type ConfirmationRepository struct {
	db *gorm.DB
}

func NewConfirmationRepository(db *gorm.DB) *ConfirmationRepository {
	return &ConfirmationRepository{db: db}
}

// Upsert opens (or reopens) the pending entry for the pair.
func (r *ConfirmationRepository) Upsert(ctx context.Context, p *model.PendingConfirmation) error {
	p.Status = model.ConfirmationPending
	p.ResolvedAt = nil

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "signal_id"}, {Name: "telegram_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"kind",
				"offered_amount",
				"status",
				"expires_at",
				"resolved_at",
				"updated_at",
			}),
		}).
		Create(p).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "ConfirmationRepository",
			"op":          "Upsert",
			"signal_id":   p.SignalID,
			"telegram_id": p.TelegramID,
		}).WithError(err).Error("Failed to open confirmation")
	}
	return err
}

// Get returns the entry for the pair.
// Returns (nil, nil) if none exists.
func (r *ConfirmationRepository) Get(ctx context.Context, signalID string, telegramID int64) (*model.PendingConfirmation, error) {
	var p model.PendingConfirmation
	err := r.db.WithContext(ctx).
		Where("signal_id = ? AND telegram_id = ?", signalID, telegramID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// Resolve moves a still-pending, unexpired entry to status. It reports false
// when another caller already resolved it or the window elapsed; the check and
// the write are a single UPDATE so two concurrent callers cannot both win.
func (r *ConfirmationRepository) Resolve(ctx context.Context, signalID string, telegramID int64, status model.ConfirmationStatus, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.PendingConfirmation{}).
		Where("signal_id = ? AND telegram_id = ? AND status = ? AND expires_at > ?",
			signalID, telegramID, model.ConfirmationPending, now).
		Updates(map[string]interface{}{
			"status":      status,
			"resolved_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "ConfirmationRepository",
			"op":          "Resolve",
			"signal_id":   signalID,
			"telegram_id": telegramID,
		}).WithError(res.Error).Error("Failed to resolve confirmation")
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ExpireBefore marks every pending entry whose window ended at or before now.
func (r *ConfirmationRepository) ExpireBefore(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.PendingConfirmation{}).
		Where("status = ? AND expires_at <= ?", model.ConfirmationPending, now).
		Updates(map[string]interface{}{
			"status":      model.ConfirmationExpired,
			"resolved_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		logger.WithFields(map[string]interface{}{
			"repo":    "ConfirmationRepository",
			"op":      "ExpireBefore",
			"expired": res.RowsAffected,
		}).Info("Expired pending confirmations")
	}
	return res.RowsAffected, nil
}
