package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"signalrelay/src/model"
)

// CredentialCipher encrypts subscriber credentials at rest.
type CredentialCipher interface {
	EncryptString(plaintext string) (string, error)
	DecryptString(encoded string) (string, error)
}

// SubscriberRepository stores subscribers with encrypted API credentials.
// Reads return the decrypted pair in PlainAPIKey/PlainAPISecret.
type SubscriberRepository struct {
	db     *gorm.DB
	cipher CredentialCipher
}

func NewSubscriberRepository(db *gorm.DB, cipher CredentialCipher) *SubscriberRepository {
	logger.WithField("component", "SubscriberRepository").
		Debug("Creating new SubscriberRepository")

	return &SubscriberRepository{db: db, cipher: cipher}
}

// NewSubscriber holds registration input.
type NewSubscriber struct {
	TelegramID      int64
	Username        string
	APIKey          string
	APISecret       string
	TradeAmountUSDT float64
	MaxLeverage     int
}

// Add creates a subscriber or replaces the credentials and settings of an
// existing one. Re-registration reactivates a deactivated subscriber and keeps
// its trade mode and lifetime counters.
func (r *SubscriberRepository) Add(ctx context.Context, in NewSubscriber) (*model.Subscriber, error) {
	encKey, err := r.cipher.EncryptString(in.APIKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt api key: %w", err)
	}
	encSecret, err := r.cipher.EncryptString(in.APISecret)
	if err != nil {
		return nil, fmt.Errorf("encrypt api secret: %w", err)
	}

	sub := &model.Subscriber{
		TelegramID:      in.TelegramID,
		Username:        in.Username,
		APIKey:          encKey,
		APISecret:       encSecret,
		TradeAmountUSDT: in.TradeAmountUSDT,
		MaxLeverage:     in.MaxLeverage,
		IsActive:        true,
		TradeMode:       model.TradeModeAuto,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "telegram_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"username",
				"api_key",
				"api_secret",
				"trade_amount_usdt",
				"max_leverage",
				"is_active",
				"updated_at",
			}),
		}).
		Create(sub).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "SubscriberRepository",
			"op":          "Add",
			"telegram_id": in.TelegramID,
		}).WithError(err).Error("Failed to upsert subscriber")
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "SubscriberRepository",
		"op":          "Add",
		"telegram_id": in.TelegramID,
	}).Info("Subscriber registered")

	return r.Get(ctx, in.TelegramID)
}

// Get returns the subscriber with decrypted credentials.
// Returns (nil, nil) if the subscriber does not exist.
func (r *SubscriberRepository) Get(ctx context.Context, telegramID int64) (*model.Subscriber, error) {
	var sub model.Subscriber
	err := r.db.WithContext(ctx).
		Where("telegram_id = ?", telegramID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if err := r.decrypt(&sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListActive returns active subscribers ordered by id. Rows whose credentials
// cannot be decrypted are skipped and logged.
func (r *SubscriberRepository) ListActive(ctx context.Context) ([]model.Subscriber, error) {
	var rows []model.Subscriber
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("telegram_id ASC").
		Find(&rows).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "SubscriberRepository",
			"op":   "ListActive",
		}).WithError(err).Error("Failed to list active subscribers")
		return nil, err
	}

	out := make([]model.Subscriber, 0, len(rows))
	for i := range rows {
		if err := r.decrypt(&rows[i]); err != nil {
			logger.WithFields(map[string]interface{}{
				"repo":        "SubscriberRepository",
				"op":          "ListActive",
				"telegram_id": rows[i].TelegramID,
			}).WithError(err).Warn("Skipping subscriber with unreadable credentials")
			continue
		}
		out = append(out, rows[i])
	}
	return out, nil
}

// ListAll returns every subscriber without decrypting credentials.
func (r *SubscriberRepository) ListAll(ctx context.Context) ([]model.Subscriber, error) {
	var rows []model.Subscriber
	err := r.db.WithContext(ctx).Order("telegram_id ASC").Find(&rows).Error
	return rows, err
}

func (r *SubscriberRepository) UpdateTradeAmount(ctx context.Context, telegramID int64, amount float64) (bool, error) {
	return r.updateColumn(ctx, "UpdateTradeAmount", telegramID, "trade_amount_usdt", amount)
}

func (r *SubscriberRepository) UpdateMaxLeverage(ctx context.Context, telegramID int64, leverage int) (bool, error) {
	return r.updateColumn(ctx, "UpdateMaxLeverage", telegramID, "max_leverage", leverage)
}

func (r *SubscriberRepository) UpdateTradeMode(ctx context.Context, telegramID int64, mode model.TradeMode) (bool, error) {
	if mode != model.TradeModeAuto && mode != model.TradeModeManual {
		return false, fmt.Errorf("invalid trade mode %q", mode)
	}
	return r.updateColumn(ctx, "UpdateTradeMode", telegramID, "trade_mode", mode)
}

// Deactivate is the soft delete; the row and its history are kept.
func (r *SubscriberRepository) Deactivate(ctx context.Context, telegramID int64) (bool, error) {
	return r.updateColumn(ctx, "Deactivate", telegramID, "is_active", false)
}

// Delete removes the subscriber row permanently. Trade history is kept.
func (r *SubscriberRepository) Delete(ctx context.Context, telegramID int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("telegram_id = ?", telegramID).
		Delete(&model.Subscriber{})
	if res.Error != nil {
		return false, res.Error
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "SubscriberRepository",
		"op":          "Delete",
		"telegram_id": telegramID,
		"deleted":     res.RowsAffected,
	}).Warn("Subscriber hard deleted")

	return res.RowsAffected > 0, nil
}

// CountActive returns the number of active subscribers.
func (r *SubscriberRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Subscriber{}).
		Where("is_active = ?", true).
		Count(&count).Error
	return count, err
}

func (r *SubscriberRepository) updateColumn(ctx context.Context, op string, telegramID int64, column string, value interface{}) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Subscriber{}).
		Where("telegram_id = ?", telegramID).
		Updates(map[string]interface{}{
			column:       value,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "SubscriberRepository",
			"op":          op,
			"telegram_id": telegramID,
		}).WithError(res.Error).Error("Failed to update subscriber")
		return false, res.Error
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "SubscriberRepository",
		"op":          op,
		"telegram_id": telegramID,
		"column":      column,
	}).Debug("Subscriber updated")

	return res.RowsAffected > 0, nil
}

func (r *SubscriberRepository) decrypt(sub *model.Subscriber) error {
	key, err := r.cipher.DecryptString(sub.APIKey)
	if err != nil {
		return fmt.Errorf("decrypt api key of %d: %w", sub.TelegramID, err)
	}
	secret, err := r.cipher.DecryptString(sub.APISecret)
	if err != nil {
		return fmt.Errorf("decrypt api secret of %d: %w", sub.TelegramID, err)
	}
	sub.PlainAPIKey = key
	sub.PlainAPISecret = secret
	return nil
}
