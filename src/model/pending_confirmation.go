package model

import "time"

type ConfirmationKind string

const (
	// ConfirmationManual is opened for MANUAL subscribers on every signal.
	ConfirmationManual ConfirmationKind = "MANUAL"
	// ConfirmationReducedBalance offers to trade with whatever balance is left.
	ConfirmationReducedBalance ConfirmationKind = "REDUCED_BALANCE"
)

type ConfirmationStatus string

const (
	ConfirmationPending  ConfirmationStatus = "PENDING_CONFIRMATION"
	ConfirmationExecuted ConfirmationStatus = "EXECUTED"
	ConfirmationSkipped  ConfirmationStatus = "SKIPPED"
	ConfirmationExpired  ConfirmationStatus = "EXPIRED"
)

// PendingConfirmation tracks one (signal, subscriber) awaiting a manual decision.
type PendingConfirmation struct {
	ID            uint               `gorm:"primaryKey" json:"id"`
	SignalID      string             `gorm:"size:64;not null;uniqueIndex:idx_pending_signal_subscriber" json:"signal_id"`
	TelegramID    int64              `gorm:"column:telegram_id;not null;uniqueIndex:idx_pending_signal_subscriber" json:"telegram_id"`
	Kind          ConfirmationKind   `gorm:"size:20;not null" json:"kind"`
	OfferedAmount *float64           `json:"offered_amount,omitempty"`
	Status        ConfirmationStatus `gorm:"size:30;index;not null" json:"status"`
	ExpiresAt     time.Time          `gorm:"index;not null" json:"expires_at"`
	ResolvedAt    *time.Time         `json:"resolved_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func (PendingConfirmation) TableName() string { return "pending_confirmations" }

// Expired reports whether the decision window has elapsed at now.
func (p *PendingConfirmation) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
