package model

import "time"

type TrackedStatus string

const (
	TrackedPending   TrackedStatus = "PENDING"
	TrackedFilled    TrackedStatus = "FILLED"
	TrackedClosed    TrackedStatus = "CLOSED"
	TrackedCancelled TrackedStatus = "CANCELLED"
)

// TrackedSignal is the lifecycle record kept by the single-account runner.
// Rows are never deleted; closed signals stay for audit.
type TrackedSignal struct {
	SignalID   string        `gorm:"primaryKey;size:64;column:signal_id" json:"signal_id"`
	Symbol     string        `gorm:"size:30;index" json:"symbol"`
	SignalType Direction     `gorm:"size:10" json:"signal_type"`
	OrderType  OrderKind     `gorm:"size:10" json:"order_type"`
	EntryPrice *float64      `json:"entry_price,omitempty"`
	StopLoss   float64       `json:"stop_loss"`
	TakeProfit float64       `json:"take_profit"`
	Leverage   int           `json:"leverage"`
	Quantity   string        `gorm:"size:40" json:"quantity"`
	OrderID    string        `gorm:"size:64" json:"order_id,omitempty"`
	PositionID string        `gorm:"size:64" json:"position_id,omitempty"`
	Status     TrackedStatus `gorm:"size:20;index" json:"status"`
	PnL        *float64      `gorm:"column:pnl" json:"pnl,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

func (TrackedSignal) TableName() string { return "tracked_signals" }

// IsOpen reports whether the tracked position can still be updated or closed.
func (t *TrackedSignal) IsOpen() bool {
	return t.Status == TrackedPending || t.Status == TrackedFilled
}

// TrackedStats summarises the tracker table.
type TrackedStats struct {
	Total  int64 `json:"total"`
	Active int64 `json:"active"`
	Closed int64 `json:"closed"`
}
