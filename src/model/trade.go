package model

import "time"

// TradeStatus is the closed outcome taxonomy of a per-subscriber execution.
type TradeStatus string

const (
	TradeStatusSuccess             TradeStatus = "SUCCESS"
	TradeStatusInsufficientBalance TradeStatus = "INSUFFICIENT_BALANCE"
	TradeStatusSymbolNotFound      TradeStatus = "SYMBOL_NOT_FOUND"
	TradeStatusInvalidKey          TradeStatus = "INVALID_KEY"
	TradeStatusAPIError            TradeStatus = "API_ERROR"
	TradeStatusSkipped             TradeStatus = "SKIPPED"
	TradeStatusPendingConfirmation TradeStatus = "PENDING_CONFIRMATION"
)

// IsFailure reports whether the status counts as a failed execution.
func (s TradeStatus) IsFailure() bool {
	switch s {
	case TradeStatusSymbolNotFound, TradeStatusInvalidKey, TradeStatusAPIError:
		return true
	}
	return false
}

// TradeResult is the outcome of one operation against one subscriber account.
type TradeResult struct {
	SubscriberID     int64       `json:"subscriber_id"`
	Username         string      `json:"username,omitempty"`
	Status           TradeStatus `json:"status"`
	Message          string      `json:"message"`
	OrderID          string      `json:"order_id,omitempty"`
	Quantity         string      `json:"quantity,omitempty"`
	ActualValue      *float64    `json:"actual_value,omitempty"`
	Side             Direction   `json:"side,omitempty"`
	OrderType        OrderKind   `json:"order_type,omitempty"`
	EntryPrice       *float64    `json:"entry_price,omitempty"`
	AvailableBalance *float64    `json:"available_balance,omitempty"`
}

// TradeHistory is the append-only audit row written for every execution.
type TradeHistory struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	TelegramID   int64       `gorm:"column:telegram_id;index;not null" json:"telegram_id"`
	SignalID     string      `gorm:"size:64;index;not null" json:"signal_id"`
	BroadcastID  string      `gorm:"size:36;index" json:"broadcast_id"`
	Symbol       string      `gorm:"size:30" json:"symbol"`
	Side         Direction   `gorm:"size:10" json:"side"`
	OrderType    OrderKind   `gorm:"size:10" json:"order_type"`
	Quantity     string      `gorm:"size:40" json:"quantity,omitempty"`
	EntryPrice   *float64    `json:"entry_price,omitempty"`
	Status       TradeStatus `gorm:"size:30;index" json:"status"`
	ErrorMessage *string     `gorm:"type:text" json:"error_message,omitempty"`
	OrderID      string      `gorm:"size:64" json:"order_id,omitempty"`
	ExecutedAt   time.Time   `json:"executed_at"`
}

func (TradeHistory) TableName() string { return "trade_history" }

// NewTradeHistory builds the audit row for a result produced by a signal execution.
func NewTradeHistory(sig *Signal, res *TradeResult, broadcastID string, at time.Time) *TradeHistory {
	h := &TradeHistory{
		TelegramID:  res.SubscriberID,
		SignalID:    sig.SignalID,
		BroadcastID: broadcastID,
		Symbol:      sig.Symbol,
		Side:        sig.Direction,
		OrderType:   sig.OrderKind,
		Quantity:    res.Quantity,
		EntryPrice:  res.EntryPrice,
		Status:      res.Status,
		OrderID:     res.OrderID,
		ExecutedAt:  at,
	}
	if res.Status != TradeStatusSuccess && res.Message != "" {
		msg := res.Message
		h.ErrorMessage = &msg
	}
	return h
}
