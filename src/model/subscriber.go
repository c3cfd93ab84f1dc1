package model

import "time"

type TradeMode string

const (
	TradeModeAuto   TradeMode = "AUTO"
	TradeModeManual TradeMode = "MANUAL"
)

// Subscriber is a follower account that receives broadcast signals.
// APIKey/APISecret hold ciphertext in the database; the repository decrypts them
// into the Plain* fields on read.
type Subscriber struct {
	TelegramID      int64     `gorm:"primaryKey;autoIncrement:false;column:telegram_id" json:"telegram_id"`
	Username        string    `gorm:"size:100" json:"username"`
	APIKey          string    `gorm:"column:api_key;type:text;not null" json:"-"`
	APISecret       string    `gorm:"column:api_secret;type:text;not null" json:"-"`
	TradeAmountUSDT float64   `gorm:"column:trade_amount_usdt;not null" json:"trade_amount_usdt"`
	MaxLeverage     int       `gorm:"column:max_leverage;not null" json:"max_leverage"`
	IsActive        bool      `gorm:"column:is_active;index" json:"is_active"`
	TradeMode       TradeMode `gorm:"column:trade_mode;size:10;default:AUTO" json:"trade_mode"`
	TotalTrades     int       `gorm:"column:total_trades;default:0" json:"total_trades"`
	TotalPnL        float64   `gorm:"column:total_pnl;default:0" json:"total_pnl"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	PlainAPIKey    string `gorm:"-" json:"-"`
	PlainAPISecret string `gorm:"-" json:"-"`
}

func (Subscriber) TableName() string { return "subscribers" }

// IsAuto reports whether signals execute without confirmation.
// Anything that is not explicitly MANUAL is treated as AUTO.
func (s *Subscriber) IsAuto() bool {
	return s.TradeMode != TradeModeManual
}

// DisplayName is the handle used in admin-facing messages.
func (s *Subscriber) DisplayName() string {
	if s.Username != "" {
		return "@" + s.Username
	}
	return "user"
}

// Stats aggregates store-wide counters.
type Stats struct {
	TotalSubscribers  int64   `json:"total_subscribers"`
	ActiveSubscribers int64   `json:"active_subscribers"`
	TotalTrades       int64   `json:"total_trades"`
	TotalPnL          float64 `json:"total_pnl"`
	ActiveSignals     int64   `json:"active_signals"`
}
