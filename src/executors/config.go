package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config drives the single-account runner.
type Config struct {
	APISecret       string        `envconfig:"MUDREX_API_SECRET" required:"true"`
	TradeAmount     float64       `envconfig:"TRADE_AMOUNT_USDT" default:"50"`
	MaxLeverage     int           `envconfig:"MAX_LEVERAGE" default:"10"`
	MinOrderValue   float64       `envconfig:"MIN_ORDER_VALUE" default:"8"`
	SignalChannelID int64         `envconfig:"SIGNAL_CHANNEL_ID"`
	AdminTelegramID int64         `envconfig:"ADMIN_TELEGRAM_ID"`
	LoopPeriod      time.Duration `envconfig:"LOOP_PERIOD" default:"30s"`
	PollTimeout     time.Duration `envconfig:"POLL_TIMEOUT" default:"30s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
