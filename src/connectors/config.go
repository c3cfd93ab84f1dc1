package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	DefaultMudrexBaseURL   = "https://trade.mudrex.com/fapi/v1"
	DefaultTelegramBaseURL = "https://api.telegram.org"
)

type Config struct {
	MudrexBaseURL   string        `envconfig:"MUDREX_BASE_URL" default:"https://trade.mudrex.com/fapi/v1"`
	ExchangeTimeout time.Duration `envconfig:"EXCHANGE_TIMEOUT" default:"15s"`

	TelegramBotToken   string        `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramAPIURL     string        `envconfig:"TELEGRAM_API_URL" default:"https://api.telegram.org"`
	TelegramRatePerSec float64       `envconfig:"TELEGRAM_RATE_PER_SEC" default:"25"`
	TelegramTimeout    time.Duration `envconfig:"TELEGRAM_TIMEOUT" default:"40s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
