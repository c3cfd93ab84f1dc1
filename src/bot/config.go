package bot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

var validate = validator.New()

type Config struct {
	BotToken          string `envconfig:"TELEGRAM_BOT_TOKEN" validate:"required"`
	AdminTelegramID   int64  `envconfig:"ADMIN_TELEGRAM_ID" validate:"required"`
	SignalChannelID   int64  `envconfig:"SIGNAL_CHANNEL_ID" validate:"required"`
	AllowRegistration bool   `envconfig:"ALLOW_REGISTRATION" default:"true"`
	EncryptionSecret  string `envconfig:"ENCRYPTION_SECRET" validate:"required,min=16"`

	DefaultTradeAmount float64 `envconfig:"DEFAULT_TRADE_AMOUNT" default:"50" validate:"gte=1,lte=10000"`
	DefaultMaxLeverage int     `envconfig:"DEFAULT_MAX_LEVERAGE" default:"10" validate:"gte=1,lte=125"`

	WebhookURL    string `envconfig:"WEBHOOK_URL" validate:"omitempty,url"`
	WebhookPath   string `envconfig:"WEBHOOK_PATH" default:"/webhook" validate:"startswith=/"`
	WebhookSecret string `envconfig:"WEBHOOK_SECRET" validate:"omitempty,max=256,alphanum"`

	ValidationTimeout time.Duration `envconfig:"CREDENTIAL_VALIDATION_TIMEOUT" default:"15s"`
	RegistrationTTL   time.Duration `envconfig:"REGISTRATION_TTL" default:"30m"`
	PollTimeout       time.Duration `envconfig:"POLL_TIMEOUT" default:"30s"`

	// MinOrderValue is shown in the registration notice. Set from the
	// broadcast configuration.
	MinOrderValue float64 `ignored:"true"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Validate checks the settings the bot cannot start without.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		return fmt.Errorf("invalid bot config: %s failed %q", fields[0].Field(), fields[0].Tag())
	}
	return fmt.Errorf("invalid bot config: %w", err)
}

// WebhookEndpoint is the full URL registered with Telegram.
func (c Config) WebhookEndpoint() string {
	if c.WebhookURL == "" {
		return ""
	}
	return strings.TrimRight(c.WebhookURL, "/") + c.WebhookPath
}
