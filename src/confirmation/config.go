package confirmation

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Window time.Duration `envconfig:"CONFIRMATION_WINDOW" default:"5m"`
	// ReducedBalanceMin is the smallest balance worth offering a reduced trade for.
	ReducedBalanceMin float64 `envconfig:"REDUCED_BALANCE_MIN" default:"1.0"`
	SweepSpec         string  `envconfig:"EXPIRY_SWEEP_SPEC" default:"@every 1m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
