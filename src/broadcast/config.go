package broadcast

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	MinOrderValue float64 `envconfig:"MIN_ORDER_VALUE" default:"8"`
	// Concurrency caps in-flight subscriber tasks. Zero runs all of them at once.
	Concurrency int `envconfig:"BROADCAST_CONCURRENCY" default:"0"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
