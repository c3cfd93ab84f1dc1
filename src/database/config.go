package database

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// DatabaseURL selects postgres when set, otherwise DatabasePath is opened with sqlite.
	DatabaseURL  string `envconfig:"DATABASE_URL"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"subscribers.db"`
	GormLogLevel int    `envconfig:"GORM_LOG_LEVEL" default:"2"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
