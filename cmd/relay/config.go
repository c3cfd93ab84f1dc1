package relay

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppName    string `envconfig:"APP_NAME" default:"Mudrex Signal Relay"`
	AppVersion string `envconfig:"APP_VERSION" default:"dev"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
