package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	logger "github.com/sirupsen/logrus"

	"signalrelay/cmd/relay"
)

var APP_NAME = os.Getenv("APP_NAME")

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.DebugLevel
	}

	logger.SetLevel(level)
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		logger.SetFormatter(&logger.JSONFormatter{})
		return
	}
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	_ = godotenv.Load()
	SetupLogger()
	defer handlePanic()

	r := &relay.Relay{Log: logger.WithField("app", APP_NAME)}
	if err := r.Start(); err != nil {
		logger.WithError(err).Fatal("Signal relay stopped")
	}
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
		//nolint
		time.Sleep(time.Second * 5)
	}
}
