// Package single runs the relay for one exchange account configured from env.
package single

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"signalrelay/src/connectors"
	"signalrelay/src/database"
	"signalrelay/src/executors"
	"signalrelay/src/parser"
	"signalrelay/src/repository"
)

type Single struct {
	Log *logrus.Entry
}

func (s *Single) Start() error {
	log := s.Log
	if log == nil {
		log = logrus.WithField("cmd", "single")
	}

	config := executors.GetConfig()
	connectorConfig := connectors.GetConfig()
	if connectorConfig.TelegramBotToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	db, err := database.Open(database.GetConfig())
	if err != nil {
		log.WithError(err).Error("Failed to connect to database")
		return err
	}
	defer func() { _ = database.Close(db) }()

	client := connectors.NewMudrexClient(config.APISecret, connectorConfig.MudrexBaseURL, connectorConfig.ExchangeTimeout)
	telegram := connectors.NewTelegramClient(connectorConfig.TelegramBotToken, connectorConfig)
	if err := telegram.DeleteWebhook(ctx); err != nil {
		log.WithError(err).Warn("Failed to delete webhook before polling")
	}

	exec := executors.NewTradeExecutor(log, client, repository.NewTrackedSignalRepository(db), config)

	log.WithFields(logrus.Fields{
		"trade_amount": config.TradeAmount,
		"max_leverage": config.MaxLeverage,
	}).Info("Starting single-account executor")

	if err := executors.StartLoop(ctx, telegram, exec, parser.New(time.Now), config); err != nil {
		log.WithError(err).Error("Failed to start executor loop")
		return err
	}
	return nil
}
