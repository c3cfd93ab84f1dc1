// Package relay wires the multi-subscriber bot: store, exchange clients,
// broadcast engine, confirmation controller, dispatcher and HTTP server.
package relay

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"signalrelay/src/bot"
	"signalrelay/src/broadcast"
	"signalrelay/src/confirmation"
	"signalrelay/src/connectors"
	"signalrelay/src/database"
	"signalrelay/src/repository"
	"signalrelay/src/security"
	"signalrelay/src/server"
)

type Relay struct {
	Log *logrus.Entry
}

func (r *Relay) Start() error {
	log := r.Log
	if log == nil {
		log = logrus.WithField("cmd", "bot")
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	config := GetConfig()
	botConfig := bot.GetConfig()
	if err := botConfig.Validate(); err != nil {
		return err
	}
	broadcastConfig := broadcast.GetConfig()
	botConfig.MinOrderValue = broadcastConfig.MinOrderValue
	confirmationConfig := confirmation.GetConfig()
	connectorConfig := connectors.GetConfig()

	db, err := database.Open(database.GetConfig())
	if err != nil {
		log.WithError(err).Error("Failed to connect to database")
		return err
	}
	defer func() { _ = database.Close(db) }()

	cipher, err := security.NewCipherFromConfig()
	if err != nil {
		return fmt.Errorf("credential cipher: %w", err)
	}

	subscribers := repository.NewSubscriberRepository(db, cipher)
	signals := repository.NewSignalRepository(db)
	exceptions := repository.NewExceptionRepository(db)
	clients := connectors.NewMudrexFactory(connectorConfig)
	telegram := connectors.NewTelegramClient(botConfig.BotToken, connectorConfig)

	engine := broadcast.NewEngine(log.WithField("component", "broadcast"), broadcast.Dependencies{
		Subscribers: subscribers,
		Signals:     signals,
		History:     repository.NewTradeHistoryRepository(db),
		Exceptions:  exceptions,
		Clients:     clients,
	}, broadcastConfig)

	confirmations := confirmation.NewController(
		log.WithField("component", "confirmation"),
		repository.NewConfirmationRepository(db),
		signals,
		subscribers,
		engine,
		confirmationConfig,
	)

	dispatcher := bot.NewDispatcher(log.WithField("component", "dispatcher"), bot.Dependencies{
		Transport:     telegram,
		Subscribers:   subscribers,
		Signals:       signals,
		Stats:         repository.NewStatsRepository(db),
		Engine:        engine,
		Confirmations: confirmations,
		Clients:       clients,
		Exceptions:    exceptions,
	}, botConfig)

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(confirmationConfig.SweepSpec, func() {
		n, err := confirmations.ExpireStale(ctx)
		if err != nil {
			log.WithError(err).Error("Failed to expire confirmations")
			return
		}
		if n > 0 {
			log.WithField("expired", n).Info("Expired pending confirmations")
		}
	}); err != nil {
		return fmt.Errorf("invalid EXPIRY_SWEEP_SPEC %q: %w", confirmationConfig.SweepSpec, err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	routes := server.Routes{
		Name:        config.AppName,
		Version:     config.AppVersion,
		Subscribers: subscribers,
		Exceptions:  exceptions,
	}
	webhook := botConfig.WebhookURL != ""
	if webhook {
		routes.Updates = dispatcher
		routes.WebhookPath = botConfig.WebhookPath
		routes.WebhookSecret = botConfig.WebhookSecret
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, server.GetConfig().Addr(), server.NewRouter(routes))
	})

	if webhook {
		endpoint := botConfig.WebhookEndpoint()
		if err := telegram.SetWebhook(ctx, endpoint, botConfig.WebhookSecret); err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("set webhook: %w", err)
		}
		log.WithField("url", endpoint).Info("Webhook registered")
	} else {
		if err := telegram.DeleteWebhook(ctx); err != nil {
			log.WithError(err).Warn("Failed to delete webhook before polling")
		}
		g.Go(func() error {
			return dispatcher.Poll(gctx, telegram)
		})
	}

	log.WithFields(logrus.Fields{"name": config.AppName, "webhook": webhook}).Info("Signal relay started")
	return g.Wait()
}
