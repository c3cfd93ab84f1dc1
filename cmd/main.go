package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"signalrelay/cmd/relay"
	"signalrelay/cmd/single"
	"signalrelay/cmd/subscriber"
)

var Version string

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	app := cli.NewApp()
	app.Name = "Signal Relay CMD"
	app.Usage = "The signal relay command line interface"
	app.Version = Version

	app.Commands = []cli.Command{
		botCMD,
		singleCMD,
		subscriberCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var idFlag = cli.Int64Flag{
	Name:  "id",
	Usage: "subscriber Telegram id",
}

var (
	botCMD = cli.Command{
		Name:        "bot",
		Usage:       "run the signal relay bot",
		Action:      botAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the multi-subscriber relay (webhook or polling) with its HTTP server`,
	}
	singleCMD = cli.Command{
		Name:        "single",
		Usage:       "run the single-account executor",
		Action:      singleAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Execute admin signals on the account configured by MUDREX_API_SECRET`,
	}
	subscriberCMD = cli.Command{
		Name:  "subscriber",
		Usage: "manage subscribers",
		Subcommands: []cli.Command{
			{
				Name:   "list",
				Usage:  "list every subscriber",
				Action: withStore(func(ctx context.Context, c *cli.Context, s *subscriber.Store) error { return s.List(ctx, os.Stdout) }),
			},
			{
				Name:   "deactivate",
				Usage:  "stop sending signals to a subscriber",
				Flags:  []cli.Flag{idFlag},
				Action: withStore(func(ctx context.Context, c *cli.Context, s *subscriber.Store) error { return s.Deactivate(ctx, os.Stdout, c.Int64("id")) }),
			},
			{
				Name:   "delete",
				Usage:  "permanently delete a subscriber",
				Flags:  []cli.Flag{idFlag},
				Action: withStore(func(ctx context.Context, c *cli.Context, s *subscriber.Store) error { return s.Delete(ctx, os.Stdout, c.Int64("id")) }),
			},
			{
				Name:   "exceptions",
				Usage:  "print the newest captured exceptions",
				Flags:  []cli.Flag{cli.IntFlag{Name: "limit", Value: 20, Usage: "rows to print"}},
				Action: withStore(func(ctx context.Context, c *cli.Context, s *subscriber.Store) error { return s.Exceptions(ctx, os.Stdout, c.Int("limit")) }),
			},
			{
				Name:   "stats",
				Usage:  "print store counters",
				Action: withStore(func(ctx context.Context, c *cli.Context, s *subscriber.Store) error { return s.Stats(ctx, os.Stdout) }),
			},
		},
	}
)

func botAction(_ *cli.Context) error {
	logrus.Info("Starting signal relay CMD")

	r := &relay.Relay{Log: logrus.WithField("cmd", "bot")}
	if err := r.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func singleAction(_ *cli.Context) error {
	logrus.Info("Starting single-account executor CMD")

	s := &single.Single{Log: logrus.WithField("cmd", "single")}
	if err := s.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func withStore(fn func(ctx context.Context, c *cli.Context, s *subscriber.Store) error) func(*cli.Context) error {
	return func(c *cli.Context) error {
		if !c.IsSet("id") && (c.Command.Name == "deactivate" || c.Command.Name == "delete") {
			return fmt.Errorf("--id is required")
		}
		store, err := subscriber.Open()
		if err != nil {
			logrus.WithError(err).Error("Failed to open subscriber store")
			return err
		}
		defer func() { _ = store.Close() }()
		return fn(context.Background(), c, store)
	}
}
