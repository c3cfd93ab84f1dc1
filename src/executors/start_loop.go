package executors

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"

	"signalrelay/src/controller"
	"signalrelay/src/formatter"
	"signalrelay/src/model"
	"signalrelay/src/parser"
)

// Chat is the Telegram side of the single-account runner.
type Chat interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]model.TelegramUpdate, error)
	SendMessage(ctx context.Context, msg model.OutgoingMessage) (int64, error)
}

const pollRetryDelay = 3 * time.Second

// StartLoop executes admin commands read from chat and periodically
// reconciles tracked signals with the exchange, until ctx is done.
func StartLoop(ctx context.Context, chat Chat, exec *TradeExecutor, p *parser.Parser, config Config) error {
	ticker := time.NewTicker(config.LoopPeriod) // Set up a ticker that fires periodically
	defer ticker.Stop()

	updates := make(chan model.TelegramUpdate)
	go pollUpdates(ctx, chat, config.PollTimeout, updates)

	for {
		select {
		case <-ctx.Done():
			logger.Println("loop stopped")
			return nil

		case <-ticker.C:
			logger.Debug("loop tick")
			if err := exec.Sync(ctx); err != nil {
				logger.WithError(err).Error("Failed to sync tracked signals")
			}

		case upd := <-updates:
			handleUpdate(ctx, chat, exec, p, config, &upd)
		}
	}
}

func pollUpdates(ctx context.Context, chat Chat, timeout time.Duration, out chan<- model.TelegramUpdate) {
	var offset int64
	for ctx.Err() == nil {
		batch, err := chat.GetUpdates(ctx, offset, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Warn("getUpdates failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollRetryDelay):
			}
			continue
		}
		for _, upd := range batch {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			select {
			case out <- upd:
			case <-ctx.Done():
				return
			}
		}
	}
}

// fromAdmin reports whether msg was published in the signal channel or sent
// by the admin directly.
func fromAdmin(msg *model.TelegramMessage, config Config) bool {
	if config.SignalChannelID != 0 && msg.Chat.ID == config.SignalChannelID {
		return true
	}
	return config.AdminTelegramID != 0 &&
		msg.Chat.Type == model.ChatTypePrivate &&
		msg.From != nil && msg.From.ID == config.AdminTelegramID
}

func handleUpdate(ctx context.Context, chat Chat, exec *TradeExecutor, p *parser.Parser, config Config, upd *model.TelegramUpdate) {
	msg := upd.EffectiveMessage()
	if msg == nil || msg.Text == "" || !fromAdmin(msg, config) {
		return
	}

	reply := func(text, parseMode string) {
		if _, err := chat.SendMessage(ctx, model.OutgoingMessage{ChatID: msg.Chat.ID, Text: text, ParseMode: parseMode}); err != nil {
			logger.WithError(err).WithField("chat_id", msg.Chat.ID).Warn("Failed to send reply")
		}
	}

	cmd, err := p.Parse(msg.Text)
	if err != nil {
		reply(formatter.ParseError(err), "")
		return
	}
	if cmd == nil {
		return
	}

	text, parseMode, err := exec.Handle(ctx, cmd)
	if err != nil {
		logger.WithError(err).WithField("signal_id", cmd.CommandSignalID()).Error("Command failed")
		reply("❌ "+controller.Sanitize(err.Error()), "")
		return
	}
	reply(text, parseMode)
}
