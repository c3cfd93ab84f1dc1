// Package bot routes Telegram updates to the relay: subscriber commands,
// registration, admin signal commands and confirmation buttons.
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"signalrelay/src/broadcast"
	"signalrelay/src/confirmation"
	"signalrelay/src/connectors"
	"signalrelay/src/controller"
	"signalrelay/src/formatter"
	"signalrelay/src/model"
	"signalrelay/src/parser"
	"signalrelay/src/registration"
	"signalrelay/src/repository"
)

const module = "bot"

// ChatTransport is the subset of the Telegram Bot API the dispatcher drives.
// Implemented by connectors.TelegramClient.
type ChatTransport interface {
	SendMessage(ctx context.Context, msg model.OutgoingMessage) (int64, error)
	EditMessage(ctx context.Context, chatID, messageID int64, text, parseMode string) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	GetChatMemberStatus(ctx context.Context, chatID, userID int64) (string, error)
}

type SubscriberStore interface {
	Add(ctx context.Context, in repository.NewSubscriber) (*model.Subscriber, error)
	Get(ctx context.Context, telegramID int64) (*model.Subscriber, error)
	UpdateTradeAmount(ctx context.Context, telegramID int64, amount float64) (bool, error)
	UpdateMaxLeverage(ctx context.Context, telegramID int64, leverage int) (bool, error)
	UpdateTradeMode(ctx context.Context, telegramID int64, mode model.TradeMode) (bool, error)
	Deactivate(ctx context.Context, telegramID int64) (bool, error)
}

type SignalStore interface {
	Close(ctx context.Context, signalID string, at time.Time) (bool, error)
	ApplyUpdate(ctx context.Context, upd *model.SignalUpdate) (bool, error)
}

type StatsSource interface {
	Stats(ctx context.Context) (model.Stats, error)
}

type Broadcaster interface {
	BroadcastSignal(ctx context.Context, sig *model.Signal) (*broadcast.SignalResult, error)
	BroadcastClose(ctx context.Context, cls *model.SignalClose) ([]model.TradeResult, error)
	BroadcastLeverage(ctx context.Context, lev *model.SignalLeverage) ([]model.TradeResult, error)
}

type Confirmations interface {
	Window() time.Duration
	Open(ctx context.Context, sig *model.Signal, telegramID int64, kind model.ConfirmationKind, offered *float64) (*model.PendingConfirmation, error)
	ReducedBalanceOffer(res *model.TradeResult) (float64, bool)
	Confirm(ctx context.Context, signalID string, telegramID int64) (*confirmation.Outcome, error)
	ConfirmWithAmount(ctx context.Context, signalID string, telegramID int64, amount float64) (*confirmation.Outcome, error)
	Reject(ctx context.Context, signalID string, telegramID int64) error
}

var (
	_ ChatTransport   = (*connectors.TelegramClient)(nil)
	_ UpdateSource    = (*connectors.TelegramClient)(nil)
	_ SubscriberStore = (*repository.SubscriberRepository)(nil)
	_ SignalStore     = (*repository.SignalRepository)(nil)
	_ StatsSource     = (*repository.StatsRepository)(nil)
	_ Broadcaster     = (*broadcast.Engine)(nil)
	_ Confirmations   = (*confirmation.Controller)(nil)
)

// Dependencies wires the dispatcher. Exceptions may be nil.
type Dependencies struct {
	Transport     ChatTransport
	Subscribers   SubscriberStore
	Signals       SignalStore
	Stats         StatsSource
	Engine        Broadcaster
	Confirmations Confirmations
	Clients       connectors.ClientFactory
	Exceptions    controller.ExceptionRecorder
}

type Dispatcher struct {
	logger       *logrus.Entry
	deps         Dependencies
	cfg          Config
	parser       *parser.Parser
	registration *registration.Flow
	botID        int64
	now          func() time.Time
}

func NewDispatcher(logger *logrus.Entry, deps Dependencies, cfg Config) *Dispatcher {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	d := &Dispatcher{
		logger:       logger,
		deps:         deps,
		cfg:          cfg,
		registration: registration.NewFlow(cfg.RegistrationTTL),
		botID:        connectors.BotIDFromToken(cfg.BotToken),
		now:          time.Now,
	}
	d.parser = parser.New(func() time.Time { return d.now() })
	return d
}

// HandleUpdate processes one update to completion. It never panics.
func (d *Dispatcher) HandleUpdate(ctx context.Context, upd *model.TelegramUpdate) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic handling update %d: %v", upd.UpdateID, r)
			controller.Capture(ctx, d.deps.Exceptions, controller.ServiceName, module, "HandleUpdate", "critical", err,
				map[string]interface{}{"update_id": upd.UpdateID})
		}
	}()

	if upd.CallbackQuery != nil {
		d.handleCallback(ctx, upd.CallbackQuery)
		return
	}

	msg := upd.EffectiveMessage()
	if msg == nil {
		return
	}
	if len(msg.NewChatMembers) > 0 {
		d.handleMembersJoined(ctx, msg)
		return
	}
	if msg.Text == "" {
		return
	}

	name, args := parser.SplitCommand(msg.Text)
	if d.handleSubscriberCommand(ctx, msg, name, args) {
		return
	}
	if msg.Chat.Type == model.ChatTypePrivate && name == "" && msg.From != nil {
		if _, active := d.registration.State(msg.From.ID); active {
			d.handleRegistrationInput(ctx, msg)
			return
		}
	}
	d.handleSignalMessage(ctx, msg, name, args)
}

func (d *Dispatcher) handleMembersJoined(ctx context.Context, msg *model.TelegramMessage) {
	for _, member := range msg.NewChatMembers {
		if member.ID == d.botID && d.botID != 0 {
			d.reply(ctx, msg.Chat.ID, formatter.BotAdded(msg.Chat.ID), model.ParseModeMarkdown)
			return
		}
	}
}

// canPublish reports whether msg may carry admin signal commands.
func (d *Dispatcher) canPublish(ctx context.Context, msg *model.TelegramMessage) bool {
	if msg.Chat.Type == model.ChatTypePrivate {
		return msg.From != nil && msg.From.ID == d.cfg.AdminTelegramID
	}
	if msg.Chat.ID != d.cfg.SignalChannelID {
		return false
	}
	if msg.Chat.Type == model.ChatTypeChannel {
		return true
	}
	if msg.From == nil {
		return false
	}
	if msg.From.ID == d.cfg.AdminTelegramID {
		return true
	}

	status, err := d.deps.Transport.GetChatMemberStatus(ctx, msg.Chat.ID, msg.From.ID)
	if err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{"chat_id": msg.Chat.ID, "user_id": msg.From.ID}).
			Warn("Could not check chat member status")
		return false
	}
	return status == "creator" || status == "administrator"
}

// ----- sending -----

// reply sends text to chatID. Failures are logged and counted, never returned.
func (d *Dispatcher) reply(ctx context.Context, chatID int64, text, parseMode string) {
	d.send(ctx, model.OutgoingMessage{ChatID: chatID, Text: text, ParseMode: parseMode})
}

func (d *Dispatcher) send(ctx context.Context, msg model.OutgoingMessage) {
	if _, err := d.deps.Transport.SendMessage(ctx, msg); err != nil {
		broadcast.NotificationsFailed.Inc()
		d.logger.WithError(err).WithField("chat_id", msg.ChatID).Warn("Failed to send message")
	}
}

func (d *Dispatcher) edit(ctx context.Context, chatID, messageID int64, text, parseMode string) {
	if messageID == 0 {
		d.reply(ctx, chatID, text, parseMode)
		return
	}
	if err := d.deps.Transport.EditMessage(ctx, chatID, messageID, text, parseMode); err != nil {
		broadcast.NotificationsFailed.Inc()
		d.logger.WithError(err).WithFields(logrus.Fields{"chat_id": chatID, "message_id": messageID}).
			Warn("Failed to edit message")
	}
}
