package bot

import (
	"context"
	"errors"
	"strings"

	"signalrelay/src/controller"
	"signalrelay/src/formatter"
	"signalrelay/src/model"
	"signalrelay/src/registration"
	"signalrelay/src/repository"
)

// handleSubscriberCommand answers the commands any user may send. It reports
// whether name was one of them.
func (d *Dispatcher) handleSubscriberCommand(ctx context.Context, msg *model.TelegramMessage, name, args string) bool {
	chatID := msg.Chat.ID
	if name == "chatid" {
		d.reply(ctx, chatID, formatter.ChatID(chatID), model.ParseModeMarkdown)
		return true
	}
	// Everything else is a direct-message conversation with a person.
	if msg.Chat.Type != model.ChatTypePrivate || msg.From == nil {
		return false
	}
	user := msg.From

	switch name {
	case "start":
		sub := d.subscriber(ctx, user.ID)
		d.reply(ctx, chatID, formatter.Welcome(user.FirstName, sub), model.ParseModeMarkdown)
	case "status":
		sub := d.subscriber(ctx, user.ID)
		if sub == nil {
			d.reply(ctx, chatID, formatter.NotRegistered, model.ParseModeMarkdown)
			return true
		}
		d.reply(ctx, chatID, formatter.Status(sub), model.ParseModeMarkdown)
	case "register":
		d.startRegistration(ctx, msg)
	case "cancel":
		if d.registration.Cancel(user.ID) {
			d.reply(ctx, chatID, formatter.RegistrationCancelled, "")
		}
	case "skip":
		d.skipAmount(ctx, msg)
	case "setamount":
		d.setAmount(ctx, msg, args)
	case "setleverage":
		d.setLeverage(ctx, msg, args)
	case "setmode":
		d.setMode(ctx, msg, args)
	case "unregister":
		d.unregister(ctx, msg)
	case "adminstats":
		d.adminStats(ctx, msg)
	default:
		return false
	}
	return true
}

// subscriber returns the active subscriber or nil. Store errors are logged.
func (d *Dispatcher) subscriber(ctx context.Context, telegramID int64) *model.Subscriber {
	sub, err := d.deps.Subscribers.Get(ctx, telegramID)
	if err != nil {
		d.logger.WithError(err).WithField("telegram_id", telegramID).Error("Failed to load subscriber")
		return nil
	}
	if sub == nil || !sub.IsActive {
		return nil
	}
	return sub
}

// ----- registration -----

func (d *Dispatcher) startRegistration(ctx context.Context, msg *model.TelegramMessage) {
	if !d.cfg.AllowRegistration {
		d.reply(ctx, msg.Chat.ID, formatter.RegistrationClosed, "")
		return
	}
	if d.subscriber(ctx, msg.From.ID) != nil {
		d.reply(ctx, msg.Chat.ID, formatter.AlreadyRegistered, "")
		return
	}
	d.registration.Start(msg.From.ID)
	d.reply(ctx, msg.Chat.ID, formatter.RegisterStepKey(), model.ParseModeMarkdown)
}

func (d *Dispatcher) handleRegistrationInput(ctx context.Context, msg *model.TelegramMessage) {
	userID, chatID := msg.From.ID, msg.Chat.ID
	state, _ := d.registration.State(userID)

	switch state {
	case registration.AwaitingKey:
		d.deleteSecret(ctx, msg)
		if err := d.registration.SubmitKey(userID, msg.Text); err != nil {
			d.reply(ctx, chatID, formatter.InvalidAPIKey, "")
			return
		}
		d.reply(ctx, chatID, formatter.RegisterStepSecret(), model.ParseModeMarkdown)

	case registration.AwaitingSecret:
		d.deleteSecret(ctx, msg)
		if err := d.registration.SubmitSecret(userID, msg.Text); err != nil {
			d.reply(ctx, chatID, formatter.InvalidAPISecret, "")
			return
		}
		d.reply(ctx, chatID, formatter.RegisterStepAmount(d.cfg.DefaultTradeAmount), model.ParseModeMarkdown)

	case registration.AwaitingAmount:
		if _, err := d.registration.SubmitAmount(userID, msg.Text); err != nil {
			d.reply(ctx, chatID, formatter.InvalidRegisterAmount, "")
			return
		}
		d.completeRegistration(ctx, msg)
	}
}

func (d *Dispatcher) skipAmount(ctx context.Context, msg *model.TelegramMessage) {
	if err := d.registration.Skip(msg.From.ID, d.cfg.DefaultTradeAmount); err != nil {
		return
	}
	d.completeRegistration(ctx, msg)
}

// deleteSecret removes a message holding a credential from the chat history.
func (d *Dispatcher) deleteSecret(ctx context.Context, msg *model.TelegramMessage) {
	if err := d.deps.Transport.DeleteMessage(ctx, msg.Chat.ID, msg.MessageID); err != nil {
		d.logger.WithError(err).WithField("chat_id", msg.Chat.ID).Warn("Could not delete credential message")
	}
}

func (d *Dispatcher) completeRegistration(ctx context.Context, msg *model.TelegramMessage) {
	user, chatID := msg.From, msg.Chat.ID
	creds, err := d.registration.Complete(user.ID)
	if err != nil {
		d.reply(ctx, chatID, formatter.RegistrationRestart, "")
		return
	}

	d.reply(ctx, chatID, formatter.ValidatingCredentials, "")
	if text, ok := d.validateCredentials(ctx, creds); !ok {
		d.reply(ctx, chatID, text, parseModeFor(text))
		return
	}

	_, err = d.deps.Subscribers.Add(ctx, repository.NewSubscriber{
		TelegramID:      user.ID,
		Username:        user.Username,
		APIKey:          creds.APIKey,
		APISecret:       creds.APISecret,
		TradeAmountUSDT: creds.Amount,
		MaxLeverage:     d.cfg.DefaultMaxLeverage,
	})
	if err != nil {
		d.logger.WithError(err).WithField("telegram_id", user.ID).Error("Failed to store subscriber")
		d.reply(ctx, chatID, formatter.RegistrationFailed(err), "")
		return
	}

	d.logger.WithField("telegram_id", user.ID).Info("Subscriber registered")
	d.reply(ctx, chatID, formatter.RegistrationComplete(creds.Amount, d.cfg.DefaultMaxLeverage, d.cfg.MinOrderValue), "")
}

// validateCredentials reads the account balance with the new credentials.
// On failure it returns the reply to send.
func (d *Dispatcher) validateCredentials(ctx context.Context, creds registration.Credentials) (string, bool) {
	probe := &model.Subscriber{PlainAPIKey: creds.APIKey, PlainAPISecret: creds.APISecret}
	client, err := d.deps.Clients.ClientFor(probe)
	if err != nil {
		return formatter.ValidationFailed(err), false
	}

	vctx, cancel := context.WithTimeout(ctx, d.cfg.ValidationTimeout)
	defer cancel()
	if _, err := client.GetBalance(vctx); err != nil {
		d.logger.WithError(err).Info("Credential validation failed")
		if errors.Is(err, context.DeadlineExceeded) {
			return formatter.ValidationTimedOut, false
		}
		if status, _ := controller.ClassifyError(err); status == model.TradeStatusInvalidKey {
			return formatter.InvalidCredentials, false
		}
		return formatter.ValidationFailed(err), false
	}
	return "", true
}

// parseModeFor marks the canned credential replies as Markdown. Replies that
// embed an error string stay plain.
func parseModeFor(text string) string {
	if text == formatter.ValidationTimedOut || text == formatter.InvalidCredentials {
		return model.ParseModeMarkdown
	}
	return ""
}

// ----- settings -----

func (d *Dispatcher) setAmount(ctx context.Context, msg *model.TelegramMessage, args string) {
	sub := d.subscriber(ctx, msg.From.ID)
	if sub == nil {
		d.reply(ctx, msg.Chat.ID, formatter.NotRegisteredShort, "")
		return
	}
	if strings.TrimSpace(args) == "" {
		d.reply(ctx, msg.Chat.ID, formatter.SetAmountUsage(sub.TradeAmountUSDT), model.ParseModeMarkdown)
		return
	}
	amount, err := registration.ParseAmount(args)
	if err != nil {
		d.reply(ctx, msg.Chat.ID, formatter.SetAmountInvalid, "")
		return
	}
	if _, err := d.deps.Subscribers.UpdateTradeAmount(ctx, sub.TelegramID, amount); err != nil {
		d.storeFailure(ctx, msg, "UpdateTradeAmount", err)
		return
	}
	d.reply(ctx, msg.Chat.ID, formatter.AmountUpdated(amount), model.ParseModeMarkdown)
}

func (d *Dispatcher) setLeverage(ctx context.Context, msg *model.TelegramMessage, args string) {
	sub := d.subscriber(ctx, msg.From.ID)
	if sub == nil {
		d.reply(ctx, msg.Chat.ID, formatter.NotRegisteredShort, "")
		return
	}
	if strings.TrimSpace(args) == "" {
		d.reply(ctx, msg.Chat.ID, formatter.SetLeverageUsage(sub.MaxLeverage), model.ParseModeMarkdown)
		return
	}
	leverage, err := registration.ParseLeverage(args)
	if err != nil {
		d.reply(ctx, msg.Chat.ID, formatter.SetLeverageInvalid, "")
		return
	}
	if _, err := d.deps.Subscribers.UpdateMaxLeverage(ctx, sub.TelegramID, leverage); err != nil {
		d.storeFailure(ctx, msg, "UpdateMaxLeverage", err)
		return
	}
	d.reply(ctx, msg.Chat.ID, formatter.LeverageUpdated(leverage), model.ParseModeMarkdown)
}

func (d *Dispatcher) setMode(ctx context.Context, msg *model.TelegramMessage, args string) {
	sub := d.subscriber(ctx, msg.From.ID)
	if sub == nil {
		d.reply(ctx, msg.Chat.ID, formatter.NotRegisteredShort, "")
		return
	}

	var mode model.TradeMode
	switch strings.ToLower(strings.TrimSpace(args)) {
	case "":
		d.reply(ctx, msg.Chat.ID, formatter.ModeUsage(sub.TradeMode), model.ParseModeMarkdown)
		return
	case "auto":
		mode = model.TradeModeAuto
	case "manual":
		mode = model.TradeModeManual
	default:
		d.reply(ctx, msg.Chat.ID, formatter.InvalidMode, model.ParseModeMarkdown)
		return
	}

	if _, err := d.deps.Subscribers.UpdateTradeMode(ctx, sub.TelegramID, mode); err != nil {
		d.storeFailure(ctx, msg, "UpdateTradeMode", err)
		return
	}
	d.reply(ctx, msg.Chat.ID, formatter.ModeUpdated(mode, d.deps.Confirmations.Window()), model.ParseModeMarkdown)
}

func (d *Dispatcher) unregister(ctx context.Context, msg *model.TelegramMessage) {
	ok, err := d.deps.Subscribers.Deactivate(ctx, msg.From.ID)
	if err != nil {
		d.storeFailure(ctx, msg, "Deactivate", err)
		return
	}
	if !ok {
		d.reply(ctx, msg.Chat.ID, formatter.UnregisterNotFound, "")
		return
	}
	d.reply(ctx, msg.Chat.ID, formatter.Unregistered, "")
}

func (d *Dispatcher) adminStats(ctx context.Context, msg *model.TelegramMessage) {
	if msg.From.ID != d.cfg.AdminTelegramID {
		return
	}
	stats, err := d.deps.Stats.Stats(ctx)
	if err != nil {
		d.storeFailure(ctx, msg, "Stats", err)
		return
	}
	d.reply(ctx, msg.Chat.ID, formatter.AdminStats(stats), model.ParseModeMarkdown)
}

func (d *Dispatcher) storeFailure(ctx context.Context, msg *model.TelegramMessage, op string, err error) {
	d.logger.WithError(err).WithFields(map[string]interface{}{"op": op, "telegram_id": msg.From.ID}).
		Error("Store operation failed")
	d.reply(ctx, msg.Chat.ID, "❌ Something went wrong. Please try again later.", "")
}
