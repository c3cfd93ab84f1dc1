package bot

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"signalrelay/src/confirmation"
	"signalrelay/src/controller"
	"signalrelay/src/formatter"
	"signalrelay/src/model"
)

// handleCallback resolves a confirmation button press and replaces the
// confirmation message with the outcome.
func (d *Dispatcher) handleCallback(ctx context.Context, q *model.TelegramCallbackQuery) {
	cb, err := confirmation.DecodeCallback(q.Data)
	if err != nil {
		d.answer(ctx, q.ID, "Invalid request")
		return
	}
	d.answer(ctx, q.ID, "")

	telegramID := q.From.ID
	chatID, messageID := telegramID, int64(0)
	if q.Message != nil {
		chatID, messageID = q.Message.Chat.ID, q.Message.MessageID
	}
	log := d.logger.WithFields(logrus.Fields{"op": "handleCallback", "action": cb.Action, "signal_id": cb.SignalID, "telegram_id": telegramID})

	var out *confirmation.Outcome
	switch cb.Action {
	case confirmation.ActionReject:
		if err = d.deps.Confirmations.Reject(ctx, cb.SignalID, telegramID); err == nil {
			d.edit(ctx, chatID, messageID, formatter.TradeSkipped(cb.SignalID), model.ParseModeMarkdown)
			return
		}
	case confirmation.ActionConfirm:
		d.edit(ctx, chatID, messageID, formatter.Executing(cb.SignalID, nil), model.ParseModeMarkdown)
		out, err = d.deps.Confirmations.Confirm(ctx, cb.SignalID, telegramID)
	case confirmation.ActionBalance:
		amount := cb.Amount
		d.edit(ctx, chatID, messageID, formatter.Executing(cb.SignalID, &amount), model.ParseModeMarkdown)
		out, err = d.deps.Confirmations.ConfirmWithAmount(ctx, cb.SignalID, telegramID, amount)
	}

	if err != nil {
		text, parseMode := confirmationErrorText(cb.SignalID, err)
		if parseMode == "" {
			log.WithError(err).Error("Confirmation failed")
			controller.Capture(ctx, d.deps.Exceptions, controller.ServiceName, module, "handleCallback", "error", err,
				map[string]interface{}{"signal_id": cb.SignalID, "telegram_id": telegramID})
		} else {
			log.WithError(err).Info("Confirmation refused")
		}
		d.edit(ctx, chatID, messageID, text, parseMode)
		return
	}
	d.edit(ctx, chatID, messageID, formatter.TradeNotification(out.Signal, &out.Result), "")
}

// confirmationErrorText maps a confirmation error to the reply shown in
// place of the buttons. Unexpected errors come back without a parse mode.
func confirmationErrorText(signalID string, err error) (string, string) {
	switch {
	case errors.Is(err, confirmation.ErrNotRegistered):
		return formatter.NotRegisteredAnymore, model.ParseModeMarkdown
	case errors.Is(err, confirmation.ErrSignalNotFound):
		return formatter.SignalNotFound(signalID), model.ParseModeMarkdown
	case errors.Is(err, confirmation.ErrExpired):
		return formatter.ConfirmationExpired(signalID), model.ParseModeMarkdown
	case errors.Is(err, confirmation.ErrAlreadyResolved), errors.Is(err, confirmation.ErrNoPending):
		return formatter.AlreadyHandled(signalID), model.ParseModeMarkdown
	case errors.Is(err, confirmation.ErrInvalidAmount):
		return formatter.InvalidAmount, model.ParseModeMarkdown
	}
	return formatter.InvalidRequest, ""
}

func (d *Dispatcher) answer(ctx context.Context, callbackID, text string) {
	if err := d.deps.Transport.AnswerCallback(ctx, callbackID, text); err != nil {
		d.logger.WithError(err).Debug("Failed to answer callback")
	}
}
