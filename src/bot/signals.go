package bot

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"signalrelay/src/broadcast"
	"signalrelay/src/confirmation"
	"signalrelay/src/controller"
	"signalrelay/src/formatter"
	"signalrelay/src/model"
	"signalrelay/src/parser"
)

// handleSignalMessage parses admin signal commands from an authorised chat
// and runs them. Anything else is ignored.
func (d *Dispatcher) handleSignalMessage(ctx context.Context, msg *model.TelegramMessage, name, args string) {
	if !d.canPublish(ctx, msg) {
		return
	}
	chatID := msg.Chat.ID

	if name == "signal" && strings.TrimSpace(args) == "" {
		d.reply(ctx, chatID, formatter.SignalUsage, model.ParseModeMarkdown)
		return
	}

	cmd, err := d.parser.Parse(msg.Text)
	if err != nil {
		var perr *parser.ParseError
		if !errors.As(err, &perr) {
			d.reply(ctx, chatID, formatter.SignalNotParsed, model.ParseModeMarkdown)
			return
		}
		d.reply(ctx, chatID, formatter.ParseError(err), "")
		return
	}

	switch c := cmd.(type) {
	case nil:
		return
	case *model.Signal:
		d.publishSignal(ctx, chatID, c)
	case *model.SignalUpdate:
		d.updateSignal(ctx, chatID, c)
	case *model.SignalClose:
		d.closeSignal(ctx, chatID, c)
	case *model.SignalLeverage:
		d.changeLeverage(ctx, chatID, c)
	default:
		d.reply(ctx, chatID, formatter.UnknownSignalCommand, "")
	}
}

// ----- signal -----

func (d *Dispatcher) publishSignal(ctx context.Context, chatID int64, sig *model.Signal) {
	log := d.logger.WithFields(logrus.Fields{"op": "publishSignal", "signal_id": sig.SignalID})
	d.reply(ctx, chatID, formatter.SignalReceived(sig), model.ParseModeMarkdown)

	res, err := d.deps.Engine.BroadcastSignal(ctx, sig)
	if err != nil {
		log.WithError(err).Error("Broadcast failed")
		controller.Capture(ctx, d.deps.Exceptions, controller.ServiceName, module, "BroadcastSignal", "error", err,
			map[string]interface{}{"signal_id": sig.SignalID})
		d.reply(ctx, chatID, "❌ Broadcast failed: "+controller.Sanitize(err.Error()), "")
		return
	}

	summary := broadcast.Summarize(res.Results)
	d.reply(ctx, d.cfg.AdminTelegramID, formatter.BroadcastSummary(sig, summary, len(res.Manual)), "")

	for i := range res.Results {
		d.notifyResult(ctx, sig, &res.Results[i])
	}
	for i := range res.Manual {
		d.requestConfirmation(ctx, sig, &res.Manual[i])
	}
	log.WithFields(logrus.Fields{"success": summary.Success, "manual": len(res.Manual)}).Info("Signal published")
}

// notifyResult DMs an AUTO subscriber their result, or offers the remaining
// balance when the configured amount was too large.
func (d *Dispatcher) notifyResult(ctx context.Context, sig *model.Signal, res *model.TradeResult) {
	if offer, ok := d.deps.Confirmations.ReducedBalanceOffer(res); ok {
		if d.offerReducedBalance(ctx, sig, res.SubscriberID, offer) {
			return
		}
	}
	d.reply(ctx, res.SubscriberID, formatter.TradeNotification(sig, res), "")
}

func (d *Dispatcher) offerReducedBalance(ctx context.Context, sig *model.Signal, telegramID int64, offer float64) bool {
	log := d.logger.WithFields(logrus.Fields{"op": "offerReducedBalance", "signal_id": sig.SignalID, "telegram_id": telegramID})

	configured := 0.0
	if sub := d.subscriber(ctx, telegramID); sub != nil {
		configured = sub.TradeAmountUSDT
	}
	keyboard, err := confirmation.BalanceKeyboard(sig.SignalID, offer)
	if err != nil {
		log.WithError(err).Warn("Cannot build balance keyboard")
		return false
	}
	if _, err := d.deps.Confirmations.Open(ctx, sig, telegramID, model.ConfirmationReducedBalance, &offer); err != nil {
		log.WithError(err).Error("Failed to open reduced balance confirmation")
		return false
	}
	d.send(ctx, model.OutgoingMessage{
		ChatID:    telegramID,
		Text:      formatter.ReducedBalanceOffer(sig, configured, offer),
		ParseMode: model.ParseModeMarkdown,
		Buttons:   keyboard,
	})
	return true
}

func (d *Dispatcher) requestConfirmation(ctx context.Context, sig *model.Signal, sub *model.Subscriber) {
	log := d.logger.WithFields(logrus.Fields{"op": "requestConfirmation", "signal_id": sig.SignalID, "telegram_id": sub.TelegramID})

	keyboard, err := confirmation.ConfirmKeyboard(sig.SignalID)
	if err != nil {
		log.WithError(err).Warn("Cannot build confirmation keyboard")
		return
	}
	if _, err := d.deps.Confirmations.Open(ctx, sig, sub.TelegramID, model.ConfirmationManual, nil); err != nil {
		log.WithError(err).Error("Failed to open confirmation")
		return
	}
	d.send(ctx, model.OutgoingMessage{
		ChatID:    sub.TelegramID,
		Text:      formatter.ConfirmationRequest(sig, sub, d.deps.Confirmations.Window()),
		ParseMode: model.ParseModeMarkdown,
		Buttons:   keyboard,
	})
}

// ----- update, close, leverage -----

func (d *Dispatcher) updateSignal(ctx context.Context, chatID int64, upd *model.SignalUpdate) {
	found, err := d.deps.Signals.ApplyUpdate(ctx, upd)
	if err != nil {
		d.logger.WithError(err).WithField("signal_id", upd.SignalID).Error("Failed to update signal")
		d.reply(ctx, chatID, "❌ Failed to update signal: "+controller.Sanitize(err.Error()), "")
		return
	}
	d.reply(ctx, chatID, formatter.SignalUpdated(upd, found), model.ParseModeMarkdown)
}

func (d *Dispatcher) closeSignal(ctx context.Context, chatID int64, cls *model.SignalClose) {
	log := d.logger.WithFields(logrus.Fields{"op": "closeSignal", "signal_id": cls.SignalID, "percent": cls.Percent()})

	results, err := d.deps.Engine.BroadcastClose(ctx, cls)
	if err != nil {
		log.WithError(err).Error("Close broadcast failed")
		d.reply(ctx, chatID, "❌ Close failed: "+controller.Sanitize(err.Error()), "")
		return
	}

	if !cls.IsPartial() && cls.SignalID != "" {
		if _, err := d.deps.Signals.Close(ctx, cls.SignalID, d.now().UTC()); err != nil {
			log.WithError(err).Error("Failed to mark signal closed")
		}
	}

	symbol := cls.Symbol
	if symbol == "" {
		symbol, _ = parser.SymbolFromSignalID(cls.SignalID)
	}
	d.reply(ctx, chatID, formatter.CloseTally(cls.SignalID, broadcast.Summarize(results)), model.ParseModeMarkdown)
	for i := range results {
		if results[i].Status == model.TradeStatusSkipped {
			continue
		}
		d.reply(ctx, results[i].SubscriberID, formatter.CloseNotification(cls.SignalID, symbol, &results[i]), "")
	}
}

func (d *Dispatcher) changeLeverage(ctx context.Context, chatID int64, lev *model.SignalLeverage) {
	results, err := d.deps.Engine.BroadcastLeverage(ctx, lev)
	if err != nil {
		d.logger.WithError(err).WithField("symbol", lev.Symbol).Error("Leverage broadcast failed")
		d.reply(ctx, chatID, "❌ Leverage update failed: "+controller.Sanitize(err.Error()), "")
		return
	}

	d.reply(ctx, chatID, formatter.LeverageTally(lev, broadcast.Summarize(results)), model.ParseModeMarkdown)
	for i := range results {
		if results[i].Status == model.TradeStatusSkipped {
			continue
		}
		d.reply(ctx, results[i].SubscriberID, formatter.LeverageNotification(lev, &results[i]), "")
	}
}
