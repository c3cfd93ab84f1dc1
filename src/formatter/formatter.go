// Package formatter renders the chat messages of the relay.
//
// Texts that embed values coming from exchanges or users (error messages,
// usernames) are plain text. Texts marked Markdown only interpolate values the
// relay produced itself.
package formatter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"signalrelay/src/broadcast"
	"signalrelay/src/controller"
	"signalrelay/src/model"
	"signalrelay/src/utils"
)

const (
	rule = "━━━━━━━━━━━━━━━━━━━━"

	// maxUserErrorLen bounds the error shown in a failed-trade DM.
	maxUserErrorLen = 150
)

// Num renders a float without trailing zeros.
func Num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func lines(parts ...string) string {
	return strings.Join(parts, "\n")
}

func orText(v float64, fallback string) string {
	if v == 0 {
		return fallback
	}
	return Num(v)
}

// ----- signal -----

// SignalReceived echoes a parsed signal back to the admin. Markdown.
func SignalReceived(sig *model.Signal) string {
	order := string(model.OrderKindMarket)
	if sig.OrderKind == model.OrderKindLimit && sig.EntryPrice != nil {
		order = "LIMIT @ " + Num(*sig.EntryPrice)
	}
	return lines(
		"📊 **Signal Received**",
		rule,
		"🆔 ID: `"+sig.SignalID+"`",
		fmt.Sprintf("📈 %s %s", sig.Direction, sig.Symbol),
		"📋 Order: "+order,
		"🛑 Stop Loss: "+Num(sig.StopLoss),
		"🎯 Take Profit: "+Num(sig.TakeProfit),
		fmt.Sprintf("⚡ Leverage: %dx", sig.Leverage),
		rule,
	)
}

// BroadcastSummary is the admin report of a signal broadcast. Plain text.
func BroadcastSummary(sig *model.Signal, s broadcast.Summary, manualCount int) string {
	var b strings.Builder
	b.WriteString(lines(
		"📡 Signal Broadcast Complete",
		rule,
		"🆔 Signal: "+sig.SignalID,
		fmt.Sprintf("📊 %s %s", sig.Direction, sig.Symbol),
		"",
		"Results:",
		fmt.Sprintf("✅ Success: %d", s.Success),
		fmt.Sprintf("💰 Insufficient Balance: %d", s.Insufficient),
		fmt.Sprintf("❌ Failed: %d", s.Failed),
	))
	if manualCount > 0 {
		fmt.Fprintf(&b, "\n👆 Manual (awaiting): %d", manualCount)
	}
	if len(s.Errors) > 0 {
		b.WriteString("\n\nErrors:\n")
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "- %s: %s\n", e.User, e.Message)
		}
	}
	b.WriteString("\n" + rule + "\n")
	fmt.Fprintf(&b, "Total: %d subscribers", s.Total+manualCount)
	return b.String()
}

// TradeNotification is the DM a subscriber receives for their own result.
// Plain text.
func TradeNotification(sig *model.Signal, res *model.TradeResult) string {
	header := fmt.Sprintf("📊 %s %s", sig.Direction, sig.Symbol)

	switch res.Status {
	case model.TradeStatusSuccess:
		order := string(sig.OrderKind)
		if res.Quantity != "" {
			order += "\n📦 Quantity: " + res.Quantity
		}
		if res.ActualValue != nil {
			order += fmt.Sprintf(" (~$%.2f)", *res.ActualValue)
		}
		return lines(
			"✅ Trade Executed",
			rule,
			"🆔 Signal: "+sig.SignalID,
			header,
			"📋 "+order,
			"🛑 SL: "+orText(sig.StopLoss, "Not set"),
			"🎯 TP: "+orText(sig.TakeProfit, "Not set"),
			fmt.Sprintf("⚡ Leverage: %dx", sig.Leverage),
			rule,
		)

	case model.TradeStatusInsufficientBalance:
		return lines(
			"💰 Insufficient Balance",
			rule,
			"🆔 Signal: "+sig.SignalID,
			header,
			"",
			controller.Sanitize(res.Message),
			"",
			"Use /setamount to adjust your trade size.",
			rule,
		)

	case model.TradeStatusSymbolNotFound:
		return lines(
			"❌ Symbol Not Found",
			rule,
			"🆔 Signal: "+sig.SignalID,
			"📊 "+sig.Symbol,
			"",
			"This trading pair is not available on Mudrex.",
			rule,
		)
	}

	msg := controller.Sanitize(res.Message)
	if msg == "" {
		msg = "Unknown error"
	}
	return lines(
		"❌ Trade Failed",
		rule,
		"🆔 Signal: "+sig.SignalID,
		header,
		"",
		"Error: "+controller.Truncate(msg, maxUserErrorLen),
		rule,
	)
}

// ParseError answers a malformed signal command. Plain text.
func ParseError(err error) string {
	return "⚠️ Signal parse error: " + controller.Sanitize(err.Error())
}

// SignalUpdated acknowledges an /update. Markdown.
func SignalUpdated(upd *model.SignalUpdate, found bool) string {
	if !found {
		return "❌ Signal `" + upd.SignalID + "` not found or already closed."
	}
	parts := []string{"✏️ **Signal Updated**", rule, "🆔 Signal: `" + upd.SignalID + "`"}
	if upd.EntryPrice != nil {
		parts = append(parts, "💵 Entry: "+Num(*upd.EntryPrice))
	}
	if upd.StopLoss != nil {
		parts = append(parts, "🛑 SL: "+Num(*upd.StopLoss))
	}
	if upd.TakeProfit != nil {
		parts = append(parts, "🎯 TP: "+Num(*upd.TakeProfit))
	}
	parts = append(parts, rule, "Open positions keep their current orders.")
	return lines(parts...)
}

// ----- confirmation -----

// ConfirmationRequest asks a MANUAL subscriber to approve a signal. Markdown.
func ConfirmationRequest(sig *model.Signal, sub *model.Subscriber, window time.Duration) string {
	entry := "Market"
	if sig.EntryPrice != nil {
		entry = Num(*sig.EntryPrice)
	}
	return lines(
		"👆 **Trade Confirmation Required**",
		rule,
		"🆔 Signal: `"+sig.SignalID+"`",
		fmt.Sprintf("📊 %s **%s**", sig.Direction, sig.Symbol),
		"📋 Type: "+string(sig.OrderKind),
		"💵 Entry: "+entry,
		"🛑 SL: "+orText(sig.StopLoss, "Not set"),
		"🎯 TP: "+orText(sig.TakeProfit, "Not set"),
		fmt.Sprintf("⚡ Leverage: %dx", sig.Leverage),
		"💰 Your amount: "+Num(sub.TradeAmountUSDT)+" USDT",
		rule,
		"",
		"⏰ **You have "+utils.HumanizeDuration(window)+" to confirm.**",
		`Click "Execute Trade" to proceed or "Skip" to ignore.`,
	)
}

// ReducedBalanceOffer proposes trading with the balance that is left. Markdown.
func ReducedBalanceOffer(sig *model.Signal, configured, available float64) string {
	return lines(
		"💰 **Insufficient Balance**",
		rule,
		"🆔 Signal: `"+sig.SignalID+"`",
		fmt.Sprintf("📊 %s **%s**", sig.Direction, sig.Symbol),
		"",
		fmt.Sprintf("Your configured amount: **$%.2f USDT**", configured),
		fmt.Sprintf("Available balance: **$%.2f USDT**", available),
		"",
		"Would you like to execute this trade with your available balance instead?",
		rule,
	)
}

// TradeSkipped replaces a confirmation the subscriber declined. Markdown.
func TradeSkipped(signalID string) string {
	return lines(
		"⏭️ **Trade Skipped**",
		"",
		"Signal `"+signalID+"` was not executed.",
		"You can always switch to AUTO mode with /setmode auto",
	)
}

// Executing is shown while a confirmed trade runs. Markdown.
func Executing(signalID string, amount *float64) string {
	title := "⏳ **Executing trade...**"
	if amount != nil {
		title = fmt.Sprintf("⏳ **Executing trade with $%.2f...**", *amount)
	}
	return lines(title, "", "Signal: `"+signalID+"`")
}

// SignalNotFound answers a confirmation whose signal cannot be rebuilt. Markdown.
func SignalNotFound(signalID string) string {
	return "❌ Signal `" + signalID + "` not found or expired."
}

// ConfirmationExpired answers a late button press. Markdown.
func ConfirmationExpired(signalID string) string {
	return "⌛ Confirmation for `" + signalID + "` expired. The trade was not executed."
}

// AlreadyHandled answers a second press on the same confirmation. Markdown.
func AlreadyHandled(signalID string) string {
	return "ℹ️ Signal `" + signalID + "` was already handled."
}

const (
	NotRegisteredAnymore = "❌ You're not registered anymore."
	InvalidRequest       = "❌ Invalid request."
	InvalidAmount        = "❌ Invalid amount."
)

// ----- close & leverage -----

// CloseTally reports a close broadcast to the admin. Markdown.
func CloseTally(signalID string, s broadcast.Summary) string {
	return lines(
		"✅ Signal `"+signalID+"` Closed",
		rule,
		fmt.Sprintf("✅ Success: %d", s.Success),
		fmt.Sprintf("⏭️ Skipped: %d", s.Skipped),
		fmt.Sprintf("❌ Failed: %d", s.Failed+s.Insufficient),
	)
}

// CloseNotification tells a subscriber what happened to their position.
// Plain text.
func CloseNotification(signalID, symbol string, res *model.TradeResult) string {
	outcome := "✅ " + controller.Sanitize(res.Message)
	if res.Status != model.TradeStatusSuccess {
		outcome = lines("❌ Failed to close: "+controller.Sanitize(res.Message), "⚠️ Please check Mudrex manually.")
	}
	return lines(
		"🔔 Position Closed",
		rule,
		"🆔 Signal: "+signalID,
		"📊 "+symbol,
		"",
		outcome,
		rule,
	)
}

// LeverageTally reports a leverage broadcast to the admin. Markdown.
func LeverageTally(lev *model.SignalLeverage, s broadcast.Summary) string {
	ref := lev.SignalID
	if ref == "" {
		ref = lev.Symbol
	}
	return lines(
		"⚡ Signal `"+ref+"` Leverage Update",
		rule,
		fmt.Sprintf("✅ Success: %d", s.Success),
		fmt.Sprintf("⏭️ Skipped: %d", s.Skipped),
		fmt.Sprintf("❌ Failed: %d", s.Failed+s.Insufficient),
	)
}

// LeverageNotification tells a subscriber about a leverage change. Plain text.
func LeverageNotification(lev *model.SignalLeverage, res *model.TradeResult) string {
	outcome := "✅ " + controller.Sanitize(res.Message)
	if res.Status != model.TradeStatusSuccess {
		outcome = "❌ Update Failed: " + controller.Sanitize(res.Message)
	}
	parts := []string{"⚡ Leverage Updated", rule}
	if lev.SignalID != "" {
		parts = append(parts, "🆔 Signal: "+lev.SignalID)
	}
	parts = append(parts, fmt.Sprintf("📊 %s → %dx", lev.Symbol, lev.Leverage), "", outcome, rule)
	return lines(parts...)
}
