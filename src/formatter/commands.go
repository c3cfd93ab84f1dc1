package formatter

import (
	"fmt"
	"time"

	"signalrelay/src/controller"
	"signalrelay/src/model"
	"signalrelay/src/utils"
)

// Replies to subscriber commands. All of them are Markdown unless noted; user
// supplied names go through controller.Sanitize first.

const (
	NotRegistered          = "❌ You're not registered.\n\nUse /register to get started."
	NotRegisteredShort     = "❌ You're not registered. Use /register first."
	RegistrationClosed     = "❌ Registration is currently closed."
	AlreadyRegistered      = "⚠️ You're already registered!\n\nUse /unregister first if you want to re-register."
	RegistrationCancelled  = "❌ Registration cancelled."
	RegistrationRestart    = "❌ Registration failed. Please try again with /register"
	InvalidAPIKey          = "❌ That doesn't look like a valid API key.\nPlease try again or /cancel"
	InvalidAPISecret       = "❌ That doesn't look like a valid API secret.\nPlease try again or /cancel"
	InvalidRegisterAmount  = "❌ Please enter a valid amount between 1 and 10000.\nOr use /skip for default."
	ValidatingCredentials  = "🔄 Validating your API credentials..."
	SetAmountInvalid       = "❌ Please enter a valid amount between 1 and 10000"
	SetLeverageInvalid     = "❌ Please enter a valid leverage between 1 and 125"
	InvalidMode            = "❌ Invalid mode. Use `/setmode auto` or `/setmode manual`"
	Unregistered           = "✅ You've been unregistered.\n\nYou will no longer receive trading signals.\nUse /register to sign up again."
	UnregisterNotFound     = "❌ You're not registered."
	UnknownSignalCommand   = "⚠️ Unknown signal type parsed."
	ValidationTimedOut     = "❌ **Validation timed out!**\n\nThe API request took too long. Please check:\n1. Your API secret is correct\n2. Mudrex API is accessible\n\nTry again with /register"
	InvalidCredentials     = "❌ **Invalid API credentials!**\n\nCould not connect to Mudrex. Please check:\n1. Your API secret is correct\n2. API has Futures trading permission\n\nTry again with /register"
	signalFormatExample    = "```\n/signal \nBTCUSDT\nLONG\nEntry: 95000\nTP: 98000\nSL: 93000\nLev: 20x\n```"
	SignalUsage            = "📡 **Signal Command**\n\nFormat:\n" + signalFormatExample
	SignalNotParsed        = "⚠️ Could not parse signal. Check the format:\n\n" + signalFormatExample
	registrationStepFooter = "/cancel to abort"
)

// Welcome greets /start. Known subscribers get their settings back.
func Welcome(firstName string, sub *model.Subscriber) string {
	name := controller.Sanitize(firstName)
	if sub != nil && sub.IsActive {
		return lines(
			fmt.Sprintf("👋 Welcome back, %s!", name),
			"",
			"You're already registered.",
			"",
			"**Your Settings:**",
			"💰 Trade Amount: "+Num(sub.TradeAmountUSDT)+" USDT",
			fmt.Sprintf("⚡ Max Leverage: %dx", sub.MaxLeverage),
			fmt.Sprintf("📊 Total Trades: %d", sub.TotalTrades),
			"",
			"**Commands:**",
			"/status - View your settings",
			"/setamount - Change trade amount",
			"/setleverage - Change max leverage",
			"/setmode - Switch between auto/manual mode",
			"/unregister - Stop receiving signals",
		)
	}
	return lines(
		"🤖 **Mudrex TradeIdeas Bot**",
		"",
		fmt.Sprintf("Welcome, %s!", name),
		"",
		"I auto-execute trading signals on your Mudrex account.",
		"",
		"**To get started:**",
		"/register - Connect your Mudrex account",
		"",
		"**You'll need:**",
		"• Mudrex API Key",
		"• Mudrex API Secret",
		"",
		"🔒 Your API keys are encrypted and stored securely.",
	)
}

// Status shows the subscriber's settings.
func Status(sub *model.Subscriber) string {
	return lines(
		"📊 **Your Status**",
		rule,
		"💰 Trade Amount: **"+Num(sub.TradeAmountUSDT)+" USDT**",
		fmt.Sprintf("⚡ Max Leverage: **%dx**", sub.MaxLeverage),
		"🎛 Mode: **"+string(sub.TradeMode)+"**",
		fmt.Sprintf("📈 Total Trades: **%d**", sub.TotalTrades),
		fmt.Sprintf("💵 Total PnL: **$%.2f**", sub.TotalPnL),
		rule,
		"✅ Status: Active",
	)
}

func ChatID(chatID int64) string {
	return fmt.Sprintf("🆔 Chat ID: `%d`", chatID)
}

// BotAdded is posted when the bot joins a group.
func BotAdded(chatID int64) string {
	return lines(
		"👋 **Mudrex Bot Added!**",
		"",
		fmt.Sprintf("🆔 Chat ID: `%d`", chatID),
		"",
		"Please configure this ID as `SIGNAL_CHANNEL_ID` to use this group for signals.",
	)
}

// ----- registration -----

func RegisterStepKey() string {
	return lines(
		"🔑 **Registration Step 1/3**",
		"",
		"Please send your **Mudrex API Key**.",
		"",
		"You can get your Mudrex API key from the Mudrex Website.",
		"**Note:** API keys can only be created via desktop.",
		"Login to https://mudrex.com/pro-trading via desktop and generate your key.",
		"",
		"🔒 Your API key is stored encrypted.",
		"",
		registrationStepFooter,
	)
}

func RegisterStepSecret() string {
	return lines(
		"✅ API Key received!",
		"",
		"🔐 **Registration Step 2/3**",
		"",
		"Now send your **Mudrex API Secret**.",
		"",
		"🔒 Your secret is stored encrypted.",
		"",
		registrationStepFooter,
	)
}

func RegisterStepAmount(defaultAmount float64) string {
	return lines(
		"✅ API Secret received!",
		"",
		"💰 **Registration Step 3/3**",
		"",
		"How much **USDT** do you want to trade per signal?",
		"",
		"Default: "+Num(defaultAmount)+" USDT",
		"",
		"Send a number (e.g., `50` or `100`) or /skip for default",
		"",
		registrationStepFooter,
	)
}

// ValidationFailed reports a credential check error. Plain text.
func ValidationFailed(err error) string {
	return lines(
		"❌ API validation failed!",
		"",
		"Error: "+controller.Truncate(controller.Sanitize(err.Error()), 100),
		"",
		"Please check your credentials and try /register again.",
	)
}

// RegistrationComplete closes the onboarding. Plain text.
func RegistrationComplete(amount float64, maxLeverage int, minOrderValue float64) string {
	return lines(
		"🎉 Registration Complete!",
		rule,
		"💰 Trade Amount: "+Num(amount)+" USDT",
		fmt.Sprintf("⚡ Max Leverage: %dx", maxLeverage),
		"🤖 Mode: AUTO (trades execute automatically)",
		rule,
		"",
		"⚠️ IMPORTANT WARNING ⚠️",
		"When a trade idea is published, it will be AUTO-EXECUTED in your Mudrex Futures account!",
		"",
		"💰 Minimum Value Requirement:",
		fmt.Sprintf("Mudrex requires a minimum order value of ~$%s per trade.", Num(minOrderValue)),
		"Assets like BTC/ETH may require higher margins at lower leverage.",
		"👉 Recommendation: set at least 20-25 USDT per trade to ensure successful execution.",
		"",
		"Trading carries inherent risk. Please trade responsibly and only with capital you can afford to lose.",
		"",
		"Commands:",
		"/status - View your settings",
		"/setamount - Change trade amount",
		"/setleverage - Change max leverage",
		"/setmode - Switch between auto/manual mode",
		"/unregister - Stop receiving signals",
	)
}

// RegistrationFailed reports a store error. Plain text.
func RegistrationFailed(err error) string {
	return "❌ Registration failed: " + controller.Sanitize(err.Error()) + "\n\nPlease try again with /register"
}

// ----- settings -----

func SetAmountUsage(current float64) string {
	return lines(
		"💰 Current trade amount: **"+Num(current)+" USDT**",
		"",
		"Usage: `/setamount <amount>`",
		"Example: `/setamount 100`",
	)
}

func AmountUpdated(amount float64) string {
	return "✅ Trade amount updated to **" + Num(amount) + " USDT**"
}

func SetLeverageUsage(current int) string {
	return lines(
		fmt.Sprintf("⚡ Current max leverage: **%dx**", current),
		"",
		"Usage: `/setleverage <amount>`",
		"Example: `/setleverage 10`",
	)
}

func LeverageUpdated(leverage int) string {
	return fmt.Sprintf("✅ Max leverage updated to **%dx**", leverage)
}

func ModeUsage(mode model.TradeMode) string {
	emoji := "🤖"
	if mode == model.TradeModeManual {
		emoji = "👆"
	}
	return lines(
		fmt.Sprintf("%s Current trade mode: **%s**", emoji, mode),
		"",
		"**Available modes:**",
		"🤖 `AUTO` - Trades execute automatically",
		"👆 `MANUAL` - You'll be asked to confirm each trade",
		"",
		"Usage: `/setmode auto` or `/setmode manual`",
	)
}

func ModeUpdated(mode model.TradeMode, window time.Duration) string {
	if mode == model.TradeModeManual {
		return lines(
			"👆 **Trade mode set to MANUAL**",
			"",
			"You will receive a confirmation message for each trade signal.",
			"The trade will only execute after you approve it.",
			"",
			"💡 You have "+utils.HumanizeDuration(window)+" to confirm each trade.",
		)
	}
	return lines(
		"🤖 **Trade mode set to AUTO**",
		"",
		"Trades will be executed automatically when signals are published.",
		"",
		"Trading carries inherent risk; please trade responsibly.",
	)
}

// AdminStats renders store counters for the admin.
func AdminStats(s model.Stats) string {
	return lines(
		"📊 **Admin Stats**",
		rule,
		fmt.Sprintf("👥 Total Subscribers: %d", s.TotalSubscribers),
		fmt.Sprintf("✅ Active: %d", s.ActiveSubscribers),
		fmt.Sprintf("📈 Total Trades: %d", s.TotalTrades),
		fmt.Sprintf("📡 Active Signals: %d", s.ActiveSignals),
		rule,
	)
}
