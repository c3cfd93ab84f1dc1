package bot

// Test index:
//  1. TestSignalAuthorization accepts the admin, channel posts and chat admins only.
//  2. TestPublishSignalNotifications sends the summary, DMs, balance offers and confirmation requests.
//  3. TestConfirmationButtons executes once and answers later presses.
//  4. TestRegistrationConversation stores validated credentials and deletes secret messages.
//  5. TestRegistrationRejectsInvalidCredentials keeps the store empty.
//  6. TestSettingsCommands covers /setamount, /setleverage, /setmode and /unregister.
//  7. TestCloseCommand marks the signal closed and skips DMs for skipped subscribers.
//  8. TestPollAdvancesOffset acknowledges every update it handled.

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"signalrelay/src/broadcast"
	"signalrelay/src/confirmation"
	"signalrelay/src/connectors"
	"signalrelay/src/database"
	"signalrelay/src/model"
	"signalrelay/src/repository"
	"signalrelay/src/security"
)

const (
	adminID   int64 = 1000
	channelID int64 = -100200
	groupID   int64 = -300
)

// ----- fakes -----

type sentMessage struct {
	ChatID    int64
	MessageID int64 // set for edits
	Text      string
	ParseMode string
	Buttons   [][]model.InlineButton
}

type fakeTransport struct {
	mu           sync.Mutex
	sent         []sentMessage
	deleted      []int64
	answered     []string
	memberStatus string
	nextID       int64
}

func (f *fakeTransport) SendMessage(ctx context.Context, msg model.OutgoingMessage) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sentMessage{ChatID: msg.ChatID, Text: msg.Text, ParseMode: msg.ParseMode, Buttons: msg.Buttons})
	return f.nextID, nil
}

func (f *fakeTransport) EditMessage(ctx context.Context, chatID, messageID int64, text, parseMode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{ChatID: chatID, MessageID: messageID, Text: text, ParseMode: parseMode})
	return nil
}

func (f *fakeTransport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, callbackID)
	return nil
}

func (f *fakeTransport) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeTransport) GetChatMemberStatus(ctx context.Context, chatID, userID int64) (string, error) {
	return f.memberStatus, nil
}

// to returns the messages addressed to chatID, edits included.
func (f *fakeTransport) to(chatID int64) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) last(t *testing.T, chatID int64) sentMessage {
	t.Helper()
	msgs := f.to(chatID)
	require.NotEmpty(t, msgs, "no message sent to %d", chatID)
	return msgs[len(msgs)-1]
}

type fakeEngine struct {
	signals      *repository.SignalRepository
	signalResult broadcast.SignalResult
	closeResults []model.TradeResult
	published    atomic.Int32
	executed     atomic.Int32
}

func (e *fakeEngine) BroadcastSignal(ctx context.Context, sig *model.Signal) (*broadcast.SignalResult, error) {
	e.published.Add(1)
	if err := e.signals.Save(ctx, sig); err != nil {
		return nil, err
	}
	res := e.signalResult
	return &res, nil
}

func (e *fakeEngine) BroadcastClose(ctx context.Context, cls *model.SignalClose) ([]model.TradeResult, error) {
	return e.closeResults, nil
}

func (e *fakeEngine) BroadcastLeverage(ctx context.Context, lev *model.SignalLeverage) ([]model.TradeResult, error) {
	return nil, nil
}

func (e *fakeEngine) ExecuteSingle(ctx context.Context, sig *model.Signal, sub *model.Subscriber) model.TradeResult {
	e.executed.Add(1)
	value := 49.9
	return model.TradeResult{SubscriberID: sub.TelegramID, Status: model.TradeStatusSuccess, Quantity: "0.0005", ActualValue: &value}
}

func (e *fakeEngine) ExecuteWithAmount(ctx context.Context, sig *model.Signal, sub *model.Subscriber, amount float64) model.TradeResult {
	e.executed.Add(1)
	return model.TradeResult{SubscriberID: sub.TelegramID, Status: model.TradeStatusSuccess, Quantity: "0.0001", ActualValue: &amount}
}

// balanceOnly is an exchange client that only answers balance reads.
type balanceOnly struct {
	err error
}

func (b balanceOnly) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(100), b.err
}
func (balanceOnly) GetAsset(ctx context.Context, symbol string) (*model.Asset, error) {
	return nil, connectors.ErrAssetNotFound
}
func (balanceOnly) SetLeverage(ctx context.Context, symbol string, leverage int, mode connectors.MarginMode) error {
	return nil
}
func (balanceOnly) CreateMarketOrder(ctx context.Context, req connectors.OrderRequest) (string, error) {
	return "", errors.New("not supported")
}
func (balanceOnly) CreateLimitOrder(ctx context.Context, req connectors.OrderRequest) (string, error) {
	return "", errors.New("not supported")
}
func (balanceOnly) ListOpenPositions(ctx context.Context) ([]model.Position, error) { return nil, nil }
func (balanceOnly) ClosePosition(ctx context.Context, positionID string) error     { return nil }
func (balanceOnly) ClosePositionPartial(ctx context.Context, positionID string, quantity decimal.Decimal) error {
	return nil
}

// ----- fixture -----

type fixture struct {
	d           *Dispatcher
	transport   *fakeTransport
	engine      *fakeEngine
	subscribers *repository.SubscriberRepository
	signals     *repository.SignalRepository
	pending     *repository.ConfirmationRepository
	balanceErr  error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(database.Config{DatabasePath: ":memory:", GormLogLevel: int(logger.Silent)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	cipher, err := security.NewCipher("test-secret-0123456789")
	require.NoError(t, err)

	f := &fixture{
		transport:   &fakeTransport{memberStatus: "member"},
		subscribers: repository.NewSubscriberRepository(db, cipher),
		signals:     repository.NewSignalRepository(db),
		pending:     repository.NewConfirmationRepository(db),
	}
	f.engine = &fakeEngine{signals: f.signals}

	log, _ := logrustest.NewNullLogger()
	entry := logrus.NewEntry(log)
	confirmations := confirmation.NewController(entry, f.pending, f.signals, f.subscribers, f.engine,
		confirmation.Config{Window: 5 * time.Minute, ReducedBalanceMin: 1})

	cfg := Config{
		BotToken:           "4242:test-token",
		AdminTelegramID:    adminID,
		SignalChannelID:    channelID,
		AllowRegistration:  true,
		DefaultTradeAmount: 50,
		DefaultMaxLeverage: 10,
		ValidationTimeout:  time.Second,
		MinOrderValue:      8,
	}
	f.d = NewDispatcher(entry, Dependencies{
		Transport:     f.transport,
		Subscribers:   f.subscribers,
		Signals:       f.signals,
		Stats:         repository.NewStatsRepository(db),
		Engine:        f.engine,
		Confirmations: confirmations,
		Clients: connectors.ClientFactoryFunc(func(sub *model.Subscriber) (connectors.ExchangeClient, error) {
			return balanceOnly{err: f.balanceErr}, nil
		}),
	}, cfg)
	f.d.now = func() time.Time { return time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) addSubscriber(t *testing.T, id int64, amount float64, mode model.TradeMode) {
	t.Helper()
	_, err := f.subscribers.Add(context.Background(), repository.NewSubscriber{
		TelegramID: id, Username: "user", APIKey: "key-0123456789", APISecret: "secret-0123456789",
		TradeAmountUSDT: amount, MaxLeverage: 10,
	})
	require.NoError(t, err)
	if mode == model.TradeModeManual {
		_, err = f.subscribers.UpdateTradeMode(context.Background(), id, mode)
		require.NoError(t, err)
	}
}

func dm(from int64, text string) *model.TelegramUpdate {
	return &model.TelegramUpdate{Message: &model.TelegramMessage{
		MessageID: 77,
		From:      &model.TelegramUser{ID: from, FirstName: "Ann", Username: "ann"},
		Chat:      model.TelegramChat{ID: from, Type: model.ChatTypePrivate},
		Text:      text,
	}}
}

const signalText = "/signal LONG BTCUSDT sl=93000 tp=99000 lev=10x"
const signalID = "SIG-150126-BTCUSDT"

// ----- tests -----

func TestSignalAuthorization(t *testing.T) {
	tests := []struct {
		name   string
		update *model.TelegramUpdate
		status string
		want   int32
	}{
		{"admin direct message", dm(adminID, signalText), "", 1},
		{"other user direct message", dm(55, signalText), "", 0},
		{"channel post", &model.TelegramUpdate{ChannelPost: &model.TelegramMessage{
			Chat: model.TelegramChat{ID: channelID, Type: model.ChatTypeChannel}, Text: signalText}}, "", 1},
		{"group member", &model.TelegramUpdate{Message: &model.TelegramMessage{
			From: &model.TelegramUser{ID: 55}, Chat: model.TelegramChat{ID: channelID, Type: model.ChatTypeSupergroup}, Text: signalText}}, "member", 0},
		{"group administrator", &model.TelegramUpdate{Message: &model.TelegramMessage{
			From: &model.TelegramUser{ID: 55}, Chat: model.TelegramChat{ID: channelID, Type: model.ChatTypeSupergroup}, Text: signalText}}, "administrator", 1},
		{"unknown group", &model.TelegramUpdate{Message: &model.TelegramMessage{
			From: &model.TelegramUser{ID: adminID}, Chat: model.TelegramChat{ID: groupID, Type: model.ChatTypeGroup}, Text: signalText}}, "creator", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.transport.memberStatus = tt.status
			f.d.HandleUpdate(context.Background(), tt.update)
			require.Equal(t, tt.want, f.engine.published.Load())
		})
	}
}

func TestPublishSignalNotifications(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber(t, 2, 50, model.TradeModeAuto)
	f.addSubscriber(t, 4, 25, model.TradeModeManual)

	enough, dust := 7.5, 0.5
	value := 49.9
	f.engine.signalResult = broadcast.SignalResult{
		Results: []model.TradeResult{
			{SubscriberID: 1, Status: model.TradeStatusSuccess, Quantity: "0.0005", ActualValue: &value},
			{SubscriberID: 2, Status: model.TradeStatusInsufficientBalance, Message: "Balance too low", AvailableBalance: &enough},
			{SubscriberID: 3, Status: model.TradeStatusInsufficientBalance, Message: "Balance too low", AvailableBalance: &dust},
		},
		Manual: []model.Subscriber{{TelegramID: 4, TradeAmountUSDT: 25, TradeMode: model.TradeModeManual}},
	}

	f.d.HandleUpdate(context.Background(), dm(adminID, signalText))

	admin := f.transport.to(adminID)
	require.Len(t, admin, 2)
	require.Contains(t, admin[0].Text, "📊 **Signal Received**")
	require.Equal(t, model.ParseModeMarkdown, admin[0].ParseMode)
	require.Contains(t, admin[1].Text, "📡 Signal Broadcast Complete")
	require.Contains(t, admin[1].Text, "👆 Manual (awaiting): 1")
	require.Empty(t, admin[1].ParseMode)

	require.Contains(t, f.transport.last(t, 1).Text, "✅ Trade Executed")

	offer := f.transport.last(t, 2)
	require.Contains(t, offer.Text, "Your configured amount: **$50.00 USDT**")
	require.Equal(t, "b:"+signalID+":7.50", offer.Buttons[0][0].CallbackData)

	require.Contains(t, f.transport.last(t, 3).Text, "💰 Insufficient Balance")
	require.Empty(t, f.transport.last(t, 3).Buttons)

	request := f.transport.last(t, 4)
	require.Contains(t, request.Text, "Trade Confirmation Required")
	require.Equal(t, "c:"+signalID, request.Buttons[0][0].CallbackData)

	for _, id := range []int64{2, 4} {
		p, err := f.pending.Get(context.Background(), signalID, id)
		require.NoError(t, err)
		require.NotNil(t, p, "pending confirmation for %d", id)
	}
}

func TestConfirmationButtons(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber(t, 4, 25, model.TradeModeManual)
	f.engine.signalResult = broadcast.SignalResult{
		Manual: []model.Subscriber{{TelegramID: 4, TradeAmountUSDT: 25, TradeMode: model.TradeModeManual}},
	}
	ctx := context.Background()
	f.d.HandleUpdate(ctx, dm(adminID, signalText))

	press := func(id, data string) *model.TelegramUpdate {
		return &model.TelegramUpdate{CallbackQuery: &model.TelegramCallbackQuery{
			ID:      id,
			From:    model.TelegramUser{ID: 4},
			Message: &model.TelegramMessage{MessageID: 9, Chat: model.TelegramChat{ID: 4, Type: model.ChatTypePrivate}},
			Data:    data,
		}}
	}

	f.d.HandleUpdate(ctx, press("q1", "c:"+signalID))
	require.Equal(t, int32(1), f.engine.executed.Load())
	result := f.transport.last(t, 4)
	require.Equal(t, int64(9), result.MessageID)
	require.Contains(t, result.Text, "✅ Trade Executed")

	f.d.HandleUpdate(ctx, press("q2", "c:"+signalID))
	require.Equal(t, int32(1), f.engine.executed.Load())
	require.Equal(t, "ℹ️ Signal `"+signalID+"` was already handled.", f.transport.last(t, 4).Text)

	f.d.HandleUpdate(ctx, press("q3", "garbage"))
	require.Equal(t, []string{"q1", "q2", "q3"}, f.transport.answered)
}

func TestRegistrationConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const user int64 = 21

	for _, text := range []string{"/register", "mdx_key_0123456789", "mdx_secret_0123456789", "30"} {
		f.d.HandleUpdate(ctx, dm(user, text))
	}

	require.Equal(t, []int64{77, 77}, f.transport.deleted)
	require.Contains(t, f.transport.last(t, user).Text, "🎉 Registration Complete!")
	require.Contains(t, f.transport.last(t, user).Text, "~$8 per trade")

	sub, err := f.subscribers.Get(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, sub)
	require.Equal(t, "mdx_secret_0123456789", sub.PlainAPISecret)
	require.NotEqual(t, sub.PlainAPISecret, sub.APISecret)
	require.Equal(t, 30.0, sub.TradeAmountUSDT)
	require.Equal(t, 10, sub.MaxLeverage)

	f.d.HandleUpdate(ctx, dm(user, "/register"))
	require.Contains(t, f.transport.last(t, user).Text, "already registered")
}

func TestRegistrationRejectsInvalidCredentials(t *testing.T) {
	f := newFixture(t)
	f.balanceErr = &connectors.APIError{Exchange: "mudrex", StatusCode: 401, Message: "unauthorized"}
	ctx := context.Background()
	const user int64 = 22

	for _, text := range []string{"/register", "mdx_key_0123456789", "short", "mdx_secret_0123456789", "/skip"} {
		f.d.HandleUpdate(ctx, dm(user, text))
	}

	msgs := f.transport.to(user)
	var texts []string
	for _, m := range msgs {
		texts = append(texts, m.Text)
	}
	joined := strings.Join(texts, "\n---\n")
	require.Contains(t, joined, "doesn't look like a valid API secret")
	require.Contains(t, f.transport.last(t, user).Text, "Invalid API credentials")

	sub, err := f.subscribers.Get(ctx, user)
	require.NoError(t, err)
	require.Nil(t, sub)

	f.d.HandleUpdate(ctx, dm(user, "/cancel"))
	require.Contains(t, f.transport.last(t, user).Text, "Invalid API credentials", "no session left to cancel")
}

func TestSettingsCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const user int64 = 31

	f.d.HandleUpdate(ctx, dm(user, "/setamount 100"))
	require.Equal(t, "❌ You're not registered. Use /register first.", f.transport.last(t, user).Text)

	f.addSubscriber(t, user, 50, model.TradeModeAuto)

	tests := []struct {
		text string
		want string
	}{
		{"/setamount", "Current trade amount: **50 USDT**"},
		{"/setamount 100", "Trade amount updated to **100 USDT**"},
		{"/setamount 0", "valid amount between 1 and 10000"},
		{"/setleverage 20x", "Max leverage updated to **20x**"},
		{"/setleverage 500", "valid leverage between 1 and 125"},
		{"/setmode manual", "Trade mode set to MANUAL"},
		{"/setmode yolo", "Invalid mode"},
		{"/status", "🎛 Mode: **MANUAL**"},
		{"/unregister", "You've been unregistered."},
		{"/status", "You're not registered."},
	}
	for _, tt := range tests {
		f.d.HandleUpdate(ctx, dm(user, tt.text))
		require.Contains(t, f.transport.last(t, user).Text, tt.want, "reply to %q", tt.text)
	}

	sub, err := f.subscribers.Get(ctx, user)
	require.NoError(t, err)
	require.Equal(t, 100.0, sub.TradeAmountUSDT)
	require.Equal(t, 20, sub.MaxLeverage)
	require.False(t, sub.IsActive)
}

func TestCloseCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.signals.Save(ctx, &model.Signal{
		SignalID: signalID, Symbol: "BTCUSDT", Direction: model.DirectionLong, OrderKind: model.OrderKindMarket,
		StopLoss: 93000, TakeProfit: 99000, Leverage: 10, CreatedAt: time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC),
	}))
	f.engine.closeResults = []model.TradeResult{
		{SubscriberID: 1, Status: model.TradeStatusSuccess, Message: "Position closed"},
		{SubscriberID: 2, Status: model.TradeStatusSkipped, Message: "No open position for BTCUSDT"},
	}

	f.d.HandleUpdate(ctx, dm(adminID, "/close "+signalID))

	rec, err := f.signals.Get(ctx, signalID)
	require.NoError(t, err)
	require.Equal(t, model.SignalStatusClosed, rec.Status)

	require.Contains(t, f.transport.last(t, adminID).Text, "✅ Success: 1\n⏭️ Skipped: 1\n❌ Failed: 0")
	require.Contains(t, f.transport.last(t, 1).Text, "📊 BTCUSDT")
	require.Empty(t, f.transport.to(2))
}

type scriptedSource struct {
	batches [][]model.TelegramUpdate
	offsets []int64
	cancel  context.CancelFunc
}

func (s *scriptedSource) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]model.TelegramUpdate, error) {
	s.offsets = append(s.offsets, offset)
	if len(s.batches) == 0 {
		s.cancel()
		return nil, ctx.Err()
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	return batch, nil
}

func TestPollAdvancesOffset(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &scriptedSource{
		batches: [][]model.TelegramUpdate{
			{{UpdateID: 10, Message: dm(5, "/chatid").Message}, {UpdateID: 11}},
			{{UpdateID: 12, Message: dm(5, "/chatid").Message}},
		},
		cancel: cancel,
	}
	require.NoError(t, f.d.Poll(ctx, src))
	require.Equal(t, []int64{0, 12, 13}, src.offsets)
	require.Len(t, f.transport.to(5), 2)
}
