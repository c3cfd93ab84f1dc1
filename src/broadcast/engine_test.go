package broadcast

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"

	"signalrelay/src/connectors"
	"signalrelay/src/model"
)

// Test index:
// 1. TestPlaceTradeSizesSmallPriceSymbol
// 2. TestPlaceTradeLimitOrderUsesRoundedEntry
// 3. TestPlaceTradeEarlyFailures
// 4. TestBroadcastSignalIsolatesFailures
// 5. TestBroadcastSignalDoesNotLeakRounding
// 6. TestBroadcastSignalRunsInParallel
// 7. TestExecuteWithAmountOverridesTarget
// 8. TestBroadcastClose
// 9. TestBroadcastLeverage
// 10. TestSummarize

type stubExchange struct {
	mu sync.Mutex

	balance    decimal.Decimal
	balanceErr error
	asset      *model.Asset
	assetErr   error
	levErr     error
	orderErr   error
	panicMsg   string
	positions  []model.Position
	onBalance  func()

	assetCalls int
	leverage   []int
	orders     []connectors.OrderRequest
	limit      []bool
	closed     []string
	partial    []decimal.Decimal
}

func (s *stubExchange) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	if s.onBalance != nil {
		s.onBalance()
	}
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.balance, s.balanceErr
}

func (s *stubExchange) GetAsset(ctx context.Context, symbol string) (*model.Asset, error) {
	s.mu.Lock()
	s.assetCalls++
	s.mu.Unlock()
	if s.assetErr != nil {
		return nil, s.assetErr
	}
	return s.asset, nil
}

func (s *stubExchange) SetLeverage(ctx context.Context, symbol string, leverage int, mode connectors.MarginMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leverage = append(s.leverage, leverage)
	return s.levErr
}

func (s *stubExchange) CreateMarketOrder(ctx context.Context, req connectors.OrderRequest) (string, error) {
	return s.place(req, false)
}

func (s *stubExchange) CreateLimitOrder(ctx context.Context, req connectors.OrderRequest) (string, error) {
	return s.place(req, true)
}

func (s *stubExchange) place(req connectors.OrderRequest, limit bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orderErr != nil {
		return "", s.orderErr
	}
	s.orders = append(s.orders, req)
	s.limit = append(s.limit, limit)
	return "order-1", nil
}

func (s *stubExchange) ListOpenPositions(ctx context.Context) ([]model.Position, error) {
	return s.positions, nil
}

func (s *stubExchange) ClosePosition(ctx context.Context, positionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, positionID)
	return nil
}

func (s *stubExchange) ClosePositionPartial(ctx context.Context, positionID string, quantity decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partial = append(s.partial, quantity)
	return nil
}

type memSubscribers []model.Subscriber

func (m memSubscribers) ListActive(ctx context.Context) ([]model.Subscriber, error) {
	out := make([]model.Subscriber, len(m))
	copy(out, m)
	return out, nil
}

type memSignals struct {
	mu    sync.Mutex
	saved []*model.Signal
}

func (m *memSignals) Save(ctx context.Context, sig *model.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, sig)
	return nil
}

type memHistory struct {
	mu   sync.Mutex
	rows []*model.TradeHistory
}

func (m *memHistory) Record(ctx context.Context, h *model.TradeHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, h)
	return nil
}

func healthyExchange() *stubExchange {
	return &stubExchange{
		balance: decimal.NewFromInt(100),
		asset: &model.Asset{
			Symbol:       "BTCUSDT",
			Price:        decimal.NewFromInt(95000),
			PriceStep:    decimal.RequireFromString("0.1"),
			QuantityStep: decimal.RequireFromString("0.001"),
		},
	}
}

func btcSignal() *model.Signal {
	return &model.Signal{
		SignalID:   "SIG-150126-BTCUSDT",
		Direction:  model.DirectionLong,
		Symbol:     "BTCUSDT",
		OrderKind:  model.OrderKindMarket,
		StopLoss:   93000,
		TakeProfit: 99000,
		Leverage:   20,
	}
}

func subscriber(id int64, mode model.TradeMode) model.Subscriber {
	return model.Subscriber{
		TelegramID:      id,
		Username:        "user" + strings.Repeat("x", int(id%3)),
		TradeAmountUSDT: 5,
		MaxLeverage:     20,
		IsActive:        true,
		TradeMode:       mode,
	}
}

func newTestEngine(subs []model.Subscriber, clients map[int64]*stubExchange, cfg Config) (*Engine, *memSignals, *memHistory) {
	logger, _ := logrustest.NewNullLogger()
	signals := &memSignals{}
	history := &memHistory{}
	engine := NewEngine(logrus.NewEntry(logger), Dependencies{
		Subscribers: memSubscribers(subs),
		Signals:     signals,
		History:     history,
		Clients: connectors.ClientFactoryFunc(func(sub *model.Subscriber) (connectors.ExchangeClient, error) {
			c, ok := clients[sub.TelegramID]
			if !ok {
				return nil, errors.New("no client")
			}
			return c, nil
		}),
	}, cfg)
	engine.newID = func() string { return "bcast-1" }
	return engine, signals, history
}

func TestPlaceTradeSizesSmallPriceSymbol(t *testing.T) {
	ex := &stubExchange{
		balance: decimal.RequireFromString("7.79"),
		asset: &model.Asset{
			Symbol:       "XYZUSDT",
			Price:        decimal.RequireFromString("0.1714"),
			PriceStep:    decimal.RequireFromString("0.0001"),
			QuantityStep: decimal.NewFromInt(1),
		},
	}
	sig := &model.Signal{
		SignalID:   "SIG-150126-XYZUSDT",
		Direction:  model.DirectionShort,
		Symbol:     "XYZUSDT",
		OrderKind:  model.OrderKindMarket,
		StopLoss:   0.18004,
		TakeProfit: 0.15,
		Leverage:   15,
	}

	res := PlaceTrade(context.Background(), ex, sig, TradeParams{
		TradeAmount:   decimal.NewFromInt(2),
		MaxLeverage:   20,
		MinOrderValue: decimal.NewFromInt(8),
	})

	if res.Status != model.TradeStatusSuccess {
		t.Fatalf("expected success, got %s: %s", res.Status, res.Message)
	}
	if res.Quantity != "175" {
		t.Fatalf("expected quantity 175, got %s", res.Quantity)
	}
	if len(ex.leverage) != 1 || ex.leverage[0] != 15 {
		t.Fatalf("expected leverage 15, got %v", ex.leverage)
	}
	if len(ex.orders) != 1 || ex.limit[0] {
		t.Fatalf("expected one market order, got %d (limit=%v)", len(ex.orders), ex.limit)
	}
	order := ex.orders[0]
	if order.StopLoss == nil || order.StopLoss.String() != "0.18" {
		t.Fatalf("expected stop loss rounded to 0.18, got %v", order.StopLoss)
	}
	if !strings.HasPrefix(res.Message, "SHORT 175 XYZUSDT (~$") || !strings.HasSuffix(res.Message, "| SL/TP set") {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if res.OrderID != "order-1" {
		t.Fatalf("expected order id, got %q", res.OrderID)
	}
}

func TestPlaceTradeLimitOrderUsesRoundedEntry(t *testing.T) {
	ex := healthyExchange()
	sig := btcSignal()
	entry := 94500.04
	sig.EntryPrice = &entry
	sig.OrderKind = model.OrderKindLimit

	res := PlaceTrade(context.Background(), ex, sig, TradeParams{
		TradeAmount:   decimal.NewFromInt(5),
		MaxLeverage:   20,
		MinOrderValue: decimal.NewFromInt(8),
	})

	if res.Status != model.TradeStatusSuccess {
		t.Fatalf("expected success, got %s: %s", res.Status, res.Message)
	}
	if !ex.limit[0] {
		t.Fatalf("expected a limit order")
	}
	if got := ex.orders[0].Price.String(); got != "94500" {
		t.Fatalf("expected limit price 94500, got %s", got)
	}
	if res.EntryPrice == nil || *res.EntryPrice != 94500 {
		t.Fatalf("expected rounded entry on result, got %v", res.EntryPrice)
	}
	if entry != 94500.04 || *sig.EntryPrice != 94500.04 {
		t.Fatalf("signal entry must not be rounded in place")
	}
	// $5 x 20 = $100 at 94500 with step 0.001 -> 0.001 BTC
	if res.Quantity != "0.001" {
		t.Fatalf("expected quantity 0.001, got %s", res.Quantity)
	}
}

func TestPlaceTradeEarlyFailures(t *testing.T) {
	tests := []struct {
		name        string
		exchange    func() *stubExchange
		wantStatus  model.TradeStatus
		wantAsset   bool
		wantMessage string
	}{
		{
			name: "zero balance short-circuits",
			exchange: func() *stubExchange {
				ex := healthyExchange()
				ex.balance = decimal.Zero
				return ex
			},
			wantStatus:  model.TradeStatusInsufficientBalance,
			wantMessage: "No balance available (0 USDT)",
		},
		{
			name: "unknown symbol",
			exchange: func() *stubExchange {
				ex := healthyExchange()
				ex.assetErr = connectors.ErrAssetNotFound
				return ex
			},
			wantStatus:  model.TradeStatusSymbolNotFound,
			wantAsset:   true,
			wantMessage: "Symbol not found: BTCUSDT",
		},
		{
			name: "auth failure on balance",
			exchange: func() *stubExchange {
				ex := healthyExchange()
				ex.balanceErr = &connectors.APIError{Exchange: "mudrex", StatusCode: 401, Message: "bad key"}
				return ex
			},
			wantStatus: model.TradeStatusInvalidKey,
		},
		{
			name: "order rejected for margin",
			exchange: func() *stubExchange {
				ex := healthyExchange()
				ex.orderErr = &connectors.APIError{Exchange: "mudrex", StatusCode: 400, Message: "Insufficient margin"}
				return ex
			},
			wantStatus: model.TradeStatusInsufficientBalance,
			wantAsset:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := tt.exchange()
			res := PlaceTrade(context.Background(), ex, btcSignal(), TradeParams{
				TradeAmount:   decimal.NewFromInt(5),
				MaxLeverage:   20,
				MinOrderValue: decimal.NewFromInt(8),
			})
			if res.Status != tt.wantStatus {
				t.Fatalf("expected %s, got %s (%s)", tt.wantStatus, res.Status, res.Message)
			}
			if tt.wantMessage != "" && res.Message != tt.wantMessage {
				t.Fatalf("expected message %q, got %q", tt.wantMessage, res.Message)
			}
			if (ex.assetCalls > 0) != tt.wantAsset {
				t.Fatalf("asset lookups = %d, want lookup %v", ex.assetCalls, tt.wantAsset)
			}
		})
	}
}

func TestBroadcastSignalIsolatesFailures(t *testing.T) {
	subs := []model.Subscriber{
		subscriber(1, model.TradeModeAuto),
		subscriber(2, model.TradeModeManual),
		subscriber(3, model.TradeModeAuto),
		subscriber(4, model.TradeModeAuto),
		subscriber(5, model.TradeModeAuto),
		subscriber(6, model.TradeModeAuto),
	}
	broken := healthyExchange()
	broken.balanceErr = &connectors.APIError{Exchange: "mudrex", StatusCode: 403, Message: "forbidden"}
	panicking := healthyExchange()
	panicking.panicMsg = "nil map write"

	clients := map[int64]*stubExchange{
		1: healthyExchange(),
		3: broken,
		4: panicking,
		5: healthyExchange(),
		// 6 has no client and fails in the factory
	}
	engine, signals, history := newTestEngine(subs, clients, Config{MinOrderValue: 8})

	out, err := engine.BroadcastSignal(context.Background(), btcSignal())
	if err != nil {
		t.Fatalf("broadcast returned error: %v", err)
	}

	wantIDs := []int64{1, 3, 4, 5, 6}
	wantStatus := []model.TradeStatus{
		model.TradeStatusSuccess,
		model.TradeStatusInvalidKey,
		model.TradeStatusAPIError,
		model.TradeStatusSuccess,
		model.TradeStatusAPIError,
	}
	if len(out.Results) != len(wantIDs) {
		t.Fatalf("expected %d results, got %d", len(wantIDs), len(out.Results))
	}
	for i, res := range out.Results {
		if res.SubscriberID != wantIDs[i] {
			t.Fatalf("result %d: expected subscriber %d, got %d", i, wantIDs[i], res.SubscriberID)
		}
		if res.Status != wantStatus[i] {
			t.Fatalf("result %d: expected %s, got %s (%s)", i, wantStatus[i], res.Status, res.Message)
		}
	}
	if !strings.Contains(out.Results[2].Message, "nil map write") {
		t.Fatalf("expected recovered panic message, got %q", out.Results[2].Message)
	}

	if len(out.Manual) != 1 || out.Manual[0].TelegramID != 2 {
		t.Fatalf("expected subscriber 2 queued for confirmation, got %+v", out.Manual)
	}
	if out.BroadcastID != "bcast-1" {
		t.Fatalf("expected broadcast id, got %q", out.BroadcastID)
	}
	if len(signals.saved) != 1 {
		t.Fatalf("expected signal persisted once, got %d", len(signals.saved))
	}
	if len(history.rows) != len(wantIDs) {
		t.Fatalf("expected %d history rows, got %d", len(wantIDs), len(history.rows))
	}
	for _, row := range history.rows {
		if row.BroadcastID != "bcast-1" || row.SignalID != "SIG-150126-BTCUSDT" {
			t.Fatalf("unexpected history row %+v", row)
		}
	}
}

func TestBroadcastSignalDoesNotLeakRounding(t *testing.T) {
	coarse := healthyExchange()
	coarse.asset.PriceStep = decimal.NewFromInt(1000)
	fine := healthyExchange()
	fine.asset.PriceStep = decimal.RequireFromString("0.5")

	subs := []model.Subscriber{subscriber(1, model.TradeModeAuto), subscriber(2, model.TradeModeAuto)}
	engine, _, _ := newTestEngine(subs, map[int64]*stubExchange{1: coarse, 2: fine}, Config{})

	sig := btcSignal()
	sig.StopLoss = 93250.3
	if _, err := engine.BroadcastSignal(context.Background(), sig); err != nil {
		t.Fatalf("broadcast returned error: %v", err)
	}

	if got := coarse.orders[0].StopLoss.String(); got != "93000" {
		t.Fatalf("coarse account: expected 93000, got %s", got)
	}
	if got := fine.orders[0].StopLoss.String(); got != "93250.5" {
		t.Fatalf("fine account: expected 93250.5, got %s", got)
	}
	if sig.StopLoss != 93250.3 {
		t.Fatalf("signal mutated: %v", sig.StopLoss)
	}
}

func TestBroadcastSignalRunsInParallel(t *testing.T) {
	const n = 4
	var arrived sync.WaitGroup
	arrived.Add(n)
	release := make(chan struct{})
	go func() {
		arrived.Wait()
		close(release)
	}()

	subs := make([]model.Subscriber, 0, n)
	clients := map[int64]*stubExchange{}
	for i := int64(1); i <= n; i++ {
		subs = append(subs, subscriber(i, model.TradeModeAuto))
		ex := healthyExchange()
		ex.onBalance = func() {
			arrived.Done()
			select {
			case <-release:
			case <-time.After(2 * time.Second):
			}
		}
		clients[i] = ex
	}
	engine, _, _ := newTestEngine(subs, clients, Config{})

	start := time.Now()
	out, err := engine.BroadcastSignal(context.Background(), btcSignal())
	if err != nil {
		t.Fatalf("broadcast returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("subscribers did not run concurrently (took %s)", elapsed)
	}
	for _, res := range out.Results {
		if res.Status != model.TradeStatusSuccess {
			t.Fatalf("expected success, got %s: %s", res.Status, res.Message)
		}
	}
}

func TestExecuteWithAmountOverridesTarget(t *testing.T) {
	ex := healthyExchange()
	ex.asset.Price = decimal.NewFromInt(100)
	ex.asset.QuantityStep = decimal.RequireFromString("0.01")
	sub := subscriber(1, model.TradeModeAuto)
	sub.TradeAmountUSDT = 50
	sub.MaxLeverage = 1

	engine, _, history := newTestEngine([]model.Subscriber{sub}, map[int64]*stubExchange{1: ex}, Config{MinOrderValue: 8})

	sig := btcSignal()
	sig.Leverage = 1
	res := engine.ExecuteWithAmount(context.Background(), sig, &sub, 12.5)
	if res.Status != model.TradeStatusSuccess {
		t.Fatalf("expected success, got %s: %s", res.Status, res.Message)
	}
	if res.Quantity != "0.13" {
		t.Fatalf("expected 12.5 / 100 rounded to 0.13, got %s", res.Quantity)
	}
	if sub.TradeAmountUSDT != 50 {
		t.Fatalf("configured amount changed to %v", sub.TradeAmountUSDT)
	}
	if len(history.rows) != 1 || history.rows[0].Status != model.TradeStatusSuccess {
		t.Fatalf("expected one recorded execution, got %+v", history.rows)
	}
}

func TestBroadcastClose(t *testing.T) {
	withPosition := healthyExchange()
	withPosition.positions = []model.Position{
		{PositionID: "p-eth", Symbol: "ETHUSDT", Quantity: decimal.NewFromInt(2)},
		{PositionID: "p-btc", Symbol: "BTCUSDT", Quantity: decimal.RequireFromString("0.010")},
	}
	flat := healthyExchange()

	subs := []model.Subscriber{
		subscriber(1, model.TradeModeAuto),
		subscriber(2, model.TradeModeManual),
		subscriber(3, model.TradeModeAuto),
	}
	engine, _, history := newTestEngine(subs, map[int64]*stubExchange{1: withPosition, 3: flat}, Config{})

	half := 50.0
	results, err := engine.BroadcastClose(context.Background(), &model.SignalClose{
		SignalID:       "SIG-150126-BTCUSDT",
		PartialPercent: &half,
	})
	if err != nil {
		t.Fatalf("close returned error: %v", err)
	}

	want := []model.TradeStatus{model.TradeStatusSuccess, model.TradeStatusSkipped, model.TradeStatusSkipped}
	for i, res := range results {
		if res.Status != want[i] {
			t.Fatalf("result %d: expected %s, got %s (%s)", i, want[i], res.Status, res.Message)
		}
	}
	if len(withPosition.partial) != 1 || withPosition.partial[0].String() != "0.005" {
		t.Fatalf("expected partial close of 0.005, got %v", withPosition.partial)
	}
	if len(withPosition.closed) != 0 {
		t.Fatalf("partial close must not close the whole position")
	}
	if results[1].Message != "Manual mode - close manually" {
		t.Fatalf("unexpected manual message %q", results[1].Message)
	}
	if len(history.rows) != 0 {
		t.Fatalf("close results are not trade executions, got %d rows", len(history.rows))
	}

	full, err := engine.BroadcastClose(context.Background(), &model.SignalClose{SignalID: "SIG-150126-BTCUSDT"})
	if err != nil {
		t.Fatalf("close returned error: %v", err)
	}
	if full[0].Status != model.TradeStatusSuccess || len(withPosition.closed) != 1 || withPosition.closed[0] != "p-btc" {
		t.Fatalf("expected full close of p-btc, got %+v closed=%v", full[0], withPosition.closed)
	}
}

func TestBroadcastLeverage(t *testing.T) {
	capped := healthyExchange()
	failing := healthyExchange()
	failing.levErr = &connectors.APIError{Exchange: "mudrex", StatusCode: 404, Message: "symbol not found"}

	lowCap := subscriber(1, model.TradeModeAuto)
	lowCap.MaxLeverage = 10
	subs := []model.Subscriber{lowCap, subscriber(2, model.TradeModeManual), subscriber(3, model.TradeModeAuto)}
	engine, _, _ := newTestEngine(subs, map[int64]*stubExchange{1: capped, 3: failing}, Config{})

	results, err := engine.BroadcastLeverage(context.Background(), &model.SignalLeverage{Symbol: "BTCUSDT", Leverage: 25})
	if err != nil {
		t.Fatalf("leverage returned error: %v", err)
	}

	if results[0].Status != model.TradeStatusSuccess || results[0].Message != "Leverage set to 10x" {
		t.Fatalf("unexpected capped result %+v", results[0])
	}
	if len(capped.leverage) != 1 || capped.leverage[0] != 10 {
		t.Fatalf("expected leverage 10 sent, got %v", capped.leverage)
	}
	if results[1].Status != model.TradeStatusSkipped {
		t.Fatalf("expected manual subscriber skipped, got %s", results[1].Status)
	}
	if results[2].Status != model.TradeStatusSymbolNotFound {
		t.Fatalf("expected symbol not found, got %s", results[2].Status)
	}
}

func TestSummarize(t *testing.T) {
	long := strings.Repeat("e", 120)
	results := []model.TradeResult{
		{Username: "a", Status: model.TradeStatusSuccess},
		{Username: "b", Status: model.TradeStatusInsufficientBalance},
		{Username: "c_d", Status: model.TradeStatusAPIError, Message: "*boom* [x]"},
		{SubscriberID: 44, Status: model.TradeStatusInvalidKey, Message: long},
		{Username: "e", Status: model.TradeStatusSymbolNotFound, Message: "Symbol not found"},
		{Username: "f", Status: model.TradeStatusAPIError, Message: "fourth"},
		{Username: "g", Status: model.TradeStatusSkipped},
	}

	s := Summarize(results)
	if s.Total != 7 || s.Success != 1 || s.Insufficient != 1 || s.Failed != 4 || s.Skipped != 1 {
		t.Fatalf("unexpected counts %+v", s)
	}
	if len(s.Errors) != MaxErrorSamples {
		t.Fatalf("expected %d samples, got %d", MaxErrorSamples, len(s.Errors))
	}
	if s.Errors[0].User != "cd" || s.Errors[0].Message != "boom (x)" {
		t.Fatalf("expected sanitized sample, got %+v", s.Errors[0])
	}
	if s.Errors[1].User != "44" || len(s.Errors[1].Message) != 80 {
		t.Fatalf("expected truncated anonymous sample, got %+v", s.Errors[1])
	}
}
