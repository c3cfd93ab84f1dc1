package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"signalrelay/src/connectors"
	"signalrelay/src/controller"
	"signalrelay/src/model"
	"signalrelay/src/parser"
	"signalrelay/src/risk"
)

const (
	OperationSignal   = "signal"
	OperationClose    = "close"
	OperationLeverage = "leverage"
	OperationSingle   = "single"
)

type SubscriberLister interface {
	ListActive(ctx context.Context) ([]model.Subscriber, error)
}

type SignalSaver interface {
	Save(ctx context.Context, sig *model.Signal) error
}

type TradeRecorder interface {
	Record(ctx context.Context, h *model.TradeHistory) error
}

// Dependencies are the collaborators an Engine drives. Exceptions may be nil.
type Dependencies struct {
	Subscribers SubscriberLister
	Signals     SignalSaver
	History     TradeRecorder
	Exceptions  controller.ExceptionRecorder
	Clients     connectors.ClientFactory
}

// Engine fans signal, close and leverage operations out to every active
// subscriber. Each subscriber runs in its own goroutine and always yields a
// TradeResult; nothing a single account does can fail the broadcast.
type Engine struct {
	logger *logrus.Entry
	deps   Dependencies
	cfg    Config
	now    func() time.Time
	newID  func() string
}

func NewEngine(logger *logrus.Entry, deps Dependencies, cfg Config) *Engine {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Engine{
		logger: logger,
		deps:   deps,
		cfg:    cfg,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

// SignalResult is what BroadcastSignal hands back to the dispatcher.
type SignalResult struct {
	BroadcastID string
	Results     []model.TradeResult // AUTO subscribers, in store order
	Manual      []model.Subscriber  // awaiting confirmation
}

// TradeParams are the per-execution sizing inputs of one account.
type TradeParams struct {
	TradeAmount   decimal.Decimal
	MaxLeverage   int
	MinOrderValue decimal.Decimal
}

func (e *Engine) minOrderValue() decimal.Decimal {
	if e.cfg.MinOrderValue <= 0 {
		return risk.DefaultMinOrderValue
	}
	return decimal.NewFromFloat(e.cfg.MinOrderValue)
}

func (e *Engine) paramsFor(sub *model.Subscriber, amount *float64) TradeParams {
	target := sub.TradeAmountUSDT
	if amount != nil {
		target = *amount
	}
	return TradeParams{
		TradeAmount:   decimal.NewFromFloat(target),
		MaxLeverage:   sub.MaxLeverage,
		MinOrderValue: e.minOrderValue(),
	}
}

// ----- signal -----

// BroadcastSignal executes sig for every AUTO subscriber and returns the
// MANUAL ones for the confirmation flow. Only a failure to list subscribers is
// returned as an error.
func (e *Engine) BroadcastSignal(ctx context.Context, sig *model.Signal) (*SignalResult, error) {
	started := e.now()
	log := e.logger.WithFields(logrus.Fields{"op": "BroadcastSignal", "signal_id": sig.SignalID})

	subs, err := e.deps.Subscribers.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active subscribers: %w", err)
	}

	var auto []model.Subscriber
	var manual []model.Subscriber
	for i := range subs {
		if subs[i].IsAuto() {
			auto = append(auto, subs[i])
		} else {
			manual = append(manual, subs[i])
		}
	}

	if err := e.deps.Signals.Save(ctx, sig); err != nil {
		log.WithError(err).Error("Failed to persist signal, confirmations will not find it")
	}

	out := &SignalResult{BroadcastID: e.newID(), Manual: manual}
	log = log.WithField("broadcast_id", out.BroadcastID)
	log.WithFields(logrus.Fields{"auto": len(auto), "manual": len(manual)}).Info("Broadcasting signal")

	out.Results = e.fanOut(ctx, OperationSignal, auto, func(ctx context.Context, sub *model.Subscriber) model.TradeResult {
		return e.execute(ctx, sig, sub, nil)
	}, func(ctx context.Context, res *model.TradeResult) {
		e.record(ctx, sig, res, out.BroadcastID)
	})

	Duration.WithLabelValues(OperationSignal).Observe(e.now().Sub(started).Seconds())
	recordResults(OperationSignal, out.Results)
	log.WithField("results", len(out.Results)).Info("Signal broadcast finished")
	return out, nil
}

// ExecuteSingle runs sig for one subscriber through the same pipeline as a
// broadcast. Used when a MANUAL subscriber confirms.
func (e *Engine) ExecuteSingle(ctx context.Context, sig *model.Signal, sub *model.Subscriber) model.TradeResult {
	return e.single(ctx, sig, sub, nil)
}

// ExecuteWithAmount is ExecuteSingle with amount in place of the configured
// trade amount. The subscriber's stored amount is not changed.
func (e *Engine) ExecuteWithAmount(ctx context.Context, sig *model.Signal, sub *model.Subscriber, amount float64) model.TradeResult {
	return e.single(ctx, sig, sub, &amount)
}

func (e *Engine) single(ctx context.Context, sig *model.Signal, sub *model.Subscriber, amount *float64) model.TradeResult {
	res := e.safeRun(ctx, OperationSingle, sub, func(ctx context.Context, sub *model.Subscriber) model.TradeResult {
		return e.execute(ctx, sig, sub, amount)
	})
	e.record(ctx, sig, &res, e.newID())
	ResultsTotal.WithLabelValues(OperationSingle, string(res.Status)).Inc()
	return res
}

func (e *Engine) execute(ctx context.Context, sig *model.Signal, sub *model.Subscriber, amount *float64) model.TradeResult {
	client, err := e.deps.Clients.ClientFor(sub)
	if err != nil {
		res := failure(sig, err)
		return withSubscriber(res, sub)
	}
	res := PlaceTrade(ctx, client, sig, e.paramsFor(sub, amount))
	return withSubscriber(res, sub)
}

func (e *Engine) record(ctx context.Context, sig *model.Signal, res *model.TradeResult, broadcastID string) {
	if e.deps.History == nil {
		return
	}
	h := model.NewTradeHistory(sig, res, broadcastID, e.now().UTC())
	if err := e.deps.History.Record(ctx, h); err != nil {
		e.logger.WithFields(logrus.Fields{
			"op":          "record",
			"signal_id":   sig.SignalID,
			"telegram_id": res.SubscriberID,
		}).WithError(err).Error("Failed to record trade history")
	}
}

// PlaceTrade runs the per-account pipeline: balance, asset lookup, price
// rounding on a private copy of sig, sizing, leverage, order. Every failure is
// returned as a classified result.
func PlaceTrade(ctx context.Context, client connectors.ExchangeClient, sig *model.Signal, params TradeParams) model.TradeResult {
	balance, err := client.GetBalance(ctx)
	if err != nil {
		return failure(sig, err)
	}
	if balance.LessThanOrEqual(decimal.Zero) {
		zero := 0.0
		res := base(sig)
		res.Status = model.TradeStatusInsufficientBalance
		res.Message = "No balance available (0 USDT)"
		res.AvailableBalance = &zero
		return res
	}

	asset, err := client.GetAsset(ctx, sig.Symbol)
	if err != nil {
		if errors.Is(err, connectors.ErrAssetNotFound) {
			res := base(sig)
			res.Status = model.TradeStatusSymbolNotFound
			res.Message = "Symbol not found: " + sig.Symbol
			return res
		}
		return failure(sig, err)
	}

	exec := sig.Copy()
	exec.StopLoss = risk.RoundFloatToStep(exec.StopLoss, asset.PriceStep)
	exec.TakeProfit = risk.RoundFloatToStep(exec.TakeProfit, asset.PriceStep)
	price := asset.Price
	if exec.EntryPrice != nil {
		rounded := risk.RoundFloatToStep(*exec.EntryPrice, asset.PriceStep)
		exec.EntryPrice = &rounded
		if exec.OrderKind == model.OrderKindLimit {
			price = decimal.NewFromFloat(rounded)
		}
	}

	maxLeverage := params.MaxLeverage
	if asset.MaxLeverage > 0 && (maxLeverage <= 0 || asset.MaxLeverage < maxLeverage) {
		maxLeverage = asset.MaxLeverage
	}

	size, err := risk.SizeOrder(risk.SizeRequest{
		TargetMargin:     params.TradeAmount,
		Leverage:         exec.Leverage,
		MaxLeverage:      maxLeverage,
		Price:            price,
		QuantityStep:     asset.QuantityStep,
		MinOrderValue:    params.MinOrderValue,
		AvailableBalance: balance,
	})
	if err != nil {
		var sizeErr *risk.SizingError
		if errors.As(err, &sizeErr) {
			avail, _ := sizeErr.AvailableBalance.Float64()
			res := base(sig)
			res.Status = sizeErr.Status
			res.Message = sizeErr.Message
			res.AvailableBalance = &avail
			return res
		}
		return failure(sig, err)
	}

	if err := client.SetLeverage(ctx, exec.Symbol, size.Leverage, connectors.MarginIsolated); err != nil {
		return failure(sig, err)
	}

	req := connectors.OrderRequest{
		Symbol:   exec.Symbol,
		Side:     exec.Direction,
		Quantity: size.Quantity,
		Leverage: size.Leverage,
	}
	if exec.StopLoss > 0 {
		sl := decimal.NewFromFloat(exec.StopLoss)
		req.StopLoss = &sl
	}
	if exec.TakeProfit > 0 {
		tp := decimal.NewFromFloat(exec.TakeProfit)
		req.TakeProfit = &tp
	}

	var orderID string
	if exec.OrderKind == model.OrderKindLimit {
		req.Price = price
		orderID, err = client.CreateLimitOrder(ctx, req)
	} else {
		orderID, err = client.CreateMarketOrder(ctx, req)
	}
	if err != nil {
		return failure(sig, err)
	}

	value, _ := size.Value.Float64()
	msg := fmt.Sprintf("%s %s %s (~$%.2f)", exec.Direction, size.Quantity.String(), exec.Symbol, value)
	if req.StopLoss != nil || req.TakeProfit != nil {
		msg += " | SL/TP set"
	}

	res := base(sig)
	res.Status = model.TradeStatusSuccess
	res.Message = msg
	res.OrderID = orderID
	res.Quantity = size.Quantity.String()
	res.ActualValue = &value
	res.EntryPrice = exec.EntryPrice
	return res
}

func base(sig *model.Signal) model.TradeResult {
	return model.TradeResult{Side: sig.Direction, OrderType: sig.OrderKind}
}

func failure(sig *model.Signal, err error) model.TradeResult {
	res := base(sig)
	res.Status, res.Message = controller.ClassifyError(err)
	return res
}

func withSubscriber(res model.TradeResult, sub *model.Subscriber) model.TradeResult {
	res.SubscriberID = sub.TelegramID
	res.Username = sub.Username
	return res
}

// ----- close -----

// BroadcastClose closes the position matching the signal's symbol on every
// AUTO account. MANUAL subscribers are reported as SKIPPED.
func (e *Engine) BroadcastClose(ctx context.Context, cls *model.SignalClose) ([]model.TradeResult, error) {
	started := e.now()
	symbol := cls.Symbol
	if symbol == "" {
		symbol, _ = parser.SymbolFromSignalID(cls.SignalID)
	}
	if symbol == "" {
		return nil, fmt.Errorf("cannot derive symbol from signal id %q", cls.SignalID)
	}

	subs, err := e.deps.Subscribers.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active subscribers: %w", err)
	}

	e.logger.WithFields(logrus.Fields{
		"op":          "BroadcastClose",
		"signal_id":   cls.SignalID,
		"percent":     cls.Percent(),
		"subscribers": len(subs),
	}).Info("Broadcasting close")

	results := e.fanOut(ctx, OperationClose, subs, func(ctx context.Context, sub *model.Subscriber) model.TradeResult {
		if !sub.IsAuto() {
			return skipped(sub, "Manual mode - close manually")
		}
		client, err := e.deps.Clients.ClientFor(sub)
		if err != nil {
			return classified(sub, err)
		}
		res := ClosePosition(ctx, client, symbol, cls.Percent())
		return withSubscriber(res, sub)
	}, nil)

	Duration.WithLabelValues(OperationClose).Observe(e.now().Sub(started).Seconds())
	recordResults(OperationClose, results)
	return results, nil
}

// ClosePosition closes percent of the open position on symbol. The partial
// quantity is taken from the quantity the exchange reports now and rounded to
// the asset's quantity step.
func ClosePosition(ctx context.Context, client connectors.ExchangeClient, symbol string, percent float64) model.TradeResult {
	positions, err := client.ListOpenPositions(ctx)
	if err != nil {
		return classifiedResult(err)
	}

	var pos *model.Position
	for i := range positions {
		if strings.EqualFold(positions[i].Symbol, symbol) {
			pos = &positions[i]
			break
		}
	}
	if pos == nil {
		return model.TradeResult{Status: model.TradeStatusSkipped, Message: "No open position for " + symbol}
	}

	if percent >= 100 {
		if err := client.ClosePosition(ctx, pos.PositionID); err != nil {
			return classifiedResult(err)
		}
		return model.TradeResult{
			Status:   model.TradeStatusSuccess,
			Message:  fmt.Sprintf("Closed %s position (%s)", symbol, pos.Quantity.String()),
			Quantity: pos.Quantity.String(),
			Side:     pos.Side,
		}
	}

	asset, err := client.GetAsset(ctx, symbol)
	if err != nil {
		return classifiedResult(err)
	}
	qty := risk.RoundToStep(controller.PercentOfDecimal(pos.Quantity, percent), asset.QuantityStep)
	if qty.LessThanOrEqual(decimal.Zero) {
		return model.TradeResult{
			Status:  model.TradeStatusAPIError,
			Message: fmt.Sprintf("%.0f%% of %s rounds to 0 at step %s", percent, pos.Quantity.String(), asset.QuantityStep.String()),
		}
	}

	if qty.GreaterThanOrEqual(pos.Quantity) {
		err = client.ClosePosition(ctx, pos.PositionID)
	} else {
		err = client.ClosePositionPartial(ctx, pos.PositionID, qty)
	}
	if err != nil {
		return classifiedResult(err)
	}
	return model.TradeResult{
		Status:   model.TradeStatusSuccess,
		Message:  fmt.Sprintf("Closed %.0f%% of %s (%s)", percent, symbol, qty.String()),
		Quantity: qty.String(),
		Side:     pos.Side,
	}
}

// ----- leverage -----

// BroadcastLeverage sets leverage on the symbol for every AUTO account,
// whether or not a position is open. The value is capped by each subscriber's
// max leverage.
func (e *Engine) BroadcastLeverage(ctx context.Context, lev *model.SignalLeverage) ([]model.TradeResult, error) {
	started := e.now()
	subs, err := e.deps.Subscribers.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active subscribers: %w", err)
	}

	e.logger.WithFields(logrus.Fields{
		"op":          "BroadcastLeverage",
		"symbol":      lev.Symbol,
		"leverage":    lev.Leverage,
		"subscribers": len(subs),
	}).Info("Broadcasting leverage update")

	results := e.fanOut(ctx, OperationLeverage, subs, func(ctx context.Context, sub *model.Subscriber) model.TradeResult {
		if !sub.IsAuto() {
			return skipped(sub, "Manual mode - adjust leverage manually")
		}
		client, err := e.deps.Clients.ClientFor(sub)
		if err != nil {
			return classified(sub, err)
		}
		return withSubscriber(SetLeverage(ctx, client, lev.Symbol, lev.Leverage, sub.MaxLeverage), sub)
	}, nil)

	Duration.WithLabelValues(OperationLeverage).Observe(e.now().Sub(started).Seconds())
	recordResults(OperationLeverage, results)
	return results, nil
}

// SetLeverage applies leverage on symbol, capped by maxLeverage, in isolated
// margin mode.
func SetLeverage(ctx context.Context, client connectors.ExchangeClient, symbol string, leverage, maxLeverage int) model.TradeResult {
	value := risk.ClampLeverage(leverage, maxLeverage)
	if err := client.SetLeverage(ctx, symbol, value, connectors.MarginIsolated); err != nil {
		return classifiedResult(err)
	}
	return model.TradeResult{
		Status:  model.TradeStatusSuccess,
		Message: fmt.Sprintf("Leverage set to %dx", value),
	}
}

func skipped(sub *model.Subscriber, msg string) model.TradeResult {
	return withSubscriber(model.TradeResult{Status: model.TradeStatusSkipped, Message: msg}, sub)
}

func classified(sub *model.Subscriber, err error) model.TradeResult {
	return withSubscriber(classifiedResult(err), sub)
}

func classifiedResult(err error) model.TradeResult {
	var res model.TradeResult
	res.Status, res.Message = controller.ClassifyError(err)
	return res
}

// ----- fan-out -----

type task func(ctx context.Context, sub *model.Subscriber) model.TradeResult

// fanOut runs fn once per subscriber and returns the results in input order.
// The group is not bound to a context: a failing task never cancels siblings.
func (e *Engine) fanOut(ctx context.Context, operation string, subs []model.Subscriber, fn task, after func(context.Context, *model.TradeResult)) []model.TradeResult {
	results := make([]model.TradeResult, len(subs))
	if len(subs) == 0 {
		return results
	}

	var g errgroup.Group
	if e.cfg.Concurrency > 0 {
		g.SetLimit(e.cfg.Concurrency)
	}
	for i := range subs {
		sub := &subs[i]
		g.Go(func() error {
			results[i] = e.safeRun(ctx, operation, sub, fn)
			if after != nil {
				after(ctx, &results[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) safeRun(ctx context.Context, operation string, sub *model.Subscriber, fn task) (res model.TradeResult) {
	defer func() {
		if r := recover(); r != nil {
			TaskPanics.Inc()
			err := fmt.Errorf("subscriber task panic: %v", r)
			controller.Capture(ctx, e.deps.Exceptions, controller.ServiceName, "broadcast", operation, "error", err,
				map[string]interface{}{"telegram_id": sub.TelegramID})
			res = withSubscriber(model.TradeResult{
				Status:  model.TradeStatusAPIError,
				Message: "Error: " + controller.Truncate(controller.Sanitize(fmt.Sprint(r)), controller.MaxErrorMessageLen),
			}, sub)
		}
	}()
	return fn(ctx, sub)
}
