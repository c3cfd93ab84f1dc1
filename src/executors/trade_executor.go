package executors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"signalrelay/src/broadcast"
	"signalrelay/src/connectors"
	"signalrelay/src/formatter"
	"signalrelay/src/model"
)

type TrackedStore interface {
	Save(ctx context.Context, ts *model.TrackedSignal) error
	Get(ctx context.Context, signalID string) (*model.TrackedSignal, error)
	UpdateLevels(ctx context.Context, signalID string, stopLoss, takeProfit *float64) (bool, error)
	UpdateStatus(ctx context.Context, signalID string, status model.TrackedStatus, pnl *float64) (bool, error)
	ListOpen(ctx context.Context) ([]model.TrackedSignal, error)
}

// TradeExecutor runs admin signals against one exchange account and keeps a
// TrackedSignal for each order it places.
type TradeExecutor struct {
	logger  *logrus.Entry
	client  connectors.ExchangeClient
	tracked TrackedStore
	params  broadcast.TradeParams
	now     func() time.Time
}

func NewTradeExecutor(logger *logrus.Entry, client connectors.ExchangeClient, tracked TrackedStore, cfg Config) *TradeExecutor {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &TradeExecutor{
		logger:  logger,
		client:  client,
		tracked: tracked,
		params: broadcast.TradeParams{
			TradeAmount:   decimal.NewFromFloat(cfg.TradeAmount),
			MaxLeverage:   cfg.MaxLeverage,
			MinOrderValue: decimal.NewFromFloat(cfg.MinOrderValue),
		},
		now: time.Now,
	}
}

// Execute places sig and starts tracking it. A signal id that is already
// tracked and open is skipped.
func (e *TradeExecutor) Execute(ctx context.Context, sig *model.Signal) (model.TradeResult, error) {
	log := e.logger.WithFields(logrus.Fields{"op": "Execute", "signal_id": sig.SignalID})

	existing, err := e.tracked.Get(ctx, sig.SignalID)
	if err != nil {
		return model.TradeResult{}, fmt.Errorf("load tracked signal: %w", err)
	}
	if existing != nil && existing.IsOpen() {
		return model.TradeResult{Status: model.TradeStatusSkipped, Message: "Signal " + sig.SignalID + " is already open"}, nil
	}

	res := broadcast.PlaceTrade(ctx, e.client, sig, e.params)
	log.WithFields(logrus.Fields{"status": res.Status, "order_id": res.OrderID}).Info("Signal executed")
	if res.Status != model.TradeStatusSuccess {
		return res, nil
	}

	status := model.TrackedFilled
	if sig.OrderKind == model.OrderKindLimit {
		status = model.TrackedPending
	}
	ts := &model.TrackedSignal{
		SignalID:   sig.SignalID,
		Symbol:     sig.Symbol,
		SignalType: sig.Direction,
		OrderType:  sig.OrderKind,
		EntryPrice: res.EntryPrice,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Leverage:   sig.Leverage,
		Quantity:   res.Quantity,
		OrderID:    res.OrderID,
		Status:     status,
		CreatedAt:  e.now().UTC(),
	}
	if err := e.tracked.Save(ctx, ts); err != nil {
		return res, fmt.Errorf("track signal: %w", err)
	}
	return res, nil
}

// Update records new levels on an open tracked signal. Orders already on the
// exchange keep their original SL/TP.
func (e *TradeExecutor) Update(ctx context.Context, upd *model.SignalUpdate) (bool, error) {
	return e.tracked.UpdateLevels(ctx, upd.SignalID, upd.StopLoss, upd.TakeProfit)
}

// Close closes the tracked position fully or partially. A full close marks
// the signal CLOSED.
func (e *TradeExecutor) Close(ctx context.Context, cls *model.SignalClose) (string, model.TradeResult, error) {
	ts, err := e.tracked.Get(ctx, cls.SignalID)
	if err != nil {
		return "", model.TradeResult{}, fmt.Errorf("load tracked signal: %w", err)
	}
	if ts == nil || !ts.IsOpen() {
		return cls.Symbol, model.TradeResult{
			Status:  model.TradeStatusSkipped,
			Message: "Signal " + cls.SignalID + " is not open",
		}, nil
	}

	res := broadcast.ClosePosition(ctx, e.client, ts.Symbol, cls.Percent())
	e.logger.WithFields(logrus.Fields{"op": "Close", "signal_id": cls.SignalID, "status": res.Status}).Info("Close executed")

	if !cls.IsPartial() && (res.Status == model.TradeStatusSuccess || res.Status == model.TradeStatusSkipped) {
		if _, err := e.tracked.UpdateStatus(ctx, cls.SignalID, model.TrackedClosed, nil); err != nil {
			return ts.Symbol, res, fmt.Errorf("mark tracked signal closed: %w", err)
		}
	}
	return ts.Symbol, res, nil
}

// Leverage applies a leverage change to the account, capped by the
// configured max leverage.
func (e *TradeExecutor) Leverage(ctx context.Context, lev *model.SignalLeverage) model.TradeResult {
	return broadcast.SetLeverage(ctx, e.client, lev.Symbol, lev.Leverage, e.params.MaxLeverage)
}

// Sync reconciles open tracked signals with the exchange: a pending limit
// order with a position is FILLED, a filled signal without one is CLOSED.
func (e *TradeExecutor) Sync(ctx context.Context) error {
	open, err := e.tracked.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("list tracked signals: %w", err)
	}
	if len(open) == 0 {
		return nil
	}

	positions, err := e.client.ListOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}
	held := make(map[string]model.Position, len(positions))
	for _, p := range positions {
		held[strings.ToUpper(p.Symbol)] = p
	}

	for _, ts := range open {
		_, hasPosition := held[strings.ToUpper(ts.Symbol)]
		var next model.TrackedStatus
		switch {
		case ts.Status == model.TrackedPending && hasPosition:
			next = model.TrackedFilled
		case ts.Status == model.TrackedFilled && !hasPosition:
			next = model.TrackedClosed
		default:
			continue
		}
		if _, err := e.tracked.UpdateStatus(ctx, ts.SignalID, next, nil); err != nil {
			return fmt.Errorf("update tracked signal %s: %w", ts.SignalID, err)
		}
		e.logger.WithFields(logrus.Fields{"signal_id": ts.SignalID, "status": next}).Info("Tracked signal reconciled")
	}
	return nil
}

// Handle runs cmd and returns the reply for the admin.
func (e *TradeExecutor) Handle(ctx context.Context, cmd model.Command) (string, string, error) {
	switch c := cmd.(type) {
	case *model.Signal:
		res, err := e.Execute(ctx, c)
		if err != nil {
			return "", "", err
		}
		return formatter.TradeNotification(c, &res), "", nil
	case *model.SignalUpdate:
		found, err := e.Update(ctx, c)
		if err != nil {
			return "", "", err
		}
		return formatter.SignalUpdated(c, found), model.ParseModeMarkdown, nil
	case *model.SignalClose:
		symbol, res, err := e.Close(ctx, c)
		if err != nil {
			return "", "", err
		}
		return formatter.CloseNotification(c.SignalID, symbol, &res), "", nil
	case *model.SignalLeverage:
		res := e.Leverage(ctx, c)
		return formatter.LeverageNotification(c, &res), "", nil
	}
	return formatter.UnknownSignalCommand, "", nil
}
