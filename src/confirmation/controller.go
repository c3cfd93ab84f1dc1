package confirmation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"signalrelay/src/model"
)

var (
	ErrNotRegistered   = errors.New("subscriber is not registered")
	ErrSignalNotFound  = errors.New("signal not found or closed")
	ErrNoPending       = errors.New("no pending confirmation")
	ErrAlreadyResolved = errors.New("confirmation already resolved")
	ErrExpired         = errors.New("confirmation expired")
	ErrInvalidAmount   = errors.New("invalid amount")
)

type Store interface {
	Upsert(ctx context.Context, p *model.PendingConfirmation) error
	Get(ctx context.Context, signalID string, telegramID int64) (*model.PendingConfirmation, error)
	Resolve(ctx context.Context, signalID string, telegramID int64, status model.ConfirmationStatus, now time.Time) (bool, error)
	ExpireBefore(ctx context.Context, now time.Time) (int64, error)
}

type SignalLoader interface {
	Get(ctx context.Context, signalID string) (*model.SignalRecord, error)
}

type SubscriberGetter interface {
	Get(ctx context.Context, telegramID int64) (*model.Subscriber, error)
}

// Executor is the single-subscriber path of the broadcast engine.
type Executor interface {
	ExecuteSingle(ctx context.Context, sig *model.Signal, sub *model.Subscriber) model.TradeResult
	ExecuteWithAmount(ctx context.Context, sig *model.Signal, sub *model.Subscriber, amount float64) model.TradeResult
}

// Controller drives PENDING_CONFIRMATION entries to EXECUTED, SKIPPED or
// EXPIRED. A pending entry is claimed with a conditional update before any
// exchange call, so a second press on the same button never trades twice.
type Controller struct {
	logger      *logrus.Entry
	store       Store
	signals     SignalLoader
	subscribers SubscriberGetter
	executor    Executor
	cfg         Config
	now         func() time.Time
}

func NewController(logger *logrus.Entry, store Store, signals SignalLoader, subscribers SubscriberGetter, executor Executor, cfg Config) *Controller {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}

	return &Controller{
		logger:      logger,
		store:       store,
		signals:     signals,
		subscribers: subscribers,
		executor:    executor,
		cfg:         cfg,
		now:         time.Now,
	}
}

func (c *Controller) Window() time.Duration {
	return c.cfg.Window
}

// Outcome is the result of a confirmed execution.
type Outcome struct {
	Signal *model.Signal
	Result model.TradeResult
}

// Open starts the decision window for telegramID on sig. Reopening an entry
// resets it to pending.
func (c *Controller) Open(ctx context.Context, sig *model.Signal, telegramID int64, kind model.ConfirmationKind, offered *float64) (*model.PendingConfirmation, error) {
	p := &model.PendingConfirmation{
		SignalID:      sig.SignalID,
		TelegramID:    telegramID,
		Kind:          kind,
		OfferedAmount: offered,
		ExpiresAt:     c.now().UTC().Add(c.cfg.Window),
	}
	if err := c.store.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("open confirmation: %w", err)
	}
	return p, nil
}

// ReducedBalanceOffer reports the amount to offer after an insufficient
// balance result, if the remaining balance is worth trading.
func (c *Controller) ReducedBalanceOffer(res *model.TradeResult) (float64, bool) {
	if res.Status != model.TradeStatusInsufficientBalance || res.AvailableBalance == nil {
		return 0, false
	}
	available := *res.AvailableBalance
	if available < c.cfg.ReducedBalanceMin {
		return 0, false
	}
	return available, true
}

// Confirm executes the pending signal for telegramID with the configured amount.
func (c *Controller) Confirm(ctx context.Context, signalID string, telegramID int64) (*Outcome, error) {
	return c.confirm(ctx, signalID, telegramID, nil)
}

// ConfirmWithAmount executes with amount for this trade only. The amount may
// not exceed what was offered.
func (c *Controller) ConfirmWithAmount(ctx context.Context, signalID string, telegramID int64, amount float64) (*Outcome, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return c.confirm(ctx, signalID, telegramID, &amount)
}

func (c *Controller) confirm(ctx context.Context, signalID string, telegramID int64, amount *float64) (*Outcome, error) {
	log := c.logger.WithFields(logrus.Fields{"op": "confirm", "signal_id": signalID, "telegram_id": telegramID})

	sub, err := c.subscribers.Get(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("load subscriber: %w", err)
	}
	if sub == nil || !sub.IsActive {
		return nil, ErrNotRegistered
	}

	rec, err := c.signals.Get(ctx, signalID)
	if err != nil {
		return nil, fmt.Errorf("load signal: %w", err)
	}
	if rec == nil || rec.Status != model.SignalStatusActive {
		return nil, ErrSignalNotFound
	}

	pending, err := c.store.Get(ctx, signalID, telegramID)
	if err != nil {
		return nil, fmt.Errorf("load confirmation: %w", err)
	}
	if pending == nil {
		return nil, ErrNoPending
	}
	if amount != nil && pending.OfferedAmount != nil && *amount > *pending.OfferedAmount+0.005 {
		return nil, ErrInvalidAmount
	}

	if err := c.claim(ctx, signalID, telegramID, model.ConfirmationExecuted); err != nil {
		log.WithError(err).Info("Confirmation not claimed")
		return nil, err
	}

	sig := rec.ToSignal()
	var res model.TradeResult
	if amount != nil {
		res = c.executor.ExecuteWithAmount(ctx, sig, sub, *amount)
	} else {
		res = c.executor.ExecuteSingle(ctx, sig, sub)
	}
	log.WithField("status", res.Status).Info("Confirmed trade executed")
	return &Outcome{Signal: sig, Result: res}, nil
}

// Reject marks the pending entry SKIPPED. No exchange call is made.
func (c *Controller) Reject(ctx context.Context, signalID string, telegramID int64) error {
	return c.claim(ctx, signalID, telegramID, model.ConfirmationSkipped)
}

// claim moves the entry from pending to status and explains a lost race.
func (c *Controller) claim(ctx context.Context, signalID string, telegramID int64, status model.ConfirmationStatus) error {
	now := c.now().UTC()
	ok, err := c.store.Resolve(ctx, signalID, telegramID, status, now)
	if err != nil {
		return fmt.Errorf("resolve confirmation: %w", err)
	}
	if ok {
		return nil
	}

	current, err := c.store.Get(ctx, signalID, telegramID)
	if err != nil {
		return fmt.Errorf("load confirmation: %w", err)
	}
	switch {
	case current == nil:
		return ErrNoPending
	case current.Status == model.ConfirmationExpired:
		return ErrExpired
	case current.Status != model.ConfirmationPending:
		return ErrAlreadyResolved
	case current.Expired(now):
		return ErrExpired
	}
	return ErrAlreadyResolved
}

// ExpireStale marks every pending entry whose window has elapsed.
func (c *Controller) ExpireStale(ctx context.Context) (int64, error) {
	n, err := c.store.ExpireBefore(ctx, c.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expire confirmations: %w", err)
	}
	return n, nil
}
