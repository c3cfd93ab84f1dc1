// Package registration holds the in-memory onboarding conversation that
// collects a subscriber's credentials and trade amount.
package registration

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

type State string

const (
	AwaitingKey    State = "AWAITING_KEY"
	AwaitingSecret State = "AWAITING_SECRET"
	AwaitingAmount State = "AWAITING_AMOUNT"
	Done           State = "DONE"
)

var (
	ErrNoSession       = errors.New("no registration in progress")
	ErrWrongState      = errors.New("unexpected registration step")
	ErrInvalidKey      = errors.New("invalid api key")
	ErrInvalidSecret   = errors.New("invalid api secret")
	ErrInvalidAmount   = errors.New("amount must be between 1 and 10000")
	ErrInvalidLeverage = errors.New("leverage must be between 1 and 125")
)

var Validate = validator.New()

type credentialInput struct {
	Value string `validate:"required,min=10,max=256"`
}

type amountInput struct {
	Amount float64 `validate:"gte=1,lte=10000"`
}

type leverageInput struct {
	Leverage int `validate:"gte=1,lte=125"`
}

// ParseAmount reads a per-trade USDT amount. It also backs /setamount.
func ParseAmount(text string) (float64, error) {
	amount, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if err := Validate.Struct(amountInput{Amount: amount}); err != nil {
		return 0, ErrInvalidAmount
	}
	return amount, nil
}

// ParseLeverage reads a max leverage for /setleverage.
func ParseLeverage(text string) (int, error) {
	leverage, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(text)), "x"))
	if err != nil {
		return 0, ErrInvalidLeverage
	}
	if err := Validate.Struct(leverageInput{Leverage: leverage}); err != nil {
		return 0, ErrInvalidLeverage
	}
	return leverage, nil
}

// Credentials is what a finished conversation yields.
type Credentials struct {
	APIKey    string
	APISecret string
	Amount    float64
}

type session struct {
	state     State
	creds     Credentials
	updatedAt time.Time
}

// Flow tracks one conversation per Telegram user. Sessions idle for longer
// than ttl are dropped on the next access.
type Flow struct {
	mu       sync.Mutex
	sessions map[int64]*session
	ttl      time.Duration
	now      func() time.Time
}

func NewFlow(ttl time.Duration) *Flow {
	return &Flow{
		sessions: make(map[int64]*session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Start (re)opens the conversation for userID at AwaitingKey.
func (f *Flow) Start(userID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[userID] = &session{state: AwaitingKey, updatedAt: f.now()}
}

// State returns the current step of userID.
func (f *Flow) State(userID int64) (State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.lookup(userID)
	if s == nil {
		return "", false
	}
	return s.state, true
}

// Cancel drops the conversation. It reports whether one existed.
func (f *Flow) Cancel(userID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sessions[userID]
	delete(f.sessions, userID)
	return ok
}

func (f *Flow) SubmitKey(userID int64, key string) error {
	key = strings.TrimSpace(key)
	if err := Validate.Struct(credentialInput{Value: key}); err != nil {
		return ErrInvalidKey
	}
	return f.advance(userID, AwaitingKey, AwaitingSecret, func(c *Credentials) { c.APIKey = key })
}

func (f *Flow) SubmitSecret(userID int64, secret string) error {
	secret = strings.TrimSpace(secret)
	if err := Validate.Struct(credentialInput{Value: secret}); err != nil {
		return ErrInvalidSecret
	}
	return f.advance(userID, AwaitingSecret, AwaitingAmount, func(c *Credentials) { c.APISecret = secret })
}

// SubmitAmount parses the per-trade amount typed by the user.
func (f *Flow) SubmitAmount(userID int64, text string) (float64, error) {
	amount, err := ParseAmount(text)
	if err != nil {
		return 0, err
	}
	return amount, f.advance(userID, AwaitingAmount, Done, func(c *Credentials) { c.Amount = amount })
}

// Skip accepts defaultAmount at the amount step.
func (f *Flow) Skip(userID int64, defaultAmount float64) error {
	return f.advance(userID, AwaitingAmount, Done, func(c *Credentials) { c.Amount = defaultAmount })
}

// Complete hands over the collected credentials and forgets the session.
func (f *Flow) Complete(userID int64) (Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.lookup(userID)
	if s == nil {
		return Credentials{}, ErrNoSession
	}
	if s.state != Done {
		return Credentials{}, ErrWrongState
	}
	delete(f.sessions, userID)
	return s.creds, nil
}

func (f *Flow) advance(userID int64, from, to State, apply func(*Credentials)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.lookup(userID)
	if s == nil {
		return ErrNoSession
	}
	if s.state != from {
		return ErrWrongState
	}
	apply(&s.creds)
	s.state = to
	s.updatedAt = f.now()
	return nil
}

// lookup must be called with mu held.
func (f *Flow) lookup(userID int64) *session {
	s, ok := f.sessions[userID]
	if !ok {
		return nil
	}
	if f.ttl > 0 && f.now().Sub(s.updatedAt) > f.ttl {
		delete(f.sessions, userID)
		return nil
	}
	return s
}
