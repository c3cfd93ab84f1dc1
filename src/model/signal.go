package model

import "time"

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Opposite returns the side that reduces a position opened in d.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

type OrderKind string

const (
	OrderKindMarket OrderKind = "MARKET"
	OrderKindLimit  OrderKind = "LIMIT"
)

const DefaultLeverage = 1

// Command is the closed set of instructions the parser can produce.
// Implemented by *Signal, *SignalUpdate, *SignalClose and *SignalLeverage.
type Command interface {
	CommandSignalID() string
	isCommand()
}

// Signal is a new trade intent published by the admin.
type Signal struct {
	SignalID   string
	Direction  Direction
	Symbol     string
	OrderKind  OrderKind
	EntryPrice *float64 // nil for market orders
	StopLoss   float64
	TakeProfit float64
	Leverage   int
	RawText    string
	CreatedAt  time.Time
}

func (s *Signal) CommandSignalID() string { return s.SignalID }
func (*Signal) isCommand()                {}

// Copy returns a deep copy safe to mutate during execution.
func (s *Signal) Copy() *Signal {
	if s == nil {
		return nil
	}
	cp := *s
	if s.EntryPrice != nil {
		entry := *s.EntryPrice
		cp.EntryPrice = &entry
	}
	return &cp
}

// SignalUpdate patches the levels of an existing signal.
type SignalUpdate struct {
	SignalID   string
	StopLoss   *float64
	TakeProfit *float64
	EntryPrice *float64
}

func (u *SignalUpdate) CommandSignalID() string { return u.SignalID }
func (*SignalUpdate) isCommand()                {}

// Empty reports whether the update carries no new level.
func (u *SignalUpdate) Empty() bool {
	return u.StopLoss == nil && u.TakeProfit == nil && u.EntryPrice == nil
}

// SignalClose closes the position opened for a signal, fully or partially.
type SignalClose struct {
	SignalID       string
	Symbol         string
	PartialPercent *float64 // nil closes 100%
}

func (c *SignalClose) CommandSignalID() string { return c.SignalID }
func (*SignalClose) isCommand()                {}

// Percent returns the share of the open quantity to close.
func (c *SignalClose) Percent() float64 {
	if c.PartialPercent == nil {
		return 100
	}
	return *c.PartialPercent
}

// IsPartial reports whether less than the whole position is closed.
func (c *SignalClose) IsPartial() bool {
	return c.Percent() < 100
}

// SignalLeverage changes leverage for a symbol regardless of position state.
type SignalLeverage struct {
	SignalID string
	Symbol   string
	Leverage int
}

func (l *SignalLeverage) CommandSignalID() string { return l.SignalID }
func (*SignalLeverage) isCommand()                {}

type SignalStatus string

const (
	SignalStatusActive SignalStatus = "ACTIVE"
	SignalStatusClosed SignalStatus = "CLOSED"
)

// SignalRecord is the persisted form of a Signal, used to rebuild it when a
// subscriber confirms a manual trade long after the original message.
type SignalRecord struct {
	SignalID   string       `gorm:"primaryKey;size:64;column:signal_id" json:"signal_id"`
	Symbol     string       `gorm:"size:30;index" json:"symbol"`
	SignalType Direction    `gorm:"size:10" json:"signal_type"`
	OrderType  OrderKind    `gorm:"size:10" json:"order_type"`
	EntryPrice *float64     `json:"entry_price,omitempty"`
	StopLoss   float64      `json:"stop_loss"`
	TakeProfit float64      `json:"take_profit"`
	Leverage   int          `json:"leverage"`
	RawText    string       `gorm:"type:text" json:"-"`
	Status     SignalStatus `gorm:"size:20;index" json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	ClosedAt   *time.Time   `json:"closed_at,omitempty"`
}

func (SignalRecord) TableName() string { return "signals" }

func NewSignalRecord(s *Signal) *SignalRecord {
	rec := &SignalRecord{
		SignalID:   s.SignalID,
		Symbol:     s.Symbol,
		SignalType: s.Direction,
		OrderType:  s.OrderKind,
		StopLoss:   s.StopLoss,
		TakeProfit: s.TakeProfit,
		Leverage:   s.Leverage,
		RawText:    s.RawText,
		Status:     SignalStatusActive,
		CreatedAt:  s.CreatedAt,
	}
	if s.EntryPrice != nil {
		entry := *s.EntryPrice
		rec.EntryPrice = &entry
	}
	return rec
}

// ToSignal rebuilds the Signal held by the record.
func (r *SignalRecord) ToSignal() *Signal {
	s := &Signal{
		SignalID:   r.SignalID,
		Direction:  r.SignalType,
		Symbol:     r.Symbol,
		OrderKind:  r.OrderType,
		StopLoss:   r.StopLoss,
		TakeProfit: r.TakeProfit,
		Leverage:   r.Leverage,
		RawText:    r.RawText,
		CreatedAt:  r.CreatedAt,
	}
	if r.EntryPrice != nil {
		entry := *r.EntryPrice
		s.EntryPrice = &entry
	}
	return s
}
