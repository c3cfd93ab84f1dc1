package connectors

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"signalrelay/src/model"
)

type MarginMode string

const (
	MarginIsolated MarginMode = "ISOLATED"
	MarginCross    MarginMode = "CROSS"
)

// ErrAssetNotFound is returned by GetAsset when the symbol is not listed.
var ErrAssetNotFound = errors.New("asset not found")

// OrderRequest describes one futures order. Price is only used for limit orders.
type OrderRequest struct {
	Symbol     string
	Side       model.Direction
	Quantity   decimal.Decimal
	Leverage   int
	Price      decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	ReduceOnly bool
}

// ExchangeClient is an account-scoped futures client.
type ExchangeClient interface {
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	GetAsset(ctx context.Context, symbol string) (*model.Asset, error)
	SetLeverage(ctx context.Context, symbol string, leverage int, mode MarginMode) error
	CreateMarketOrder(ctx context.Context, req OrderRequest) (string, error)
	CreateLimitOrder(ctx context.Context, req OrderRequest) (string, error)
	ListOpenPositions(ctx context.Context) ([]model.Position, error)
	ClosePosition(ctx context.Context, positionID string) error
	ClosePositionPartial(ctx context.Context, positionID string, quantity decimal.Decimal) error
}

// ClientFactory builds an ExchangeClient from a subscriber's decrypted credentials.
type ClientFactory interface {
	ClientFor(sub *model.Subscriber) (ExchangeClient, error)
}

type ClientFactoryFunc func(sub *model.Subscriber) (ExchangeClient, error)

func (f ClientFactoryFunc) ClientFor(sub *model.Subscriber) (ExchangeClient, error) {
	return f(sub)
}

// APIError is a structured failure reported by an exchange API.
type APIError struct {
	Exchange   string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s HTTP %d: %s (code %s)", e.Exchange, e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("%s HTTP %d: %s", e.Exchange, e.StatusCode, e.Message)
}
