package model

import "github.com/shopspring/decimal"

// Position is an open futures position as reported by the exchange.
type Position struct {
	PositionID string          `json:"position_id"`
	Symbol     string          `json:"symbol"`
	Side       Direction       `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Leverage   int             `json:"leverage"`
}

// Asset is the exchange metadata needed to build a compliant order.
type Asset struct {
	Symbol       string          `json:"symbol"`
	Price        decimal.Decimal `json:"price"`
	PriceStep    decimal.Decimal `json:"price_step"`
	QuantityStep decimal.Decimal `json:"quantity_step"`
	MinQuantity  decimal.Decimal `json:"min_quantity"`
	MaxLeverage  int             `json:"max_leverage"`
}
