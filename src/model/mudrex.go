package model

import "encoding/json"

// MudrexEnvelope is the common wrapper of every Mudrex futures response.
type MudrexEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
	Errors  []MudrexError   `json:"errors,omitempty"`
}

type MudrexError struct {
	Code int    `json:"code"`
	Text string `json:"text"`
}

// MudrexFunds is the payload of GET /futures/funds.
type MudrexFunds struct {
	Balance      string `json:"balance"`
	LockedAmount string `json:"locked_amount"`
}

// MudrexAsset is the payload of GET /futures/{symbol}.
type MudrexAsset struct {
	ID           string `json:"id"`
	Symbol       string `json:"symbol"`
	Price        string `json:"price"`
	PriceStep    string `json:"price_step"`
	QuantityStep string `json:"quantity_step"`
	MinContract  string `json:"min_contract"`
	MaxLeverage  string `json:"max_leverage"`
}

// MudrexPosition is one element of GET /futures/positions.
type MudrexPosition struct {
	ID         string `json:"id"`
	Symbol     string `json:"symbol"`
	OrderType  string `json:"order_type"`
	Quantity   string `json:"quantity"`
	EntryPrice string `json:"entry_price"`
	Leverage   string `json:"leverage"`
	Status     string `json:"status"`
}

// MudrexOrderRequest is the body of POST /futures/{symbol}/order.
type MudrexOrderRequest struct {
	Leverage        string `json:"leverage"`
	Quantity        string `json:"quantity"`
	OrderPrice      string `json:"order_price,omitempty"`
	OrderType       string `json:"order_type"`
	TriggerType     string `json:"trigger_type"`
	IsStopLoss      bool   `json:"is_stoploss"`
	StopLossPrice   string `json:"stoploss_price,omitempty"`
	IsTakeProfit    bool   `json:"is_takeprofit"`
	TakeProfitPrice string `json:"takeprofit_price,omitempty"`
	ReduceOnly      bool   `json:"reduce_only"`
}

// MudrexOrder is the payload returned after placing an order.
type MudrexOrder struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}
