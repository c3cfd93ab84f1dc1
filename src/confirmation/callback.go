package confirmation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"signalrelay/src/model"
	"signalrelay/src/parser"
)

// MaxCallbackBytes is the Telegram limit on inline button payloads.
const MaxCallbackBytes = 64

type Action string

const (
	ActionConfirm Action = "c"
	ActionReject  Action = "r"
	ActionBalance Action = "b" // confirm with the amount carried in the payload
)

var (
	ErrCallbackTooLong   = errors.New("callback data exceeds 64 bytes")
	ErrMalformedCallback = errors.New("malformed callback data")
)

// Callback is a decoded button press.
type Callback struct {
	Action   Action
	SignalID string
	Amount   float64 // ActionBalance only
}

// Encode renders c as "c:<sid>", "r:<sid>" or "b:<sid>:<amount>".
func (c Callback) Encode() (string, error) {
	var data string
	switch c.Action {
	case ActionConfirm, ActionReject:
		data = string(c.Action) + ":" + c.SignalID
	case ActionBalance:
		data = fmt.Sprintf("%s:%s:%.2f", c.Action, c.SignalID, c.Amount)
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrMalformedCallback, c.Action)
	}
	if len(data) > MaxCallbackBytes {
		return "", ErrCallbackTooLong
	}
	return data, nil
}

// DecodeCallback parses button data produced by Encode.
func DecodeCallback(data string) (Callback, error) {
	if len(data) > MaxCallbackBytes || len(data) < 3 || data[1] != ':' {
		return Callback{}, ErrMalformedCallback
	}
	cb := Callback{Action: Action(data[:1])}
	rest := data[2:]

	switch cb.Action {
	case ActionConfirm, ActionReject:
		cb.SignalID = rest
	case ActionBalance:
		i := strings.LastIndexByte(rest, ':')
		if i <= 0 {
			return Callback{}, ErrMalformedCallback
		}
		amount, err := strconv.ParseFloat(rest[i+1:], 64)
		if err != nil || amount <= 0 {
			return Callback{}, ErrMalformedCallback
		}
		cb.SignalID, cb.Amount = rest[:i], amount
	default:
		return Callback{}, ErrMalformedCallback
	}

	if !parser.IsSignalID(cb.SignalID) {
		return Callback{}, ErrMalformedCallback
	}
	return cb, nil
}

// ConfirmKeyboard is the execute/skip pair sent to MANUAL subscribers.
func ConfirmKeyboard(signalID string) ([][]model.InlineButton, error) {
	confirm, err := Callback{Action: ActionConfirm, SignalID: signalID}.Encode()
	if err != nil {
		return nil, err
	}
	reject, err := Callback{Action: ActionReject, SignalID: signalID}.Encode()
	if err != nil {
		return nil, err
	}
	return [][]model.InlineButton{{
		{Text: "✅ Execute Trade", CallbackData: confirm},
		{Text: "❌ Skip", CallbackData: reject},
	}}, nil
}

// BalanceKeyboard offers to trade with amount instead of the configured size.
func BalanceKeyboard(signalID string, amount float64) ([][]model.InlineButton, error) {
	accept, err := Callback{Action: ActionBalance, SignalID: signalID, Amount: amount}.Encode()
	if err != nil {
		return nil, err
	}
	reject, err := Callback{Action: ActionReject, SignalID: signalID}.Encode()
	if err != nil {
		return nil, err
	}
	return [][]model.InlineButton{{
		{Text: fmt.Sprintf("✅ Trade with $%.2f", amount), CallbackData: accept},
		{Text: "❌ Skip", CallbackData: reject},
	}}, nil
}
