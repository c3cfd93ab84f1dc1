package risk

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"signalrelay/src/model"
)

var (
	// MarginSafetyBuffer is applied to the margin required by a bumped-up order.
	MarginSafetyBuffer = decimal.RequireFromString("1.01")

	DefaultMinOrderValue = decimal.NewFromInt(8)
)

// SizeRequest carries everything needed to size one order for one account.
type SizeRequest struct {
	TargetMargin     decimal.Decimal // configured trade amount, pre-leverage
	Leverage         int             // requested by the signal
	MaxLeverage      int             // subscriber cap
	Price            decimal.Decimal
	QuantityStep     decimal.Decimal
	MinOrderValue    decimal.Decimal
	AvailableBalance decimal.Decimal
}

type SizeResult struct {
	Quantity decimal.Decimal
	Value    decimal.Decimal // Quantity x Price
	Leverage int
	Margin   decimal.Decimal // margin actually committed
	Adjusted bool            // bumped up to the minimum order value
}

// SizingError is returned when no compliant order fits the account.
type SizingError struct {
	Status           model.TradeStatus
	Message          string
	AvailableBalance decimal.Decimal
}

func (e *SizingError) Error() string {
	return e.Message
}

// ClampLeverage bounds requested to [1, max]. A non-positive max means no cap.
func ClampLeverage(requested, max int) int {
	if requested < 1 {
		requested = 1
	}
	if max > 0 && requested > max {
		return max
	}
	return requested
}

// SizeOrder computes an exchange-compliant quantity for req.
//
// Margin is the lower of the target and the available balance; notional is
// margin x leverage. When the quantised notional falls under the minimum order
// value the order is resized to the minimum, provided the balance still covers
// the required margin plus MarginSafetyBuffer.
func SizeOrder(req SizeRequest) (SizeResult, error) {
	if req.AvailableBalance.LessThanOrEqual(decimal.Zero) {
		return SizeResult{}, &SizingError{
			Status:           model.TradeStatusInsufficientBalance,
			Message:          "No balance available (0 USDT)",
			AvailableBalance: decimal.Zero,
		}
	}
	if req.Price.LessThanOrEqual(decimal.Zero) {
		return SizeResult{}, &SizingError{
			Status:           model.TradeStatusAPIError,
			Message:          fmt.Sprintf("Invalid price %s for sizing", req.Price.String()),
			AvailableBalance: req.AvailableBalance,
		}
	}

	minValue := req.MinOrderValue
	if minValue.LessThanOrEqual(decimal.Zero) {
		minValue = DefaultMinOrderValue
	}

	margin := decimal.Min(req.TargetMargin, req.AvailableBalance)
	leverage := ClampLeverage(req.Leverage, req.MaxLeverage)
	lev := decimal.NewFromInt(int64(leverage))
	notional := margin.Mul(lev)

	qty, value := QuantityForValue(notional, req.Price, req.QuantityStep)
	adjusted := false

	if value.LessThan(minValue) {
		qty, value = QuantityForValue(minValue, req.Price, req.QuantityStep)
		// nearest-step rounding can land just under the minimum
		if value.LessThan(minValue) && req.QuantityStep.GreaterThan(decimal.Zero) {
			qty = RoundToStep(qty.Add(req.QuantityStep), req.QuantityStep)
			value = qty.Mul(req.Price)
		}

		required := value.Div(lev)
		if required.Mul(MarginSafetyBuffer).GreaterThan(req.AvailableBalance) {
			return SizeResult{}, &SizingError{
				Status: model.TradeStatusInsufficientBalance,
				Message: fmt.Sprintf("Balance $%s too low for min order value $%s (Req Margin: ~$%s)",
					req.AvailableBalance.StringFixed(2), minValue.StringFixed(2), required.StringFixed(2)),
				AvailableBalance: req.AvailableBalance,
			}
		}
		margin = required
		adjusted = true
	}

	if qty.LessThanOrEqual(decimal.Zero) {
		return SizeResult{}, &SizingError{
			Status:           model.TradeStatusAPIError,
			Message:          "Calculated quantity is 0 - funds too low for this symbol",
			AvailableBalance: req.AvailableBalance,
		}
	}

	return SizeResult{
		Quantity: qty,
		Value:    value,
		Leverage: leverage,
		Margin:   margin,
		Adjusted: adjusted,
	}, nil
}

// QuantityForValue quantises notional/price to step and returns the quantity
// with its resulting value.
func QuantityForValue(notional, price, step decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero
	}
	qty := RoundToStep(notional.DivRound(price, 16), step)
	return qty, qty.Mul(price)
}

// RoundToStep rounds value to the nearest multiple of step and trims the
// result to the step's precision. A non-positive step returns value unchanged.
func RoundToStep(value, step decimal.Decimal) decimal.Decimal {
	if step.LessThanOrEqual(decimal.Zero) {
		return value
	}
	steps := value.DivRound(step, 16).Round(0)
	return steps.Mul(step).Round(int32(StepPrecision(step)))
}

// RoundFloatToStep is RoundToStep for float inputs, as stored on signals.
func RoundFloatToStep(value float64, step decimal.Decimal) float64 {
	f, _ := RoundToStep(decimal.NewFromFloat(value), step).Float64()
	return f
}

// StepPrecision returns the number of fractional digits of step.
// Exponent forms such as 1e-05 are normalised first.
func StepPrecision(step decimal.Decimal) int {
	s := step.String() // plain notation, trailing zeros trimmed
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0
	}
	return len(s) - dot - 1
}

// ParseStep parses a step as reported by an exchange, e.g. "0.001" or "1e-05".
func ParseStep(raw string) (decimal.Decimal, error) {
	step, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid step %q: %w", raw, err)
	}
	return step, nil
}
