package mapper

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"signalrelay/src/model"
)

func parseDecimalSafe(source, field, v string) decimal.Decimal {
	v = strings.TrimSpace(v)
	if v == "" {
		logger.WithFields(map[string]interface{}{
			"mapper": source,
			"field":  field,
		}).Debug("Empty numeric field received, defaulting to 0")
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"mapper": source,
			"field":  field,
			"value":  v,
		}).WithError(err).Error("Failed to parse decimal from Mudrex response field; defaulting to 0")
		return decimal.Zero
	}
	return d
}

func parseIntSafe(source, field, v string) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	// some leverage fields come back as "20.0"
	return int(parseDecimalSafe(source, field, v).IntPart())
}

// MapMudrexAsset converts asset metadata into the exchange-neutral model.
func MapMudrexAsset(resp *model.MudrexAsset) *model.Asset {
	if resp == nil {
		logger.WithField("mapper", "MapMudrexAsset").Error("Nil MudrexAsset received")
		return nil
	}
	return &model.Asset{
		Symbol:       strings.ToUpper(resp.Symbol),
		Price:        parseDecimalSafe("MapMudrexAsset", "price", resp.Price),
		PriceStep:    parseDecimalSafe("MapMudrexAsset", "price_step", resp.PriceStep),
		QuantityStep: parseDecimalSafe("MapMudrexAsset", "quantity_step", resp.QuantityStep),
		MinQuantity:  parseDecimalSafe("MapMudrexAsset", "min_contract", resp.MinContract),
		MaxLeverage:  parseIntSafe("MapMudrexAsset", "max_leverage", resp.MaxLeverage),
	}
}

// MapMudrexPositions converts the open positions list, skipping malformed rows.
func MapMudrexPositions(resp []model.MudrexPosition) []model.Position {
	out := make([]model.Position, 0, len(resp))
	for _, p := range resp {
		if p.ID == "" || p.Symbol == "" {
			logger.WithFields(map[string]interface{}{
				"mapper": "MapMudrexPositions",
				"id":     p.ID,
				"symbol": p.Symbol,
			}).Warn("Skipping position without id or symbol")
			continue
		}
		out = append(out, model.Position{
			PositionID: p.ID,
			Symbol:     strings.ToUpper(p.Symbol),
			Side:       model.Direction(strings.ToUpper(p.OrderType)),
			Quantity:   parseDecimalSafe("MapMudrexPositions", "quantity", p.Quantity),
			EntryPrice: parseDecimalSafe("MapMudrexPositions", "entry_price", p.EntryPrice),
			Leverage:   parseIntSafe("MapMudrexPositions", "leverage", p.Leverage),
		})
	}
	return out
}

// MapMudrexBalance returns the withdrawable futures balance.
func MapMudrexBalance(resp *model.MudrexFunds) decimal.Decimal {
	if resp == nil {
		return decimal.Zero
	}
	return parseDecimalSafe("MapMudrexBalance", "balance", resp.Balance)
}
