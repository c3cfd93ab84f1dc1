package controller

import (
	"context"
	"runtime/debug"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"signalrelay/src/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const ServiceName = "signalrelay"

// ExceptionRecorder persists captured exceptions.
type ExceptionRecorder interface {
	Create(ctx context.Context, exc *model.Exception) error
}

// PercentOfDecimal returns percent% of value using a clamped percent (1–100).
// Out of range percents are adjusted and logged.
func PercentOfDecimal(value decimal.Decimal, percent float64) decimal.Decimal {
	originalPercent := percent

	if percent < 1 {
		percent = 1
		logger.WithFields(map[string]interface{}{
			"value":        value.String(),
			"original_pct": originalPercent,
			"adjusted_pct": percent,
		}).Warn("Percent below minimum, clamped to 1")
	}

	if percent > 100 {
		percent = 100
		logger.WithFields(map[string]interface{}{
			"value":        value.String(),
			"original_pct": originalPercent,
			"adjusted_pct": percent,
		}).Warn("Percent above maximum, clamped to 100")
	}

	result := value.Mul(decimal.NewFromFloat(percent)).Div(decimal.NewFromInt(100))

	logger.WithFields(map[string]interface{}{
		"value":   value.String(),
		"percent": percent,
		"result":  result.String(),
	}).Debug("Computed percentage of decimal value")

	return result
}

// Capture logs err and, when repo is set, stores it with the current stack
// and contextData encoded as JSON. A nil err is ignored.
func Capture(ctx context.Context, repo ExceptionRecorder, service, module, method, level string, err error, contextData map[string]interface{}) {
	if err == nil {
		return
	}

	fields := logger.Fields{"service": service, "module": module, "method": method, "level": level}
	for k, v := range contextData {
		fields[k] = v
	}
	logger.WithFields(fields).WithError(err).Error("System exception captured")

	if repo == nil {
		return
	}

	exc := &model.Exception{
		Service:   service,
		Module:    module,
		Method:    method,
		Level:     level,
		Message:   err.Error(),
		Stack:     string(debug.Stack()),
		CreatedAt: time.Now().UTC(),
	}
	if len(contextData) > 0 {
		if raw, encErr := json.Marshal(contextData); encErr == nil {
			exc.Context = string(raw)
		}
	}
	if storeErr := repo.Create(ctx, exc); storeErr != nil {
		logger.WithError(storeErr).WithField("module", module).Error("Failed to persist exception")
	}
}
