package broadcast

import (
	"strconv"

	"signalrelay/src/controller"
	"signalrelay/src/model"
)

const (
	// MaxErrorSamples bounds the inline error detail of a summary.
	MaxErrorSamples      = 3
	errorSampleMaxLength = 80
)

type ErrorSample struct {
	User    string
	Message string
}

// Summary aggregates a result set for the admin.
type Summary struct {
	Total        int
	Success      int
	Insufficient int
	Failed       int
	Skipped      int
	Pending      int
	Errors       []ErrorSample
}

// Summarize counts results by outcome. Error samples keep the first
// MaxErrorSamples failures, sanitized and shortened.
func Summarize(results []model.TradeResult) Summary {
	s := Summary{Total: len(results)}
	for i := range results {
		r := &results[i]
		switch {
		case r.Status == model.TradeStatusSuccess:
			s.Success++
		case r.Status == model.TradeStatusInsufficientBalance:
			s.Insufficient++
		case r.Status == model.TradeStatusSkipped:
			s.Skipped++
		case r.Status == model.TradeStatusPendingConfirmation:
			s.Pending++
		case r.Status.IsFailure():
			s.Failed++
			if len(s.Errors) < MaxErrorSamples {
				user := r.Username
				if user == "" {
					user = strconv.FormatInt(r.SubscriberID, 10)
				}
				s.Errors = append(s.Errors, ErrorSample{
					User:    controller.Sanitize(user),
					Message: controller.Sanitize(truncateRunes(r.Message, errorSampleMaxLength)),
				})
			}
		}
	}
	return s
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
