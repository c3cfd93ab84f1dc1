package controller

import (
	"errors"
	"net/http"
	"strings"

	"signalrelay/src/connectors"
	"signalrelay/src/model"
)

// MaxErrorMessageLen bounds API_ERROR messages shown to subscribers.
const MaxErrorMessageLen = 200

var (
	insufficientMarkers = []string{
		"insufficient",
		"not enough",
		"balance too low",
		"low balance",
		"margin is not sufficient",
	}
	authMarkers = []string{
		"unauthorized",
		"forbidden",
		"invalid api",
		"api key",
		"authentication",
		"signature",
		"permission denied",
	}
	notFoundMarkers = []string{
		"not found",
		"invalid symbol",
		"unknown symbol",
		"symbol not",
		"pair not",
	}
)

var markupReplacer = strings.NewReplacer(
	"*", "",
	"_", "",
	"`", "",
	"[", "(",
	"]", ")",
)

// ClassifyError maps an exchange failure to a trade status and a message safe
// to show in chat. Rules are checked in order: insufficient funds, auth, not
// found, then everything else.
func ClassifyError(err error) (model.TradeStatus, string) {
	if err == nil {
		return model.TradeStatusAPIError, "Unknown error"
	}

	statusCode := 0
	text := err.Error()
	var apiErr *connectors.APIError
	if errors.As(err, &apiErr) {
		statusCode = apiErr.StatusCode
		if apiErr.Message != "" {
			text = apiErr.Message
		}
	}
	lower := strings.ToLower(text)

	switch {
	case containsAny(lower, insufficientMarkers):
		return model.TradeStatusInsufficientBalance, "Insufficient balance: " + Truncate(Sanitize(text), MaxErrorMessageLen)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden || containsAny(lower, authMarkers):
		return model.TradeStatusInvalidKey, "Invalid API key - please /register again with valid credentials"
	case statusCode == http.StatusNotFound || errors.Is(err, connectors.ErrAssetNotFound) || containsAny(lower, notFoundMarkers):
		return model.TradeStatusSymbolNotFound, "Symbol not found"
	}

	msg := Truncate(Sanitize(text), MaxErrorMessageLen)
	if msg == "" {
		msg = "Unknown error"
	}
	return model.TradeStatusAPIError, msg
}

// Sanitize strips characters that break Telegram Markdown rendering.
func Sanitize(s string) string {
	return strings.TrimSpace(markupReplacer.Replace(s))
}

// Truncate cuts s to at most n runes, appending "..." when shortened.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
