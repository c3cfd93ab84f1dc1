package auth

import (
	"crypto/subtle"
	"net/http"

	logger "github.com/sirupsen/logrus"
)

// SecretTokenHeader carries the secret registered with setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// RequireSecretToken rejects webhook deliveries that do not carry secret.
// An empty secret disables the check.
func RequireSecretToken(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(SecretTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				logger.WithField("remote", r.RemoteAddr).Warn("webhook delivery with bad secret token")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
