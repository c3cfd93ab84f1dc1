package handler

import (
	"context"
	"net/http"

	logger "github.com/sirupsen/logrus"
)

type SubscriberCounter interface {
	CountActive(ctx context.Context) (int64, error)
}

type statusResponse struct {
	Status      string `json:"status"`
	Bot         string `json:"bot"`
	Version     string `json:"version"`
	Subscribers int64  `json:"subscribers"`
}

// StatusHandler reports the service name, version and active subscriber count.
func StatusHandler(repo SubscriberCounter, name, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := repo.CountActive(r.Context())
		if err != nil {
			logger.WithError(err).Error("failed to count subscribers")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{Status: "running", Bot: name, Version: version, Subscribers: count})
	}
}

func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}
