package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"

	"signalrelay/src/auth"
	"signalrelay/src/controller"
	"signalrelay/src/handler"
)

const shutdownTimeout = 5 * time.Second

// Routes are the collaborators served over HTTP. Updates may be nil when the
// bot runs in polling mode; the webhook then answers 503.
type Routes struct {
	Name          string
	Version       string
	Subscribers   handler.SubscriberCounter
	Updates       handler.UpdateHandler
	Exceptions    controller.ExceptionRecorder
	WebhookPath   string
	WebhookSecret string
}

func NewRouter(routes Routes) http.Handler {
	r := chi.NewRouter()
	// === Global Middleware ===
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/", handler.StatusHandler(routes.Subscribers, routes.Name, routes.Version))
	r.Get("/health", handler.HealthHandler())
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/healthcheck error")
		}
	})
	r.Handle("/metrics", promhttp.Handler())

	// Telegram
	if routes.WebhookPath != "" {
		r.With(auth.RequireSecretToken(routes.WebhookSecret)).
			Post(routes.WebhookPath, handler.WebhookHandler(routes.Updates, routes.Exceptions))
	}
	return r
}

// Run serves h on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}
	return nil
}
