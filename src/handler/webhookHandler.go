package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	logger "github.com/sirupsen/logrus"

	"signalrelay/src/controller"
	"signalrelay/src/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxUpdateBytes bounds a webhook body; Telegram updates are a few KB.
const maxUpdateBytes = 1 << 20

type UpdateHandler interface {
	HandleUpdate(ctx context.Context, upd *model.TelegramUpdate)
}

// WebhookHandler accepts Telegram updates. The update is acknowledged as soon
// as it decodes; handling continues after the response is written so that
// long broadcasts never trigger Telegram redeliveries.
func WebhookHandler(updates UpdateHandler, exceptions controller.ExceptionRecorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if updates == nil {
			http.Error(w, "Bot not initialized", http.StatusServiceUnavailable)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBytes))
		if err != nil {
			logger.WithError(err).Warn("failed to read webhook body")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		var upd model.TelegramUpdate
		if err := json.Unmarshal(body, &upd); err != nil || upd.UpdateID == 0 {
			if err == nil {
				err = errors.New("update without update_id")
			}
			controller.Capture(r.Context(), exceptions, controller.ServiceName, "handler", "WebhookHandler", "warning", err,
				map[string]interface{}{"body_bytes": len(body)})
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		go updates.HandleUpdate(context.WithoutCancel(r.Context()), &upd)

		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"ok":true}`)); err != nil {
			logger.WithError(err).Error("failed to write webhook response")
		}
	}
}
