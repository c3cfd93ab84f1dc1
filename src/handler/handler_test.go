package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"signalrelay/src/model"
)

type recordingUpdates struct {
	mu   sync.Mutex
	got  []int64
	done chan struct{}
}

func (r *recordingUpdates) HandleUpdate(ctx context.Context, upd *model.TelegramUpdate) {
	r.mu.Lock()
	r.got = append(r.got, upd.UpdateID)
	r.mu.Unlock()
	close(r.done)
}

type recordingExceptions struct {
	created []*model.Exception
}

func (r *recordingExceptions) Create(ctx context.Context, exc *model.Exception) error {
	r.created = append(r.created, exc)
	return nil
}

type fixedCounter struct {
	n   int64
	err error
}

func (c fixedCounter) CountActive(ctx context.Context) (int64, error) { return c.n, c.err }

func TestWebhookHandler_Dispatches(t *testing.T) {
	updates := &recordingUpdates{done: make(chan struct{})}
	handler := WebhookHandler(updates, nil)

	body := `{"update_id": 42, "message": {"message_id": 1, "chat": {"id": 7, "type": "private"}, "text": "/start"}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	select {
	case <-updates.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("update was not dispatched")
	}
	assert.Equal(t, []int64{42}, updates.got)
}

func TestWebhookHandler_InvalidPayload(t *testing.T) {
	exceptions := &recordingExceptions{}
	handler := WebhookHandler(&recordingUpdates{done: make(chan struct{})}, exceptions)

	for _, body := range []string{"not json", `{"message": {}}`} {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected status 400, got %d", body, rr.Code)
		}
	}
	assert.Len(t, exceptions.created, 2)
	assert.Equal(t, "WebhookHandler", exceptions.created[0].Method)
}

func TestWebhookHandler_NotReady(t *testing.T) {
	handler := WebhookHandler(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"update_id": 1}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestStatusHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	StatusHandler(fixedCounter{n: 3}, "signalrelay", "1.2.0").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	assert.JSONEq(t, `{"status":"running","bot":"signalrelay","version":"1.2.0","subscribers":3}`, rr.Body.String())

	rr = httptest.NewRecorder()
	StatusHandler(fixedCounter{err: errors.New("db down")}, "signalrelay", "1.2.0").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	HealthHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.JSONEq(t, `{"status":"healthy"}`, rr.Body.String())
}
