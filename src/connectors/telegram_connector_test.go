package connectors

// Test index:
//  1. TestTelegramSendMessage checks the payload and inline keyboard serialisation.
//  2. TestTelegramErrorResponse turns ok=false into *TelegramError.
//  3. TestTelegramGetUpdates decodes messages, channel posts and callbacks.
//  4. TestTelegramChatMemberStatus reads the member status field.
//  5. TestBotIDFromToken parses the numeric prefix of a token.

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"signalrelay/src/model"
)

const testBotToken = "123456:secret"

func newTestTelegram(t *testing.T, handler func(method string, body map[string]interface{}) string) *TelegramClient {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix := "/bot" + testBotToken + "/"
		if len(r.URL.Path) <= len(prefix) || r.URL.Path[:len(prefix)] != prefix {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(handler(r.URL.Path[len(prefix):], body)))
	}))
	t.Cleanup(server.Close)

	return NewTelegramClient(testBotToken, Config{TelegramAPIURL: server.URL, TelegramTimeout: 5 * time.Second})
}

func TestTelegramSendMessage(t *testing.T) {
	var gotMethod string
	var gotBody map[string]interface{}
	client := newTestTelegram(t, func(method string, body map[string]interface{}) string {
		gotMethod, gotBody = method, body
		return `{"ok":true,"result":{"message_id":42,"chat":{"id":-100}}}`
	})

	id, err := client.SendMessage(context.Background(), model.OutgoingMessage{
		ChatID:    -100,
		Text:      "hello",
		ParseMode: model.ParseModeMarkdown,
		Buttons: [][]model.InlineButton{{
			{Text: "Confirm", CallbackData: "c:SIG-1"},
			{Text: "Skip", CallbackData: "r:SIG-1"},
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected message id 42, got %d", id)
	}
	if gotMethod != "sendMessage" || gotBody["text"] != "hello" || gotBody["parse_mode"] != "Markdown" || gotBody["chat_id"] != float64(-100) {
		t.Fatalf("unexpected request %s %+v", gotMethod, gotBody)
	}

	markup, ok := gotBody["reply_markup"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected reply_markup, got %+v", gotBody["reply_markup"])
	}
	rows := markup["inline_keyboard"].([]interface{})
	buttons := rows[0].([]interface{})
	if len(rows) != 1 || len(buttons) != 2 {
		t.Fatalf("unexpected keyboard %+v", rows)
	}
	if buttons[1].(map[string]interface{})["callback_data"] != "r:SIG-1" {
		t.Fatalf("unexpected button %+v", buttons[1])
	}
}

func TestTelegramErrorResponse(t *testing.T) {
	client := newTestTelegram(t, func(string, map[string]interface{}) string {
		return `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`
	})

	_, err := client.SendMessage(context.Background(), model.OutgoingMessage{ChatID: 1, Text: "x"})
	var tgErr *TelegramError
	if !errors.As(err, &tgErr) {
		t.Fatalf("expected *TelegramError, got %v", err)
	}
	if tgErr.Code != 403 || tgErr.Method != "sendMessage" {
		t.Fatalf("unexpected error %+v", tgErr)
	}
}

func TestTelegramGetUpdates(t *testing.T) {
	client := newTestTelegram(t, func(method string, body map[string]interface{}) string {
		if method != "getUpdates" || body["offset"] != float64(7) || body["timeout"] != float64(30) {
			t.Errorf("unexpected request %s %+v", method, body)
		}
		return `{"ok":true,"result":[
			{"update_id":7,"message":{"message_id":1,"from":{"id":10,"username":"alice"},"chat":{"id":10,"type":"private"},"text":"/start"}},
			{"update_id":8,"channel_post":{"message_id":2,"chat":{"id":-200,"type":"channel"},"text":"/signal LONG BTCUSDT sl=1 tp=2"}},
			{"update_id":9,"callback_query":{"id":"cb1","from":{"id":10},"data":"c:SIG-030126-BTCUSDT"}}
		]}`
	})

	updates, err := client.GetUpdates(context.Background(), 7, 30*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != 3 {
		t.Fatalf("expected 3 updates, got %d", len(updates))
	}
	if updates[0].Message == nil || updates[0].Message.From.Username != "alice" {
		t.Fatalf("unexpected message update %+v", updates[0])
	}
	if msg := updates[1].EffectiveMessage(); msg == nil || msg.Chat.Type != model.ChatTypeChannel {
		t.Fatalf("expected channel post as effective message, got %+v", msg)
	}
	if updates[2].CallbackQuery == nil || updates[2].CallbackQuery.Data != "c:SIG-030126-BTCUSDT" {
		t.Fatalf("unexpected callback update %+v", updates[2])
	}
}

func TestTelegramChatMemberStatus(t *testing.T) {
	client := newTestTelegram(t, func(method string, body map[string]interface{}) string {
		if method != "getChatMember" || body["user_id"] != float64(55) {
			t.Errorf("unexpected request %s %+v", method, body)
		}
		return `{"ok":true,"result":{"status":"administrator","user":{"id":55}}}`
	})

	status, err := client.GetChatMemberStatus(context.Background(), -200, 55)
	if err != nil || status != "administrator" {
		t.Fatalf("expected (administrator, nil), got (%q, %v)", status, err)
	}
}

func TestBotIDFromToken(t *testing.T) {
	cases := []struct {
		token string
		want  int64
	}{
		{token: "123456:abc", want: 123456},
		{token: "abc:def", want: 0},
		{token: "nocolon", want: 0},
		{token: "", want: 0},
	}
	for _, tc := range cases {
		if got := BotIDFromToken(tc.token); got != tc.want {
			t.Fatalf("BotIDFromToken(%q) = %d, want %d", tc.token, got, tc.want)
		}
	}
}
