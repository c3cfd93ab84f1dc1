package connectors

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"signalrelay/src/model"
)

type telegramEnvelope struct {
	OK          bool                `json:"ok"`
	Result      jsoniter.RawMessage `json:"result"`
	Description string              `json:"description,omitempty"`
	ErrorCode   int                 `json:"error_code,omitempty"`
}

// TelegramError is a Bot API failure.
type TelegramError struct {
	Method      string
	Code        int
	Description string
}

func (e *TelegramError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

type inlineKeyboardMarkup struct {
	InlineKeyboard [][]model.InlineButton `json:"inline_keyboard"`
}

// TelegramClient talks to the Bot API. Outbound calls share a rate limiter so a
// broadcast burst stays under Telegram's flood limits.
type TelegramClient struct {
	http    *resty.Client
	limiter *rate.Limiter
}

func NewTelegramClient(token string, cfg Config) *TelegramClient {
	baseURL := cfg.TelegramAPIURL
	if baseURL == "" {
		baseURL = DefaultTelegramBaseURL
	}
	timeout := cfg.TelegramTimeout
	if timeout <= 0 {
		timeout = 40 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(fmt.Sprintf("%s/bot%s", baseURL, token)).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	return &TelegramClient{
		http:    httpClient,
		limiter: newSendLimiter(cfg.TelegramRatePerSec),
	}
}

func newSendLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

func (c *TelegramClient) call(ctx context.Context, method string, payload interface{}, out interface{}, limited bool) error {
	if limited {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post("/" + method)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}

	var env telegramEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return &TelegramError{Method: method, Code: resp.StatusCode(), Description: http.StatusText(resp.StatusCode())}
	}
	if !env.OK {
		logger.WithFields(map[string]interface{}{
			"method": method,
			"code":   env.ErrorCode,
		}).Warn(env.Description)
		return &TelegramError{Method: method, Code: env.ErrorCode, Description: env.Description}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode telegram %s result: %w", method, err)
		}
	}
	return nil
}

// SendMessage delivers msg and returns the new message id.
func (c *TelegramClient) SendMessage(ctx context.Context, msg model.OutgoingMessage) (int64, error) {
	payload := map[string]interface{}{
		"chat_id":                  msg.ChatID,
		"text":                     msg.Text,
		"disable_web_page_preview": true,
	}
	if msg.ParseMode != "" {
		payload["parse_mode"] = msg.ParseMode
	}
	if len(msg.Buttons) > 0 {
		payload["reply_markup"] = inlineKeyboardMarkup{InlineKeyboard: msg.Buttons}
	}

	var sent model.TelegramMessage
	if err := c.call(ctx, "sendMessage", payload, &sent, true); err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// EditMessage replaces the text of a message and drops its keyboard.
func (c *TelegramClient) EditMessage(ctx context.Context, chatID, messageID int64, text, parseMode string) error {
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}
	if parseMode != "" {
		payload["parse_mode"] = parseMode
	}
	return c.call(ctx, "editMessageText", payload, nil, true)
}

func (c *TelegramClient) AnswerCallback(ctx context.Context, callbackID, text string) error {
	payload := map[string]interface{}{"callback_query_id": callbackID}
	if text != "" {
		payload["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", payload, nil, false)
}

func (c *TelegramClient) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return c.call(ctx, "deleteMessage", map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
	}, nil, true)
}

// GetChatMemberStatus returns creator, administrator, member, left or kicked.
func (c *TelegramClient) GetChatMemberStatus(ctx context.Context, chatID, userID int64) (string, error) {
	var member struct {
		Status string `json:"status"`
	}
	err := c.call(ctx, "getChatMember", map[string]interface{}{
		"chat_id": chatID,
		"user_id": userID,
	}, &member, false)
	return member.Status, err
}

// GetUpdates long-polls for updates after offset.
func (c *TelegramClient) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]model.TelegramUpdate, error) {
	var updates []model.TelegramUpdate
	err := c.call(ctx, "getUpdates", map[string]interface{}{
		"offset":          offset,
		"timeout":         int(timeout / time.Second),
		"allowed_updates": []string{"message", "channel_post", "callback_query"},
	}, &updates, false)
	return updates, err
}

// SetWebhook registers url with Telegram. A non-empty secretToken is echoed
// back in the X-Telegram-Bot-Api-Secret-Token header of every delivery.
func (c *TelegramClient) SetWebhook(ctx context.Context, url, secretToken string) error {
	payload := map[string]interface{}{
		"url":             url,
		"allowed_updates": []string{"message", "channel_post", "callback_query"},
	}
	if secretToken != "" {
		payload["secret_token"] = secretToken
	}
	return c.call(ctx, "setWebhook", payload, nil, false)
}

func (c *TelegramClient) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", map[string]interface{}{"drop_pending_updates": false}, nil, false)
}

// BotIDFromToken returns the numeric bot id embedded in a token ("123:abc").
func BotIDFromToken(token string) int64 {
	head, _, found := strings.Cut(token, ":")
	if !found {
		return 0
	}
	id, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
