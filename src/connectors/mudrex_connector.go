// REST client for Mudrex USDT-M futures.
// RESTY + INTERNAL RETRY, one client per subscriber account.
package connectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"signalrelay/src/mapper"
	"signalrelay/src/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	mudrexExchangeName = "mudrex"

	defaultRetryAttempts   = 5
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second
)

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}

	code := r.StatusCode()
	if code >= 500 && code <= 599 {
		return true
	}
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		return true
	}
	return false
}

// isRetryableMudrexResp keeps the generic rule for reads but only retries a
// POST when the exchange rejected it before processing.
func isRetryableMudrexResp(r *resty.Response, err error) bool {
	if r != nil && r.Request != nil && r.Request.Method == http.MethodPost {
		return err == nil && r.StatusCode() == http.StatusTooManyRequests
	}
	return isRetryableResp(r, err)
}

// MudrexClient implements ExchangeClient for one account.
type MudrexClient struct {
	apiSecret string
	http      *resty.Client
}

var _ ExchangeClient = (*MudrexClient)(nil)

func NewMudrexClient(apiSecret, baseURL string, timeout time.Duration) *MudrexClient {
	if baseURL == "" {
		baseURL = DefaultMudrexBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableMudrexResp).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	return &MudrexClient{apiSecret: apiSecret, http: httpClient}
}

// NewMudrexFactory returns a ClientFactory that builds clients from subscriber secrets.
func NewMudrexFactory(cfg Config) ClientFactory {
	return ClientFactoryFunc(func(sub *model.Subscriber) (ExchangeClient, error) {
		if sub == nil || sub.PlainAPISecret == "" {
			return nil, &APIError{Exchange: mudrexExchangeName, StatusCode: http.StatusUnauthorized, Message: "missing API credentials"}
		}
		return NewMudrexClient(sub.PlainAPISecret, cfg.MudrexBaseURL, cfg.ExchangeTimeout), nil
	})
}

func (c *MudrexClient) doRequest(ctx context.Context, method, path string, query map[string]string, body interface{}) (*model.MudrexEnvelope, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-Authentication", c.apiSecret).
		SetHeader("Accept", "application/json")

	if len(query) > 0 {
		req = req.SetQueryParams(query)
	}
	if body != nil {
		req = req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	logger.WithFields(map[string]interface{}{
		"exchange": mudrexExchangeName,
		"method":   method,
		"path":     path,
	}).Debug("Mudrex HTTP request")

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	raw := resp.Body()
	var env model.MudrexEnvelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return nil, newMudrexAPIError(resp.StatusCode(), &env, raw, decodeErr)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s %s: %w", method, path, decodeErr)
	}
	if !env.Success {
		return nil, newMudrexAPIError(resp.StatusCode(), &env, raw, nil)
	}
	return &env, nil
}

func newMudrexAPIError(status int, env *model.MudrexEnvelope, raw []byte, decodeErr error) *APIError {
	apiErr := &APIError{Exchange: mudrexExchangeName, StatusCode: status}
	if decodeErr == nil && env != nil {
		if len(env.Errors) > 0 {
			texts := make([]string, 0, len(env.Errors))
			for _, e := range env.Errors {
				texts = append(texts, e.Text)
			}
			apiErr.Code = strconv.Itoa(env.Errors[0].Code)
			apiErr.Message = strings.Join(texts, "; ")
		} else if env.Message != "" {
			apiErr.Message = env.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

func symbolQuery() map[string]string {
	return map[string]string{"is_symbol": ""}
}

// ----- account -----

func (c *MudrexClient) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	env, err := c.doRequest(ctx, http.MethodGet, "/futures/funds", nil, nil)
	if err != nil {
		return decimal.Zero, err
	}
	var funds model.MudrexFunds
	if err := json.Unmarshal(env.Data, &funds); err != nil {
		return decimal.Zero, fmt.Errorf("decode funds: %w", err)
	}
	return mapper.MapMudrexBalance(&funds), nil
}

func (c *MudrexClient) GetAsset(ctx context.Context, symbol string) (*model.Asset, error) {
	env, err := c.doRequest(ctx, http.MethodGet, "/futures/"+strings.ToUpper(symbol), symbolQuery(), nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", symbol, ErrAssetNotFound)
		}
		return nil, err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, fmt.Errorf("%s: %w", symbol, ErrAssetNotFound)
	}

	var raw model.MudrexAsset
	if err := json.Unmarshal(env.Data, &raw); err != nil {
		return nil, fmt.Errorf("decode asset %s: %w", symbol, err)
	}
	if raw.Symbol == "" {
		raw.Symbol = symbol
	}
	return mapper.MapMudrexAsset(&raw), nil
}

func (c *MudrexClient) SetLeverage(ctx context.Context, symbol string, leverage int, mode MarginMode) error {
	body := map[string]string{
		"margin_type": string(mode),
		"leverage":    strconv.Itoa(leverage),
	}
	_, err := c.doRequest(ctx, http.MethodPost, "/futures/"+strings.ToUpper(symbol)+"/leverage", symbolQuery(), body)
	return err
}

// ----- orders -----

func (c *MudrexClient) CreateMarketOrder(ctx context.Context, req OrderRequest) (string, error) {
	return c.placeOrder(ctx, req, "MARKET")
}

func (c *MudrexClient) CreateLimitOrder(ctx context.Context, req OrderRequest) (string, error) {
	if req.Price.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("limit order for %s requires a price", req.Symbol)
	}
	return c.placeOrder(ctx, req, "LIMIT")
}

func (c *MudrexClient) placeOrder(ctx context.Context, req OrderRequest, trigger string) (string, error) {
	body := model.MudrexOrderRequest{
		Leverage:    strconv.Itoa(req.Leverage),
		Quantity:    req.Quantity.String(),
		OrderType:   string(req.Side),
		TriggerType: trigger,
		ReduceOnly:  req.ReduceOnly,
	}
	if trigger == "LIMIT" {
		body.OrderPrice = req.Price.String()
	}
	if req.StopLoss != nil {
		body.IsStopLoss = true
		body.StopLossPrice = req.StopLoss.String()
	}
	if req.TakeProfit != nil {
		body.IsTakeProfit = true
		body.TakeProfitPrice = req.TakeProfit.String()
	}

	env, err := c.doRequest(ctx, http.MethodPost, "/futures/"+strings.ToUpper(req.Symbol)+"/order", symbolQuery(), body)
	if err != nil {
		return "", err
	}
	var order model.MudrexOrder
	if err := json.Unmarshal(env.Data, &order); err != nil {
		return "", fmt.Errorf("decode order: %w", err)
	}
	return order.OrderID, nil
}

// ----- positions -----

func (c *MudrexClient) ListOpenPositions(ctx context.Context) ([]model.Position, error) {
	env, err := c.doRequest(ctx, http.MethodGet, "/futures/positions", nil, nil)
	if err != nil {
		return nil, err
	}
	var raw []model.MudrexPosition
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return nil, fmt.Errorf("decode positions: %w", err)
		}
	}
	return mapper.MapMudrexPositions(raw), nil
}

func (c *MudrexClient) ClosePosition(ctx context.Context, positionID string) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/futures/positions/"+positionID+"/close", nil, nil)
	return err
}

func (c *MudrexClient) ClosePositionPartial(ctx context.Context, positionID string, quantity decimal.Decimal) error {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("partial close of %s requires a positive quantity", positionID)
	}
	body := map[string]string{
		"order_type": "MARKET",
		"quantity":   quantity.String(),
	}
	_, err := c.doRequest(ctx, http.MethodPost, "/futures/positions/"+positionID+"/close/partial", nil, body)
	return err
}
