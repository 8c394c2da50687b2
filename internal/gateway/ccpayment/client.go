package ccpayment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ignatzorin/escrow-broker/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-broker/internal/pkg/faulttolerance"
)

const userAgent = "OTC-Bot/1.0"

// APIError ответ шлюза с кодом, отличным от успешного. Не повторяется.
type APIError struct {
	Endpoint string
	Code     int
	Msg      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ccpayment: %s вернул код %d: %s", e.Endpoint, e.Code, e.Msg)
}

// Config параметры клиента.
type Config struct {
	AppID     string
	AppSecret string
	BaseURL   string
	Timeout   time.Duration
	RPS       float64
}

// Client HTTP клиент платёжного шлюза с ограничением частоты, повторами и предохранителем.
type Client struct {
	appID     string
	appSecret string
	apiURL    string

	httpClient *http.Client
	limiter    *rate.Limiter
	retryer    *faulttolerance.Retryer
	breaker    *faulttolerance.CircuitBreaker
	log        logrus.FieldLogger
	now        func() time.Time
}

// NewClient создаёт клиента шлюза.
func NewClient(cfg Config, log logrus.FieldLogger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}

	retryCfg := faulttolerance.DefaultRetryConfig("ccpayment")
	retryCfg.Retryable = func(err error) bool {
		var apiErr *APIError
		return !errors.As(err, &apiErr)
	}

	return &Client{
		appID:      cfg.AppID,
		appSecret:  cfg.AppSecret,
		apiURL:     strings.TrimRight(cfg.BaseURL, "/") + "/ccpayment/v1",
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RPS), int(cfg.RPS)+1),
		retryer:    faulttolerance.NewRetryer(retryCfg, log),
		breaker: faulttolerance.NewCircuitBreaker(faulttolerance.CircuitBreakerConfig{
			MaxFailures: 5,
			Timeout:     time.Minute,
			Name:        "ccpayment",
		}, log),
		log: log,
		now: time.Now,
	}
}

// CircuitState состояние предохранителя для мониторинга.
func (c *Client) CircuitState() string {
	return c.breaker.State().String()
}

// CreateDepositAddress выдаёт адрес депозита для заказа.
func (c *Client) CreateDepositAddress(ctx context.Context, orderID string, coinID int, amount decimal.Decimal) (*DepositAddress, error) {
	var data struct {
		Address  string `json:"address"`
		Amount   string `json:"amount"`
		CoinName string `json:"coinName"`
		Network  string `json:"network"`
	}
	params := map[string]any{
		"orderId": orderID,
		"coinId":  coinID,
		"price":   amount.String(),
	}
	if err := c.call(ctx, "merchant/createDepositAddress", params, &data); err != nil {
		return nil, err
	}

	out := &DepositAddress{Address: data.Address, CoinName: data.CoinName, Network: data.Network, Amount: amount}
	if data.Amount != "" {
		if parsed, err := decimal.NewFromString(data.Amount); err == nil {
			out.Amount = parsed
		}
	}
	return out, nil
}

// CreateCheckoutSession создаёт страницу оплаты, на которой покупатель сам выбирает монету.
func (c *Client) CreateCheckoutSession(ctx context.Context, orderID string, amount decimal.Decimal, returnURL, cancelURL string) (*CheckoutSession, error) {
	var data struct {
		CheckoutURL string `json:"checkoutUrl"`
		OrderID     string `json:"orderId"`
	}
	params := map[string]any{
		"orderId": orderID,
		"price":   amount.String(),
	}
	if returnURL != "" {
		params["returnUrl"] = returnURL
	}
	if cancelURL != "" {
		params["cancelUrl"] = cancelURL
	}
	if err := c.call(ctx, "merchant/createCheckoutPage", params, &data); err != nil {
		return nil, err
	}
	return &CheckoutSession{CheckoutURL: data.CheckoutURL, OrderID: data.OrderID}, nil
}

// GetDepositStatus статус депозита по идентификатору заказа.
func (c *Client) GetDepositStatus(ctx context.Context, orderID string) (*DepositRecord, error) {
	var data struct {
		Status string      `json:"status"`
		Amount json.Number `json:"amount"`
		TxID   string      `json:"txId"`
	}
	if err := c.call(ctx, "merchant/getDepositRecord", map[string]any{"orderId": orderID}, &data); err != nil {
		return nil, err
	}

	record := &DepositRecord{Status: NormalizeStatus(data.Status), TxID: data.TxID}
	if data.Amount != "" {
		amount, err := decimal.NewFromString(data.Amount.String())
		if err != nil {
			return nil, fmt.Errorf("ccpayment: некорректная сумма депозита %q: %w", data.Amount, err)
		}
		record.Amount = amount
	}
	return record, nil
}

// CreateWithdrawal отправляет средства на внешний адрес.
func (c *Client) CreateWithdrawal(ctx context.Context, coinID int, chain, address string, amount decimal.Decimal, orderID string) (*Withdrawal, error) {
	var data struct {
		WithdrawalID string `json:"withdrawalId"`
		Status       string `json:"status"`
	}
	params := map[string]any{
		"coinId":  coinID,
		"chain":   chain,
		"address": address,
		"amount":  amount.String(),
		"orderId": orderID,
	}
	if err := c.call(ctx, "merchant/createNetworkWithdrawal", params, &data); err != nil {
		return nil, err
	}
	return &Withdrawal{WithdrawalID: data.WithdrawalID, Status: data.Status}, nil
}

// ListCoins список монет из шлюза.
func (c *Client) ListCoins(ctx context.Context) ([]Coin, error) {
	var data []struct {
		CoinID   int      `json:"coinId"`
		Symbol   string   `json:"symbol"`
		Networks []string `json:"networks"`
	}
	if err := c.call(ctx, "common/getCoinList", map[string]any{}, &data); err != nil {
		return nil, err
	}

	coins := make([]Coin, 0, len(data))
	for _, d := range data {
		coins = append(coins, Coin{CoinID: d.CoinID, Symbol: d.Symbol, Networks: d.Networks})
	}
	return coins, nil
}

// VerifyWebhookSignature проверяет подпись тела webhook.
func (c *Client) VerifyWebhookSignature(payload map[string]any, signature string) bool {
	return VerifySignature(payload, signature, c.appSecret)
}

// DecodeWebhook разбирает тело webhook в карту для проверки подписи.
// Числа сохраняются в исходном виде, чтобы подпись совпала.
func DecodeWebhook(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("ccpayment: некорректный JSON webhook: %w", err)
	}
	if payload == nil {
		return nil, errors.New("ccpayment: пустое тело webhook")
	}
	return payload, nil
}

// EventFromPayload извлекает событие депозита. Вызывать после проверки подписи.
func EventFromPayload(payload map[string]any) (*WebhookEvent, error) {
	event := &WebhookEvent{
		OrderID: OrderID(payload),
		Status:  NormalizeStatus(firstString(payload, "status")),
		TxID:    firstString(payload, "txId", "tx_id"),
	}
	if raw := firstString(payload, "amount"); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("ccpayment: некорректная сумма webhook %q: %w", raw, err)
		}
		event.Amount = amount
	}
	return event, nil
}

// ParseWebhook DecodeWebhook и EventFromPayload за один вызов.
func ParseWebhook(body []byte) (map[string]any, *WebhookEvent, error) {
	payload, err := DecodeWebhook(body)
	if err != nil {
		return nil, nil, err
	}
	event, err := EventFromPayload(payload)
	if err != nil {
		return nil, nil, err
	}
	return payload, event, nil
}

// OrderID номер заказа из тела webhook.
func OrderID(payload map[string]any) string {
	return firstString(payload, "orderId", "order_id")
}

func firstString(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := payload[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			return t
		case json.Number:
			return t.String()
		default:
			return fmt.Sprint(t)
		}
	}
	return ""
}

func (c *Client) call(ctx context.Context, endpoint string, params map[string]any, out any) error {
	log := c.log.WithField("endpoint", endpoint)

	err := c.retryer.ExecuteWithCircuitBreaker(ctx, c.breaker, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.post(ctx, endpoint, params, out)
	})
	if err != nil {
		log.WithError(err).Warn("ccpayment: запрос завершился ошибкой")
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return apperror.Wrap(err, apperror.ErrCodeUpstream, "платёжный шлюз недоступен")
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, params map[string]any, out any) error {
	body := make(map[string]any, len(params)+3)
	for k, v := range params {
		body[k] = v
	}
	body["appId"] = c.appID
	body["timestamp"] = strconv.FormatInt(c.now().Unix(), 10)
	body["sign"] = Sign(body, c.appSecret)

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("ccpayment: marshal запроса: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/"+endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("ccpayment: создание запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ccpayment: запрос %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("ccpayment: чтение ответа: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("ccpayment: %s вернул HTTP %d", endpoint, resp.StatusCode)
	}

	envelope := apiResponse[json.RawMessage]{}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("ccpayment: некорректный JSON ответа: %w", err)
	}
	if envelope.Code != codeSuccess {
		return &APIError{Endpoint: endpoint, Code: envelope.Code, Msg: envelope.Msg}
	}
	if out == nil || len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("ccpayment: разбор data: %w", err)
	}
	return nil
}
