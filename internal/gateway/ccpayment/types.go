package ccpayment

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DepositStatus статус депозита в шлюзе.
type DepositStatus string

const (
	DepositSuccess DepositStatus = "success"
	DepositPending DepositStatus = "pending"
	DepositFailed  DepositStatus = "failed"
)

// NormalizeStatus приводит статус шлюза к одному из трёх известных значений.
func NormalizeStatus(raw string) DepositStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "successful", "completed":
		return DepositSuccess
	case "failed", "fail", "error", "expired":
		return DepositFailed
	default:
		return DepositPending
	}
}

type DepositAddress struct {
	Address  string          `json:"address"`
	Amount   decimal.Decimal `json:"amount"`
	CoinName string          `json:"coin_name"`
	Network  string          `json:"network"`
}

type CheckoutSession struct {
	CheckoutURL string `json:"checkout_url"`
	OrderID     string `json:"order_id"`
}

type DepositRecord struct {
	Status DepositStatus   `json:"status"`
	Amount decimal.Decimal `json:"amount"`
	TxID   string          `json:"tx_id"`
}

type Withdrawal struct {
	WithdrawalID string `json:"withdrawal_id"`
	Status       string `json:"status"`
}

// WebhookEvent входящее уведомление шлюза о депозите.
type WebhookEvent struct {
	OrderID string
	Status  DepositStatus
	Amount  decimal.Decimal
	TxID    string
}

// Coin поддерживаемая монета и её сети.
type Coin struct {
	CoinID   int      `json:"coin_id"`
	Symbol   string   `json:"symbol"`
	Networks []string `json:"networks"`
}

// DefaultCoins статическая таблица на случай недоступности шлюза.
var DefaultCoins = []Coin{
	{CoinID: 1280, Symbol: "USDT", Networks: []string{"POLYGON", "ETH", "BSC", "TRX"}},
	{CoinID: 1, Symbol: "BTC", Networks: []string{"BTC"}},
	{CoinID: 2, Symbol: "ETH", Networks: []string{"ETH"}},
}

const (
	DefaultCoin    = "USDT"
	DefaultNetwork = "POLYGON"
)

// ResolveCoin ищет монету и сеть без учёта регистра.
func ResolveCoin(coins []Coin, symbol, network string) (Coin, string, bool) {
	for _, c := range coins {
		if !strings.EqualFold(c.Symbol, symbol) {
			continue
		}
		for _, n := range c.Networks {
			if strings.EqualFold(n, network) {
				return c, n, true
			}
		}
	}
	return Coin{}, "", false
}

// apiResponse конверт ответа шлюза.
type apiResponse[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

const codeSuccess = 10000
