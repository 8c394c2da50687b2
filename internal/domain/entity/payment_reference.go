package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentReference хранит данные о попытке оплаты сделки (jsonb колонка payment_ref).
type PaymentReference struct {
	Address         string           `json:"address,omitempty"`
	Amount          decimal.Decimal  `json:"amount"`
	CoinID          int              `json:"coin_id,omitempty"`
	CoinName        string           `json:"coin_name"`
	Network         string           `json:"network"`
	CheckoutURL     string           `json:"checkout_url,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	TxID            string           `json:"tx_id,omitempty"`
	ConfirmedAmount *decimal.Decimal `json:"confirmed_amount,omitempty"`
	ConfirmedAt     *time.Time       `json:"confirmation_time,omitempty"`
	WithdrawalID    string           `json:"withdrawal_id,omitempty"`
}

// IsConfirmed сообщает, зафиксирована ли транзакция.
func (p *PaymentReference) IsConfirmed() bool {
	return p != nil && p.TxID != ""
}

// Value реализует driver.Valuer.
func (p PaymentReference) Value() (driver.Value, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("payment reference: marshal %w", err)
	}
	return raw, nil
}

// Scan реализует sql.Scanner.
func (p *PaymentReference) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = PaymentReference{}
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("payment reference: неподдерживаемый тип %T", src)
	}
}
