package service

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-broker/internal/domain/valueobject"
)

// DefaultPaymentMaxAge реквизиты старше этого срока не переиспользуются.
const DefaultPaymentMaxAge = 24 * time.Hour

// PaymentValidator проверки поступившего платежа и выданных реквизитов.
type PaymentValidator struct {
	MaxAge time.Duration
	now    func() time.Time
}

func NewPaymentValidator() *PaymentValidator {
	return &PaymentValidator{MaxAge: DefaultPaymentMaxAge, now: time.Now}
}

// ValidateAmount сумма совпадает с точностью до допуска.
func (v *PaymentValidator) ValidateAmount(expected, received decimal.Decimal) bool {
	return valueobject.AmountMatches(expected, received)
}

func (v *PaymentValidator) ValidateCurrency(expected, received string) bool {
	return strings.EqualFold(strings.TrimSpace(expected), strings.TrimSpace(received))
}

func (v *PaymentValidator) ValidateNetwork(expected, received string) bool {
	return strings.EqualFold(strings.TrimSpace(expected), strings.TrimSpace(received))
}

// IsRecent момент моложе MaxAge.
func (v *PaymentValidator) IsRecent(at time.Time) bool {
	return v.now().Sub(at) <= v.MaxAge
}
