package valueobject

import (
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-broker/internal/pkg/apperror"
)

// MoneyPrecision количество знаков после запятой для сумм сделки.
const MoneyPrecision = 8

var (
	DefaultCommissionRate = decimal.RequireFromString("0.05")
	// PaymentTolerance допустимое расхождение между ожидаемой и зачисленной суммой.
	PaymentTolerance = decimal.RequireFromString("0.01")
)

// NewPrice проверяет, что цена положительна, и приводит её к точности сделки.
func NewPrice(amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, apperror.New(apperror.ErrCodeValidation, "цена должна быть положительной")
	}
	return amount.Round(MoneyPrecision), nil
}

// NewCommissionRate проверяет долю комиссии: 0 <= rate < 1.
func NewCommissionRate(rate decimal.Decimal) (decimal.Decimal, error) {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, apperror.New(apperror.ErrCodeValidation, "комиссия должна быть в диапазоне [0, 1)")
	}
	return rate, nil
}

// TotalPrice = price * (1 + rate).
func TotalPrice(price, rate decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(1).Add(rate)).Round(MoneyPrecision)
}

// Commission = price * rate.
func Commission(price, rate decimal.Decimal) decimal.Decimal {
	return price.Mul(rate).Round(MoneyPrecision)
}

// AmountMatches сравнивает суммы с учётом PaymentTolerance.
func AmountMatches(expected, actual decimal.Decimal) bool {
	return expected.Sub(actual).Abs().LessThanOrEqual(PaymentTolerance)
}
