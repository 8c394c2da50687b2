package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-broker/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-broker/internal/pkg/apperror"
)

// Deal сделка между продавцом и покупателем с депонированием оплаты.
type Deal struct {
	ID             uuid.UUID              `db:"id" json:"id"`
	SellerID       int64                  `db:"seller_id" json:"seller_id"`
	BuyerID        *int64                 `db:"buyer_id" json:"buyer_id,omitempty"`
	Title          string                 `db:"title" json:"title"`
	Description    string                 `db:"description" json:"description"`
	Price          decimal.Decimal        `db:"price" json:"price"`
	CommissionRate decimal.Decimal        `db:"commission_rate" json:"commission_rate"`
	TotalPrice     decimal.Decimal        `db:"total_price" json:"total_price"`
	Status         valueobject.DealStatus `db:"status" json:"status"`
	MediaFiles     pq.StringArray         `db:"media_files" json:"media_files"`
	PaymentRef     *PaymentReference      `db:"payment_ref" json:"payment_reference,omitempty"`
	Version        int64                  `db:"version" json:"version"`
	CreatedAt      time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time              `db:"updated_at" json:"updated_at"`
}

func NewDeal(sellerID int64, title, description string, price, commissionRate decimal.Decimal, media []string) (*Deal, error) {
	if sellerID <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "продавец обязателен")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "название сделки обязательно")
	}

	p, err := valueobject.NewPrice(price)
	if err != nil {
		return nil, err
	}
	rate, err := valueobject.NewCommissionRate(commissionRate)
	if err != nil {
		return nil, err
	}

	if media == nil {
		media = []string{}
	}

	now := time.Now().UTC()
	return &Deal{
		ID:             uuid.New(),
		SellerID:       sellerID,
		Title:          title,
		Description:    strings.TrimSpace(description),
		Price:          p,
		CommissionRate: rate,
		TotalPrice:     valueobject.TotalPrice(p, rate),
		Status:         valueobject.DealStatusPending,
		MediaFiles:     media,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (d *Deal) IsSeller(userID int64) bool {
	return d.SellerID == userID
}

func (d *Deal) IsBuyer(userID int64) bool {
	return d.BuyerID != nil && *d.BuyerID == userID
}

func (d *Deal) IsParty(userID int64) bool {
	return d.IsSeller(userID) || d.IsBuyer(userID)
}

// CounterParty возвращает второго участника сделки относительно userID.
func (d *Deal) CounterParty(userID int64) (int64, bool) {
	switch {
	case d.IsSeller(userID) && d.BuyerID != nil:
		return *d.BuyerID, true
	case d.IsBuyer(userID):
		return d.SellerID, true
	}
	return 0, false
}

// Parties возвращает идентификаторы всех известных участников.
func (d *Deal) Parties() []int64 {
	if d.BuyerID == nil {
		return []int64{d.SellerID}
	}
	return []int64{d.SellerID, *d.BuyerID}
}

// Commission сумма комиссии площадки.
func (d *Deal) Commission() decimal.Decimal {
	return valueobject.Commission(d.Price, d.CommissionRate)
}

// AssignBuyer закрепляет покупателя. Повторный вызов тем же покупателем ничего не меняет.
func (d *Deal) AssignBuyer(buyerID int64) (bool, error) {
	if d.Status != valueobject.DealStatusPending {
		return false, invalidTransition(d.Status, "покупка")
	}
	if buyerID <= 0 {
		return false, apperror.New(apperror.ErrCodeValidation, "покупатель обязателен")
	}
	if buyerID == d.SellerID {
		return false, apperror.New(apperror.ErrCodeValidation, "продавец не может купить собственную сделку")
	}
	if d.BuyerID != nil {
		if *d.BuyerID == buyerID {
			return false, nil
		}
		return false, apperror.New(apperror.ErrCodeValidation, "у сделки уже есть покупатель")
	}

	d.BuyerID = &buyerID
	d.touch()
	return true, nil
}

// UpdatePrice пересчитывает total_price. Запрещено после начала оплаты.
func (d *Deal) UpdatePrice(actorID int64, price decimal.Decimal) error {
	if !d.IsSeller(actorID) {
		return apperror.New(apperror.ErrCodeForbidden, "изменить цену может только продавец")
	}
	if d.Status != valueobject.DealStatusPending {
		return invalidTransition(d.Status, "изменение цены")
	}
	if d.PaymentRef != nil {
		return apperror.New(apperror.ErrCodeValidation, "цена зафиксирована: оплата уже начата")
	}

	p, err := valueobject.NewPrice(price)
	if err != nil {
		return err
	}

	d.Price = p
	d.TotalPrice = valueobject.TotalPrice(p, d.CommissionRate)
	d.touch()
	return nil
}

// AttachPayment сохраняет реквизиты оплаты для ожидающей сделки.
func (d *Deal) AttachPayment(ref PaymentReference) error {
	if d.Status != valueobject.DealStatusPending {
		return invalidTransition(d.Status, "создание оплаты")
	}
	if d.PaymentRef.IsConfirmed() {
		return apperror.New(apperror.ErrCodeValidation, "оплата уже подтверждена")
	}
	if !ref.Amount.Equal(d.TotalPrice) {
		return apperror.New(apperror.ErrCodeValidation, "сумма оплаты не совпадает с итоговой ценой сделки")
	}

	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now().UTC()
	}
	d.PaymentRef = &ref
	d.touch()
	return nil
}

// ConfirmPayment переводит pending -> paid. Для уже оплаченной сделки возвращает false без изменений.
func (d *Deal) ConfirmPayment(txID string, amount decimal.Decimal, at time.Time) (bool, error) {
	if d.Status == valueobject.DealStatusPaid {
		return false, nil
	}
	if d.Status != valueobject.DealStatusPending {
		return false, invalidTransition(d.Status, "подтверждение оплаты")
	}
	if d.PaymentRef == nil {
		return false, apperror.New(apperror.ErrCodeValidation, "у сделки нет платёжных реквизитов")
	}

	d.PaymentRef.TxID = txID
	d.PaymentRef.ConfirmedAmount = &amount
	confirmedAt := at.UTC()
	d.PaymentRef.ConfirmedAt = &confirmedAt
	d.Status = valueobject.DealStatusPaid
	d.touch()
	return true, nil
}

// ConfirmDelivery paid -> confirmed, выполняет продавец.
func (d *Deal) ConfirmDelivery(actorID int64) error {
	if !d.IsSeller(actorID) {
		return apperror.New(apperror.ErrCodeForbidden, "подтвердить передачу может только продавец")
	}
	return d.transition(valueobject.DealStatusPaid, valueobject.DealStatusConfirmed, "подтверждение передачи")
}

// ReleaseFunds confirmed -> completed, выполняет покупатель.
func (d *Deal) ReleaseFunds(actorID int64) error {
	if !d.IsBuyer(actorID) {
		return apperror.New(apperror.ErrCodeForbidden, "освободить средства может только покупатель")
	}
	return d.transition(valueobject.DealStatusConfirmed, valueobject.DealStatusCompleted, "освобождение средств")
}

// OpenDispute paid|confirmed -> disputed.
func (d *Deal) OpenDispute(actorID int64) error {
	if !d.IsParty(actorID) {
		return apperror.ErrNotParticipant
	}
	if d.Status != valueobject.DealStatusPaid && d.Status != valueobject.DealStatusConfirmed {
		return invalidTransition(d.Status, "открытие спора")
	}
	d.Status = valueobject.DealStatusDisputed
	d.touch()
	return nil
}

// ResolveDispute disputed -> refunded|completed|cancelled.
func (d *Deal) ResolveDispute(outcome valueobject.DealStatus) error {
	if d.Status != valueobject.DealStatusDisputed || !d.Status.CanTransitionTo(outcome) {
		return invalidTransition(d.Status, "решение спора")
	}
	d.Status = outcome
	d.touch()
	return nil
}

// DisputeOutcome определяет итог сделки по победителю спора.
func (d *Deal) DisputeOutcome(winnerID *int64) valueobject.DealStatus {
	switch {
	case winnerID == nil:
		return valueobject.DealStatusCancelled
	case d.IsBuyer(*winnerID):
		return valueobject.DealStatusRefunded
	case d.IsSeller(*winnerID):
		return valueobject.DealStatusCompleted
	default:
		return valueobject.DealStatusCancelled
	}
}

// Cancel pending -> cancelled, выполняет продавец или администратор.
func (d *Deal) Cancel(actorID int64, isAdmin bool) error {
	if !isAdmin && !d.IsSeller(actorID) {
		return apperror.New(apperror.ErrCodeForbidden, "отменить сделку может только продавец или администратор")
	}
	return d.transition(valueobject.DealStatusPending, valueobject.DealStatusCancelled, "отмена")
}

// CanWithdraw проверяет, можно ли выплатить продавцу.
func (d *Deal) CanWithdraw(actorID int64) error {
	if !d.IsSeller(actorID) {
		return apperror.New(apperror.ErrCodeForbidden, "вывод доступен только продавцу")
	}
	if d.Status != valueobject.DealStatusCompleted {
		return invalidTransition(d.Status, "вывод средств")
	}
	if d.PaymentRef == nil {
		return apperror.New(apperror.ErrCodeValidation, "у сделки нет платёжных реквизитов")
	}
	if d.PaymentRef.WithdrawalID != "" {
		return apperror.New(apperror.ErrCodeValidation, "вывод по сделке уже создан")
	}
	return nil
}

// RecordWithdrawal фиксирует созданную выплату продавцу.
func (d *Deal) RecordWithdrawal(actorID int64, withdrawalID string) error {
	if err := d.CanWithdraw(actorID); err != nil {
		return err
	}
	if withdrawalID == "" {
		return apperror.New(apperror.ErrCodeValidation, "пустой идентификатор выплаты")
	}
	d.PaymentRef.WithdrawalID = withdrawalID
	d.touch()
	return nil
}

// PaymentAge возраст платёжных реквизитов.
func (d *Deal) PaymentAge(now time.Time) time.Duration {
	if d.PaymentRef == nil || d.PaymentRef.CreatedAt.IsZero() {
		return now.Sub(d.CreatedAt)
	}
	return now.Sub(d.PaymentRef.CreatedAt)
}

func (d *Deal) transition(from, to valueobject.DealStatus, action string) error {
	if d.Status != from || !d.Status.CanTransitionTo(to) {
		return invalidTransition(d.Status, action)
	}
	d.Status = to
	d.touch()
	return nil
}

func (d *Deal) touch() {
	d.UpdatedAt = time.Now().UTC()
}

func invalidTransition(status valueobject.DealStatus, action string) *apperror.AppError {
	return apperror.Newf(apperror.ErrCodeInvalidTransition, "действие «%s» недоступно в статусе %s", action, status)
}
