package dto

import (
	"github.com/shopspring/decimal"
)

// CreateDealRequest новая сделка продавца.
type CreateDealRequest struct {
	Title       string          `json:"title" binding:"required,max=200"`
	Description string          `json:"description" binding:"max=5000"`
	Price       decimal.Decimal `json:"price"`
	MediaFiles  []string        `json:"media_files" binding:"max=10"`
}

// UpdatePriceRequest новая цена до начала оплаты.
type UpdatePriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

// CreatePaymentRequest монета и сеть депозита. Пустые значения означают USDT в POLYGON.
type CreatePaymentRequest struct {
	Coin    string `json:"coin"`
	Network string `json:"network"`
}

// WithdrawRequest адрес выплаты продавцу.
type WithdrawRequest struct {
	Address string `json:"address" binding:"required"`
}

type CreateDisputeRequest struct {
	Reason      string  `json:"reason" binding:"required"`
	Description string  `json:"description" binding:"max=5000"`
	Evidence    *string `json:"evidence"`
	Priority    string  `json:"priority"`
}

// ResolveDisputeRequest winner_id null означает итог без победителя.
type ResolveDisputeRequest struct {
	Resolution string `json:"resolution" binding:"required"`
	WinnerID   *int64 `json:"winner_id"`
}

type UpdateDisputeStatusRequest struct {
	Status     string  `json:"status"`
	Priority   string  `json:"priority"`
	AdminNotes *string `json:"admin_notes"`
}

// RateUserRequest rated_id по умолчанию вторая сторона сделки.
type RateUserRequest struct {
	RatedID int64   `json:"rated_id"`
	Rating  int     `json:"rating" binding:"required"`
	Comment *string `json:"comment" binding:"omitempty,max=1000"`
}

type BanUserRequest struct {
	Reason        string `json:"reason" binding:"required"`
	BanType       string `json:"ban_type"`
	DurationHours int    `json:"duration_hours"`
}

type LiftBanRequest struct {
	Reason string `json:"reason"`
}
