package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DealFilter фильтр выборки сделок.
type DealFilter struct {
	Status        string
	SellerID      *int64
	BuyerID       *int64
	PartyID       *int64
	CreatedBefore *time.Time
	WithPayment   bool
	Limit         int
	Offset        int
}

// StatusCounts количество сделок по статусам.
type StatusCounts map[string]int

// DailyDealStat агрегат за день.
type DailyDealStat struct {
	Day    time.Time       `db:"day" json:"day"`
	Deals  int             `db:"deals" json:"deals"`
	Volume decimal.Decimal `db:"volume" json:"volume"`
}

// SellerVolume оборот продавца по завершённым сделкам.
type SellerVolume struct {
	SellerID int64           `db:"seller_id" json:"seller_id"`
	Deals    int             `db:"deals" json:"deals"`
	Volume   decimal.Decimal `db:"volume" json:"volume"`
}

// DealStatistics сводка по сделкам для мониторинга.
type DealStatistics struct {
	TotalVolume     decimal.Decimal `json:"total_volume"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	Daily           []DailyDealStat `json:"daily"`
	TopSellers      []SellerVolume  `json:"top_sellers"`
}
