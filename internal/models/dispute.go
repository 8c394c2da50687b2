package models

import (
	"time"

	"github.com/google/uuid"
)

type DisputeStatus string

const (
	DisputeStatusOpen          DisputeStatus = "open"
	DisputeStatusInvestigating DisputeStatus = "investigating"
	DisputeStatusResolved      DisputeStatus = "resolved"
	DisputeStatusClosed        DisputeStatus = "closed"
)

// IsTerminal resolved и closed завершают спор.
func (s DisputeStatus) IsTerminal() bool {
	return s == DisputeStatusResolved || s == DisputeStatusClosed
}

type DisputeReason string

const (
	DisputeReasonNotReceived        DisputeReason = "not_received"
	DisputeReasonWrongItem          DisputeReason = "wrong_item"
	DisputeReasonDamagedItem        DisputeReason = "damaged_item"
	DisputeReasonFakeItem           DisputeReason = "fake_item"
	DisputeReasonPaymentIssue       DisputeReason = "payment_issue"
	DisputeReasonSellerUnresponsive DisputeReason = "seller_unresponsive"
	DisputeReasonBuyerUnresponsive  DisputeReason = "buyer_unresponsive"
	DisputeReasonScamAttempt        DisputeReason = "scam_attempt"
	DisputeReasonOther              DisputeReason = "other"
)

// DisputeReasons описания причин для клиентов.
var DisputeReasons = map[DisputeReason]string{
	DisputeReasonNotReceived:        "Товар не получен",
	DisputeReasonWrongItem:          "Получен не тот товар",
	DisputeReasonDamagedItem:        "Товар повреждён",
	DisputeReasonFakeItem:           "Подделка",
	DisputeReasonPaymentIssue:       "Проблема с оплатой",
	DisputeReasonSellerUnresponsive: "Продавец не отвечает",
	DisputeReasonBuyerUnresponsive:  "Покупатель не отвечает",
	DisputeReasonScamAttempt:        "Попытка мошенничества",
	DisputeReasonOther:              "Другое",
}

func (r DisputeReason) IsValid() bool {
	_, ok := DisputeReasons[r]
	return ok
}

type DisputePriority string

const (
	DisputePriorityLow    DisputePriority = "low"
	DisputePriorityMedium DisputePriority = "medium"
	DisputePriorityHigh   DisputePriority = "high"
	DisputePriorityUrgent DisputePriority = "urgent"
)

func (p DisputePriority) IsValid() bool {
	switch p {
	case DisputePriorityLow, DisputePriorityMedium, DisputePriorityHigh, DisputePriorityUrgent:
		return true
	}
	return false
}

type Dispute struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	DealID      uuid.UUID       `db:"deal_id" json:"deal_id"`
	ReporterID  int64           `db:"reporter_id" json:"reporter_id"`
	ReportedID  int64           `db:"reported_id" json:"reported_id"`
	Reason      DisputeReason   `db:"reason" json:"reason"`
	Description string          `db:"description" json:"description"`
	Evidence    *string         `db:"evidence" json:"evidence,omitempty"`
	Status      DisputeStatus   `db:"status" json:"status"`
	Priority    DisputePriority `db:"priority" json:"priority"`
	Resolution  *string         `db:"resolution" json:"resolution,omitempty"`
	AdminNotes  *string         `db:"admin_notes" json:"admin_notes,omitempty"`
	ResolvedBy  *int64          `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time      `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// DisputeStatistics сводка по спорам для администраторов.
type DisputeStatistics struct {
	Total    int                   `json:"total"`
	Open     int                   `json:"open"`
	Resolved int                   `json:"resolved"`
	ByReason map[DisputeReason]int `json:"by_reason"`
}
