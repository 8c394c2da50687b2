package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Типы событий безопасности.
const (
	SecurityEventDisputeCreated    = "dispute_created"
	SecurityEventDisputeResolved   = "dispute_resolved"
	SecurityEventUserBanned        = "user_banned"
	SecurityEventBanLifted         = "ban_lifted"
	SecurityEventSuspicious        = "suspicious_activity"
	SecurityEventWebhookRejected   = "webhook_rejected"
	SecurityEventBannedUserAttempt = "banned_user_attempt"
)

// SecurityLog запись журнала безопасности, только добавление.
type SecurityLog struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	UserID         *int64          `db:"user_id" json:"user_id,omitempty"`
	EventType      string          `db:"event_type" json:"event_type"`
	Description    string          `db:"description" json:"description"`
	Severity       Severity        `db:"severity" json:"severity"`
	IPAddress      *string         `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent      *string         `db:"user_agent" json:"user_agent,omitempty"`
	AdditionalData json.RawMessage `db:"additional_data" json:"additional_data,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// SecurityLogFilter фильтр выборки журнала.
type SecurityLogFilter struct {
	Severity  Severity
	EventType string
	UserID    *int64
	Limit     int
	Offset    int
}

// RequestMeta сведения о клиенте, которые попадают в журнал безопасности.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// SuspiciousActivityReport результат эвристической оценки риска.
type SuspiciousActivityReport struct {
	UserID         int64     `json:"user_id"`
	RiskLevel      RiskLevel `json:"risk_level"`
	Factors        []string  `json:"risk_factors"`
	Disputes       int       `json:"recent_disputes"`
	TotalRatings   int       `json:"total_ratings"`
	BadRatingRatio float64   `json:"bad_rating_ratio"`
	CancelledDeals int       `json:"cancelled_deals"`
}
