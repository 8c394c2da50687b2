package models

import (
	"time"

	"github.com/google/uuid"
)

type BanType string

const (
	BanTypeTemporary BanType = "temporary"
	BanTypePermanent BanType = "permanent"
)

func (t BanType) IsValid() bool {
	return t == BanTypeTemporary || t == BanTypePermanent
}

// DefaultBanDuration длительность временного бана по умолчанию.
const DefaultBanDuration = 24 * time.Hour

type UserBan struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	UserID     int64      `db:"user_id" json:"user_id"`
	BannedBy   int64      `db:"banned_by" json:"banned_by"`
	Reason     string     `db:"reason" json:"reason"`
	BanType    BanType    `db:"ban_type" json:"ban_type"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	IsActive   bool       `db:"is_active" json:"is_active"`
	LiftedBy   *int64     `db:"lifted_by" json:"lifted_by,omitempty"`
	LiftedAt   *time.Time `db:"lifted_at" json:"lifted_at,omitempty"`
	LiftReason *string    `db:"lift_reason" json:"lift_reason,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// IsExpired постоянный бан или бан без срока не истекает.
func (b *UserBan) IsExpired(now time.Time) bool {
	if b.BanType == BanTypePermanent || b.ExpiresAt == nil {
		return false
	}
	return now.After(*b.ExpiresAt)
}

// BanStatus результат проверки блокировки пользователя.
type BanStatus struct {
	UserID    int64      `json:"user_id"`
	IsBanned  bool       `json:"is_banned"`
	Ban       *UserBan   `json:"ban,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
