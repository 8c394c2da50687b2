package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-broker/internal/models"
	"github.com/ignatzorin/escrow-broker/internal/repository/common"
)

var (
	ErrBanNotFound = errors.New("ban not found")
	// ErrActiveBanExists сработал частичный уникальный индекс uq_user_bans_active.
	ErrActiveBanExists = errors.New("active ban already exists for user")
)

type BanRepository struct {
	db *sqlx.DB
}

func NewBanRepository(db *sqlx.DB) *BanRepository {
	return &BanRepository{db: db}
}

func (r *BanRepository) Create(ctx context.Context, ban *models.UserBan) error {
	query := `
		INSERT INTO user_bans (id, user_id, banned_by, reason, ban_type, expires_at, is_active, created_at)
		VALUES (:id, :user_id, :banned_by, :reason, :ban_type, :expires_at, :is_active, :created_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, ban); err != nil {
		if common.IsUniqueViolation(err) {
			return ErrActiveBanExists
		}
		return fmt.Errorf("ban repository: create %w", err)
	}
	return nil
}

func (r *BanRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.UserBan, error) {
	return common.GetByID[models.UserBan](ctx, r.db, "user_bans", id, ErrBanNotFound)
}

// GetActiveByUser последний активный бан пользователя или nil.
func (r *BanRepository) GetActiveByUser(ctx context.Context, userID int64) (*models.UserBan, error) {
	var ban models.UserBan
	query := `SELECT * FROM user_bans WHERE user_id = $1 AND is_active ORDER BY created_at DESC LIMIT 1`
	if err := r.db.GetContext(ctx, &ban, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ban repository: get active %w", err)
	}
	return &ban, nil
}

// Deactivate снимает бан. lifted_* заполняются только при ручном снятии.
func (r *BanRepository) Deactivate(ctx context.Context, ban *models.UserBan) error {
	query := `
		UPDATE user_bans
		SET is_active = FALSE, lifted_by = $2, lifted_at = $3, lift_reason = $4
		WHERE id = $1 AND is_active
	`
	result, err := r.db.ExecContext(ctx, query, ban.ID, ban.LiftedBy, ban.LiftedAt, ban.LiftReason)
	if err != nil {
		return fmt.Errorf("ban repository: deactivate %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrBanNotFound
	}
	return nil
}
