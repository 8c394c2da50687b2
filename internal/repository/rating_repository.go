package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-broker/internal/models"
	"github.com/ignatzorin/escrow-broker/internal/repository/common"
)

// ErrDuplicateRating нарушена уникальность (deal_id, rater_id, rated_id).
var ErrDuplicateRating = errors.New("rating already exists")

type RatingRepository struct {
	db *sqlx.DB
}

func NewRatingRepository(db *sqlx.DB) *RatingRepository {
	return &RatingRepository{db: db}
}

// Create сохраняет оценку.
func (r *RatingRepository) Create(ctx context.Context, rating *models.UserRating) error {
	query := `
		INSERT INTO user_ratings (id, deal_id, rater_id, rated_id, rating, comment, created_at)
		VALUES (:id, :deal_id, :rater_id, :rated_id, :rating, :comment, :created_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, rating); err != nil {
		if common.IsUniqueViolation(err) {
			return ErrDuplicateRating
		}
		return fmt.Errorf("rating repository: create %w", err)
	}
	return nil
}

// Exists проверяет, оставлена ли уже оценка для тройки (сделка, автор, адресат).
func (r *RatingRepository) Exists(ctx context.Context, rating *models.UserRating) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM user_ratings WHERE deal_id = $1 AND rater_id = $2 AND rated_id = $3)`
	if err := r.db.GetContext(ctx, &exists, query, rating.DealID, rating.RaterID, rating.RatedID); err != nil {
		return false, fmt.Errorf("rating repository: exists %w", err)
	}
	return exists, nil
}

// ListForUser оценки, полученные пользователем.
func (r *RatingRepository) ListForUser(ctx context.Context, ratedID int64) ([]models.UserRating, error) {
	ratings := make([]models.UserRating, 0)
	query := `SELECT * FROM user_ratings WHERE rated_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &ratings, query, ratedID); err != nil {
		return nil, fmt.Errorf("rating repository: list %w", err)
	}
	return ratings, nil
}
