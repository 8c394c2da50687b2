package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	MinRating = 1
	MaxRating = 5
	// BadRatingThreshold оценки не выше этой считаются плохими.
	BadRatingThreshold = 2
)

type UserRating struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DealID    uuid.UUID `db:"deal_id" json:"deal_id"`
	RaterID   int64     `db:"rater_id" json:"rater_id"`
	RatedID   int64     `db:"rated_id" json:"rated_id"`
	Rating    int       `db:"rating" json:"rating"`
	Comment   *string   `db:"comment" json:"comment,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RatingSummary агрегированный рейтинг пользователя.
type RatingSummary struct {
	UserID        int64        `json:"user_id"`
	AverageRating float64      `json:"average_rating"`
	TotalRatings  int          `json:"total_ratings"`
	Ratings       []UserRating `json:"ratings"`
}
