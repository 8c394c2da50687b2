package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-broker/internal/domain/entity"
	"github.com/ignatzorin/escrow-broker/internal/models"
	"github.com/ignatzorin/escrow-broker/internal/repository/common"
)

var (
	ErrDisputeNotFound = errors.New("dispute not found")
	// ErrOpenDisputeExists сработал частичный уникальный индекс uq_disputes_open_per_deal.
	ErrOpenDisputeExists = errors.New("open dispute already exists for deal")
)

type DisputeRepository struct {
	db *sqlx.DB
}

func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

const insertDisputeQuery = `
	INSERT INTO disputes (id, deal_id, reporter_id, reported_id, reason, description, evidence,
		status, priority, created_at, updated_at)
	VALUES (:id, :deal_id, :reporter_id, :reported_id, :reason, :description, :evidence,
		:status, :priority, :created_at, :updated_at)
`

const updateDisputeQuery = `
	UPDATE disputes
	SET status = :status,
	    priority = :priority,
	    evidence = :evidence,
	    resolution = :resolution,
	    admin_notes = :admin_notes,
	    resolved_by = :resolved_by,
	    resolved_at = :resolved_at,
	    updated_at = :updated_at
	WHERE id = :id
`

// CreateWithDeal атомарно создаёт спор и переводит сделку в disputed.
func (r *DisputeRepository) CreateWithDeal(ctx context.Context, d *models.Dispute, deal *entity.Deal) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := updateDeal(ctx, tx, deal); err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, insertDisputeQuery, d); err != nil {
			if common.IsUniqueViolation(err) {
				return ErrOpenDisputeExists
			}
			return fmt.Errorf("dispute repository: create %w", err)
		}
		return nil
	})
}

// ResolveWithDeal атомарно закрывает спор и применяет итог к сделке.
func (r *DisputeRepository) ResolveWithDeal(ctx context.Context, d *models.Dispute, deal *entity.Deal) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		result, err := tx.NamedExecContext(ctx, updateDisputeQuery+` AND status IN ('open', 'investigating')`, d)
		if err != nil {
			return fmt.Errorf("dispute repository: resolve %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return ErrDisputeNotFound
		}
		return updateDeal(ctx, tx, deal)
	})
}

// Update сохраняет изменения спора, не затрагивая сделку.
func (r *DisputeRepository) Update(ctx context.Context, d *models.Dispute) error {
	result, err := r.db.NamedExecContext(ctx, updateDisputeQuery, d)
	if err != nil {
		return fmt.Errorf("dispute repository: update %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return common.GetByID[models.Dispute](ctx, r.db, "disputes", id, ErrDisputeNotFound)
}

// GetOpenByDeal возвращает незакрытый спор по сделке (open или investigating) или nil.
func (r *DisputeRepository) GetOpenByDeal(ctx context.Context, dealID uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	query := `SELECT * FROM disputes WHERE deal_id = $1 AND status IN ($2, $3) LIMIT 1`
	err := r.db.GetContext(ctx, &d, query, dealID, models.DisputeStatusOpen, models.DisputeStatusInvestigating)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("dispute repository: get open %w", err)
	}
	return &d, nil
}

// List возвращает споры, при пустом status все.
func (r *DisputeRepository) List(ctx context.Context, status models.DisputeStatus, limit, offset int) ([]models.Dispute, error) {
	var w common.Where
	if status != "" {
		w.Add("status = ?", status)
	}
	query := "SELECT * FROM disputes" + w.SQL() + " ORDER BY created_at DESC" + w.Page(limit, offset)

	disputes := make([]models.Dispute, 0)
	if err := r.db.SelectContext(ctx, &disputes, query, w.Args()...); err != nil {
		return nil, fmt.Errorf("dispute repository: list %w", err)
	}
	return disputes, nil
}

// CountForUserSince споры, где пользователь заявитель или ответчик.
func (r *DisputeRepository) CountForUserSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM disputes WHERE (reporter_id = $1 OR reported_id = $1) AND created_at >= $2`
	if err := r.db.GetContext(ctx, &count, query, userID, since); err != nil {
		return 0, fmt.Errorf("dispute repository: count for user %w", err)
	}
	return count, nil
}

// Statistics общее число, открытые, решённые и разбивка по причинам.
func (r *DisputeRepository) Statistics(ctx context.Context) (*models.DisputeStatistics, error) {
	var rows []struct {
		Reason models.DisputeReason `db:"reason"`
		Status models.DisputeStatus `db:"status"`
		Count  int                  `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT reason, status, COUNT(*) AS count FROM disputes GROUP BY reason, status`); err != nil {
		return nil, fmt.Errorf("dispute repository: statistics %w", err)
	}

	stats := &models.DisputeStatistics{ByReason: make(map[models.DisputeReason]int)}
	for _, row := range rows {
		stats.Total += row.Count
		stats.ByReason[row.Reason] += row.Count
		switch row.Status {
		case models.DisputeStatusOpen:
			stats.Open += row.Count
		case models.DisputeStatusResolved:
			stats.Resolved += row.Count
		}
	}
	return stats, nil
}
