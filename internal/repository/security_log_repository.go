package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-broker/internal/models"
	"github.com/ignatzorin/escrow-broker/internal/repository/common"
)

// SecurityLogRepository журнал безопасности, только вставка и чтение.
type SecurityLogRepository struct {
	db *sqlx.DB
}

func NewSecurityLogRepository(db *sqlx.DB) *SecurityLogRepository {
	return &SecurityLogRepository{db: db}
}

func (r *SecurityLogRepository) Create(ctx context.Context, entry *models.SecurityLog) error {
	query := `
		INSERT INTO security_logs (id, user_id, event_type, description, severity, ip_address,
			user_agent, additional_data, created_at)
		VALUES (:id, :user_id, :event_type, :description, :severity, :ip_address,
			:user_agent, :additional_data, :created_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("security log repository: create %w", err)
	}
	return nil
}

func (r *SecurityLogRepository) List(ctx context.Context, filter models.SecurityLogFilter) ([]models.SecurityLog, error) {
	var w common.Where
	if filter.Severity != "" {
		w.Add("severity = ?", filter.Severity)
	}
	if filter.EventType != "" {
		w.Add("event_type = ?", filter.EventType)
	}
	if filter.UserID != nil {
		w.Add("user_id = ?", *filter.UserID)
	}
	query := "SELECT * FROM security_logs" + w.SQL() + " ORDER BY created_at DESC" + w.Page(filter.Limit, filter.Offset)

	logs := make([]models.SecurityLog, 0)
	if err := r.db.SelectContext(ctx, &logs, query, w.Args()...); err != nil {
		return nil, fmt.Errorf("security log repository: list %w", err)
	}
	return logs, nil
}
