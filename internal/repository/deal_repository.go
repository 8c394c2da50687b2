package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-broker/internal/domain/entity"
	"github.com/ignatzorin/escrow-broker/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-broker/internal/models"
	"github.com/ignatzorin/escrow-broker/internal/repository/common"
)

var (
	ErrDealNotFound = errors.New("deal not found")
	// ErrDealVersionConflict строка изменена другим писателем между чтением и записью.
	ErrDealVersionConflict = errors.New("deal version conflict")
)

// DealRepository хранилище сделок с оптимистичной блокировкой по version.
type DealRepository struct {
	db *sqlx.DB
}

// NewDealRepository создаёт экземпляр репозитория.
func NewDealRepository(db *sqlx.DB) *DealRepository {
	return &DealRepository{db: db}
}

// Create сохраняет новую сделку.
func (r *DealRepository) Create(ctx context.Context, deal *entity.Deal) error {
	query := `
		INSERT INTO deals (id, seller_id, buyer_id, title, description, price, commission_rate,
			total_price, status, media_files, payment_ref, version, created_at, updated_at)
		VALUES (:id, :seller_id, :buyer_id, :title, :description, :price, :commission_rate,
			:total_price, :status, :media_files, :payment_ref, :version, :created_at, :updated_at)
	`

	if _, err := r.db.NamedExecContext(ctx, query, deal); err != nil {
		return fmt.Errorf("deal repository: create %w", err)
	}
	return nil
}

// GetByID возвращает сделку по идентификатору.
func (r *DealRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Deal, error) {
	return common.GetByID[entity.Deal](ctx, r.db, "deals", id, ErrDealNotFound)
}

// Update записывает изменения, если version не изменилась с момента чтения.
// При успехе deal.Version увеличивается.
func (r *DealRepository) Update(ctx context.Context, deal *entity.Deal) error {
	err := updateDeal(ctx, r.db, deal)
	if errors.Is(err, ErrDealVersionConflict) {
		if _, getErr := r.GetByID(ctx, deal.ID); errors.Is(getErr, ErrDealNotFound) {
			return ErrDealNotFound
		}
	}
	return err
}

// updateDeal выполняет CAS-обновление в рамках db или транзакции.
func updateDeal(ctx context.Context, ext sqlx.ExecerContext, deal *entity.Deal) error {
	query := `
		UPDATE deals
		SET buyer_id = $3,
		    title = $4,
		    description = $5,
		    price = $6,
		    total_price = $7,
		    status = $8,
		    media_files = $9,
		    payment_ref = $10,
		    updated_at = $11,
		    version = version + 1
		WHERE id = $1 AND version = $2
	`

	result, err := ext.ExecContext(ctx, query,
		deal.ID,
		deal.Version,
		deal.BuyerID,
		deal.Title,
		deal.Description,
		deal.Price,
		deal.TotalPrice,
		deal.Status,
		deal.MediaFiles,
		deal.PaymentRef,
		deal.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("deal repository: update %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deal repository: update rows affected %w", err)
	}
	if rows == 0 {
		return ErrDealVersionConflict
	}

	deal.Version++
	return nil
}

// List возвращает сделки по фильтру, новые сначала.
func (r *DealRepository) List(ctx context.Context, filter models.DealFilter) ([]entity.Deal, error) {
	var w common.Where
	if filter.Status != "" {
		w.Add("status = ?", filter.Status)
	}
	if filter.SellerID != nil {
		w.Add("seller_id = ?", *filter.SellerID)
	}
	if filter.BuyerID != nil {
		w.Add("buyer_id = ?", *filter.BuyerID)
	}
	if filter.PartyID != nil {
		w.Add("(seller_id = ? OR buyer_id = ?)", *filter.PartyID)
	}
	if filter.CreatedBefore != nil {
		w.Add("created_at < ?", *filter.CreatedBefore)
	}
	if filter.WithPayment {
		w.Raw("payment_ref IS NOT NULL")
	}

	query := "SELECT * FROM deals" + w.SQL() + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += w.Page(filter.Limit, filter.Offset)
	}

	deals := make([]entity.Deal, 0)
	if err := r.db.SelectContext(ctx, &deals, query, w.Args()...); err != nil {
		return nil, fmt.Errorf("deal repository: list %w", err)
	}
	return deals, nil
}

// DeleteCancelled удаляет отменённую сделку, созданную раньше cutoff.
func (r *DealRepository) DeleteCancelled(ctx context.Context, id uuid.UUID, cutoff time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM deals WHERE id = $1 AND status = $2 AND created_at < $3`,
		id, valueobject.DealStatusCancelled, cutoff,
	)
	if err != nil {
		return false, fmt.Errorf("deal repository: delete cancelled %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deal repository: delete rows affected %w", err)
	}
	return rows > 0, nil
}

// CountByStatus количество сделок в каждом статусе.
func (r *DealRepository) CountByStatus(ctx context.Context) (models.StatusCounts, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM deals GROUP BY status`); err != nil {
		return nil, fmt.Errorf("deal repository: count by status %w", err)
	}

	counts := make(models.StatusCounts, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// CountCancelledForUser отменённые сделки пользователя с момента since.
func (r *DealRepository) CountCancelledForUser(ctx context.Context, userID int64, since time.Time) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM deals
		WHERE (seller_id = $1 OR buyer_id = $1) AND status = $2 AND created_at >= $3
	`
	if err := r.db.GetContext(ctx, &count, query, userID, valueobject.DealStatusCancelled, since); err != nil {
		return 0, fmt.Errorf("deal repository: count cancelled %w", err)
	}
	return count, nil
}

// Statistics оборот и комиссия по оплаченным/завершённым сделкам, дневная динамика и топ продавцов.
func (r *DealRepository) Statistics(ctx context.Context, since time.Time, topN int) (*models.DealStatistics, error) {
	stats := &models.DealStatistics{
		Daily:      make([]models.DailyDealStat, 0),
		TopSellers: make([]models.SellerVolume, 0),
	}
	settled := []string{string(valueobject.DealStatusCompleted), string(valueobject.DealStatusPaid)}

	var totals struct {
		Volume     decimal.NullDecimal `db:"volume"`
		Commission decimal.NullDecimal `db:"commission"`
	}
	totalsQuery, args, err := sqlx.In(`
		SELECT SUM(total_price) AS volume, SUM(total_price - price) AS commission
		FROM deals WHERE status IN (?)
	`, settled)
	if err != nil {
		return nil, fmt.Errorf("deal repository: statistics build %w", err)
	}
	if err := r.db.GetContext(ctx, &totals, r.db.Rebind(totalsQuery), args...); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deal repository: statistics totals %w", err)
	}
	stats.TotalVolume = totals.Volume.Decimal
	stats.TotalCommission = totals.Commission.Decimal

	dailyQuery := `
		SELECT date_trunc('day', created_at) AS day, COUNT(*) AS deals, COALESCE(SUM(total_price), 0) AS volume
		FROM deals
		WHERE created_at >= $1
		GROUP BY day
		ORDER BY day
	`
	if err := r.db.SelectContext(ctx, &stats.Daily, dailyQuery, since); err != nil {
		return nil, fmt.Errorf("deal repository: statistics daily %w", err)
	}

	topQuery := `
		SELECT seller_id, COUNT(*) AS deals, SUM(price) AS volume
		FROM deals
		WHERE status = $1
		GROUP BY seller_id
		ORDER BY volume DESC
		LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &stats.TopSellers, topQuery, valueobject.DealStatusCompleted, topN); err != nil {
		return nil, fmt.Errorf("deal repository: statistics top sellers %w", err)
	}

	return stats, nil
}
