package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-broker/internal/domain/entity"
	"github.com/ignatzorin/escrow-broker/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-broker/internal/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	return sqlx.NewDb(raw, "postgres"), mock
}

func testDeal(t *testing.T) *entity.Deal {
	t.Helper()
	d, err := entity.NewDeal(5, "Ключ активации", "", decimal.NewFromInt(40), decimal.RequireFromString("0.05"), nil)
	require.NoError(t, err)
	return d
}

func TestDealRepository_Update_IncrementsVersion(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDealRepository(db)
	deal := testDeal(t)
	deal.Version = 3

	mock.ExpectExec(regexp.QuoteMeta("UPDATE deals")).
		WithArgs(deal.ID, int64(3), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(context.Background(), deal))
	assert.Equal(t, int64(4), deal.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealRepository_Update_Conflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDealRepository(db)
	deal := testDeal(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE deals")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM deals WHERE id = $1")).
		WithArgs(deal.ID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "seller_id", "title", "status", "version"}).
			AddRow(deal.ID.String(), deal.SellerID, deal.Title, string(valueobject.DealStatusPending), 2))

	err := repo.Update(context.Background(), deal)
	assert.ErrorIs(t, err, ErrDealVersionConflict)
	assert.Equal(t, int64(1), deal.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealRepository_Update_Deleted(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDealRepository(db)
	deal := testDeal(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE deals")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM deals WHERE id = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	assert.ErrorIs(t, repo.Update(context.Background(), deal), ErrDealNotFound)
}

func TestDealRepository_GetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDealRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM deals WHERE id = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), testDeal(t).ID)
	assert.ErrorIs(t, err, ErrDealNotFound)
}

func TestDealRepository_List_PartyFilterAndPage(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDealRepository(db)
	party := int64(7)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT * FROM deals WHERE status = $1 AND (seller_id = $2 OR buyer_id = $2) ORDER BY created_at DESC LIMIT $3 OFFSET $4")).
		WithArgs("paid", party, 10, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "seller_id", "status"}).
			AddRow(testDeal(t).ID.String(), party, "paid"))

	deals, err := repo.List(context.Background(), models.DealFilter{Status: "paid", PartyID: &party, Limit: 10, Offset: 20})
	require.NoError(t, err)
	require.Len(t, deals, 1)
	assert.Equal(t, valueobject.DealStatusPaid, deals[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealRepository_DeleteCancelled(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDealRepository(db)
	id := testDeal(t).ID
	cutoff := time.Now().Add(-24 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM deals WHERE id = $1 AND status = $2 AND created_at < $3")).
		WithArgs(id, valueobject.DealStatusCancelled, cutoff).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM deals")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := repo.DeleteCancelled(context.Background(), id, cutoff)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.DeleteCancelled(context.Background(), id, cutoff)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDealRepository_CountByStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDealRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) AS count FROM deals GROUP BY status")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 4).
			AddRow("completed", 2))

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusCounts{"pending": 4, "completed": 2}, counts)
}
