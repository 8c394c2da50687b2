package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-broker/internal/models"
)

func testDispute(dealID uuid.UUID) *models.Dispute {
	now := time.Now().UTC()
	return &models.Dispute{
		ID:         uuid.New(),
		DealID:     dealID,
		ReporterID: 7,
		ReportedID: 5,
		Reason:     models.DisputeReasonNotReceived,
		Status:     models.DisputeStatusOpen,
		Priority:   models.DisputePriorityMedium,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestDisputeRepository_CreateWithDeal_Commits(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDisputeRepository(db)
	deal := testDeal(t)
	dispute := testDispute(deal.ID)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE deals")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO disputes")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CreateWithDeal(context.Background(), dispute, deal))
	assert.Equal(t, int64(2), deal.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDisputeRepository_CreateWithDeal_OpenExists(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDisputeRepository(db)
	deal := testDeal(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE deals")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO disputes")).WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := repo.CreateWithDeal(context.Background(), testDispute(deal.ID), deal)
	assert.ErrorIs(t, err, ErrOpenDisputeExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDisputeRepository_CreateWithDeal_DealConflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDisputeRepository(db)
	deal := testDeal(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE deals")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.CreateWithDeal(context.Background(), testDispute(deal.ID), deal)
	assert.True(t, errors.Is(err, ErrDealVersionConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDisputeRepository_ResolveWithDeal_AlreadyClosed(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDisputeRepository(db)
	deal := testDeal(t)
	dispute := testDispute(deal.ID)
	dispute.Status = models.DisputeStatusResolved

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE disputes")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	assert.ErrorIs(t, repo.ResolveWithDeal(context.Background(), dispute, deal), ErrDisputeNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDisputeRepository_Update_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDisputeRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE disputes")).WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Update(context.Background(), testDispute(uuid.New())), ErrDisputeNotFound)
}
