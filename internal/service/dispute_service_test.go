package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-broker/internal/domain/entity"
	"github.com/ignatzorin/escrow-broker/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-broker/internal/models"
	"github.com/ignatzorin/escrow-broker/internal/pkg/apperror"
)

type disputeFixture struct {
	svc      *DisputeService
	deals    *memoryDeals
	disputes *memoryDisputes
	security *recordingSecurity
	evidence *memoryEvidence
	notifier *recordingNotifier
}

func newDisputeFixture(bans BanGuard) *disputeFixture {
	if bans == nil {
		bans = allowAllBans{}
	}
	f := &disputeFixture{
		deals:    newMemoryDeals(),
		security: &recordingSecurity{},
		evidence: &memoryEvidence{},
		notifier: &recordingNotifier{},
	}
	f.disputes = newMemoryDisputes(f.deals)
	f.svc = NewDisputeService(f.disputes, f.deals, bans, f.security, f.evidence, f.notifier, nullLogger())
	return f
}

func (f *disputeFixture) paidDeal() *entity.Deal {
	return withStatus(f.deals, withPayment(f.deals, newPendingDeal(f.deals)), valueobject.DealStatusPaid)
}

func (f *disputeFixture) open(t *testing.T, deal *entity.Deal) *models.Dispute {
	t.Helper()
	d, err := f.svc.CreateDispute(context.Background(), CreateDisputeInput{
		DealID:     deal.ID,
		ReporterID: testBuyer,
		Reason:     models.DisputeReasonNotReceived,
	}, models.RequestMeta{})
	require.NoError(t, err)
	return d
}

func TestDisputeService_CreateDispute(t *testing.T) {
	f := newDisputeFixture(nil)
	deal := f.paidDeal()

	d, err := f.svc.CreateDispute(context.Background(), CreateDisputeInput{
		DealID:      deal.ID,
		ReporterID:  testBuyer,
		Reason:      models.DisputeReasonNotReceived,
		Description: "  продавец пропал  ",
	}, models.RequestMeta{IPAddress: "10.0.0.2"})

	require.NoError(t, err)
	assert.Equal(t, testSeller, d.ReportedID)
	assert.Equal(t, models.DisputeStatusOpen, d.Status)
	assert.Equal(t, models.DisputePriorityMedium, d.Priority)
	assert.Equal(t, "продавец пропал", d.Description)

	stored, _ := f.deals.get(deal.ID)
	assert.Equal(t, valueobject.DealStatusDisputed, stored.Status)
	assert.True(t, f.notifier.to(testSeller, models.EventDisputeOpened))
	assert.Contains(t, f.security.types(), models.SecurityEventDisputeCreated)
}

func TestDisputeService_CreateDispute_Validation(t *testing.T) {
	f := newDisputeFixture(nil)
	deal := f.paidDeal()

	_, err := f.svc.CreateDispute(context.Background(), CreateDisputeInput{DealID: deal.ID, ReporterID: testBuyer, Reason: "bored"}, models.RequestMeta{})
	assert.True(t, apperror.IsValidation(err))

	_, err = f.svc.CreateDispute(context.Background(), CreateDisputeInput{DealID: deal.ID, ReporterID: testBuyer, Reason: models.DisputeReasonOther, Priority: "asap"}, models.RequestMeta{})
	assert.True(t, apperror.IsValidation(err))

	_, err = f.svc.CreateDispute(context.Background(), CreateDisputeInput{DealID: deal.ID, ReporterID: testOther, Reason: models.DisputeReasonOther}, models.RequestMeta{})
	assert.ErrorIs(t, err, apperror.ErrNotParticipant)

	_, err = f.svc.CreateDispute(context.Background(), CreateDisputeInput{DealID: uuid.New(), ReporterID: testBuyer, Reason: models.DisputeReasonOther}, models.RequestMeta{})
	assert.ErrorIs(t, err, apperror.ErrDealNotFound)
}

func TestDisputeService_CreateDispute_PendingDeal(t *testing.T) {
	f := newDisputeFixture(nil)
	deal := withPayment(f.deals, newPendingDeal(f.deals))

	_, err := f.svc.CreateDispute(context.Background(), CreateDisputeInput{DealID: deal.ID, ReporterID: testBuyer, Reason: models.DisputeReasonOther}, models.RequestMeta{})
	assert.True(t, apperror.IsInvalidTransition(err))
}

func TestDisputeService_CreateDispute_Banned(t *testing.T) {
	f := newDisputeFixture(allowAllBans{banned: map[int64]bool{testBuyer: true}})
	deal := f.paidDeal()

	_, err := f.svc.CreateDispute(context.Background(), CreateDisputeInput{DealID: deal.ID, ReporterID: testBuyer, Reason: models.DisputeReasonOther}, models.RequestMeta{})
	assert.ErrorIs(t, err, apperror.ErrUserBanned)
}

func TestDisputeService_SecondOpenDisputeRejected(t *testing.T) {
	f := newDisputeFixture(nil)
	deal := f.paidDeal()
	f.open(t, deal)

	_, err := f.svc.CreateDispute(context.Background(), CreateDisputeInput{DealID: deal.ID, ReporterID: testSeller, Reason: models.DisputeReasonBuyerUnresponsive}, models.RequestMeta{})
	assert.True(t, apperror.IsValidation(err))
	assert.Equal(t, 1, f.disputes.openCount(deal.ID))
}

func TestDisputeService_ConcurrentCreateOnlyOneWins(t *testing.T) {
	f := newDisputeFixture(nil)
	deal := f.paidDeal()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for _, reporter := range []int64{testBuyer, testSeller, testBuyer, testSeller} {
		wg.Add(1)
		go func(reporter int64) {
			defer wg.Done()
			_, err := f.svc.CreateDispute(context.Background(), CreateDisputeInput{DealID: deal.ID, ReporterID: reporter, Reason: models.DisputeReasonOther}, models.RequestMeta{})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}(reporter)
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, 1, f.disputes.openCount(deal.ID))
}

func TestDisputeService_ResolveDispute_Outcomes(t *testing.T) {
	buyer, seller, stranger := testBuyer, testSeller, testOther

	tests := []struct {
		name    string
		winner  *int64
		outcome valueobject.DealStatus
	}{
		{name: "победил покупатель", winner: &buyer, outcome: valueobject.DealStatusRefunded},
		{name: "победил продавец", winner: &seller, outcome: valueobject.DealStatusCompleted},
		{name: "без победителя", winner: nil, outcome: valueobject.DealStatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDisputeFixture(nil)
			deal := f.paidDeal()
			opened := f.open(t, deal)

			d, resolvedDeal, err := f.svc.ResolveDispute(context.Background(), ResolveDisputeInput{
				DisputeID:  opened.ID,
				AdminID:    testAdmin,
				Resolution: "решено по переписке",
				WinnerID:   tt.winner,
			}, models.RequestMeta{})

			require.NoError(t, err)
			assert.Equal(t, models.DisputeStatusResolved, d.Status)
			assert.Equal(t, testAdmin, *d.ResolvedBy)
			assert.Equal(t, tt.outcome, resolvedDeal.Status)
			stored, _ := f.deals.get(deal.ID)
			assert.Equal(t, tt.outcome, stored.Status)
			assert.True(t, f.notifier.to(testBuyer, models.EventDisputeResolved))
			assert.True(t, f.notifier.to(testSeller, models.EventDisputeResolved))
		})
	}

	t.Run("победитель не участник", func(t *testing.T) {
		f := newDisputeFixture(nil)
		opened := f.open(t, f.paidDeal())

		_, _, err := f.svc.ResolveDispute(context.Background(), ResolveDisputeInput{DisputeID: opened.ID, AdminID: testAdmin, WinnerID: &stranger}, models.RequestMeta{})
		assert.True(t, apperror.IsValidation(err))
	})
}

func TestDisputeService_ResolveTwice(t *testing.T) {
	f := newDisputeFixture(nil)
	opened := f.open(t, f.paidDeal())

	_, _, err := f.svc.ResolveDispute(context.Background(), ResolveDisputeInput{DisputeID: opened.ID, AdminID: testAdmin}, models.RequestMeta{})
	require.NoError(t, err)

	_, _, err = f.svc.ResolveDispute(context.Background(), ResolveDisputeInput{DisputeID: opened.ID, AdminID: testAdmin}, models.RequestMeta{})
	assert.True(t, apperror.IsValidation(err))

	_, _, err = f.svc.ResolveDispute(context.Background(), ResolveDisputeInput{DisputeID: uuid.New(), AdminID: testAdmin}, models.RequestMeta{})
	assert.ErrorIs(t, err, apperror.ErrDisputeNotFound)
}

func TestDisputeService_ResolveFromInvestigating(t *testing.T) {
	f := newDisputeFixture(nil)
	opened := f.open(t, f.paidDeal())

	notes := "запросили переписку"
	d, err := f.svc.UpdateStatus(context.Background(), opened.ID, models.DisputeStatusInvestigating, models.DisputePriorityHigh, &notes)
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusInvestigating, d.Status)
	assert.Equal(t, models.DisputePriorityHigh, d.Priority)

	_, deal, err := f.svc.ResolveDispute(context.Background(), ResolveDisputeInput{DisputeID: opened.ID, AdminID: testAdmin}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, valueobject.DealStatusCancelled, deal.Status)
}

func TestDisputeService_UpdateStatus(t *testing.T) {
	f := newDisputeFixture(nil)
	deal := f.paidDeal()
	opened := f.open(t, deal)

	_, err := f.svc.UpdateStatus(context.Background(), opened.ID, models.DisputeStatusResolved, "", nil)
	assert.True(t, apperror.IsValidation(err))

	_, err = f.svc.UpdateStatus(context.Background(), opened.ID, "reopened", "", nil)
	assert.True(t, apperror.IsValidation(err))

	d, err := f.svc.UpdateStatus(context.Background(), opened.ID, models.DisputeStatusClosed, "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusClosed, d.Status)
	assert.NotNil(t, d.ResolvedAt)

	// закрытый спор не оставляет сделку в disputed
	stored, _ := f.deals.get(deal.ID)
	assert.Equal(t, valueobject.DealStatusCancelled, stored.Status)
	assert.Equal(t, 2, f.notifier.count(models.EventDisputeResolved))

	_, err = f.svc.UpdateStatus(context.Background(), opened.ID, models.DisputeStatusInvestigating, "", nil)
	assert.True(t, apperror.IsValidation(err))
	_, _, err = f.svc.ResolveDispute(context.Background(), ResolveDisputeInput{DisputeID: opened.ID, AdminID: testAdmin}, models.RequestMeta{})
	assert.True(t, apperror.IsValidation(err))
}

func TestDisputeService_AddEvidence(t *testing.T) {
	f := newDisputeFixture(nil)
	opened := f.open(t, f.paidDeal())

	d, err := f.svc.AddEvidence(context.Background(), opened.ID, testSeller, "chat.png", strings.NewReader("png"))
	require.NoError(t, err)
	require.NotNil(t, d.Evidence)
	assert.Contains(t, *d.Evidence, opened.ID.String())
	assert.Equal(t, []byte("png"), f.evidence.saved[opened.ID])

	_, err = f.svc.AddEvidence(context.Background(), opened.ID, testOther, "chat.png", strings.NewReader("png"))
	assert.ErrorIs(t, err, apperror.ErrNotParticipant)
}

func TestDisputeService_GetDispute_Access(t *testing.T) {
	f := newDisputeFixture(nil)
	opened := f.open(t, f.paidDeal())

	_, err := f.svc.GetDispute(context.Background(), opened.ID, testBuyer, false)
	require.NoError(t, err)

	_, err = f.svc.GetDispute(context.Background(), opened.ID, testOther, false)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = f.svc.GetDispute(context.Background(), opened.ID, testAdmin, true)
	require.NoError(t, err)
}

func TestDisputeService_ListAndStatistics(t *testing.T) {
	f := newDisputeFixture(nil)
	f.open(t, f.paidDeal())
	f.open(t, f.paidDeal())

	_, err := f.svc.ListDisputes(context.Background(), "weird", 0, 0)
	assert.True(t, apperror.IsValidation(err))

	open, err := f.svc.ListDisputes(context.Background(), models.DisputeStatusOpen, 0, 0)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	stats, err := f.svc.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByReason[models.DisputeReasonNotReceived])
	assert.Len(t, f.svc.Reasons(), 9)
}
