package service

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/escrow-broker/internal/domain/entity"
	"github.com/ignatzorin/escrow-broker/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-broker/internal/gateway/ccpayment"
	"github.com/ignatzorin/escrow-broker/internal/models"
	"github.com/ignatzorin/escrow-broker/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-broker/internal/repository"
)

const (
	testSeller int64 = 1001
	testBuyer  int64 = 2002
	testOther  int64 = 3003
	testAdmin  int64 = 9000
)

func nullLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

// memoryDeals хранилище сделок в памяти с проверкой версии как в DealRepository.
type memoryDeals struct {
	mu      sync.Mutex
	deals   map[uuid.UUID]entity.Deal
	updates int
	// conflicts столько следующих Update вернут конфликт версий
	conflicts int
}

func newMemoryDeals() *memoryDeals {
	return &memoryDeals{deals: make(map[uuid.UUID]entity.Deal)}
}

func cloneDeal(d entity.Deal) entity.Deal {
	if d.BuyerID != nil {
		b := *d.BuyerID
		d.BuyerID = &b
	}
	if d.PaymentRef != nil {
		ref := *d.PaymentRef
		d.PaymentRef = &ref
	}
	return d
}

func (m *memoryDeals) Create(_ context.Context, deal *entity.Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deals[deal.ID] = cloneDeal(*deal)
	return nil
}

func (m *memoryDeals) GetByID(_ context.Context, id uuid.UUID) (*entity.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deals[id]
	if !ok {
		return nil, repository.ErrDealNotFound
	}
	c := cloneDeal(d)
	return &c, nil
}

func (m *memoryDeals) Update(_ context.Context, deal *entity.Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(deal)
}

func (m *memoryDeals) updateLocked(deal *entity.Deal) error {
	stored, ok := m.deals[deal.ID]
	if !ok {
		return repository.ErrDealNotFound
	}
	if m.conflicts > 0 {
		m.conflicts--
		stored.Version++
		m.deals[deal.ID] = stored
		return repository.ErrDealVersionConflict
	}
	if stored.Version != deal.Version {
		return repository.ErrDealVersionConflict
	}
	deal.Version++
	m.deals[deal.ID] = cloneDeal(*deal)
	m.updates++
	return nil
}

func (m *memoryDeals) List(_ context.Context, f models.DealFilter) ([]entity.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entity.Deal, 0)
	for _, d := range m.deals {
		if f.Status != "" && string(d.Status) != f.Status {
			continue
		}
		if f.SellerID != nil && d.SellerID != *f.SellerID {
			continue
		}
		if f.BuyerID != nil && (d.BuyerID == nil || *d.BuyerID != *f.BuyerID) {
			continue
		}
		if f.PartyID != nil && !d.IsParty(*f.PartyID) {
			continue
		}
		if f.CreatedBefore != nil && !d.CreatedAt.Before(*f.CreatedBefore) {
			continue
		}
		if f.WithPayment && d.PaymentRef == nil {
			continue
		}
		out = append(out, cloneDeal(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryDeals) DeleteCancelled(_ context.Context, id uuid.UUID, cutoff time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deals[id]
	if !ok || d.Status != valueobject.DealStatusCancelled || !d.CreatedAt.Before(cutoff) {
		return false, nil
	}
	delete(m.deals, id)
	return true, nil
}

func (m *memoryDeals) CountByStatus(_ context.Context) (models.StatusCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := models.StatusCounts{}
	for _, d := range m.deals {
		counts[string(d.Status)]++
	}
	return counts, nil
}

func (m *memoryDeals) CountCancelledForUser(_ context.Context, userID int64, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, d := range m.deals {
		if d.IsParty(userID) && d.Status == valueobject.DealStatusCancelled && !d.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memoryDeals) Statistics(_ context.Context, _ time.Time, _ int) (*models.DealStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &models.DealStatistics{Daily: []models.DailyDealStat{}, TopSellers: []models.SellerVolume{}}
	for _, d := range m.deals {
		if d.Status == valueobject.DealStatusCompleted || d.Status == valueobject.DealStatusPaid {
			stats.TotalVolume = stats.TotalVolume.Add(d.TotalPrice)
			stats.TotalCommission = stats.TotalCommission.Add(d.Commission())
		}
	}
	return stats, nil
}

func (m *memoryDeals) put(d *entity.Deal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deals[d.ID] = cloneDeal(*d)
}

func (m *memoryDeals) get(id uuid.UUID) (entity.Deal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deals[id]
	return cloneDeal(d), ok
}

// memoryDisputes споры в памяти. Транзакции со сделкой выполняются под общей блокировкой хранилища сделок.
type memoryDisputes struct {
	deals    *memoryDeals
	disputes map[uuid.UUID]models.Dispute
}

func newMemoryDisputes(deals *memoryDeals) *memoryDisputes {
	return &memoryDisputes{deals: deals, disputes: make(map[uuid.UUID]models.Dispute)}
}

func (m *memoryDisputes) activeForDealLocked(dealID uuid.UUID) *models.Dispute {
	for _, d := range m.disputes {
		if d.DealID == dealID && !d.Status.IsTerminal() {
			c := d
			return &c
		}
	}
	return nil
}

func (m *memoryDisputes) CreateWithDeal(_ context.Context, d *models.Dispute, deal *entity.Deal) error {
	m.deals.mu.Lock()
	defer m.deals.mu.Unlock()
	if m.activeForDealLocked(d.DealID) != nil {
		return repository.ErrOpenDisputeExists
	}
	if err := m.deals.updateLocked(deal); err != nil {
		return err
	}
	m.disputes[d.ID] = *d
	return nil
}

func (m *memoryDisputes) ResolveWithDeal(_ context.Context, d *models.Dispute, deal *entity.Deal) error {
	m.deals.mu.Lock()
	defer m.deals.mu.Unlock()
	stored, ok := m.disputes[d.ID]
	if !ok || stored.Status.IsTerminal() {
		return repository.ErrDisputeNotFound
	}
	if err := m.deals.updateLocked(deal); err != nil {
		return err
	}
	m.disputes[d.ID] = *d
	return nil
}

func (m *memoryDisputes) Update(_ context.Context, d *models.Dispute) error {
	m.deals.mu.Lock()
	defer m.deals.mu.Unlock()
	if _, ok := m.disputes[d.ID]; !ok {
		return repository.ErrDisputeNotFound
	}
	m.disputes[d.ID] = *d
	return nil
}

func (m *memoryDisputes) GetByID(_ context.Context, id uuid.UUID) (*models.Dispute, error) {
	m.deals.mu.Lock()
	defer m.deals.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok {
		return nil, repository.ErrDisputeNotFound
	}
	return &d, nil
}

func (m *memoryDisputes) GetOpenByDeal(_ context.Context, dealID uuid.UUID) (*models.Dispute, error) {
	m.deals.mu.Lock()
	defer m.deals.mu.Unlock()
	return m.activeForDealLocked(dealID), nil
}

func (m *memoryDisputes) List(_ context.Context, status models.DisputeStatus, _, _ int) ([]models.Dispute, error) {
	m.deals.mu.Lock()
	defer m.deals.mu.Unlock()
	out := make([]models.Dispute, 0)
	for _, d := range m.disputes {
		if status == "" || d.Status == status {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memoryDisputes) Statistics(_ context.Context) (*models.DisputeStatistics, error) {
	m.deals.mu.Lock()
	defer m.deals.mu.Unlock()
	stats := &models.DisputeStatistics{ByReason: map[models.DisputeReason]int{}}
	for _, d := range m.disputes {
		stats.Total++
		stats.ByReason[d.Reason]++
		switch d.Status {
		case models.DisputeStatusOpen:
			stats.Open++
		case models.DisputeStatusResolved:
			stats.Resolved++
		}
	}
	return stats, nil
}

func (m *memoryDisputes) CountForUserSince(_ context.Context, userID int64, since time.Time) (int, error) {
	m.deals.mu.Lock()
	defer m.deals.mu.Unlock()
	n := 0
	for _, d := range m.disputes {
		if (d.ReporterID == userID || d.ReportedID == userID) && !d.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memoryDisputes) openCount(dealID uuid.UUID) int {
	m.deals.mu.Lock()
	defer m.deals.mu.Unlock()
	n := 0
	for _, d := range m.disputes {
		if d.DealID == dealID && d.Status == models.DisputeStatusOpen {
			n++
		}
	}
	return n
}

type sentNotification struct {
	UserID int64
	Kind   string
}

// recordingNotifier синхронно запоминает уведомления.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(_ context.Context, userID int64, kind string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{UserID: userID, Kind: kind})
}

func (n *recordingNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.Kind == kind {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) to(userID int64, kind string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.sent {
		if s.UserID == userID && s.Kind == kind {
			return true
		}
	}
	return false
}

// allowAllBans BanGuard без блокировок, с опциональным списком забаненных.
type allowAllBans struct {
	banned map[int64]bool
}

func (a allowAllBans) EnsureNotBanned(_ context.Context, userID int64, _ string, _ models.RequestMeta) error {
	if a.banned[userID] {
		return apperror.ErrUserBanned
	}
	return nil
}

type recordingSecurity struct {
	mu     sync.Mutex
	events []SecurityEvent
}

func (r *recordingSecurity) Record(_ context.Context, ev SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSecurity) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

// mockGateway мок платёжного шлюза.
type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateDepositAddress(ctx context.Context, orderID string, coinID int, amount decimal.Decimal) (*ccpayment.DepositAddress, error) {
	args := m.Called(ctx, orderID, coinID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ccpayment.DepositAddress), args.Error(1)
}

func (m *mockGateway) CreateCheckoutSession(ctx context.Context, orderID string, amount decimal.Decimal, returnURL, cancelURL string) (*ccpayment.CheckoutSession, error) {
	args := m.Called(ctx, orderID, amount, returnURL, cancelURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ccpayment.CheckoutSession), args.Error(1)
}

func (m *mockGateway) GetDepositStatus(ctx context.Context, orderID string) (*ccpayment.DepositRecord, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ccpayment.DepositRecord), args.Error(1)
}

func (m *mockGateway) CreateWithdrawal(ctx context.Context, coinID int, chain, address string, amount decimal.Decimal, orderID string) (*ccpayment.Withdrawal, error) {
	args := m.Called(ctx, coinID, chain, address, amount, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ccpayment.Withdrawal), args.Error(1)
}

func (m *mockGateway) ListCoins(ctx context.Context) ([]ccpayment.Coin, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ccpayment.Coin), args.Error(1)
}

func (m *mockGateway) VerifyWebhookSignature(payload map[string]any, signature string) bool {
	args := m.Called(payload, signature)
	return args.Bool(0)
}

func (m *mockGateway) CircuitState() string {
	return "closed"
}

type memoryEvidence struct {
	saved map[uuid.UUID][]byte
}

func (e *memoryEvidence) Save(disputeID uuid.UUID, filename string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if e.saved == nil {
		e.saved = map[uuid.UUID][]byte{}
	}
	e.saved[disputeID] = data
	return "evidence/" + disputeID.String() + "/" + filename, nil
}

// newPendingDeal сделка с ценой 100 и комиссией 5%.
func newPendingDeal(store *memoryDeals) *entity.Deal {
	d, err := entity.NewDeal(testSeller, "Игровой аккаунт", "", decimal.NewFromInt(100), valueobject.DefaultCommissionRate, nil)
	if err != nil {
		panic(err)
	}
	store.put(d)
	return d
}

// withPayment сделка с покупателем и реквизитами оплаты.
func withPayment(store *memoryDeals, d *entity.Deal) *entity.Deal {
	if _, err := d.AssignBuyer(testBuyer); err != nil {
		panic(err)
	}
	if err := d.AttachPayment(entity.PaymentReference{Address: "0xabc", Amount: d.TotalPrice, CoinID: 1280, CoinName: "USDT", Network: "POLYGON"}); err != nil {
		panic(err)
	}
	store.put(d)
	return d
}

func withStatus(store *memoryDeals, d *entity.Deal, status valueobject.DealStatus) *entity.Deal {
	d.Status = status
	store.put(d)
	return d
}
