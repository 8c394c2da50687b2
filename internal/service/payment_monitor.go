package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-broker/internal/domain/entity"
	"github.com/ignatzorin/escrow-broker/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-broker/internal/gateway/ccpayment"
	"github.com/ignatzorin/escrow-broker/internal/goroutine"
	"github.com/ignatzorin/escrow-broker/internal/models"
	"github.com/ignatzorin/escrow-broker/internal/pkg/apperror"
)

const (
	statsWindowDays = 7
	statsTopSellers = 5
	statsCacheTTL   = time.Minute
)

// ErrMonitorRunning повторный запуск цикла сверки.
var ErrMonitorRunning = errors.New("payment monitor is already running")

// DepositChecker часть шлюза, нужная циклу сверки.
type DepositChecker interface {
	GetDepositStatus(ctx context.Context, orderID string) (*ccpayment.DepositRecord, error)
	CircuitState() string
}

type MonitorConfig struct {
	CheckInterval      time.Duration
	PaymentExpiry      time.Duration
	CancelledRetention time.Duration
}

// PassReport итог одной итерации цикла.
type PassReport struct {
	Checked   int       `json:"checked"`
	Confirmed int       `json:"confirmed"`
	Failed    int       `json:"failed"`
	Reminded  int       `json:"reminded"`
	Deleted   int       `json:"deleted"`
	Errors    int       `json:"errors"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
}

// MonitorStats состояние цикла сверки и счётчики сделок.
type MonitorStats struct {
	IsRunning       bool        `json:"is_running"`
	CheckInterval   int         `json:"check_interval"`
	PendingPayments int         `json:"pending_payments"`
	PaidDeals       int         `json:"paid_deals"`
	CompletedDeals  int         `json:"completed_deals"`
	DisputedDeals   int         `json:"disputed_deals"`
	TotalDeals      int         `json:"total_deals"`
	GatewayCircuit  string      `json:"gateway_circuit"`
	LastRun         *PassReport `json:"last_run,omitempty"`
}

// PaymentMonitor фоновая сверка ожидающих оплат со шлюзом.
// Каждый проход и каждая сделка внутри прохода изолированы: ошибка логируется, цикл продолжается.
type PaymentMonitor struct {
	repo     DealRepository
	deals    *DealService
	gateway  DepositChecker
	cache    *CacheService
	cfg      MonitorConfig
	log      logrus.FieldLogger
	recovery *goroutine.RecoveryHandler
	now      func() time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	lastRun  *PassReport
	reminded map[uuid.UUID]time.Time
}

func NewPaymentMonitor(repo DealRepository, deals *DealService, gateway DepositChecker, cache *CacheService, cfg MonitorConfig, log logrus.FieldLogger) *PaymentMonitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.PaymentExpiry <= 0 {
		cfg.PaymentExpiry = time.Hour
	}
	if cfg.CancelledRetention <= 0 {
		cfg.CancelledRetention = 7 * 24 * time.Hour
	}
	return &PaymentMonitor{
		repo:     repo,
		deals:    deals,
		gateway:  gateway,
		cache:    cache,
		cfg:      cfg,
		log:      log,
		recovery: goroutine.NewRecoveryHandler(log),
		now:      time.Now,
		reminded: make(map[uuid.UUID]time.Time),
	}
}

// Start запускает цикл. Первая итерация выполняется сразу.
func (m *PaymentMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return ErrMonitorRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.loop(loopCtx, m.done)

	m.log.WithField("check_interval", m.cfg.CheckInterval.String()).Info("payment monitor started")
	return nil
}

// Stop останавливает цикл и ждёт завершения текущей итерации.
func (m *PaymentMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.log.Info("payment monitor stopped")
}

func (m *PaymentMonitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

func (m *PaymentMonitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	// родительский ctx отменён без Stop: снимаем признак работы сами
	defer m.finish(done)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		m.runGuarded(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *PaymentMonitor) finish(done chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != done {
		return
	}
	m.cancel()
	m.cancel, m.done = nil, nil
	m.log.Info("payment monitor stopped: context cancelled")
}

// runGuarded паника в итерации не должна остановить цикл.
func (m *PaymentMonitor) runGuarded(ctx context.Context) {
	defer m.recovery.Recover("payment monitor iteration")
	m.RunOnce(ctx)
}

// RunOnce выполняет три прохода последовательно.
func (m *PaymentMonitor) RunOnce(ctx context.Context) PassReport {
	report := PassReport{StartedAt: m.now().UTC()}

	m.checkPendingPayments(ctx, &report)
	m.checkExpiredPayments(ctx, &report)
	m.cleanupCancelled(ctx, &report)

	report.Duration = m.now().Sub(report.StartedAt).String()

	m.mu.Lock()
	m.lastRun = &report
	m.mu.Unlock()

	if report.Confirmed+report.Failed+report.Reminded+report.Deleted+report.Errors > 0 {
		m.log.WithFields(logrus.Fields{
			"checked":   report.Checked,
			"confirmed": report.Confirmed,
			"failed":    report.Failed,
			"reminded":  report.Reminded,
			"deleted":   report.Deleted,
			"errors":    report.Errors,
		}).Info("payment monitor iteration finished")
	}
	return report
}

func (m *PaymentMonitor) checkPendingPayments(ctx context.Context, report *PassReport) {
	log := m.log.WithField("pass", "pending")
	defer m.recovery.Recover("payment monitor pending pass")

	deals, err := m.repo.List(ctx, models.DealFilter{Status: string(valueobject.DealStatusPending), WithPayment: true})
	if err != nil {
		report.Errors++
		log.WithError(err).Error("failed to list pending deals")
		return
	}

	for i := range deals {
		if ctx.Err() != nil {
			return
		}
		report.Checked++
		outcome, err := m.verifyDeal(ctx, &deals[i])
		if err != nil {
			report.Errors++
			log.WithField("deal_id", deals[i].ID).WithError(err).Warn("payment verification failed")
			continue
		}
		switch outcome {
		case ccpayment.DepositSuccess:
			report.Confirmed++
		case ccpayment.DepositFailed:
			report.Failed++
		}
	}
}

// verifyDeal сверяет одну сделку. Возвращает success только если сделка была переведена в paid.
func (m *PaymentMonitor) verifyDeal(ctx context.Context, deal *entity.Deal) (outcome ccpayment.DepositStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperror.Newf(apperror.ErrCodeInternal, "panic при сверке сделки: %v", r)
		}
	}()

	record, err := m.gateway.GetDepositStatus(ctx, deal.ID.String())
	if err != nil {
		return "", err
	}

	switch record.Status {
	case ccpayment.DepositSuccess:
		_, confirmed, err := m.deals.ConfirmPayment(ctx, deal.ID, record.TxID, record.Amount)
		if err != nil {
			if apperror.IsValidation(err) || apperror.IsInvalidTransition(err) {
				return ccpayment.DepositPending, nil
			}
			return "", err
		}
		if confirmed {
			return ccpayment.DepositSuccess, nil
		}
		return ccpayment.DepositPending, nil
	case ccpayment.DepositFailed:
		m.deals.ReportPaymentFailure(ctx, deal, "платёжный шлюз сообщил об ошибке оплаты")
		return ccpayment.DepositFailed, nil
	default:
		return ccpayment.DepositPending, nil
	}
}

// checkExpiredPayments напоминает покупателю об оплате старше PaymentExpiry.
// Сделка не отменяется. Повторное напоминание не раньше чем через PaymentExpiry.
func (m *PaymentMonitor) checkExpiredPayments(ctx context.Context, report *PassReport) {
	log := m.log.WithField("pass", "expiry")
	defer m.recovery.Recover("payment monitor expiry pass")

	deals, err := m.repo.List(ctx, models.DealFilter{Status: string(valueobject.DealStatusPending), WithPayment: true})
	if err != nil {
		report.Errors++
		log.WithError(err).Error("failed to list pending deals")
		return
	}

	now := m.now()
	seen := make(map[uuid.UUID]struct{}, len(deals))
	for i := range deals {
		deal := &deals[i]
		seen[deal.ID] = struct{}{}
		if deal.PaymentAge(now) <= m.cfg.PaymentExpiry {
			continue
		}

		m.mu.Lock()
		last, ok := m.reminded[deal.ID]
		due := !ok || now.Sub(last) >= m.cfg.PaymentExpiry
		if due {
			m.reminded[deal.ID] = now
		}
		m.mu.Unlock()

		if due {
			m.deals.RemindPayment(ctx, deal)
			report.Reminded++
			log.WithField("deal_id", deal.ID).Debug("payment reminder sent")
		}
	}

	m.mu.Lock()
	for id := range m.reminded {
		if _, ok := seen[id]; !ok {
			delete(m.reminded, id)
		}
	}
	m.mu.Unlock()
}

func (m *PaymentMonitor) cleanupCancelled(ctx context.Context, report *PassReport) {
	log := m.log.WithField("pass", "cleanup")
	defer m.recovery.Recover("payment monitor cleanup pass")

	cutoff := m.now().Add(-m.cfg.CancelledRetention)
	deals, err := m.repo.List(ctx, models.DealFilter{Status: string(valueobject.DealStatusCancelled), CreatedBefore: &cutoff})
	if err != nil {
		report.Errors++
		log.WithError(err).Error("failed to list cancelled deals")
		return
	}

	for _, deal := range deals {
		deleted, err := m.repo.DeleteCancelled(ctx, deal.ID, cutoff)
		if err != nil {
			report.Errors++
			log.WithField("deal_id", deal.ID).WithError(err).Warn("failed to delete cancelled deal")
			continue
		}
		if deleted {
			report.Deleted++
		}
	}
	if report.Deleted > 0 {
		log.WithField("deleted", report.Deleted).Info("old cancelled deals removed")
	}
}

// ForceCheck сверяет одну сделку сразу. false означает, что сделки нет.
func (m *PaymentMonitor) ForceCheck(ctx context.Context, dealID uuid.UUID) (bool, *entity.Deal, error) {
	deal, err := m.deals.GetDeal(ctx, dealID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return false, nil, nil
		}
		return false, nil, err
	}

	if deal.Status == valueobject.DealStatusPending && deal.PaymentRef != nil {
		if _, err := m.verifyDeal(ctx, deal); err != nil {
			return true, deal, err
		}
		if deal, err = m.deals.GetDeal(ctx, dealID); err != nil {
			return true, nil, err
		}
	}
	return true, deal, nil
}

func (m *PaymentMonitor) Stats(ctx context.Context) (*MonitorStats, error) {
	counts, err := m.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := m.repo.List(ctx, models.DealFilter{Status: string(valueobject.DealStatusPending), WithPayment: true})
	if err != nil {
		return nil, err
	}

	total := 0
	for _, c := range counts {
		total += c
	}

	m.mu.Lock()
	last := m.lastRun
	m.mu.Unlock()

	return &MonitorStats{
		IsRunning:       m.IsRunning(),
		CheckInterval:   int(m.cfg.CheckInterval.Seconds()),
		PendingPayments: len(pending),
		PaidDeals:       counts[string(valueobject.DealStatusPaid)],
		CompletedDeals:  counts[string(valueobject.DealStatusCompleted)],
		DisputedDeals:   counts[string(valueobject.DealStatusDisputed)],
		TotalDeals:      total,
		GatewayCircuit:  m.gateway.CircuitState(),
		LastRun:         last,
	}, nil
}

// DealStatistics оборот, комиссия, динамика за неделю и топ продавцов. Кэшируется на минуту.
func (m *PaymentMonitor) DealStatistics(ctx context.Context) (*models.DealStatistics, error) {
	value, err := m.cache.GetOrSet(DealStatsCacheKey(statsWindowDays), statsCacheTTL, func() (any, error) {
		since := m.now().AddDate(0, 0, -statsWindowDays)
		return m.repo.Statistics(ctx, since, statsTopSellers)
	})
	if err != nil {
		return nil, err
	}
	return value.(*models.DealStatistics), nil
}
