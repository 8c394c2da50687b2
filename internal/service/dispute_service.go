package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-broker/internal/domain/entity"
	"github.com/ignatzorin/escrow-broker/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-broker/internal/models"
	"github.com/ignatzorin/escrow-broker/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-broker/internal/repository"
	"github.com/ignatzorin/escrow-broker/internal/validation"
)

// DisputeRepository споры. Создание и решение атомарны вместе с обновлением сделки.
type DisputeRepository interface {
	CreateWithDeal(ctx context.Context, d *models.Dispute, deal *entity.Deal) error
	ResolveWithDeal(ctx context.Context, d *models.Dispute, deal *entity.Deal) error
	Update(ctx context.Context, d *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetOpenByDeal(ctx context.Context, dealID uuid.UUID) (*models.Dispute, error)
	List(ctx context.Context, status models.DisputeStatus, limit, offset int) ([]models.Dispute, error)
	Statistics(ctx context.Context) (*models.DisputeStatistics, error)
}

// DealGetter чтение сделки по id.
type DealGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Deal, error)
}

// EvidenceStore хранилище файлов-доказательств.
type EvidenceStore interface {
	Save(disputeID uuid.UUID, filename string, r io.Reader) (string, error)
}

type CreateDisputeInput struct {
	DealID      uuid.UUID
	ReporterID  int64
	Reason      models.DisputeReason
	Description string
	Evidence    *string
	Priority    models.DisputePriority
}

// ResolveDisputeInput WinnerID nil означает итог без победителя: сделка отменяется.
type ResolveDisputeInput struct {
	DisputeID  uuid.UUID
	AdminID    int64
	Resolution string
	WinnerID   *int64
}

// DisputeService споры по сделкам.
type DisputeService struct {
	disputes DisputeRepository
	deals    DealGetter
	bans     BanGuard
	security SecurityRecorder
	evidence EvidenceStore
	notifier EventNotifier
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewDisputeService(disputes DisputeRepository, deals DealGetter, bans BanGuard, security SecurityRecorder, evidence EvidenceStore, notifier EventNotifier, log logrus.FieldLogger) *DisputeService {
	return &DisputeService{
		disputes: disputes,
		deals:    deals,
		bans:     bans,
		security: security,
		evidence: evidence,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// CreateDispute открывает спор и переводит сделку в disputed в одной транзакции.
func (s *DisputeService) CreateDispute(ctx context.Context, in CreateDisputeInput, meta models.RequestMeta) (*models.Dispute, error) {
	if !in.Reason.IsValid() {
		return nil, apperror.Newf(apperror.ErrCodeValidation, "неизвестная причина спора: %s", in.Reason)
	}
	if in.Priority == "" {
		in.Priority = models.DisputePriorityMedium
	}
	if !in.Priority.IsValid() {
		return nil, apperror.Newf(apperror.ErrCodeValidation, "неизвестный приоритет: %s", in.Priority)
	}
	if err := validation.ValidateDisputeDescription(in.Description); err != nil {
		return nil, invalidInput(err)
	}
	if err := s.bans.EnsureNotBanned(ctx, in.ReporterID, "create_dispute", meta); err != nil {
		return nil, err
	}

	var (
		dispute *models.Dispute
		deal    *entity.Deal
	)
	err := s.retryOnConflict(ctx, func() error {
		var err error
		deal, err = s.deals.GetByID(ctx, in.DealID)
		if err != nil {
			return mapDealErr(err)
		}
		if !deal.IsParty(in.ReporterID) {
			return apperror.ErrNotParticipant
		}

		existing, err := s.disputes.GetOpenByDeal(ctx, in.DealID)
		if err != nil {
			return err
		}
		if existing != nil {
			return errOpenDisputeExists
		}

		reportedID, _ := deal.CounterParty(in.ReporterID)
		if err := deal.OpenDispute(in.ReporterID); err != nil {
			return err
		}

		now := s.now().UTC()
		dispute = &models.Dispute{
			ID:          uuid.New(),
			DealID:      deal.ID,
			ReporterID:  in.ReporterID,
			ReportedID:  reportedID,
			Reason:      in.Reason,
			Description: strings.TrimSpace(in.Description),
			Evidence:    trimOptional(in.Evidence),
			Status:      models.DisputeStatusOpen,
			Priority:    in.Priority,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		err = s.disputes.CreateWithDeal(ctx, dispute, deal)
		if errors.Is(err, repository.ErrOpenDisputeExists) {
			return errOpenDisputeExists
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.security.Record(ctx, SecurityEvent{
		UserID:      &in.ReporterID,
		EventType:   models.SecurityEventDisputeCreated,
		Description: fmt.Sprintf("открыт спор по сделке %s: %s", deal.ID, in.Reason),
		Severity:    models.SeverityWarning,
		Meta:        meta,
		Data:        map[string]any{"dispute_id": dispute.ID, "deal_id": deal.ID, "reported_id": dispute.ReportedID},
	})
	s.notifier.Notify(ctx, dispute.ReportedID, models.EventDisputeOpened, map[string]any{
		"dispute_id":         dispute.ID,
		"deal_id":            deal.ID,
		"reason":             dispute.Reason,
		"reason_description": models.DisputeReasons[dispute.Reason],
	})

	s.log.WithFields(logrus.Fields{"deal_id": deal.ID, "dispute_id": dispute.ID, "user_id": in.ReporterID}).Info("dispute created")
	return dispute, nil
}

// ResolveDispute закрывает спор и применяет итог к сделке: победил покупатель -> refunded,
// продавец -> completed, иначе cancelled.
func (s *DisputeService) ResolveDispute(ctx context.Context, in ResolveDisputeInput, meta models.RequestMeta) (*models.Dispute, *entity.Deal, error) {
	var (
		dispute *models.Dispute
		deal    *entity.Deal
	)
	err := s.retryOnConflict(ctx, func() error {
		var err error
		dispute, err = s.getDispute(ctx, in.DisputeID)
		if err != nil {
			return err
		}
		if dispute.Status.IsTerminal() {
			return errDisputeClosed
		}

		deal, err = s.deals.GetByID(ctx, dispute.DealID)
		if err != nil {
			return mapDealErr(err)
		}
		if in.WinnerID != nil && !deal.IsParty(*in.WinnerID) {
			return apperror.New(apperror.ErrCodeValidation, "победитель должен быть участником сделки")
		}
		if err := deal.ResolveDispute(deal.DisputeOutcome(in.WinnerID)); err != nil {
			return err
		}

		now := s.now().UTC()
		resolution := strings.TrimSpace(in.Resolution)
		dispute.Status = models.DisputeStatusResolved
		dispute.Resolution = &resolution
		dispute.ResolvedBy = &in.AdminID
		dispute.ResolvedAt = &now
		dispute.UpdatedAt = now

		err = s.disputes.ResolveWithDeal(ctx, dispute, deal)
		if errors.Is(err, repository.ErrDisputeNotFound) {
			return errDisputeClosed
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.security.Record(ctx, SecurityEvent{
		UserID:      &in.AdminID,
		EventType:   models.SecurityEventDisputeResolved,
		Description: fmt.Sprintf("спор %s решён, сделка %s -> %s", dispute.ID, deal.ID, deal.Status),
		Severity:    models.SeverityInfo,
		Meta:        meta,
		Data:        map[string]any{"dispute_id": dispute.ID, "deal_id": deal.ID, "winner_id": in.WinnerID},
	})
	for _, uid := range deal.Parties() {
		s.notifier.Notify(ctx, uid, models.EventDisputeResolved, map[string]any{
			"dispute_id":  dispute.ID,
			"deal_id":     deal.ID,
			"deal_status": deal.Status,
			"resolution":  dispute.Resolution,
		})
	}

	s.log.WithFields(logrus.Fields{"deal_id": deal.ID, "dispute_id": dispute.ID, "outcome": deal.Status}).Info("dispute resolved")
	return dispute, deal, nil
}

// UpdateStatus администратор переводит спор в investigating или closed и может оставить заметку.
// Закрытие без решения отменяет сделку в той же транзакции, что и закрытие спора.
func (s *DisputeService) UpdateStatus(ctx context.Context, id uuid.UUID, status models.DisputeStatus, priority models.DisputePriority, notes *string) (*models.Dispute, error) {
	switch status {
	case "", models.DisputeStatusInvestigating, models.DisputeStatusClosed:
	case models.DisputeStatusResolved:
		return nil, apperror.New(apperror.ErrCodeValidation, "для решения спора используйте resolve")
	default:
		return nil, apperror.Newf(apperror.ErrCodeValidation, "недопустимый статус спора: %s", status)
	}
	if priority != "" && !priority.IsValid() {
		return nil, apperror.Newf(apperror.ErrCodeValidation, "неизвестный приоритет: %s", priority)
	}

	var (
		dispute *models.Dispute
		deal    *entity.Deal
	)
	err := s.retryOnConflict(ctx, func() error {
		var err error
		dispute, err = s.getDispute(ctx, id)
		if err != nil {
			return err
		}
		if dispute.Status.IsTerminal() {
			return errDisputeClosed
		}

		now := s.now().UTC()
		if status != "" {
			dispute.Status = status
		}
		if priority != "" {
			dispute.Priority = priority
		}
		if notes != nil {
			dispute.AdminNotes = trimOptional(notes)
		}
		dispute.UpdatedAt = now

		if status != models.DisputeStatusClosed {
			return mapDisputeErr(s.disputes.Update(ctx, dispute))
		}

		deal, err = s.deals.GetByID(ctx, dispute.DealID)
		if err != nil {
			return mapDealErr(err)
		}
		if err := deal.ResolveDispute(valueobject.DealStatusCancelled); err != nil {
			return err
		}
		dispute.ResolvedAt = &now

		err = s.disputes.ResolveWithDeal(ctx, dispute, deal)
		if errors.Is(err, repository.ErrDisputeNotFound) {
			return errDisputeClosed
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if deal != nil {
		for _, uid := range deal.Parties() {
			s.notifier.Notify(ctx, uid, models.EventDisputeResolved, map[string]any{
				"dispute_id":  dispute.ID,
				"deal_id":     deal.ID,
				"deal_status": deal.Status,
			})
		}
		s.log.WithFields(logrus.Fields{"deal_id": deal.ID, "dispute_id": dispute.ID, "outcome": deal.Status}).Info("dispute closed")
	}
	return dispute, nil
}

// AddEvidence участник спора прикладывает файл, пока спор не закрыт.
func (s *DisputeService) AddEvidence(ctx context.Context, id uuid.UUID, userID int64, filename string, r io.Reader) (*models.Dispute, error) {
	dispute, err := s.getDispute(ctx, id)
	if err != nil {
		return nil, err
	}
	if dispute.ReporterID != userID && dispute.ReportedID != userID {
		return nil, apperror.ErrNotParticipant
	}
	if dispute.Status.IsTerminal() {
		return nil, errDisputeClosed
	}

	path, err := s.evidence.Save(dispute.ID, filename, r)
	if err != nil {
		return nil, err
	}

	dispute.Evidence = &path
	dispute.UpdatedAt = s.now().UTC()
	if err := s.disputes.Update(ctx, dispute); err != nil {
		return nil, mapDisputeErr(err)
	}
	return dispute, nil
}

// GetDispute доступен участникам спора и администраторам.
func (s *DisputeService) GetDispute(ctx context.Context, id uuid.UUID, userID int64, isAdmin bool) (*models.Dispute, error) {
	dispute, err := s.getDispute(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAdmin && dispute.ReporterID != userID && dispute.ReportedID != userID {
		return nil, apperror.ErrForbidden
	}
	return dispute, nil
}

func (s *DisputeService) ListDisputes(ctx context.Context, status models.DisputeStatus, limit, offset int) ([]models.Dispute, error) {
	switch status {
	case "", models.DisputeStatusOpen, models.DisputeStatusInvestigating, models.DisputeStatusResolved, models.DisputeStatusClosed:
	default:
		return nil, apperror.Newf(apperror.ErrCodeValidation, "недопустимый статус спора: %s", status)
	}
	limit, offset = normalizePage(limit, offset)
	return s.disputes.List(ctx, status, limit, offset)
}

func (s *DisputeService) Statistics(ctx context.Context) (*models.DisputeStatistics, error) {
	return s.disputes.Statistics(ctx)
}

// Reasons причины споров с описаниями.
func (s *DisputeService) Reasons() map[models.DisputeReason]string {
	return models.DisputeReasons
}

func (s *DisputeService) getDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	dispute, err := s.disputes.GetByID(ctx, id)
	if err != nil {
		return nil, mapDisputeErr(err)
	}
	return dispute, nil
}

// retryOnConflict повторяет fn, если сделку изменили параллельно.
func (s *DisputeService) retryOnConflict(ctx context.Context, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if !errors.Is(err, repository.ErrDealVersionConflict) {
			return mapDealErr(err)
		}
		if attempt >= maxVersionRetries || ctx.Err() != nil {
			return apperror.ErrVersionConflict
		}
	}
}

var (
	errOpenDisputeExists = apperror.New(apperror.ErrCodeValidation, "по сделке уже есть открытый спор")
	errDisputeClosed     = apperror.New(apperror.ErrCodeValidation, "спор уже закрыт")
)

func mapDisputeErr(err error) error {
	if errors.Is(err, repository.ErrDisputeNotFound) {
		return apperror.ErrDisputeNotFound
	}
	return err
}
