package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-broker/internal/domain/entity"
	"github.com/ignatzorin/escrow-broker/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-broker/internal/models"
	"github.com/ignatzorin/escrow-broker/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-broker/internal/repository"
	"github.com/ignatzorin/escrow-broker/internal/validation"
)

// maxVersionRetries сколько раз перечитывать сделку при конфликте версий.
const maxVersionRetries = 3

// DealRepository хранилище сделок с оптимистической блокировкой по version.
type DealRepository interface {
	Create(ctx context.Context, deal *entity.Deal) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Deal, error)
	Update(ctx context.Context, deal *entity.Deal) error
	List(ctx context.Context, filter models.DealFilter) ([]entity.Deal, error)
	DeleteCancelled(ctx context.Context, id uuid.UUID, cutoff time.Time) (bool, error)
	CountByStatus(ctx context.Context) (models.StatusCounts, error)
	Statistics(ctx context.Context, since time.Time, topN int) (*models.DealStatistics, error)
}

// BanGuard запрещает действия заблокированным пользователям.
type BanGuard interface {
	EnsureNotBanned(ctx context.Context, userID int64, action string, meta models.RequestMeta) error
}

// CreateDealInput данные новой сделки от продавца.
type CreateDealInput struct {
	Title       string
	Description string
	Price       decimal.Decimal
	MediaFiles  []string
}

// DealService машина состояний сделки: проверяет переход, сохраняет и уведомляет стороны.
type DealService struct {
	deals          DealRepository
	bans           BanGuard
	notifier       EventNotifier
	validator      *PaymentValidator
	commissionRate decimal.Decimal
	log            logrus.FieldLogger
	now            func() time.Time
}

func NewDealService(deals DealRepository, bans BanGuard, notifier EventNotifier, commissionRate decimal.Decimal, log logrus.FieldLogger) *DealService {
	return &DealService{
		deals:          deals,
		bans:           bans,
		notifier:       notifier,
		validator:      NewPaymentValidator(),
		commissionRate: commissionRate,
		log:            log,
		now:            time.Now,
	}
}

func (s *DealService) CreateDeal(ctx context.Context, sellerID int64, in CreateDealInput, meta models.RequestMeta) (*entity.Deal, error) {
	if err := s.bans.EnsureNotBanned(ctx, sellerID, "create_deal", meta); err != nil {
		return nil, err
	}

	if err := validateDealInput(in); err != nil {
		return nil, err
	}

	deal, err := entity.NewDeal(sellerID, in.Title, in.Description, in.Price, s.commissionRate, in.MediaFiles)
	if err != nil {
		return nil, err
	}
	if err := s.deals.Create(ctx, deal); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"deal_id":     deal.ID,
		"user_id":     sellerID,
		"total_price": deal.TotalPrice.String(),
	}).Info("deal created")
	return deal, nil
}

func (s *DealService) GetDeal(ctx context.Context, id uuid.UUID) (*entity.Deal, error) {
	deal, err := s.deals.GetByID(ctx, id)
	if err != nil {
		return nil, mapDealErr(err)
	}
	return deal, nil
}

func (s *DealService) ListDeals(ctx context.Context, filter models.DealFilter) ([]entity.Deal, error) {
	if filter.Status != "" {
		if _, err := valueobject.NewDealStatus(filter.Status); err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeValidation, "неизвестный статус сделки")
		}
	}
	filter.Limit, filter.Offset = normalizePage(filter.Limit, filter.Offset)
	return s.deals.List(ctx, filter)
}

// MyDeals сделки, где пользователь продавец или покупатель.
func (s *DealService) MyDeals(ctx context.Context, userID int64, status string, limit, offset int) ([]entity.Deal, error) {
	return s.ListDeals(ctx, models.DealFilter{PartyID: &userID, Status: status, Limit: limit, Offset: offset})
}

func (s *DealService) UpdatePrice(ctx context.Context, id uuid.UUID, actorID int64, price decimal.Decimal) (*entity.Deal, error) {
	deal, _, err := s.Apply(ctx, id, func(d *entity.Deal) (bool, error) {
		return true, d.UpdatePrice(actorID, price)
	})
	return deal, err
}

// Purchase закрепляет покупателя за сделкой. Статус не меняется до подтверждения оплаты.
func (s *DealService) Purchase(ctx context.Context, id uuid.UUID, buyerID int64, meta models.RequestMeta) (*entity.Deal, error) {
	if err := s.bans.EnsureNotBanned(ctx, buyerID, "purchase", meta); err != nil {
		return nil, err
	}

	deal, changed, err := s.Apply(ctx, id, func(d *entity.Deal) (bool, error) {
		return d.AssignBuyer(buyerID)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.notifier.Notify(ctx, deal.SellerID, models.EventDealPurchased, dealPayload(deal))
	}
	return deal, nil
}

func (s *DealService) ConfirmDelivery(ctx context.Context, id uuid.UUID, actorID int64) (*entity.Deal, error) {
	deal, _, err := s.Apply(ctx, id, func(d *entity.Deal) (bool, error) {
		return true, d.ConfirmDelivery(actorID)
	})
	if err != nil {
		return nil, err
	}
	if deal.BuyerID != nil {
		s.notifier.Notify(ctx, *deal.BuyerID, models.EventDeliveryConfirmed, dealPayload(deal))
	}
	return deal, nil
}

func (s *DealService) ReleaseFunds(ctx context.Context, id uuid.UUID, actorID int64) (*entity.Deal, error) {
	deal, _, err := s.Apply(ctx, id, func(d *entity.Deal) (bool, error) {
		return true, d.ReleaseFunds(actorID)
	})
	if err != nil {
		return nil, err
	}
	for _, uid := range deal.Parties() {
		s.notifier.Notify(ctx, uid, models.EventFundsReleased, dealPayload(deal))
	}
	return deal, nil
}

// Cancel ручная отмена ожидающей сделки продавцом или администратором.
func (s *DealService) Cancel(ctx context.Context, id uuid.UUID, actorID int64, isAdmin bool) (*entity.Deal, error) {
	deal, _, err := s.Apply(ctx, id, func(d *entity.Deal) (bool, error) {
		return true, d.Cancel(actorID, isAdmin)
	})
	if err != nil {
		return nil, err
	}
	for _, uid := range deal.Parties() {
		if uid != actorID {
			s.notifier.Notify(ctx, uid, models.EventDealCancelled, dealPayload(deal))
		}
	}
	return deal, nil
}

// ConfirmPayment общий путь подтверждения оплаты для webhook, ручной проверки и цикла сверки.
// Для уже оплаченной сделки ничего не пишет и не уведомляет, возвращает false.
func (s *DealService) ConfirmPayment(ctx context.Context, id uuid.UUID, txID string, amount decimal.Decimal) (*entity.Deal, bool, error) {
	deal, changed, err := s.Apply(ctx, id, func(d *entity.Deal) (bool, error) {
		if d.Status == valueobject.DealStatusPending && d.PaymentRef != nil {
			received := amount
			if received.IsZero() {
				received = d.PaymentRef.Amount
			}
			if received.LessThan(d.PaymentRef.Amount) && !s.validator.ValidateAmount(d.PaymentRef.Amount, received) {
				return false, apperror.Newf(apperror.ErrCodeValidation,
					"зачислено %s из %s, оплата не подтверждена", received.String(), d.PaymentRef.Amount.String())
			}
			amount = received
		}
		return d.ConfirmPayment(txID, amount, s.now())
	})
	if err != nil {
		if apperror.IsValidation(err) && deal != nil {
			s.ReportPaymentFailure(ctx, deal, err.Error())
		}
		return deal, false, err
	}
	if !changed {
		return deal, false, nil
	}

	s.log.WithFields(logrus.Fields{
		"deal_id": deal.ID,
		"tx_id":   txID,
		"amount":  amount.String(),
	}).Info("payment confirmed")

	for _, uid := range deal.Parties() {
		s.notifier.Notify(ctx, uid, models.EventPaymentConfirmed, dealPayload(deal))
	}
	return deal, true, nil
}

// ReportPaymentFailure уведомляет покупателя о неудачной оплате. Статус сделки не меняется.
func (s *DealService) ReportPaymentFailure(ctx context.Context, deal *entity.Deal, reason string) {
	if deal.BuyerID == nil {
		return
	}
	payload := dealPayload(deal)
	payload["reason"] = reason
	s.notifier.Notify(ctx, *deal.BuyerID, models.EventPaymentFailed, payload)
}

// RemindPayment напоминание покупателю о неоплаченной сделке.
func (s *DealService) RemindPayment(ctx context.Context, deal *entity.Deal) {
	if deal.BuyerID == nil {
		return
	}
	s.notifier.Notify(ctx, *deal.BuyerID, models.EventPaymentReminder, dealPayload(deal))
}

// Apply загружает сделку, применяет fn и сохраняет с проверкой версии.
// При конфликте версий сделка перечитывается и fn применяется заново.
// Если fn вернула false, запись не выполняется.
func (s *DealService) Apply(ctx context.Context, id uuid.UUID, fn func(*entity.Deal) (bool, error)) (*entity.Deal, bool, error) {
	for attempt := 1; ; attempt++ {
		deal, err := s.deals.GetByID(ctx, id)
		if err != nil {
			return nil, false, mapDealErr(err)
		}

		changed, err := fn(deal)
		if err != nil {
			return deal, false, err
		}
		if !changed {
			return deal, false, nil
		}

		err = s.deals.Update(ctx, deal)
		if err == nil {
			return deal, true, nil
		}
		if !errors.Is(err, repository.ErrDealVersionConflict) {
			return nil, false, mapDealErr(err)
		}
		if attempt >= maxVersionRetries {
			return nil, false, apperror.ErrVersionConflict
		}

		s.log.WithFields(logrus.Fields{"deal_id": id, "attempt": attempt}).Debug("deal version conflict, retrying")
	}
}

func validateDealInput(in CreateDealInput) error {
	if err := validation.ValidateDealTitle(in.Title); err != nil {
		return invalidInput(err)
	}
	if err := validation.ValidateDealDescription(in.Description); err != nil {
		return invalidInput(err)
	}
	if err := validation.ValidateMediaFiles(in.MediaFiles); err != nil {
		return invalidInput(err)
	}
	return nil
}

func invalidInput(err error) error {
	return apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
}

func mapDealErr(err error) error {
	if errors.Is(err, repository.ErrDealNotFound) {
		return apperror.ErrDealNotFound
	}
	if errors.Is(err, repository.ErrDealVersionConflict) {
		return apperror.ErrVersionConflict
	}
	return err
}

func dealPayload(deal *entity.Deal) map[string]any {
	return map[string]any{
		"deal_id":     deal.ID,
		"title":       deal.Title,
		"status":      deal.Status,
		"price":       deal.Price,
		"total_price": deal.TotalPrice,
	}
}
