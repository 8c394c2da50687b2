package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-broker/internal/domain/entity"
	"github.com/ignatzorin/escrow-broker/internal/gateway/ccpayment"
	"github.com/ignatzorin/escrow-broker/internal/models"
	"github.com/ignatzorin/escrow-broker/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-broker/internal/validation"
)

const coinsCacheTTL = 10 * time.Minute

// PaymentGateway контракт внешнего платёжного шлюза.
type PaymentGateway interface {
	CreateDepositAddress(ctx context.Context, orderID string, coinID int, amount decimal.Decimal) (*ccpayment.DepositAddress, error)
	CreateCheckoutSession(ctx context.Context, orderID string, amount decimal.Decimal, returnURL, cancelURL string) (*ccpayment.CheckoutSession, error)
	GetDepositStatus(ctx context.Context, orderID string) (*ccpayment.DepositRecord, error)
	CreateWithdrawal(ctx context.Context, coinID int, chain, address string, amount decimal.Decimal, orderID string) (*ccpayment.Withdrawal, error)
	ListCoins(ctx context.Context) ([]ccpayment.Coin, error)
	VerifyWebhookSignature(payload map[string]any, signature string) bool
	CircuitState() string
}

// SecurityRecorder журнал событий безопасности.
type SecurityRecorder interface {
	Record(ctx context.Context, ev SecurityEvent)
}

// PaymentURLs адреса возврата со страницы оплаты.
type PaymentURLs struct {
	Return string
	Cancel string
}

// PaymentStatus результат проверки оплаты в шлюзе.
type PaymentStatus struct {
	Deal          *entity.Deal            `json:"deal"`
	GatewayStatus ccpayment.DepositStatus `json:"gateway_status"`
	Confirmed     bool                    `json:"confirmed"`
}

// WebhookResult итог обработки webhook.
type WebhookResult struct {
	DealID    uuid.UUID               `json:"deal_id"`
	Status    ccpayment.DepositStatus `json:"status"`
	Confirmed bool                    `json:"confirmed"`
	Message   string                  `json:"message,omitempty"`
}

// PaymentService создание оплаты, проверка статуса, webhook и выплаты продавцу.
type PaymentService struct {
	deals     *DealService
	gateway   PaymentGateway
	security  SecurityRecorder
	cache     *CacheService
	validator *PaymentValidator
	urls      PaymentURLs
	log       logrus.FieldLogger
}

func NewPaymentService(deals *DealService, gateway PaymentGateway, security SecurityRecorder, cache *CacheService, urls PaymentURLs, log logrus.FieldLogger) *PaymentService {
	return &PaymentService{
		deals:     deals,
		gateway:   gateway,
		security:  security,
		cache:     cache,
		validator: NewPaymentValidator(),
		urls:      urls,
		log:       log,
	}
}

// CreatePayment выдаёт адрес депозита на total_price сделки.
// Если покупатель ещё не закреплён, вызывающий становится покупателем.
func (s *PaymentService) CreatePayment(ctx context.Context, dealID uuid.UUID, buyerID int64, coinSymbol, network string, meta models.RequestMeta) (*entity.Deal, error) {
	if coinSymbol == "" {
		coinSymbol = ccpayment.DefaultCoin
	}
	if network == "" {
		network = ccpayment.DefaultNetwork
	}
	coin, chain, ok := ccpayment.ResolveCoin(ccpayment.DefaultCoins, coinSymbol, network)
	if !ok {
		return nil, apperror.Newf(apperror.ErrCodeValidation, "неподдерживаемая пара монета/сеть: %s/%s", coinSymbol, network)
	}

	deal, err := s.deals.Purchase(ctx, dealID, buyerID, meta)
	if err != nil {
		return nil, err
	}
	// свежий адрес в той же монете и сети выдаётся повторно
	if ref := deal.PaymentRef; ref != nil && ref.Address != "" &&
		s.validator.ValidateCurrency(ref.CoinName, coin.Symbol) &&
		s.validator.ValidateNetwork(ref.Network, chain) &&
		s.validator.IsRecent(ref.CreatedAt) {
		return deal, nil
	}

	addr, err := s.gateway.CreateDepositAddress(ctx, deal.ID.String(), coin.CoinID, deal.TotalPrice)
	if err != nil {
		return nil, err
	}

	coinName := addr.CoinName
	if coinName == "" {
		coinName = coin.Symbol
	}
	net := addr.Network
	if net == "" {
		net = chain
	}

	deal, _, err = s.deals.Apply(ctx, dealID, func(d *entity.Deal) (bool, error) {
		ref := entity.PaymentReference{
			Address:  addr.Address,
			Amount:   d.TotalPrice,
			CoinID:   coin.CoinID,
			CoinName: coinName,
			Network:  net,
		}
		if d.PaymentRef != nil {
			ref.CheckoutURL = d.PaymentRef.CheckoutURL
		}
		return true, d.AttachPayment(ref)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"deal_id": deal.ID,
		"user_id": buyerID,
		"coin":    coinName,
		"network": net,
	}).Info("deposit address created")
	return deal, nil
}

// CreateCheckout создаёт страницу оплаты, где покупатель сам выбирает монету.
func (s *PaymentService) CreateCheckout(ctx context.Context, dealID uuid.UUID, buyerID int64, meta models.RequestMeta) (*entity.Deal, error) {
	deal, err := s.deals.Purchase(ctx, dealID, buyerID, meta)
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, deal.ID.String(), deal.TotalPrice, s.urls.Return, s.urls.Cancel)
	if err != nil {
		return nil, err
	}

	deal, _, err = s.deals.Apply(ctx, dealID, func(d *entity.Deal) (bool, error) {
		ref := entity.PaymentReference{Amount: d.TotalPrice}
		if d.PaymentRef != nil {
			ref = *d.PaymentRef
		}
		ref.CheckoutURL = session.CheckoutURL
		return true, d.AttachPayment(ref)
	})
	return deal, err
}

// CheckStatus запрашивает статус депозита и подтверждает сделку при успехе.
func (s *PaymentService) CheckStatus(ctx context.Context, dealID uuid.UUID, actorID int64, isAdmin bool) (*PaymentStatus, error) {
	deal, err := s.deals.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && !deal.IsParty(actorID) {
		return nil, apperror.ErrNotParticipant
	}
	if deal.PaymentRef == nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "оплата по сделке ещё не создана")
	}

	record, err := s.gateway.GetDepositStatus(ctx, deal.ID.String())
	if err != nil {
		return nil, err
	}

	result := &PaymentStatus{Deal: deal, GatewayStatus: record.Status}
	switch record.Status {
	case ccpayment.DepositSuccess:
		updated, confirmed, err := s.deals.ConfirmPayment(ctx, deal.ID, record.TxID, record.Amount)
		if err != nil && !apperror.IsInvalidTransition(err) {
			return nil, err
		}
		if updated != nil {
			result.Deal = updated
		}
		result.Confirmed = confirmed
	case ccpayment.DepositFailed:
		s.deals.ReportPaymentFailure(ctx, deal, "платёжный шлюз сообщил об ошибке оплаты")
	}
	return result, nil
}

// Withdraw выплачивает продавцу цену сделки без комиссии.
func (s *PaymentService) Withdraw(ctx context.Context, dealID uuid.UUID, sellerID int64, address string) (*entity.Deal, *ccpayment.Withdrawal, error) {
	if err := validation.ValidateWalletAddress(address); err != nil {
		return nil, nil, invalidInput(err)
	}
	address = strings.TrimSpace(address)

	deal, err := s.deals.GetDeal(ctx, dealID)
	if err != nil {
		return nil, nil, err
	}
	if err := deal.CanWithdraw(sellerID); err != nil {
		return nil, nil, err
	}

	withdrawal, err := s.gateway.CreateWithdrawal(ctx, deal.PaymentRef.CoinID, deal.PaymentRef.Network, address, deal.Price, deal.ID.String()+"_withdrawal")
	if err != nil {
		return nil, nil, err
	}

	deal, _, err = s.deals.Apply(ctx, dealID, func(d *entity.Deal) (bool, error) {
		return true, d.RecordWithdrawal(sellerID, withdrawal.WithdrawalID)
	})
	if err != nil {
		s.log.WithField("deal_id", dealID).WithField("withdrawal_id", withdrawal.WithdrawalID).
			WithError(err).Error("withdrawal created but not recorded")
		return nil, nil, err
	}
	return deal, withdrawal, nil
}

// Coins список монет шлюза. При ошибке шлюза возвращается статическая таблица.
func (s *PaymentService) Coins(ctx context.Context) ([]ccpayment.Coin, error) {
	value, err := s.cache.GetOrSet(coinsCacheKey, coinsCacheTTL, func() (any, error) {
		return s.gateway.ListCoins(ctx)
	})
	if err != nil {
		s.log.WithError(err).Warn("coin list unavailable, using static table")
		return ccpayment.DefaultCoins, nil
	}
	coins, _ := value.([]ccpayment.Coin)
	if len(coins) == 0 {
		return ccpayment.DefaultCoins, nil
	}
	return coins, nil
}

// HandleWebhook проверяет подпись и применяет статус депозита к сделке.
func (s *PaymentService) HandleWebhook(ctx context.Context, body []byte, signature string, meta models.RequestMeta) (*WebhookResult, error) {
	// тело, которое не удалось разобрать, подписью не подтверждено
	payload, err := ccpayment.DecodeWebhook(body)
	if err != nil || !s.gateway.VerifyWebhookSignature(payload, signature) {
		description := "webhook с неверной подписью"
		if err != nil {
			description = "webhook с неразборчивым телом"
		}
		s.security.Record(ctx, SecurityEvent{
			EventType:   models.SecurityEventWebhookRejected,
			Description: description,
			Severity:    models.SeverityWarning,
			Meta:        meta,
			Data:        map[string]any{"order_id": ccpayment.OrderID(payload)},
		})
		return nil, apperror.ErrInvalidSignature
	}

	event, err := ccpayment.EventFromPayload(payload)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeBadRequest, "некорректное тело webhook")
	}

	if event.OrderID == "" {
		return nil, apperror.New(apperror.ErrCodeBadRequest, "order_id обязателен")
	}
	dealID, err := uuid.Parse(event.OrderID)
	if err != nil {
		return nil, apperror.ErrDealNotFound
	}
	deal, err := s.deals.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{"deal_id": deal.ID, "status": event.Status, "tx_id": event.TxID})
	result := &WebhookResult{DealID: deal.ID, Status: event.Status}

	switch event.Status {
	case ccpayment.DepositSuccess:
		_, confirmed, err := s.deals.ConfirmPayment(ctx, deal.ID, event.TxID, event.Amount)
		switch {
		case err == nil:
			result.Confirmed = confirmed
		case apperror.IsValidation(err), apperror.IsInvalidTransition(err):
			// шлюзу отвечаем успехом, иначе он будет повторять доставку
			result.Message = err.Error()
			log.WithError(err).Warn("webhook payment not applied")
		default:
			return nil, err
		}
	case ccpayment.DepositFailed:
		s.deals.ReportPaymentFailure(ctx, deal, "платёжный шлюз сообщил об ошибке оплаты")
	}

	log.Info("webhook processed")
	return result, nil
}
