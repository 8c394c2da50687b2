package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-broker/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-broker/internal/gateway/ccpayment"
	"github.com/ignatzorin/escrow-broker/internal/models"
	"github.com/ignatzorin/escrow-broker/internal/pkg/apperror"
)

type paymentFixture struct {
	svc      *PaymentService
	deals    *memoryDeals
	gateway  *mockGateway
	security *recordingSecurity
	notifier *recordingNotifier
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := newMemoryDeals()
	dealSvc, notifier := newDealServiceForTest(store, nil)
	f := &paymentFixture{
		deals:    store,
		gateway:  new(mockGateway),
		security: &recordingSecurity{},
		notifier: notifier,
	}
	f.svc = NewPaymentService(dealSvc, f.gateway, f.security, NewCacheService(ctx), PaymentURLs{Return: "https://otc.example/ok"}, nullLogger())
	return f
}

func webhookBody(orderID, status, amount string) []byte {
	return []byte(`{"orderId":"` + orderID + `","status":"` + status + `","amount":"` + amount + `","txId":"0xfeed"}`)
}

func TestPaymentService_CreatePayment(t *testing.T) {
	f := newPaymentFixture(t)
	deal := newPendingDeal(f.deals)
	f.gateway.On("CreateDepositAddress", mock.Anything, deal.ID.String(), 1280, deal.TotalPrice).
		Return(&ccpayment.DepositAddress{Address: "0xdeposit", Amount: deal.TotalPrice}, nil).Once()

	got, err := f.svc.CreatePayment(context.Background(), deal.ID, testBuyer, "", "", models.RequestMeta{})
	require.NoError(t, err)
	require.NotNil(t, got.PaymentRef)
	assert.Equal(t, "0xdeposit", got.PaymentRef.Address)
	assert.Equal(t, "USDT", got.PaymentRef.CoinName)
	assert.Equal(t, "POLYGON", got.PaymentRef.Network)
	assert.True(t, got.PaymentRef.Amount.Equal(deal.TotalPrice))
	assert.Equal(t, testBuyer, *got.BuyerID)
	assert.Equal(t, valueobject.DealStatusPending, got.Status)

	// повторный запрос той же пары не создаёт новый адрес
	again, err := f.svc.CreatePayment(context.Background(), deal.ID, testBuyer, "usdt", "polygon", models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "0xdeposit", again.PaymentRef.Address)
	f.gateway.AssertNumberOfCalls(t, "CreateDepositAddress", 1)
}

func TestPaymentService_CreatePayment_UnsupportedCoin(t *testing.T) {
	f := newPaymentFixture(t)
	deal := newPendingDeal(f.deals)

	_, err := f.svc.CreatePayment(context.Background(), deal.ID, testBuyer, "DOGE", "DOGE", models.RequestMeta{})
	assert.True(t, apperror.IsValidation(err))
	f.gateway.AssertNotCalled(t, "CreateDepositAddress", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_CreatePayment_GatewayDown(t *testing.T) {
	f := newPaymentFixture(t)
	deal := newPendingDeal(f.deals)
	f.gateway.On("CreateDepositAddress", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, apperror.New(apperror.ErrCodeUpstream, "платёжный шлюз недоступен"))

	_, err := f.svc.CreatePayment(context.Background(), deal.ID, testBuyer, "", "", models.RequestMeta{})
	assert.Equal(t, apperror.ErrCodeUpstream, apperror.CodeOf(err))

	stored, _ := f.deals.get(deal.ID)
	assert.Nil(t, stored.PaymentRef)
}

func TestPaymentService_CreateCheckout(t *testing.T) {
	f := newPaymentFixture(t)
	deal := newPendingDeal(f.deals)
	f.gateway.On("CreateCheckoutSession", mock.Anything, deal.ID.String(), deal.TotalPrice, "https://otc.example/ok", "").
		Return(&ccpayment.CheckoutSession{CheckoutURL: "https://pay.example/c/1"}, nil)

	got, err := f.svc.CreateCheckout(context.Background(), deal.ID, testBuyer, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/c/1", got.PaymentRef.CheckoutURL)
}

func TestPaymentService_CheckStatus(t *testing.T) {
	f := newPaymentFixture(t)
	deal := withPayment(f.deals, newPendingDeal(f.deals))
	f.gateway.On("GetDepositStatus", mock.Anything, deal.ID.String()).
		Return(&ccpayment.DepositRecord{Status: ccpayment.DepositSuccess, Amount: deal.TotalPrice, TxID: "0xtx"}, nil)

	_, err := f.svc.CheckStatus(context.Background(), deal.ID, testOther, false)
	assert.ErrorIs(t, err, apperror.ErrNotParticipant)

	status, err := f.svc.CheckStatus(context.Background(), deal.ID, testBuyer, false)
	require.NoError(t, err)
	assert.True(t, status.Confirmed)
	assert.Equal(t, valueobject.DealStatusPaid, status.Deal.Status)

	status, err = f.svc.CheckStatus(context.Background(), deal.ID, testAdmin, true)
	require.NoError(t, err)
	assert.False(t, status.Confirmed)
	assert.Equal(t, 2, f.notifier.count(models.EventPaymentConfirmed))
}

func TestPaymentService_CheckStatus_Failed(t *testing.T) {
	f := newPaymentFixture(t)
	deal := withPayment(f.deals, newPendingDeal(f.deals))
	f.gateway.On("GetDepositStatus", mock.Anything, deal.ID.String()).
		Return(&ccpayment.DepositRecord{Status: ccpayment.DepositFailed}, nil)

	status, err := f.svc.CheckStatus(context.Background(), deal.ID, testBuyer, false)
	require.NoError(t, err)
	assert.False(t, status.Confirmed)
	assert.True(t, f.notifier.to(testBuyer, models.EventPaymentFailed))

	stored, _ := f.deals.get(deal.ID)
	assert.Equal(t, valueobject.DealStatusPending, stored.Status)
}

func TestPaymentService_CheckStatus_NoPayment(t *testing.T) {
	f := newPaymentFixture(t)
	deal := newPendingDeal(f.deals)

	_, err := f.svc.CheckStatus(context.Background(), deal.ID, testSeller, false)
	assert.True(t, apperror.IsValidation(err))
}

func TestPaymentService_HandleWebhook(t *testing.T) {
	f := newPaymentFixture(t)
	deal := withPayment(f.deals, newPendingDeal(f.deals))
	f.gateway.On("VerifyWebhookSignature", mock.Anything, "good").Return(true)

	result, err := f.svc.HandleWebhook(context.Background(), webhookBody(deal.ID.String(), "success", "105"), "good", models.RequestMeta{})
	require.NoError(t, err)
	assert.True(t, result.Confirmed)
	assert.Equal(t, deal.ID, result.DealID)

	stored, _ := f.deals.get(deal.ID)
	assert.Equal(t, valueobject.DealStatusPaid, stored.Status)
	assert.Equal(t, "0xfeed", stored.PaymentRef.TxID)

	// повторная доставка ничего не меняет
	result, err = f.svc.HandleWebhook(context.Background(), webhookBody(deal.ID.String(), "success", "105"), "good", models.RequestMeta{})
	require.NoError(t, err)
	assert.False(t, result.Confirmed)
	assert.Equal(t, 2, f.notifier.count(models.EventPaymentConfirmed))
}

func TestPaymentService_HandleWebhook_Rejections(t *testing.T) {
	f := newPaymentFixture(t)
	deal := withPayment(f.deals, newPendingDeal(f.deals))
	f.gateway.On("VerifyWebhookSignature", mock.Anything, "bad").Return(false)
	f.gateway.On("VerifyWebhookSignature", mock.Anything, "good").Return(true)

	_, err := f.svc.HandleWebhook(context.Background(), []byte("{broken"), "good", models.RequestMeta{})
	assert.ErrorIs(t, err, apperror.ErrInvalidSignature)
	assert.Contains(t, f.security.types(), models.SecurityEventWebhookRejected)

	// сумма разбирается только после проверки подписи
	_, err = f.svc.HandleWebhook(context.Background(), webhookBody(deal.ID.String(), "success", "abc"), "bad", models.RequestMeta{})
	assert.ErrorIs(t, err, apperror.ErrInvalidSignature)
	_, err = f.svc.HandleWebhook(context.Background(), webhookBody(deal.ID.String(), "success", "abc"), "good", models.RequestMeta{})
	assert.Equal(t, apperror.ErrCodeBadRequest, apperror.CodeOf(err))

	_, err = f.svc.HandleWebhook(context.Background(), webhookBody(deal.ID.String(), "success", "105"), "bad", models.RequestMeta{IPAddress: "6.6.6.6"})
	assert.ErrorIs(t, err, apperror.ErrInvalidSignature)
	assert.Contains(t, f.security.types(), models.SecurityEventWebhookRejected)

	_, err = f.svc.HandleWebhook(context.Background(), []byte(`{"status":"success"}`), "good", models.RequestMeta{})
	assert.Equal(t, apperror.ErrCodeBadRequest, apperror.CodeOf(err))

	_, err = f.svc.HandleWebhook(context.Background(), webhookBody("not-a-uuid", "success", "1"), "good", models.RequestMeta{})
	assert.ErrorIs(t, err, apperror.ErrDealNotFound)

	_, err = f.svc.HandleWebhook(context.Background(), webhookBody(uuid.NewString(), "success", "1"), "good", models.RequestMeta{})
	assert.ErrorIs(t, err, apperror.ErrDealNotFound)

	stored, _ := f.deals.get(deal.ID)
	assert.Equal(t, valueobject.DealStatusPending, stored.Status)
}

func TestPaymentService_HandleWebhook_UnderpaidAcknowledged(t *testing.T) {
	f := newPaymentFixture(t)
	deal := withPayment(f.deals, newPendingDeal(f.deals))
	f.gateway.On("VerifyWebhookSignature", mock.Anything, "good").Return(true)

	result, err := f.svc.HandleWebhook(context.Background(), webhookBody(deal.ID.String(), "success", "10"), "good", models.RequestMeta{})
	require.NoError(t, err)
	assert.False(t, result.Confirmed)
	assert.NotEmpty(t, result.Message)
	assert.True(t, f.notifier.to(testBuyer, models.EventPaymentFailed))
}

func TestPaymentService_Withdraw(t *testing.T) {
	f := newPaymentFixture(t)
	deal := withStatus(f.deals, withPayment(f.deals, newPendingDeal(f.deals)), valueobject.DealStatusCompleted)
	f.gateway.On("CreateWithdrawal", mock.Anything, 1280, "POLYGON", "0xseller", mock.MatchedBy(func(a decimal.Decimal) bool { return a.Equal(decimal.NewFromInt(100)) }), deal.ID.String()+"_withdrawal").
		Return(&ccpayment.Withdrawal{WithdrawalID: "w-1"}, nil).Once()

	_, _, err := f.svc.Withdraw(context.Background(), deal.ID, testBuyer, "0xseller")
	assert.True(t, apperror.IsForbidden(err))

	got, w, err := f.svc.Withdraw(context.Background(), deal.ID, testSeller, " 0xseller ")
	require.NoError(t, err)
	assert.Equal(t, "w-1", w.WithdrawalID)
	assert.Equal(t, "w-1", got.PaymentRef.WithdrawalID)

	_, _, err = f.svc.Withdraw(context.Background(), deal.ID, testSeller, "0xseller")
	assert.True(t, apperror.IsValidation(err))
	f.gateway.AssertNumberOfCalls(t, "CreateWithdrawal", 1)
}

func TestPaymentService_Coins(t *testing.T) {
	f := newPaymentFixture(t)
	remote := []ccpayment.Coin{{CoinID: 1280, Symbol: "USDT", Networks: []string{"TRX"}}}
	f.gateway.On("ListCoins", mock.Anything).Return(remote, nil).Once()

	coins, err := f.svc.Coins(context.Background())
	require.NoError(t, err)
	assert.Equal(t, remote, coins)

	// второй вызов из кэша
	coins, err = f.svc.Coins(context.Background())
	require.NoError(t, err)
	assert.Equal(t, remote, coins)
	f.gateway.AssertNumberOfCalls(t, "ListCoins", 1)
}

func TestPaymentService_Coins_Fallback(t *testing.T) {
	f := newPaymentFixture(t)
	f.gateway.On("ListCoins", mock.Anything).Return(nil, errors.New("timeout"))

	coins, err := f.svc.Coins(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ccpayment.DefaultCoins, coins)
}
