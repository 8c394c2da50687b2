package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-broker/internal/dto"
	"github.com/ignatzorin/escrow-broker/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-broker/internal/service"
)

// SignatureHeader заголовок с подписью webhook шлюза.
const SignatureHeader = "X-CC-Signature"

const maxWebhookBody = 64 << 10

// PaymentHandler оплата сделки, webhook шлюза и выплата продавцу.
type PaymentHandler struct {
	payments *service.PaymentService
}

// NewPaymentHandler создаёт обработчик платежей.
func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// CreatePayment POST /deals/:id/payment
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	dealID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, "invalid deal_id")
		return
	}

	var req dto.CreatePaymentRequest
	if c.Request.ContentLength > 0 {
		if err := common.BindAndValidate(c, &req); err != nil {
			common.RespondBadRequest(c, err.Error())
			return
		}
	}

	deal, err := h.payments.CreatePayment(c.Request.Context(), dealID, userID, req.Coin, req.Network, common.RequestMeta(c))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, deal)
}

// CreateCheckout POST /deals/:id/checkout
func (h *PaymentHandler) CreateCheckout(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	dealID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, "invalid deal_id")
		return
	}

	deal, err := h.payments.CreateCheckout(c.Request.Context(), dealID, userID, common.RequestMeta(c))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, deal)
}

// PaymentStatus GET /deals/:id/payment/status
func (h *PaymentHandler) PaymentStatus(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	dealID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, "invalid deal_id")
		return
	}

	status, err := h.payments.CheckStatus(c.Request.Context(), dealID, userID, common.IsAdmin(c))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Withdraw POST /deals/:id/withdraw
func (h *PaymentHandler) Withdraw(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	dealID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, "invalid deal_id")
		return
	}

	var req dto.WithdrawRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	deal, withdrawal, err := h.payments.Withdraw(c.Request.Context(), dealID, userID, req.Address)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deal": deal, "withdrawal": withdrawal})
}

// Coins GET /payments/coins
func (h *PaymentHandler) Coins(c *gin.Context) {
	coins, err := h.payments.Coins(c.Request.Context())
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coins": coins})
}

// Webhook POST /payments/webhook. Авторизация только подписью шлюза.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		common.RespondBadRequest(c, "не удалось прочитать тело запроса")
		return
	}

	result, err := h.payments.HandleWebhook(c.Request.Context(), body, c.GetHeader(SignatureHeader), common.RequestMeta(c))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
