package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-broker/internal/domain/entity"
	"github.com/ignatzorin/escrow-broker/internal/dto"
	"github.com/ignatzorin/escrow-broker/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-broker/internal/models"
	"github.com/ignatzorin/escrow-broker/internal/service"
)

// DealHandler эндпоинты жизненного цикла сделки.
type DealHandler struct {
	deals *service.DealService
}

// NewDealHandler создаёт обработчик сделок.
func NewDealHandler(deals *service.DealService) *DealHandler {
	return &DealHandler{deals: deals}
}

// CreateDeal POST /deals
func (h *DealHandler) CreateDeal(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.CreateDealRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	deal, err := h.deals.CreateDeal(c.Request.Context(), userID, service.CreateDealInput{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Price:       req.Price,
		MediaFiles:  req.MediaFiles,
	}, common.RequestMeta(c))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, deal)
}

// ListDeals GET /deals
func (h *DealHandler) ListDeals(c *gin.Context) {
	limit, offset := common.GetPagination(c)
	filter := models.DealFilter{
		Status:   c.Query("status"),
		SellerID: common.ParseInt64Query(c, "seller_id"),
		BuyerID:  common.ParseInt64Query(c, "buyer_id"),
		Limit:    limit,
		Offset:   offset,
	}
	if v := c.Query("created_before"); v != "" {
		before, err := time.Parse(time.RFC3339, v)
		if err != nil {
			common.RespondBadRequest(c, "created_before должен быть в формате RFC3339")
			return
		}
		filter.CreatedBefore = &before
	}

	deals, err := h.deals.ListDeals(c.Request.Context(), filter)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.DealListResponse{
		Deals:      deals,
		Pagination: dto.Pagination{Limit: limit, Offset: offset},
	})
}

// MyDeals GET /deals/my
func (h *DealHandler) MyDeals(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	deals, err := h.deals.MyDeals(c.Request.Context(), userID, c.Query("status"), limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.DealListResponse{
		Deals:      deals,
		Pagination: dto.Pagination{Limit: limit, Offset: offset},
	})
}

// GetDeal GET /deals/:id
func (h *DealHandler) GetDeal(c *gin.Context) {
	dealID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, "invalid deal_id")
		return
	}

	deal, err := h.deals.GetDeal(c.Request.Context(), dealID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, deal)
}

// UpdatePrice PUT /deals/:id/price
func (h *DealHandler) UpdatePrice(c *gin.Context) {
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

	var req dto.UpdatePriceRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	deal, err := h.deals.UpdatePrice(c.Request.Context(), dealID, userID, req.Price)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, deal)
}

// Purchase POST /deals/:id/purchase
func (h *DealHandler) Purchase(c *gin.Context) {
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

	deal, err := h.deals.Purchase(c.Request.Context(), dealID, userID, common.RequestMeta(c))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, deal)
}

// ConfirmDelivery POST /deals/:id/confirm-delivery
func (h *DealHandler) ConfirmDelivery(c *gin.Context) {
	h.transition(c, h.deals.ConfirmDelivery)
}

// ReleaseFunds POST /deals/:id/release
func (h *DealHandler) ReleaseFunds(c *gin.Context) {
	h.transition(c, h.deals.ReleaseFunds)
}

// Cancel POST /deals/:id/cancel
func (h *DealHandler) Cancel(c *gin.Context) {
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

	deal, err := h.deals.Cancel(c.Request.Context(), dealID, userID, common.IsAdmin(c))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, deal)
}

func (h *DealHandler) transition(c *gin.Context, apply func(ctx context.Context, id uuid.UUID, actorID int64) (*entity.Deal, error)) {
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

	deal, err := apply(c.Request.Context(), dealID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, deal)
}
