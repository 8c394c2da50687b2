package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-broker/internal/dto"
	"github.com/ignatzorin/escrow-broker/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-broker/internal/models"
	"github.com/ignatzorin/escrow-broker/internal/service"
)

// TrustHandler оценки, блокировки и журнал безопасности.
type TrustHandler struct {
	trust *service.TrustService
}

// NewTrustHandler создаёт обработчик.
func NewTrustHandler(trust *service.TrustService) *TrustHandler {
	return &TrustHandler{trust: trust}
}

// RateUser POST /deals/:id/ratings
func (h *TrustHandler) RateUser(c *gin.Context) {
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

	var req dto.RateUserRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	rating, err := h.trust.AddRating(c.Request.Context(), service.RatingInput{
		DealID:  dealID,
		RaterID: userID,
		RatedID: req.RatedID,
		Rating:  req.Rating,
		Comment: req.Comment,
	}, common.RequestMeta(c))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rating)
}

// UserRatings GET /users/:id/ratings
func (h *TrustHandler) UserRatings(c *gin.Context) {
	userID, err := common.ParseInt64Param(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	summary, err := h.trust.RatingSummary(c.Request.Context(), userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// BanUser POST /users/:id/ban (admin)
func (h *TrustHandler) BanUser(c *gin.Context) {
	adminID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	userID, err := common.ParseInt64Param(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.BanUserRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	ban, err := h.trust.BanUser(c.Request.Context(), service.BanInput{
		UserID:        userID,
		AdminID:       adminID,
		Reason:        req.Reason,
		Type:          models.BanType(req.BanType),
		DurationHours: req.DurationHours,
	}, common.RequestMeta(c))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ban)
}

// LiftBan POST /bans/:id/lift (admin)
func (h *TrustHandler) LiftBan(c *gin.Context) {
	adminID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	banID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, "invalid ban_id")
		return
	}

	var req dto.LiftBanRequest
	if c.Request.ContentLength > 0 {
		if err := common.BindAndValidate(c, &req); err != nil {
			common.RespondBadRequest(c, err.Error())
			return
		}
	}

	ban, err := h.trust.LiftBan(c.Request.Context(), banID, adminID, req.Reason, common.RequestMeta(c))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, ban)
}

// BanStatus GET /users/:id/ban-status
func (h *TrustHandler) BanStatus(c *gin.Context) {
	userID, err := common.ParseInt64Param(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	status, err := h.trust.IsUserBanned(c.Request.Context(), userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// SuspiciousActivity GET /users/:id/suspicious-activity (admin)
func (h *TrustHandler) SuspiciousActivity(c *gin.Context) {
	userID, err := common.ParseInt64Param(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	report, err := h.trust.DetectSuspiciousActivity(c.Request.Context(), userID, common.RequestMeta(c))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// SecurityLogs GET /security/logs (admin)
func (h *TrustHandler) SecurityLogs(c *gin.Context) {
	limit, offset := common.GetPagination(c)
	filter := models.SecurityLogFilter{
		Severity:  models.Severity(c.Query("severity")),
		EventType: c.Query("event_type"),
		UserID:    common.ParseInt64Query(c, "user_id"),
		Limit:     limit,
		Offset:    offset,
	}

	logs, err := h.trust.ListSecurityLogs(c.Request.Context(), filter)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"logs":       logs,
		"pagination": dto.Pagination{Limit: filter.Limit, Offset: filter.Offset},
	})
}
