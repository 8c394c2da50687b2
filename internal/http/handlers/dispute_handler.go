package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-broker/internal/dto"
	"github.com/ignatzorin/escrow-broker/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-broker/internal/models"
	"github.com/ignatzorin/escrow-broker/internal/service"
)

type DisputeHandler struct {
	svc           *service.DisputeService
	maxUploadSize int64
}

func NewDisputeHandler(s *service.DisputeService, maxUploadMB int64) *DisputeHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 10
	}
	return &DisputeHandler{svc: s, maxUploadSize: maxUploadMB << 20}
}

// CreateDispute POST /deals/:id/dispute
func (h *DisputeHandler) CreateDispute(c *gin.Context) {
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

	var req dto.CreateDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	dispute, err := h.svc.CreateDispute(c.Request.Context(), service.CreateDisputeInput{
		DealID:      dealID,
		ReporterID:  userID,
		Reason:      models.DisputeReason(req.Reason),
		Description: req.Description,
		Evidence:    req.Evidence,
		Priority:    models.DisputePriority(req.Priority),
	}, common.RequestMeta(c))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dispute)
}

// GetDispute GET /disputes/:id
func (h *DisputeHandler) GetDispute(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, "invalid dispute_id")
		return
	}

	dispute, err := h.svc.GetDispute(c.Request.Context(), disputeID, userID, common.IsAdmin(c))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

// AddEvidence POST /disputes/:id/evidence (multipart, поле file)
func (h *DisputeHandler) AddEvidence(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, "invalid dispute_id")
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+(1<<20))
	fileHeader, err := c.FormFile("file")
	if err != nil {
		common.RespondBadRequest(c, "файл не передан")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		common.RespondBadRequest(c, "не удалось открыть файл")
		return
	}
	defer file.Close()

	dispute, err := h.svc.AddEvidence(c.Request.Context(), disputeID, userID, fileHeader.Filename, file)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

// ListDisputes GET /disputes (admin)
func (h *DisputeHandler) ListDisputes(c *gin.Context) {
	limit, offset := common.GetPagination(c)
	disputes, err := h.svc.ListDisputes(c.Request.Context(), models.DisputeStatus(c.Query("status")), limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"disputes":   disputes,
		"pagination": dto.Pagination{Limit: limit, Offset: offset},
	})
}

// ResolveDispute POST /disputes/:id/resolve (admin)
func (h *DisputeHandler) ResolveDispute(c *gin.Context) {
	adminID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, "invalid dispute_id")
		return
	}

	var req dto.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	dispute, deal, err := h.svc.ResolveDispute(c.Request.Context(), service.ResolveDisputeInput{
		DisputeID:  disputeID,
		AdminID:    adminID,
		Resolution: req.Resolution,
		WinnerID:   req.WinnerID,
	}, common.RequestMeta(c))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": dispute, "deal": deal})
}

// UpdateStatus PUT /disputes/:id/status (admin)
func (h *DisputeHandler) UpdateStatus(c *gin.Context) {
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, "invalid dispute_id")
		return
	}

	var req dto.UpdateDisputeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	dispute, err := h.svc.UpdateStatus(c.Request.Context(), disputeID,
		models.DisputeStatus(req.Status), models.DisputePriority(req.Priority), req.AdminNotes)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

// Statistics GET /disputes/statistics (admin)
func (h *DisputeHandler) Statistics(c *gin.Context) {
	stats, err := h.svc.Statistics(c.Request.Context())
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Reasons GET /disputes/reasons
func (h *DisputeHandler) Reasons(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"reasons": h.svc.Reasons()})
}
