package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-broker/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-broker/internal/service"
)

// MonitoringHandler состояние монитора платежей для администраторов.
type MonitoringHandler struct {
	monitor *service.PaymentMonitor
}

func NewMonitoringHandler(monitor *service.PaymentMonitor) *MonitoringHandler {
	return &MonitoringHandler{monitor: monitor}
}

// Stats GET /monitoring/stats
func (h *MonitoringHandler) Stats(c *gin.Context) {
	stats, err := h.monitor.Stats(c.Request.Context())
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// DealStatistics GET /monitoring/deals
func (h *MonitoringHandler) DealStatistics(c *gin.Context) {
	stats, err := h.monitor.DealStatistics(c.Request.Context())
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ForceCheck POST /monitoring/deals/:id/check
func (h *MonitoringHandler) ForceCheck(c *gin.Context) {
	dealID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, "invalid deal_id")
		return
	}

	confirmed, deal, err := h.monitor.ForceCheck(c.Request.Context(), dealID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"confirmed": confirmed, "deal": deal})
}
